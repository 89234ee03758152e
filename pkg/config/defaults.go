package config

import "time"

// Defaults contains system-wide default configurations for plan execution.
// These values are used when specific components don't specify their own values.
type Defaults struct {
	// LLM provider default for all agents
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// PerStepTurnCap is the maximum agent turns per step before the step
	// fails with a turn-cap error.
	PerStepTurnCap int `yaml:"per_step_turn_cap,omitempty"`

	// PlannerMaxSteps is the maximum number of steps a planner may propose.
	PlannerMaxSteps int `yaml:"planner_max_steps,omitempty"`

	// PriorSummaryMaxChars bounds the summary of earlier plan results that is
	// fed to the planner when a session already ran plans.
	PriorSummaryMaxChars int `yaml:"prior_summary_max_chars,omitempty"`

	// MaxClarificationsPerStep is how many times a single step may ask the
	// user for clarification before it fails as a clarification loop.
	MaxClarificationsPerStep int `yaml:"max_clarifications_per_step,omitempty"`

	// Timeouts, expressed in seconds to match the wire/config surface.
	ToolCallTimeoutSeconds    int `yaml:"tool_call_timeout_seconds,omitempty"`
	AgentTurnTimeoutSeconds   int `yaml:"agent_turn_timeout_seconds,omitempty"`
	StepTimeoutSeconds        int `yaml:"step_timeout_seconds,omitempty"`
	PlanDeadlineSeconds       int `yaml:"plan_deadline_seconds,omitempty"`
	CancelHardDeadlineSeconds int `yaml:"cancel_hard_deadline_seconds,omitempty"`

	// PersistenceConflictRetries is how many optimistic-concurrency attempts
	// a guarded patch makes before giving up with a conflict error.
	PersistenceConflictRetries int `yaml:"persistence_conflict_retries,omitempty"`

	// ContextTokenBudget bounds the token size of the prompt window an agent
	// turn is allowed to carry; older turns are trimmed and summarized.
	ContextTokenBudget int `yaml:"context_token_budget,omitempty"`

	// KeptToolResults is how many recent tool results survive window
	// trimming verbatim.
	KeptToolResults int `yaml:"kept_tool_results,omitempty"`

	// User request masking configuration
	RequestMasking *RequestMaskingDefaults `yaml:"request_masking,omitempty"`
}

// RequestMaskingDefaults holds user request masking settings.
// Applied system-wide to request text before storage and prompting.
type RequestMaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}

// DefaultDefaults returns the built-in execution defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		LLMProvider:                "google-default",
		PerStepTurnCap:             12,
		PlannerMaxSteps:            20,
		PriorSummaryMaxChars:       500,
		MaxClarificationsPerStep:   2,
		ToolCallTimeoutSeconds:     60,
		AgentTurnTimeoutSeconds:    120,
		StepTimeoutSeconds:         600,
		PlanDeadlineSeconds:        3600,
		CancelHardDeadlineSeconds:  30,
		PersistenceConflictRetries: 5,
		ContextTokenBudget:         32000,
		KeptToolResults:            6,
		RequestMasking: &RequestMaskingDefaults{
			Enabled:      true,
			PatternGroup: "security",
		},
	}
}

// ToolCallTimeout returns the per-tool-invocation timeout.
func (d *Defaults) ToolCallTimeout() time.Duration {
	return time.Duration(d.ToolCallTimeoutSeconds) * time.Second
}

// AgentTurnTimeout returns the per-LLM-turn timeout.
func (d *Defaults) AgentTurnTimeout() time.Duration {
	return time.Duration(d.AgentTurnTimeoutSeconds) * time.Second
}

// StepTimeout returns the per-step wall clock limit.
func (d *Defaults) StepTimeout() time.Duration {
	return time.Duration(d.StepTimeoutSeconds) * time.Second
}

// PlanDeadline returns the whole-plan wall clock limit.
func (d *Defaults) PlanDeadline() time.Duration {
	return time.Duration(d.PlanDeadlineSeconds) * time.Second
}

// CancelHardDeadline returns how long a cancelled plan may keep running
// before its context is forcibly cancelled.
func (d *Defaults) CancelHardDeadline() time.Duration {
	return time.Duration(d.CancelHardDeadlineSeconds) * time.Second
}
