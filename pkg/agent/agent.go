// Package agent provides the turn runtime for plan execution. An Agent is
// instantiated per (agent spec, plan) pairing and drives one conversation
// window against the LLM service; the step loop in the orchestrator owns
// everything around it (tool execution, persistence, events).
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/models"
)

// StreamPublisher re-emits model text deltas as transient StreamDelta
// events. Implemented by events.EventPublisher; defined here so the agent
// depends on one method, not the whole publisher.
type StreamPublisher interface {
	PublishStreamDelta(ctx context.Context, sessionID, planID, stepID string, payload events.StreamDeltaPayload) error
}

// PromptBuilder renders prompt text for the turn runtime. Implemented by
// prompt.Builder; defined as an interface here to avoid an agent↔prompt
// import cycle.
type PromptBuilder interface {
	BuildStepMessages(seed StepSeed) []ConversationMessage
	BuildPlannerMessages(in PlannerInput) []ConversationMessage
	BuildPlannerRetryPrompt(parseErr string) string
	BuildWindowSummarySystemPrompt() string
	BuildWindowSummaryUserPrompt(transcript string) string
	BuildExecutiveSummarySystemPrompt() string
	BuildExecutiveSummaryUserPrompt(userRequest, lastOutput string) string
}

// StepSeed carries everything the prompt builder needs to open a step
// conversation.
type StepSeed struct {
	SystemPrompt string
	UserRequest  string
	// Facts is the plan's facts preamble, free text from the planner.
	Facts string
	// Datasets is non-empty only on the first step this agent executes
	// within the plan; later steps rely on the handles already being in
	// prior-step outputs or the facts.
	Datasets []models.DatasetHandle
	// PriorSteps summarizes every already-settled step of this plan.
	PriorSteps []StepOutcome
	Step       models.Step
	TotalSteps int
	// ToolCapable is set by BeginStep from the agent spec; the prompt
	// builder keys tool guidance off it.
	ToolCapable bool
}

// StepOutcome is a settled step as shown to later steps.
type StepOutcome struct {
	Ordinal   int
	AgentName string
	Action    string
	Status    models.StepStatus
	Output    string
}

// PlannerInput carries the planning request.
type PlannerInput struct {
	SystemPrompt string
	UserRequest  string
	// PriorResult is the ≤500-char summary of the session's latest terminal
	// plan, empty for a fresh session.
	PriorResult string
	Datasets    []models.DatasetHandle
	// Roster lists the team's agents so the planner only assigns work to
	// agents that exist.
	Roster   []models.AgentSpec
	MaxSteps int
}

// ToolExchange is a committed call replayed into the window on resumption.
type ToolExchange struct {
	Call   ToolCall
	Result string
}

// Params configures an Agent.
type Params struct {
	Spec      models.AgentSpec
	PlanID    string
	SessionID string
	LLM       LLMClient
	// Executor is the agent's allow-list-scoped tool view. nil for agents
	// that are not tool capable.
	Executor  ToolExecutor
	Provider  *config.LLMProviderConfig
	Defaults  *config.Defaults
	Prompts   PromptBuilder
	Publisher StreamPublisher // optional; nil disables StreamDelta emission
	Logger    *slog.Logger    // optional
}

// Agent drives one conversation window for one plan. Not safe for
// concurrent use: each executing plan runs on a single goroutine.
type Agent struct {
	spec      models.AgentSpec
	planID    string
	sessionID string
	stepID    string

	llm       LLMClient
	executor  ToolExecutor
	provider  *config.LLMProviderConfig
	defaults  *config.Defaults
	prompts   PromptBuilder
	publisher StreamPublisher
	logger    *slog.Logger

	window *Window
	tools  []ToolDefinition
	usage  TokenUsage
}

// New creates an agent for one (spec, plan) pairing.
func New(p Params) (*Agent, error) {
	if p.LLM == nil {
		return nil, fmt.Errorf("agent %q: LLM client is required", p.Spec.Name)
	}
	if p.Provider == nil {
		return nil, fmt.Errorf("agent %q: LLM provider config is required", p.Spec.Name)
	}
	if p.Defaults == nil {
		return nil, fmt.Errorf("agent %q: defaults are required", p.Spec.Name)
	}
	if p.Prompts == nil {
		return nil, fmt.Errorf("agent %q: prompt builder is required", p.Spec.Name)
	}
	if p.Spec.ToolCapable && p.Executor == nil {
		return nil, fmt.Errorf("agent %q is tool capable but has no tool executor", p.Spec.Name)
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		spec:      p.Spec,
		planID:    p.PlanID,
		sessionID: p.SessionID,
		llm:       p.LLM,
		executor:  p.Executor,
		provider:  p.Provider,
		defaults:  p.Defaults,
		prompts:   p.Prompts,
		publisher: p.Publisher,
		logger:    logger.With("component", "agent", "agent", p.Spec.Name, "plan_id", p.PlanID),
	}, nil
}

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.spec.Name }

// Usage returns accumulated token usage across all turns so far.
func (a *Agent) Usage() TokenUsage { return a.usage }

// Close releases the agent's tool executor, if any. The LLM client and
// prompt builder are shared and stay open.
func (a *Agent) Close() error {
	if a.executor == nil {
		return nil
	}
	return a.executor.Close()
}

// BeginStep opens a fresh window for a step: the system prompt, the step's
// context block, and the allow-list-filtered tool view (plus the
// clarification pseudo-tool for tool-capable agents).
func (a *Agent) BeginStep(ctx context.Context, seed StepSeed) error {
	a.stepID = seed.Step.ID
	a.window = NewWindow(a.provider.Model, a.defaults.ContextTokenBudget, a.defaults.KeptToolResults)
	a.tools = nil
	seed.ToolCapable = a.spec.ToolCapable

	if a.spec.ToolCapable {
		defs, err := a.executor.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("list tools for agent %q: %w", a.spec.Name, err)
		}
		a.tools = append(defs, ClarificationToolDefinition())
	}

	a.window.Append(a.prompts.BuildStepMessages(seed)...)
	return nil
}

// Turn runs one exchange with the model: trim the window if needed, stream
// one response, and classify it. Returns an error only for context
// cancellation; model-level failures come back as *Failed so the step loop
// can map them to a structured error kind.
func (a *Agent) Turn(ctx context.Context) (TurnResult, error) {
	if a.window == nil {
		return nil, fmt.Errorf("agent %q: Turn called before BeginStep", a.spec.Name)
	}

	if a.window.NeedsTrim() {
		a.logger.Info("Conversation window over budget, compacting",
			"tokens", a.window.TokenCount(), "messages", a.window.Len())
		a.window.Trim(ctx, a.summarizeTranscript)
	}

	resp, err := a.generate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Failed{Kind: models.StepErrorAgent, Message: err.Error()}, nil
	}
	a.usage.Add(resp.Usage)

	// Empty non-tool responses get one nudge before giving up; transient
	// model hiccups should not fail a whole step.
	if len(resp.ToolCalls) == 0 && strings.TrimSpace(resp.Text) == "" {
		a.logger.Warn("Model returned an empty response, retrying once")
		a.window.Append(ConversationMessage{
			Role:    RoleUser,
			Content: "Your previous response was empty. Continue with the task: either call a tool or state your result.",
		})
		resp, err = a.generate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &Failed{Kind: models.StepErrorAgent, Message: err.Error()}, nil
		}
		a.usage.Add(resp.Usage)
		if len(resp.ToolCalls) == 0 && strings.TrimSpace(resp.Text) == "" {
			return &Failed{Kind: models.StepErrorAgent, Message: "model returned an empty response twice"}, nil
		}
	}

	if len(resp.ToolCalls) > 0 {
		// Clarification wins over any sibling calls: parking mid-fan-out
		// would leave half-executed side effects behind the user's back.
		for _, call := range resp.ToolCalls {
			if !IsClarificationCall(call) {
				continue
			}
			question, qErr := ParseClarificationQuestion(call)
			if qErr != nil {
				return &Failed{Kind: models.StepErrorAgent, Message: qErr.Error()}, nil
			}
			if len(resp.ToolCalls) > 1 {
				a.logger.Warn("Clarification requested alongside other tool calls, discarding siblings",
					"discarded", len(resp.ToolCalls)-1)
			}
			a.window.Append(ConversationMessage{
				Role:      RoleAssistant,
				Content:   resp.Text,
				ToolCalls: []ToolCall{call},
			})
			return &ClarificationRequested{CallID: call.ID, Question: question}, nil
		}

		a.window.Append(ConversationMessage{
			Role:      RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		return &ToolCallRequested{Calls: resp.ToolCalls}, nil
	}

	a.window.Append(ConversationMessage{Role: RoleAssistant, Content: resp.Text})
	return &Final{Text: resp.Text}, nil
}

// ExecuteTool runs one call through the agent's allow-list-scoped executor.
// The step loop owns fan-out and timeouts; this is just the scoped handle.
func (a *Agent) ExecuteTool(ctx context.Context, call ToolCall) (*ToolResult, error) {
	if a.executor == nil {
		return nil, fmt.Errorf("agent %q has no tool executor", a.spec.Name)
	}
	return a.executor.Execute(ctx, call)
}

// AddToolResults feeds executed tool results back into the window. Call
// order must match the requesting turn's ToolCallRequested.Calls.
func (a *Agent) AddToolResults(results []*ToolResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		a.window.Append(ConversationMessage{
			Role:       RoleTool,
			Content:    r.Content,
			ToolCallID: r.CallID,
			ToolName:   r.Name,
		})
	}
}

// AddClarificationAnswer resumes a parked clarification: the user's answer
// becomes the pseudo-tool's result.
func (a *Agent) AddClarificationAnswer(callID, answer string) {
	a.window.Append(ConversationMessage{
		Role:       RoleTool,
		Content:    answer,
		ToolCallID: callID,
		ToolName:   ClarificationToolName,
	})
}

// ReplayToolResults injects previously committed tool exchanges into the
// window without invoking anything. Used on resumption so the next turn
// sees the conversation an uninterrupted run would have.
func (a *Agent) ReplayToolResults(exchanges []ToolExchange) {
	for _, ex := range exchanges {
		a.window.Append(
			ConversationMessage{
				Role:      RoleAssistant,
				ToolCalls: []ToolCall{ex.Call},
			},
			ConversationMessage{
				Role:       RoleTool,
				Content:    ex.Result,
				ToolCallID: ex.Call.ID,
				ToolName:   ex.Call.Name,
			},
		)
	}
}

// generate performs one streaming LLM call over the current window.
func (a *Agent) generate(ctx context.Context) (*TurnResponse, error) {
	input := &GenerateInput{
		PlanID:   a.planID,
		StepID:   a.stepID,
		Messages: a.window.Messages(),
		Config:   a.provider,
		Tools:    a.tools,
	}
	return callLLM(ctx, a.llm, input, a.streamCallback(ctx))
}

// streamCallback publishes text deltas as StreamDelta events. Failures are
// logged and swallowed: stream frames are transient by contract.
func (a *Agent) streamCallback(ctx context.Context) StreamCallback {
	if a.publisher == nil {
		return nil
	}
	return func(delta string) {
		err := a.publisher.PublishStreamDelta(ctx, a.sessionID, a.planID, a.stepID, events.StreamDeltaPayload{
			AgentName: a.spec.Name,
			Delta:     delta,
		})
		if err != nil {
			a.logger.Debug("Failed to publish stream delta", "error", err)
		}
	}
}

// summarizeTranscript condenses dropped window content via the LLM. Errors
// propagate to Window.Trim, which falls open to mechanical truncation.
func (a *Agent) summarizeTranscript(ctx context.Context, transcript string) (string, error) {
	msgs := []ConversationMessage{
		{Role: RoleSystem, Content: a.prompts.BuildWindowSummarySystemPrompt()},
		{Role: RoleUser, Content: a.prompts.BuildWindowSummaryUserPrompt(transcript)},
	}
	resp, err := callLLM(ctx, a.llm, &GenerateInput{
		PlanID:   a.planID,
		StepID:   a.stepID,
		Messages: msgs,
		Config:   a.provider,
	}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
