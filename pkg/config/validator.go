package config

import (
	"fmt"
	"os"
	"regexp"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: teams → MCP servers → LLM providers → sections.
	// This ensures dependencies are validated before dependents.

	if err := v.validateTeams(); err != nil {
		return fmt.Errorf("team validation failed: %w", err)
	}

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateGateway(); err != nil {
		return fmt.Errorf("gateway validation failed: %w", err)
	}

	if err := v.validateMCPRuntime(); err != nil {
		return fmt.Errorf("mcp validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateTeams() error {
	for id, team := range v.cfg.TeamRegistry.GetAll() {
		if team.ID != id {
			return NewValidationError("team", id, "team_id", fmt.Errorf("must match registry key, got %q", team.ID))
		}
		if err := team.Validate(); err != nil {
			return NewValidationError("team", id, "", err)
		}
	}
	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	builtin := GetBuiltinConfig()

	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		// Validate transport type
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("invalid transport type: %s", server.Transport.Type))
		}

		// Validate transport-specific fields
		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("command required for stdio transport"))
			}

		case TransportTypeHTTP:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("url required for http transport"))
			}
		}

		// Validate data masking configuration
		if server.DataMasking != nil && server.DataMasking.Enabled {
			// Validate pattern groups reference built-in patterns
			for _, groupName := range server.DataMasking.PatternGroups {
				if _, exists := builtin.PatternGroups[groupName]; !exists {
					return NewValidationError("mcp_server", serverID, "data_masking.pattern_groups", fmt.Errorf("pattern group '%s' not found", groupName))
				}
			}

			// Validate individual patterns reference built-in patterns
			for _, patternName := range server.DataMasking.Patterns {
				if _, exists := builtin.MaskingPatterns[patternName]; !exists {
					return NewValidationError("mcp_server", serverID, "data_masking.patterns", fmt.Errorf("pattern '%s' not found", patternName))
				}
			}

			// Validate custom patterns have required fields and compile
			for i, pattern := range server.DataMasking.CustomPatterns {
				if pattern.Pattern == "" {
					return NewValidationError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].pattern", i), fmt.Errorf("pattern required"))
				}
				if pattern.Replacement == "" {
					return NewValidationError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].replacement", i), fmt.Errorf("replacement required"))
				}
				if _, err := regexp.Compile(pattern.Pattern); err != nil {
					return NewValidationError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].pattern", i), fmt.Errorf("does not compile: %v", err))
				}
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		// Validate provider type
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		// Validate model is not empty
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		// Validate max tool result tokens
		if provider.MaxToolResultTokens != 0 && provider.MaxToolResultTokens < 1000 {
			return NewValidationError("llm_provider", name, "max_tool_result_tokens", fmt.Errorf("must be at least 1000"))
		}

		// API keys are resolved by the LLM service, not this process; only the
		// env var NAME is checked here.
	}

	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults

	if d.PerStepTurnCap < 1 {
		return NewValidationError("defaults", "defaults", "per_step_turn_cap", fmt.Errorf("must be at least 1"))
	}
	if d.PlannerMaxSteps < 1 {
		return NewValidationError("defaults", "defaults", "planner_max_steps", fmt.Errorf("must be at least 1"))
	}
	if d.PriorSummaryMaxChars < 1 {
		return NewValidationError("defaults", "defaults", "prior_summary_max_chars", fmt.Errorf("must be at least 1"))
	}
	if d.MaxClarificationsPerStep < 1 {
		return NewValidationError("defaults", "defaults", "max_clarifications_per_step", fmt.Errorf("must be at least 1"))
	}
	if d.ToolCallTimeoutSeconds < 1 || d.AgentTurnTimeoutSeconds < 1 || d.StepTimeoutSeconds < 1 ||
		d.PlanDeadlineSeconds < 1 || d.CancelHardDeadlineSeconds < 1 {
		return NewValidationError("defaults", "defaults", "timeouts", fmt.Errorf("all timeouts must be positive"))
	}
	if d.PersistenceConflictRetries < 1 {
		return NewValidationError("defaults", "defaults", "persistence_conflict_retries", fmt.Errorf("must be at least 1"))
	}
	if d.ContextTokenBudget < 1000 {
		return NewValidationError("defaults", "defaults", "context_token_budget", fmt.Errorf("must be at least 1000"))
	}
	if d.KeptToolResults < 1 {
		return NewValidationError("defaults", "defaults", "kept_tool_results", fmt.Errorf("must be at least 1"))
	}
	if d.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(d.LLMProvider) {
		return NewValidationError("defaults", "defaults", "llm_provider", fmt.Errorf("LLM provider '%s' not found", d.LLMProvider))
	}

	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue

	if q.WorkerCount < 1 {
		return NewValidationError("queue", "queue", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if q.MaxConcurrentPlans < 1 {
		return NewValidationError("queue", "queue", "max_concurrent_plans", fmt.Errorf("must be at least 1"))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "queue", "poll_interval", fmt.Errorf("must be positive"))
	}
	if q.HeartbeatInterval <= 0 {
		return NewValidationError("queue", "queue", "heartbeat_interval", fmt.Errorf("must be positive"))
	}
	if q.OrphanThreshold <= q.HeartbeatInterval {
		return NewValidationError("queue", "queue", "orphan_threshold", fmt.Errorf("must exceed heartbeat_interval or healthy workers lose their claims"))
	}
	if q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "queue", "graceful_shutdown_timeout", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateGateway() error {
	g := v.cfg.Gateway

	if g.ListenAddr == "" {
		return NewValidationError("gateway", "gateway", "listen_addr", fmt.Errorf("listen address required"))
	}
	if g.EventSubscriberLagThreshold < 1 {
		return NewValidationError("gateway", "gateway", "event_subscriber_lag_threshold", fmt.Errorf("must be at least 1"))
	}
	if g.HeartbeatInterval <= 0 {
		return NewValidationError("gateway", "gateway", "heartbeat_interval", fmt.Errorf("must be positive"))
	}
	if g.CatchupLimit < 1 {
		return NewValidationError("gateway", "gateway", "catchup_limit", fmt.Errorf("must be at least 1"))
	}
	if g.WriteTimeout <= 0 {
		return NewValidationError("gateway", "gateway", "write_timeout", fmt.Errorf("must be positive"))
	}
	if g.MaxUploadBytes < 1 {
		return NewValidationError("gateway", "gateway", "max_upload_bytes", fmt.Errorf("must be at least 1"))
	}
	if g.AuthOn() {
		if g.JWTSecretEnv == "" {
			return NewValidationError("gateway", "gateway", "jwt_secret_env", fmt.Errorf("required when auth is enabled"))
		}
		if os.Getenv(g.JWTSecretEnv) == "" {
			return NewValidationError("gateway", "gateway", "jwt_secret_env", fmt.Errorf("environment variable %s is not set", g.JWTSecretEnv))
		}
	}

	return nil
}

func (v *ConfigValidator) validateMCPRuntime() error {
	m := v.cfg.MCP

	if m.MaxInflight < 1 {
		return NewValidationError("mcp", "mcp", "max_inflight", fmt.Errorf("must be at least 1"))
	}
	if m.MaxAttempts < 1 {
		return NewValidationError("mcp", "mcp", "max_attempts", fmt.Errorf("must be at least 1"))
	}
	if m.DiscoveryTTL <= 0 {
		return NewValidationError("mcp", "mcp", "discovery_ttl", fmt.Errorf("must be positive"))
	}

	return nil
}
