package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/models"
)

// ExecutorFactory builds an allow-list-scoped tool view for one agent.
// Implemented by mcp.ClientFactory; interface avoids an agent↔mcp import
// cycle. The returned executor owns live MCP sessions — the agent's Close
// releases them.
type ExecutorFactory interface {
	ExecutorForAgent(ctx context.Context, spec models.AgentSpec) (ToolExecutor, error)
}

// Factory creates Agent instances from team specs. One factory serves the
// whole process; it holds the shared dependencies and stamps out a fresh
// Agent per (spec, plan) pairing.
type Factory struct {
	llm       LLMClient
	provider  *config.LLMProviderConfig
	defaults  *config.Defaults
	prompts   PromptBuilder
	publisher StreamPublisher
	executors ExecutorFactory
	logger    *slog.Logger
}

// FactoryParams configures a Factory.
type FactoryParams struct {
	LLM      LLMClient
	Provider *config.LLMProviderConfig
	Defaults *config.Defaults
	Prompts  PromptBuilder
	// Publisher is optional; nil disables StreamDelta emission.
	Publisher StreamPublisher
	// Executors is required only when the factory will build tool-capable
	// agents.
	Executors ExecutorFactory
	Logger    *slog.Logger
}

// NewFactory creates an agent factory.
func NewFactory(p FactoryParams) (*Factory, error) {
	if p.LLM == nil {
		return nil, fmt.Errorf("agent factory: LLM client is required")
	}
	if p.Provider == nil {
		return nil, fmt.Errorf("agent factory: LLM provider config is required")
	}
	if p.Defaults == nil {
		return nil, fmt.Errorf("agent factory: defaults are required")
	}
	if p.Prompts == nil {
		return nil, fmt.Errorf("agent factory: prompt builder is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		llm:       p.LLM,
		provider:  p.Provider,
		defaults:  p.Defaults,
		prompts:   p.Prompts,
		publisher: p.Publisher,
		executors: p.Executors,
		logger:    logger,
	}, nil
}

// AgentFor builds the runtime for one (spec, plan) pairing. Tool-capable
// specs get their own executor scoped to the spec's allow-list; callers use
// the agent's Close to release it when the plan settles.
func (f *Factory) AgentFor(ctx context.Context, spec models.AgentSpec, planID, sessionID string) (*Agent, error) {
	var executor ToolExecutor
	if spec.ToolCapable {
		if f.executors == nil {
			return nil, fmt.Errorf("agent %q is tool capable but the factory has no executor factory", spec.Name)
		}
		var err error
		executor, err = f.executors.ExecutorForAgent(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("create tool executor for agent %q: %w", spec.Name, err)
		}
	}

	a, err := New(Params{
		Spec:      spec,
		PlanID:    planID,
		SessionID: sessionID,
		LLM:       f.llm,
		Executor:  executor,
		Provider:  f.provider,
		Defaults:  f.defaults,
		Prompts:   f.prompts,
		Publisher: f.publisher,
		Logger:    f.logger,
	})
	if err != nil {
		if executor != nil {
			_ = executor.Close()
		}
		return nil, err
	}
	return a, nil
}
