package mcp

import (
	"context"
	"fmt"
	"slices"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/masking"
	"github.com/planor-ai/planor/pkg/models"
)

// ClientFactory creates Client instances for plan executions and the health
// monitor.
type ClientFactory struct {
	registry       *config.MCPServerRegistry
	runtime        *config.MCPRuntimeConfig
	maskingService *masking.Service

	// createClientFn overrides client construction; used by test
	// infrastructure to inject in-memory sessions.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

var _ agent.ExecutorFactory = (*ClientFactory)(nil)

// NewClientFactory creates a new factory. A nil runtime config uses the
// defaults; a nil masking service disables result masking.
func NewClientFactory(
	registry *config.MCPServerRegistry,
	runtime *config.MCPRuntimeConfig,
	maskingService *masking.Service,
) *ClientFactory {
	if runtime == nil {
		runtime = config.DefaultMCPRuntimeConfig()
	}
	return &ClientFactory{
		registry:       registry,
		runtime:        runtime,
		maskingService: maskingService,
	}
}

// CreateClient creates a new Client connected to the specified servers.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry, f.runtime)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close() // Clean up partial initialization
		return nil, err
	}
	return client, nil
}

// CreateToolExecutor creates a fully-wired ToolExecutor for a step.
// This is the primary entry point used by the plan executor.
func (f *ClientFactory) CreateToolExecutor(
	ctx context.Context,
	serverIDs []string,
	toolFilter map[string][]string,
) (*ToolExecutor, *Client, error) {
	client, err := f.CreateClient(ctx, serverIDs)
	if err != nil {
		return nil, nil, err
	}
	return NewToolExecutor(client, serverIDs, toolFilter, f.maskingService), client, nil
}

// ExecutorForAgent builds the allow-list-scoped tool view for one agent
// spec. An empty allow-list on a tool-capable agent grants the full
// catalogue: every configured server, no per-tool filter. A non-empty
// allow-list of "server.tool" names narrows both the server set and the
// tools within each server.
//
// Implements agent.ExecutorFactory. The returned executor owns the MCP
// sessions it opened; closing it closes them.
func (f *ClientFactory) ExecutorForAgent(ctx context.Context, spec models.AgentSpec) (agent.ToolExecutor, error) {
	serverIDs, toolFilter, err := f.scopeForSpec(spec)
	if err != nil {
		return nil, err
	}
	executor, _, err := f.CreateToolExecutor(ctx, serverIDs, toolFilter)
	if err != nil {
		return nil, err
	}
	return executor, nil
}

// scopeForSpec translates an agent's allow-list into the executor's server
// set and per-server tool filter.
func (f *ClientFactory) scopeForSpec(spec models.AgentSpec) ([]string, map[string][]string, error) {
	if len(spec.AllowedTools) == 0 {
		return f.registry.ServerIDs(), nil, nil
	}

	toolFilter := make(map[string][]string)
	var serverIDs []string
	for _, allowed := range spec.AllowedTools {
		serverID, toolName, err := SplitToolName(NormalizeToolName(allowed))
		if err != nil {
			return nil, nil, fmt.Errorf("agent %q allow-list entry %q: %w", spec.Name, allowed, err)
		}
		if !f.registry.Has(serverID) {
			return nil, nil, fmt.Errorf("agent %q allow-list entry %q: server %q is not configured",
				spec.Name, allowed, serverID)
		}
		if _, seen := toolFilter[serverID]; !seen {
			serverIDs = append(serverIDs, serverID)
		}
		if !slices.Contains(toolFilter[serverID], toolName) {
			toolFilter[serverID] = append(toolFilter[serverID], toolName)
		}
	}
	return serverIDs, toolFilter, nil
}
