package agent

import (
	"context"
	"fmt"
	"time"
)

// ToolExecutor abstracts tool execution for the turn runtime.
type ToolExecutor interface {
	// Execute runs a single tool call and returns the result.
	// Failures return a nil result and an error describing what went
	// wrong; the MCP-backed implementation returns *mcp.ToolError so
	// callers can distinguish policy violations from broken tools.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// ListTools returns available tool definitions for the current execution.
	// Returns nil if no tools are configured.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// Close releases resources (MCP transports, subprocesses).
	// No-op for StubToolExecutor.
	Close() error
}

// ToolResult represents the output of a successful tool execution.
type ToolResult struct {
	CallID          string        // Matches the ToolCall.ID
	Name            string        // Tool name as the agent requested it
	Content         string        // Tool output (text, already masked)
	ArgumentsDigest string        // Digest of the canonicalized arguments
	ResultDigest    string        // Digest of Content
	Duration        time.Duration // Caller-visible call latency
}

// StubToolExecutor returns canned responses for testing.
// The real MCP-backed implementation is in pkg/mcp/executor.go.
type StubToolExecutor struct {
	tools []ToolDefinition
}

// NewStubToolExecutor creates a stub executor with the given tool definitions.
func NewStubToolExecutor(tools []ToolDefinition) *StubToolExecutor {
	return &StubToolExecutor{tools: tools}
}

func (s *StubToolExecutor) Execute(_ context.Context, call ToolCall) (*ToolResult, error) {
	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("[stub] Tool %q called with args: %s", call.Name, call.Arguments),
	}, nil
}

func (s *StubToolExecutor) ListTools(_ context.Context) ([]ToolDefinition, error) {
	return s.tools, nil
}

func (s *StubToolExecutor) Close() error { return nil }
