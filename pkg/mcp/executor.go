package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/masking"
)

// Compile-time check that ToolExecutor implements agent.ToolExecutor.
var _ agent.ToolExecutor = (*ToolExecutor)(nil)

// ToolExecutor implements agent.ToolExecutor backed by real MCP servers.
// Created per plan execution by ClientFactory; each step gets an executor
// scoped to its allow-list.
type ToolExecutor struct {
	client *Client

	// Resolved list of server IDs this executor can access.
	serverIDs []string

	// Optional per-server tool allow-list from the step's agent spec.
	// nil or empty means all tools on that server are available.
	toolFilter map[string][]string // serverID → allowed tool names

	// Optional masking service for redacting sensitive data in tool results.
	// nil means no masking is applied.
	maskingService *masking.Service
}

// NewToolExecutor creates a new executor for the given servers.
// maskingService may be nil (masking disabled).
func NewToolExecutor(
	client *Client,
	serverIDs []string,
	toolFilter map[string][]string,
	maskingService *masking.Service,
) *ToolExecutor {
	return &ToolExecutor{
		client:         client,
		serverIDs:      serverIDs,
		toolFilter:     toolFilter,
		maskingService: maskingService,
	}
}

// Execute runs a tool call via MCP.
//
// Flow:
//  1. Normalize tool name (server__tool → server.tool)
//  2. Split and validate server.tool name, check the allow-list —
//     denied calls fail here, before any server contact
//  3. Parse Arguments string into map[string]any
//  4. Validate arguments against the tool's advertised schema
//  5. Call Client.CallTool (bounded concurrency, invisible retry)
//  6. Apply data masking and compute digests
//
// Failures return a nil result and a *ToolError whose Kind tells the
// caller whether the invocation itself was illegal (policy) or the tool
// broke (execution/transport).
func (e *ToolExecutor) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	name := NormalizeToolName(call.Name)

	serverID, toolName, err := e.resolveToolCall(name)
	if err != nil {
		return nil, err
	}

	args, err := ParseActionInput(call.Arguments)
	if err != nil {
		return nil, &ToolError{
			Kind:    ToolInputInvalid,
			Server:  serverID,
			Tool:    toolName,
			Message: fmt.Sprintf("cannot parse arguments: %s", err),
			Err:     err,
		}
	}

	tool, err := e.client.FindTool(ctx, serverID, toolName)
	if err != nil {
		return nil, &ToolError{
			Kind:    TransportTransient,
			Server:  serverID,
			Tool:    toolName,
			Message: fmt.Sprintf("tool discovery failed: %s", err),
			Err:     err,
		}
	}
	if tool == nil {
		return nil, &ToolError{
			Kind:    ToolNotFound,
			Server:  serverID,
			Tool:    toolName,
			Message: fmt.Sprintf("tool %q is not advertised by server %q", toolName, serverID),
		}
	}
	if verr := ValidateArguments(tool.InputSchema, args); verr != nil {
		return nil, &ToolError{
			Kind:    ToolInputInvalid,
			Server:  serverID,
			Tool:    toolName,
			Message: verr.Error(),
			Err:     verr,
		}
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, &ToolError{
			Kind:    ToolInputInvalid,
			Server:  serverID,
			Tool:    toolName,
			Message: fmt.Sprintf("arguments are not JSON-encodable: %s", err),
			Err:     err,
		}
	}

	start := time.Now()
	result, err := e.client.CallTool(ctx, serverID, toolName, args)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	content := extractTextContent(result)
	if e.maskingService != nil {
		content = e.maskingService.MaskToolResult(content, serverID)
	}

	if result.IsError {
		return nil, &ToolError{
			Kind:    ToolExecutionError,
			Server:  serverID,
			Tool:    toolName,
			Message: content,
		}
	}

	return &agent.ToolResult{
		CallID:          call.ID,
		Name:            call.Name,
		Content:         content,
		ArgumentsDigest: Digest(argsJSON),
		ResultDigest:    Digest([]byte(content)),
		Duration:        elapsed,
	}, nil
}

// ListTools returns all available tools from the executor's MCP servers.
// Tools are returned with server-prefixed names (e.g., "kubernetes.get_pods").
func (e *ToolExecutor) ListTools(ctx context.Context) ([]agent.ToolDefinition, error) {
	var allTools []agent.ToolDefinition

	for _, serverID := range e.serverIDs {
		tools, err := e.client.ListTools(ctx, serverID)
		if err != nil {
			// Log error but continue — partial tools are better than none
			slog.Warn("Failed to list tools from MCP server",
				"server", serverID, "error", err)
			continue
		}

		for _, tool := range tools {
			// Apply tool filter if set
			if filter, ok := e.toolFilter[serverID]; ok && len(filter) > 0 {
				if !slices.Contains(filter, tool.Name) {
					continue
				}
			}

			allTools = append(allTools, agent.ToolDefinition{
				Name:             fmt.Sprintf("%s.%s", serverID, tool.Name),
				Description:      tool.Description,
				ParametersSchema: marshalSchema(tool.InputSchema),
			})
		}
	}

	if len(allTools) == 0 {
		return nil, nil // Consistent with StubToolExecutor contract
	}
	return allTools, nil
}

// Close releases resources (MCP transports, subprocesses).
func (e *ToolExecutor) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// resolveToolCall validates a tool call against the executor's allow-list.
// Runs entirely locally — a denied or malformed call never reaches the
// server.
func (e *ToolExecutor) resolveToolCall(name string) (serverID, toolName string, err error) {
	serverID, toolName, splitErr := SplitToolName(name)
	if splitErr != nil {
		return "", "", &ToolError{
			Kind:    ToolNotFound,
			Tool:    name,
			Message: splitErr.Error(),
			Err:     splitErr,
		}
	}

	if !slices.Contains(e.serverIDs, serverID) {
		return "", "", &ToolError{
			Kind:   ToolDenied,
			Server: serverID,
			Tool:   toolName,
			Message: fmt.Sprintf("server %q is not available to this step; available servers: %s",
				serverID, strings.Join(e.serverIDs, ", ")),
		}
	}

	if filter, ok := e.toolFilter[serverID]; ok && len(filter) > 0 {
		if !slices.Contains(filter, toolName) {
			return "", "", &ToolError{
				Kind:   ToolDenied,
				Server: serverID,
				Tool:   toolName,
				Message: fmt.Sprintf("tool %q is not in the allow-list for server %q; allowed: %s",
					toolName, serverID, strings.Join(filter, ", ")),
			}
		}
	}

	return serverID, toolName, nil
}

// extractTextContent extracts text from MCP CallToolResult.
// Concatenates all TextContent items. Non-text content (images, embedded
// resources) is logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's InputSchema to a JSON string.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}
