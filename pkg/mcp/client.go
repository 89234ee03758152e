// Package mcp provides the MCP (Model Context Protocol) transport layer:
// connecting to configured servers, discovering their tools, and executing
// tool calls with bounded concurrency and invisible retry.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/semaphore"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/version"
)

// toolCatalogue holds the advertised tools of one server, indexed by name
// for schema lookup before a call goes out.
type toolCatalogue struct {
	tools     []*mcpsdk.Tool
	byName    map[string]*mcpsdk.Tool
	fetchedAt time.Time
}

// Client manages MCP SDK sessions for multiple servers.
// One Client serves a plan execution (or the health monitor); steps within
// the plan share its sessions and the global inflight cap.
// Thread-safe: sessions are accessed from multiple goroutines when tool
// calls of a step fan out.
type Client struct {
	registry *config.MCPServerRegistry

	// From MCPRuntimeConfig, fixed at construction.
	maxAttempts  int
	discoveryTTL time.Duration
	authEnabled  bool

	// inflight caps concurrent tool invocations across all servers.
	// Excess callers queue on the semaphore until a slot frees or their
	// context expires.
	inflight *semaphore.Weighted

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession // serverID → session
	clients       map[string]*mcpsdk.Client        // serverID → client (for reconnection)
	failedServers map[string]string                // serverID → error message

	// Tool catalogues, refreshed once they age past discoveryTTL and
	// invalidated on session recreation.
	catalogues  map[string]*toolCatalogue
	catalogueMu sync.RWMutex

	// Per-server mutex for session recreation to prevent thundering herd
	reinitMu sync.Map // serverID → *sync.Mutex

	logger *slog.Logger
}

// newClient creates a new Client. A nil runtime config uses the defaults.
func newClient(registry *config.MCPServerRegistry, runtime *config.MCPRuntimeConfig) *Client {
	if runtime == nil {
		runtime = config.DefaultMCPRuntimeConfig()
	}
	maxAttempts := runtime.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	maxInflight := runtime.MaxInflight
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Client{
		registry:      registry,
		maxAttempts:   maxAttempts,
		discoveryTTL:  runtime.DiscoveryTTL,
		authEnabled:   runtime.AuthEnabled,
		inflight:      semaphore.NewWeighted(int64(maxInflight)),
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		catalogues:    make(map[string]*toolCatalogue),
		logger:        slog.Default(),
	}
}

// Initialize connects to all configured MCP servers.
// Servers that fail to connect are recorded in failedServers.
// The caller decides whether failures are fatal:
//   - Startup (readiness probe): check FailedServers() and fail if non-empty
//   - Per-plan: partial initialization is acceptable
//
// Always returns nil today; the error return is retained so the signature can
// evolve (e.g., returning an error when *all* servers fail) without breaking
// callers.
func (c *Client) Initialize(ctx context.Context, serverIDs []string) error {
	for _, serverID := range serverIDs {
		if err := c.InitializeServer(ctx, serverID); err != nil {
			c.mu.Lock()
			c.failedServers[serverID] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("MCP server failed to initialize",
				"server", serverID, "error", err)
		}
	}
	return nil
}

// InitializeServer connects to a single MCP server.
// Returns nil if already connected. Used for lazy initialization and recovery.
// Uses per-server mutex to prevent concurrent initialization of the same server.
func (c *Client) InitializeServer(ctx context.Context, serverID string) error {
	// Acquire per-server mutex to serialize initialization attempts
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.initializeServerLocked(ctx, serverID)
}

// initializeServerLocked performs the actual server initialization.
// Caller must hold the per-server reinitMu lock.
func (c *Client) initializeServerLocked(ctx context.Context, serverID string) error {
	// Check if already connected (under per-server lock, no TOCTOU race)
	c.mu.RLock()
	if _, exists := c.sessions[serverID]; exists {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	// Get server config
	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("server %q not found in registry: %w", serverID, err)
	}

	// Create transport
	transport, err := createTransport(serverCfg.Transport, c.authEnabled)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", serverID, err)
	}

	// Create MCP client and connect with timeout
	initCtx, cancel := context.WithTimeout(ctx, MCPInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Defensive: close the transport if it implements io.Closer to avoid
		// leaking resources (e.g., stdio child processes). The SDK closes the
		// underlying connection on most failure paths, but this guards against
		// edge cases and future transport types.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", serverID, err)
	}

	// Store session and clear failure record
	c.mu.Lock()
	c.sessions[serverID] = session
	c.clients[serverID] = client
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("MCP server connected", "server", serverID)
	return nil
}

// ListTools returns the advertised tools for a server. Catalogues are cached
// per server until they age past the discovery TTL or the session is
// recreated.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	// Check catalogue first
	// Lock ordering: never acquire c.mu while holding catalogueMu.
	c.catalogueMu.RLock()
	if cat, ok := c.catalogues[serverID]; ok && time.Since(cat.fetchedAt) < c.discoveryTTL {
		c.catalogueMu.RUnlock()
		return cat.tools, nil
	}
	c.catalogueMu.RUnlock()

	// Get session
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	// Call with timeout
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	// Cache results (nil-guard: ensure we always cache a non-nil slice so
	// cache hits don't return nil to callers).
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	byName := make(map[string]*mcpsdk.Tool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}

	c.catalogueMu.Lock()
	c.catalogues[serverID] = &toolCatalogue{
		tools:     tools,
		byName:    byName,
		fetchedAt: time.Now(),
	}
	c.catalogueMu.Unlock()

	return tools, nil
}

// FindTool returns the catalogue entry for a single tool, refreshing the
// catalogue if stale. Returns nil when the server does not advertise the
// tool.
func (c *Client) FindTool(ctx context.Context, serverID, toolName string) (*mcpsdk.Tool, error) {
	if _, err := c.ListTools(ctx, serverID); err != nil {
		return nil, err
	}

	c.catalogueMu.RLock()
	defer c.catalogueMu.RUnlock()
	if cat, ok := c.catalogues[serverID]; ok {
		return cat.byName[toolName], nil
	}
	return nil, nil
}

// ListAllTools returns tools from all connected servers.
// Returns partial results if some servers fail (logs errors, does not abort).
// Returns an error only when every server fails (no tools available at all).
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	c.mu.RLock()
	serverIDs := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		serverIDs = append(serverIDs, id)
	}
	c.mu.RUnlock()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := c.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			c.logger.Warn("Failed to list tools from MCP server",
				"server", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes a tool call on the specified server.
//
// Transient transport failures are retried with a fresh session after a
// jittered exponential backoff, up to the configured attempt budget; the
// retries are invisible to the caller. Protocol-level breakage is not
// retried — the session is recycled in the background and the failure
// surfaces immediately. All failures return *ToolError except context
// expiry of the caller, which returns ctx.Err() as-is.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.inflight.Release(1)

	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.callToolOnce(ctx, serverID, params)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		kind := ClassifyError(err)
		if kind != TransportTransient {
			if kind == TransportFatal {
				// The session's framing is broken; rebuild it detached from
				// this call so subsequent calls get a fresh connection.
				go c.recycleSession(serverID)
			}
			return nil, &ToolError{
				Kind:    kind,
				Server:  serverID,
				Tool:    toolName,
				Message: err.Error(),
				Err:     err,
			}
		}
		if attempt == c.maxAttempts {
			break
		}

		c.logger.Info("MCP call failed, retrying",
			"server", serverID, "tool", toolName,
			"attempt", attempt, "error", err)

		if werr := waitBackoff(ctx, attempt); werr != nil {
			return nil, werr
		}

		// Transient failures are connection-shaped; recreate the session
		// before the next attempt.
		if rerr := c.recreateSession(ctx, serverID); rerr != nil {
			return nil, &ToolError{
				Kind:    TransportTransient,
				Server:  serverID,
				Tool:    toolName,
				Message: fmt.Sprintf("session recreation failed: %s", rerr),
				Err:     rerr,
			}
		}
	}

	return nil, &ToolError{
		Kind:    TransportTransient,
		Server:  serverID,
		Tool:    toolName,
		Message: fmt.Sprintf("%d attempts failed, last error: %s", c.maxAttempts, lastErr),
		Err:     lastErr,
	}
}

// waitBackoff sleeps for a jittered backoff whose base doubles with each
// attempt (250–750ms on the first retry).
func waitBackoff(ctx context.Context, attempt int) error {
	window := int64(RetryBackoffMax - RetryBackoffMin)
	backoff := RetryBackoffMin<<(attempt-1) + time.Duration(rand.Int64N(window))
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callToolOnce performs a single CallTool attempt.
func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// recycleSession rebuilds a server's session after a fatal protocol error.
// Runs detached from the failing call: the caller sees the original error
// while subsequent calls get a fresh connection.
func (c *Client) recycleSession(serverID string) {
	ctx, cancel := context.WithTimeout(context.Background(), ReinitTimeout)
	defer cancel()

	if err := c.recreateSession(ctx, serverID); err != nil {
		c.logger.Warn("MCP session recycle failed",
			"server", serverID, "error", err)
		c.mu.Lock()
		c.failedServers[serverID] = err.Error()
		c.mu.Unlock()
	}
}

// recreateSession tears down and recreates the session for a server.
// Uses per-server mutex to prevent concurrent recreation.
//
// Note: if two goroutines race into recreateSession, the second will
// unnecessarily tear down the freshly recreated session and create another.
// A staleness guard (checking if session exists after lock) doesn't work here
// because the first caller also sees the broken session in the map.
// The cost is an extra recreation, which is acceptable for simplicity.
func (c *Client) recreateSession(ctx context.Context, serverID string) error {
	// Get or create per-server mutex
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	// Close existing session
	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.clients, serverID)
	}
	c.mu.Unlock()

	// Drop the catalogue so tools are re-discovered on the new session
	c.InvalidateToolCache(serverID)

	// Reinitialize with timeout (use locked variant — we already hold reinitMu)
	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return c.initializeServerLocked(reinitCtx, serverID)
}

// Close shuts down all sessions and transports gracefully.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}

	// Clear all state
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.clients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	// Lock ordering note: mu → catalogueMu is safe here because no other
	// code path holds catalogueMu while acquiring mu.
	c.catalogueMu.Lock()
	c.catalogues = make(map[string]*toolCatalogue)
	c.catalogueMu.Unlock()

	return firstErr
}

// InvalidateToolCache removes the cached catalogue for a server,
// forcing the next ListTools call to re-probe the server.
// Lock ordering: never acquire c.mu while holding catalogueMu.
func (c *Client) InvalidateToolCache(serverID string) {
	c.catalogueMu.Lock()
	delete(c.catalogues, serverID)
	c.catalogueMu.Unlock()
}

// HasSession checks if a server has an active session.
func (c *Client) HasSession(serverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverID]
	return exists
}

// FailedServers returns the map of servers that failed to initialize.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}
