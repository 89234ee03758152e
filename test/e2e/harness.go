// Package e2e boots complete planor instances and drives them through the
// public HTTP and WebSocket surfaces, the way a real client would.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/agent/prompt"
	"github.com/planor-ai/planor/pkg/api"
	"github.com/planor-ai/planor/pkg/blob"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/mcp"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/orchestrator"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/services"
)

// TestApp boots a complete planor instance for e2e testing. It mirrors the
// in-memory wiring of cmd/planor: memory store, MemBus event fan-out, real
// orchestrator and worker pool, real HTTP/WS gateway on an ephemeral port.
type TestApp struct {
	// Core
	Config *config.Config
	Store  persistence.Store

	// Mocks / test wiring
	LLMClient  *ScriptedLLMClient
	MCPFactory *mcp.ClientFactory // real factory backed by in-memory MCP SDK servers

	// Real infrastructure
	EventPublisher *events.EventPublisher
	ConnManager    *events.ConnectionManager
	Bus            *events.MemBus
	Orchestrator   *orchestrator.Orchestrator
	Server         *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/api/v1/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg         *config.Config
	llmClient   *ScriptedLLMClient
	mcpServers  map[string]map[string]mcpsdk.ToolHandler
	workerCount int
	store       persistence.Store       // injected store (for multi-replica tests)
	podID       string                  // custom pod ID (for multi-replica tests)
	notifier    orchestrator.Notifier   // optional settlement notifier
	tweakDfl    func(*config.Defaults)  // per-test execution tuning (timeouts, caps)
	tweakQueue  func(*config.QueueConfig)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithLLMClient sets a pre-scripted LLM client.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llmClient = client }
}

// WithMCPServers sets in-memory MCP SDK servers.
// Maps serverID → (toolName → handler).
func WithMCPServers(servers map[string]map[string]mcpsdk.ToolHandler) TestAppOption {
	return func(c *testAppConfig) { c.mcpServers = servers }
}

// WithWorkerCount sets the number of worker pool goroutines. Zero gives an
// API/WS-only replica that never claims plans.
func WithWorkerCount(n int) TestAppOption {
	return func(c *testAppConfig) { c.workerCount = n }
}

// WithStore injects a pre-created store, skipping the default per-test
// memory store. Used for multi-replica tests where multiple TestApp
// instances share the same documents.
func WithStore(store persistence.Store) TestAppOption {
	return func(c *testAppConfig) { c.store = store }
}

// WithPodID overrides the auto-generated pod ID. Required for multi-replica
// tests so each replica gets a distinct identity for plan claiming and
// orphan detection.
func WithPodID(id string) TestAppOption {
	return func(c *testAppConfig) { c.podID = id }
}

// WithNotifier injects a settlement notifier into the orchestrator. Used
// for testing notification dispatch with a recording fake.
func WithNotifier(n orchestrator.Notifier) TestAppOption {
	return func(c *testAppConfig) { c.notifier = n }
}

// WithDefaults applies per-test tuning to the execution defaults (turn caps,
// timeouts, clarification budgets) after the base config is built.
func WithDefaults(tweak func(*config.Defaults)) TestAppOption {
	return func(c *testAppConfig) { c.tweakDfl = tweak }
}

// WithQueueConfig applies per-test tuning to the worker pool config after
// the harness has set its test-appropriate baseline.
func WithQueueConfig(tweak func(*config.QueueConfig)) TestAppOption {
	return func(c *testAppConfig) { c.tweakQueue = tweak }
}

// NewTestApp creates and starts a full planor test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	// Apply options.
	tc := &testAppConfig{
		workerCount: 1,
	}
	for _, opt := range opts {
		opt(tc)
	}

	// Default config if not provided.
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.tweakDfl != nil {
		tc.tweakDfl(tc.cfg.Defaults)
	}

	// Ensure QueueConfig exists with test-appropriate settings.
	if tc.cfg.Queue == nil {
		tc.cfg.Queue = &config.QueueConfig{}
	}
	tc.cfg.Queue.WorkerCount = tc.workerCount
	tc.cfg.Queue.MaxConcurrentPlans = 8
	tc.cfg.Queue.PollInterval = 50 * time.Millisecond
	tc.cfg.Queue.PollIntervalJitter = 25 * time.Millisecond
	tc.cfg.Queue.HeartbeatInterval = 5 * time.Second
	tc.cfg.Queue.GracefulShutdownTimeout = 10 * time.Second
	tc.cfg.Queue.OrphanDetectionInterval = 1 * time.Minute
	tc.cfg.Queue.OrphanThreshold = 1 * time.Minute
	if tc.tweakQueue != nil {
		tc.tweakQueue(tc.cfg.Queue)
	}

	// Default LLM client if not provided.
	if tc.llmClient == nil {
		tc.llmClient = NewScriptedLLMClient()
	}

	// 1. Store — fresh per test unless a shared one is injected.
	store := tc.store
	if store == nil {
		store = persistence.NewMemStore()
	}

	// 2. Event fan-out: connection manager + in-memory bus + publisher,
	// exactly as cmd/planor wires the storeless mode.
	connManager := events.NewConnectionManager(nil, events.ManagerOptions{
		WriteTimeout:      tc.cfg.Gateway.WriteTimeout,
		HeartbeatInterval: tc.cfg.Gateway.HeartbeatInterval,
		LagThreshold:      tc.cfg.Gateway.EventSubscriberLagThreshold,
		CatchupLimit:      tc.cfg.Gateway.CatchupLimit,
	})
	bus := events.NewMemBus(connManager)
	connManager.SetCatchupQuerier(bus)
	eventPublisher := events.NewEventPublisher(bus)

	// 3. MCP — in-memory servers if configured.
	var mcpFactory *mcp.ClientFactory
	var executors agent.ExecutorFactory
	if len(tc.mcpServers) > 0 {
		mcpFactory = SetupInMemoryMCP(t, tc.mcpServers)
		executors = mcpFactory
	}

	// 4. Agent factory over the scripted LLM.
	provider, err := tc.cfg.LLMProviderRegistry.Get(tc.cfg.Defaults.LLMProvider)
	require.NoError(t, err)
	agents, err := agent.NewFactory(agent.FactoryParams{
		LLM:       tc.llmClient,
		Provider:  provider,
		Defaults:  tc.cfg.Defaults,
		Prompts:   prompt.NewBuilder(),
		Publisher: eventPublisher,
		Executors: executors,
	})
	require.NoError(t, err)

	// 5. Orchestrator + worker pool.
	podID := tc.podID
	if podID == "" {
		podID = fmt.Sprintf("e2e-test-%s", t.Name())
	}
	orch, err := orchestrator.New(orchestrator.Params{
		PodID:     podID,
		Defaults:  tc.cfg.Defaults,
		Queue:     tc.cfg.Queue,
		Store:     store,
		Registry:  tc.cfg.TeamRegistry,
		Agents:    agents,
		Publisher: eventPublisher,
		Notifier:  tc.notifier,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, orch.Start(ctx))

	// 6. Dataset blob storage over a per-test temp dir.
	fsStore, err := blob.NewFSStore(t.TempDir(), tc.cfg.Gateway.MaxUploadBytes)
	require.NoError(t, err)
	blobs := blob.NewService(fsStore, 0)

	// 7. HTTP server on a random port.
	server := api.NewServer(tc.cfg, store, orch, connManager, blobs)
	server.SetWarningsService(services.NewSystemWarningsService())
	require.NoError(t, server.ValidateWiring(), "server wiring incomplete — did you forget a Set* call?")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	baseURL := fmt.Sprintf("http://%s", addr)
	wsURL := fmt.Sprintf("ws://%s/api/v1/ws", addr)

	app := &TestApp{
		Config:         tc.cfg,
		Store:          store,
		LLMClient:      tc.llmClient,
		MCPFactory:     mcpFactory,
		EventPublisher: eventPublisher,
		ConnManager:    connManager,
		Bus:            bus,
		Orchestrator:   orch,
		Server:         server,
		BaseURL:        baseURL,
		WSURL:          wsURL,
		t:              t,
	}

	// Register cleanup in reverse-creation order.
	t.Cleanup(func() {
		orch.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return app
}

// defaultTestConfig creates a config suitable for tests that don't provide
// their own: auth off, fast timeouts, one two-agent team, one LLM provider.
// Tests override pieces via WithDefaults/WithConfig.
func defaultTestConfig() *config.Config {
	authOff := false
	defaults := config.DefaultDefaults()
	defaults.LLMProvider = "test-provider"
	defaults.PerStepTurnCap = 8
	defaults.MaxClarificationsPerStep = 2
	defaults.ToolCallTimeoutSeconds = 10
	defaults.AgentTurnTimeoutSeconds = 20
	defaults.StepTimeoutSeconds = 30
	defaults.PlanDeadlineSeconds = 60
	defaults.CancelHardDeadlineSeconds = 5
	defaults.RequestMasking = &config.RequestMaskingDefaults{Enabled: false}

	gateway := config.DefaultGatewayConfig()
	gateway.AuthEnabled = &authOff
	gateway.HeartbeatInterval = 5 * time.Second

	return &config.Config{
		Defaults: defaults,
		Queue:    &config.QueueConfig{},
		Gateway:  gateway,
		MCP:      config.DefaultMCPRuntimeConfig(),
		TeamRegistry: config.NewTeamRegistry(map[string]*models.TeamConfig{
			"test-team": defaultTestTeam(),
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(nil),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": {
				Type:  config.LLMProviderTypeGoogle,
				Model: "test-model",
			},
		}),
	}
}

// defaultTestTeam is the roster most scenarios run against: a planner that
// never touches tools and a tool-capable worker. Agent system prompts start
// with "You are <Name>" so the scripted LLM can route by agent.
func defaultTestTeam() *models.TeamConfig {
	return &models.TeamConfig{
		ID:   "test-team",
		Name: "Test Team",
		Agents: []models.AgentSpec{
			{
				Name:         "Planner",
				SystemPrompt: "You are Planner. Break requests into steps for the team.",
				Planner:      true,
			},
			{
				Name:         "Researcher",
				SystemPrompt: "You are Researcher. Gather the data each step asks for.",
				ToolCapable:  true,
			},
			{
				Name:         "Writer",
				SystemPrompt: "You are Writer. Produce the final text for each step.",
			},
		},
	}
}
