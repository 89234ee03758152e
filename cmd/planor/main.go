// Planor orchestration server — serves the HTTP/WebSocket gateway, runs the
// plan worker pool, and mediates agent access to MCP tools.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/agent/prompt"
	"github.com/planor-ai/planor/pkg/api"
	"github.com/planor-ai/planor/pkg/blob"
	"github.com/planor-ai/planor/pkg/cleanup"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/database"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/masking"
	"github.com/planor-ai/planor/pkg/mcp"
	"github.com/planor-ai/planor/pkg/notify"
	"github.com/planor-ai/planor/pkg/orchestrator"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/persistence/entstore"
	"github.com/planor-ai/planor/pkg/services"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	inMemory := flag.Bool("in-memory",
		getEnv("IN_MEMORY", "") == "true",
		"Run without PostgreSQL: in-memory store and event bus (single replica, no durability)")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	podID := resolvePodID()

	slog.Info("Starting planor",
		"pod_id", podID,
		"config_dir", *configDir,
		"in_memory", *inMemory)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Persistence and event transport. PostgreSQL gives durability and
	// cross-pod fan-out; in-memory mode swaps in the memstore and the MemBus
	// for local development.
	managerOpts := events.ManagerOptions{
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		LagThreshold:      cfg.Gateway.EventSubscriberLagThreshold,
		CatchupLimit:      cfg.Gateway.CatchupLimit,
	}

	var (
		store        persistence.Store
		dbClient     *database.Client
		eventService *services.EventService
		connManager  *events.ConnectionManager
		publisher    *events.EventPublisher
	)

	if *inMemory {
		store = persistence.NewMemStore()
		connManager = events.NewConnectionManager(nil, managerOpts)
		memBus := events.NewMemBus(connManager)
		connManager.SetCatchupQuerier(memBus)
		publisher = events.NewEventPublisher(memBus)
		slog.Warn("Running in-memory: plans and events do not survive restarts")
	} else {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}

		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")

		store = entstore.New(dbClient.Client,
			entstore.WithConflictRetries(cfg.Defaults.PersistenceConflictRetries))
		eventService = services.NewEventService(dbClient.Client)
		connManager = events.NewConnectionManager(
			events.NewEventServiceAdapter(eventService), managerOpts)
		publisher = events.NewEventPublisher(events.NewPostgresSink(dbClient.DB()))

		// Start NotifyListener (dedicated pgx connection for LISTEN)
		notifyListener := events.NewNotifyListener(dbConfig.DSN(), connManager)
		if err := notifyListener.Start(ctx); err != nil {
			slog.Error("Failed to start NotifyListener", "error", err)
			os.Exit(1)
		}
		defer notifyListener.Stop(ctx)

		// Wire listener ↔ manager bidirectional link
		connManager.SetListener(notifyListener)
	}
	slog.Info("Persistence and streaming initialized")

	// 3. Masking service
	maskingService := masking.NewService(
		cfg.MCPServerRegistry,
		masking.RequestMaskingConfig{
			Enabled:      cfg.Defaults.RequestMasking.Enabled,
			PatternGroup: cfg.Defaults.RequestMasking.PatternGroup,
		},
	)

	// 4. MCP infrastructure
	warningsService := services.NewSystemWarningsService()
	mcpFactory := mcp.NewClientFactory(cfg.MCPServerRegistry, cfg.MCP, maskingService)

	// Eager MCP validation: verify all configured servers can connect.
	// If any server fails, the process exits — prevents silent broken configs.
	mcpServerIDs := cfg.AllMCPServerIDs()
	if len(mcpServerIDs) > 0 {
		validationClient, mcpErr := mcpFactory.CreateClient(ctx, mcpServerIDs)
		if mcpErr != nil {
			slog.Error("MCP startup validation failed", "error", mcpErr)
			os.Exit(1)
		}
		failed := validationClient.FailedServers()
		if len(failed) > 0 {
			slog.Error("MCP servers failed startup validation", "failed_servers", failed)
			_ = validationClient.Close()
			os.Exit(1)
		}
		_ = validationClient.Close()
		slog.Info("MCP servers validated", "count", len(mcpServerIDs))
	}

	// Start HealthMonitor (background goroutine)
	var healthMonitor *mcp.HealthMonitor
	if len(mcpServerIDs) > 0 {
		healthMonitor = mcp.NewHealthMonitor(mcpFactory, cfg.MCPServerRegistry, warningsService)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
		slog.Info("MCP health monitor started")
	}

	// 5. LLM client and agent factory
	// Note: grpc.NewClient uses lazy dialing; actual connection happens on first RPC call
	llmClient, err := agent.NewGRPCLLMClient(cfg.LLMService.Addr)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "addr", cfg.LLMService.Addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()
	slog.Info("LLM client initialized", "addr", cfg.LLMService.Addr)

	provider, err := cfg.LLMProviderRegistry.Get(cfg.Defaults.LLMProvider)
	if err != nil {
		slog.Error("Default LLM provider is not configured",
			"provider", cfg.Defaults.LLMProvider, "error", err)
		os.Exit(1)
	}

	agentFactory, err := agent.NewFactory(agent.FactoryParams{
		LLM:       llmClient,
		Provider:  provider,
		Defaults:  cfg.Defaults,
		Prompts:   prompt.NewBuilder(),
		Publisher: publisher,
		Executors: mcpFactory,
	})
	if err != nil {
		slog.Error("Failed to create agent factory", "error", err)
		os.Exit(1)
	}

	// 6. Slack notifications (optional)
	var notifier orchestrator.Notifier
	if cfg.Slack.Enabled {
		if svc := notify.NewService(notify.ServiceConfig{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.Gateway.DashboardURL,
		}); svc != nil {
			notifier = svc
			slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
		} else {
			warningsService.AddWarning(services.WarningCategoryNotifier,
				"Slack notifications are enabled but misconfigured",
				fmt.Sprintf("set %s and system.slack.channel", cfg.Slack.TokenEnv), "")
		}
	}

	// 7. Orchestrator (owns the worker pool)
	orch, err := orchestrator.New(orchestrator.Params{
		PodID:     podID,
		Defaults:  cfg.Defaults,
		Queue:     cfg.Queue,
		Store:     store,
		Registry:  cfg.TeamRegistry,
		Agents:    agentFactory,
		Publisher: publisher,
		Notifier:  notifier,
	})
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	if err := orch.Start(ctx); err != nil {
		slog.Error("Failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// 8. Dataset blob storage
	fsStore, err := blob.NewFSStore(cfg.Datasets.RootDir, cfg.Gateway.MaxUploadBytes)
	if err != nil {
		slog.Error("Failed to initialize blob store", "root", cfg.Datasets.RootDir, "error", err)
		os.Exit(1)
	}
	blobs := blob.NewService(fsStore, 0)

	// 9. Retention cleanup loop
	cleanupService := cleanup.NewService(
		cfg.Retention,
		services.NewSessionService(store),
		services.NewPlanService(store),
		services.NewMessageService(store),
		services.NewDatasetService(store),
		eventService,
		blobs,
	)
	cleanupService.Start(ctx)

	// 10. HTTP gateway
	httpServer := api.NewServer(cfg, store, orch, connManager, blobs)
	if dbClient != nil {
		httpServer.SetDBClient(dbClient)
	}
	if healthMonitor != nil {
		httpServer.SetHealthMonitor(healthMonitor)
	}
	httpServer.SetWarningsService(warningsService)
	if dir := getEnv("DASHBOARD_DIR", ""); dir != "" {
		httpServer.SetDashboardDir(dir)
	}

	if !cfg.Gateway.AuthOn() {
		warningsService.AddWarning(services.WarningCategoryAuthDisabled,
			"Authentication is disabled",
			"every request runs as the proxy-supplied or anonymous development user", "")
	}

	if err := httpServer.ValidateWiring(); err != nil {
		slog.Error("Gateway wiring validation failed", "error", err)
		os.Exit(1)
	}

	// 11. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", cfg.Gateway.ListenAddr)
		if err := httpServer.Start(); err != nil {
			slog.Error("Gateway error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Planor started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: drain the pool first so executing plans can
	// finish or checkpoint, then stop the auxiliary loops and the gateway.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		orch.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Orchestrator stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — unfinished plans stay claimable for resumption")
	}

	cleanupService.Stop()

	// Stop HTTP server with its own timeout budget
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("Gateway shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
