package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/planor-ai/planor/pkg/blob"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/database"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/mcp"
	"github.com/planor-ai/planor/pkg/orchestrator"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/services"
)

// Server hosts the planor gateway: session and plan commands, dataset
// uploads, team management, health probes, and the websocket event stream.
type Server struct {
	echo *echo.Echo

	cfg     *config.Config
	gateway *config.GatewayConfig

	sessionService *services.SessionService
	planService    *services.PlanService
	messageService *services.MessageService
	datasetService *services.DatasetService
	teamService    *services.TeamService

	orchestrator *orchestrator.Orchestrator
	connManager  *events.ConnectionManager
	blobs        *blob.Service

	db              *database.Client
	healthMonitor   *mcp.HealthMonitor
	warningsService *services.SystemWarningsService

	dashboardDir string

	jwtSecret []byte
	authOn    bool

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer wires the gateway around an opened document store and the
// orchestrator. Optional collaborators (database client for health
// reporting, MCP health monitor, warnings feed, dashboard bundle) are
// attached with the Set* methods before Start.
func NewServer(cfg *config.Config, store persistence.Store, orch *orchestrator.Orchestrator, connManager *events.ConnectionManager, blobs *blob.Service) *Server {
	gateway := cfg.Gateway
	if gateway == nil {
		gateway = config.DefaultGatewayConfig()
	}
	registry := cfg.TeamRegistry
	if registry == nil {
		registry = config.NewTeamRegistry(nil)
	}

	s := &Server{
		echo:    echo.New(),
		cfg:     cfg,
		gateway: gateway,

		sessionService: services.NewSessionService(store),
		planService:    services.NewPlanService(store),
		messageService: services.NewMessageService(store),
		datasetService: services.NewDatasetService(store),
		teamService:    services.NewTeamService(store, registry),

		orchestrator: orch,
		connManager:  connManager,
		blobs:        blobs,

		authOn: gateway.AuthOn(),
	}
	if s.authOn {
		s.jwtSecret = []byte(os.Getenv(gateway.JWTSecretEnv))
	}

	s.setupRoutes()
	return s
}

// SetDBClient attaches the database client surfaced by the health probe.
// Left nil when planor runs against the in-memory store.
func (s *Server) SetDBClient(db *database.Client) {
	s.db = db
}

// SetHealthMonitor attaches the MCP health monitor surfaced in system info
// and the health probe.
func (s *Server) SetHealthMonitor(m *mcp.HealthMonitor) {
	s.healthMonitor = m
}

// SetWarningsService attaches the system warnings feed.
func (s *Server) SetWarningsService(w *services.SystemWarningsService) {
	s.warningsService = w
}

// ValidateWiring confirms every required collaborator is attached. Called
// once at startup, after the Set* methods, before the server accepts
// traffic.
func (s *Server) ValidateWiring() error {
	if s.cfg == nil {
		return fmt.Errorf("config not wired")
	}
	if s.sessionService == nil || s.planService == nil || s.messageService == nil ||
		s.datasetService == nil || s.teamService == nil {
		return fmt.Errorf("persistence services not wired")
	}
	if s.orchestrator == nil {
		return fmt.Errorf("orchestrator not wired")
	}
	if s.connManager == nil {
		return fmt.Errorf("event connection manager not wired")
	}
	if s.blobs == nil {
		return fmt.Errorf("dataset blob storage not wired")
	}
	if s.authOn && len(s.jwtSecret) == 0 {
		return fmt.Errorf("auth is enabled but %s is not set", s.gateway.JWTSecretEnv)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	// Liveness probe stays outside the authenticated group.
	s.echo.GET("/healthz", s.healthzHandler)

	api := s.echo.Group("/api/v1", s.authenticate)

	api.POST("/sessions", s.createSessionHandler)
	api.GET("/sessions/:id", s.getSessionHandler)
	api.GET("/sessions/:id/history", s.sessionHistoryHandler)
	api.GET("/sessions/:id/datasets", s.listDatasetsHandler)

	api.POST("/datasets", s.uploadDatasetHandler)

	api.POST("/plans", s.createPlanHandler)
	api.GET("/plans/:id", s.getPlanHandler)
	api.POST("/plans/:id/approval", s.approvePlanHandler)
	api.POST("/plans/:id/clarification", s.clarifyPlanHandler)
	api.POST("/plans/:id/cancel", s.cancelPlanHandler)

	api.GET("/teams", s.listTeamsHandler)
	api.POST("/teams", s.uploadTeamHandler)

	api.GET("/system/info", s.systemInfoHandler)
	api.GET("/system/warnings", s.systemWarningsHandler)
	api.GET("/system/mcp-servers", s.mcpServersHandler)

	api.GET("/ws", s.wsHandler)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.gateway.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.gateway.ListenAddr, err)
	}
	return s.StartWithListener(ln)
}

// StartWithListener serves on an existing listener. Tests use this with an
// ephemeral port. Blocks until the server stops; a clean Shutdown returns
// nil.
func (s *Server) StartWithListener(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	slog.Info("API server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
