package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/planor-ai/planor/pkg/database"
	"github.com/planor-ai/planor/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthzHandler handles GET /healthz.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only planor's own components (document store, database, worker pool) are
// checked. External dependencies (MCP servers, LLM service) are excluded to
// prevent the platform from restarting planor when an external service is
// unhealthy; their state is reported under /api/v1/system/info instead.
func (s *Server) healthzHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	// Database check only applies to the Postgres store; in-memory mode has
	// no database client wired.
	if s.db != nil {
		if _, err := database.Health(reqCtx, s.db.DB()); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.orchestrator != nil {
		pool := s.orchestrator.Health(reqCtx)

		if pool.StoreReachable {
			checks["store"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			status = healthStatusUnhealthy
			checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: pool.StoreError}
		}

		if pool.IsHealthy {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["worker_pool"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: fmt.Sprintf("%d/%d workers active", pool.ActiveWorkers, pool.TotalWorkers),
			}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
