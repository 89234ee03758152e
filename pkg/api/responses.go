package api

import (
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/orchestrator"
)

// PlanCommandResponse is returned by the plan command endpoints (approval,
// clarification, cancel).
type PlanCommandResponse struct {
	PlanID  string `json:"plan_id"`
	Message string `json:"message"`
}

// PlanDetailResponse is returned by GET /api/v1/plans/:id.
type PlanDetailResponse struct {
	Plan       *models.Plan      `json:"plan"`
	Transcript []*models.Message `json:"transcript"`
}

// SessionHistoryResponse is returned by GET /api/v1/sessions/:id/history.
type SessionHistoryResponse struct {
	SessionID string               `json:"session_id"`
	Plans     []models.PlanSummary `json:"plans"`
}

// HealthCheck is one component entry in HealthResponse.Checks.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// SystemInfoResponse is returned by GET /api/v1/system/info.
type SystemInfoResponse struct {
	Version       string                   `json:"version"`
	AuthEnabled   bool                     `json:"auth_enabled"`
	Configuration ConfigurationStats       `json:"configuration"`
	Pool          *orchestrator.PoolHealth `json:"pool,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	Teams        int `json:"teams"`
	MCPServers   int `json:"mcp_servers"`
	LLMProviders int `json:"llm_providers"`
}
