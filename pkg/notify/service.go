package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/orchestrator"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts terminal plan notifications. It satisfies the orchestrator's
// Notifier port. Nil-safe: all methods are no-ops on a nil receiver.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a Slack notification service. Returns nil when Token or
// Channel is empty, which disables notifications.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify"),
	}
}

// PlanSettled posts a notification for a plan that reached a terminal
// status. Interrupted runs (shutdown, claim takeover) are skipped; the plan
// is still live and will settle elsewhere. Fail-open: delivery errors are
// logged, never returned.
func (s *Service) PlanSettled(ctx context.Context, plan *models.Plan, result *orchestrator.ExecutionResult) {
	if s == nil || plan == nil || result == nil {
		return
	}
	if result.Interrupted || !result.Status.Terminal() {
		return
	}

	input := SettledInput{
		PlanID:      plan.ID,
		SessionID:   plan.SessionID,
		UserRequest: plan.UserRequest,
		Status:      result.Status,
		FinalResult: result.FinalResult,
	}
	if input.FinalResult == "" {
		input.FinalResult = plan.FinalResult
	}
	if result.Err != nil {
		input.ErrorMessage = result.Err.Error()
	}

	blocks := BuildSettledMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send settlement notification",
			"plan_id", plan.ID,
			"session_id", plan.SessionID,
			"status", result.Status,
			"error", err)
	}
}
