// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/planor-ai/planor/pkg/blob"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/services"
)

// Service periodically enforces retention policies:
//   - Purges sessions whose plans all settled before the retention window,
//     together with their plans, messages, events, dataset handles, and blobs
//   - Removes orphaned Event rows past their TTL
//
// All operations are idempotent and safe to run from multiple pods: the
// session document is deleted last, so a purge interrupted mid-way is
// retried on the next run.
type Service struct {
	config         *config.RetentionConfig
	sessionService *services.SessionService
	planService    *services.PlanService
	messageService *services.MessageService
	datasetService *services.DatasetService
	eventService   *services.EventService
	blobs          *blob.Service

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. blobs may be nil when no blob
// store is configured; eventService may be nil in in-memory mode, where the
// event log lives in the bus and dies with the process.
func NewService(
	cfg *config.RetentionConfig,
	sessionService *services.SessionService,
	planService *services.PlanService,
	messageService *services.MessageService,
	datasetService *services.DatasetService,
	eventService *services.EventService,
	blobs *blob.Service,
) *Service {
	return &Service{
		config:         cfg,
		sessionService: sessionService,
		planService:    planService,
		messageService: messageService,
		datasetService: datasetService,
		eventService:   eventService,
		blobs:          blobs,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeExpiredSessions(ctx)
	s.cleanupExpiredEvents(ctx)
}

// purgeExpiredSessions deletes sessions past the retention window. A session
// is eligible only when it has no active plan, every plan it owns is
// terminal, and nothing about it changed since the cutoff.
func (s *Service) purgeExpiredSessions(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.SessionRetentionDays)

	sessions, err := s.sessionService.ListSessions(ctx, persistence.ListOptions{})
	if err != nil {
		slog.Error("Retention: session scan failed", "error", err)
		return
	}

	purged := 0
	for _, session := range sessions {
		if ctx.Err() != nil {
			return
		}

		if session.ActivePlanID != "" {
			continue
		}
		eligible, err := s.sessionExpired(ctx, session.ID, session.UpdatedAt, cutoff)
		if err != nil {
			slog.Error("Retention: eligibility check failed",
				"session_id", session.ID, "error", err)
			continue
		}
		if !eligible {
			continue
		}

		if err := s.purgeSession(ctx, session.ID); err != nil {
			slog.Error("Retention: session purge failed",
				"session_id", session.ID, "error", err)
			continue
		}
		purged++
	}

	if purged > 0 {
		slog.Info("Retention: purged expired sessions", "count", purged)
	}
}

// sessionExpired reports whether every plan in the session is terminal and
// the newest activity across the session and its plans predates the cutoff.
func (s *Service) sessionExpired(ctx context.Context, sessionID string, updatedAt, cutoff time.Time) (bool, error) {
	if updatedAt.After(cutoff) {
		return false, nil
	}

	summaries, err := s.planService.ListPlanSummaries(ctx, sessionID, 0)
	if err != nil {
		return false, fmt.Errorf("failed to list plans: %w", err)
	}
	for _, summary := range summaries {
		if !summary.OverallStatus.Terminal() {
			return false, nil
		}
		if summary.UpdatedAt.After(cutoff) {
			return false, nil
		}
	}
	return true, nil
}

// purgeSession removes a session's dependent documents, then the session
// itself. Any failure leaves the session document in place so the next run
// retries the purge.
func (s *Service) purgeSession(ctx context.Context, sessionID string) error {
	summaries, err := s.planService.ListPlanSummaries(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("failed to list plans: %w", err)
	}
	for _, summary := range summaries {
		if err := s.planService.DeletePlan(ctx, sessionID, summary.ID); err != nil {
			return fmt.Errorf("failed to delete plan %s: %w", summary.ID, err)
		}
	}

	if _, err := s.messageService.DeleteSessionMessages(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	if s.eventService != nil {
		if _, err := s.eventService.CleanupSessionEvents(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
	}

	datasets, err := s.datasetService.ListDatasets(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list datasets: %w", err)
	}
	for _, handle := range datasets {
		if err := s.datasetService.DeleteDataset(ctx, sessionID, handle.ID); err != nil {
			return fmt.Errorf("failed to delete dataset %s: %w", handle.ID, err)
		}
	}

	if s.blobs != nil {
		if err := s.blobs.PurgeSession(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to purge blobs: %w", err)
		}
	}

	if err := s.sessionService.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("Retention: purged session",
		"session_id", sessionID, "plans", len(summaries), "datasets", len(datasets))
	return nil
}

func (s *Service) cleanupExpiredEvents(ctx context.Context) {
	if s.eventService == nil {
		return
	}
	count, err := s.eventService.CleanupExpiredEvents(ctx, s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: cleaned up expired events", "count", count)
	}
}
