package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

// nonTerminalStatuses is the promoted-status filter for resumption scans.
var nonTerminalStatuses = []string{
	string(models.PlanStatusCreated),
	string(models.PlanStatusAwaitingApproval),
	string(models.PlanStatusRunning),
	string(models.PlanStatusAwaitingClarification),
}

var terminalStatuses = []string{
	string(models.PlanStatusCompleted),
	string(models.PlanStatusFailed),
	string(models.PlanStatusCancelled),
}

// PlanService persists plans and enforces lifecycle legality on every write.
// All mutations are guarded patches: they re-read under the store's
// optimistic concurrency loop, so concurrent writers never clobber each
// other and terminal plans stay immutable.
type PlanService struct {
	store persistence.Store
}

// NewPlanService creates a new PlanService
func NewPlanService(store persistence.Store) *PlanService {
	return &PlanService{store: store}
}

// CreatePlan stores a freshly planned plan document.
func (s *PlanService) CreatePlan(httpCtx context.Context, plan *models.Plan) error {
	if plan == nil {
		return NewValidationError("plan", "required")
	}
	if plan.ID == "" {
		return NewValidationError("plan_id", "required")
	}
	if plan.SessionID == "" {
		return NewValidationError("session_id", "required")
	}
	if err := plan.ValidateOrdinals(); err != nil {
		return NewValidationError("steps", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	body, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	_, err = s.store.Put(ctx, persistence.Document{
		Kind:         persistence.KindPlans,
		ID:           plan.ID,
		PartitionKey: plan.SessionID,
		Status:       string(plan.OverallStatus),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", mapStoreError(err))
	}
	return nil
}

// GetPlan retrieves a plan by ID within its session.
func (s *PlanService) GetPlan(ctx context.Context, sessionID, planID string) (*models.Plan, error) {
	if planID == "" {
		return nil, NewValidationError("plan_id", "required")
	}

	doc, err := s.store.Get(ctx, persistence.KindPlans, planID, sessionID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return unmarshalPlan(doc)
}

// UpdatePlan applies fn to the plan under optimistic concurrency. The write
// is rejected with ErrIllegalTransition when fn mutates a terminal plan or
// moves the status along an edge the lifecycle does not allow. A fn that
// leaves the plan unchanged is a no-op and does not bump the revision.
func (s *PlanService) UpdatePlan(httpCtx context.Context, sessionID, planID string, fn func(*models.Plan) error) (*models.Plan, error) {
	if planID == "" {
		return nil, NewValidationError("plan_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	doc, err := s.store.Patch(ctx, persistence.KindPlans, planID, sessionID, func(doc persistence.Document) (persistence.Document, error) {
		plan, err := unmarshalPlan(doc)
		if err != nil {
			return doc, err
		}
		before := plan.OverallStatus

		if err := fn(plan); err != nil {
			return doc, err
		}

		body, err := json.Marshal(plan)
		if err != nil {
			return doc, fmt.Errorf("failed to marshal plan: %w", err)
		}
		if bytes.Equal(body, doc.Body) {
			return doc, nil
		}

		if before.Terminal() {
			return doc, fmt.Errorf("%w: plan %s is %s", ErrIllegalTransition, planID, before)
		}
		if plan.OverallStatus != before && !before.CanTransitionTo(plan.OverallStatus) {
			return doc, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, before, plan.OverallStatus)
		}

		plan.UpdatedAt = time.Now().UTC()
		body, err = json.Marshal(plan)
		if err != nil {
			return doc, fmt.Errorf("failed to marshal plan: %w", err)
		}
		doc.Body = body
		doc.Status = string(plan.OverallStatus)
		return doc, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return unmarshalPlan(doc)
}

// ListPlanSummaries returns the session's plans in listing form, newest
// first.
func (s *PlanService) ListPlanSummaries(ctx context.Context, sessionID string, limit int) ([]models.PlanSummary, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}

	docs, err := s.store.List(ctx, persistence.KindPlans, sessionID, persistence.ListOptions{
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", mapStoreError(err))
	}

	summaries := make([]models.PlanSummary, 0, len(docs))
	for _, doc := range docs {
		plan, err := unmarshalPlan(doc)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, plan.Summary())
	}
	return summaries, nil
}

// ListNonTerminal returns every plan still in flight, across all sessions.
// Startup resumption is the only caller.
func (s *PlanService) ListNonTerminal(ctx context.Context) ([]*models.Plan, error) {
	docs, err := s.store.ListAll(ctx, persistence.KindPlans, persistence.ListOptions{
		Statuses: nonTerminalStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list non-terminal plans: %w", mapStoreError(err))
	}

	plans := make([]*models.Plan, 0, len(docs))
	for _, doc := range docs {
		plan, err := unmarshalPlan(doc)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// ListRunning returns every plan currently marked Running, across all
// sessions. Workers use it for capacity checks and the orphan scan walks it
// looking for stale heartbeats.
func (s *PlanService) ListRunning(ctx context.Context) ([]*models.Plan, error) {
	docs, err := s.store.ListAll(ctx, persistence.KindPlans, persistence.ListOptions{
		Statuses: []string{string(models.PlanStatusRunning)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list running plans: %w", mapStoreError(err))
	}

	plans := make([]*models.Plan, 0, len(docs))
	for _, doc := range docs {
		plan, err := unmarshalPlan(doc)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// ListParked returns every plan parked on a clarification, across all
// sessions. The orphan scan includes them so plans whose owner died while
// parked get re-homed.
func (s *PlanService) ListParked(ctx context.Context) ([]*models.Plan, error) {
	docs, err := s.store.ListAll(ctx, persistence.KindPlans, persistence.ListOptions{
		Statuses: []string{string(models.PlanStatusAwaitingClarification)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list parked plans: %w", mapStoreError(err))
	}

	plans := make([]*models.Plan, 0, len(docs))
	for _, doc := range docs {
		plan, err := unmarshalPlan(doc)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// ListClaimable returns up to limit approved, unclaimed, uncancelled plans in
// creation order. Approval and claim markers live in the document body, so
// the status-indexed fetch is filtered here.
func (s *PlanService) ListClaimable(ctx context.Context, limit int) ([]*models.Plan, error) {
	docs, err := s.store.ListAll(ctx, persistence.KindPlans, persistence.ListOptions{
		Statuses: []string{string(models.PlanStatusAwaitingApproval)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list approved plans: %w", mapStoreError(err))
	}

	plans := make([]*models.Plan, 0, limit)
	for _, doc := range docs {
		plan, err := unmarshalPlan(doc)
		if err != nil {
			return nil, err
		}
		if !plan.Approved || plan.ClaimedBy != "" || plan.CancellationRequested {
			continue
		}
		plans = append(plans, plan)
		if limit > 0 && len(plans) >= limit {
			break
		}
	}
	return plans, nil
}

// ClaimPlan atomically moves an approved plan to Running under podID. It
// fails with ErrNotClaimable when another worker won the race, approval is
// missing, or a cancellation arrived first.
func (s *PlanService) ClaimPlan(httpCtx context.Context, sessionID, planID, podID string) (*models.Plan, error) {
	if podID == "" {
		return nil, NewValidationError("pod_id", "required")
	}
	return s.UpdatePlan(httpCtx, sessionID, planID, func(p *models.Plan) error {
		if p.OverallStatus != models.PlanStatusAwaitingApproval || !p.Approved || p.ClaimedBy != "" {
			return fmt.Errorf("%w: plan %s is %s (approved=%t, claimed_by=%q)",
				ErrNotClaimable, planID, p.OverallStatus, p.Approved, p.ClaimedBy)
		}
		if p.CancellationRequested {
			return fmt.Errorf("%w: plan %s has a pending cancellation", ErrNotClaimable, planID)
		}
		now := time.Now().UTC()
		p.OverallStatus = models.PlanStatusRunning
		p.ClaimedBy = podID
		p.LastHeartbeatAt = &now
		return nil
	})
}

// TakeOver re-claims an executing plan whose owner stopped heartbeating
// before staleBefore. Re-claiming a plan this pod already owns refreshes the
// heartbeat and succeeds.
func (s *PlanService) TakeOver(httpCtx context.Context, sessionID, planID, podID string, staleBefore time.Time) (*models.Plan, error) {
	if podID == "" {
		return nil, NewValidationError("pod_id", "required")
	}
	return s.UpdatePlan(httpCtx, sessionID, planID, func(p *models.Plan) error {
		switch p.OverallStatus {
		case models.PlanStatusRunning, models.PlanStatusAwaitingClarification:
		default:
			return fmt.Errorf("%w: plan %s is %s", ErrNotClaimable, planID, p.OverallStatus)
		}
		if p.ClaimedBy != podID && p.LastHeartbeatAt != nil && p.LastHeartbeatAt.After(staleBefore) {
			return fmt.Errorf("%w: plan %s heartbeat is fresh", ErrNotClaimable, planID)
		}
		now := time.Now().UTC()
		p.ClaimedBy = podID
		p.LastHeartbeatAt = &now
		return nil
	})
}

// Heartbeat stamps the plan's liveness marker. ErrNotClaimable tells the
// caller it lost the claim to another pod; a plan that settled concurrently
// is left untouched.
func (s *PlanService) Heartbeat(httpCtx context.Context, sessionID, planID, podID string) error {
	_, err := s.UpdatePlan(httpCtx, sessionID, planID, func(p *models.Plan) error {
		if p.OverallStatus.Terminal() {
			return nil
		}
		if p.ClaimedBy != podID {
			return fmt.Errorf("%w: plan %s is claimed by %q", ErrNotClaimable, planID, p.ClaimedBy)
		}
		now := time.Now().UTC()
		p.LastHeartbeatAt = &now
		return nil
	})
	return err
}

// LatestTerminalPlan returns the session's most recently created terminal
// plan, or ErrNotFound when the session has none. Planning consults it for
// the prior-result summary.
func (s *PlanService) LatestTerminalPlan(ctx context.Context, sessionID string) (*models.Plan, error) {
	docs, err := s.store.List(ctx, persistence.KindPlans, sessionID, persistence.ListOptions{
		Statuses:   terminalStatuses,
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal plans: %w", mapStoreError(err))
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return unmarshalPlan(docs[0])
}

// DeletePlan removes a plan document. Retention cleanup only.
func (s *PlanService) DeletePlan(httpCtx context.Context, sessionID, planID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.store.Delete(ctx, persistence.KindPlans, planID, sessionID); err != nil {
		return fmt.Errorf("failed to delete plan: %w", mapStoreError(err))
	}
	return nil
}

func unmarshalPlan(doc persistence.Document) (*models.Plan, error) {
	var plan models.Plan
	if err := json.Unmarshal(doc.Body, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", doc.ID, err)
	}
	return &plan, nil
}
