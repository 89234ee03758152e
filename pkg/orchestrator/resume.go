package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/services"
)

// resumeOwnedPlans finds the plans this pod still holds a claim on from a
// previous run. They go straight back to execution: Running plans re-enter
// the step loop at their lowest incomplete step, parked plans re-park and
// wait for their clarification.
func (o *Orchestrator) resumeOwnedPlans(ctx context.Context) ([]*models.Plan, error) {
	inFlight, err := o.plans.ListNonTerminal(ctx)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal plans: %w", err)
	}

	var owned []*models.Plan
	for _, plan := range inFlight {
		if plan.ClaimedBy != o.podID {
			continue
		}
		// Refresh the claim before execution starts so the orphan scan on
		// other replicas sees a live owner immediately.
		if err := o.plans.Heartbeat(ctx, plan.SessionID, plan.ID, o.podID); err != nil {
			if errors.Is(err, services.ErrNotClaimable) {
				o.logger.Info("Plan re-homed before startup resumption", "plan_id", plan.ID)
				continue
			}
			o.logger.Warn("Failed to refresh claim during startup resumption",
				"plan_id", plan.ID, "error", err)
		}
		owned = append(owned, plan)
		o.logger.Info("Resuming owned plan",
			"plan_id", plan.ID, "session_id", plan.SessionID, "status", plan.OverallStatus)
	}
	return owned, nil
}

// runOrphanScan periodically looks for executing or parked plans whose owner
// stopped heartbeating and takes them over. Every replica runs the scan; the
// guarded TakeOver patch makes concurrent attempts settle on one winner.
func (p *WorkerPool) runOrphanScan() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.queueCfg.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			recovered, err := p.takeOverOrphans(ctx)
			cancel()
			if err != nil {
				p.logger.Warn("Orphan scan failed", "error", err)
			}

			p.orphanMu.Lock()
			p.lastOrphanScan = time.Now().UTC()
			p.orphansRecovered += recovered
			p.orphanMu.Unlock()
		}
	}
}

// takeOverOrphans claims stale plans and submits them for execution. Returns
// how many plans this pod actually won.
func (p *WorkerPool) takeOverOrphans(ctx context.Context) (int, error) {
	staleBefore := time.Now().UTC().Add(-p.queueCfg.OrphanThreshold)

	candidates, err := p.staleCandidates(ctx, staleBefore)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	p.logger.Warn("Detected orphaned plans", "count", len(candidates))

	recovered := 0
	for _, candidate := range candidates {
		claimed, err := p.plans.TakeOver(ctx, candidate.SessionID, candidate.ID, p.podID, staleBefore)
		if err != nil {
			if errors.Is(err, services.ErrNotClaimable) || errors.Is(err, services.ErrConcurrentModification) {
				// The owner came back or another replica won; either way the
				// plan has a live home now.
				continue
			}
			p.logger.Error("Failed to take over orphaned plan",
				"plan_id", candidate.ID, "error", err)
			continue
		}
		p.logger.Warn("Orphaned plan taken over",
			"plan_id", claimed.ID, "session_id", claimed.SessionID,
			"previous_owner", candidate.ClaimedBy, "status", claimed.OverallStatus)
		p.Submit(claimed)
		recovered++
	}
	return recovered, nil
}

// staleCandidates lists executing and parked plans whose heartbeat predates
// staleBefore and which are not already running on this pod.
func (p *WorkerPool) staleCandidates(ctx context.Context, staleBefore time.Time) ([]*models.Plan, error) {
	running, err := p.plans.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running plans: %w", err)
	}
	parked, err := p.plans.ListParked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list parked plans: %w", err)
	}

	var stale []*models.Plan
	for _, plan := range append(running, parked...) {
		if plan.ClaimedBy == "" {
			// Claim and status commit together, so this does not happen; an
			// unclaimed Running plan would otherwise be unrecoverable.
			p.logger.Error("Executing plan has no claim", "plan_id", plan.ID, "status", plan.OverallStatus)
			continue
		}
		if p.isActive(plan.ID) {
			continue
		}
		if plan.LastHeartbeatAt != nil && plan.LastHeartbeatAt.After(staleBefore) {
			continue
		}
		stale = append(stale, plan)
	}
	return stale, nil
}
