package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/planor-ai/planor/pkg/services"
)

// claimBatchSize is how many claim candidates a single poll fetches. Workers
// walk the batch in creation order so a claim lost to another replica does
// not cost a whole poll cycle.
const claimBatchSize = 10

const (
	workerStatusIdle    = "idle"
	workerStatusWorking = "working"
)

// Worker is one polling goroutine of the pool. It claims at most one plan
// per cycle and executes it synchronously, so WorkerCount bounds this pod's
// concurrent plans.
type Worker struct {
	id   string
	pool *WorkerPool

	mu             sync.Mutex
	status         string
	currentPlanID  string
	plansProcessed int
	lastActivity   time.Time
}

func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:           id,
		pool:         pool,
		status:       workerStatusIdle,
		lastActivity: time.Now().UTC(),
	}
}

func (w *Worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		if !w.sleep(w.pollInterval()) {
			return
		}
		if err := w.pollAndProcess(); err != nil {
			if errors.Is(err, ErrNoPlansAvailable) || errors.Is(err, ErrAtCapacity) {
				continue
			}
			w.pool.logger.Warn("Worker poll failed", "worker_id", w.id, "error", err)
		}
	}
}

// sleep waits for d or the pool stopping, whichever comes first. Reports
// false on stop.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.pool.stopCh:
		return false
	}
}

// pollInterval applies jitter so replicas spread their claim attempts
// instead of stampeding the store in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.pool.queueCfg.PollInterval
	if jitter := w.pool.queueCfg.PollIntervalJitter; jitter > 0 {
		base += time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	}
	if base < time.Millisecond {
		base = time.Millisecond
	}
	return base
}

// pollAndProcess claims and executes one plan. ErrAtCapacity and
// ErrNoPlansAvailable are the quiet outcomes of an idle system.
func (w *Worker) pollAndProcess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	running, err := w.pool.plans.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("count running plans: %w", err)
	}
	if len(running) >= w.pool.queueCfg.MaxConcurrentPlans {
		return ErrAtCapacity
	}

	candidates, err := w.pool.plans.ListClaimable(ctx, claimBatchSize)
	if err != nil {
		return fmt.Errorf("list claimable plans: %w", err)
	}
	if len(candidates) == 0 {
		return ErrNoPlansAvailable
	}

	for _, candidate := range candidates {
		claimed, err := w.pool.plans.ClaimPlan(ctx, candidate.SessionID, candidate.ID, w.pool.podID)
		if err != nil {
			if errors.Is(err, services.ErrNotClaimable) || errors.Is(err, services.ErrConcurrentModification) {
				// Another replica won this one; try the next candidate.
				continue
			}
			return fmt.Errorf("claim plan %s: %w", candidate.ID, err)
		}

		w.pool.logger.Info("Plan claimed",
			"worker_id", w.id, "plan_id", claimed.ID, "session_id", claimed.SessionID)
		w.setWorking(claimed.ID)
		result := w.pool.runPlan(claimed)
		w.pool.logResult(claimed.ID, result)
		w.setIdle()
		return nil
	}
	return ErrNoPlansAvailable
}

func (w *Worker) setWorking(planID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = workerStatusWorking
	w.currentPlanID = planID
	w.lastActivity = time.Now().UTC()
}

func (w *Worker) setIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = workerStatusIdle
	w.currentPlanID = ""
	w.plansProcessed++
	w.lastActivity = time.Now().UTC()
}

func (w *Worker) health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         w.status,
		CurrentPlanID:  w.currentPlanID,
		PlansProcessed: w.plansProcessed,
		LastActivity:   w.lastActivity,
	}
}
