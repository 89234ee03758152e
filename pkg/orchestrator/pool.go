package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/services"
)

// PoolParams configures a WorkerPool.
type PoolParams struct {
	PodID    string
	Queue    *config.QueueConfig
	Defaults *config.Defaults
	Plans    *services.PlanService
	Executor PlanExecutor
	Logger   *slog.Logger
}

// WorkerPool claims approved plans and executes them. Workers poll the store
// with jitter so replicas spread their claim attempts; execution itself runs
// on per-plan contexts derived from the plan deadline, never from the polling
// context, which is what makes the two-phase shutdown possible.
type WorkerPool struct {
	podID    string
	queueCfg *config.QueueConfig
	defaults *config.Defaults
	plans    *services.PlanService
	executor PlanExecutor
	logger   *slog.Logger

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	started bool
	// active maps plan id to the handle controlling its run on this pod.
	active map[string]*planHandle

	orphanMu         sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// planHandle controls one executing plan: its context cancel and, once a
// cancellation request arrives, the hard-deadline timer that forces the
// context if cooperative cancellation stalls.
type planHandle struct {
	cancel    context.CancelFunc
	hardTimer *time.Timer
}

// NewWorkerPool creates a pool with the configured number of workers. Call
// Start to begin polling.
func NewWorkerPool(p PoolParams) *WorkerPool {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := &WorkerPool{
		podID:    p.PodID,
		queueCfg: p.Queue,
		defaults: p.Defaults,
		plans:    p.Plans,
		executor: p.Executor,
		logger:   logger.With("component", "worker_pool", "pod_id", p.PodID),
		stopCh:   make(chan struct{}),
		active:   make(map[string]*planHandle),
	}
	for i := 0; i < p.Queue.WorkerCount; i++ {
		pool.workers = append(pool.workers, newWorker(fmt.Sprintf("worker-%d", i), pool))
	}
	return pool
}

// Start launches the workers and the orphan scan.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.mu.Unlock()

	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run(&p.wg)
	}
	p.wg.Add(1)
	go p.runOrphanScan()

	p.logger.Info("Worker pool started", "workers", len(p.workers))
	return nil
}

// Stop shuts the pool down in two phases: polling stops immediately, then
// executing plans get the graceful window to finish before their contexts
// are cancelled. Interrupted plans keep their claim and resume on restart.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("Worker pool drained")
		case <-time.After(p.queueCfg.GracefulShutdownTimeout):
			p.logger.Warn("Graceful shutdown window elapsed, cancelling executing plans",
				"timeout", p.queueCfg.GracefulShutdownTimeout)
			p.cancelAll()
			<-done
		}
	})
}

// Submit hands already-claimed plans straight to execution, bypassing the
// claim poll. Used for startup resumption and orphan takeover.
func (p *WorkerPool) Submit(plans ...*models.Plan) {
	for _, plan := range plans {
		plan := plan
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			result := p.runPlan(plan)
			p.logResult(plan.ID, result)
		}()
	}
}

// runPlan executes one claimed plan under its deadline context. The context
// derives from Background, not the polling context, so stopping the poll
// never kills an executing plan.
func (p *WorkerPool) runPlan(plan *models.Plan) *ExecutionResult {
	ctx, cancel := context.WithTimeout(context.Background(), p.defaults.PlanDeadline())
	if !p.tryRegister(plan.ID, cancel) {
		cancel()
		return &ExecutionResult{
			Status:      plan.OverallStatus,
			Interrupted: true,
			Err:         fmt.Errorf("plan %s already executing on this pod", plan.ID),
		}
	}
	defer func() {
		p.unregister(plan.ID)
		cancel()
	}()
	return p.executor.Execute(ctx, plan)
}

func (p *WorkerPool) tryRegister(planID string, cancel context.CancelFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.active[planID]; exists {
		return false
	}
	p.active[planID] = &planHandle{cancel: cancel}
	return true
}

func (p *WorkerPool) unregister(planID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.active[planID]; ok {
		if h.hardTimer != nil {
			h.hardTimer.Stop()
		}
		delete(p.active, planID)
	}
}

func (p *WorkerPool) isActive(planID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.active[planID]
	return ok
}

// ArmHardDeadline schedules a forced context cancel for a plan executing on
// this pod. Reports whether the plan was found; a false return means the
// plan runs elsewhere and that pod's cooperative checks must finish the job.
func (p *WorkerPool) ArmHardDeadline(planID string, d time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.active[planID]
	if !ok {
		return false
	}
	if h.hardTimer == nil {
		h.hardTimer = time.AfterFunc(d, h.cancel)
	}
	return true
}

func (p *WorkerPool) cancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for planID, h := range p.active {
		p.logger.Info("Cancelling executing plan for shutdown", "plan_id", planID)
		h.cancel()
	}
}

func (p *WorkerPool) logResult(planID string, result *ExecutionResult) {
	switch {
	case result == nil:
		p.logger.Error("Executor returned no result", "plan_id", planID)
	case result.Interrupted:
		p.logger.Info("Plan run interrupted", "plan_id", planID, "status", result.Status, "error", result.Err)
	case result.Err != nil:
		p.logger.Warn("Plan settled with error", "plan_id", planID, "status", result.Status, "error", result.Err)
	default:
		p.logger.Info("Plan settled", "plan_id", planID, "status", result.Status)
	}
}

// Health snapshots the pool for the health endpoint.
func (p *WorkerPool) Health(ctx context.Context) PoolHealth {
	h := PoolHealth{
		PodID:          p.podID,
		TotalWorkers:   len(p.workers),
		MaxConcurrent:  p.queueCfg.MaxConcurrentPlans,
		StoreReachable: true,
	}

	running, err := p.plans.ListRunning(ctx)
	if err != nil {
		h.StoreReachable = false
		h.StoreError = err.Error()
	} else {
		h.RunningPlans = len(running)
	}
	if claimable, err := p.plans.ListClaimable(ctx, 0); err == nil {
		h.QueueDepth = len(claimable)
	}

	for _, w := range p.workers {
		ws := w.health()
		if ws.Status == workerStatusWorking {
			h.ActiveWorkers++
		}
		h.WorkerStats = append(h.WorkerStats, ws)
	}

	p.orphanMu.Lock()
	h.LastOrphanScan = p.lastOrphanScan
	h.OrphansRecovered = p.orphansRecovered
	p.orphanMu.Unlock()

	h.IsHealthy = h.StoreReachable
	return h
}
