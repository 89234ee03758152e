// Package orchestrator drives plans from creation to settlement: planning,
// the approval gate, claimed execution on a worker pool, clarification
// parking, cancellation, and crash resumption. Aside from retention cleanup,
// every plan mutation in the system originates here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/services"
)

var (
	// ErrNoPlansAvailable indicates no approved, unclaimed plans were found.
	ErrNoPlansAvailable = errors.New("no approved plans available")

	// ErrAtCapacity indicates the global concurrent-plan limit is reached.
	ErrAtCapacity = errors.New("at capacity, cannot claim more plans")

	// ErrNoPendingClarification is returned by Clarify when the plan is not
	// waiting on a question. Wraps ErrIllegalTransition so API error mapping
	// treats both as a state conflict.
	ErrNoPendingClarification = fmt.Errorf("%w: no pending clarification", services.ErrIllegalTransition)

	// errClaimLost aborts a guarded patch when another pod took the plan
	// over. The running task stops silently; the new owner drives the plan.
	errClaimLost = errors.New("plan claim lost")

	// errClarificationBudget aborts a park patch when the step already used
	// its clarification allowance.
	errClarificationBudget = errors.New("clarification budget exhausted")
)

// PlanExecutor runs one claimed plan until it settles, loses its claim, or
// the context ends. Implemented by planExecutor; faked in pool tests.
type PlanExecutor interface {
	Execute(ctx context.Context, plan *models.Plan) *ExecutionResult
}

// ExecutionResult reports how one plan run ended. Plan state is persisted
// progressively during the run; this value only feeds worker logging and
// settlement notifications.
type ExecutionResult struct {
	// Status is the plan's status when the run stopped: terminal after a
	// settlement, non-terminal after an interruption.
	Status      models.PlanStatus
	FinalResult string
	Err         error
	// Interrupted is set when the run stopped without settling the plan
	// (graceful shutdown, claim takeover); the plan stays resumable.
	Interrupted bool
}

// Notifier announces settled plans to an external channel. Implementations
// must not block for long; they are invoked on the execution goroutine with
// a bounded context.
type Notifier interface {
	PlanSettled(ctx context.Context, plan *models.Plan, result *ExecutionResult)
}

// PoolHealth is a snapshot of the worker pool for the health endpoint.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	StoreReachable   bool           `json:"store_reachable"`
	StoreError       string         `json:"store_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	RunningPlans     int            `json:"running_plans"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth is one worker's slice of the pool snapshot.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	CurrentPlanID  string    `json:"current_plan_id,omitempty"`
	PlansProcessed int       `json:"plans_processed"`
	LastActivity   time.Time `json:"last_activity"`
}

// Transcript bodies for tool and clarification entries. These are the JSON
// payloads inside models.Message.Body; resumption decodes them to rebuild a
// step's exchanges without re-invoking anything.

type toolCallBody struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	// Arguments is the raw JSON argument string as the model produced it.
	Arguments string `json:"arguments"`
}

type toolResultBody struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
}

type clarificationBody struct {
	CallID   string `json:"call_id"`
	Question string `json:"question"`
}
