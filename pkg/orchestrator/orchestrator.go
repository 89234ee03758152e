package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/services"
)

// Params configures an Orchestrator.
type Params struct {
	// PodID identifies this replica in plan claims. It must be stable across
	// restarts of the same replica so startup resumption finds its own plans
	// (the hostname works under kubernetes).
	PodID     string
	Defaults  *config.Defaults
	Queue     *config.QueueConfig
	Store     persistence.Store
	Registry  *config.TeamRegistry
	Agents    *agent.Factory
	Publisher *events.EventPublisher
	// Notifier is optional; nil disables settlement notifications.
	Notifier Notifier
	Logger   *slog.Logger
}

// Orchestrator owns the plan lifecycle: it plans user requests, applies the
// approval/clarification/cancellation commands, and runs the worker pool
// that executes claimed plans.
type Orchestrator struct {
	podID     string
	defaults  *config.Defaults
	queueCfg  *config.QueueConfig
	plans     *services.PlanService
	sessions  *services.SessionService
	teams     *services.TeamService
	messages  *services.MessageService
	datasets  *services.DatasetService
	agents    *agent.Factory
	publisher *events.EventPublisher
	notifier  Notifier
	logger    *slog.Logger

	desk *clarificationDesk
	pool *WorkerPool
}

// New wires an orchestrator over the given store and agent factory.
func New(p Params) (*Orchestrator, error) {
	if p.PodID == "" {
		return nil, fmt.Errorf("orchestrator: pod id is required")
	}
	if p.Defaults == nil {
		return nil, fmt.Errorf("orchestrator: defaults are required")
	}
	if p.Queue == nil {
		return nil, fmt.Errorf("orchestrator: queue config is required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if p.Agents == nil {
		return nil, fmt.Errorf("orchestrator: agent factory is required")
	}
	if p.Publisher == nil {
		return nil, fmt.Errorf("orchestrator: event publisher is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		podID:     p.PodID,
		defaults:  p.Defaults,
		queueCfg:  p.Queue,
		plans:     services.NewPlanService(p.Store),
		sessions:  services.NewSessionService(p.Store),
		teams:     services.NewTeamService(p.Store, p.Registry),
		messages:  services.NewMessageService(p.Store),
		datasets:  services.NewDatasetService(p.Store),
		agents:    p.Agents,
		publisher: p.Publisher,
		notifier:  p.Notifier,
		logger:    logger.With("component", "orchestrator"),
		desk:      newClarificationDesk(),
	}
	o.pool = NewWorkerPool(PoolParams{
		PodID:    p.PodID,
		Queue:    p.Queue,
		Defaults: p.Defaults,
		Plans:    o.plans,
		Executor: newPlanExecutor(o),
		Logger:   logger,
	})
	return o, nil
}

// Start launches the worker pool, resumes plans this pod still owns from a
// previous run, and begins the orphan scan. The context bounds startup work
// only; execution runs on per-plan contexts so shutdown can be staged.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.pool.Start(); err != nil {
		return err
	}
	resumed, err := o.resumeOwnedPlans(ctx)
	if err != nil {
		o.pool.Stop()
		return fmt.Errorf("startup resumption scan: %w", err)
	}
	o.pool.Submit(resumed...)
	o.logger.Info("Orchestrator started",
		"pod_id", o.podID, "workers", o.queueCfg.WorkerCount, "resumed_plans", len(resumed))
	return nil
}

// Stop drains the pool: polling stops immediately, executing plans get the
// graceful shutdown window to finish, then their contexts are cancelled and
// the plans stay resumable in the store.
func (o *Orchestrator) Stop() {
	o.pool.Stop()
	o.logger.Info("Orchestrator stopped", "pod_id", o.podID)
}

// Health reports the pool snapshot for the health endpoint.
func (o *Orchestrator) Health(ctx context.Context) PoolHealth {
	return o.pool.Health(ctx)
}

// Pool exposes the worker pool for command wiring and tests.
func (o *Orchestrator) Pool() *WorkerPool {
	return o.pool
}

// --- Commands ---

// Approve applies the user's approval decision. Approving flips the approved
// flag and leaves the claim to the pool; a duplicate approval is a no-op.
// Rejecting cancels the plan outright.
func (o *Orchestrator) Approve(ctx context.Context, sessionID, planID string, approved bool) error {
	if !approved {
		return o.reject(ctx, sessionID, planID)
	}

	var applied bool
	_, err := o.plans.UpdatePlan(ctx, sessionID, planID, func(p *models.Plan) error {
		applied = false
		switch {
		case p.Approved:
			return nil
		case p.OverallStatus == models.PlanStatusAwaitingApproval:
			p.Approved = true
			applied = true
			return nil
		default:
			return fmt.Errorf("%w: cannot approve a %s plan", services.ErrIllegalTransition, p.OverallStatus)
		}
	})
	if err != nil {
		return err
	}
	if !applied {
		o.logger.Info("Duplicate approval ignored", "plan_id", planID)
		return nil
	}

	o.appendMessage(ctx, models.Message{
		SessionID: sessionID,
		PlanID:    planID,
		Kind:      models.MessageKindApprovalDecision,
		Body:      "approved",
	})
	o.logger.Info("Plan approved", "plan_id", planID, "session_id", sessionID)
	return nil
}

// reject settles an unapproved plan as Cancelled. Only plans still at the
// approval gate can be rejected; running plans go through Cancel.
func (o *Orchestrator) reject(ctx context.Context, sessionID, planID string) error {
	var applied bool
	plan, err := o.plans.UpdatePlan(ctx, sessionID, planID, func(p *models.Plan) error {
		applied = false
		switch p.OverallStatus {
		case models.PlanStatusCancelled:
			return nil
		case models.PlanStatusAwaitingApproval:
			p.OverallStatus = models.PlanStatusCancelled
			p.CancellationRequested = true
			p.SkipUnsettledSteps(nowUTC())
			applied = true
			return nil
		default:
			return fmt.Errorf("%w: cannot reject a %s plan", services.ErrIllegalTransition, p.OverallStatus)
		}
	})
	if err != nil {
		return err
	}
	if !applied {
		o.logger.Info("Duplicate rejection ignored", "plan_id", planID)
		return nil
	}

	o.appendMessage(ctx, models.Message{
		SessionID: sessionID,
		PlanID:    planID,
		Kind:      models.MessageKindApprovalDecision,
		Body:      "rejected",
	})
	if err := o.publisher.PublishPlanCancelled(ctx, sessionID, planID, events.PlanCancelledPayload{
		Reason: "rejected by user",
	}); err != nil {
		o.logger.Warn("Failed to publish PlanCancelled", "plan_id", planID, "error", err)
	}
	o.releaseActivePlan(ctx, sessionID, planID)
	o.notifySettled(plan, &ExecutionResult{Status: models.PlanStatusCancelled})
	o.logger.Info("Plan rejected", "plan_id", planID, "session_id", sessionID)
	return nil
}

// Clarify answers a parked clarification: the plan moves back to Running,
// the reply lands in the transcript, and the parked task (local or remote)
// picks it up. A replayed answer for an already-advanced step is skipped.
func (o *Orchestrator) Clarify(ctx context.Context, sessionID, planID, reply string) error {
	if strings.TrimSpace(reply) == "" {
		return services.NewValidationError("reply", "required")
	}

	var applied bool
	var stepID string
	_, err := o.plans.UpdatePlan(ctx, sessionID, planID, func(p *models.Plan) error {
		applied = false
		stepID = ""
		switch p.OverallStatus {
		case models.PlanStatusAwaitingClarification:
			step := p.StepAwaitingClarification()
			if step == nil {
				return fmt.Errorf("plan %s awaits clarification but no step is parked", p.ID)
			}
			step.Status = models.StepStatusRunning
			p.OverallStatus = models.PlanStatusRunning
			stepID = step.ID
			applied = true
			return nil
		case models.PlanStatusRunning:
			// A duplicate of an answer that already unparked the plan: the
			// step that asked is Running again with its clarification spent.
			step := p.NextIncompleteStep()
			if step != nil && step.Status == models.StepStatusRunning && step.ClarificationCount > 0 {
				return nil
			}
			return fmt.Errorf("%w: plan %s is running", ErrNoPendingClarification, p.ID)
		default:
			return fmt.Errorf("%w: plan %s is %s", ErrNoPendingClarification, p.ID, p.OverallStatus)
		}
	})
	if err != nil {
		return err
	}
	if !applied {
		o.logger.Info("Replayed clarification ignored", "plan_id", planID)
		return nil
	}

	// Transcript before delivery: a remote parked task discovers the answer
	// by reading the transcript after it sees the status flip.
	o.appendMessage(ctx, models.Message{
		SessionID: sessionID,
		PlanID:    planID,
		StepID:    stepID,
		Kind:      models.MessageKindClarificationReply,
		Body:      reply,
	})
	if err := o.publisher.PublishClarificationAnswered(ctx, sessionID, planID, stepID, events.ClarificationAnsweredPayload{
		Answer: reply,
	}); err != nil {
		o.logger.Warn("Failed to publish ClarificationAnswered", "plan_id", planID, "error", err)
	}

	delivered := o.desk.deliver(planID, reply)
	o.logger.Info("Clarification answered", "plan_id", planID, "step_id", stepID, "delivered_locally", delivered)
	return nil
}

// Cancel requests plan cancellation. Plans still at the approval gate settle
// immediately; executing plans get the flag, a wake-up for parked waiters,
// and a hard deadline after which their context is cut.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID, planID, reason string) error {
	var settled, requested bool
	plan, err := o.plans.UpdatePlan(ctx, sessionID, planID, func(p *models.Plan) error {
		settled, requested = false, false
		switch p.OverallStatus {
		case models.PlanStatusCancelled:
			return nil
		case models.PlanStatusCompleted, models.PlanStatusFailed:
			return fmt.Errorf("%w: plan %s is already %s", services.ErrIllegalTransition, p.ID, p.OverallStatus)
		case models.PlanStatusCreated, models.PlanStatusAwaitingApproval:
			// Not claimed by any worker; settle right here.
			p.CancellationRequested = true
			p.OverallStatus = models.PlanStatusCancelled
			p.SkipUnsettledSteps(nowUTC())
			settled = true
			return nil
		default:
			if p.CancellationRequested {
				return nil
			}
			p.CancellationRequested = true
			requested = true
			return nil
		}
	})
	if err != nil {
		return err
	}

	if reason == "" {
		reason = "cancelled by user"
	}
	switch {
	case settled:
		if err := o.publisher.PublishPlanCancelled(ctx, sessionID, planID, events.PlanCancelledPayload{
			Reason: reason,
		}); err != nil {
			o.logger.Warn("Failed to publish PlanCancelled", "plan_id", planID, "error", err)
		}
		o.releaseActivePlan(ctx, sessionID, planID)
		o.notifySettled(plan, &ExecutionResult{Status: models.PlanStatusCancelled})
		o.logger.Info("Plan cancelled before execution", "plan_id", planID, "session_id", sessionID)
	case requested:
		// The executing task notices at its next cooperative check; the
		// wake-up and the hard deadline bound how long that takes locally.
		o.desk.wakeUp(planID)
		armed := o.pool.ArmHardDeadline(planID, o.defaults.CancelHardDeadline())
		o.logger.Info("Plan cancellation requested",
			"plan_id", planID, "session_id", sessionID, "hard_deadline_armed", armed)
	default:
		o.logger.Info("Duplicate cancellation ignored", "plan_id", planID)
	}
	return nil
}

// --- Shared helpers ---

// appendMessage writes a transcript entry, logging instead of failing: the
// transcript enriches resumption and the UI, but a write hiccup must not
// fail a command or a plan.
func (o *Orchestrator) appendMessage(ctx context.Context, msg models.Message) {
	if _, err := o.messages.AppendMessage(ctx, msg); err != nil {
		o.logger.Warn("Failed to append transcript message",
			"session_id", msg.SessionID, "plan_id", msg.PlanID, "kind", msg.Kind, "error", err)
	}
}

func (o *Orchestrator) releaseActivePlan(ctx context.Context, sessionID, planID string) {
	if err := o.sessions.ReleaseActivePlan(ctx, sessionID, planID); err != nil {
		o.logger.Warn("Failed to release active plan slot",
			"session_id", sessionID, "plan_id", planID, "error", err)
	}
}

func (o *Orchestrator) notifySettled(plan *models.Plan, result *ExecutionResult) {
	if o.notifier == nil || plan == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	o.notifier.PlanSettled(ctx, plan, result)
}
