package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/services"
)

const notifyTimeout = 10 * time.Second

// planExecutor is the real PlanExecutor. It owns every plan-state mutation
// between claim and settlement; all of them re-verify the pod's claim inside
// the patch, so a takeover stops a stale run at its next write.
type planExecutor struct {
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
	desk      *clarificationDesk
	logger    *slog.Logger
}

func newPlanExecutor(o *Orchestrator) *planExecutor {
	return &planExecutor{
		podID:     o.podID,
		defaults:  o.defaults,
		queueCfg:  o.queueCfg,
		plans:     o.plans,
		sessions:  o.sessions,
		teams:     o.teams,
		messages:  o.messages,
		datasets:  o.datasets,
		agents:    o.agents,
		publisher: o.publisher,
		notifier:  o.notifier,
		desk:      o.desk,
		logger:    o.logger.With("component", "plan_executor"),
	}
}

// Execute runs one claimed plan to settlement or interruption. The plan may
// be freshly claimed or resumed mid-flight; the loop re-derives its position
// from the document either way.
func (e *planExecutor) Execute(ctx context.Context, plan *models.Plan) *ExecutionResult {
	logger := e.logger.With("plan_id", plan.ID, "session_id", plan.SessionID, "team_id", plan.TeamID)
	logger.Info("Plan execution starting", "status", plan.OverallStatus, "steps", len(plan.Steps))

	run := &planRun{
		e:      e,
		plan:   plan,
		logger: logger,
		agents: make(map[string]*agent.Agent),
		seeded: make(map[string]bool),
	}
	defer run.closeAgents()

	team, err := e.teams.ResolveTeam(ctx, plan.TeamID)
	if err != nil {
		return run.failPlan(models.StepErrorPersistence, fmt.Sprintf("resolve team %q: %v", plan.TeamID, err))
	}
	run.team = team

	handles, err := e.datasets.ListDatasets(ctx, plan.SessionID)
	if err != nil {
		// Execution proceeds without handles; the planner already saw them
		// and prior step outputs carry whatever mattered.
		logger.Warn("Failed to load dataset handles", "error", err)
	}
	run.handles = derefHandles(handles)

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go run.heartbeat(hbCtx)

	return run.loop(ctx)
}

// appendMessage mirrors Orchestrator.appendMessage for the execution side.
func (e *planExecutor) appendMessage(ctx context.Context, msg models.Message) {
	if _, err := e.messages.AppendMessage(ctx, msg); err != nil {
		e.logger.Warn("Failed to append transcript message",
			"session_id", msg.SessionID, "plan_id", msg.PlanID, "kind", msg.Kind, "error", err)
	}
}

func (e *planExecutor) releaseActivePlan(ctx context.Context, sessionID, planID string) {
	if err := e.sessions.ReleaseActivePlan(ctx, sessionID, planID); err != nil {
		e.logger.Warn("Failed to release active plan slot",
			"session_id", sessionID, "plan_id", planID, "error", err)
	}
}

// planRun is the mutable state of one Execute call.
type planRun struct {
	e      *planExecutor
	team   *models.TeamConfig
	logger *slog.Logger

	plan    *models.Plan
	handles []models.DatasetHandle
	agents  map[string]*agent.Agent
	// seeded tracks which agents already received the dataset handles in a
	// step seed; each agent sees them once per plan.
	seeded map[string]bool
}

// loop drives steps until the plan settles. Position is always re-derived
// from a fresh document read, which is what makes resumption and cross-pod
// commands converge on the same behaviour.
func (r *planRun) loop(ctx context.Context) *ExecutionResult {
	for {
		if ctx.Err() != nil {
			return r.interrupted(ctx)
		}
		fresh, err := r.e.plans.GetPlan(ctx, r.plan.SessionID, r.plan.ID)
		if err != nil {
			return r.failPlan(models.StepErrorPersistence, fmt.Sprintf("reload plan: %v", err))
		}
		r.plan = fresh
		if r.plan.ClaimedBy != r.e.podID {
			return r.claimLost()
		}
		if r.plan.OverallStatus.Terminal() {
			// Settled behind our back; nothing left to drive.
			return &ExecutionResult{Status: r.plan.OverallStatus, FinalResult: r.plan.FinalResult}
		}
		if r.plan.CancellationRequested {
			return r.cancelPlan("cancelled by user")
		}

		step := r.plan.NextIncompleteStep()
		if step == nil {
			return r.completePlan(ctx)
		}
		if step.Status == models.StepStatusFailed {
			// A crash landed between the step's failure and the plan's
			// settlement; finish the settlement now.
			return r.failPlanAtStep(step.ID, step.ErrorKind, step.ErrorMessage)
		}
		if res := r.runStep(ctx, step); res != nil {
			return res
		}
	}
}

// patch applies fn under the pod's claim fence.
func (r *planRun) patch(fn func(*models.Plan) error) error {
	updated, err := r.e.plans.UpdatePlan(context.Background(), r.plan.SessionID, r.plan.ID, func(p *models.Plan) error {
		if p.ClaimedBy != r.e.podID {
			return fmt.Errorf("%w: plan %s now claimed by %q", errClaimLost, p.ID, p.ClaimedBy)
		}
		return fn(p)
	})
	if err != nil {
		return err
	}
	r.plan = updated
	return nil
}

// heartbeat keeps the claim fresh for the whole run, parked time included,
// so a long clarification wait is not mistaken for a dead owner.
func (r *planRun) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.e.queueCfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.e.plans.Heartbeat(ctx, r.plan.SessionID, r.plan.ID, r.e.podID)
			if err == nil {
				continue
			}
			if errors.Is(err, services.ErrNotClaimable) {
				// The run itself notices at its next write or check.
				r.logger.Warn("Heartbeat lost the claim to another pod")
				return
			}
			r.logger.Warn("Failed to refresh plan heartbeat", "error", err)
		}
	}
}

// cancellationCheck is the cooperative cancel point between awaits.
func (r *planRun) cancellationCheck(ctx context.Context) *ExecutionResult {
	if ctx.Err() != nil {
		return r.interrupted(ctx)
	}
	fresh, err := r.e.plans.GetPlan(ctx, r.plan.SessionID, r.plan.ID)
	if err != nil {
		r.logger.Warn("Failed to refresh plan for cancellation check", "error", err)
		return nil
	}
	r.plan = fresh
	if r.plan.ClaimedBy != r.e.podID {
		return r.claimLost()
	}
	if r.plan.CancellationRequested {
		return r.cancelPlan("cancelled by user")
	}
	return nil
}

// interrupted classifies a dead plan context: the plan deadline fails the
// plan, user cancellation settles it, graceful shutdown leaves it resumable.
func (r *planRun) interrupted(ctx context.Context) *ExecutionResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return r.failPlan(models.StepErrorAgent,
			fmt.Sprintf("plan deadline of %s exceeded", r.e.defaults.PlanDeadline()))
	}
	fresh, err := r.e.plans.GetPlan(context.Background(), r.plan.SessionID, r.plan.ID)
	if err == nil {
		r.plan = fresh
	}
	if r.plan.CancellationRequested {
		return r.cancelPlan("cancelled by user")
	}
	r.logger.Info("Plan run interrupted, leaving it resumable", "status", r.plan.OverallStatus)
	return &ExecutionResult{Status: r.plan.OverallStatus, Interrupted: true, Err: ctx.Err()}
}

// claimLost stops a run whose plan was taken over. State is untouched; the
// new owner drives the plan now.
func (r *planRun) claimLost() *ExecutionResult {
	r.logger.Warn("Plan claim lost to another pod, stopping this run", "claimed_by", r.plan.ClaimedBy)
	return &ExecutionResult{Status: r.plan.OverallStatus, Interrupted: true, Err: errClaimLost}
}

// --- Settlement paths ---

// completePlan settles a plan whose steps all finished: executive summary
// (fail-open), final result, Completed.
func (r *planRun) completePlan(ctx context.Context) *ExecutionResult {
	lastOutput := r.plan.LastStepOutput()
	finalResult := lastOutput
	if summary := r.executiveSummary(ctx, lastOutput); summary != "" {
		finalResult = summary + "\n\n" + lastOutput
	}

	err := r.patch(func(p *models.Plan) error {
		p.OverallStatus = models.PlanStatusCompleted
		p.FinalResult = finalResult
		return nil
	})
	if err != nil {
		if errors.Is(err, errClaimLost) {
			return r.claimLost()
		}
		r.logger.Error("Failed to persist plan completion", "error", err)
		return &ExecutionResult{Status: r.plan.OverallStatus, Err: fmt.Errorf("persist completion: %w", err)}
	}

	bg := context.Background()
	if finalResult != "" {
		r.e.appendMessage(bg, models.Message{
			SessionID: r.plan.SessionID,
			PlanID:    r.plan.ID,
			Kind:      models.MessageKindFinalResult,
			Body:      finalResult,
		})
	}
	if err := r.e.publisher.PublishPlanCompleted(bg, r.plan.SessionID, r.plan.ID, events.PlanCompletedPayload{
		FinalResult: finalResult,
	}); err != nil {
		r.logger.Warn("Failed to publish PlanCompleted", "error", err)
	}
	r.e.releaseActivePlan(bg, r.plan.SessionID, r.plan.ID)

	result := &ExecutionResult{Status: models.PlanStatusCompleted, FinalResult: finalResult}
	r.notifySettled(result)
	r.logger.Info("Plan completed", "final_result_chars", len(finalResult))
	return result
}

// executiveSummary asks the team's planner-designate for a short preamble
// over the last step output. Fail-open: a summary failure degrades the final
// result and surfaces as an Error event, never as a failed plan.
func (r *planRun) executiveSummary(ctx context.Context, lastOutput string) string {
	if lastOutput == "" || r.team == nil {
		return ""
	}
	spec := *r.team.PlannerAgent()
	spec.ToolCapable = false
	spec.AllowedTools = nil

	summarizer, err := r.e.agents.AgentFor(ctx, spec, r.plan.ID, r.plan.SessionID)
	if err != nil {
		r.reportSummaryFailure(err)
		return ""
	}
	defer func() { _ = summarizer.Close() }()

	sumCtx, cancel := context.WithTimeout(ctx, r.e.defaults.AgentTurnTimeout())
	defer cancel()
	summary, err := summarizer.Summarize(sumCtx, r.plan.UserRequest, lastOutput)
	if err != nil {
		r.reportSummaryFailure(err)
		return ""
	}
	return summary
}

func (r *planRun) reportSummaryFailure(err error) {
	r.logger.Warn("Executive summary failed, using last step output as final result", "error", err)
	pubErr := r.e.publisher.PublishError(context.Background(), r.plan.SessionID, r.plan.ID, events.ErrorPayload{
		Message: "executive summary generation failed: " + err.Error(),
	})
	if pubErr != nil {
		r.logger.Warn("Failed to publish Error event", "error", pubErr)
	}
}

// failPlan settles the plan as Failed without blaming a specific step.
func (r *planRun) failPlan(kind models.StepErrorKind, msg string) *ExecutionResult {
	return r.failPlanAtStep("", kind, msg)
}

// failPlanAtStep settles the plan as Failed. When stepID is set, that step
// carries the structured error; every other unsettled step is skipped. The
// step failure, the skips, and the plan transition commit in one patch.
func (r *planRun) failPlanAtStep(stepID string, kind models.StepErrorKind, msg string) *ExecutionResult {
	err := r.patch(func(p *models.Plan) error {
		now := nowUTC()
		if s := p.StepByID(stepID); s != nil {
			s.Status = models.StepStatusFailed
			s.ErrorKind = kind
			s.ErrorMessage = msg
			if s.FinishedAt == nil {
				t := now
				s.FinishedAt = &t
			}
		}
		p.SkipUnsettledSteps(now)
		p.OverallStatus = models.PlanStatusFailed
		return nil
	})
	if err != nil {
		if errors.Is(err, errClaimLost) {
			return r.claimLost()
		}
		r.logger.Error("Failed to persist plan failure", "error", err, "kind", kind)
		return &ExecutionResult{Status: r.plan.OverallStatus, Err: fmt.Errorf("%s: %s", kind, msg)}
	}

	bg := context.Background()
	r.e.appendMessage(bg, models.Message{
		SessionID: r.plan.SessionID,
		PlanID:    r.plan.ID,
		StepID:    stepID,
		Kind:      models.MessageKindError,
		Body:      msg,
	})
	if stepID != "" {
		if err := r.e.publisher.PublishStepFailed(bg, r.plan.SessionID, r.plan.ID, stepID, events.StepFailedPayload{
			ErrorKind: kind,
			Message:   msg,
		}); err != nil {
			r.logger.Warn("Failed to publish StepFailed", "error", err)
		}
	}
	if err := r.e.publisher.PublishPlanFailed(bg, r.plan.SessionID, r.plan.ID, events.PlanFailedPayload{
		ErrorKind: kind,
		Message:   msg,
	}); err != nil {
		r.logger.Warn("Failed to publish PlanFailed", "error", err)
	}
	r.e.releaseActivePlan(bg, r.plan.SessionID, r.plan.ID)

	result := &ExecutionResult{Status: models.PlanStatusFailed, Err: fmt.Errorf("%s: %s", kind, msg)}
	r.notifySettled(result)
	r.logger.Error("Plan failed", "kind", kind, "message", msg, "step_id", stepID)
	return result
}

// cancelPlan settles a cooperative cancellation. The in-flight step is
// skipped like the pending ones: cancellation is not a failure.
func (r *planRun) cancelPlan(reason string) *ExecutionResult {
	err := r.patch(func(p *models.Plan) error {
		if p.OverallStatus == models.PlanStatusCancelled {
			return nil
		}
		p.SkipUnsettledSteps(nowUTC())
		p.OverallStatus = models.PlanStatusCancelled
		return nil
	})
	if err != nil {
		if errors.Is(err, errClaimLost) {
			return r.claimLost()
		}
		r.logger.Error("Failed to persist plan cancellation", "error", err)
		return &ExecutionResult{Status: r.plan.OverallStatus, Err: fmt.Errorf("persist cancellation: %w", err)}
	}

	bg := context.Background()
	if err := r.e.publisher.PublishPlanCancelled(bg, r.plan.SessionID, r.plan.ID, events.PlanCancelledPayload{
		Reason: reason,
	}); err != nil {
		r.logger.Warn("Failed to publish PlanCancelled", "error", err)
	}
	r.e.releaseActivePlan(bg, r.plan.SessionID, r.plan.ID)

	result := &ExecutionResult{Status: models.PlanStatusCancelled}
	r.notifySettled(result)
	r.logger.Info("Plan cancelled", "reason", reason)
	return result
}

func (r *planRun) notifySettled(result *ExecutionResult) {
	if r.e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	r.e.notifier.PlanSettled(ctx, r.plan, result)
}

// agentFor returns the plan-scoped runtime for a spec, creating and caching
// it on first use so MCP sessions survive across the agent's steps.
func (r *planRun) agentFor(ctx context.Context, spec models.AgentSpec) (*agent.Agent, error) {
	if ag, ok := r.agents[spec.Name]; ok {
		return ag, nil
	}
	ag, err := r.e.agents.AgentFor(ctx, spec, r.plan.ID, r.plan.SessionID)
	if err != nil {
		return nil, err
	}
	r.agents[spec.Name] = ag
	return ag, nil
}

func (r *planRun) closeAgents() {
	for name, ag := range r.agents {
		if err := ag.Close(); err != nil {
			r.logger.Warn("Failed to close agent", "agent", name, "error", err)
		}
	}
}
