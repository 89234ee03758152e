package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/services"
)

// CreatePlan runs the planning mode for one user request: the team's planner
// agent drafts steps, the draft is validated against the roster, and the
// plan lands in the store parked at the approval gate. Nothing executes
// until Approve.
func (o *Orchestrator) CreatePlan(ctx context.Context, sessionID, teamID, userRequest string) (*models.Plan, error) {
	if strings.TrimSpace(userRequest) == "" {
		return nil, services.NewValidationError("user_request", "required")
	}
	if _, err := o.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	team, err := o.teams.ResolveTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	prior := o.priorResultSummary(ctx, sessionID)
	handles, err := o.datasets.ListDatasets(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session datasets: %w", err)
	}

	planID := uuid.New().String()
	plannerSpec := *team.PlannerAgent()
	// The planner proposes work, it never performs it: no tools regardless
	// of what the spec grants for execution.
	plannerSpec.ToolCapable = false
	plannerSpec.AllowedTools = nil

	planner, err := o.agents.AgentFor(ctx, plannerSpec, planID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build planner agent for team %q: %w", teamID, err)
	}
	defer func() { _ = planner.Close() }()

	draft, err := planner.Plan(ctx, agent.PlannerInput{
		SystemPrompt: plannerSpec.SystemPrompt,
		UserRequest:  userRequest,
		PriorResult:  prior,
		Datasets:     derefHandles(handles),
		Roster:       team.Agents,
		MaxSteps:     o.defaults.PlannerMaxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("planning failed for team %q: %w", teamID, err)
	}
	if err := o.validateDraft(team, draft); err != nil {
		return nil, err
	}

	plan := models.NewPlan(planID, sessionID, teamID, userRequest, *draft, nowUTC())
	plan.OverallStatus = models.PlanStatusAwaitingApproval

	// The active-plan slot is taken before the document exists; on a failed
	// write the slot is handed straight back.
	if err := o.sessions.ClaimActivePlan(ctx, sessionID, planID); err != nil {
		return nil, err
	}
	if err := o.plans.CreatePlan(ctx, plan); err != nil {
		o.releaseActivePlan(ctx, sessionID, planID)
		return nil, err
	}

	o.appendMessage(ctx, models.Message{
		SessionID: sessionID,
		PlanID:    planID,
		Kind:      models.MessageKindUserRequest,
		Body:      userRequest,
	})
	o.appendMessage(ctx, models.Message{
		SessionID: sessionID,
		PlanID:    planID,
		Kind:      models.MessageKindApprovalRequest,
		Body:      renderPlanProposal(plan),
	})
	if err := o.publisher.PublishPlanCreated(ctx, sessionID, planID, events.PlanCreatedPayload{
		SessionID:   sessionID,
		TeamID:      teamID,
		UserRequest: userRequest,
		Status:      plan.OverallStatus,
		Facts:       plan.Facts,
		Steps:       stepSummaries(plan),
	}); err != nil {
		o.logger.Warn("Failed to publish PlanCreated", "plan_id", planID, "error", err)
	}

	o.logger.Info("Plan created, awaiting approval",
		"plan_id", planID, "session_id", sessionID, "team_id", teamID, "steps", len(plan.Steps))
	return plan, nil
}

// validateDraft enforces the step cap and that every step names a roster
// agent. A planner that hallucinates an agent fails plan creation; the user
// can simply resubmit.
func (o *Orchestrator) validateDraft(team *models.TeamConfig, draft *models.PlanDraft) error {
	if len(draft.Steps) == 0 {
		return services.NewValidationError("steps", "planner proposed no steps")
	}
	if o.defaults.PlannerMaxSteps > 0 && len(draft.Steps) > o.defaults.PlannerMaxSteps {
		return services.NewValidationError("steps",
			fmt.Sprintf("planner proposed %d steps, limit is %d", len(draft.Steps), o.defaults.PlannerMaxSteps))
	}
	for i, s := range draft.Steps {
		if _, ok := team.Agent(s.AgentName); !ok {
			return services.NewValidationError("steps",
				fmt.Sprintf("step %d names unknown agent %q", i+1, s.AgentName))
		}
	}
	return nil
}

// priorResultSummary condenses the session's latest terminal plan result for
// the planner. Empty when the session has no usable prior result; lookup
// failures degrade to empty rather than blocking planning.
func (o *Orchestrator) priorResultSummary(ctx context.Context, sessionID string) string {
	prior, err := o.plans.LatestTerminalPlan(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			o.logger.Warn("Failed to load prior plan for planning context",
				"session_id", sessionID, "error", err)
		}
		return ""
	}
	if prior.FinalResult == "" {
		return ""
	}
	return truncateRunes(prior.FinalResult, o.defaults.PriorSummaryMaxChars)
}

// renderPlanProposal is the human-readable approval request stored in the
// transcript.
func renderPlanProposal(plan *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposed plan (%d steps):\n", len(plan.Steps))
	for _, s := range plan.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s\n", s.Ordinal, s.AgentName, s.Action)
	}
	if plan.Facts != "" {
		fmt.Fprintf(&b, "\nFacts:\n%s\n", plan.Facts)
	}
	b.WriteString("\nApprove to execute, or reject to discard.")
	return b.String()
}

func stepSummaries(plan *models.Plan) []events.StepSummary {
	out := make([]events.StepSummary, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		out = append(out, events.StepSummary{
			StepID:    s.ID,
			Ordinal:   s.Ordinal,
			AgentName: s.AgentName,
			Action:    s.Action,
		})
	}
	return out
}

func derefHandles(handles []*models.DatasetHandle) []models.DatasetHandle {
	out := make([]models.DatasetHandle, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			out = append(out, *h)
		}
	}
	return out
}

// truncateRunes cuts s to at most max runes. Zero or negative max means no
// limit.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func nowUTC() time.Time { return time.Now().UTC() }
