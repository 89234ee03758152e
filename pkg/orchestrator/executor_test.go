package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/mcp"
	"github.com/planor-ai/planor/pkg/models"
)

func waitResult(t *testing.T, ch <-chan *ExecutionResult) *ExecutionResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("plan run did not settle in time")
		return nil
	}
}

func TestPlanExecutor_RunsPlanToCompletion(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, nil)
	require.NoError(t, rig.sessions.ClaimActivePlan(ctx, session.ID, plan.ID))

	rig.llm.script(
		textScript("deployment is healthy"),
		textScript("service restarted"),
		textScript("Restart complete."),
	)

	res := rig.execute(ctx, plan)
	require.NotNil(t, res)

	assert.Equal(t, models.PlanStatusCompleted, res.Status)
	assert.Equal(t, "Restart complete.\n\nservice restarted", res.FinalResult)
	assert.NoError(t, res.Err)
	assert.False(t, res.Interrupted)

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.PlanStatusCompleted, got.OverallStatus)
	assert.Equal(t, "Restart complete.\n\nservice restarted", got.FinalResult)
	for i, step := range got.Steps {
		assert.Equal(t, models.StepStatusDone, step.Status, "step %d", i+1)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.FinishedAt)
	}
	assert.Equal(t, "deployment is healthy", got.Steps[0].OutputText)
	assert.Equal(t, "service restarted", got.Steps[1].OutputText)

	msgs := rig.transcript(t, session.ID, plan.ID)
	assert.Equal(t, []models.MessageKind{
		models.MessageKindAgentOutput,
		models.MessageKindAgentOutput,
		models.MessageKindFinalResult,
	}, kindsOf(msgs))
	assert.Equal(t, "Hands", msgs[0].AgentName)

	assert.Equal(t, []string{
		events.EventTypeStepStarted,
		events.EventTypeStepOutput,
		events.EventTypeStepStarted,
		events.EventTypeStepOutput,
		events.EventTypePlanCompleted,
	}, rig.sink.types())
	completed := rig.sink.lastOf(t, events.EventTypePlanCompleted)
	assert.Equal(t, events.SessionChannel(session.ID), completed.channel)

	// Settlement releases the session slot and notifies.
	updated, err := rig.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.ActivePlanID)
	settled := rig.notifier.settled()
	require.Len(t, settled, 1)
	assert.Equal(t, models.PlanStatusCompleted, settled[0].Status)
}

func TestPlanExecutor_SummaryFailureFallsOpen(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
	})

	rig.llm.script(
		textScript("all done"),
		errorScript("provider exploded"),
	)

	res := rig.execute(ctx, plan)

	// The plan still completes; the final result is the last step output.
	assert.Equal(t, models.PlanStatusCompleted, res.Status)
	assert.Equal(t, "all done", res.FinalResult)

	ev := rig.sink.lastOf(t, events.EventTypeError)
	var payload events.ErrorPayload
	ev.decode(t, &payload)
	assert.Contains(t, payload.Message, "executive summary generation failed")
	assert.Equal(t, 1, rig.sink.countOf(events.EventTypePlanCompleted))
}

func TestPlanExecutor_ToolCalls(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
	})

	args := `{"namespace":"prod"}`
	rig.llm.script(
		toolScript(agent.ToolCall{ID: "call-1", Name: "kubernetes.get_pods", Arguments: args}),
		textScript("three pods running"),
		textScript("Pods listed."),
	)

	res := rig.execute(ctx, plan)
	require.Equal(t, models.PlanStatusCompleted, res.Status)

	// The executor saw the call, the step recorded it with digests.
	calls := rig.tools.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, args, calls[0].Arguments)

	got := rig.getPlan(t, session.ID, plan.ID)
	require.Len(t, got.Steps[0].ToolCalls, 1)
	record := got.Steps[0].ToolCalls[0]
	assert.Equal(t, "kubernetes.get_pods", record.ToolName)
	assert.Equal(t, mcp.DigestArguments(args), record.ArgumentsDigest)
	assert.Equal(t, mcp.Digest([]byte("result of kubernetes.get_pods")), record.ResultDigest)

	msgs := rig.transcript(t, session.ID, plan.ID)
	assert.Equal(t, []models.MessageKind{
		models.MessageKindToolCall,
		models.MessageKindToolResult,
		models.MessageKindAgentOutput,
		models.MessageKindFinalResult,
	}, kindsOf(msgs))

	var callBody toolCallBody
	decodeBody(t, msgs[0], &callBody)
	assert.Equal(t, "call-1", callBody.CallID)
	assert.Equal(t, args, callBody.Arguments)

	var resultBody toolResultBody
	decodeBody(t, msgs[1], &resultBody)
	assert.Equal(t, "call-1", resultBody.CallID)
	assert.Equal(t, "result of kubernetes.get_pods", resultBody.Content)

	invoked := rig.sink.lastOf(t, events.EventTypeStepToolInvoked)
	var invokedPayload events.StepToolInvokedPayload
	invoked.decode(t, &invokedPayload)
	assert.Equal(t, "kubernetes.get_pods", invokedPayload.ToolName)
	assert.Equal(t, "kubernetes", invokedPayload.ServerID)

	returned := rig.sink.lastOf(t, events.EventTypeStepToolReturned)
	var returnedPayload events.StepToolReturnedPayload
	returned.decode(t, &returnedPayload)
	assert.False(t, returnedPayload.IsError)
	assert.Equal(t, record.ResultDigest, returnedPayload.ResultDigest)

	// The agent's next turn carried the tool result back to the model, and
	// its first turn advertised the step tools plus the clarification tool.
	require.Equal(t, 3, rig.llm.callCount())
	first := rig.llm.input(0)
	require.Len(t, first.Tools, 2)
	assert.Equal(t, "kubernetes.get_pods", first.Tools[0].Name)
	assert.Equal(t, agent.ClarificationToolName, first.Tools[1].Name)

	second := rig.llm.input(1)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, agent.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Equal(t, "result of kubernetes.get_pods", last.Content)
}

func TestPlanExecutor_ToolFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("execution error fails the step", func(t *testing.T) {
		rig := newTestRig(t)
		session := rig.newSession(t)
		plan := rig.seedClaimedPlan(t, session.ID, nil)
		rig.tools.err = &mcp.ToolError{
			Kind: mcp.ToolExecutionError, Server: "kubernetes", Tool: "get_pods", Message: "boom",
		}
		rig.llm.script(toolScript(agent.ToolCall{ID: "call-1", Name: "kubernetes.get_pods", Arguments: `{}`}))

		res := rig.execute(ctx, plan)

		assert.Equal(t, models.PlanStatusFailed, res.Status)
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "tool kubernetes.get_pods failed")
		assert.Contains(t, res.Err.Error(), "boom")

		got := rig.getPlan(t, session.ID, plan.ID)
		assert.Equal(t, models.PlanStatusFailed, got.OverallStatus)
		assert.Equal(t, models.StepStatusFailed, got.Steps[0].Status)
		assert.Equal(t, models.StepErrorTool, got.Steps[0].ErrorKind)
		assert.Contains(t, got.Steps[0].ErrorMessage, "boom")
		assert.Equal(t, models.StepStatusSkipped, got.Steps[1].Status)

		returned := rig.sink.lastOf(t, events.EventTypeStepToolReturned)
		var returnedPayload events.StepToolReturnedPayload
		returned.decode(t, &returnedPayload)
		assert.True(t, returnedPayload.IsError)

		failed := rig.sink.lastOf(t, events.EventTypeStepFailed)
		var failedPayload events.StepFailedPayload
		failed.decode(t, &failedPayload)
		assert.Equal(t, models.StepErrorTool, failedPayload.ErrorKind)
		assert.Equal(t, 1, rig.sink.countOf(events.EventTypePlanFailed))

		settled := rig.notifier.settled()
		require.Len(t, settled, 1)
		assert.Equal(t, models.PlanStatusFailed, settled[0].Status)
	})

	t.Run("policy violation gets its own kind", func(t *testing.T) {
		rig := newTestRig(t)
		session := rig.newSession(t)
		plan := rig.seedClaimedPlan(t, session.ID, nil)
		rig.tools.err = &mcp.ToolError{
			Kind: mcp.ToolDenied, Server: "kubernetes", Tool: "delete_pod", Message: "not in the allowlist",
		}
		rig.llm.script(toolScript(agent.ToolCall{ID: "call-1", Name: "kubernetes.delete_pod", Arguments: `{}`}))

		res := rig.execute(ctx, plan)

		assert.Equal(t, models.PlanStatusFailed, res.Status)
		got := rig.getPlan(t, session.ID, plan.ID)
		assert.Equal(t, models.StepErrorToolPolicy, got.Steps[0].ErrorKind)
	})
}

func TestPlanExecutor_TurnCap(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
	})
	rig.defaults.PerStepTurnCap = 2

	// Every turn asks for another tool call; the cap cuts the loop.
	rig.llm.script(
		toolScript(agent.ToolCall{ID: "call-1", Name: "kubernetes.get_pods", Arguments: `{}`}),
		toolScript(agent.ToolCall{ID: "call-2", Name: "kubernetes.get_pods", Arguments: `{}`}),
	)

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "turn cap of 2")
	assert.Equal(t, 2, rig.llm.callCount())

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepErrorTurnCap, got.Steps[0].ErrorKind)
}

func TestPlanExecutor_AgentTurnFailure(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, nil)
	rig.llm.script(errorScript("provider exploded"))

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "provider exploded")

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepErrorAgent, got.Steps[0].ErrorKind)
	assert.Equal(t, models.StepStatusSkipped, got.Steps[1].Status)
}

func TestPlanExecutor_AgentTurnTimeout(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
	})
	rig.defaults.AgentTurnTimeoutSeconds = 1
	rig.llm.hang = true

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "agent turn timed out after 1s")

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepErrorAgent, got.Steps[0].ErrorKind)
}

func TestPlanExecutor_ClarificationRoundTrip(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
	})

	rig.llm.script(
		clarificationScript("call-9", "prod or staging?"),
		textScript("restarted prod"),
		textScript("Done."),
	)

	resCh := make(chan *ExecutionResult, 1)
	go func() { resCh <- rig.execute(ctx, plan) }()

	require.Eventually(t, func() bool {
		return rig.planStatus(session.ID, plan.ID) == models.PlanStatusAwaitingClarification
	}, 2*time.Second, 5*time.Millisecond)

	parked := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepStatusAwaitingClarification, parked.Steps[0].Status)
	assert.Equal(t, 1, parked.Steps[0].ClarificationCount)

	msg := firstOfKind(rig.transcript(t, session.ID, plan.ID), models.MessageKindClarificationRequest)
	require.NotNil(t, msg)
	var question clarificationBody
	decodeBody(t, msg, &question)
	assert.Equal(t, "call-9", question.CallID)
	assert.Equal(t, "prod or staging?", question.Question)

	asked := rig.sink.lastOf(t, events.EventTypeClarificationAsked)
	var askedPayload events.ClarificationAskedPayload
	asked.decode(t, &askedPayload)
	assert.Equal(t, "Hands", askedPayload.AgentName)
	assert.Equal(t, "prod or staging?", askedPayload.Question)

	require.NoError(t, rig.orch.Clarify(ctx, session.ID, plan.ID, "prod"))

	res := waitResult(t, resCh)
	assert.Equal(t, models.PlanStatusCompleted, res.Status)
	assert.Equal(t, "Done.\n\nrestarted prod", res.FinalResult)

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepStatusDone, got.Steps[0].Status)
	assert.Equal(t, 1, got.Steps[0].ClarificationCount)

	// The answer reached the model as a clarification tool result.
	second := rig.llm.input(1)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, agent.RoleTool, last.Role)
	assert.Equal(t, "call-9", last.ToolCallID)
	assert.Equal(t, "prod", last.Content)
}

func TestPlanExecutor_ClarificationBudget(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
	})
	rig.defaults.MaxClarificationsPerStep = 1

	rig.llm.script(
		clarificationScript("call-1", "which env?"),
		clarificationScript("call-2", "which region?"),
	)

	resCh := make(chan *ExecutionResult, 1)
	go func() { resCh <- rig.execute(ctx, plan) }()

	require.Eventually(t, func() bool {
		return rig.planStatus(session.ID, plan.ID) == models.PlanStatusAwaitingClarification
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, rig.orch.Clarify(ctx, session.ID, plan.ID, "prod"))

	res := waitResult(t, resCh)
	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "asked for clarification more than 1 times")

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepErrorClarificationLoop, got.Steps[0].ErrorKind)
	// The second question never went out.
	assert.Equal(t, 1, rig.sink.countOf(events.EventTypeClarificationAsked))
}

func TestPlanExecutor_CancelWhileParked(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
	})
	require.NoError(t, rig.sessions.ClaimActivePlan(ctx, session.ID, plan.ID))

	rig.llm.script(clarificationScript("call-1", "which env?"))

	resCh := make(chan *ExecutionResult, 1)
	go func() { resCh <- rig.execute(ctx, plan) }()

	require.Eventually(t, func() bool {
		return rig.planStatus(session.ID, plan.ID) == models.PlanStatusAwaitingClarification
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rig.orch.Cancel(ctx, session.ID, plan.ID, ""))

	res := waitResult(t, resCh)
	assert.Equal(t, models.PlanStatusCancelled, res.Status)
	assert.NoError(t, res.Err)
	assert.False(t, res.Interrupted)

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.PlanStatusCancelled, got.OverallStatus)
	assert.Equal(t, models.StepStatusSkipped, got.Steps[0].Status)

	ev := rig.sink.lastOf(t, events.EventTypePlanCancelled)
	var payload events.PlanCancelledPayload
	ev.decode(t, &payload)
	assert.Equal(t, "cancelled by user", payload.Reason)

	updated, err := rig.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.ActivePlanID)
	settled := rig.notifier.settled()
	require.Len(t, settled, 1)
	assert.Equal(t, models.PlanStatusCancelled, settled[0].Status)
}

func TestPlanExecutor_PreRequestedCancellation(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.CancellationRequested = true
	})

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusCancelled, res.Status)
	assert.Zero(t, rig.llm.callCount())
	assert.Equal(t, 1, rig.sink.countOf(events.EventTypePlanCancelled))
}

func TestPlanExecutor_ClaimLost(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.ClaimedBy = "pod-other"
	})

	res := rig.execute(ctx, plan)

	assert.True(t, res.Interrupted)
	assert.ErrorIs(t, res.Err, errClaimLost)
	assert.Equal(t, models.PlanStatusRunning, res.Status)
	assert.Zero(t, rig.llm.callCount())

	// The new owner's plan is untouched.
	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, "pod-other", got.ClaimedBy)
	assert.Equal(t, models.StepStatusPending, got.Steps[0].Status)
	assert.Empty(t, rig.sink.types())
}

func TestPlanExecutor_TerminalPlanShortCircuits(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.OverallStatus = models.PlanStatusCompleted
		p.FinalResult = "already settled"
	})

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusCompleted, res.Status)
	assert.Equal(t, "already settled", res.FinalResult)
	assert.False(t, res.Interrupted)
	assert.Zero(t, rig.llm.callCount())
	assert.Empty(t, rig.sink.types())
}

func TestPlanExecutor_PlanDeadlineExceeded(t *testing.T) {
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "plan deadline of")
	assert.Zero(t, rig.llm.callCount())

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.PlanStatusFailed, got.OverallStatus)
	for _, step := range got.Steps {
		assert.Equal(t, models.StepStatusSkipped, step.Status)
	}

	// A deadline failure has no failing step, so only the plan event goes out.
	assert.Equal(t, 0, rig.sink.countOf(events.EventTypeStepFailed))
	assert.Equal(t, 1, rig.sink.countOf(events.EventTypePlanFailed))
}

func TestPlanExecutor_GracefulInterruptKeepsPlanResumable(t *testing.T) {
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := rig.execute(ctx, plan)

	assert.True(t, res.Interrupted)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, models.PlanStatusRunning, res.Status)

	// Claim and progress stay intact for the restart to resume.
	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.PlanStatusRunning, got.OverallStatus)
	assert.Equal(t, "pod-test", got.ClaimedBy)
	assert.Equal(t, models.StepStatusPending, got.Steps[0].Status)
	assert.Empty(t, rig.sink.types())
}

func TestPlanExecutor_ResumeReplaysToolExchanges(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)

	args := `{"namespace":"prod"}`
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
		now := time.Now().UTC()
		p.Steps[0].Status = models.StepStatusRunning
		p.Steps[0].StartedAt = &now
		p.Steps[0].ToolCalls = []models.ToolCallRecord{
			{ToolName: "kubernetes.get_pods", ArgumentsDigest: mcp.DigestArguments(args)},
		}
	})

	// The transcript already holds the committed exchange from before the
	// crash.
	callBody, err := json.Marshal(toolCallBody{CallID: "c1", ToolName: "kubernetes.get_pods", Arguments: args})
	require.NoError(t, err)
	_, err = rig.messages.AppendMessage(ctx, models.Message{
		SessionID: session.ID, PlanID: plan.ID, StepID: plan.Steps[0].ID,
		Kind: models.MessageKindToolCall, AgentName: "Hands", Body: string(callBody),
	})
	require.NoError(t, err)
	resultBody, err := json.Marshal(toolResultBody{CallID: "c1", ToolName: "kubernetes.get_pods", Content: "3 pods running"})
	require.NoError(t, err)
	_, err = rig.messages.AppendMessage(ctx, models.Message{
		SessionID: session.ID, PlanID: plan.ID, StepID: plan.Steps[0].ID,
		Kind: models.MessageKindToolResult, AgentName: "Hands", Body: string(resultBody),
	})
	require.NoError(t, err)

	rig.llm.script(
		textScript("all pods healthy"),
		textScript("Checked."),
	)

	res := rig.execute(ctx, plan)
	require.Equal(t, models.PlanStatusCompleted, res.Status)
	assert.Equal(t, "Checked.\n\nall pods healthy", res.FinalResult)

	// The exchange was replayed into the window, not re-invoked.
	assert.Empty(t, rig.tools.recorded())
	first := rig.llm.input(0)
	require.Len(t, first.Messages, 4)
	assert.Equal(t, agent.RoleAssistant, first.Messages[2].Role)
	require.Len(t, first.Messages[2].ToolCalls, 1)
	assert.Equal(t, "c1", first.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, agent.RoleTool, first.Messages[3].Role)
	assert.Equal(t, "3 pods running", first.Messages[3].Content)

	// A resumed step does not announce itself again.
	assert.Equal(t, 0, rig.sink.countOf(events.EventTypeStepStarted))
}

func TestPlanExecutor_ResumeParkedStep(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)

	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps = p.Steps[:1]
		now := time.Now().UTC()
		p.OverallStatus = models.PlanStatusAwaitingClarification
		p.Steps[0].Status = models.StepStatusAwaitingClarification
		p.Steps[0].StartedAt = &now
		p.Steps[0].ClarificationCount = 1
	})

	questionBody, err := json.Marshal(clarificationBody{CallID: "c9", Question: "which env?"})
	require.NoError(t, err)
	_, err = rig.messages.AppendMessage(ctx, models.Message{
		SessionID: session.ID, PlanID: plan.ID, StepID: plan.Steps[0].ID,
		Kind: models.MessageKindClarificationRequest, AgentName: "Hands", Body: string(questionBody),
	})
	require.NoError(t, err)

	rig.llm.script(
		textScript("done in prod"),
		textScript("Wrapped."),
	)

	resCh := make(chan *ExecutionResult, 1)
	go func() { resCh <- rig.execute(ctx, plan) }()

	require.NoError(t, rig.orch.Clarify(ctx, session.ID, plan.ID, "prod"))

	res := waitResult(t, resCh)
	assert.Equal(t, models.PlanStatusCompleted, res.Status)
	assert.Equal(t, "Wrapped.\n\ndone in prod", res.FinalResult)

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepStatusDone, got.Steps[0].Status)
	assert.Equal(t, 1, got.Steps[0].ClarificationCount)

	// The replayed question and the stored answer both reached the model.
	first := rig.llm.input(0)
	require.Len(t, first.Messages, 4)
	require.Len(t, first.Messages[2].ToolCalls, 1)
	assert.Equal(t, "c9", first.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, agent.ClarificationToolName, first.Messages[2].ToolCalls[0].Name)
	assert.Equal(t, agent.RoleTool, first.Messages[3].Role)
	assert.Equal(t, "prod", first.Messages[3].Content)
}

func TestPlanExecutor_SettlesCrashedFailedStep(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		now := time.Now().UTC()
		p.Steps[0].Status = models.StepStatusFailed
		p.Steps[0].ErrorKind = models.StepErrorTool
		p.Steps[0].ErrorMessage = "tool exploded"
		p.Steps[0].FinishedAt = &now
	})

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "tool exploded")
	assert.Zero(t, rig.llm.callCount())

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.PlanStatusFailed, got.OverallStatus)
	assert.Equal(t, models.StepStatusFailed, got.Steps[0].Status)
	assert.Equal(t, models.StepStatusSkipped, got.Steps[1].Status)

	assert.Equal(t, 1, rig.sink.countOf(events.EventTypeStepFailed))
	assert.Equal(t, 1, rig.sink.countOf(events.EventTypePlanFailed))
}

func TestPlanExecutor_UnknownAgent(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.Steps[0].AgentName = "Ghost"
	})

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), `names agent "Ghost", which is not in team "ops"`)

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.StepErrorAgent, got.Steps[0].ErrorKind)
	assert.Equal(t, models.StepStatusSkipped, got.Steps[1].Status)
}

func TestPlanExecutor_UnknownTeam(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	session := rig.newSession(t)
	plan := rig.seedClaimedPlan(t, session.ID, func(p *models.Plan) {
		p.TeamID = "ghost-team"
	})

	res := rig.execute(ctx, plan)

	assert.Equal(t, models.PlanStatusFailed, res.Status)
	assert.Contains(t, res.Err.Error(), "resolve team")

	got := rig.getPlan(t, session.ID, plan.ID)
	assert.Equal(t, models.PlanStatusFailed, got.OverallStatus)
	for _, step := range got.Steps {
		assert.Equal(t, models.StepStatusSkipped, step.Status)
	}
}
