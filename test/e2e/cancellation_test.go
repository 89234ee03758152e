package e2e

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/models"
)

// TestRejectAtGate rejects a proposed plan and verifies nothing executed.
func TestRejectAtGate(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(PlannerDraftEntry(t, SingleStepDraft("Writer", "Delete the staging environment")))

	app := NewTestApp(t, WithLLMClient(llm))

	sessionID := app.CreateSession(t)
	ws := app.OpenSessionStream(t, sessionID)

	created := app.CreatePlan(t, sessionID, testTeamID, "Tear down staging")
	planID, _ := created["plan_id"].(string)

	app.RejectPlan(t, sessionID, planID)
	app.WaitForPlanStatus(t, sessionID, planID, models.PlanStatusCancelled)

	plan := app.QueryPlan(t, sessionID, planID)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, models.StepStatusSkipped, plan.Steps[0].Status)
	assert.True(t, plan.CancellationRequested)
	assert.Equal(t, 1, llm.CallCount(), "a rejected plan must never reach an agent")

	evt, err := ws.WaitForEventType("PlanCancelled", 10*time.Second)
	require.NoError(t, err)
	payload, _ := evt.Parsed["payload"].(map[string]interface{})
	assert.Equal(t, "rejected by user", payload["reason"])
	assert.Empty(t, ws.EventsByType("StepStarted"))

	msgs := app.QueryMessages(t, sessionID)
	decisions := MessagesOfKind(msgs, models.MessageKindApprovalDecision)
	require.Len(t, decisions, 1)
	assert.Equal(t, "rejected", decisions[0].Body)

	// The session slot is free again: a new plan can be drafted.
	llm.AddSequential(PlannerDraftEntry(t, SingleStepDraft("Writer", "Write an apology")))
	second := app.CreatePlan(t, sessionID, testTeamID, "Write an apology instead")
	assert.NotEmpty(t, second["plan_id"])
}

// TestCancelBeforeApproval cancels a gated plan outright; the plan settles
// without ever being claimed.
func TestCancelBeforeApproval(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(PlannerDraftEntry(t, SingleStepDraft("Writer", "Draft the newsletter")))

	app := NewTestApp(t, WithLLMClient(llm))

	sessionID := app.CreateSession(t)
	ws := app.OpenSessionStream(t, sessionID)

	created := app.CreatePlan(t, sessionID, testTeamID, "Send the newsletter")
	planID, _ := created["plan_id"].(string)

	app.CancelPlan(t, sessionID, planID, "changed my mind")
	app.WaitForPlanStatus(t, sessionID, planID, models.PlanStatusCancelled)

	evt, err := ws.WaitForEventType("PlanCancelled", 10*time.Second)
	require.NoError(t, err)
	payload, _ := evt.Parsed["payload"].(map[string]interface{})
	assert.Equal(t, "changed my mind", payload["reason"])
	assert.Empty(t, ws.EventsByType("StepStarted"))
}

// TestCancelMidStep cancels while a tool call is in flight. The in-flight
// call finishes and its result is committed, then the plan settles as
// cancelled at the next cooperative check; the second step never starts.
func TestCancelMidStep(t *testing.T) {
	toolGate := make(chan struct{})
	toolHandler := func(ctx context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		select {
		case <-toolGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "snapshot taken"}},
		}, nil
	}

	llm := NewScriptedLLMClient()
	llm.AddSequential(PlannerDraftEntry(t, models.PlanDraft{
		Facts: "",
		Steps: []models.StepDraft{
			{AgentName: "Researcher", Action: "Snapshot the database"},
			{AgentName: "Writer", Action: "Announce the snapshot"},
		},
	}))
	llm.AddRouted("Researcher", ToolCallEntry("call-1", "test-mcp.snapshot", `{}`))

	app := NewTestApp(t,
		WithLLMClient(llm),
		WithMCPServers(map[string]map[string]mcpsdk.ToolHandler{
			"test-mcp": {"snapshot": toolHandler},
		}),
	)

	sessionID := app.CreateSession(t)
	ws := app.OpenSessionStream(t, sessionID)

	created := app.CreatePlan(t, sessionID, testTeamID, "Snapshot then announce")
	planID, _ := created["plan_id"].(string)
	app.ApprovePlan(t, sessionID, planID)

	_, err := ws.WaitForEventType("StepToolInvoked", 10*time.Second)
	require.NoError(t, err)

	app.CancelPlan(t, sessionID, planID, "no longer needed")
	close(toolGate)

	app.WaitForPlanStatus(t, sessionID, planID, models.PlanStatusCancelled)

	plan := app.QueryPlan(t, sessionID, planID)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.StepStatusSkipped, plan.Steps[0].Status, "cancellation is not a failure")
	assert.Equal(t, models.StepStatusSkipped, plan.Steps[1].Status)

	// The committed tool exchange survives the cancellation.
	require.Len(t, plan.Steps[0].ToolCalls, 1)
	assert.NotEmpty(t, plan.Steps[0].ToolCalls[0].ResultDigest)

	stepID := planID + "-step-1"
	AssertEventsInOrder(t, ws.Events(), []ExpectedEvent{
		{EventType: "StepToolInvoked", StepID: stepID},
		{EventType: "StepToolReturned", StepID: stepID},
		{EventType: "PlanCancelled"},
	})
	for _, e := range ws.EventsByType("StepStarted") {
		assert.NotEqual(t, planID+"-step-2", e.Parsed["step_id"], "step 2 must never start")
	}
}

// TestCancelHardDeadline cancels a plan whose agent never yields. The
// cooperative check cannot run, so the armed hard deadline cuts the plan
// context and the run settles as cancelled.
func TestCancelHardDeadline(t *testing.T) {
	executing := make(chan struct{}, 4)

	llm := NewScriptedLLMClient()
	llm.AddSequential(PlannerDraftEntry(t, SingleStepDraft("Writer", "Think very hard")))
	// The empty-stream close can race the context error inside the turn; a
	// spare entry keeps the one retry nudge blocked as well.
	llm.AddRouted("Writer", LLMScriptEntry{BlockUntilCancelled: true, OnBlock: executing})
	llm.AddRouted("Writer", LLMScriptEntry{BlockUntilCancelled: true, OnBlock: executing})

	app := NewTestApp(t,
		WithLLMClient(llm),
		WithDefaults(func(d *config.Defaults) {
			d.CancelHardDeadlineSeconds = 1
		}),
	)

	sessionID := app.CreateSession(t)
	ws := app.OpenSessionStream(t, sessionID)

	created := app.CreatePlan(t, sessionID, testTeamID, "An unbounded request")
	planID, _ := created["plan_id"].(string)
	app.ApprovePlan(t, sessionID, planID)

	select {
	case <-executing:
	case <-time.After(10 * time.Second):
		t.Fatal("step never reached the model")
	}

	start := time.Now()
	app.CancelPlan(t, sessionID, planID, "stuck")
	app.WaitForPlanStatus(t, sessionID, planID, models.PlanStatusCancelled)
	assert.Less(t, time.Since(start), 15*time.Second)

	_, err := ws.WaitForEventType("PlanCancelled", 10*time.Second)
	require.NoError(t, err)

	plan := app.QueryPlan(t, sessionID, planID)
	assert.Equal(t, models.StepStatusSkipped, plan.Steps[0].Status)
}

// TestCancelSettledPlanConflicts verifies that cancelling a completed plan
// is rejected as a state conflict.
func TestCancelSettledPlanConflicts(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(PlannerDraftEntry(t, SingleStepDraft("Writer", "Say hello")))
	llm.AddRouted("Writer", LLMScriptEntry{Text: "Hello."})
	llm.AddSequential(LLMScriptEntry{Text: "Said hello."}) // executive summary

	app := NewTestApp(t, WithLLMClient(llm))

	sessionID := app.CreateSession(t)
	created := app.CreatePlan(t, sessionID, testTeamID, "Say hello")
	planID, _ := created["plan_id"].(string)
	app.ApprovePlan(t, sessionID, planID)
	app.WaitForPlanStatus(t, sessionID, planID, models.PlanStatusCompleted)

	status := app.postJSONStatus(t, "/api/v1/plans/"+planID+"/cancel",
		map[string]interface{}{"session_id": sessionID})
	assert.Equal(t, 409, status)
}
