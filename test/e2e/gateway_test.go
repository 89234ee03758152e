package e2e

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/models"
)

// TestHealthzReportsHealthy checks the unauthenticated liveness endpoint of
// an in-memory replica: store and worker pool both pass, no database check
// is present.
func TestHealthzReportsHealthy(t *testing.T) {
	app := NewTestApp(t)

	resp := app.GetHealthz(t)
	assert.Equal(t, "healthy", resp["status"])
	assert.NotEmpty(t, resp["version"])

	checks, ok := resp["checks"].(map[string]interface{})
	require.True(t, ok, "healthz response has no checks object")
	store, _ := checks["store"].(map[string]interface{})
	assert.Equal(t, "healthy", store["status"])
	pool, _ := checks["worker_pool"].(map[string]interface{})
	assert.Equal(t, "healthy", pool["status"])
	_, hasDB := checks["database"]
	assert.False(t, hasDB, "memory mode must not report a database check")
}

// TestSystemInfoExposesConfiguration covers the operator surface: config
// counts, auth state, and the live worker pool snapshot.
func TestSystemInfoExposesConfiguration(t *testing.T) {
	app := NewTestApp(t, WithWorkerCount(2))

	info := app.GetSystemInfo(t)
	assert.NotEmpty(t, info["version"])
	assert.Equal(t, false, info["auth_enabled"])

	cfg, ok := info["configuration"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), cfg["teams"])
	assert.Equal(t, float64(1), cfg["llm_providers"])
	assert.Equal(t, float64(0), cfg["mcp_servers"])

	pool, ok := info["pool"].(map[string]interface{})
	require.True(t, ok, "system info is missing the pool snapshot")
	assert.Equal(t, float64(2), pool["total_workers"])
	assert.Equal(t, true, pool["is_healthy"])

	warnings := app.GetSystemWarnings(t)
	assert.Empty(t, warnings["warnings"], "fresh instance must start warning-free")
}

// TestTeamUploadAndListing exercises the team registry surface: registry
// teams list, uploads extend the roster, and invalid or colliding uploads
// are rejected.
func TestTeamUploadAndListing(t *testing.T) {
	app := NewTestApp(t)

	teams := app.ListTeams(t)
	require.Len(t, teams, 1)
	first, _ := teams[0].(map[string]interface{})
	assert.Equal(t, testTeamID, first["team_id"])

	uploaded := app.UploadTeam(t, &models.TeamConfig{
		ID:   "ops-team",
		Name: "Ops Team",
		Agents: []models.AgentSpec{
			{Name: "Planner", SystemPrompt: "You are Planner.", Planner: true},
			{Name: "Operator", SystemPrompt: "You are Operator."},
		},
	})
	assert.Equal(t, "ops-team", uploaded["team_id"])
	assert.Len(t, app.ListTeams(t), 2)

	// A team without a system prompt fails validation.
	status := app.postJSONStatus(t, "/api/v1/teams", &models.TeamConfig{
		ID:     "broken-team",
		Name:   "Broken Team",
		Agents: []models.AgentSpec{{Name: "Ghost"}},
	})
	assert.Equal(t, 400, status)

	// Registry ids are reserved; uploads may not shadow them.
	status = app.postJSONStatus(t, "/api/v1/teams", defaultTestTeam())
	assert.Equal(t, 409, status)
}

// TestDatasetUploadAndListing uploads session-scoped datasets and lists them
// back with their registered handles.
func TestDatasetUploadAndListing(t *testing.T) {
	app := NewTestApp(t)
	sessionID := app.CreateSession(t)

	handle := app.UploadDataset(t, sessionID, "metrics.csv", "ts,p99\n1,950\n2,120\n", "Researcher")
	assert.NotEmpty(t, handle["dataset_id"])
	assert.Equal(t, "metrics.csv", handle["filename"])
	assert.Equal(t, sessionID, handle["session_id"])
	app.UploadDataset(t, sessionID, "notes.txt", "alarm fired twice", "")

	handles := app.ListSessionDatasets(t, sessionID)
	require.Len(t, handles, 2)
	names := make(map[string]bool)
	for _, h := range handles {
		m, _ := h.(map[string]interface{})
		name, _ := m["filename"].(string)
		names[name] = true
	}
	assert.True(t, names["metrics.csv"])
	assert.True(t, names["notes.txt"])

	// Datasets are session-owned; listing an unknown session is a 404.
	app.getJSON(t, "/api/v1/sessions/"+uuid.New().String()+"/datasets", 404)
}

// TestSessionHistoryListsSettledPlans completes one plan and reads it back
// through the session surfaces.
func TestSessionHistoryListsSettledPlans(t *testing.T) {
	llm := NewScriptedLLMClient()
	llm.AddSequential(PlannerDraftEntry(t, SingleStepDraft("Writer", "Write the digest")))
	llm.AddRouted("Writer", LLMScriptEntry{Text: "Digest written."})
	llm.AddSequential(LLMScriptEntry{Text: "Wrote the digest."}) // executive summary

	app := NewTestApp(t, WithLLMClient(llm))

	sessionID := app.CreateSession(t)
	session := app.GetSession(t, sessionID)
	assert.Equal(t, sessionID, session["session_id"])

	created := app.CreatePlan(t, sessionID, testTeamID, "Write a digest")
	planID, _ := created["plan_id"].(string)
	app.ApprovePlan(t, sessionID, planID)
	app.WaitForPlanStatus(t, sessionID, planID, models.PlanStatusCompleted)

	history := app.GetSessionHistory(t, sessionID)
	assert.Equal(t, sessionID, history["session_id"])
	plans, ok := history["plans"].([]interface{})
	require.True(t, ok)
	require.Len(t, plans, 1)
	summary, _ := plans[0].(map[string]interface{})
	assert.Equal(t, planID, summary["plan_id"])
	assert.Equal(t, string(models.PlanStatusCompleted), summary["overall_status"])
	assert.Equal(t, float64(1), summary["step_count"])

	// Settlement frees the session's active-plan slot.
	require.Eventually(t, func() bool {
		_, active := app.GetSession(t, sessionID)["active_plan_id"]
		return !active
	}, 10*time.Second, 50*time.Millisecond, "active plan slot never released")

	// Limits outside 1..200 are rejected.
	app.getJSON(t, "/api/v1/sessions/"+sessionID+"/history?limit=0", 400)
}

// TestRequestValidation walks the negative paths of plan creation: missing
// fields, unknown references, and planner drafts the roster cannot honor.
func TestRequestValidation(t *testing.T) {
	ghostDraft := models.PlanDraft{
		Facts: "test facts",
		Steps: []models.StepDraft{{AgentName: "Ghost", Action: "Haunt the cluster"}},
	}
	wideDraft := models.PlanDraft{
		Facts: "test facts",
		Steps: []models.StepDraft{
			{AgentName: "Writer", Action: "Part one"},
			{AgentName: "Writer", Action: "Part two"},
			{AgentName: "Writer", Action: "Part three"},
		},
	}

	llm := NewScriptedLLMClient()
	llm.AddSequential(PlannerDraftEntry(t, ghostDraft))
	llm.AddSequential(PlannerDraftEntry(t, wideDraft))

	app := NewTestApp(t,
		WithLLMClient(llm),
		WithDefaults(func(d *config.Defaults) {
			d.PlannerMaxSteps = 2
		}),
	)
	sessionID := app.CreateSession(t)

	// Rejected before the planner ever runs.
	status := app.postJSONStatus(t, "/api/v1/plans", map[string]interface{}{
		"session_id": sessionID,
		"team_id":    testTeamID,
	})
	assert.Equal(t, 400, status, "empty user_request must be rejected")

	status = app.postJSONStatus(t, "/api/v1/plans", map[string]interface{}{
		"session_id":   uuid.New().String(),
		"team_id":      testTeamID,
		"user_request": "Anything",
	})
	assert.Equal(t, 404, status, "unknown session must be rejected")

	status = app.postJSONStatus(t, "/api/v1/plans", map[string]interface{}{
		"session_id":   sessionID,
		"team_id":      "no-such-team",
		"user_request": "Anything",
	})
	assert.Equal(t, 404, status, "unknown team must be rejected")

	// Rejected by draft validation: the planner named an agent the roster
	// does not carry, then proposed more steps than the cap allows. Neither
	// failure may leave the session's active-plan slot claimed.
	status = app.postJSONStatus(t, "/api/v1/plans", map[string]interface{}{
		"session_id":   sessionID,
		"team_id":      testTeamID,
		"user_request": "Summon an agent that does not exist",
	})
	assert.Equal(t, 400, status)

	status = app.postJSONStatus(t, "/api/v1/plans", map[string]interface{}{
		"session_id":   sessionID,
		"team_id":      testTeamID,
		"user_request": "Propose too many steps",
	})
	assert.Equal(t, 400, status)

	_, active := app.GetSession(t, sessionID)["active_plan_id"]
	assert.False(t, active, "failed drafts must not hold the active-plan slot")

	// Unknown plan ids are 404 on both read and command surfaces.
	app.getJSON(t, "/api/v1/plans/"+uuid.New().String()+"?session_id="+sessionID, 404)
	status = app.postJSONStatus(t, "/api/v1/plans/"+uuid.New().String()+"/approval", map[string]interface{}{
		"session_id": sessionID,
		"approved":   true,
	})
	assert.Equal(t, 404, status)
}
