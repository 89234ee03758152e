package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/agent"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/services"
)

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// CreateSession posts a new session and returns its id.
func (app *TestApp) CreateSession(t *testing.T) string {
	t.Helper()
	resp := app.postJSON(t, "/api/v1/sessions", nil, http.StatusCreated)
	sessionID, _ := resp["session_id"].(string)
	require.NotEmpty(t, sessionID)
	return sessionID
}

// CreatePlan posts a user request and returns the parsed plan response.
// The plan lands in awaiting_approval; nothing executes until ApprovePlan.
func (app *TestApp) CreatePlan(t *testing.T, sessionID, teamID, userRequest string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{
		"session_id":   sessionID,
		"team_id":      teamID,
		"user_request": userRequest,
	}
	return app.postJSON(t, "/api/v1/plans", body, http.StatusCreated)
}

// GetPlan retrieves a plan with its transcript tail.
func (app *TestApp) GetPlan(t *testing.T, sessionID, planID string) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, fmt.Sprintf("/api/v1/plans/%s?session_id=%s", planID, sessionID), http.StatusOK)
}

// PlanState returns just the plan object from the detail response.
func (app *TestApp) PlanState(t *testing.T, sessionID, planID string) map[string]interface{} {
	t.Helper()
	detail := app.GetPlan(t, sessionID, planID)
	plan, ok := detail["plan"].(map[string]interface{})
	require.True(t, ok, "plan detail response is missing the plan object")
	return plan
}

// ApprovePlan posts an approval decision for a gated plan.
func (app *TestApp) ApprovePlan(t *testing.T, sessionID, planID string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"session_id": sessionID, "approved": true}
	return app.postJSON(t, "/api/v1/plans/"+planID+"/approval", body, http.StatusOK)
}

// RejectPlan posts a rejection for a gated plan.
func (app *TestApp) RejectPlan(t *testing.T, sessionID, planID string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"session_id": sessionID, "approved": false}
	return app.postJSON(t, "/api/v1/plans/"+planID+"/approval", body, http.StatusOK)
}

// SendClarification answers a parked plan's pending question.
func (app *TestApp) SendClarification(t *testing.T, sessionID, planID, reply string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"session_id": sessionID, "reply": reply}
	return app.postJSON(t, "/api/v1/plans/"+planID+"/clarification", body, http.StatusOK)
}

// CancelPlan requests cancellation of a plan.
func (app *TestApp) CancelPlan(t *testing.T, sessionID, planID, reason string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"session_id": sessionID}
	if reason != "" {
		body["reason"] = reason
	}
	return app.postJSON(t, "/api/v1/plans/"+planID+"/cancel", body, http.StatusOK)
}

// GetSession retrieves a session by ID.
func (app *TestApp) GetSession(t *testing.T, sessionID string) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/sessions/"+sessionID, http.StatusOK)
}

// GetSessionHistory calls GET /api/v1/sessions/:id/history.
func (app *TestApp) GetSessionHistory(t *testing.T, sessionID string) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/sessions/"+sessionID+"/history", http.StatusOK)
}

// ListSessionDatasets calls GET /api/v1/sessions/:id/datasets.
func (app *TestApp) ListSessionDatasets(t *testing.T, sessionID string) []interface{} {
	t.Helper()
	return app.getJSONArray(t, "/api/v1/sessions/"+sessionID+"/datasets", http.StatusOK)
}

// UploadDataset posts a multipart dataset and returns the registered handle.
func (app *TestApp) UploadDataset(t *testing.T, sessionID, filename, content, ownerHint string) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("session_id", sessionID))
	if ownerHint != "" {
		require.NoError(t, w.WriteField("owner_hint", ownerHint))
	}
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+"/api/v1/datasets", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode, "POST /api/v1/datasets: unexpected status")
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ListTeams calls GET /api/v1/teams.
func (app *TestApp) ListTeams(t *testing.T) []interface{} {
	t.Helper()
	return app.getJSONArray(t, "/api/v1/teams", http.StatusOK)
}

// UploadTeam posts a team definition.
func (app *TestApp) UploadTeam(t *testing.T, team *models.TeamConfig) map[string]interface{} {
	t.Helper()
	return app.postJSON(t, "/api/v1/teams", team, http.StatusCreated)
}

// GetSystemInfo calls GET /api/v1/system/info.
func (app *TestApp) GetSystemInfo(t *testing.T) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/system/info", http.StatusOK)
}

// GetSystemWarnings calls GET /api/v1/system/warnings.
func (app *TestApp) GetSystemWarnings(t *testing.T) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/system/warnings", http.StatusOK)
}

// GetMCPServers calls GET /api/v1/system/mcp-servers.
func (app *TestApp) GetMCPServers(t *testing.T) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/api/v1/system/mcp-servers", http.StatusOK)
}

// GetHealthz calls GET /healthz.
func (app *TestApp) GetHealthz(t *testing.T) map[string]interface{} {
	t.Helper()
	return app.getJSON(t, "/healthz", http.StatusOK)
}

func (app *TestApp) postJSON(t *testing.T, path string, body interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status", path)
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// postJSONStatus posts a body and returns only the response status code.
// For negative-path tests where the error body is echo's, not ours.
func (app *TestApp) postJSONStatus(t *testing.T, path string, body interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]interface{} {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (app *TestApp) getJSONArray(t *testing.T, path string, expectedStatus int) []interface{} {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result []interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// WaitForPlanStatus polls the store until the plan reaches one of the
// expected statuses. Returns the status it landed on.
func (app *TestApp) WaitForPlanStatus(t *testing.T, sessionID, planID string, expected ...models.PlanStatus) models.PlanStatus {
	t.Helper()
	plans := services.NewPlanService(app.Store)
	var actual models.PlanStatus
	require.Eventually(t, func() bool {
		p, err := plans.GetPlan(context.Background(), sessionID, planID)
		if err != nil {
			return false
		}
		actual = p.OverallStatus
		for _, exp := range expected {
			if actual == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 50*time.Millisecond,
		"plan %s did not reach status %v (last: %s)", planID, expected, actual)
	return actual
}

// WaitForStepStatus polls the store until the step with the given ordinal
// reaches one of the expected statuses.
func (app *TestApp) WaitForStepStatus(t *testing.T, sessionID, planID string, ordinal int, expected ...models.StepStatus) models.StepStatus {
	t.Helper()
	plans := services.NewPlanService(app.Store)
	var actual models.StepStatus
	require.Eventually(t, func() bool {
		p, err := plans.GetPlan(context.Background(), sessionID, planID)
		if err != nil || ordinal < 1 || ordinal > len(p.Steps) {
			return false
		}
		actual = p.Steps[ordinal-1].Status
		for _, exp := range expected {
			if actual == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 50*time.Millisecond,
		"step %d of plan %s did not reach status %v (last: %s)", ordinal, planID, expected, actual)
	return actual
}

// QueryPlan returns the current plan document from the store.
func (app *TestApp) QueryPlan(t *testing.T, sessionID, planID string) *models.Plan {
	t.Helper()
	p, err := services.NewPlanService(app.Store).GetPlan(context.Background(), sessionID, planID)
	require.NoError(t, err)
	return p
}

// QueryMessages returns the full session transcript, oldest first.
func (app *TestApp) QueryMessages(t *testing.T, sessionID string) []*models.Message {
	t.Helper()
	msgs, err := services.NewMessageService(app.Store).ListMessages(context.Background(), sessionID, persistence.ListOptions{})
	require.NoError(t, err)
	return msgs
}

// MessagesOfKind filters a transcript down to one message kind.
func MessagesOfKind(msgs []*models.Message, kind models.MessageKind) []*models.Message {
	var out []*models.Message
	for _, m := range msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Scripting Helpers
// ────────────────────────────────────────────────────────────

// PlannerDraftEntry builds the fenced-JSON planner reply for a draft, the
// shape the planner parser expects.
func PlannerDraftEntry(t *testing.T, draft models.PlanDraft) LLMScriptEntry {
	t.Helper()
	data, err := json.Marshal(draft)
	require.NoError(t, err)
	return LLMScriptEntry{Text: "```json\n" + string(data) + "\n```"}
}

// SingleStepDraft is shorthand for a one-step plan draft.
func SingleStepDraft(agentName, action string) models.PlanDraft {
	return models.PlanDraft{
		Facts: "test facts",
		Steps: []models.StepDraft{{AgentName: agentName, Action: action}},
	}
}

// ToolCallEntry builds an LLM script entry that invokes one tool.
func ToolCallEntry(callID, toolName, arguments string) LLMScriptEntry {
	return LLMScriptEntry{Chunks: []agent.Chunk{
		&agent.TextChunk{Content: "Calling " + toolName + "."},
		&agent.ToolCallChunk{CallID: callID, Name: toolName, Arguments: arguments},
		&agent.UsageChunk{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
	}}
}

// ClarificationEntry builds an LLM script entry that asks the user one
// question via the built-in clarification pseudo-tool.
func ClarificationEntry(callID, question string) LLMScriptEntry {
	args, _ := json.Marshal(map[string]string{"question": question})
	return LLMScriptEntry{Chunks: []agent.Chunk{
		&agent.ToolCallChunk{CallID: callID, Name: agent.ClarificationToolName, Arguments: string(args)},
		&agent.UsageChunk{InputTokens: 80, OutputTokens: 15, TotalTokens: 95},
	}}
}

// ────────────────────────────────────────────────────────────
// WebSocket Structural Assertions
// ────────────────────────────────────────────────────────────

// ExpectedEvent is a partial match spec for one domain envelope. Only
// non-empty fields are checked; Payload values compare via fmt.Sprintf so
// numeric and boolean payload fields can be written as strings.
type ExpectedEvent struct {
	EventType string
	StepID    string
	Payload   map[string]string
}

// AssertEventsInOrder verifies that each expected envelope appears in the
// collected WS frames in the correct relative order. Extra frames are
// tolerated; only the expected sequence must be found in order.
//
// Frames are deduplicated and sorted by db_event_id first. A client that
// subscribes while a plan is executing can see the same envelope twice,
// once live and once via catchup replay; without dedup+sort the forward
// matcher would consume replays out of order. Transient frames
// (StreamDelta, no db_event_id) and infra frames are dropped.
func AssertEventsInOrder(t *testing.T, actual []WSEvent, expected []ExpectedEvent) {
	t.Helper()

	seen := make(map[float64]bool)
	var filtered []WSEvent
	for _, e := range actual {
		dbID, hasID := e.Parsed["db_event_id"].(float64)
		if !hasID {
			continue
		}
		if seen[dbID] {
			continue
		}
		seen[dbID] = true
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool {
		idI, _ := filtered[i].Parsed["db_event_id"].(float64)
		idJ, _ := filtered[j].Parsed["db_event_id"].(float64)
		return idI < idJ
	})

	expectedIdx := 0
	for actualIdx := 0; expectedIdx < len(expected) && actualIdx < len(filtered); actualIdx++ {
		if matchesExpected(filtered[actualIdx], expected[expectedIdx]) {
			expectedIdx++
		}
	}

	if !assert.Equal(t, len(expected), expectedIdx,
		"not all expected WS events found in order (matched %d/%d)", expectedIdx, len(expected)) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Expected events (unmatched from index %d):\n", expectedIdx))
		for i := expectedIdx; i < len(expected); i++ {
			sb.WriteString(fmt.Sprintf("  [%d] %s\n", i, formatExpected(expected[i])))
		}
		sb.WriteString("Actual events received:\n")
		for i, e := range filtered {
			sb.WriteString(fmt.Sprintf("  [%d] event_type=%s", i, e.Type))
			if sid, ok := e.Parsed["step_id"]; ok {
				sb.WriteString(fmt.Sprintf(" step_id=%v", sid))
			}
			sb.WriteString("\n")
		}
		t.Log(sb.String())
	}
}

// AssertAllEventsHavePlanID verifies that every domain envelope carries the
// expected plan_id. Subscribers route frames by plan, so an envelope
// missing it would be silently dropped by the dashboard.
func AssertAllEventsHavePlanID(t *testing.T, actual []WSEvent, expectedPlanID string) {
	t.Helper()
	for i, e := range actual {
		switch e.Type {
		case "connection.established", "subscription.confirmed", "pong", "catchup.overflow", "Heartbeat":
			continue
		}
		pid, _ := e.Parsed["plan_id"].(string)
		assert.Equalf(t, expectedPlanID, pid,
			"WS event %d (type=%s) has wrong or missing plan_id", i, e.Type)
	}
}

// matchesExpected checks if a WS frame matches an expected envelope spec.
// Only non-empty fields in the expected spec are checked.
func matchesExpected(actual WSEvent, expected ExpectedEvent) bool {
	et, _ := actual.Parsed["event_type"].(string)
	if et != expected.EventType {
		return false
	}
	if expected.StepID != "" {
		if sid, _ := actual.Parsed["step_id"].(string); sid != expected.StepID {
			return false
		}
	}
	if len(expected.Payload) > 0 {
		payload, _ := actual.Parsed["payload"].(map[string]interface{})
		for k, v := range expected.Payload {
			av, ok := payload[k]
			if !ok {
				return false
			}
			// Compare as strings to handle bool/numeric payload values
			// (e.g. ordinal: 1 → "1", is_error: true → "true").
			if fmt.Sprintf("%v", av) != v {
				return false
			}
		}
	}
	return true
}

// formatExpected returns a readable string for an expected envelope.
func formatExpected(e ExpectedEvent) string {
	s := "event_type=" + e.EventType
	if e.StepID != "" {
		s += " step_id=" + e.StepID
	}
	for k, v := range e.Payload {
		s += fmt.Sprintf(" payload.%s=%q", k, v)
	}
	return s
}
