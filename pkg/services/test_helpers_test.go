package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

// newTestStore returns a fresh in-memory store. The conformance suite in
// pkg/persistence/storetest pins its semantics to the database-backed store,
// so service behavior proven here holds against PostgreSQL too.
func newTestStore(_ *testing.T) persistence.Store {
	return persistence.NewMemStore()
}

// createTestSession seeds one session and returns it.
func createTestSession(t *testing.T, store persistence.Store) *models.Session {
	t.Helper()

	session, err := NewSessionService(store).CreateSession(context.Background(), "user-1")
	require.NoError(t, err)
	return session
}

// testPlan builds an unpersisted two-step plan for the given session.
func testPlan(sessionID string) *models.Plan {
	return models.NewPlan("plan-1", sessionID, "ops", "restart the ingest service", models.PlanDraft{
		Facts: "service ingest is wedged",
		Steps: []models.StepDraft{
			{AgentName: "Hands", Action: "check current deployment status"},
			{AgentName: "Hands", Action: "restart and verify"},
		},
	}, time.Now().UTC())
}
