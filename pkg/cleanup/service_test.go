package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/ent"
	"github.com/planor-ai/planor/pkg/blob"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/services"
	"github.com/planor-ai/planor/test/util"
)

type fixture struct {
	client   *ent.Client
	store    persistence.Store
	sessions *services.SessionService
	plans    *services.PlanService
	messages *services.MessageService
	datasets *services.DatasetService
	events   *services.EventService
	blobs    *blob.Service
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	client, _ := util.SetupTestDatabase(t)
	store := persistence.NewMemStore()

	fsStore, err := blob.NewFSStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	f := &fixture{
		client:   client,
		store:    store,
		sessions: services.NewSessionService(store),
		plans:    services.NewPlanService(store),
		messages: services.NewMessageService(store),
		datasets: services.NewDatasetService(store),
		events:   services.NewEventService(client),
		blobs:    blob.NewService(fsStore, time.Minute),
	}

	cfg := &config.RetentionConfig{
		SessionRetentionDays: 365,
		EventTTL:             1 * time.Hour,
		CleanupInterval:      1 * time.Hour,
	}
	f.svc = NewService(cfg, f.sessions, f.plans, f.messages, f.datasets, f.events, f.blobs)
	return f
}

// seedSession writes a session document with backdated timestamps. The
// service layer always stamps "now", so retention tests write the document
// directly.
func seedSession(t *testing.T, store persistence.Store, age time.Duration, activePlanID string) *models.Session {
	t.Helper()

	stamp := time.Now().UTC().Add(-age)
	session := &models.Session{
		ID:           uuid.New().String(),
		UserID:       "user-1",
		ActivePlanID: activePlanID,
		CreatedAt:    stamp,
		UpdatedAt:    stamp,
	}
	body, err := json.Marshal(session)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), persistence.Document{
		Kind:         persistence.KindSessions,
		ID:           session.ID,
		PartitionKey: session.ID,
		Status:       "active",
		Body:         body,
	})
	require.NoError(t, err)
	return session
}

// seedPlan persists one single-step plan with the given status and age.
func seedPlan(t *testing.T, plans *services.PlanService, sessionID string, status models.PlanStatus, age time.Duration) *models.Plan {
	t.Helper()

	stamp := time.Now().UTC().Add(-age)
	plan := models.NewPlan(uuid.New().String(), sessionID, "ops", "check the ingest service", models.PlanDraft{
		Facts: "seeded for retention tests",
		Steps: []models.StepDraft{{AgentName: "Hands", Action: "check status"}},
	}, stamp)
	plan.OverallStatus = status
	plan.UpdatedAt = stamp

	require.NoError(t, plans.CreatePlan(context.Background(), plan))
	return plan
}

const oldAge = 400 * 24 * time.Hour

func TestService_PurgesExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := seedSession(t, f.store, oldAge, "")
	plan := seedPlan(t, f.plans, session.ID, models.PlanStatusCompleted, oldAge)

	_, err := f.messages.AppendMessage(ctx, models.Message{
		SessionID: session.ID,
		PlanID:    plan.ID,
		Kind:      models.MessageKindUserRequest,
		Body:      "check the ingest service",
	})
	require.NoError(t, err)

	_, err = f.events.CreateEvent(ctx, session.ID, "session:"+session.ID, map[string]any{"event_type": "PlanCreated"})
	require.NoError(t, err)

	put, err := f.blobs.Save(ctx, session.ID, strings.NewReader("col_a,col_b\n1,2\n"))
	require.NoError(t, err)
	_, err = f.datasets.RegisterDataset(ctx, models.DatasetHandle{
		SessionID: session.ID,
		Filename:  "rows.csv",
		ByteSize:  put.ByteSize,
		Location:  put.Location,
	})
	require.NoError(t, err)

	f.svc.runAll(ctx)

	_, err = f.sessions.GetSession(ctx, session.ID)
	assert.True(t, errors.Is(err, services.ErrNotFound), "session should be deleted, got %v", err)

	summaries, err := f.plans.ListPlanSummaries(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	msgs, err := f.messages.ListMessages(ctx, session.ID, persistence.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	events, err := f.events.GetEventsSince(ctx, "session:"+session.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	handles, err := f.datasets.ListDatasets(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, handles)

	_, err = f.blobs.Open(ctx, put.Location)
	assert.True(t, errors.Is(err, blob.ErrNotFound), "blob should be deleted, got %v", err)
}

func TestService_PreservesRecentSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := seedSession(t, f.store, time.Hour, "")
	seedPlan(t, f.plans, session.ID, models.PlanStatusCompleted, time.Hour)

	f.svc.runAll(ctx)

	_, err := f.sessions.GetSession(ctx, session.ID)
	assert.NoError(t, err)
}

func TestService_PreservesSessionsWithNonTerminalPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := seedSession(t, f.store, oldAge, "")
	seedPlan(t, f.plans, session.ID, models.PlanStatusRunning, oldAge)

	f.svc.runAll(ctx)

	_, err := f.sessions.GetSession(ctx, session.ID)
	assert.NoError(t, err)
}

func TestService_PreservesSessionsWithActivePlanMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An active-plan marker means work is in flight even when the plan list
	// has not caught up yet.
	session := seedSession(t, f.store, oldAge, "plan-in-flight")

	f.svc.runAll(ctx)

	_, err := f.sessions.GetSession(ctx, session.ID)
	assert.NoError(t, err)
}

func TestService_PurgesAbandonedEmptySessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := seedSession(t, f.store, oldAge, "")

	f.svc.runAll(ctx)

	_, err := f.sessions.GetSession(ctx, session.ID)
	assert.True(t, errors.Is(err, services.ErrNotFound), "empty aged session should be deleted, got %v", err)
}

func TestService_PreservesSessionsWithRecentPlanActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Session document is stale but a plan settled recently.
	session := seedSession(t, f.store, oldAge, "")
	seedPlan(t, f.plans, session.ID, models.PlanStatusCompleted, time.Hour)

	f.svc.runAll(ctx)

	_, err := f.sessions.GetSession(ctx, session.ID)
	assert.NoError(t, err)
}

func TestService_CleansUpExpiredEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := seedSession(t, f.store, time.Hour, "")
	channel := "session:" + session.ID

	// One event past the TTL (created_at is immutable, so the old row is
	// written through the ent client directly), one fresh.
	_, err := f.client.Event.Create().
		SetSessionID(session.ID).
		SetChannel(channel).
		SetPayload(map[string]any{"event_type": "PlanCreated"}).
		SetCreatedAt(time.Now().Add(-2 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)
	_, err = f.events.CreateEvent(ctx, session.ID, channel, map[string]any{"event_type": "StepStarted"})
	require.NoError(t, err)

	f.svc.runAll(ctx)

	events, err := f.events.GetEventsSince(ctx, channel, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1, "old event should be deleted, recent event preserved")
	assert.Equal(t, "StepStarted", events[0].Payload["event_type"])
}

func TestService_StartStop(t *testing.T) {
	f := newFixture(t)

	f.svc.Start(context.Background())
	f.svc.Stop()

	// Stop is idempotent once stopped.
	f.svc.Stop()
}
