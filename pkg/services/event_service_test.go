package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/test/util"
)

func TestEventService_GetEventsSince(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	service := NewEventService(client)
	ctx := context.Background()

	channel := "session:sess-1"
	var ids []int
	for _, text := range []string{"PlanCreated", "StepStarted", "StepOutput"} {
		evt, err := service.CreateEvent(ctx, "sess-1", channel, map[string]any{"event_type": text})
		require.NoError(t, err)
		ids = append(ids, evt.ID)
	}
	// Unrelated channel noise must not leak in
	_, err := service.CreateEvent(ctx, "sess-2", "session:sess-2", map[string]any{"event_type": "PlanCreated"})
	require.NoError(t, err)

	t.Run("replays everything from zero", func(t *testing.T) {
		events, err := service.GetEventsSince(ctx, channel, 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "PlanCreated", events[0].Payload["event_type"])
		assert.Equal(t, "StepOutput", events[2].Payload["event_type"])
	})

	t.Run("replays only events after the cursor", func(t *testing.T) {
		events, err := service.GetEventsSince(ctx, channel, ids[0], 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "StepStarted", events[0].Payload["event_type"])
	})

	t.Run("limit truncates the replay", func(t *testing.T) {
		events, err := service.GetEventsSince(ctx, channel, 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "PlanCreated", events[0].Payload["event_type"])
	})

	t.Run("ids are monotonically increasing", func(t *testing.T) {
		assert.Greater(t, ids[1], ids[0])
		assert.Greater(t, ids[2], ids[1])
	})
}

func TestEventService_Cleanup(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	service := NewEventService(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := service.CreateEvent(ctx, "sess-1", "session:sess-1", map[string]any{"n": i})
		require.NoError(t, err)
	}
	_, err := service.CreateEvent(ctx, "sess-2", "session:sess-2", map[string]any{"n": 99})
	require.NoError(t, err)

	t.Run("session cleanup removes only that session", func(t *testing.T) {
		count, err := service.CleanupSessionEvents(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		remaining, err := service.GetEventsSince(ctx, "session:sess-2", 0, 0)
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})

	t.Run("expired cleanup respects the TTL cutoff", func(t *testing.T) {
		count, err := service.CleanupExpiredEvents(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, count, "fresh events survive")

		count, err = service.CleanupExpiredEvents(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "zero TTL removes everything")
	})
}
