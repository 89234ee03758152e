package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemBus() (*MemBus, *EventPublisher) {
	manager := NewConnectionManager(nil, ManagerOptions{WriteTimeout: time.Second})
	bus := NewMemBus(manager)
	return bus, NewEventPublisher(bus)
}

func TestMemBus_AssignsMonotonicIDs(t *testing.T) {
	bus, publisher := newTestMemBus()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := publisher.PublishStepOutput(ctx, "sess-1", "plan-1", fmt.Sprintf("plan-1-step-%d", i), StepOutputPayload{
			Output: fmt.Sprintf("output %d", i),
		})
		require.NoError(t, err)
	}

	events, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	for i, evt := range events {
		assert.Equal(t, i+1, evt.ID)
		assert.Equal(t, EventTypeStepOutput, evt.Payload["event_type"])
		payload := evt.Payload["payload"].(map[string]any)
		assert.Equal(t, fmt.Sprintf("output %d", i+1), payload["output"])
	}
}

func TestMemBus_CatchupCursorAndLimit(t *testing.T) {
	bus, publisher := newTestMemBus()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, publisher.PublishStepOutput(ctx, "sess-1", "plan-1", "plan-1-step-1", StepOutputPayload{}))
	}

	t.Run("cursor skips already seen events", func(t *testing.T) {
		events, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 3, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, 4, events[0].ID)
		assert.Equal(t, 5, events[1].ID)
	})

	t.Run("limit caps the batch", func(t *testing.T) {
		events, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, 1, events[0].ID)
	})

	t.Run("unknown channel is empty", func(t *testing.T) {
		events, err := bus.GetCatchupEvents(ctx, SessionChannel("nope"), 0, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestMemBus_TransientEventsNotRecorded(t *testing.T) {
	bus, publisher := newTestMemBus()
	ctx := context.Background()

	require.NoError(t, publisher.PublishStreamDelta(ctx, "sess-1", "plan-1", "plan-1-step-1", StreamDeltaPayload{Delta: "to"}))
	require.NoError(t, publisher.PublishStreamDelta(ctx, "sess-1", "plan-1", "plan-1-step-1", StreamDeltaPayload{Delta: "ken"}))

	events, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "stream deltas must not enter the catchup log")
}

func TestMemBus_CatchupReturnsClones(t *testing.T) {
	// handleCatchup injects db_event_id into the payload maps it receives.
	// The bus must hand out clones so that mutation cannot corrupt the log.
	bus, publisher := newTestMemBus()
	ctx := context.Background()

	require.NoError(t, publisher.PublishStepOutput(ctx, "sess-1", "plan-1", "plan-1-step-1", StepOutputPayload{}))

	first, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 0, 10)
	require.NoError(t, err)
	first[0].Payload["db_event_id"] = first[0].ID

	second, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 0, 10)
	require.NoError(t, err)
	assert.NotContains(t, second[0].Payload, "db_event_id")
}

func TestMemBus_RetentionTrimsOldest(t *testing.T) {
	bus, _ := newTestMemBus()
	ctx := context.Background()

	env, _ := json.Marshal(NewEnvelope(EventTypeStepOutput, "plan-1", "plan-1-step-1", StepOutputPayload{}))
	for i := 0; i < memBusRetention+10; i++ {
		require.NoError(t, bus.PersistAndNotify(ctx, "sess-1", SessionChannel("sess-1"), env))
	}

	events, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 0, 0)
	require.NoError(t, err)
	require.Len(t, events, memBusRetention)
	// The oldest 10 are gone; IDs keep counting.
	assert.Equal(t, 11, events[0].ID)
	assert.Equal(t, memBusRetention+10, events[len(events)-1].ID)
}

func TestMemBus_CleanupChannel(t *testing.T) {
	bus, publisher := newTestMemBus()
	ctx := context.Background()

	require.NoError(t, publisher.PublishStepOutput(ctx, "sess-1", "plan-1", "plan-1-step-1", StepOutputPayload{}))
	require.NoError(t, publisher.PublishStepOutput(ctx, "sess-2", "plan-2", "plan-2-step-1", StepOutputPayload{}))

	bus.CleanupChannel(SessionChannel("sess-1"))

	gone, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-1"), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := bus.GetCatchupEvents(ctx, SessionChannel("sess-2"), 0, 10)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestMemBus_DeliversWithInjectedEventID(t *testing.T) {
	// End-to-end through a real ConnectionManager and WebSocket: the live
	// frame must carry db_event_id just like the NOTIFY path does.
	manager, server := setupTestManager(t)
	bus := NewMemBus(manager)
	publisher := NewEventPublisher(bus)

	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: SessionChannel("sess-mem")})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, subMsg))
	readJSON(t, conn) // subscription.confirmed

	require.NoError(t, publisher.PublishStepOutput(ctx, "sess-mem", "plan-1", "plan-1-step-1", StepOutputPayload{
		Output: "from the in-memory bus",
	}))

	msg := readJSON(t, conn)
	assert.Equal(t, EventTypeStepOutput, msg["event_type"])
	assert.Equal(t, float64(1), msg["db_event_id"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "from the in-memory bus", payload["output"])
}
