package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

func TestMessageService_AppendMessage(t *testing.T) {
	store := newTestStore(t)
	service := NewMessageService(store)
	ctx := context.Background()

	t.Run("appends with assigned id and timestamp", func(t *testing.T) {
		msg, err := service.AppendMessage(ctx, models.Message{
			SessionID: "sess-1",
			PlanID:    "plan-1",
			Kind:      models.MessageKindAgentOutput,
			AgentName: "Hands",
			Body:      "deployment looks healthy",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
	})

	t.Run("validates required fields", func(t *testing.T) {
		tests := []struct {
			name    string
			msg     models.Message
			wantErr string
		}{
			{
				name:    "missing session_id",
				msg:     models.Message{Kind: models.MessageKindUserRequest, Body: "x"},
				wantErr: "session_id",
			},
			{
				name:    "missing kind",
				msg:     models.Message{SessionID: "sess-1", Body: "x"},
				wantErr: "kind",
			},
			{
				name:    "missing body",
				msg:     models.Message{SessionID: "sess-1", Kind: models.MessageKindUserRequest},
				wantErr: "body",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := service.AppendMessage(ctx, tt.msg)
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})
}

func TestMessageService_ListMessages(t *testing.T) {
	store := newTestStore(t)
	service := NewMessageService(store)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := service.AppendMessage(ctx, models.Message{
			SessionID: "sess-1",
			Kind:      models.MessageKindAgentOutput,
			Body:      fmt.Sprintf("entry %d", i),
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	messages, err := service.ListMessages(ctx, "sess-1", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "entry 1", messages[0].Body)
	assert.Equal(t, "entry 3", messages[2].Body)

	t.Run("other session is empty", func(t *testing.T) {
		messages, err := service.ListMessages(ctx, "sess-2", persistence.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestMessageService_TranscriptTail(t *testing.T) {
	store := newTestStore(t)
	service := NewMessageService(store)
	ctx := context.Background()

	appendMsg := func(planID, body string) {
		t.Helper()
		_, err := service.AppendMessage(ctx, models.Message{
			SessionID: "sess-1",
			PlanID:    planID,
			Kind:      models.MessageKindAgentOutput,
			Body:      body,
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	appendMsg("plan-1", "plan1 first")
	appendMsg("plan-2", "plan2 first")
	appendMsg("plan-1", "plan1 second")
	appendMsg("plan-2", "plan2 second")
	appendMsg("plan-1", "plan1 third")

	t.Run("unfiltered tail in chronological order", func(t *testing.T) {
		tail, err := service.TranscriptTail(ctx, "sess-1", "", 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "plan2 second", tail[0].Body)
		assert.Equal(t, "plan1 third", tail[1].Body)
	})

	t.Run("plan filter sees past interleaved entries", func(t *testing.T) {
		tail, err := service.TranscriptTail(ctx, "sess-1", "plan-1", 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, "plan1 second", tail[0].Body)
		assert.Equal(t, "plan1 third", tail[1].Body)
	})

	t.Run("limit beyond history returns everything", func(t *testing.T) {
		tail, err := service.TranscriptTail(ctx, "sess-1", "plan-2", 50)
		require.NoError(t, err)
		assert.Len(t, tail, 2)
	})
}

func TestMessageService_DeleteSessionMessages(t *testing.T) {
	store := newTestStore(t)
	service := NewMessageService(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := service.AppendMessage(ctx, models.Message{
			SessionID: "sess-1",
			Kind:      models.MessageKindAgentOutput,
			Body:      "x",
		})
		require.NoError(t, err)
	}
	_, err := service.AppendMessage(ctx, models.Message{
		SessionID: "sess-2",
		Kind:      models.MessageKindAgentOutput,
		Body:      "other",
	})
	require.NoError(t, err)

	deleted, err := service.DeleteSessionMessages(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	remaining, err := service.ListMessages(ctx, "sess-2", persistence.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
