package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

// MessageService manages the append-only session transcript.
type MessageService struct {
	store persistence.Store
}

// NewMessageService creates a new MessageService
func NewMessageService(store persistence.Store) *MessageService {
	return &MessageService{store: store}
}

// AppendMessage appends one transcript entry. The id and timestamp are
// assigned here; callers supply everything else.
func (s *MessageService) AppendMessage(_ context.Context, msg models.Message) (*models.Message, error) {
	if msg.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if msg.Kind == "" {
		return nil, NewValidationError("kind", "required")
	}
	if msg.Body == "" {
		return nil, NewValidationError("body", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg.ID = uuid.New().String()
	msg.CreatedAt = time.Now().UTC()

	body, err := json.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.store.Put(ctx, persistence.Document{
		Kind:         persistence.KindMessages,
		ID:           msg.ID,
		PartitionKey: msg.SessionID,
		Status:       string(msg.Kind),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", mapStoreError(err))
	}

	return &msg, nil
}

// ListMessages returns the session transcript, oldest first.
func (s *MessageService) ListMessages(ctx context.Context, sessionID string, opts persistence.ListOptions) ([]*models.Message, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}

	docs, err := s.store.List(ctx, persistence.KindMessages, sessionID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", mapStoreError(err))
	}
	return unmarshalMessages(docs)
}

// TranscriptTail returns the most recent limit entries in chronological
// order, optionally filtered to one plan.
func (s *MessageService) TranscriptTail(ctx context.Context, sessionID, planID string, limit int) ([]*models.Message, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if limit <= 0 {
		limit = 50
	}

	// Over-fetch when filtering by plan: the tail window is computed after
	// the filter so a chatty sibling plan cannot starve it.
	fetchLimit := limit
	if planID != "" {
		fetchLimit = 0
	}

	docs, err := s.store.List(ctx, persistence.KindMessages, sessionID, persistence.ListOptions{
		Limit:      fetchLimit,
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", mapStoreError(err))
	}

	messages, err := unmarshalMessages(docs)
	if err != nil {
		return nil, err
	}

	tail := make([]*models.Message, 0, limit)
	for _, msg := range messages {
		if planID != "" && msg.PlanID != planID {
			continue
		}
		tail = append(tail, msg)
		if len(tail) == limit {
			break
		}
	}

	// Reverse back to chronological order.
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return tail, nil
}

// DeleteSessionMessages removes a session's whole transcript. Retention
// cleanup only.
func (s *MessageService) DeleteSessionMessages(httpCtx context.Context, sessionID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	docs, err := s.store.List(ctx, persistence.KindMessages, sessionID, persistence.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to list messages: %w", mapStoreError(err))
	}

	deleted := 0
	for _, doc := range docs {
		if err := s.store.Delete(ctx, persistence.KindMessages, doc.ID, sessionID); err != nil {
			return deleted, fmt.Errorf("failed to delete message %s: %w", doc.ID, mapStoreError(err))
		}
		deleted++
	}
	return deleted, nil
}

func unmarshalMessages(docs []persistence.Document) ([]*models.Message, error) {
	messages := make([]*models.Message, 0, len(docs))
	for _, doc := range docs {
		var msg models.Message
		if err := json.Unmarshal(doc.Body, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message %s: %w", doc.ID, err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}
