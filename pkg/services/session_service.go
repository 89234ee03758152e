package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

// writeTimeout bounds critical writes, which run on a background context so
// a cancelled request cannot abandon a half-applied state change.
const writeTimeout = 10 * time.Second

// SessionService manages session lifecycle and the one-active-plan guard.
type SessionService struct {
	store persistence.Store
}

// NewSessionService creates a new SessionService
func NewSessionService(store persistence.Store) *SessionService {
	return &SessionService{store: store}
}

// CreateSession creates a new session owned by the given user.
func (s *SessionService) CreateSession(httpCtx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	body, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.store.Put(ctx, persistence.Document{
		Kind:         persistence.KindSessions,
		ID:           session.ID,
		PartitionKey: session.ID,
		Status:       "active",
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", mapStoreError(err))
	}

	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}

	doc, err := s.store.Get(ctx, persistence.KindSessions, sessionID, sessionID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	var session models.Session
	if err := json.Unmarshal(doc.Body, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &session, nil
}

// ClaimActivePlan records planID as the session's single in-flight plan.
// A second claim while another plan is active returns ErrPlanActive; a
// repeated claim for the same plan is a no-op.
func (s *SessionService) ClaimActivePlan(httpCtx context.Context, sessionID, planID string) error {
	if planID == "" {
		return NewValidationError("plan_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.store.Patch(ctx, persistence.KindSessions, sessionID, sessionID, func(doc persistence.Document) (persistence.Document, error) {
		var session models.Session
		if err := json.Unmarshal(doc.Body, &session); err != nil {
			return doc, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
		}
		if session.ActivePlanID == planID {
			return doc, nil
		}
		if session.ActivePlanID != "" {
			return doc, fmt.Errorf("%w: plan %s is active", ErrPlanActive, session.ActivePlanID)
		}
		session.ActivePlanID = planID
		session.UpdatedAt = time.Now().UTC()
		body, err := json.Marshal(&session)
		if err != nil {
			return doc, fmt.Errorf("failed to marshal session: %w", err)
		}
		doc.Body = body
		return doc, nil
	})
	if err != nil {
		if errors.Is(err, ErrPlanActive) {
			return err
		}
		return fmt.Errorf("failed to claim active plan: %w", mapStoreError(err))
	}
	return nil
}

// ReleaseActivePlan clears the active plan marker if it still names planID.
// Releasing a plan that is no longer active is a no-op.
func (s *SessionService) ReleaseActivePlan(httpCtx context.Context, sessionID, planID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.store.Patch(ctx, persistence.KindSessions, sessionID, sessionID, func(doc persistence.Document) (persistence.Document, error) {
		var session models.Session
		if err := json.Unmarshal(doc.Body, &session); err != nil {
			return doc, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
		}
		if session.ActivePlanID != planID {
			return doc, nil
		}
		session.ActivePlanID = ""
		session.UpdatedAt = time.Now().UTC()
		body, err := json.Marshal(&session)
		if err != nil {
			return doc, fmt.Errorf("failed to marshal session: %w", err)
		}
		doc.Body = body
		return doc, nil
	})
	if err != nil {
		return fmt.Errorf("failed to release active plan: %w", mapStoreError(err))
	}
	return nil
}

// ListSessions returns every session, oldest first. Used by retention
// cleanup; request paths are always keyed by id.
func (s *SessionService) ListSessions(ctx context.Context, opts persistence.ListOptions) ([]*models.Session, error) {
	docs, err := s.store.ListAll(ctx, persistence.KindSessions, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", mapStoreError(err))
	}

	sessions := make([]*models.Session, 0, len(docs))
	for _, doc := range docs {
		var session models.Session
		if err := json.Unmarshal(doc.Body, &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", doc.ID, err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// DeleteSession removes a session document. Dependent documents (plans,
// messages, datasets) are removed separately by the cleanup service.
func (s *SessionService) DeleteSession(httpCtx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.store.Delete(ctx, persistence.KindSessions, sessionID, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", mapStoreError(err))
	}
	return nil
}
