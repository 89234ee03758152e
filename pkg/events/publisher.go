package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Sink carries marshaled envelopes to subscribers. PersistAndNotify is
// used for domain events (store first, then deliver — atomically where
// the backend allows it); NotifyOnly is used for transient events.
//
// PostgresSink is the production implementation; MemBus backs the
// in-memory mode with the same ordering and catchup contract.
type Sink interface {
	PersistAndNotify(ctx context.Context, sessionID, channel string, envelope []byte) error
	NotifyOnly(ctx context.Context, channel string, envelope []byte) error
}

// EventPublisher publishes events for WebSocket delivery.
// Domain events are stored in the events table then broadcast; transient
// events (stream deltas) are broadcast only.
//
// Each public method assembles the envelope for one event type — the
// caller supplies routing IDs and a typed payload (see payloads.go) and
// the publisher stamps event_type and timestamp.
type EventPublisher struct {
	sink Sink
}

// NewEventPublisher creates a new EventPublisher over the given sink.
func NewEventPublisher(sink Sink) *EventPublisher {
	return &EventPublisher{sink: sink}
}

// --- Typed public methods ---

// PublishPlanCreated persists and broadcasts a PlanCreated event.
func (p *EventPublisher) PublishPlanCreated(ctx context.Context, sessionID, planID string, payload PlanCreatedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypePlanCreated, planID, "", payload))
}

// PublishStepStarted persists and broadcasts a StepStarted event.
func (p *EventPublisher) PublishStepStarted(ctx context.Context, sessionID, planID, stepID string, payload StepStartedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeStepStarted, planID, stepID, payload))
}

// PublishStepToolInvoked persists and broadcasts a StepToolInvoked event.
func (p *EventPublisher) PublishStepToolInvoked(ctx context.Context, sessionID, planID, stepID string, payload StepToolInvokedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeStepToolInvoked, planID, stepID, payload))
}

// PublishStepToolReturned persists and broadcasts a StepToolReturned event.
func (p *EventPublisher) PublishStepToolReturned(ctx context.Context, sessionID, planID, stepID string, payload StepToolReturnedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeStepToolReturned, planID, stepID, payload))
}

// PublishStepOutput persists and broadcasts a StepOutput event.
func (p *EventPublisher) PublishStepOutput(ctx context.Context, sessionID, planID, stepID string, payload StepOutputPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeStepOutput, planID, stepID, payload))
}

// PublishStepFailed persists and broadcasts a StepFailed event.
func (p *EventPublisher) PublishStepFailed(ctx context.Context, sessionID, planID, stepID string, payload StepFailedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeStepFailed, planID, stepID, payload))
}

// PublishClarificationAsked persists and broadcasts a ClarificationAsked event.
func (p *EventPublisher) PublishClarificationAsked(ctx context.Context, sessionID, planID, stepID string, payload ClarificationAskedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeClarificationAsked, planID, stepID, payload))
}

// PublishClarificationAnswered persists and broadcasts a ClarificationAnswered event.
func (p *EventPublisher) PublishClarificationAnswered(ctx context.Context, sessionID, planID, stepID string, payload ClarificationAnsweredPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeClarificationAnswered, planID, stepID, payload))
}

// PublishPlanCompleted persists and broadcasts a PlanCompleted event.
func (p *EventPublisher) PublishPlanCompleted(ctx context.Context, sessionID, planID string, payload PlanCompletedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypePlanCompleted, planID, "", payload))
}

// PublishPlanFailed persists and broadcasts a PlanFailed event.
func (p *EventPublisher) PublishPlanFailed(ctx context.Context, sessionID, planID string, payload PlanFailedPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypePlanFailed, planID, "", payload))
}

// PublishPlanCancelled persists and broadcasts a PlanCancelled event.
func (p *EventPublisher) PublishPlanCancelled(ctx context.Context, sessionID, planID string, payload PlanCancelledPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypePlanCancelled, planID, "", payload))
}

// PublishError persists and broadcasts an Error event.
func (p *EventPublisher) PublishError(ctx context.Context, sessionID, planID string, payload ErrorPayload) error {
	return p.publish(ctx, sessionID, NewEnvelope(EventTypeError, planID, "", payload))
}

// PublishStreamDelta broadcasts a StreamDelta transient event (no DB
// persistence). Used for incremental agent output — ephemeral, lost on
// disconnect or subscriber lag.
func (p *EventPublisher) PublishStreamDelta(ctx context.Context, sessionID, planID, stepID string, payload StreamDeltaPayload) error {
	return p.publishTransient(ctx, sessionID, NewEnvelope(EventTypeStreamDelta, planID, stepID, payload))
}

// --- Internal core methods ---

func (p *EventPublisher) publish(ctx context.Context, sessionID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", env.EventType, err)
	}
	return p.sink.PersistAndNotify(ctx, sessionID, SessionChannel(sessionID), data)
}

func (p *EventPublisher) publishTransient(ctx context.Context, sessionID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", env.EventType, err)
	}
	return p.sink.NotifyOnly(ctx, SessionChannel(sessionID), data)
}

// --- PostgreSQL sink ---

// PostgresSink delivers events through the events table and pg_notify.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink over the raw *sql.DB from database.Client.DB().
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// PersistAndNotify persists a pre-marshaled envelope to the database and
// broadcasts via NOTIFY in a single transaction (pg_notify is transactional —
// held until COMMIT).
func (s *PostgresSink) PersistAndNotify(ctx context.Context, sessionID, channel string, envelope []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Persist to events table (within transaction)
	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, envelope, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	// Build NOTIFY payload with db_event_id for catchup tracking.
	notifyPayload, err := injectEventIDAndTruncate(envelope, eventID)
	if err != nil {
		return err
	}

	// 2. pg_notify within same transaction — held until COMMIT
	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	// 3. Commit — INSERT is persisted and NOTIFY fires atomically
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	return nil
}

// NotifyOnly broadcasts a pre-marshaled envelope via NOTIFY without
// persisting to DB.
func (s *PostgresSink) NotifyOnly(ctx context.Context, channel string, envelope []byte) error {
	notifyPayload, err := truncateIfNeeded(string(envelope))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectEventIDAndTruncate adds db_event_id to the JSON envelope for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectEventIDAndTruncate(envelope []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(envelope, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal envelope for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON envelope bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		EventType string `json:"event_type"`
		PlanID    string `json:"plan_id"`
		StepID    string `json:"step_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"event_type": routing.EventType,
		"plan_id":    routing.PlanID,
		"truncated":  true,
	}
	if routing.StepID != "" {
		truncated["step_id"] = routing.StepID
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
