// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// ════════════════════════════════════════════════════════════════
// Delivery classes
// ════════════════════════════════════════════════════════════════
//
// Every frame on the wire is an Envelope (see payloads.go):
//
//	{event_type, plan_id, step_id?, payload, timestamp}
//
// Events fall into two classes. Clients distinguish them by event_type.
//
// Class 1 — DOMAIN (persisted, ordered, replayable):
//
//	PlanCreated, StepStarted, StepToolInvoked, StepToolReturned,
//	StepOutput, StepFailed, ClarificationAsked, ClarificationAnswered,
//	PlanCompleted, PlanFailed, PlanCancelled, Error
//
//	Domain events are written to the events table and broadcast via
//	pg_notify in the same transaction, so a delivered event is always
//	already persisted and a committed event is always delivered (or
//	recoverable via catchup). Within one plan, delivery order matches
//	publish order. Subscribers that fall behind are disconnected rather
//	than silently skipped; on reconnect they replay from their last
//	db_event_id.
//
// Class 2 — TRANSIENT (NOTIFY only, droppable):
//
//	StreamDelta  incremental agent output for a live typing effect.
//	             Lost deltas are harmless: the final text arrives later
//	             in StepOutput (or PlanCompleted).
//	Heartbeat    per-connection liveness frame, generated locally by
//	             the ConnectionManager rather than published.
//
//	Transient events are never persisted and are the only frames the
//	manager may drop when a subscriber's outbound buffer is full.
//
// NOTIFY payloads carry a db_event_id field injected at publish time;
// catchup responses inject the same field from the row ID. Clients track
// the highest db_event_id they have seen and pass it as last_event_id
// when reconnecting.
package events

// Plan lifecycle event types (stored in DB + NOTIFY).
const (
	EventTypePlanCreated   = "PlanCreated"
	EventTypePlanCompleted = "PlanCompleted"
	EventTypePlanFailed    = "PlanFailed"
	EventTypePlanCancelled = "PlanCancelled"
)

// Step lifecycle event types (stored in DB + NOTIFY).
const (
	EventTypeStepStarted      = "StepStarted"
	EventTypeStepToolInvoked  = "StepToolInvoked"
	EventTypeStepToolReturned = "StepToolReturned"
	EventTypeStepOutput       = "StepOutput"
	EventTypeStepFailed       = "StepFailed"
)

// Clarification event types (stored in DB + NOTIFY).
const (
	EventTypeClarificationAsked    = "ClarificationAsked"
	EventTypeClarificationAnswered = "ClarificationAnswered"
)

// EventTypeError reports a non-fatal orchestration error to subscribers
// (stored in DB + NOTIFY).
const EventTypeError = "Error"

// Transient event types (NOTIFY only, no DB persistence).
const (
	// Incremental agent output — high-frequency, ephemeral.
	EventTypeStreamDelta = "StreamDelta"

	// Connection liveness — generated per connection, never broadcast.
	EventTypeHeartbeat = "Heartbeat"
)

// IsTransient reports whether an event type is delivered best-effort.
// Transient frames may be dropped for lagging subscribers; everything
// else is ordered and must not be skipped.
func IsTransient(eventType string) bool {
	switch eventType {
	case EventTypeStreamDelta, EventTypeHeartbeat:
		return true
	}
	return false
}

// SessionChannel returns the channel name for a specific session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "session:abc-123")
	LastEventID *int   `json:"last_event_id,omitempty"` // For catchup
}
