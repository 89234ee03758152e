package events

import (
	"time"

	"github.com/planor-ai/planor/pkg/models"
)

// Envelope is the wire format for every event frame, persisted and
// transient alike. PlanID is empty for connection-scoped frames
// (Heartbeat); StepID is set only for step-level events.
//
// NOTIFY delivery and catchup responses add a top-level db_event_id
// field next to the envelope fields. It is delivery metadata, not part
// of the persisted payload, which is why it has no struct field here.
type Envelope struct {
	EventType string `json:"event_type"`
	PlanID    string `json:"plan_id,omitempty"`
	StepID    string `json:"step_id,omitempty"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// NewEnvelope builds an envelope stamped with the current time.
func NewEnvelope(eventType, planID, stepID string, payload any) Envelope {
	return Envelope{
		EventType: eventType,
		PlanID:    planID,
		StepID:    stepID,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// StepSummary is the per-step slice of a PlanCreated payload.
type StepSummary struct {
	StepID    string `json:"step_id"`
	Ordinal   int    `json:"ordinal"`
	AgentName string `json:"agent_name"`
	Action    string `json:"action"`
}

// PlanCreatedPayload is the payload for PlanCreated events.
// Published once per plan, after the planner's proposal is persisted
// in AwaitingApproval.
type PlanCreatedPayload struct {
	SessionID   string            `json:"session_id"`
	TeamID      string            `json:"team_id"`
	UserRequest string            `json:"user_request"`
	Status      models.PlanStatus `json:"status"`
	Facts       string            `json:"facts,omitempty"`
	Steps       []StepSummary     `json:"steps"`
}

// StepStartedPayload is the payload for StepStarted events.
type StepStartedPayload struct {
	Ordinal   int    `json:"ordinal"`
	AgentName string `json:"agent_name"`
	Action    string `json:"action"`
}

// StepToolInvokedPayload is the payload for StepToolInvoked events.
// Arguments are digested, never inlined: tool inputs can carry secrets
// and can be large.
type StepToolInvokedPayload struct {
	ToolName        string `json:"tool_name"`
	ServerID        string `json:"server_id,omitempty"`
	ArgumentsDigest string `json:"arguments_digest"`
}

// StepToolReturnedPayload is the payload for StepToolReturned events.
type StepToolReturnedPayload struct {
	ToolName     string `json:"tool_name"`
	ResultDigest string `json:"result_digest"`
	DurationMS   int64  `json:"ms"`
	IsError      bool   `json:"is_error,omitempty"`
}

// StepOutputPayload is the payload for StepOutput events. Carries the
// step's full final text; any StreamDelta frames that preceded it were
// only a preview.
type StepOutputPayload struct {
	Output string `json:"output"`
}

// StepFailedPayload is the payload for StepFailed events.
type StepFailedPayload struct {
	ErrorKind models.StepErrorKind `json:"error_kind"`
	Message   string               `json:"message"`
}

// ClarificationAskedPayload is the payload for ClarificationAsked events.
// The plan is parked in AwaitingClarification until a user answers.
type ClarificationAskedPayload struct {
	AgentName string `json:"agent_name"`
	Question  string `json:"question"`
}

// ClarificationAnsweredPayload is the payload for ClarificationAnswered events.
type ClarificationAnsweredPayload struct {
	Answer string `json:"answer"`
}

// PlanCompletedPayload is the payload for PlanCompleted events.
type PlanCompletedPayload struct {
	FinalResult string `json:"final_result"`
}

// PlanFailedPayload is the payload for PlanFailed events.
type PlanFailedPayload struct {
	ErrorKind models.StepErrorKind `json:"error_kind"`
	Message   string               `json:"message"`
}

// PlanCancelledPayload is the payload for PlanCancelled events.
type PlanCancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is the payload for Error events — orchestration problems
// worth surfacing that did not fail the plan by themselves.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StreamDeltaPayload is the payload for StreamDelta transient events.
// Published for each streamed output fragment — high frequency, ephemeral.
type StreamDeltaPayload struct {
	AgentName string `json:"agent_name,omitempty"`
	Delta     string `json:"delta"`
}

// HeartbeatPayload is the (empty) payload for Heartbeat frames.
type HeartbeatPayload struct{}
