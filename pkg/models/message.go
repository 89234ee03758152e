package models

import "time"

// MessageKind classifies transcript entries.
type MessageKind string

const (
	MessageKindUserRequest          MessageKind = "user_request"
	MessageKindAgentOutput          MessageKind = "agent_output"
	MessageKindToolCall             MessageKind = "tool_call"
	MessageKindToolResult           MessageKind = "tool_result"
	MessageKindClarificationRequest MessageKind = "clarification_request"
	MessageKindClarificationReply   MessageKind = "clarification_reply"
	MessageKindApprovalRequest      MessageKind = "approval_request"
	MessageKindApprovalDecision     MessageKind = "approval_decision"
	MessageKindError                MessageKind = "error"
	MessageKindFinalResult          MessageKind = "final_result"
)

// Message is one append-only entry in a session's transcript. Tool and
// clarification entries carry StepID so resumption can rebuild a single
// step's exchanges.
type Message struct {
	ID        string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	PlanID    string      `json:"plan_id,omitempty"`
	StepID    string      `json:"step_id,omitempty"`
	Kind      MessageKind `json:"kind"`
	AgentName string      `json:"agent_name,omitempty"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"timestamp"`
}
