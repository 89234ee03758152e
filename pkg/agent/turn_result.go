package agent

import "github.com/planor-ai/planor/pkg/models"

// TurnResult is the outcome of one agent turn. Exactly one of the concrete
// types below is returned; the step loop switches on it to decide whether to
// execute tools, park for clarification, finish the step, or fail it.
type TurnResult interface {
	turnResult()
}

// Final is a turn that concluded with assistant text and no tool calls.
type Final struct {
	Text string
}

// ToolCallRequested is a turn that asked for one or more tool invocations.
// Calls within a single turn may execute in parallel; their results are fed
// back with Agent.AddToolResults before the next turn.
type ToolCallRequested struct {
	Calls []ToolCall
}

// ClarificationRequested is a turn that invoked the request_clarification
// pseudo-tool. The step parks until the user answers; the answer flows back
// through Agent.AddClarificationAnswer as the pseudo-tool's result.
type ClarificationRequested struct {
	CallID   string
	Question string
}

// Failed is a turn the runtime could not complete.
type Failed struct {
	Kind    models.StepErrorKind
	Message string
}

func (*Final) turnResult()                  {}
func (*ToolCallRequested) turnResult()      {}
func (*ClarificationRequested) turnResult() {}
func (*Failed) turnResult()                 {}
