// Package models defines the persisted domain entities and their lifecycle
// rules. Entities are constructed through parsing functions at the service
// boundaries so the rest of the system only ever sees well-formed values.
package models

import (
	"fmt"
	"time"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusCreated               PlanStatus = "created"
	PlanStatusAwaitingApproval      PlanStatus = "awaiting_approval"
	PlanStatusRunning               PlanStatus = "running"
	PlanStatusAwaitingClarification PlanStatus = "awaiting_clarification"
	PlanStatusCompleted             PlanStatus = "completed"
	PlanStatusFailed                PlanStatus = "failed"
	PlanStatusCancelled             PlanStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	}
	return false
}

// planTransitions encodes the legal edges of the plan state machine.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanStatusCreated:               {PlanStatusAwaitingApproval, PlanStatusFailed, PlanStatusCancelled},
	PlanStatusAwaitingApproval:      {PlanStatusRunning, PlanStatusCancelled},
	PlanStatusRunning:               {PlanStatusAwaitingClarification, PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled},
	PlanStatusAwaitingClarification: {PlanStatusRunning, PlanStatusCancelled, PlanStatusFailed},
}

// CanTransitionTo reports whether s -> next is a legal plan transition.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	for _, t := range planTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusPending               StepStatus = "pending"
	StepStatusRunning               StepStatus = "running"
	StepStatusAwaitingClarification StepStatus = "awaiting_clarification"
	StepStatusDone                  StepStatus = "done"
	StepStatusSkipped               StepStatus = "skipped"
	StepStatusFailed                StepStatus = "failed"
)

// Terminal reports whether the step status admits no further transitions.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusDone, StepStatusSkipped, StepStatusFailed:
		return true
	}
	return false
}

// StepErrorKind classifies why a step failed. Matched structurally, never by
// message contents.
type StepErrorKind string

const (
	StepErrorNone              StepErrorKind = ""
	StepErrorToolPolicy        StepErrorKind = "tool_policy"
	StepErrorTool              StepErrorKind = "tool"
	StepErrorAgent             StepErrorKind = "agent"
	StepErrorTurnCap           StepErrorKind = "turn_cap"
	StepErrorClarificationLoop StepErrorKind = "clarification_loop"
	StepErrorPersistence       StepErrorKind = "persistence"
)

// ToolCallRecord is the committed log of one tool invocation within a step.
// Digests stand in for the full payloads; the transcript keeps the (masked)
// previews.
type ToolCallRecord struct {
	ToolName        string `json:"tool_name"`
	ArgumentsDigest string `json:"arguments_digest"`
	ResultDigest    string `json:"result_digest,omitempty"`
	DurationMS      int64  `json:"ms"`
}

// Step is one unit of work within a plan, executed by exactly one agent.
type Step struct {
	ID                 string           `json:"step_id"`
	Ordinal            int              `json:"ordinal"`
	AgentName          string           `json:"agent_name"`
	Action             string           `json:"action"`
	Status             StepStatus       `json:"status"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	FinishedAt         *time.Time       `json:"finished_at,omitempty"`
	ToolCalls          []ToolCallRecord `json:"tool_calls,omitempty"`
	OutputText         string           `json:"output_text,omitempty"`
	ErrorKind          StepErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	ClarificationCount int              `json:"clarification_count,omitempty"`
}

// Plan is a persisted, ordered sequence of steps generated for one user
// request. Steps are embedded so step and plan transitions commit atomically
// under a single document patch.
type Plan struct {
	ID                    string     `json:"plan_id"`
	SessionID             string     `json:"session_id"`
	TeamID                string     `json:"team_id"`
	UserRequest           string     `json:"user_request"`
	OverallStatus         PlanStatus `json:"overall_status"`
	Facts                 string     `json:"facts,omitempty"`
	Steps                 []Step     `json:"steps"`
	FinalResult           string     `json:"final_result,omitempty"`
	CancellationRequested bool       `json:"cancellation_requested,omitempty"`
	Approved              bool       `json:"approved,omitempty"`
	ClaimedBy             string     `json:"claimed_by,omitempty"`
	LastHeartbeatAt       *time.Time `json:"last_heartbeat_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// StepDraft is a planner-produced step before ordinals and ids are assigned.
type StepDraft struct {
	AgentName string `json:"agent_name"`
	Action    string `json:"action"`
}

// PlanDraft is the planner agent's structured output.
type PlanDraft struct {
	Facts string      `json:"facts"`
	Steps []StepDraft `json:"steps"`
}

// NewPlan builds a plan from a validated draft. Ordinals are assigned
// contiguously from 1 in draft order.
func NewPlan(planID, sessionID, teamID, userRequest string, draft PlanDraft, now time.Time) *Plan {
	steps := make([]Step, 0, len(draft.Steps))
	for i, d := range draft.Steps {
		steps = append(steps, Step{
			ID:        fmt.Sprintf("%s-step-%d", planID, i+1),
			Ordinal:   i + 1,
			AgentName: d.AgentName,
			Action:    d.Action,
			Status:    StepStatusPending,
		})
	}
	return &Plan{
		ID:            planID,
		SessionID:     sessionID,
		TeamID:        teamID,
		UserRequest:   userRequest,
		OverallStatus: PlanStatusCreated,
		Facts:         draft.Facts,
		Steps:         steps,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StepByID returns the step with the given id, or nil.
func (p *Plan) StepByID(stepID string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return &p.Steps[i]
		}
	}
	return nil
}

// NextIncompleteStep returns the lowest-ordinal step that is not Done or
// Skipped, or nil when every step has completed. Execution and resumption
// both enter the loop here.
func (p *Plan) NextIncompleteStep() *Step {
	for i := range p.Steps {
		switch p.Steps[i].Status {
		case StepStatusDone, StepStatusSkipped:
			continue
		default:
			return &p.Steps[i]
		}
	}
	return nil
}

// AllStepsSettled reports whether every step is Done or Skipped.
func (p *Plan) AllStepsSettled() bool {
	return p.NextIncompleteStep() == nil
}

// HasFailedStep reports whether any step ended in Failed.
func (p *Plan) HasFailedStep() bool {
	for i := range p.Steps {
		if p.Steps[i].Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// HasRunningStep reports whether any step is currently Running.
func (p *Plan) HasRunningStep() bool {
	for i := range p.Steps {
		if p.Steps[i].Status == StepStatusRunning {
			return true
		}
	}
	return false
}

// StepAwaitingClarification returns the step currently parked on a
// clarification, or nil. At most one step can be parked at a time.
func (p *Plan) StepAwaitingClarification() *Step {
	for i := range p.Steps {
		if p.Steps[i].Status == StepStatusAwaitingClarification {
			return &p.Steps[i]
		}
	}
	return nil
}

// SkipUnsettledSteps marks every non-terminal step Skipped. Called inside the
// same patch that moves the plan to a terminal status so the settlement
// commits atomically.
func (p *Plan) SkipUnsettledSteps(now time.Time) {
	for i := range p.Steps {
		if p.Steps[i].Status.Terminal() {
			continue
		}
		p.Steps[i].Status = StepStatusSkipped
		if p.Steps[i].FinishedAt == nil {
			t := now
			p.Steps[i].FinishedAt = &t
		}
	}
}

// LastStepOutput returns the output of the highest-ordinal Done step, or ""
// when no step has completed.
func (p *Plan) LastStepOutput() string {
	for i := len(p.Steps) - 1; i >= 0; i-- {
		if p.Steps[i].Status == StepStatusDone {
			return p.Steps[i].OutputText
		}
	}
	return ""
}

// ValidateOrdinals checks that step ordinals form the contiguous range 1..N.
func (p *Plan) ValidateOrdinals() error {
	for i := range p.Steps {
		if p.Steps[i].Ordinal != i+1 {
			return fmt.Errorf("step %q has ordinal %d, want %d", p.Steps[i].ID, p.Steps[i].Ordinal, i+1)
		}
	}
	return nil
}

// PlanSummary is the compact listing form used by session history.
type PlanSummary struct {
	ID            string     `json:"plan_id"`
	SessionID     string     `json:"session_id"`
	TeamID        string     `json:"team_id"`
	UserRequest   string     `json:"user_request"`
	OverallStatus PlanStatus `json:"overall_status"`
	StepCount     int        `json:"step_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Summary converts a plan to its listing form.
func (p *Plan) Summary() PlanSummary {
	return PlanSummary{
		ID:            p.ID,
		SessionID:     p.SessionID,
		TeamID:        p.TeamID,
		UserRequest:   p.UserRequest,
		OverallStatus: p.OverallStatus,
		StepCount:     len(p.Steps),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
