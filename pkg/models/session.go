package models

import "time"

// Session is the conversational scope that owns plans, messages, and dataset
// handles. ActivePlanID holds the id of the single non-terminal plan, or ""
// when none is in flight; it is claimed and released with guarded patches so
// two plans can never be active at once.
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	ActivePlanID string    `json:"active_plan_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
