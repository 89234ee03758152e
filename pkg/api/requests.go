package api

// CreatePlanRequest is the HTTP request body for POST /api/v1/plans.
type CreatePlanRequest struct {
	SessionID   string `json:"session_id"`
	TeamID      string `json:"team_id"`
	UserRequest string `json:"user_request"`
}

// ApprovalRequest is the HTTP request body for POST /api/v1/plans/:id/approval.
// Approved is a pointer so a missing field is rejected instead of silently
// treated as a rejection.
type ApprovalRequest struct {
	SessionID string `json:"session_id"`
	Approved  *bool  `json:"approved"`
}

// ClarificationRequest is the HTTP request body for POST /api/v1/plans/:id/clarification.
type ClarificationRequest struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// CancelPlanRequest is the HTTP request body for POST /api/v1/plans/:id/cancel.
type CancelPlanRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}
