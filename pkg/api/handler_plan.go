package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

const (
	// maxUserRequestLen caps the natural-language request a plan is drafted
	// from. Matches the planner prompt budget with room to spare.
	maxUserRequestLen = 100_000

	// transcriptTailLimit bounds the transcript slice returned with a plan.
	transcriptTailLimit = 50
)

// createPlanHandler handles POST /api/v1/plans.
// Drafts a plan for the session synchronously and parks it awaiting
// approval. Nothing is persisted when the planner fails.
func (s *Server) createPlanHandler(c *echo.Context) error {
	// 1. Bind and validate request body
	var req CreatePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.UserRequest == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_request is required")
	}
	if len(req.UserRequest) > maxUserRequestLen {
		return echo.NewHTTPError(http.StatusBadRequest, "user_request exceeds maximum length of 100,000 characters")
	}

	// 2. Verify the orchestrator is initialized
	if s.orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "orchestrator is not available")
	}

	// 3. Verify the caller owns the session
	if _, err := s.loadOwnedSession(c, req.SessionID); err != nil {
		return err
	}

	// 4. Draft the plan
	plan, err := s.orchestrator.CreatePlan(c.Request().Context(), req.SessionID, req.TeamID, req.UserRequest)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, plan)
}

// getPlanHandler handles GET /api/v1/plans/:id.
// Plans are partitioned by session, so the owning session_id rides along as
// a query parameter. The response bundles the plan document with the tail of
// its transcript.
func (s *Server) getPlanHandler(c *echo.Context) error {
	planID := c.Param("id")
	if planID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan id is required")
	}
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id query parameter is required")
	}

	if _, err := s.loadOwnedSession(c, sessionID); err != nil {
		return err
	}

	plan, err := s.planService.GetPlan(c.Request().Context(), sessionID, planID)
	if err != nil {
		return mapServiceError(err)
	}

	transcript, err := s.messageService.TranscriptTail(c.Request().Context(), sessionID, planID, transcriptTailLimit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &PlanDetailResponse{
		Plan:       plan,
		Transcript: transcript,
	})
}

// approvePlanHandler handles POST /api/v1/plans/:id/approval.
// approved=true releases the plan for execution; approved=false cancels it.
func (s *Server) approvePlanHandler(c *echo.Context) error {
	planID := c.Param("id")
	if planID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan id is required")
	}

	var req ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.Approved == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "approved is required")
	}

	if s.orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "orchestrator is not available")
	}
	if _, err := s.loadOwnedSession(c, req.SessionID); err != nil {
		return err
	}

	if err := s.orchestrator.Approve(c.Request().Context(), req.SessionID, planID, *req.Approved); err != nil {
		return mapServiceError(err)
	}

	msg := "plan approved and queued for execution"
	if !*req.Approved {
		msg = "plan rejected"
	}
	return c.JSON(http.StatusOK, &PlanCommandResponse{PlanID: planID, Message: msg})
}

// clarifyPlanHandler handles POST /api/v1/plans/:id/clarification.
// Delivers the user's answer to an agent parked on a clarification request.
func (s *Server) clarifyPlanHandler(c *echo.Context) error {
	planID := c.Param("id")
	if planID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan id is required")
	}

	var req ClarificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.Reply == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reply is required")
	}

	if s.orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "orchestrator is not available")
	}
	if _, err := s.loadOwnedSession(c, req.SessionID); err != nil {
		return err
	}

	if err := s.orchestrator.Clarify(c.Request().Context(), req.SessionID, planID, req.Reply); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &PlanCommandResponse{PlanID: planID, Message: "clarification recorded"})
}

// cancelPlanHandler handles POST /api/v1/plans/:id/cancel.
// Cancellation is cooperative: a running plan finishes its in-flight step
// before settling, so the response only acknowledges the request.
func (s *Server) cancelPlanHandler(c *echo.Context) error {
	planID := c.Param("id")
	if planID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan id is required")
	}

	var req CancelPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	if s.orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "orchestrator is not available")
	}
	if _, err := s.loadOwnedSession(c, req.SessionID); err != nil {
		return err
	}

	if err := s.orchestrator.Cancel(c.Request().Context(), req.SessionID, planID, req.Reason); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &PlanCommandResponse{PlanID: planID, Message: "plan cancellation requested"})
}
