package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// createSessionHandler handles POST /api/v1/sessions.
// Sessions are owned by the authenticated caller; every later command on the
// session checks that ownership.
func (s *Server) createSessionHandler(c *echo.Context) error {
	session, err := s.sessionService.CreateSession(c.Request().Context(), currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, session)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	session, err := s.loadOwnedSession(c, sessionID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, session)
}

// sessionHistoryHandler handles GET /api/v1/sessions/:id/history.
// Returns plan summaries newest first, bounded by ?limit=.
func (s *Server) sessionHistoryHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be between 1 and 200")
		}
		limit = n
	}

	if _, err := s.loadOwnedSession(c, sessionID); err != nil {
		return err
	}

	summaries, err := s.planService.ListPlanSummaries(c.Request().Context(), sessionID, limit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &SessionHistoryResponse{
		SessionID: sessionID,
		Plans:     summaries,
	})
}

// listDatasetsHandler handles GET /api/v1/sessions/:id/datasets.
func (s *Server) listDatasetsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if _, err := s.loadOwnedSession(c, sessionID); err != nil {
		return err
	}

	handles, err := s.datasetService.ListDatasets(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, handles)
}
