package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/planor-ai/planor/pkg/models"
)

// listTeamsHandler handles GET /api/v1/teams.
// Returns registry teams first, then uploaded ones.
func (s *Server) listTeamsHandler(c *echo.Context) error {
	teams, err := s.teamService.ListTeams(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, teams)
}

// uploadTeamHandler handles POST /api/v1/teams.
// Uploaded teams are create-only; a team id that collides with the registry
// or a previous upload is rejected.
func (s *Server) uploadTeamHandler(c *echo.Context) error {
	var team models.TeamConfig
	if err := c.Bind(&team); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	uploaded, err := s.teamService.UploadTeam(c.Request().Context(), &team)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, uploaded)
}
