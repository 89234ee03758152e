package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/persistence"
)

// TeamService resolves team definitions from two layers: the static
// registry (built-in plus config files) and runtime uploads in the document
// store. Uploaded teams are immutable; upload is create-only.
type TeamService struct {
	store    persistence.Store
	registry *config.TeamRegistry
}

// NewTeamService creates a new TeamService
func NewTeamService(store persistence.Store, registry *config.TeamRegistry) *TeamService {
	return &TeamService{store: store, registry: registry}
}

// UploadTeam stores a new team definition. The team id must not collide with
// a registry team or a previous upload.
func (s *TeamService) UploadTeam(httpCtx context.Context, team *models.TeamConfig) (*models.TeamConfig, error) {
	if team == nil {
		return nil, NewValidationError("team", "required")
	}
	if err := team.Validate(); err != nil {
		return nil, NewValidationError("team", err.Error())
	}
	if s.registry.Has(team.ID) {
		return nil, fmt.Errorf("%w: team %s is defined in configuration", ErrAlreadyExists, team.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	body, err := json.Marshal(team)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal team: %w", err)
	}

	_, err = s.store.Put(ctx, persistence.Document{
		Kind:         persistence.KindTeams,
		ID:           team.ID,
		PartitionKey: team.ID,
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store team: %w", mapStoreError(err))
	}

	return team, nil
}

// ResolveTeam returns the team definition for teamID, checking the registry
// before uploaded teams. Missing teams return ErrTeamNotFound.
func (s *TeamService) ResolveTeam(ctx context.Context, teamID string) (*models.TeamConfig, error) {
	if teamID == "" {
		return nil, NewValidationError("team_id", "required")
	}

	if team, err := s.registry.Get(teamID); err == nil {
		return team, nil
	}

	doc, err := s.store.Get(ctx, persistence.KindTeams, teamID, teamID)
	if err != nil {
		if mapStoreError(err) == ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
		}
		return nil, fmt.Errorf("failed to load team %s: %w", teamID, mapStoreError(err))
	}

	var team models.TeamConfig
	if err := json.Unmarshal(doc.Body, &team); err != nil {
		return nil, fmt.Errorf("failed to unmarshal team %s: %w", teamID, err)
	}
	return &team, nil
}

// ListTeams returns every known team, registry first, sorted by id within
// each layer.
func (s *TeamService) ListTeams(ctx context.Context) ([]*models.TeamConfig, error) {
	teams := make([]*models.TeamConfig, 0, s.registry.Len())
	for _, id := range s.registry.TeamIDs() {
		team, err := s.registry.Get(id)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}

	docs, err := s.store.ListAll(ctx, persistence.KindTeams, persistence.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded teams: %w", mapStoreError(err))
	}

	uploaded := make([]*models.TeamConfig, 0, len(docs))
	for _, doc := range docs {
		var team models.TeamConfig
		if err := json.Unmarshal(doc.Body, &team); err != nil {
			return nil, fmt.Errorf("failed to unmarshal team %s: %w", doc.ID, err)
		}
		uploaded = append(uploaded, &team)
	}
	sort.Slice(uploaded, func(i, j int) bool { return uploaded[i].ID < uploaded[j].ID })

	return append(teams, uploaded...), nil
}
