package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/planor-ai/planor/pkg/models"
)

// TeamRegistry stores team configurations in memory with thread-safe access.
// Teams loaded here are the seed catalogue; teams uploaded at runtime live in
// the document store and are layered on top by the team service.
type TeamRegistry struct {
	teams map[string]*models.TeamConfig
	mu    sync.RWMutex
}

// NewTeamRegistry creates a new team registry
func NewTeamRegistry(teams map[string]*models.TeamConfig) *TeamRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*models.TeamConfig, len(teams))
	for k, v := range teams {
		copied[k] = v
	}
	return &TeamRegistry{
		teams: copied,
	}
}

// Get retrieves a team configuration by ID (thread-safe)
func (r *TeamRegistry) Get(teamID string) (*models.TeamConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	team, exists := r.teams[teamID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}
	return team, nil
}

// GetAll returns all team configurations (thread-safe, returns copy)
func (r *TeamRegistry) GetAll() map[string]*models.TeamConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*models.TeamConfig, len(r.teams))
	for k, v := range r.teams {
		result[k] = v
	}
	return result
}

// Has checks if a team exists in the registry (thread-safe)
func (r *TeamRegistry) Has(teamID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.teams[teamID]
	return exists
}

// Len returns the number of teams in the registry (thread-safe)
func (r *TeamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.teams)
}

// TeamIDs returns a sorted list of all configured team IDs.
func (r *TeamRegistry) TeamIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.teams))
	for id := range r.teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
