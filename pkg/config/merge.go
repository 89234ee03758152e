package config

import "github.com/planor-ai/planor/pkg/models"

// mergeTeams merges built-in and user-defined team configurations.
// User-defined teams override built-in teams with the same ID.
func mergeTeams(builtinTeams map[string]models.TeamConfig, userTeams map[string]models.TeamConfig) map[string]*models.TeamConfig {
	result := make(map[string]*models.TeamConfig)

	// First, add built-in teams
	for id, team := range builtinTeams {
		teamCopy := team
		teamCopy.ID = id
		result[id] = &teamCopy
	}

	// Then, override with user-defined teams (or add new ones)
	for id, userTeam := range userTeams {
		teamCopy := userTeam
		// The map key is authoritative; an explicit team_id inside the block
		// must agree with it or validation rejects the team.
		if teamCopy.ID == "" {
			teamCopy.ID = id
		}
		result[id] = &teamCopy
	}

	return result
}

// mergeMCPServers merges built-in and user-defined MCP server configurations.
// User-defined servers override built-in servers with the same ID.
func mergeMCPServers(builtinServers map[string]MCPServerConfig, userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig)

	// First, add built-in servers
	for id, server := range builtinServers {
		serverCopy := server
		result[id] = &serverCopy
	}

	// Then, override with user-defined servers (or add new ones)
	for id, userServer := range userServers {
		serverCopy := userServer
		result[id] = &serverCopy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
