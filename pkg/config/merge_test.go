package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/models"
)

func TestMergeTeams(t *testing.T) {
	builtin := map[string]models.TeamConfig{
		"general": {
			Name:   "General",
			Agents: []models.AgentSpec{{Name: "Coordinator", SystemPrompt: "builtin prompt"}},
		},
	}

	t.Run("builtin only", func(t *testing.T) {
		merged := mergeTeams(builtin, nil)

		require.Len(t, merged, 1)
		assert.Equal(t, "general", merged["general"].ID)
		assert.Equal(t, "builtin prompt", merged["general"].Agents[0].SystemPrompt)
	})

	t.Run("user overrides builtin", func(t *testing.T) {
		user := map[string]models.TeamConfig{
			"general": {
				Name:   "General",
				Agents: []models.AgentSpec{{Name: "Coordinator", SystemPrompt: "user prompt"}},
			},
		}

		merged := mergeTeams(builtin, user)

		require.Len(t, merged, 1)
		assert.Equal(t, "user prompt", merged["general"].Agents[0].SystemPrompt)
	})

	t.Run("user adds new team with ID from key", func(t *testing.T) {
		user := map[string]models.TeamConfig{
			"security": {
				Name:   "Security",
				Agents: []models.AgentSpec{{Name: "Auditor", SystemPrompt: "audit"}},
			},
		}

		merged := mergeTeams(builtin, user)

		require.Len(t, merged, 2)
		assert.Equal(t, "security", merged["security"].ID)
	})

	t.Run("explicit mismatched ID is preserved for the validator", func(t *testing.T) {
		user := map[string]models.TeamConfig{
			"security": {
				ID:     "something-else",
				Name:   "Security",
				Agents: []models.AgentSpec{{Name: "Auditor", SystemPrompt: "audit"}},
			},
		}

		merged := mergeTeams(builtin, user)

		assert.Equal(t, "something-else", merged["security"].ID)
	})
}

func TestMergeMCPServers(t *testing.T) {
	builtin := map[string]MCPServerConfig{
		"shared": {Transport: TransportConfig{Type: TransportTypeHTTP, URL: "http://builtin/mcp"}},
	}
	user := map[string]MCPServerConfig{
		"shared": {Transport: TransportConfig{Type: TransportTypeHTTP, URL: "http://user/mcp"}},
		"extra":  {Transport: TransportConfig{Type: TransportTypeStdio, Command: "mcp-extra"}},
	}

	merged := mergeMCPServers(builtin, user)

	require.Len(t, merged, 2)
	assert.Equal(t, "http://user/mcp", merged["shared"].Transport.URL)
	assert.Equal(t, "mcp-extra", merged["extra"].Transport.Command)
}

func TestMergeLLMProviders(t *testing.T) {
	builtin := map[string]LLMProviderConfig{
		"google-default": {Type: LLMProviderTypeGoogle, Model: "gemini-2.5-pro"},
	}
	user := map[string]LLMProviderConfig{
		"google-default": {Type: LLMProviderTypeGoogle, Model: "gemini-experimental"},
		"local":          {Type: LLMProviderTypeOpenAI, Model: "llama-3", BaseURL: "http://localhost:11434/v1"},
	}

	merged := mergeLLMProviders(builtin, user)

	require.Len(t, merged, 2)
	assert.Equal(t, "gemini-experimental", merged["google-default"].Model)
	assert.Equal(t, "http://localhost:11434/v1", merged["local"].BaseURL)
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	builtin := map[string]models.TeamConfig{
		"general": {Name: "General", Agents: []models.AgentSpec{{Name: "A", SystemPrompt: "p"}}},
	}

	merged := mergeTeams(builtin, nil)
	merged["general"].Name = "Mutated"

	assert.Equal(t, "General", builtin["general"].Name)
}
