package config

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBuiltinConfigSingleton(t *testing.T) {
	first := GetBuiltinConfig()
	second := GetBuiltinConfig()

	assert.Same(t, first, second)
}

func TestBuiltinTeamsAreValid(t *testing.T) {
	builtin := GetBuiltinConfig()

	require.NotEmpty(t, builtin.Teams)
	assert.Contains(t, builtin.Teams, builtin.DefaultTeamID)

	for id, team := range builtin.Teams {
		teamCopy := team
		teamCopy.ID = id
		require.NoError(t, teamCopy.Validate(), "builtin team %s must validate", id)
	}
}

func TestBuiltinDefaultTeamHasPlannerAndWorker(t *testing.T) {
	builtin := GetBuiltinConfig()

	team := builtin.Teams[builtin.DefaultTeamID]
	team.ID = builtin.DefaultTeamID

	planner := team.PlannerAgent()
	require.NotNil(t, planner)
	assert.False(t, planner.ToolCapable)

	var toolCapable bool
	for _, agent := range team.Agents {
		if agent.ToolCapable {
			toolCapable = true
		}
	}
	assert.True(t, toolCapable, "default team needs at least one tool-capable agent")
}

func TestBuiltinLLMProvidersAreValid(t *testing.T) {
	builtin := GetBuiltinConfig()

	require.NotEmpty(t, builtin.LLMProviders)
	for name, provider := range builtin.LLMProviders {
		assert.True(t, provider.Type.IsValid(), "provider %s has invalid type %s", name, provider.Type)
		assert.NotEmpty(t, provider.Model, "provider %s has no model", name)
		assert.NotEmpty(t, provider.APIKeyEnv, "provider %s has no api_key_env", name)
		if provider.MaxToolResultTokens != 0 {
			assert.GreaterOrEqual(t, provider.MaxToolResultTokens, 1000, "provider %s", name)
		}
	}
}

func TestBuiltinMaskingPatternsCompile(t *testing.T) {
	builtin := GetBuiltinConfig()

	require.NotEmpty(t, builtin.MaskingPatterns)
	for name, pattern := range builtin.MaskingPatterns {
		assert.NotEmpty(t, pattern.Replacement, "pattern %s has no replacement", name)
		_, err := regexp.Compile(pattern.Pattern)
		assert.NoError(t, err, "pattern %s does not compile", name)
	}
}

func TestBuiltinPatternGroupsReferenceKnownPatterns(t *testing.T) {
	builtin := GetBuiltinConfig()

	require.NotEmpty(t, builtin.PatternGroups)
	for groupName, patternNames := range builtin.PatternGroups {
		assert.NotEmpty(t, patternNames, "group %s is empty", groupName)
		for _, patternName := range patternNames {
			assert.Contains(t, builtin.MaskingPatterns, patternName,
				"group %s references unknown pattern %s", groupName, patternName)
		}
	}
}

func TestBuiltinAllGroupCoversEveryPattern(t *testing.T) {
	builtin := GetBuiltinConfig()

	all, ok := builtin.PatternGroups["all"]
	require.True(t, ok)
	assert.Len(t, all, len(builtin.MaskingPatterns))
}
