package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/models"
)

func TestTeamRegistry(t *testing.T) {
	registry := NewTeamRegistry(map[string]*models.TeamConfig{
		"ops":      {ID: "ops", Name: "Operations"},
		"security": {ID: "security", Name: "Security"},
	})

	t.Run("get existing", func(t *testing.T) {
		team, err := registry.Get("ops")
		require.NoError(t, err)
		assert.Equal(t, "Operations", team.Name)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTeamNotFound)
		assert.Contains(t, err.Error(), "nonexistent")
	})

	t.Run("has and len", func(t *testing.T) {
		assert.True(t, registry.Has("ops"))
		assert.False(t, registry.Has("nonexistent"))
		assert.Equal(t, 2, registry.Len())
	})

	t.Run("team IDs are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"ops", "security"}, registry.TeamIDs())
	})

	t.Run("get all returns a copy", func(t *testing.T) {
		all := registry.GetAll()
		delete(all, "ops")
		assert.True(t, registry.Has("ops"))
	})
}

func TestMCPServerRegistry(t *testing.T) {
	registry := NewMCPServerRegistry(map[string]*MCPServerConfig{
		"filesystem": {Transport: TransportConfig{Type: TransportTypeStdio, Command: "mcp-fs"}},
		"api":        {Transport: TransportConfig{Type: TransportTypeHTTP, URL: "http://x/mcp"}},
	})

	t.Run("get existing", func(t *testing.T) {
		server, err := registry.Get("filesystem")
		require.NoError(t, err)
		assert.Equal(t, "mcp-fs", server.Transport.Command)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		assert.ErrorIs(t, err, ErrMCPServerNotFound)
	})

	t.Run("server IDs are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"api", "filesystem"}, registry.ServerIDs())
	})

	t.Run("get all returns a copy", func(t *testing.T) {
		all := registry.GetAll()
		delete(all, "api")
		assert.True(t, registry.Has("api"))
	})
}

func TestLLMProviderRegistry(t *testing.T) {
	registry := NewLLMProviderRegistry(map[string]*LLMProviderConfig{
		"google-default": {Type: LLMProviderTypeGoogle, Model: "gemini-2.5-pro"},
	})

	t.Run("get existing", func(t *testing.T) {
		provider, err := registry.Get("google-default")
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.5-pro", provider.Model)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		assert.ErrorIs(t, err, ErrLLMProviderNotFound)
	})

	t.Run("has and len", func(t *testing.T) {
		assert.True(t, registry.Has("google-default"))
		assert.Equal(t, 1, registry.Len())
	})
}
