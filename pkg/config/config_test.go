package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStats(t *testing.T) {
	cfg := validTestConfig()

	stats := cfg.Stats()

	assert.Equal(t, 1, stats.Teams)
	assert.Equal(t, 1, stats.MCPServers)
	assert.Equal(t, 1, stats.LLMProviders)
}

func TestConfigStatsWithNilRegistries(t *testing.T) {
	cfg := &Config{}

	assert.Equal(t, Stats{}, cfg.Stats())
}

func TestConfigConvenienceGetters(t *testing.T) {
	cfg := validTestConfig()

	server, err := cfg.GetMCPServer("tools")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/mcp", server.Transport.URL)

	provider, err := cfg.GetLLMProvider("google-default")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", provider.Model)

	assert.Equal(t, []string{"tools"}, cfg.AllMCPServerIDs())
}

func TestDefaultsDurationAccessors(t *testing.T) {
	d := DefaultDefaults()

	assert.Equal(t, 60*time.Second, d.ToolCallTimeout())
	assert.Equal(t, 2*time.Minute, d.AgentTurnTimeout())
	assert.Equal(t, 10*time.Minute, d.StepTimeout())
	assert.Equal(t, time.Hour, d.PlanDeadline())
	assert.Equal(t, 30*time.Second, d.CancelHardDeadline())
}

func TestDefaultQueueConfig(t *testing.T) {
	q := DefaultQueueConfig()

	assert.Equal(t, 5, q.WorkerCount)
	assert.Equal(t, 32, q.MaxConcurrentPlans)
	assert.Equal(t, time.Second, q.PollInterval)
	assert.Greater(t, q.OrphanThreshold, q.HeartbeatInterval)
}

func TestDefaultGatewayConfig(t *testing.T) {
	g := DefaultGatewayConfig()

	assert.Equal(t, ":8080", g.ListenAddr)
	assert.True(t, g.AuthOn(), "auth defaults to enabled")
	assert.Equal(t, "PLANOR_JWT_SECRET", g.JWTSecretEnv)
	assert.Equal(t, 256, g.EventSubscriberLagThreshold)
	assert.Equal(t, 20*time.Second, g.HeartbeatInterval)

	g.AuthEnabled = BoolPtr(false)
	assert.False(t, g.AuthOn())
}

func TestTransportTypeIsValid(t *testing.T) {
	assert.True(t, TransportTypeStdio.IsValid())
	assert.True(t, TransportTypeHTTP.IsValid())
	assert.False(t, TransportType("sse").IsValid())
	assert.False(t, TransportType("").IsValid())
}

func TestLLMProviderTypeIsValid(t *testing.T) {
	for _, typ := range []LLMProviderType{
		LLMProviderTypeGoogle, LLMProviderTypeOpenAI, LLMProviderTypeAnthropic,
		LLMProviderTypeXAI, LLMProviderTypeVertexAI,
	} {
		assert.True(t, typ.IsValid(), "type %s", typ)
	}
	assert.False(t, LLMProviderType("cohere").IsValid())
}
