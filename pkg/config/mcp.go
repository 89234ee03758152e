package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MCPServerConfig defines MCP server configuration
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport"`

	// Instructions for LLM when using this MCP server
	Instructions string `yaml:"instructions,omitempty"`

	// Data masking configuration (critical for security)
	DataMasking *MaskingConfig `yaml:"data_masking,omitempty"`
}

// MCPRuntimeConfig contains transport-wide MCP client settings.
type MCPRuntimeConfig struct {
	// MaxInflight caps concurrent tool invocations across all servers.
	MaxInflight int `yaml:"max_inflight"`

	// AuthEnabled toggles bearer auth on outgoing MCP requests. Tokens come
	// from each server's transport config.
	AuthEnabled bool `yaml:"auth_enabled"`

	// MaxAttempts is the total tries for a transient transport failure
	// (first attempt plus retries).
	MaxAttempts int `yaml:"max_attempts"`

	// DiscoveryTTL is how long a cached tool catalogue stays fresh.
	DiscoveryTTL time.Duration `yaml:"discovery_ttl"`
}

// DefaultMCPRuntimeConfig returns the built-in MCP client defaults.
func DefaultMCPRuntimeConfig() *MCPRuntimeConfig {
	return &MCPRuntimeConfig{
		MaxInflight:  16,
		AuthEnabled:  false,
		MaxAttempts:  3,
		DiscoveryTTL: 5 * time.Minute,
	}
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*MCPServerConfig, len(servers))
	for k, v := range servers {
		copied[k] = v
	}
	return &MCPServerRegistry{
		servers: copied,
	}
}

// Get retrieves an MCP server configuration by ID (thread-safe)
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// Len returns the number of MCP servers in the registry (thread-safe)
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// ServerIDs returns a sorted list of all configured MCP server IDs.
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
