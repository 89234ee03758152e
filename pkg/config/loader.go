package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/planor-ai/planor/pkg/models"
)

// PlanorYAMLConfig represents the complete planor.yaml file structure
type PlanorYAMLConfig struct {
	System     *SystemYAMLConfig            `yaml:"system"`
	MCPServers map[string]MCPServerConfig   `yaml:"mcp_servers"`
	Teams      map[string]models.TeamConfig `yaml:"teams"`
	Defaults   *Defaults                    `yaml:"defaults"`
	Queue      *QueueConfig                 `yaml:"queue"`
	MCP        *MCPRuntimeConfig            `yaml:"mcp"`
	Gateway    *GatewayConfig               `yaml:"gateway"`
	LLMService *LLMServiceConfig            `yaml:"llm_service"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	Slack     *SlackYAMLConfig    `yaml:"slack"`
	Retention *RetentionConfig    `yaml:"retention"`
	Datasets  *DatasetsYAMLConfig `yaml:"datasets"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// DatasetsYAMLConfig holds dataset storage settings from YAML.
type DatasetsYAMLConfig struct {
	RootDir string `yaml:"root_dir,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Build in-memory registries
//  6. Apply default values
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"teams", stats.Teams,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load planor.yaml (contains teams, mcp_servers, defaults, queue, gateway)
	planorConfig, err := loader.loadPlanorYAML()
	if err != nil {
		return nil, NewLoadError("planor.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	teams := mergeTeams(builtin.Teams, planorConfig.Teams)
	mcpServers := mergeMCPServers(builtin.MCPServers, planorConfig.MCPServers)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Build registries
	teamRegistry := NewTeamRegistry(teams)
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	// 6. Resolve defaults and sections (user YAML merged over built-in defaults,
	// non-zero values override)
	defaults := DefaultDefaults()
	if planorConfig.Defaults != nil {
		if err := mergo.Merge(defaults, planorConfig.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
	}

	queueConfig := DefaultQueueConfig()
	if planorConfig.Queue != nil {
		if err := mergo.Merge(queueConfig, planorConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	gatewayConfig := DefaultGatewayConfig()
	if planorConfig.Gateway != nil {
		if err := mergo.Merge(gatewayConfig, planorConfig.Gateway, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge gateway config: %w", err)
		}
	}

	mcpRuntime := DefaultMCPRuntimeConfig()
	if planorConfig.MCP != nil {
		if err := mergo.Merge(mcpRuntime, planorConfig.MCP, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge mcp config: %w", err)
		}
	}

	llmService := DefaultLLMServiceConfig()
	if planorConfig.LLMService != nil {
		if err := mergo.Merge(llmService, planorConfig.LLMService, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm_service config: %w", err)
		}
	}

	// 7. Resolve system config (Slack + Retention + Datasets)
	slackCfg := resolveSlackConfig(planorConfig.System)
	retentionCfg := resolveRetentionConfig(planorConfig.System)
	datasetsCfg := resolveDatasetsConfig(planorConfig.System)

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Queue:               queueConfig,
		Gateway:             gatewayConfig,
		MCP:                 mcpRuntime,
		LLMService:          llmService,
		Retention:           retentionCfg,
		Slack:               slackCfg,
		Datasets:            datasetsCfg,
		TeamRegistry:        teamRegistry,
		MCPServerRegistry:   mcpServerRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadPlanorYAML() (*PlanorYAMLConfig, error) {
	var config PlanorYAMLConfig

	// Initialize maps to avoid nil maps
	config.MCPServers = make(map[string]MCPServerConfig)
	config.Teams = make(map[string]models.TeamConfig)

	if err := l.loadYAML("planor.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveSlackConfig resolves Slack configuration from system YAML, applying defaults.
func resolveSlackConfig(sys *SystemYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if sys == nil || sys.Slack == nil {
		return cfg
	}

	s := sys.Slack
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}

	return cfg
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.SessionRetentionDays > 0 {
		cfg.SessionRetentionDays = r.SessionRetentionDays
	}
	if r.EventTTL > 0 {
		cfg.EventTTL = r.EventTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}

// resolveDatasetsConfig resolves dataset storage configuration from system YAML, applying defaults.
func resolveDatasetsConfig(sys *SystemYAMLConfig) *DatasetsConfig {
	cfg := &DatasetsConfig{
		RootDir: "data/datasets",
	}

	if sys != nil && sys.Datasets != nil && sys.Datasets.RootDir != "" {
		cfg.RootDir = sys.Datasets.RootDir
	}

	return cfg
}
