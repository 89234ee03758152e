package config

// SlackConfig holds resolved Slack notification configuration.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string // Env var name for Slack bot token (default: "SLACK_BOT_TOKEN")
	Channel  string // Slack channel ID (e.g., "C12345678")
}

// DatasetsConfig holds resolved dataset storage configuration.
type DatasetsConfig struct {
	// RootDir is the filesystem root for uploaded dataset blobs.
	RootDir string
}
