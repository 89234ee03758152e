package config

import "time"

// GatewayConfig contains the HTTP/WebSocket gateway configuration.
type GatewayConfig struct {
	// ListenAddr is the address the gateway binds to.
	ListenAddr string `yaml:"listen_addr"`

	// AuthEnabled toggles bearer token authentication. When disabled every
	// request runs as the anonymous development user.
	AuthEnabled *bool `yaml:"auth_enabled,omitempty"`

	// JWTSecretEnv is the env var name holding the HMAC signing secret.
	JWTSecretEnv string `yaml:"jwt_secret_env,omitempty"`

	// TokenExpiry is how long issued tokens stay valid.
	TokenExpiry time.Duration `yaml:"token_expiry,omitempty"`

	// AllowedWSOrigins lists additional WebSocket origin patterns beyond the
	// gateway's own host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`

	// EventSubscriberLagThreshold is the per-subscriber outbound buffer size.
	// A subscriber lagging past it loses stream deltas, never domain events.
	EventSubscriberLagThreshold int `yaml:"event_subscriber_lag_threshold"`

	// HeartbeatInterval is how often idle WebSocket subscribers receive a
	// heartbeat event.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// CatchupLimit caps how many persisted events are replayed to a
	// subscriber that reconnects with a last-seen event id.
	CatchupLimit int `yaml:"catchup_limit"`

	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxUploadBytes caps dataset upload size.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// DashboardURL is the frontend base URL used in notification links.
	DashboardURL string `yaml:"dashboard_url,omitempty"`
}

// AuthOn reports whether bearer authentication is enabled (default true).
func (g *GatewayConfig) AuthOn() bool {
	return g.AuthEnabled == nil || *g.AuthEnabled
}

// DefaultGatewayConfig returns the built-in gateway defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		ListenAddr:                  ":8080",
		JWTSecretEnv:                "PLANOR_JWT_SECRET",
		TokenExpiry:                 24 * time.Hour,
		EventSubscriberLagThreshold: 256,
		HeartbeatInterval:           20 * time.Second,
		CatchupLimit:                200,
		WriteTimeout:                5 * time.Second,
		MaxUploadBytes:              10 << 20,
		DashboardURL:                "http://localhost:5173",
	}
}
