package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Auth modes accepted by AUTH_MODE.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	AuthMode        string        `envconfig:"AUTH_MODE" default:"none"`
	APIKey          string        `envconfig:"API_KEY"`
	JWTSecret       string        `envconfig:"SUPABASE_JWT_SECRET"`
	RateLimitRPS    int           `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"100"`
	CORSOrigins     string        `envconfig:"CORS_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	// Persistence
	DatabasePath      string        `envconfig:"DATABASE_PATH" default:"project-builder.db"`
	ActivityRetention time.Duration `envconfig:"ACTIVITY_RETENTION" default:"2160h"`
	RetentionInterval time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`

	// n8n automation webhooks
	N8NBaseURL string        `envconfig:"N8N_BASE_URL" default:"https://n8n.gex44.tnfserver.de"`
	N8NTimeout time.Duration `envconfig:"N8N_TIMEOUT" default:"30s"`
	N8NRetries int           `envconfig:"N8N_RETRIES" default:"3"`

	// Slack (optional, brief-sync summaries are skipped without a token)
	SlackBotToken       string        `envconfig:"SLACK_BOT_TOKEN"`
	SlackNotifyInterval time.Duration `envconfig:"SLACK_NOTIFY_INTERVAL" default:"30s"`

	// Integrations panel
	IntegrationsUserRole     string `envconfig:"INTEGRATIONS_USER_ROLE" default:"admin"`
	IntegrationsHealthWindow int    `envconfig:"INTEGRATIONS_HEALTH_WINDOW" default:"20"`

	// Canvas
	ReconcileCacheSize int `envconfig:"RECONCILE_CACHE_SIZE" default:"256"`
	SessionCacheSize   int `envconfig:"SESSION_CACHE_SIZE" default:"1024"`
	RealtimeBuffer     int `envconfig:"REALTIME_BUFFER" default:"32"`
}

// SlackEnabled returns true if a Slack bot token is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != ""
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// CORSOriginList returns the parsed list of allowed origins, or nil when unset.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthNone:
	case AuthAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires SUPABASE_JWT_SECRET")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.ReconcileCacheSize < 1 {
		return fmt.Errorf("RECONCILE_CACHE_SIZE must be positive, got %d", c.ReconcileCacheSize)
	}
	if c.SessionCacheSize < 1 {
		return fmt.Errorf("SESSION_CACHE_SIZE must be positive, got %d", c.SessionCacheSize)
	}
	if c.ActivityRetention < 0 {
		return fmt.Errorf("ACTIVITY_RETENTION must not be negative, got %s", c.ActivityRetention)
	}
	if c.IntegrationsHealthWindow < 1 {
		return fmt.Errorf("INTEGRATIONS_HEALTH_WINDOW must be positive, got %d", c.IntegrationsHealthWindow)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %q: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
