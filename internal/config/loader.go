package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Gateway selection values for GatewayMode.
const (
	GatewayModeFake  = "fake"
	GatewayModeOmise = "omise"
)

// Config captures environment driven configuration for the marketplace
// service. Every variable carries the MARKETPLACE_ prefix.
type Config struct {
	HTTPPort  int    `envconfig:"HTTP_PORT" default:"8080"`
	SQLiteDSN string `envconfig:"SQLITE_DSN" default:"marketplace.db"`

	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	ServiceTokenSecret string        `envconfig:"SERVICE_TOKEN_SECRET"`
	ServiceTokenIssuer string        `envconfig:"SERVICE_TOKEN_ISSUER" default:"coaching-marketplace"`

	// GatewayMode selects the payment processor adapter. The fake
	// gateway approves everything and is only suitable for local runs.
	GatewayMode    string        `envconfig:"GATEWAY_MODE" default:"fake"`
	OmisePublicKey string        `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey string        `envconfig:"OMISE_SECRET_KEY"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	// AMQPURL is optional; when empty, notification intents are logged
	// instead of published.
	AMQPURL        string `envconfig:"AMQP_URL"`
	NotifyExchange string `envconfig:"NOTIFY_EXCHANGE" default:"marketplace.notifications"`

	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	SweepLimit    int           `envconfig:"SWEEP_LIMIT" default:"100"`

	// OTLPEndpoint is optional; when empty, no traces are exported.
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"100"`
}

// Load parses configuration from the current process environment and
// validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("marketplace", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once so a misconfigured deployment
// fails with a single actionable message.
func (c Config) Validate() error {
	var problems []string

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		problems = append(problems, "MARKETPLACE_HTTP_PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(c.SQLiteDSN) == "" {
		problems = append(problems, "MARKETPLACE_SQLITE_DSN must not be empty")
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "MARKETPLACE_SESSION_TTL must be positive")
	}
	if strings.TrimSpace(c.ServiceTokenSecret) == "" {
		problems = append(problems, "MARKETPLACE_SERVICE_TOKEN_SECRET is required")
	}

	switch c.GatewayMode {
	case GatewayModeFake:
	case GatewayModeOmise:
		if strings.TrimSpace(c.OmisePublicKey) == "" || strings.TrimSpace(c.OmiseSecretKey) == "" {
			problems = append(problems, "MARKETPLACE_OMISE_PUBLIC_KEY and MARKETPLACE_OMISE_SECRET_KEY are required when the gateway mode is omise")
		}
	default:
		problems = append(problems, fmt.Sprintf("MARKETPLACE_GATEWAY_MODE must be %q or %q", GatewayModeFake, GatewayModeOmise))
	}

	if c.SweepInterval <= 0 {
		problems = append(problems, "MARKETPLACE_SWEEP_INTERVAL must be positive")
	}
	if c.SweepLimit <= 0 {
		problems = append(problems, "MARKETPLACE_SWEEP_LIMIT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		problems = append(problems, "MARKETPLACE_RATE_LIMIT_RPS and MARKETPLACE_RATE_LIMIT_BURST must be positive")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "MARKETPLACE_LOG_LEVEL must be one of debug, info, warn, error")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel maps the configured level onto slog's scale. Unknown values
// fall back to info; Validate rejects them before this is consulted.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
