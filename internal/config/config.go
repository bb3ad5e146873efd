// Package config provides environment configuration for the campus assistant
// client and its development backend.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application.
type Config struct {
	// Assistant stream
	AssistantWSURL string `env:"ASSISTANT_WS_URL" envDefault:"ws://localhost:8080/ws"`

	// Session service
	APIBaseURL string        `env:"API_BASE_URL" envDefault:"http://localhost:8080/api/v1"`
	APIToken   string        `env:"API_TOKEN"`
	APITimeout time.Duration `env:"API_TIMEOUT" envDefault:"15s"`

	// Reveal pacing
	RevealTokenDelay   time.Duration `env:"REVEAL_TOKEN_DELAY" envDefault:"30ms"`
	RevealSettleMargin time.Duration `env:"REVEAL_SETTLE_MARGIN" envDefault:"500ms"`

	// Scroll follow
	ScrollBottomThreshold float64 `env:"SCROLL_BOTTOM_THRESHOLD" envDefault:"2"`

	// Local device state
	StateDBPath string `env:"STATE_DB_PATH" envDefault:"campus-assistant.db"`

	// Outbox
	NATSURL           string        `env:"NATS_URL"`
	NATSCAFile        string        `env:"NATS_CA_FILE"`
	NATSCertFile      string        `env:"NATS_CERT_FILE"`
	NATSKeyFile       string        `env:"NATS_KEY_FILE"`
	NATSToken         string        `env:"NATS_TOKEN"`
	NATSDrainTimeout  time.Duration `env:"NATS_DRAIN_TIMEOUT" envDefault:"10s"`
	OutboxMaxAttempts int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`

	// Dev backend server
	ServerPort         string        `env:"PORT" envDefault:"8080"`
	ServerReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	ChunkDelay         time.Duration `env:"DEV_CHUNK_DELAY" envDefault:"80ms"`

	// JWT settings
	JWTSecret     string        `env:"JWT_SECRET" envDefault:"development-secret-change-in-production"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"24h"`

	// LLM settings
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	DefaultModel    string `env:"DEFAULT_MODEL"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Metrics
	MetricsAddr string `env:"METRICS_ADDR"`

	// Tracing
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.RevealTokenDelay <= 0 {
		return fmt.Errorf("REVEAL_TOKEN_DELAY must be positive, got %s", c.RevealTokenDelay)
	}
	if c.RevealSettleMargin < 0 {
		return fmt.Errorf("REVEAL_SETTLE_MARGIN must not be negative, got %s", c.RevealSettleMargin)
	}
	if c.ScrollBottomThreshold < 0 {
		return fmt.Errorf("SCROLL_BOTTOM_THRESHOLD must not be negative, got %v", c.ScrollBottomThreshold)
	}
	if c.OutboxMaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1, got %d", c.OutboxMaxAttempts)
	}
	return nil
}
