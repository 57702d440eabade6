// Package config provides environment-driven configuration for permitguard.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// LedgerConfig configures the external anchoring ledger.
type LedgerConfig struct {
	Enabled bool          `env:"LEDGER_ENABLED" envDefault:"false"`
	URL     string        `env:"LEDGER_URL"`
	APIKey  Secret        `env:"LEDGER_API_KEY"`
	Timeout time.Duration `env:"LEDGER_TIMEOUT" envDefault:"15s"`
}

// AnchorConfig configures the anchor queue workers.
type AnchorConfig struct {
	Workers    int           `env:"ANCHOR_WORKERS" envDefault:"2"`
	QueueSize  int           `env:"ANCHOR_QUEUE_SIZE" envDefault:"1000"`
	MaxRetries int           `env:"ANCHOR_MAX_RETRIES" envDefault:"3"`
	BaseDelay  time.Duration `env:"ANCHOR_BASE_DELAY" envDefault:"5s"`
	MaxDelay   time.Duration `env:"ANCHOR_MAX_DELAY" envDefault:"2m"`
}

// LockoutConfig configures failed-attempt lockout.
type LockoutConfig struct {
	Threshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	Duration  time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
}

// ChallengeConfig configures one-time verification codes.
type ChallengeConfig struct {
	TTL         time.Duration `env:"CHALLENGE_TTL" envDefault:"10m"`
	MaxAttempts int           `env:"CHALLENGE_MAX_ATTEMPTS" envDefault:"5"`
	CodeLength  int           `env:"CHALLENGE_CODE_LENGTH" envDefault:"6"`
	Pepper      Secret        `env:"CODE_PEPPER"`
	// ExposeCodes returns issued codes in API responses. Development only.
	ExposeCodes bool `env:"CHALLENGE_EXPOSE_CODES" envDefault:"false"`
}

// ApprovalConfig configures the multi-admin approval policy.
type ApprovalConfig struct {
	RequiredApprovals int           `env:"APPROVAL_REQUIRED" envDefault:"2"`
	RejectThreshold   int           `env:"APPROVAL_REJECT_THRESHOLD" envDefault:"2"`
	TTL               time.Duration `env:"APPROVAL_TTL" envDefault:"168h"`
}

// AuditConfig configures audit recording policy.
type AuditConfig struct {
	FailOpenEvents []string `env:"AUDIT_FAIL_OPEN_EVENTS" envSeparator:"," envDefault:"profile_update,avatar_update,verification_requested"`
	MaskEmail      bool     `env:"MASK_EMAIL" envDefault:"false"`
}

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret   `env:"DATABASE_URL"`
	DBMaxConns  int32    `env:"DB_MAX_CONNS" envDefault:"21"`
	Port        string   `env:"PORT" envDefault:"3040"`
	ListenHost  string   `env:"LISTEN_HOST" envDefault:"127.0.0.1"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3002"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string   `env:"LOG_FORMAT" envDefault:"text"`

	Ledger    LedgerConfig
	Anchor    AnchorConfig
	Lockout   LockoutConfig
	Challenge ChallengeConfig
	Approval  ApprovalConfig
	Audit     AuditConfig
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	for i, e := range cfg.Audit.FailOpenEvents {
		cfg.Audit.FailOpenEvents[i] = strings.TrimSpace(e)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}
