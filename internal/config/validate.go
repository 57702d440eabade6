package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

func (c *Config) validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	if err := c.validateCORS(); err != nil {
		return err
	}

	if err := c.validateLedger(); err != nil {
		return err
	}

	if err := c.validatePolicy(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	if !isLocalHost(dbURL.Hostname()) && dbURL.Query().Get("sslmode") == "disable" {
		return fmt.Errorf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", dbURL.Hostname())
	}

	if c.DBMaxConns < 2 || c.DBMaxConns > 200 {
		return fmt.Errorf("DB_MAX_CONNS must be between 2 and 200")
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	// 0.0.0.0/:: are for containers where the boundary is enforced outside.
	validHosts := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   true,
		"::":        true,
	}
	if !validHosts[c.ListenHost] {
		return fmt.Errorf("LISTEN_HOST must be a loopback address or 0.0.0.0/:: for containers (got %q)", c.ListenHost)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'text' or 'json', got %q", c.LogFormat)
	}

	return nil
}

func (c *Config) validateCORS() error {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}
		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

func (c *Config) validateLedger() error {
	if !c.Ledger.Enabled {
		return nil
	}

	if c.Ledger.URL == "" {
		return fmt.Errorf("LEDGER_URL is required when LEDGER_ENABLED is true")
	}

	u, err := url.ParseRequestURI(c.Ledger.URL)
	if err != nil {
		return fmt.Errorf("LEDGER_URL is not a valid URL: %w", err)
	}

	if !isLocalHost(u.Hostname()) && u.Scheme != "https" {
		return fmt.Errorf("LEDGER_URL must use HTTPS for non-localhost connections")
	}

	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive")
	}

	return nil
}

func (c *Config) validatePolicy() error {
	if c.Anchor.Workers < 1 || c.Anchor.Workers > 16 {
		return fmt.Errorf("ANCHOR_WORKERS must be an integer between 1 and 16")
	}
	if c.Anchor.QueueSize < c.Anchor.Workers {
		return fmt.Errorf("ANCHOR_QUEUE_SIZE must be at least ANCHOR_WORKERS")
	}
	if c.Anchor.MaxRetries < 0 {
		return fmt.Errorf("ANCHOR_MAX_RETRIES must not be negative")
	}
	if c.Anchor.BaseDelay <= 0 || c.Anchor.MaxDelay < c.Anchor.BaseDelay {
		return fmt.Errorf("ANCHOR_BASE_DELAY must be positive and not exceed ANCHOR_MAX_DELAY")
	}

	if c.Lockout.Threshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if c.Lockout.Duration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}

	if c.Challenge.TTL <= 0 {
		return fmt.Errorf("CHALLENGE_TTL must be positive")
	}
	if c.Challenge.MaxAttempts < 1 {
		return fmt.Errorf("CHALLENGE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Challenge.CodeLength < 4 || c.Challenge.CodeLength > 12 {
		return fmt.Errorf("CHALLENGE_CODE_LENGTH must be between 4 and 12")
	}
	if len(c.Challenge.Pepper.Value()) < 16 {
		return fmt.Errorf("CODE_PEPPER must be at least 16 characters")
	}

	if c.Approval.RequiredApprovals < 1 {
		return fmt.Errorf("APPROVAL_REQUIRED must be at least 1")
	}
	if c.Approval.RejectThreshold < 1 {
		return fmt.Errorf("APPROVAL_REJECT_THRESHOLD must be at least 1")
	}
	if c.Approval.TTL <= 0 {
		return fmt.Errorf("APPROVAL_TTL must be positive")
	}

	return nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
