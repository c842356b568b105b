// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/linklocal/pairgate/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	GatewayURL string
	BlobURL    string
	StorageDir string

	CodeDeadline  time.Duration
	QRDeadline    time.Duration
	RetryMax      int
	RetryBackoff  time.Duration
	ExhaustPolicy string // "error" or "qr-fallback"

	RelayEnabled  bool
	SingleSession bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		GatewayURL:    getEnv("GATEWAY_URL", "ws://localhost:9443/bridge"),
		BlobURL:       getEnv("BLOB_URL", ""),
		StorageDir:    getEnv("STORAGE_DIR", "./data/sessions"),
		CodeDeadline:  getEnvDuration("CODE_DEADLINE", 2*time.Minute),
		QRDeadline:    getEnvDuration("QR_DEADLINE", 45*time.Second),
		RetryMax:      getEnvInt("RETRY_MAX", 3),
		RetryBackoff:  getEnvDuration("RETRY_BACKOFF", 10*time.Second),
		ExhaustPolicy: getEnv("EXHAUST_POLICY", "error"),
		RelayEnabled:  getEnvBool("RELAY_ENABLED", false),
		SingleSession: getEnvBool("SINGLE_SESSION", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL cannot be empty")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("STORAGE_DIR cannot be empty")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("RETRY_MAX must be >= 0")
	}
	if c.CodeDeadline <= 0 || c.QRDeadline <= 0 {
		return fmt.Errorf("pairing deadlines must be > 0")
	}
	switch c.ExhaustPolicy {
	case "error", "qr-fallback":
	default:
		return fmt.Errorf("EXHAUST_POLICY must be \"error\" or \"qr-fallback\"")
	}
	if c.RelayEnabled && c.BlobURL == "" {
		return fmt.Errorf("BLOB_URL cannot be empty when RELAY_ENABLED is set")
	}
	return nil
}

// CodeFlow returns the flow configuration for phone-code pairing.
func (c *Config) CodeFlow() domain.Flow {
	return domain.Flow{
		Kind:          domain.KindCode,
		Deadline:      c.CodeDeadline,
		MaxAttempts:   c.RetryMax,
		Backoff:       c.RetryBackoff,
		ExhaustPolicy: c.exhaustPolicy(),
	}
}

// QRFlow returns the flow configuration for scan-token pairing.
func (c *Config) QRFlow() domain.Flow {
	return domain.Flow{
		Kind:          domain.KindQR,
		Deadline:      c.QRDeadline,
		MaxAttempts:   c.RetryMax,
		Backoff:       c.RetryBackoff,
		ExhaustPolicy: domain.ExhaustError,
	}
}

func (c *Config) exhaustPolicy() domain.ExhaustPolicy {
	if c.ExhaustPolicy == "qr-fallback" {
		return domain.ExhaustQRFallback
	}
	return domain.ExhaustError
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
