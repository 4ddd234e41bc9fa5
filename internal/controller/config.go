package controller

import (
	"fmt"
	"os"
	"strings"
	"time"

	"machinery/internal/network"

	"gopkg.in/yaml.v3"
)

// Config represents the complete controller configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	TLS       network.TLSFiles `yaml:"tls"`
	Relay     RelayConfig      `yaml:"relay"`
	Database  DatabaseConfig   `yaml:"database"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	API       APIConfig        `yaml:"api"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	Relay     ListenerConfig `yaml:"relay"`
	Telemetry ListenerConfig `yaml:"telemetry"`
	API       ListenerConfig `yaml:"api"`
	// Backlog caps the number of connections allowed to sit in the TLS
	// handshake at once.
	Backlog int `yaml:"backlog"`
}

type ListenerConfig struct {
	Address string `yaml:"address"`
}

// RelayConfig contains command relay settings
type RelayConfig struct {
	CommandTimeout   string `yaml:"command_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	QueueDepth       int    `yaml:"queue_depth"`
}

// DatabaseConfig contains sensor store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig contains reading cache settings
type TelemetryConfig struct {
	CacheSize  int    `yaml:"cache_size"`
	StaleAfter string `yaml:"stale_after"`
}

// APIConfig contains HTTP front-end settings
type APIConfig struct {
	Timeout   string          `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// AuthConfig contains bearer token settings
type AuthConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SecretKey   string `yaml:"secret_key"`
	Issuer      string `yaml:"issuer"`
	ExpiryHours int    `yaml:"expiry_hours"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates an example configuration. The command timeout
// has no built-in default; the value written here is a placeholder the
// operator is expected to review.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Relay:     ListenerConfig{Address: ":8443"},
			Telemetry: ListenerConfig{Address: ":8444"},
			API:       ListenerConfig{Address: ":8080"},
			Backlog:   50,
		},
		TLS: network.TLSFiles{
			CAFile:   "certs/ca.crt",
			CertFile: "certs/controller.crt",
			KeyFile:  "certs/controller.key",
		},
		Relay: RelayConfig{
			CommandTimeout:   "10s",
			HandshakeTimeout: "10s",
			QueueDepth:       16,
		},
		Database: DatabaseConfig{
			Path: "machinery.db",
		},
		Telemetry: TelemetryConfig{
			CacheSize:  1024,
			StaleAfter: "5m",
		},
		API: APIConfig{
			Timeout: "30s",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             10,
			},
			Auth: AuthConfig{
				Enabled:     false,
				SecretKey:   "change-this-secret-key-before-enabling-auth",
				Issuer:      "machinery-controller",
				ExpiryHours: 24,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// setDefaults fills in everything except the command timeout
func (c *Config) setDefaults() {
	if c.Server.Relay.Address == "" {
		c.Server.Relay.Address = ":8443"
	}
	if c.Server.Telemetry.Address == "" {
		c.Server.Telemetry.Address = ":8444"
	}
	if c.Server.API.Address == "" {
		c.Server.API.Address = ":8080"
	}
	if c.Server.Backlog == 0 {
		c.Server.Backlog = 50
	}

	if c.Relay.HandshakeTimeout == "" {
		c.Relay.HandshakeTimeout = "10s"
	}
	if c.Relay.QueueDepth == 0 {
		c.Relay.QueueDepth = 16
	}

	if c.Database.Path == "" {
		c.Database.Path = "machinery.db"
	}

	if c.Telemetry.CacheSize == 0 {
		c.Telemetry.CacheSize = 1024
	}
	if c.Telemetry.StaleAfter == "" {
		c.Telemetry.StaleAfter = "5m"
	}

	if c.API.Timeout == "" {
		c.API.Timeout = "30s"
	}
	if c.API.RateLimit.RequestsPerMinute == 0 {
		c.API.RateLimit.RequestsPerMinute = 120
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 10
	}
	if c.API.Auth.Issuer == "" {
		c.API.Auth.Issuer = "machinery-controller"
	}
	if c.API.Auth.ExpiryHours == 0 {
		c.API.Auth.ExpiryHours = 24
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.Relay.CommandTimeout == "" {
		return fmt.Errorf("relay command_timeout is required")
	}
	timeout, err := time.ParseDuration(c.Relay.CommandTimeout)
	if err != nil {
		return fmt.Errorf("invalid relay command_timeout format: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("relay command_timeout must be positive")
	}

	durations := map[string]string{
		"relay handshake_timeout": c.Relay.HandshakeTimeout,
		"telemetry stale_after":   c.Telemetry.StaleAfter,
		"api timeout":             c.API.Timeout,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.TLS.CAFile == "" || c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
		return fmt.Errorf("tls ca_file, cert_file and key_file are required")
	}
	if c.Server.Relay.Address == c.Server.Telemetry.Address && !strings.HasSuffix(c.Server.Relay.Address, ":0") {
		return fmt.Errorf("relay and telemetry listeners must use different addresses")
	}
	if c.Server.Backlog < 0 {
		return fmt.Errorf("server backlog must not be negative")
	}
	if c.Relay.QueueDepth < 1 {
		return fmt.Errorf("relay queue_depth must be at least 1")
	}
	if c.Telemetry.CacheSize < 1 {
		return fmt.Errorf("telemetry cache_size must be at least 1")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging format must be 'json' or 'text'")
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be greater than 0 when rate limiting is enabled")
	}
	if c.API.Auth.Enabled {
		if len(c.API.Auth.SecretKey) < 32 {
			return fmt.Errorf("auth secret_key must be at least 32 characters long")
		}
		if c.API.Auth.ExpiryHours <= 0 {
			return fmt.Errorf("auth expiry_hours must be greater than 0")
		}
	}

	return nil
}

// CommandTimeout returns the per-command response bound
func (c *Config) CommandTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Relay.CommandTimeout)
	return d
}

func (c *Config) HandshakeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Relay.HandshakeTimeout)
	return d
}

func (c *Config) StaleAfter() time.Duration {
	d, _ := time.ParseDuration(c.Telemetry.StaleAfter)
	return d
}

func (c *Config) APITimeout() time.Duration {
	d, _ := time.ParseDuration(c.API.Timeout)
	return d
}
