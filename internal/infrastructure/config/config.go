package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/kelseyhightower/envconfig"
)

// Config holds process-level configuration read from the environment.
// Plugin settings live in the app-config files named by App.Paths.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	App       AppConfigSource
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"7007"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// AppConfigSource names the app-config files to load.
type AppConfigSource struct {
	Paths    []string `envconfig:"APP_CONFIG" default:"app-config.yaml"`
	Optional bool     `envconfig:"APP_CONFIG_OPTIONAL" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "7007",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		App: AppConfigSource{
			Paths:    []string{"app-config.yaml"},
			Optional: true,
		},
	}
}

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks values envconfig cannot: port range, log level and
// timeouts.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("%w: PORT %q is not a port number", ErrInvalid, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: SHUTDOWN_TIMEOUT must be positive", ErrInvalid)
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalid, c.Logging.Level)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("%w: rate limit needs positive RATE_LIMIT_RPS and RATE_LIMIT_BURST", ErrInvalid)
	}
	if len(c.App.Paths) == 0 && !c.App.Optional {
		return fmt.Errorf("%w: APP_CONFIG is empty", ErrInvalid)
	}
	return nil
}
