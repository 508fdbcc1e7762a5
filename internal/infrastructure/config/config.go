// Package config loads the gateway's process configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Sessions  SessionsConfig
	State     StateConfig
	Auth      AuthConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// EngineConfig holds remote engine defaults.
type EngineConfig struct {
	HandshakeTimeout time.Duration `envconfig:"ENGINE_HANDSHAKE_TIMEOUT" default:"10s"`
}

// SessionsConfig tunes the session manager.
type SessionsConfig struct {
	Max         int           `envconfig:"SESSIONS_MAX" default:"128"`
	IdleTimeout time.Duration `envconfig:"SESSIONS_IDLE_TIMEOUT" default:"30m"`
	GCInterval  time.Duration `envconfig:"SESSIONS_GC_INTERVAL" default:"1m"`
}

// StateConfig selects the snapshot store backend.
type StateConfig struct {
	Backend       string `envconfig:"STATE_BACKEND" default:"memory"`
	Dir           string `envconfig:"STATE_DIR" default:"/var/lib/enginegate/state"`
	RedisAddr     string `envconfig:"STATE_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"STATE_REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"STATE_REDIS_DB" default:"0"`
}

// AuthConfig configures the credential source for engine connections.
type AuthConfig struct {
	ServiceURL  string `envconfig:"AUTH_SERVICE_URL" default:""`
	APIKey      string `envconfig:"AUTH_API_KEY" default:""`
	BearerToken string `envconfig:"AUTH_BEARER_TOKEN" default:""`
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

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns
// defaults.
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
			Port: "8700",
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			HandshakeTimeout: 10 * time.Second,
		},
		Sessions: SessionsConfig{
			Max:         128,
			IdleTimeout: 30 * time.Minute,
			GCInterval:  time.Minute,
		},
		State: StateConfig{
			Backend: "memory",
			Dir:     "/var/lib/enginegate/state",
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
	}
}
