package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Discovery DiscoveryConfig
	Poll      PollConfig
	Logging   LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8777"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// DiscoveryConfig holds remote-debugging discovery configuration.
type DiscoveryConfig struct {
	Host           string        `envconfig:"DISCOVERY_HOST" default:"127.0.0.1"`
	PortStart      int           `envconfig:"DISCOVERY_PORT_START" default:"9222"`
	PortEnd        int           `envconfig:"DISCOVERY_PORT_END" default:"9232"`
	Interval       time.Duration `envconfig:"DISCOVERY_INTERVAL" default:"15s"`
	HeuristicsFile string        `envconfig:"HEURISTICS_FILE" default:""`
}

// PollConfig holds snapshot polling configuration.
type PollConfig struct {
	Interval      time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	CallTimeout   time.Duration `envconfig:"CALL_TIMEOUT" default:"10s"`
	IdleThreshold int           `envconfig:"IDLE_THRESHOLD" default:"8"`
	IdleCooldown  time.Duration `envconfig:"IDLE_COOLDOWN" default:"30s"`
	DedupWindow   time.Duration `envconfig:"DEDUP_WINDOW" default:"500ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
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
			Port: "8777",
			Host: "127.0.0.1",
		},
		Discovery: DiscoveryConfig{
			Host:      "127.0.0.1",
			PortStart: 9222,
			PortEnd:   9232,
			Interval:  15 * time.Second,
		},
		Poll: PollConfig{
			Interval:      2 * time.Second,
			CallTimeout:   10 * time.Second,
			IdleThreshold: 8,
			IdleCooldown:  30 * time.Second,
			DedupWindow:   500 * time.Millisecond,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}
