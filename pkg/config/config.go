// Package config loads daemon configuration from an optional YAML file with
// environment variable overrides on top.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// GatewayConfig configures the HTTP API server.
type GatewayConfig struct {
	Host   string `yaml:"host" env:"PLANK_GATEWAY_HOST" envDefault:"127.0.0.1"`
	Port   int    `yaml:"port" env:"PLANK_GATEWAY_PORT" envDefault:"8170"`
	APIKey string `yaml:"api_key" env:"PLANK_API_KEY"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"PLANK_DB_PATH" envDefault:"plank.db"`
}

// OutboxConfig configures transactional event publishing.
type OutboxConfig struct {
	Enabled   bool   `yaml:"enabled" env:"PLANK_OUTBOX_ENABLED" envDefault:"true"`
	Schedule  string `yaml:"schedule" env:"PLANK_OUTBOX_SCHEDULE" envDefault:"* * * * *"`
	BatchSize int    `yaml:"batch_size" env:"PLANK_OUTBOX_BATCH" envDefault:"100"`
}

// WebhookConfig configures outbound delivery behavior.
type WebhookConfig struct {
	RetrySchedule  string `yaml:"retry_schedule" env:"PLANK_RETRY_SCHEDULE" envDefault:"* * * * *"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"PLANK_DELIVERY_TIMEOUT" envDefault:"10"`
}

// BoardConfig configures task board defaults.
type BoardConfig struct {
	MaxFanIn int `yaml:"max_fan_in" env:"PLANK_MAX_FAN_IN" envDefault:"10"`
}

// Config is the root configuration for the plank daemon.
type Config struct {
	Environment string `yaml:"environment" env:"PLANK_ENVIRONMENT" envDefault:"development"`
	LogLevel    string `yaml:"log_level" env:"PLANK_LOG_LEVEL" envDefault:"info"`

	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Board    BoardConfig    `yaml:"board"`
}

// Load reads configuration from path (skipped when path is empty or the file
// does not exist) and then applies environment overrides. Env vars win.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No file is fine; env and defaults carry the config.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("invalid outbox batch size %d", c.Outbox.BatchSize)
	}
	if c.Webhook.TimeoutSeconds <= 0 {
		return fmt.Errorf("invalid delivery timeout %d", c.Webhook.TimeoutSeconds)
	}
	if c.Board.MaxFanIn <= 0 {
		return fmt.Errorf("invalid max fan-in %d", c.Board.MaxFanIn)
	}
	return nil
}
