// Package config provides YAML-based configuration loading for Quicklook.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Quicklook configuration, loaded from
// quicklook.yaml.
type Config struct {
	ArchiveRoot string         `yaml:"archive_root"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Worker      WorkerConfig   `yaml:"worker"`
	Ingest      IngestConfig   `yaml:"ingest"`
	Notify      NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds dashboard HTTP settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects and configures the archive database backend.
type DatabaseConfig struct {
	Backend    string `yaml:"backend"` // "sqlite" or "mysql"
	SQLitePath string `yaml:"sqlite_path"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
}

// WorkerConfig holds task-worker settings.
type WorkerConfig struct {
	ID          string `yaml:"id"`          // defaults to the hostname
	Concurrency int    `yaml:"concurrency"` // parallel handlers per worker process
}

// IngestConfig controls archive scanning.
type IngestConfig struct {
	Cron string `yaml:"cron"` // cron spec for scheduled re-ingest; empty disables
}

// NotifyConfig wires optional chat alerting.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack alerting credentials.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord alerting credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Backend == "" {
		c.Database.Backend = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "quicklook.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "quicklook"
	}
	if c.Worker.ID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Worker.ID = host
		} else {
			c.Worker.ID = "worker"
		}
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.ArchiveRoot == "" {
		errs = append(errs, "archive_root is required")
	}
	switch c.Database.Backend {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.backend %q must be sqlite or mysql", c.Database.Backend))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, "worker.concurrency must be at least 1")
	}
	if (c.Notify.Slack.BotToken == "") != (c.Notify.Slack.ChannelID == "") {
		errs = append(errs, "notify.slack requires both bot_token and channel_id")
	}
	if (c.Notify.Discord.BotToken == "") != (c.Notify.Discord.ChannelID == "") {
		errs = append(errs, "notify.discord requires both bot_token and channel_id")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
