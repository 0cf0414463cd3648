package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	LogSearch     LogSearchConfig     `yaml:"logsearch"`
	Sync          SyncConfig          `yaml:"sync"`
}

// HomeAssistantConfig holds the Home Assistant connection settings.
type HomeAssistantConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"` //nolint:gosec // configuration field, not a hardcoded secret
}

// LogSearchConfig holds the log-search service connection settings. An empty
// base_url disables the logs_search and logs_tail tools.
type LogSearchConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"` //nolint:gosec // configuration field, not a hardcoded secret
}

// SyncConfig holds the live sync settings. Durations are strings in Go
// duration syntax (e.g. "10s", "1m"); empty means the component default.
type SyncConfig struct {
	ReconnectInterval string `yaml:"reconnect_interval"`
	CacheTTL          string `yaml:"cache_ttl"`
}

// parseDuration parses an optional duration field, rejecting negatives.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("server: config: %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("server: config: %s must not be negative", field)
	}

	return d, nil
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing, so tokens can live in the environment (e.g. loaded from a
// .env file) rather than in the committed config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("server: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("server: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.HomeAssistant.BaseURL == "" {
		return fmt.Errorf("server: config: homeassistant.base_url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("server: config: homeassistant.token is required")
	}
	if c.LogSearch.BaseURL != "" && c.LogSearch.Token == "" {
		return fmt.Errorf("server: config: logsearch.token is required when logsearch.base_url is set")
	}
	if _, err := parseDuration("sync.reconnect_interval", c.Sync.ReconnectInterval); err != nil {
		return err
	}
	if _, err := parseDuration("sync.cache_ttl", c.Sync.CacheTTL); err != nil {
		return err
	}

	return nil
}
