// Package config loads reconboard client configuration from YAML or JSON
// files, applies environment overrides and validates the result.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/reconboard/internal/logging"
)

const (
	// DefaultBaseURL is used when neither the file nor the environment name an API.
	DefaultBaseURL = "http://localhost:8888"

	// EnvAPIURL overrides api.base_url.
	EnvAPIURL = "RECONBOARD_API_URL"

	// EnvLegacyAPIURL is the variable the browser front end read its API address from.
	EnvLegacyAPIURL = "VITE_API_URL"

	defaultPollInterval   = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	minPollInterval       = time.Second
)

// Config represents the complete client configuration
type Config struct {
	// API boundary settings
	API APIConfig `yaml:"api" json:"api"`

	// Polling cadence for scans and stats
	Polling PollingConfig `yaml:"polling" json:"polling"`

	// Export destination
	Export ExportConfig `yaml:"export" json:"export"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// APIConfig holds the API server address and HTTP client settings
type APIConfig struct {
	// Base URL of the recon API, e.g. http://localhost:8888
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Per-request timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// User-Agent header sent with every request
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// PollingConfig controls the shell's periodic refresh
type PollingConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// ExportConfig controls where exported result artifacts are written
type ExportConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// MetricsConfig controls the optional Prometheus endpoint exposed by `watch`
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   DefaultBaseURL,
			Timeout:   defaultRequestTimeout,
			UserAgent: "reconboard-cli/1.0",
		},
		Polling: PollingConfig{
			Interval: defaultPollInterval,
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Logging: logging.Config{
			Level:  logging.LevelInfo,
			Format: logging.FormatText,
			Output: "stderr",
			Rotation: logging.RotationConfig{
				Enabled:    false,
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9109",
		},
	}
}

// Load loads configuration from a file, then applies environment overrides.
// A missing or empty path yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if err := config.readFile(path); err != nil {
			return nil, err
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) readFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	// #nosec G304 - config path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON, so one decoder serves both extensions.
	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides file values from the environment. lookup is os.LookupEnv in
// production and a map in tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLegacyAPIURL); ok && strings.TrimSpace(v) != "" {
		c.API.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAPIURL); ok && strings.TrimSpace(v) != "" {
		c.API.BaseURL = strings.TrimSpace(v)
	}
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid api base url %q: %w", c.API.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api base url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("api base url %q has no host", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}

	if c.Polling.Interval < minPollInterval {
		return fmt.Errorf("polling interval must be at least %s", minPollInterval)
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	return nil
}

// GetBaseURL returns the API base URL without a trailing slash
func (c *Config) GetBaseURL() string {
	return strings.TrimRight(c.API.BaseURL, "/")
}
