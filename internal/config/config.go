// Package config loads the YAML settings file used by the CLI: endpoint
// overrides, retry tuning, proxy routing and the optional pricing override
// file. The streaming layer itself takes everything through explicit
// Options; this package only exists so the CLI has one place to read them
// from.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig tunes the low-level attempt controller.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max-attempts"`
	InitialDelay  time.Duration `yaml:"initial-delay"`
	BackoffFactor float64       `yaml:"backoff-factor"`
	IdleTimeout   time.Duration `yaml:"idle-timeout"`
}

// Config is the application's configuration, loaded from a YAML file.
type Config struct {
	// ProxyURL routes all provider connections through a proxy.
	ProxyURL string `yaml:"proxy-url"`

	// BaseURLs overrides provider endpoints, keyed by provider identifier.
	BaseURLs map[string]string `yaml:"base-urls"`

	// Retry tunes backoff behavior for transient failures.
	Retry RetryConfig `yaml:"retry"`

	// PricingFile points at a YAML pricing override table.
	PricingFile string `yaml:"pricing-file"`

	// LogLevel and LogFile configure the global logger.
	LogLevel string `yaml:"log-level"`
	LogFile  string `yaml:"log-file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  2 * time.Second,
			BackoffFactor: 2,
			IdleTimeout:   30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses the configuration file, layering it over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.BackoffFactor <= 0 {
		cfg.Retry.BackoffFactor = 2
	}
	return cfg, nil
}

// BaseURL returns the endpoint override for a provider, or empty.
func (c *Config) BaseURL(provider string) string {
	if c == nil || c.BaseURLs == nil {
		return ""
	}
	return c.BaseURLs[provider]
}
