// Package config holds the application configuration surface: scan
// parameters, classification patterns and ambient settings. Values resolve
// in three layers: struct-tag defaults, an optional YAML file, then flag
// overrides applied by the CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	OutputFormat string `yaml:"output_format" default:"table"`

	// ScanTimeoutMs bounds one scan session; the session returns to idle
	// when it elapses without a manual stop.
	ScanTimeoutMs int `yaml:"scan_timeout_ms" default:"10000"`

	// MaxDevices caps the registry. Devices discovered beyond the cap are
	// dropped, not evicted.
	MaxDevices int `yaml:"max_devices" default:"50"`

	// MinRSSIThreshold discards advertisements weaker than this level
	// before they reach the registry. Advertisements without a reported
	// RSSI always pass.
	MinRSSIThreshold int `yaml:"min_rssi_threshold" default:"-100"`

	// NamePatterns and ManufacturerIDs configure the classifier. Empty
	// values fall back to the Espressif defaults.
	NamePatterns    []string `yaml:"name_patterns"`
	ManufacturerIDs []uint16 `yaml:"manufacturer_ids"`

	// MetricsAddr exposes Prometheus metrics while scanning when set
	// (e.g. ":9102"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file layered over the defaults and
// validates the result. An empty path returns plain defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file %s: %w", path, err)
	}

	return cfg, nil
}

// ScanTimeout returns the scan timeout as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeoutMs) * time.Millisecond
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.ScanTimeoutMs <= 0 {
		return fmt.Errorf("scan_timeout_ms must be positive, got %d", c.ScanTimeoutMs)
	}
	if c.MaxDevices <= 0 {
		return fmt.Errorf("max_devices must be positive, got %d", c.MaxDevices)
	}
	if c.MinRSSIThreshold < -127 || c.MinRSSIThreshold > 20 {
		return fmt.Errorf("min_rssi_threshold must be within [-127, 20] dBm, got %d", c.MinRSSIThreshold)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format must be table or json, got %q", c.OutputFormat)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
