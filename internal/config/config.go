// Package config loads and validates the YAML runtime configuration that
// wires together the fetch client, the metric cache, the calibrator, and
// the confluence engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/derivwatch/internal/layers"
	"github.com/sawpanic/derivwatch/internal/net/client"
	"github.com/sawpanic/derivwatch/internal/signal"
)

// CacheConfig controls the metric cache TTLs and the background sweeper.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`         // per-entry freshness window
	MaxAge     time.Duration `yaml:"max_age"`     // sweep cutoff for stale entries
	SweepEvery time.Duration `yaml:"sweep_every"` // sweeper tick interval
}

// SourceConfig points the scanner at the upstream metrics API.
type SourceConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Interval time.Duration `yaml:"interval"` // bar interval requested upstream
	Lookback int           `yaml:"lookback"` // bars requested per metric
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the full runtime configuration.
type Config struct {
	Logging     LoggingConfig              `yaml:"logging"`
	Fetch       client.Config              `yaml:"fetch"`
	Cache       CacheConfig                `yaml:"cache"`
	Source      SourceConfig               `yaml:"source"`
	Confluence  signal.ConfluenceConfig    `yaml:"confluence"`
	Calibration layers.CalibrationSettings `yaml:"calibration"`
	Assets      []string                   `yaml:"assets"`
}

// ValidationError reports a single rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Defaults returns a configuration that works against a local metrics API
// with conservative production thresholds.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Fetch:   client.DefaultConfig(),
		Cache: CacheConfig{
			TTL:        30 * time.Second,
			MaxAge:     5 * time.Minute,
			SweepEvery: time.Minute,
		},
		Source: SourceConfig{
			BaseURL:  "http://localhost:8080",
			Interval: time.Hour,
			Lookback: 2160,
		},
		Confluence:  signal.DefaultConfluenceConfig(),
		Calibration: layers.DefaultCalibrationSettings(),
		Assets:      []string{"BTC", "ETH"},
	}
}

// Load reads a YAML file over the defaults, so a partial file only
// overrides the keys it names.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would misbehave at runtime.
func (c Config) Validate() error {
	if c.Logging.Level == "" {
		return &ValidationError{Field: "logging.level", Message: "must not be empty"}
	}
	if c.Cache.TTL <= 0 {
		return &ValidationError{Field: "cache.ttl", Message: "must be positive"}
	}
	if c.Cache.MaxAge < c.Cache.TTL {
		return &ValidationError{Field: "cache.max_age", Message: "must be at least cache.ttl"}
	}
	if c.Cache.SweepEvery <= 0 {
		return &ValidationError{Field: "cache.sweep_every", Message: "must be positive"}
	}
	if c.Source.BaseURL == "" {
		return &ValidationError{Field: "source.base_url", Message: "must not be empty"}
	}
	if c.Source.Interval <= 0 {
		return &ValidationError{Field: "source.interval", Message: "must be positive"}
	}
	if c.Source.Lookback <= 0 {
		return &ValidationError{Field: "source.lookback", Message: "must be positive"}
	}
	if c.Fetch.MaxRetries < 0 {
		return &ValidationError{Field: "fetch.max_retries", Message: "must not be negative"}
	}
	if c.Fetch.RequestTimeout <= 0 {
		return &ValidationError{Field: "fetch.request_timeout", Message: "must be positive"}
	}
	if c.Fetch.BackoffBase <= 0 {
		return &ValidationError{Field: "fetch.backoff_base", Message: "must be positive"}
	}
	if c.Fetch.BackoffMax < c.Fetch.BackoffBase {
		return &ValidationError{Field: "fetch.backoff_max", Message: "must be at least fetch.backoff_base"}
	}
	if c.Fetch.JitterMax < 0 {
		return &ValidationError{Field: "fetch.jitter_max", Message: "must not be negative"}
	}
	if c.Confluence.WatchMin <= 0 {
		return &ValidationError{Field: "confluence.watch_min", Message: "must be positive"}
	}
	if c.Confluence.ActionMin < c.Confluence.WatchMin {
		return &ValidationError{Field: "confluence.action_min", Message: "must be at least confluence.watch_min"}
	}
	if c.Calibration.Window <= 0 {
		return &ValidationError{Field: "calibration.window", Message: "must be positive"}
	}
	if c.Calibration.MinPeriods <= 0 {
		return &ValidationError{Field: "calibration.min_periods", Message: "must be positive"}
	}
	if c.Calibration.MinPeriods > c.Calibration.Window {
		return &ValidationError{Field: "calibration.min_periods", Message: "must not exceed calibration.window"}
	}
	if len(c.Assets) == 0 {
		return &ValidationError{Field: "assets", Message: "must name at least one asset"}
	}
	return nil
}
