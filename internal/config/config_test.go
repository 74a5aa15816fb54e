package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, Defaults().Validate())
}

func TestLoad_PartialOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  base_url: https://metrics.example.com
cache:
  ttl: 10s
confluence:
  watch_min: 3
  action_min: 4
assets: [BTC]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://metrics.example.com", cfg.Source.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Confluence.WatchMin)
	assert.Equal(t, 4, cfg.Confluence.ActionMin)
	assert.Equal(t, []string{"BTC"}, cfg.Assets)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 2160, cfg.Calibration.Window)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "cache: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty log level", func(c *Config) { c.Logging.Level = "" }, "logging.level"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"max_age below ttl", func(c *Config) { c.Cache.MaxAge = c.Cache.TTL - 1 }, "cache.max_age"},
		{"zero sweep", func(c *Config) { c.Cache.SweepEvery = 0 }, "cache.sweep_every"},
		{"empty base url", func(c *Config) { c.Source.BaseURL = "" }, "source.base_url"},
		{"zero interval", func(c *Config) { c.Source.Interval = 0 }, "source.interval"},
		{"zero lookback", func(c *Config) { c.Source.Lookback = 0 }, "source.lookback"},
		{"negative retries", func(c *Config) { c.Fetch.MaxRetries = -1 }, "fetch.max_retries"},
		{"zero request timeout", func(c *Config) { c.Fetch.RequestTimeout = 0 }, "fetch.request_timeout"},
		{"backoff max below base", func(c *Config) { c.Fetch.BackoffMax = c.Fetch.BackoffBase / 2 }, "fetch.backoff_max"},
		{"negative jitter", func(c *Config) { c.Fetch.JitterMax = -time.Millisecond }, "fetch.jitter_max"},
		{"zero watch_min", func(c *Config) { c.Confluence.WatchMin = 0 }, "confluence.watch_min"},
		{"action_min below watch_min", func(c *Config) { c.Confluence.ActionMin = 1 }, "confluence.action_min"},
		{"zero window", func(c *Config) { c.Calibration.Window = 0 }, "calibration.window"},
		{"min_periods above window", func(c *Config) { c.Calibration.MinPeriods = c.Calibration.Window + 1 }, "calibration.min_periods"},
		{"no assets", func(c *Config) { c.Assets = nil }, "assets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
