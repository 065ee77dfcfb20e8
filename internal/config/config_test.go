package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "timeseries", cfg.Rollup.RawDatasetName)
	assert.Len(t, cfg.Rollup.Resolutions, 2)
}

func TestLoad_ExplicitMissingFileIsError(t *testing.T) {
	// An explicitly named but absent file is an error, not a silent default
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: 127.0.0.1
  http_port: 9999
rollup:
  raw_dataset_name: metrics
  resolutions: [5m, 15m]
  ttl_by_resolution:
    5m: 720h
    15m: 2160h
  write_timeout: 45s
  expected_concurrent_partitions: 8
sink:
  type: memory
queue:
  type: memory
logging:
  level: warn
  format: json
  output_path: stdout
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "metrics", cfg.Rollup.RawDatasetName)
	assert.Equal(t, []time.Duration{5 * time.Minute, 15 * time.Minute}, cfg.Rollup.Resolutions)
	assert.Equal(t, 45*time.Second, cfg.Rollup.WriteTimeout)
	assert.Equal(t, "memory", cfg.Sink.Type)
	assert.Equal(t, "warn", cfg.Logging.Level)

	ttl, ok := cfg.Rollup.TTLFor(5 * time.Minute)
	require.True(t, ok)
	assert.Equal(t, 720*time.Hour, ttl)
}

func TestRollupConfig_DatasetFor(t *testing.T) {
	cfg := RollupConfig{RawDatasetName: "metrics"}
	assert.Equal(t, "metrics_ds_5", cfg.DatasetFor(5*time.Minute))
	assert.Equal(t, "metrics_ds_60", cfg.DatasetFor(time.Hour))
	assert.Equal(t, "metrics_ds_1440", cfg.DatasetFor(24*time.Hour))
}

func TestRollupConfig_TTLForAcceptsShorthandKeys(t *testing.T) {
	cfg := RollupConfig{
		TTLByResolution: map[string]time.Duration{
			"5m": time.Hour,      // shorthand
			"1h0m0s": 2 * time.Hour, // canonical
		},
	}

	ttl, ok := cfg.TTLFor(5 * time.Minute)
	require.True(t, ok)
	assert.Equal(t, time.Hour, ttl)

	ttl, ok = cfg.TTLFor(time.Hour)
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, ttl)

	_, ok = cfg.TTLFor(15 * time.Minute)
	assert.False(t, ok)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"missing dataset name", func(c *Config) { c.Rollup.RawDatasetName = "" }},
		{"no resolutions", func(c *Config) { c.Rollup.Resolutions = nil }},
		{"sub-minute resolution", func(c *Config) { c.Rollup.Resolutions = []time.Duration{time.Second} }},
		{"duplicate resolution", func(c *Config) {
			c.Rollup.Resolutions = []time.Duration{5 * time.Minute, 5 * time.Minute}
		}},
		{"missing ttl", func(c *Config) { c.Rollup.Resolutions = append(c.Rollup.Resolutions, 15*time.Minute) }},
		{"zero write timeout", func(c *Config) { c.Rollup.WriteTimeout = 0 }},
		{"grpc sink without addresses", func(c *Config) { c.Sink.Addresses = nil }},
		{"unknown sink type", func(c *Config) { c.Sink.Type = "s3" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
