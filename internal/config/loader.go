package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/rollup")
	}

	setDefaults(v)

	// Enable environment variable overrides
	v.SetEnvPrefix("ROLLUP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 5585)

	// Rollup defaults
	v.SetDefault("rollup.raw_dataset_name", "timeseries")
	v.SetDefault("rollup.schema_file", "./configs/schemas.yaml")
	v.SetDefault("rollup.resolutions", []string{"5m", "1h"})
	v.SetDefault("rollup.ttl_by_resolution", map[string]string{
		"5m": "2160h", // 90 days
		"1h": "8760h", // 1 year
	})
	v.SetDefault("rollup.write_timeout", "30s")
	v.SetDefault("rollup.expected_concurrent_partitions", 64)

	// Sink defaults
	v.SetDefault("sink.type", "grpc")
	v.SetDefault("sink.addresses", []string{"localhost:5556"})

	// Etcd defaults: no endpoints, so the file registry is used
	v.SetDefault("etcd.dial_timeout", "5s")

	// Queue defaults
	v.SetDefault("queue.type", "nats")
	v.SetDefault("queue.url", "nats://localhost:4222")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 5585,
		},
		Rollup: RollupConfig{
			RawDatasetName: "timeseries",
			SchemaFile:     "./configs/schemas.yaml",
			Resolutions:    []time.Duration{5 * time.Minute, time.Hour},
			TTLByResolution: map[string]time.Duration{
				"5m": 2160 * time.Hour,
				"1h": 8760 * time.Hour,
			},
			WriteTimeout:                 30 * time.Second,
			ExpectedConcurrentPartitions: 64,
		},
		Sink: SinkConfig{
			Type:      "grpc",
			Addresses: []string{"localhost:5556"},
		},
		Etcd: EtcdConfig{
			DialTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Type: "nats",
			URL:  "nats://localhost:4222",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
