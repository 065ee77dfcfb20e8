package config

import (
	"fmt"
	"time"
)

// Config represents the complete downsampler configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Rollup  RollupConfig  `mapstructure:"rollup"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents the admin HTTP endpoint configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // Admin HTTP port (health, status, manual trigger)
}

// RollupConfig represents downsampling batch configuration
type RollupConfig struct {
	RawDatasetName string   `mapstructure:"raw_dataset_name"` // Dataset the raw chunks live in
	RawSchemaNames []string `mapstructure:"raw_schema_names"` // Schemas this worker downsamples
	SchemaFile     string   `mapstructure:"schema_file"`      // Local schema registry file (ignored when etcd endpoints are set)

	Resolutions     []time.Duration          `mapstructure:"resolutions"`       // Downsample resolutions (e.g., 5m, 1h)
	TTLByResolution map[string]time.Duration `mapstructure:"ttl_by_resolution"` // Keyed by resolution string, e.g. "5m0s" or "5m"

	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // Per-resolution store write deadline
	SessionProvider string        `mapstructure:"session_provider"` // Optional store credentials provider name

	// Buffer pool sizing: downsample partitions of one schema expected
	// to hold write buffers at the same time within a batch
	ExpectedConcurrentPartitions int `mapstructure:"expected_concurrent_partitions"`
}

// DatasetFor returns the dataset name for one resolution's output
func (c *RollupConfig) DatasetFor(resolution time.Duration) string {
	return fmt.Sprintf("%s_ds_%d", c.RawDatasetName, int64(resolution/time.Minute))
}

// TTLFor returns the configured TTL for a resolution, accepting both
// canonical ("5m0s") and shorthand ("5m") duration keys
func (c *RollupConfig) TTLFor(resolution time.Duration) (time.Duration, bool) {
	if ttl, ok := c.TTLByResolution[resolution.String()]; ok {
		return ttl, true
	}
	for key, ttl := range c.TTLByResolution {
		if parsed, err := time.ParseDuration(key); err == nil && parsed == resolution {
			return ttl, true
		}
	}
	return 0, false
}

// SinkConfig represents the chunk store write sink configuration
type SinkConfig struct {
	Type      string   `mapstructure:"type"`      // Sink type: grpc (default), memory
	Addresses []string `mapstructure:"addresses"` // Store node addresses for the grpc sink
}

// EtcdConfig represents etcd configuration for the schema registry.
// Empty endpoints means the registry loads from rollup.schema_file.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// QueueConfig represents batch trigger queue configuration
type QueueConfig struct {
	Type     string `mapstructure:"type"`     // Queue type: nats (default), redis, kafka, memory
	URL      string `mapstructure:"url"`      // Queue server URL (e.g., nats://localhost:4222)
	Username string `mapstructure:"username"` // Optional authentication
	Password string `mapstructure:"password"` // Optional authentication

	// Redis-specific options
	RedisDB       int    `mapstructure:"redis_db"`       // Redis database number (default: 0)
	RedisStream   string `mapstructure:"redis_stream"`   // Redis stream prefix (default: "rollup")
	RedisGroup    string `mapstructure:"redis_group"`    // Redis consumer group (default: "rollup-group")
	RedisConsumer string `mapstructure:"redis_consumer"` // Redis consumer name (default: hostname)

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"`  // Kafka broker addresses
	KafkaGroupID string   `mapstructure:"kafka_group_id"` // Kafka consumer group ID
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Rollup.Validate(); err != nil {
		return fmt.Errorf("rollup config: %w", err)
	}
	if err := c.Sink.Validate(); err != nil {
		return fmt.Errorf("sink config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	return nil
}

// Validate validates rollup configuration
func (c *RollupConfig) Validate() error {
	if c.RawDatasetName == "" {
		return fmt.Errorf("raw_dataset_name is required")
	}
	if len(c.Resolutions) == 0 {
		return fmt.Errorf("at least one resolution is required")
	}
	seen := make(map[time.Duration]bool, len(c.Resolutions))
	for _, r := range c.Resolutions {
		if r < time.Minute {
			return fmt.Errorf("resolution %s is below the 1m minimum", r)
		}
		if seen[r] {
			return fmt.Errorf("duplicate resolution %s", r)
		}
		seen[r] = true
		if _, ok := c.TTLFor(r); !ok {
			return fmt.Errorf("no TTL configured for resolution %s", r)
		}
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if c.ExpectedConcurrentPartitions < 0 {
		return fmt.Errorf("expected_concurrent_partitions cannot be negative")
	}
	return nil
}

// Validate validates sink configuration
func (c *SinkConfig) Validate() error {
	switch c.Type {
	case "", "grpc":
		if len(c.Addresses) == 0 {
			return fmt.Errorf("grpc sink requires at least one address")
		}
	case "memory":
	default:
		return fmt.Errorf("sink.type must be 'grpc' or 'memory', got %q", c.Type)
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}
	return nil
}
