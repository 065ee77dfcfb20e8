package trigger

import (
	"fmt"
	"strings"

	"github.com/soltixdb/rollup/internal/config"
)

// NewQueue creates a Queue from configuration. Default is NATS.
func NewQueue(cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "nats":
		return newNATSQueue(cfg.URL)

	case "redis":
		return newRedisQueue(redisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
			Group:    cfg.RedisGroup,
			Consumer: cfg.RedisConsumer,
		})

	case "kafka":
		return newKafkaQueue(kafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		})

	case "memory":
		return newMemoryQueue(), nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: nats, redis, kafka, memory)", cfg.Type)
	}
}
