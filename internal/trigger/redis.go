package trigger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// redisFetchBlock bounds each blocking read so shutdown is prompt
	redisFetchBlock = 5 * time.Second

	// redisClaimMinIdle is how long a delivered-but-unacked job may sit
	// in another consumer's pending list before this worker claims it.
	// Batches run minutes, not seconds, so this must comfortably exceed
	// a normal batch; anything older means the owning worker died.
	redisClaimMinIdle = 15 * time.Minute
)

// redisConfig holds Redis Streams options for the trigger queue
type redisConfig struct {
	URL      string // Redis URL (e.g., redis://localhost:6379)
	Password string // Optional password
	DB       int    // Database number (default: 0)
	Stream   string // Stream prefix (default: "rollup")
	Group    string // Consumer group name (default: "rollup-group")
	Consumer string // Consumer name (default: hostname)
}

func (c *redisConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "rollup"
	}
	if c.Group == "" {
		c.Group = "rollup-group"
	}
	if c.Consumer == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "rollup-worker"
		}
		c.Consumer = hostname
	}
}

// redisQueue implements Queue over Redis Streams with a consumer group.
// A batch job stays in the consumer's pending list until its handler
// succeeds; jobs orphaned by a dead worker are adopted via XAutoClaim.
// Together with the batch's idempotence this gives at-least-once
// processing without a coordinator.
type redisQueue struct {
	client    *redis.Client
	config    redisConfig
	mu        sync.Mutex
	consumers map[string]context.CancelFunc
}

func newRedisQueue(cfg redisConfig) (*redisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		// Fall back to treating the URL as a bare address
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cfg.applyDefaults()
	return &redisQueue{
		client:    client,
		config:    cfg,
		consumers: make(map[string]context.CancelFunc),
	}, nil
}

func (q *redisQueue) streamFor(subject string) string {
	return q.config.Stream + ":" + subject
}

// Publish appends a job entry to the subject's stream
func (q *redisQueue) Publish(ctx context.Context, subject string, data []byte) error {
	stream := q.streamFor(subject)
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{"payload": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis stream %s: %w", stream, err)
	}
	return nil
}

// Subscribe creates the consumer group and starts a consumer loop
func (q *redisQueue) Subscribe(subject string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.consumers[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	stream := q.streamFor(subject)
	ctx, cancel := context.WithCancel(context.Background())

	err := q.client.XGroupCreateMkStream(ctx, stream, q.config.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		cancel()
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	go q.consume(ctx, stream, handler)
	q.consumers[subject] = cancel
	return nil
}

// consume runs one job at a time: adopt an orphaned pending job if one
// exists, otherwise block briefly for a new one
func (q *redisQueue) consume(ctx context.Context, stream string, handler MessageHandler) {
	for ctx.Err() == nil {
		msg, ok := q.nextJob(ctx, stream)
		if !ok {
			continue
		}

		payload, ok := msg.Values["payload"].(string)
		if !ok {
			// Unreadable entry: ack it away so it cannot wedge the group
			q.client.XAck(ctx, stream, q.config.Group, msg.ID)
			continue
		}

		if handler([]byte(payload)) == nil {
			q.client.XAck(ctx, stream, q.config.Group, msg.ID)
		}
		// On handler error the entry stays pending; it is retried here
		// or claimed by a peer once redisClaimMinIdle passes
	}
}

// nextJob prefers stale pending entries over new ones, then reads at
// most one new entry. Jobs are heavy batch runs; fetching more than one
// just moves queue depth into this process.
func (q *redisQueue) nextJob(ctx context.Context, stream string) (redis.XMessage, bool) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    q.config.Group,
		Consumer: q.config.Consumer,
		MinIdle:  redisClaimMinIdle,
		Start:    "0",
		Count:    1,
	}).Result()
	if err == nil && len(claimed) > 0 {
		return claimed[0], true
	}

	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.config.Group,
		Consumer: q.config.Consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    redisFetchBlock,
	}).Result()
	if err != nil || len(res) == 0 || len(res[0].Messages) == 0 {
		// redis.Nil just means the block timed out with nothing new
		return redis.XMessage{}, false
	}
	return res[0].Messages[0], true
}

// Unsubscribe stops the subject's consumer loop
func (q *redisQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancel, exists := q.consumers[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	cancel()
	delete(q.consumers, subject)
	return nil
}

// Close stops all consumers and closes the Redis connection
func (q *redisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for subject, cancel := range q.consumers {
		cancel()
		delete(q.consumers, subject)
	}
	return q.client.Close()
}
