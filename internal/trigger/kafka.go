package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaConfig holds Kafka options for the trigger queue
type kafkaConfig struct {
	Brokers []string // Broker addresses
	GroupID string   // Consumer group ID (default: "rollup-group")
}

// kafkaMaxJobBytes caps one job message; job envelopes carry whole
// raw-partition blobs
const kafkaMaxJobBytes = 64e6

// kafkaQueue implements Queue over Apache Kafka with a consumer group.
// Trigger traffic is the opposite of the high-throughput case Kafka
// clients default to: a handful of very large messages where losing one
// means a time window is never downsampled. Producers therefore publish
// one message per write with full-ISR acks, and consumers fetch without
// prefetch and commit only after the handler succeeds.
type kafkaQueue struct {
	config    kafkaConfig
	mu        sync.Mutex
	writers   map[string]*kafka.Writer
	readers   map[string]*kafka.Reader
	consumers map[string]context.CancelFunc
}

func newKafkaQueue(cfg kafkaConfig) (*kafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "rollup-group"
	}

	return &kafkaQueue{
		config:    cfg,
		writers:   make(map[string]*kafka.Writer),
		readers:   make(map[string]*kafka.Reader),
		consumers: make(map[string]context.CancelFunc),
	}, nil
}

// writerFor returns the topic's writer, creating it on first publish
func (q *kafkaQueue) writerFor(topic string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()

	if w, exists := q.writers[topic]; exists {
		return w
	}
	w := &kafka.Writer{
		Addr:  kafka.TCP(q.config.Brokers...),
		Topic: topic,
		// Jobs are rare and heavy: ship each immediately instead of
		// waiting to fill a batch, and require every in-sync replica to
		// ack so a broker failure cannot drop a scheduled window.
		BatchSize:    1,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		BatchBytes:   kafkaMaxJobBytes,
	}
	q.writers[topic] = w
	return w
}

// Publish writes one job message to the topic
func (q *kafkaQueue) Publish(ctx context.Context, subject string, data []byte) error {
	err := q.writerFor(subject).WriteMessages(ctx, kafka.Message{
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", subject, err)
	}
	return nil
}

// Subscribe joins the consumer group for a topic and starts a consumer
func (q *kafkaQueue) Subscribe(subject string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.consumers[subject]; exists {
		return fmt.Errorf("already subscribed to topic: %s", subject)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.config.Brokers,
		GroupID:  q.config.GroupID,
		Topic:    subject,
		MinBytes: 1,
		MaxBytes: kafkaMaxJobBytes,
		MaxWait:  time.Second,
		// One in-flight job: prefetching more would pin several
		// batches' worth of partition blobs in this process for no gain
		QueueCapacity: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	q.readers[subject] = reader
	q.consumers[subject] = cancel

	go q.consume(ctx, reader, handler)
	return nil
}

// consume processes jobs one at a time, committing only what succeeded
func (q *kafkaQueue) consume(ctx context.Context, reader *kafka.Reader, handler MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if handler(msg.Value) != nil {
			// Leave the offset uncommitted so the group redelivers.
			// Batches are idempotent, so the rerun is safe.
			continue
		}

		// A failed commit also just means redelivery; no retry loop
		_ = reader.CommitMessages(ctx, msg)
	}
}

// Unsubscribe stops the consumer and closes its reader
func (q *kafkaQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancel, exists := q.consumers[subject]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", subject)
	}
	cancel()
	delete(q.consumers, subject)

	if reader, ok := q.readers[subject]; ok {
		_ = reader.Close()
		delete(q.readers, subject)
	}
	return nil
}

// Close stops all consumers and closes every reader and writer
func (q *kafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var lastErr error
	for subject, cancel := range q.consumers {
		cancel()
		if reader, ok := q.readers[subject]; ok {
			if err := reader.Close(); err != nil {
				lastErr = err
			}
			delete(q.readers, subject)
		}
		delete(q.consumers, subject)
	}
	for topic, w := range q.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
		delete(q.writers, topic)
	}
	return lastErr
}
