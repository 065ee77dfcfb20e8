package trigger

import "context"

// MessageHandler handles one queue message. A non-nil error makes the
// queue redeliver the message where the backend supports it.
type MessageHandler func(data []byte) error

// Queue is the transport batch jobs arrive on and results leave by.
// Implementations: NATS JetStream (default), Redis Streams, Kafka, and
// an in-memory queue for tests and dev mode.
type Queue interface {
	// Publish publishes a message to a subject/topic
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe subscribes to a subject/topic with a handler
	Subscribe(subject string, handler MessageHandler) error

	// Unsubscribe unsubscribes from a subject/topic
	Unsubscribe(subject string) error

	// Close closes the connection
	Close() error
}
