package messaging

import (
	"context"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Publish once the queue is closed and by Consume
// once a closed queue has been drained.
var ErrClosed = errors.New("messaging: queue closed")

// Queue represents a bounded message queue for any payload type
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue, blocking while the queue is full
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue, blocking while the queue is empty
	Consume(ctx context.Context) (Message[T], error)

	// Close stops accepting messages; buffered messages can still be consumed
	Close() error

	// Size returns the number of buffered messages
	Size() int
}

// Message represents a message retrieved from a queue
type Message[T any] interface {
	// ID returns the message identifier
	ID() string

	// T returns the payload of this message
	T() *T

	// Ack acknowledges successful processing of this message
	Ack() error

	// Nack indicates failure in processing this message
	Nack(err error) error
}
