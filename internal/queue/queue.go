package queue

import (
	"context"
	"errors"
	"fmt"
)

const (
	// CompletionsQueue carries job results reported by workers.
	CompletionsQueue = "batch.completions"
	// NotificationsQueue carries one message per notified result group.
	NotificationsQueue = "batch.notifications"
)

// ErrReject marks a handler failure that redelivery cannot fix. The message is
// dead-lettered instead of requeued.
var ErrReject = errors.New("message rejected")

// Message is a payload this package knows how to publish.
type Message interface {
	Validate() error
	headers() (messageID string, correlationID string)
}

// Publisher publishes messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// MessageHandler handles a consumed completion message. A nil error acks,
// an ErrReject-wrapped error dead-letters, any other error requeues.
type MessageHandler func(ctx context.Context, msg CompletionMessage) error

// Consumer consumes completion messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var workQueues = []string{
	CompletionsQueue,
	NotificationsQueue,
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.batch.completions.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

func WorkQueueNames() []string {
	return append([]string(nil), workQueues...)
}

func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, queue := range workQueues {
		queues = append(queues, DLQName(queue))
	}
	return queues
}
