package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/batch-coordinator/internal/coordinator"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
	"github.com/kursadbilgin/batch-coordinator/internal/ratelimit"
)

// QueueDestination is the rate limiter key of queued notifications.
const QueueDestination = "queue"

var _ coordinator.Notifier[struct{}] = (*NotificationNotifier[struct{}])(nil)

// NotificationNotifier hands each notified group to downstream consumers
// through NotificationsQueue.
type NotificationNotifier[T any] struct {
	publisher Publisher
	limiter   ratelimit.RateLimiter
	newID     func() string
}

func NewNotificationNotifier[T any](publisher Publisher, limiter ratelimit.RateLimiter) (*NotificationNotifier[T], error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	return &NotificationNotifier[T]{
		publisher: publisher,
		limiter:   limiter,
		newID:     uuid.NewString,
	}, nil
}

func (n *NotificationNotifier[T]) Notify(ctx context.Context, notification coordinator.GroupNotification[T]) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	items, err := json.Marshal(notification.Payloads)
	if err != nil {
		return 0, fmt.Errorf("failed to encode group %q items: %w", notification.GroupKey, err)
	}

	msg := NotificationMessage{
		NotificationID: n.newID(),
		BatchID:        notification.BatchID,
		GroupKey:       notification.GroupKey,
		Reason:         notification.Reason.String(),
		JobIDs:         notification.JobIDs,
		Items:          items,
		Origin:         notification.Metadata.Origin,
		InitiatedBy:    notification.Metadata.InitiatedBy,
		Attributes:     notification.Metadata.Attributes,
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx, QueueDestination); err != nil {
			return 0, fmt.Errorf("failed to wait for queue rate limit: %w", err)
		}
	}

	if err := n.publisher.Publish(ctx, NotificationsQueue, msg); err != nil {
		return 0, err
	}
	return 1, nil
}
