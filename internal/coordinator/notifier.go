package coordinator

import (
	"context"
	"errors"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
)

// GroupNotification carries the successful results of one group to a notifier.
type GroupNotification[T any] struct {
	BatchID  string
	GroupKey string
	Reason   domain.TriggerReason
	JobIDs   []string
	Payloads []T
	Metadata domain.Metadata
}

// Notifier performs the follow-up action for one result group and reports
// how many downstream actions it dispatched.
type Notifier[T any] interface {
	Notify(ctx context.Context, notification GroupNotification[T]) (int, error)
}

type NotifierFunc[T any] func(ctx context.Context, notification GroupNotification[T]) (int, error)

func (f NotifierFunc[T]) Notify(ctx context.Context, notification GroupNotification[T]) (int, error) {
	return f(ctx, notification)
}

// MultiNotifier fans a group out to every notifier, continuing past failures.
type MultiNotifier[T any] []Notifier[T]

func (m MultiNotifier[T]) Notify(ctx context.Context, notification GroupNotification[T]) (int, error) {
	var (
		dispatched int
		errs       []error
	)
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		n, err := notifier.Notify(ctx, notification)
		dispatched += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return dispatched, errors.Join(errs...)
}
