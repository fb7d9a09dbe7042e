package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
	"go.uber.org/zap"
)

// Trigger runs the follow-up action of a finished batch, one group at a time.
type Trigger[T any] struct {
	notifier Notifier[T]
	audit    AuditSink
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewTrigger[T any](notifier Notifier[T], audit AuditSink, logger *zap.Logger) (*Trigger[T], error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = NewLogAuditSink(logger)
	}

	return &Trigger[T]{
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (t *Trigger[T]) SetMetrics(metrics *observability.Metrics) {
	if t == nil {
		return
	}
	t.metrics = metrics
}

// Fire notifies every group that has at least one successful result. A group
// failure is recorded on the summary and never stops the remaining groups.
func (t *Trigger[T]) Fire(ctx context.Context, record *domain.BatchRecord, reason domain.TriggerReason) domain.CompletionSummary {
	start := t.now()
	logger := observability.BatchLogger(t.logger, ctx, record.BatchID)

	summary := domain.CompletionSummary{
		BatchID:        record.BatchID,
		Reason:         reason,
		ExpectedCount:  record.ExpectedCount,
		CompletedCount: record.CompletedCount,
		SuccessCount:   record.SuccessCount,
		FailureCount:   record.FailureCount,
		Origin:         record.Metadata.Origin,
		InitiatedBy:    record.Metadata.InitiatedBy,
	}

	for _, groupKey := range sortedGroupKeys(record.GroupedItems) {
		notification, err := buildGroupNotification[T](record, groupKey, reason)
		if err == nil && len(notification.JobIDs) == 0 {
			continue
		}
		if err == nil {
			var dispatched int
			dispatched, err = t.notifyGroup(ctx, notification)
			summary.ActionsDispatched += dispatched
		}
		if err != nil {
			summary.GroupsFailed++
			t.metrics.IncTriggerGroupFailure()
			logger.Error("completion trigger group failed",
				zap.String("groupKey", groupKey),
				zap.Error(err),
			)
			continue
		}
		summary.GroupsNotified++
	}

	completedAt := t.now()
	summary.CompletedAt = completedAt.UTC()
	summary.Elapsed = record.Elapsed(completedAt)

	if err := t.audit.RecordCompletion(ctx, summary); err != nil {
		logger.Error("failed to record completion audit", zap.Error(err))
	}

	t.metrics.IncTriggerFired(reason.String())
	t.metrics.ObserveTriggerDuration(completedAt.Sub(start))

	return summary
}

func (t *Trigger[T]) notifyGroup(ctx context.Context, notification GroupNotification[T]) (dispatched int, err error) {
	defer func() {
		if r := recover(); r != nil {
			dispatched = 0
			err = fmt.Errorf("%w: group %q panicked: %v", domain.ErrTriggerFailure, notification.GroupKey, r)
		}
	}()

	dispatched, err = t.notifier.Notify(ctx, notification)
	if err != nil {
		return dispatched, fmt.Errorf("%w: group %q: %w", domain.ErrTriggerFailure, notification.GroupKey, err)
	}
	return dispatched, nil
}

func buildGroupNotification[T any](
	record *domain.BatchRecord,
	groupKey string,
	reason domain.TriggerReason,
) (GroupNotification[T], error) {
	notification := GroupNotification[T]{
		BatchID:  record.BatchID,
		GroupKey: groupKey,
		Reason:   reason,
		Metadata: record.Metadata,
	}

	for _, item := range record.GroupedItems[groupKey] {
		if !item.Success {
			continue
		}
		var payload T
		if len(item.Payload) > 0 {
			if err := json.Unmarshal(item.Payload, &payload); err != nil {
				return notification, fmt.Errorf("%w: decode payload of job %q: %w", domain.ErrTriggerFailure, item.JobID, err)
			}
		}
		notification.JobIDs = append(notification.JobIDs, item.JobID)
		notification.Payloads = append(notification.Payloads, payload)
	}
	return notification, nil
}

func sortedGroupKeys(groups map[string][]domain.Item) []string {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
