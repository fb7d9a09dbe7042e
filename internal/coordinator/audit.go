package coordinator

import (
	"context"
	"errors"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"go.uber.org/zap"
)

// AuditSink receives exactly one summary per fired trigger.
type AuditSink interface {
	RecordCompletion(ctx context.Context, summary domain.CompletionSummary) error
}

type AuditSinks []AuditSink

func (s AuditSinks) RecordCompletion(ctx context.Context, summary domain.CompletionSummary) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.RecordCompletion(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAuditSink writes completion summaries as structured log events.
type LogAuditSink struct {
	logger *zap.Logger
}

func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAuditSink{logger: logger}
}

func (s *LogAuditSink) RecordCompletion(_ context.Context, summary domain.CompletionSummary) error {
	s.logger.Info("batch completion",
		zap.String("batchId", summary.BatchID),
		zap.String("reason", summary.Reason.String()),
		zap.Int("expectedCount", summary.ExpectedCount),
		zap.Int("completedCount", summary.CompletedCount),
		zap.Int("successCount", summary.SuccessCount),
		zap.Int("failureCount", summary.FailureCount),
		zap.Int("groupsNotified", summary.GroupsNotified),
		zap.Int("groupsFailed", summary.GroupsFailed),
		zap.Int("actionsDispatched", summary.ActionsDispatched),
		zap.Int64("elapsedMs", summary.Elapsed.Milliseconds()),
		zap.String("origin", summary.Origin),
		zap.String("initiatedBy", summary.InitiatedBy),
	)
	return nil
}
