package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kursadbilgin/batch-coordinator/internal/coordinator"
	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
	"github.com/kursadbilgin/batch-coordinator/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// CompletionRecorder is the part of the coordinator the worker drives.
type CompletionRecorder interface {
	RecordCompletion(
		ctx context.Context,
		batchID string,
		result coordinator.JobResult[json.RawMessage],
	) (coordinator.CompletionResult, error)
}

// CompletionWorker feeds job results from the completions queue into the
// coordinator.
type CompletionWorker struct {
	recorder    CompletionRecorder
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewCompletionWorker(
	recorder CompletionRecorder,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*CompletionWorker, error) {
	if recorder == nil {
		return nil, fmt.Errorf("completion recorder is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CompletionWorker{
		recorder:    recorder,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the completions queue until context cancellation.
func (w *CompletionWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("completion worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.CompletionsQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.CompletionsQueue, w.processMessage)
			if err != nil {
				w.logger.Error("completion worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("completion worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *CompletionWorker) processMessage(ctx context.Context, msg queue.CompletionMessage) error {
	w.metrics.IncWorkerInFlight()
	defer w.metrics.DecWorkerInFlight()

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.BatchLogger(w.logger, ctx, msg.BatchID)

	result, err := w.recorder.RecordCompletion(ctx, msg.BatchID, coordinator.JobResult[json.RawMessage]{
		JobID:    msg.JobID,
		Success:  msg.Success,
		GroupKey: msg.GroupKey,
		Payload:  msg.Payload,
		Error:    msg.Error,
	})
	switch {
	case err == nil:
		logger.Debug("completion message processed",
			zap.String("jobId", msg.JobID),
			zap.String("outcome", result.Outcome.String()),
		)
		return nil
	case errors.Is(err, domain.ErrBatchNotFound):
		// Redelivery cannot bring the batch back; the coordinator already logged the loss.
		return nil
	case errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("%w: %v", queue.ErrReject, err)
	default:
		// Lock contention and store failures leave the record untouched, so
		// the message is safe to requeue.
		logger.Warn("completion message requeued",
			zap.String("jobId", msg.JobID),
			zap.Error(err),
		)
		return err
	}
}

func (w *CompletionWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}
