package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"github.com/kursadbilgin/batch-coordinator/internal/lock"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
	"github.com/kursadbilgin/batch-coordinator/internal/session"
	"go.uber.org/zap"
)

const (
	defaultReleaseTimeout = 2 * time.Second
	minTriggerBudget      = time.Second
)

// JobResult is one job's outcome as reported by a worker.
type JobResult[T any] struct {
	JobID    string
	Success  bool
	GroupKey string
	Payload  T
	Error    string
}

// CompletionResult describes what a completion report did.
type CompletionResult struct {
	Outcome domain.CompletionOutcome
	Status  domain.BatchStatus
	Summary *domain.CompletionSummary
}

// Coordinator tracks batches of independently processed jobs and fires the
// completion trigger exactly once per batch. Every read-modify-write of a
// batch record happens under that batch's lock.
type Coordinator[T any] struct {
	store          session.Store
	locks          *lock.Acquirer
	trigger        *Trigger[T]
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
	releaseTimeout time.Duration
	triggerBudget  time.Duration
}

func New[T any](
	store session.Store,
	locks *lock.Acquirer,
	trigger *Trigger[T],
	logger *zap.Logger,
) (*Coordinator[T], error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock acquirer is required")
	}
	if trigger == nil {
		return nil, fmt.Errorf("completion trigger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Trigger and cleanup must finish while the lock is still ours.
	budget := locks.TTL() * 3 / 4
	if budget < minTriggerBudget {
		budget = minTriggerBudget
	}

	return &Coordinator[T]{
		store:          store,
		locks:          locks,
		trigger:        trigger,
		logger:         logger,
		now:            time.Now,
		releaseTimeout: defaultReleaseTimeout,
		triggerBudget:  budget,
	}, nil
}

func (c *Coordinator[T]) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
	c.trigger.SetMetrics(metrics)
}

// Register opens a new batch expecting expectedCount completions.
func (c *Coordinator[T]) Register(
	ctx context.Context,
	batchID string,
	expectedCount int,
	metadata domain.Metadata,
) (domain.BatchStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	record, err := domain.NewBatchRecord(batchID, expectedCount, metadata, now)
	if err != nil {
		return domain.BatchStatus{}, err
	}

	if err := c.store.Create(ctx, record); err != nil {
		return domain.BatchStatus{}, fmt.Errorf("failed to register batch %q: %w", record.BatchID, err)
	}

	c.metrics.IncBatchRegistered(metadata.Origin)
	observability.BatchLogger(c.logger, ctx, record.BatchID).Info("batch registered",
		zap.Int("expectedCount", record.ExpectedCount),
		zap.String("origin", metadata.Origin),
		zap.String("initiatedBy", metadata.InitiatedBy),
	)

	return domain.StatusOf(record, now), nil
}

// RecordCompletion folds one job result into its batch and fires the trigger
// when the batch becomes complete.
func (c *Coordinator[T]) RecordCompletion(
	ctx context.Context,
	batchID string,
	result JobResult[T],
) (CompletionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return CompletionResult{}, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	item, err := toItem(result)
	if err != nil {
		return CompletionResult{}, err
	}

	logger := observability.BatchLogger(c.logger, ctx, batchID)

	var out CompletionResult
	err = c.withLock(ctx, batchID, func(ctx context.Context) error {
		record, err := c.load(ctx, batchID)
		if err != nil {
			if errors.Is(err, domain.ErrBatchNotFound) {
				logger.Error("completion reported for unknown batch; result is lost",
					zap.String("severity", "CRITICAL"),
					zap.String("jobId", item.JobID),
					zap.Bool("success", item.Success),
				)
			}
			return err
		}

		now := c.now()
		if !record.Apply(item, now) {
			logger.Warn("completion ignored; batch already complete",
				zap.String("jobId", item.JobID),
				zap.Int("completedCount", record.CompletedCount),
				zap.Int("expectedCount", record.ExpectedCount),
			)
			out = CompletionResult{Outcome: domain.OutcomeDuplicate, Status: domain.StatusOf(record, now)}
			return nil
		}

		if !record.IsComplete() {
			if err := c.store.Save(ctx, record); err != nil {
				return fmt.Errorf("failed to save batch %q: %w", batchID, err)
			}
			logger.Debug("completion recorded",
				zap.String("jobId", item.JobID),
				zap.Int("completedCount", record.CompletedCount),
				zap.Int("expectedCount", record.ExpectedCount),
			)
			out = CompletionResult{Outcome: domain.OutcomeRecorded, Status: domain.StatusOf(record, now)}
			return nil
		}

		outcome := domain.OutcomeCompleted
		if record.Cancelled {
			outcome = domain.OutcomeCompletedCancelled
		}
		summary, err := c.finish(ctx, record, domain.TriggerReasonCompleted)
		if err != nil {
			return err
		}
		out = CompletionResult{Outcome: outcome, Status: domain.StatusOf(record, c.now()), Summary: summary}
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}

	c.metrics.IncCompletion(out.Outcome.String())
	return out, nil
}

// Cancel marks a batch cancelled. Completions are still counted but the
// trigger will not fire when the batch completes.
func (c *Coordinator[T]) Cancel(ctx context.Context, batchID string) (domain.BatchStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var status domain.BatchStatus
	err := c.withLock(ctx, batchID, func(ctx context.Context) error {
		record, err := c.loadLive(ctx, batchID)
		if err != nil {
			return err
		}

		now := c.now()
		if !record.Cancelled {
			record.Cancel(now)
			if err := c.store.Save(ctx, record); err != nil {
				return fmt.Errorf("failed to save batch %q: %w", batchID, err)
			}
			observability.BatchLogger(c.logger, ctx, batchID).Info("batch cancelled",
				zap.Int("completedCount", record.CompletedCount),
				zap.Int("expectedCount", record.ExpectedCount),
			)
		}
		status = domain.StatusOf(record, now)
		return nil
	})
	if err != nil {
		return domain.BatchStatus{}, err
	}
	return status, nil
}

// ForceTrigger fires the trigger for a partial batch and closes it.
func (c *Coordinator[T]) ForceTrigger(ctx context.Context, batchID string) (domain.CompletionSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var summary domain.CompletionSummary
	err := c.withLock(ctx, batchID, func(ctx context.Context) error {
		record, err := c.loadLive(ctx, batchID)
		if err != nil {
			return err
		}
		if record.Cancelled {
			return fmt.Errorf("%w: batch %q is cancelled", domain.ErrConflict, batchID)
		}

		observability.BatchLogger(c.logger, ctx, batchID).Warn("forcing completion trigger",
			zap.Int("completedCount", record.CompletedCount),
			zap.Int("expectedCount", record.ExpectedCount),
		)
		fired, err := c.finish(ctx, record, domain.TriggerReasonForced)
		if err != nil {
			return err
		}
		summary = *fired
		return nil
	})
	if err != nil {
		return domain.CompletionSummary{}, err
	}
	return summary, nil
}

func (c *Coordinator[T]) GetStatus(ctx context.Context, batchID string) (domain.BatchStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	record, err := c.loadLive(ctx, batchID)
	if err != nil {
		return domain.BatchStatus{}, err
	}
	return domain.StatusOf(record, c.now()), nil
}

// ListActive returns every live batch, oldest first.
func (c *Coordinator[T]) ListActive(ctx context.Context) ([]domain.BatchStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	records, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	now := c.now()
	statuses := make([]domain.BatchStatus, 0, len(records))
	for i := range records {
		if records[i].Finished {
			continue
		}
		statuses = append(statuses, domain.StatusOf(&records[i], now))
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].StartedAt.Equal(statuses[j].StartedAt) {
			return statuses[i].BatchID < statuses[j].BatchID
		}
		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})
	return statuses, nil
}

// finish persists a terminal marker, fires the trigger unless the batch was
// cancelled, then removes the record. Nothing is fired if the marker cannot
// be written, so a retried report can complete the batch again. Firing and
// deletion run detached from the caller's cancellation: once a batch is
// marked finished the trigger must not be abandoned halfway.
func (c *Coordinator[T]) finish(
	ctx context.Context,
	record *domain.BatchRecord,
	reason domain.TriggerReason,
) (*domain.CompletionSummary, error) {
	logger := observability.BatchLogger(c.logger, ctx, record.BatchID)

	record.Finish(c.now())
	if err := c.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to mark batch %q finished: %w", record.BatchID, err)
	}

	var summary *domain.CompletionSummary
	if record.Cancelled {
		logger.Info("cancelled batch completed; trigger suppressed",
			zap.Int("completedCount", record.CompletedCount),
			zap.Int("successCount", record.SuccessCount),
			zap.Int("failureCount", record.FailureCount),
		)
	} else {
		fireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.triggerBudget)
		fired := c.trigger.Fire(fireCtx, record, reason)
		cancel()
		summary = &fired
	}

	// The trigger may have spent its whole budget; deletion gets its own.
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	defer cancel()
	if err := c.store.Delete(deleteCtx, record.BatchID); err != nil {
		logger.Error("failed to delete finished batch; marker stays until expiry", zap.Error(err))
	}

	return summary, nil
}

func (c *Coordinator[T]) load(ctx context.Context, batchID string) (*domain.BatchRecord, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	record, err := c.store.Get(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %q: %w", batchID, err)
	}
	if err := record.CheckInvariants(); err != nil {
		observability.BatchLogger(c.logger, ctx, batchID).Warn("batch record violates counter invariants", zap.Error(err))
	}
	return record, nil
}

// loadLive is load for operations that must not see a finished batch whose
// deletion failed.
func (c *Coordinator[T]) loadLive(ctx context.Context, batchID string) (*domain.BatchRecord, error) {
	record, err := c.load(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if record.Finished {
		return nil, fmt.Errorf("failed to load batch %q: %w", record.BatchID, domain.ErrBatchNotFound)
	}
	return record, nil
}

func (c *Coordinator[T]) withLock(ctx context.Context, batchID string, fn func(ctx context.Context) error) error {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	key := session.LockKey(batchID)
	token, err := c.locks.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrLockBusy) {
			c.metrics.IncLockAcquireFailure()
			observability.BatchLogger(c.logger, ctx, batchID).Warn("failed to acquire batch lock", zap.Error(err))
		}
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
		defer cancel()
		if err := c.locks.Release(releaseCtx, key, token); err != nil {
			observability.BatchLogger(c.logger, ctx, batchID).Warn("failed to release batch lock", zap.Error(err))
		}
	}()

	return fn(ctx)
}

func toItem[T any](result JobResult[T]) (domain.Item, error) {
	jobID := strings.TrimSpace(result.JobID)
	if jobID == "" {
		return domain.Item{}, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: payload of job %q is not encodable: %v", domain.ErrValidation, jobID, err)
	}
	if string(payload) == "null" {
		payload = nil
	}

	return domain.Item{
		JobID:    jobID,
		Success:  result.Success,
		GroupKey: strings.TrimSpace(result.GroupKey),
		Payload:  payload,
		Error:    result.Error,
	}, nil
}
