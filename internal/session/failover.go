package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"go.uber.org/zap"
)

var _ Store = (*FailoverStore)(nil)

// FailoverStore writes through to the shared store and mirrors every record it
// sees into the local fallback. When the shared store becomes unreachable the
// affected batch is pinned to the local copy for the rest of its life in this
// process, so completions keep accumulating against locally visible state.
type FailoverStore struct {
	primary  Store
	fallback *MemoryStore
	logger   *zap.Logger
	onRoute  func(op string)

	mu       sync.Mutex
	degraded map[string]struct{}
}

func NewFailoverStore(primary Store, fallback *MemoryStore, logger *zap.Logger) (*FailoverStore, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if primary == nil {
		logger.Warn("shared session store not configured, batches are tracked in-process only")
	}

	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		degraded: make(map[string]struct{}),
	}, nil
}

// OnFallback registers a hook invoked whenever an operation is served locally
// because the shared store failed.
func (s *FailoverStore) OnFallback(fn func(op string)) {
	s.onRoute = fn
}

func (s *FailoverStore) Create(ctx context.Context, record *domain.BatchRecord) error {
	if s.primary == nil {
		return s.fallback.Create(ctx, record)
	}

	err := s.primary.Create(ctx, record)
	switch {
	case err == nil:
		return s.fallback.Save(ctx, record)
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.degrade("create", record.BatchID, err)
		return s.fallback.Create(ctx, record)
	default:
		return err
	}
}

func (s *FailoverStore) Get(ctx context.Context, batchID string) (*domain.BatchRecord, error) {
	if s.primary == nil || s.isDegraded(batchID) {
		return s.fallback.Get(ctx, batchID)
	}

	record, err := s.primary.Get(ctx, batchID)
	switch {
	case err == nil:
		if mirrorErr := s.fallback.Save(ctx, record); mirrorErr != nil {
			s.logger.Warn("failed to mirror batch record locally",
				zap.String("batchId", batchID),
				zap.Error(mirrorErr),
			)
		}
		return record, nil
	case errors.Is(err, domain.ErrBatchNotFound):
		_ = s.fallback.Delete(ctx, batchID)
		return nil, err
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.degrade("get", batchID, err)
		return s.fallback.Get(ctx, batchID)
	default:
		return nil, err
	}
}

func (s *FailoverStore) Save(ctx context.Context, record *domain.BatchRecord) error {
	if s.primary == nil || s.isDegraded(record.BatchID) {
		return s.fallback.Save(ctx, record)
	}

	err := s.primary.Save(ctx, record)
	switch {
	case err == nil:
		return s.fallback.Save(ctx, record)
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.degrade("save", record.BatchID, err)
		return s.fallback.Save(ctx, record)
	default:
		return err
	}
}

func (s *FailoverStore) Delete(ctx context.Context, batchID string) error {
	_ = s.fallback.Delete(ctx, batchID)

	s.mu.Lock()
	delete(s.degraded, batchID)
	s.mu.Unlock()

	if s.primary == nil {
		return nil
	}
	if err := s.primary.Delete(ctx, batchID); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			// The shared copy will age out through its TTL.
			s.logger.Warn("shared session store unavailable on delete",
				zap.String("batchId", batchID),
				zap.Error(err),
			)
			s.route("delete")
			return nil
		}
		return err
	}
	return nil
}

func (s *FailoverStore) List(ctx context.Context) ([]domain.BatchRecord, error) {
	if s.primary == nil {
		return s.fallback.List(ctx)
	}

	shared, err := s.primary.List(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		s.logger.Warn("shared session store unavailable, listing local batches", zap.Error(err))
		s.route("list")
		return s.fallback.List(ctx)
	}

	s.mu.Lock()
	degraded := make(map[string]struct{}, len(s.degraded))
	for id := range s.degraded {
		degraded[id] = struct{}{}
	}
	s.mu.Unlock()

	if len(degraded) == 0 {
		return shared, nil
	}

	records := make([]domain.BatchRecord, 0, len(shared)+len(degraded))
	for _, record := range shared {
		if _, ok := degraded[record.BatchID]; !ok {
			records = append(records, record)
		}
	}
	for id := range degraded {
		local, err := s.fallback.Get(ctx, id)
		if err != nil {
			continue
		}
		records = append(records, *local)
	}
	return records, nil
}

func (s *FailoverStore) isDegraded(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.degraded[batchID]
	return ok
}

func (s *FailoverStore) degrade(op string, batchID string, cause error) {
	s.mu.Lock()
	_, already := s.degraded[batchID]
	s.degraded[batchID] = struct{}{}
	s.mu.Unlock()

	if !already {
		s.logger.Warn("shared session store unavailable, batch continues on local fallback",
			zap.String("batchId", batchID),
			zap.String("op", op),
			zap.Error(cause),
		)
	}
	s.route(op)
}

func (s *FailoverStore) route(op string) {
	if s.onRoute != nil {
		s.onRoute(op)
	}
}

// Sweep ages out local entries and forgets degraded marks for batches whose
// local copy is gone.
func (s *FailoverStore) Sweep() int {
	removed := s.fallback.Sweep()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.degraded {
		if !s.fallback.has(id) {
			delete(s.degraded, id)
		}
	}
	return removed
}
