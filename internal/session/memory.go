package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
)

const DefaultMaxAge = 24 * time.Hour

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	data      []byte
	writtenAt time.Time
}

// MemoryStore is the in-process fallback store. Records are kept encoded so
// callers never share mutable state with the map. Nothing expires on its own;
// Sweep drops entries whose last write is older than maxAge.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	maxAge  time.Duration
	now     func() time.Time
}

func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	return newMemoryStore(maxAge, time.Now)
}

func newMemoryStore(maxAge time.Duration, nowFn func() time.Time) *MemoryStore {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		maxAge:  maxAge,
		now:     nowFn,
	}
}

func (s *MemoryStore) Create(_ context.Context, record *domain.BatchRecord) error {
	data, err := domain.EncodeRecord(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[record.BatchID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, record.BatchID)
	}
	s.entries[record.BatchID] = memoryEntry{data: data, writtenAt: s.now()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, batchID string) (*domain.BatchRecord, error) {
	s.mu.Lock()
	entry, ok := s.entries[batchID]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	return domain.DecodeRecord(entry.data)
}

func (s *MemoryStore) Save(_ context.Context, record *domain.BatchRecord) error {
	data, err := domain.EncodeRecord(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[record.BatchID] = memoryEntry{data: data, writtenAt: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, batchID string) error {
	s.mu.Lock()
	delete(s.entries, batchID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.BatchRecord, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	encoded := make([][]byte, 0, len(ids))
	for _, id := range ids {
		encoded = append(encoded, s.entries[id].data)
	}
	s.mu.Unlock()

	records := make([]domain.BatchRecord, 0, len(encoded))
	for _, data := range encoded {
		record, err := domain.DecodeRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// Sweep removes entries last written more than maxAge ago and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	cutoff := s.now().Add(-s.maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if entry.writtenAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) has(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[batchID]
	return ok
}
