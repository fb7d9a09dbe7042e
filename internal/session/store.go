package session

import (
	"context"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
)

// Store persists batch records keyed by batch id.
type Store interface {
	// Create fails with domain.ErrAlreadyExists when a live record exists.
	Create(ctx context.Context, record *domain.BatchRecord) error
	// Get fails with domain.ErrBatchNotFound when no live record exists.
	Get(ctx context.Context, batchID string) (*domain.BatchRecord, error)
	// Save fully overwrites the record.
	Save(ctx context.Context, record *domain.BatchRecord) error
	// Delete is idempotent.
	Delete(ctx context.Context, batchID string) error
	List(ctx context.Context) ([]domain.BatchRecord, error)
}

const (
	KeyPrefix     = "batch:session:"
	LockKeySuffix = ":lock"
)

// Key returns the shared-store key of a batch record.
func Key(batchID string) string {
	return KeyPrefix + batchID
}

// LockKey returns the key of the lock guarding a batch record.
func LockKey(batchID string) string {
	return Key(batchID) + LockKeySuffix
}
