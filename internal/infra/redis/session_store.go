package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"github.com/kursadbilgin/batch-coordinator/internal/session"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSessionTTL = 24 * time.Hour
	defaultOpTimeout  = 2 * time.Second
	scanBatchSize     = 200
)

var _ session.Store = (*SessionStore)(nil)

// SessionStore keeps batch records in Redis with a fixed TTL per write.
type SessionStore struct {
	client    *goredis.Client
	ttl       time.Duration
	opTimeout time.Duration
}

func NewSessionStore(client *goredis.Client, ttl time.Duration, opTimeout time.Duration) (*SessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}

	return &SessionStore{
		client:    client,
		ttl:       ttl,
		opTimeout: opTimeout,
	}, nil
}

func (s *SessionStore) Create(ctx context.Context, record *domain.BatchRecord) error {
	data, err := domain.EncodeRecord(record)
	if err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	created, err := s.client.SetNX(opCtx, session.Key(record.BatchID), data, s.ttl).Result()
	if err != nil {
		return unavailable(ctx, "create", record.BatchID, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, record.BatchID)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, batchID string) (*domain.BatchRecord, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(opCtx, session.Key(batchID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, unavailable(ctx, "get", batchID, err)
	}

	return domain.DecodeRecord(data)
}

func (s *SessionStore) Save(ctx context.Context, record *domain.BatchRecord) error {
	data, err := domain.EncodeRecord(record)
	if err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Set(opCtx, session.Key(record.BatchID), data, s.ttl).Err(); err != nil {
		return unavailable(ctx, "save", record.BatchID, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, batchID string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(opCtx, session.Key(batchID)).Err(); err != nil {
		return unavailable(ctx, "delete", batchID, err)
	}
	return nil
}

func (s *SessionStore) List(ctx context.Context) ([]domain.BatchRecord, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(opCtx, cursor, session.KeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return nil, unavailable(ctx, "list", "*", err)
		}
		for _, key := range batch {
			if strings.HasSuffix(key, session.LockKeySuffix) {
				continue
			}
			keys = append(keys, key)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return []domain.BatchRecord{}, nil
	}

	values, err := s.client.MGet(opCtx, keys...).Result()
	if err != nil {
		return nil, unavailable(ctx, "list", "*", err)
	}

	records := make([]domain.BatchRecord, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		record, err := domain.DecodeRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}
		records = append(records, *record)
	}

	return records, nil
}

func (s *SessionStore) TTL() time.Duration { return s.ttl }

func (s *SessionStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// unavailable classifies a Redis failure as store unavailability, unless the
// caller itself gave up.
func unavailable(ctx context.Context, op string, batchID string, err error) error {
	if ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("session %s %s canceled: %w", op, batchID, ctx.Err())
	}
	return fmt.Errorf("%w: session %s %s: %v", domain.ErrStoreUnavailable, op, batchID, err)
}
