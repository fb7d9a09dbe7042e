package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/batch-coordinator/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*Locker)(nil)

// Locker implements lock.Locker with SET NX PX and a compare-and-delete release.
type Locker struct {
	client    *goredis.Client
	opTimeout time.Duration
	newToken  func() string
}

func NewLocker(client *goredis.Client, opTimeout time.Duration) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}

	return &Locker{
		client:    client,
		opTimeout: opTimeout,
		newToken:  uuid.NewString,
	}, nil
}

func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	token := l.newToken()
	acquired, err := l.client.SetNX(opCtx, key, token, ttl).Result()
	if err != nil {
		return "", false, unavailable(ctx, "lock", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key string, token string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	deleted, err := releaseScript.Run(opCtx, l.client, []string{key}, token).Int()
	if err != nil {
		return unavailable(ctx, "unlock", key, err)
	}
	if deleted == 0 {
		return lock.ErrNotHeld
	}
	return nil
}
