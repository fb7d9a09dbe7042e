package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Locker = (*LocalLocker)(nil)

type localLease struct {
	token     string
	expiresAt time.Time
}

// LocalLocker is an in-process Locker with the same lease expiry semantics as
// the shared-store implementation. It only excludes callers in this process.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return newLocalLocker(time.Now)
}

func newLocalLocker(nowFn func() time.Time) *LocalLocker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &LocalLocker{
		leases: make(map[string]localLease),
		now:    nowFn,
	}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.leases[key]; ok && now.Before(lease.expiresAt) {
		return "", false, nil
	}

	token := localTokenPrefix + uuid.NewString()
	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Release(_ context.Context, key string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lease, ok := l.leases[key]
	if !ok || lease.token != token {
		return ErrNotHeld
	}
	delete(l.leases, key)
	return nil
}
