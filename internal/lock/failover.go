package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"go.uber.org/zap"
)

const (
	localTokenPrefix = "local:"
	tokenSeparator   = "|"
)

// ErrNotHeld is returned when releasing a key owned by someone else or already expired.
var ErrNotHeld = errors.New("lock not held")

var _ Locker = (*FailoverLocker)(nil)

// FailoverLocker prefers the shared locker and falls back to an in-process
// one while the shared store is unreachable.
type FailoverLocker struct {
	primary  Locker
	fallback *LocalLocker
	logger   *zap.Logger
	onRoute  func()
}

func NewFailoverLocker(primary Locker, fallback *LocalLocker, logger *zap.Logger) (*FailoverLocker, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback locker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// OnFallback registers a hook invoked each time an acquisition is routed locally.
func (l *FailoverLocker) OnFallback(fn func()) {
	l.onRoute = fn
}

// TryAcquire always takes the in-process lease first so holders in this
// process exclude each other whichever store the shared lease lands on.
func (l *FailoverLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	localToken, acquired, err := l.fallback.TryAcquire(ctx, key, ttl)
	if err != nil || !acquired {
		return "", false, err
	}
	if l.primary == nil {
		return localToken, true, nil
	}

	token, acquired, err := l.primary.TryAcquire(ctx, key, ttl)
	switch {
	case err == nil && acquired:
		return localToken + tokenSeparator + token, true, nil
	case err == nil:
		l.releaseLocal(ctx, key, localToken)
		return "", false, nil
	case !errors.Is(err, domain.ErrStoreUnavailable):
		l.releaseLocal(ctx, key, localToken)
		return "", false, err
	}

	l.logger.Warn("shared lock unavailable, using local lock",
		zap.String("key", key),
		zap.Error(err),
	)
	if l.onRoute != nil {
		l.onRoute()
	}
	return localToken, true, nil
}

// Release drops the shared lease before the in-process one.
func (l *FailoverLocker) Release(ctx context.Context, key string, token string) error {
	localToken, sharedToken, shared := strings.Cut(token, tokenSeparator)
	if !shared {
		return l.fallback.Release(ctx, key, localToken)
	}

	var primaryErr error
	if l.primary != nil {
		primaryErr = l.primary.Release(ctx, key, sharedToken)
	}
	return errors.Join(primaryErr, l.fallback.Release(ctx, key, localToken))
}

func (l *FailoverLocker) releaseLocal(ctx context.Context, key string, token string) {
	if err := l.fallback.Release(ctx, key, token); err != nil {
		l.logger.Warn("local lock release failed", zap.String("key", key), zap.Error(err))
	}
}
