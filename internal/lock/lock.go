package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
)

const (
	DefaultTTL         = 10 * time.Second
	DefaultMaxAttempts = 10
	DefaultRetryBase   = 50 * time.Millisecond
	maxRetryJitter     = 50 * time.Millisecond
)

// Locker is a lease-based mutual exclusion primitive keyed by string.
type Locker interface {
	// TryAcquire sets key to a fresh owner token if absent. It reports false
	// without error when another owner holds the key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	// Release deletes key only if it is still owned by token.
	Release(ctx context.Context, key string, token string) error
}

// Config bounds how long Acquirer keeps retrying a contended key.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL:         DefaultTTL,
		MaxAttempts: DefaultMaxAttempts,
		RetryBase:   DefaultRetryBase,
	}
}

// Acquirer retries Locker.TryAcquire with linear, jittered backoff.
type Acquirer struct {
	locker      Locker
	ttl         time.Duration
	maxAttempts int
	retryBase   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	randInt63n  func(n int64) int64
}

func NewAcquirer(locker Locker, cfg Config) (*Acquirer, error) {
	return newAcquirer(locker, cfg, sleepWithContext, rand.Int63n)
}

func newAcquirer(
	locker Locker,
	cfg Config,
	sleepFn func(ctx context.Context, d time.Duration) error,
	randFn func(n int64) int64,
) (*Acquirer, error) {
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}
	if randFn == nil {
		randFn = rand.Int63n
	}

	return &Acquirer{
		locker:      locker,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		sleep:       sleepFn,
		randInt63n:  randFn,
	}, nil
}

// Acquire returns an owner token for key, or domain.ErrLockBusy once every
// attempt found the key held.
func (a *Acquirer) Acquire(ctx context.Context, key string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		token, acquired, err := a.locker.TryAcquire(ctx, key, a.ttl)
		if err != nil {
			lastErr = err
		} else if acquired {
			return token, nil
		}

		if attempt == a.maxAttempts {
			break
		}
		if err := a.sleep(ctx, a.backoff(attempt)); err != nil {
			return "", fmt.Errorf("lock acquisition for %q canceled: %w", key, err)
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %q after %d attempts: %v", domain.ErrLockBusy, key, a.maxAttempts, lastErr)
	}
	return "", fmt.Errorf("%w: %q after %d attempts", domain.ErrLockBusy, key, a.maxAttempts)
}

func (a *Acquirer) Release(ctx context.Context, key string, token string) error {
	return a.locker.Release(ctx, key, token)
}

func (a *Acquirer) TTL() time.Duration { return a.ttl }

func (a *Acquirer) backoff(attempt int) time.Duration {
	delay := a.retryBase * time.Duration(attempt)
	if a.randInt63n != nil {
		delay += time.Duration(a.randInt63n(int64(maxRetryJitter) + 1))
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
