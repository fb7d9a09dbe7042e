package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

const defaultLimitPerSec = 20

// RateLimiter throttles follow-up actions per notification destination.
type RateLimiter interface {
	Allow(ctx context.Context, destination string) (bool, error)
	Wait(ctx context.Context, destination string) error
}

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is the in-process limiter used when no shared store is
// configured. Each destination gets its own token bucket.
type LocalRateLimiter struct {
	limitPerSec int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(limitPerSec int) *LocalRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	return &LocalRateLimiter{
		limitPerSec: limitPerSec,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, destination string) (bool, error) {
	limiter, err := l.limiter(destination)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, destination string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	limiter, err := l.limiter(destination)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiter(destination string) (*rate.Limiter, error) {
	key := NormalizeDestination(destination)
	if key == "" {
		return nil, fmt.Errorf("destination is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.limitPerSec), l.limitPerSec)
		l.limiters[key] = limiter
	}
	return limiter, nil
}

func NormalizeDestination(destination string) string {
	return strings.ToLower(strings.TrimSpace(destination))
}
