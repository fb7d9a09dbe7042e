package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 20
	rateKeyPrefix            = "batch:notify-rate:"
	maxWaitStep              = 50 * time.Millisecond
	windowSeconds            = 1
)

// allowScript counts one request in the current window and reports whether
// the window is still under the limit. The key expires with its window.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fleet-wide per-second limiter on notification
// destinations, counted in fixed one-second windows. While Redis is
// unreachable it defers to the in-process fallback, so notifications are
// throttled per instance instead of failing.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	fallback    ratelimit.RateLimiter
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, fallback ratelimit.RateLimiter) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), fallback, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	fallback ratelimit.RateLimiter,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		fallback:    fallback,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, destination string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	normalized := ratelimit.NormalizeDestination(destination)
	if normalized == "" {
		return false, fmt.Errorf("destination is required")
	}

	key := fmt.Sprintf("%s%s:%d", rateKeyPrefix, normalized, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{key}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		if r.fallback != nil && ctx.Err() == nil {
			return r.fallback.Allow(ctx, normalized)
		}
		return false, fmt.Errorf("failed to evaluate rate limit for %s: %w", normalized, err)
	}

	return result == 1, nil
}

// Wait blocks until destination has capacity, polling no later than the
// start of the next window.
func (r *RedisRateLimiter) Wait(ctx context.Context, destination string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, err := r.Allow(ctx, destination)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, r.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) untilNextWindow() time.Duration {
	remaining := time.Second - time.Duration(r.now().Nanosecond())
	return min(remaining, maxWaitStep)
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
