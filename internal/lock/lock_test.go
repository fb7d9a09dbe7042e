package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"go.uber.org/zap"
)

type fakeLocker struct {
	tryAcquireFn func(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	releaseFn    func(ctx context.Context, key string, token string) error
}

func (f *fakeLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if f.tryAcquireFn != nil {
		return f.tryAcquireFn(ctx, key, ttl)
	}
	return "token", true, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string, token string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, key, token)
	}
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestAcquirerRetriesUntilAcquired(t *testing.T) {
	t.Parallel()

	calls := 0
	locker := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			calls++
			if calls < 3 {
				return "", false, nil
			}
			return "owner-1", true, nil
		},
	}

	var delays []time.Duration
	acquirer, err := newAcquirer(locker, Config{MaxAttempts: 5, RetryBase: 10 * time.Millisecond},
		func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		func(n int64) int64 { return 0 },
	)
	if err != nil {
		t.Fatalf("newAcquirer() error = %v", err)
	}

	token, err := acquirer.Acquire(context.Background(), "batch:session:b1:lock")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if token != "owner-1" {
		t.Fatalf("token = %q, want owner-1", token)
	}
	if calls != 3 {
		t.Fatalf("TryAcquire calls = %d, want 3", calls)
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestAcquirerExhaustedReturnsLockBusy(t *testing.T) {
	t.Parallel()

	calls := 0
	locker := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			calls++
			return "", false, nil
		},
	}

	acquirer, err := newAcquirer(locker, Config{MaxAttempts: 4}, noSleep, nil)
	if err != nil {
		t.Fatalf("newAcquirer() error = %v", err)
	}

	_, err = acquirer.Acquire(context.Background(), "k")
	if !errors.Is(err, domain.ErrLockBusy) {
		t.Fatalf("Acquire() error = %v, want ErrLockBusy", err)
	}
	if calls != 4 {
		t.Fatalf("TryAcquire calls = %d, want 4", calls)
	}
}

func TestAcquirerTransportErrorsCountAsBusy(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("connection reset")
	locker := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			return "", false, storeErr
		},
	}

	acquirer, _ := newAcquirer(locker, Config{MaxAttempts: 2}, noSleep, nil)

	_, err := acquirer.Acquire(context.Background(), "k")
	if !errors.Is(err, domain.ErrLockBusy) {
		t.Fatalf("Acquire() error = %v, want ErrLockBusy", err)
	}
}

func TestAcquirerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	locker := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			return "", false, nil
		},
	}
	acquirer, _ := NewAcquirer(locker, Config{MaxAttempts: 10, RetryBase: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := acquirer.Acquire(ctx, "k")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewAcquirerDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewAcquirer(nil, Config{}); err == nil {
		t.Fatal("expected error for nil locker")
	}

	acquirer, err := NewAcquirer(&fakeLocker{}, Config{})
	if err != nil {
		t.Fatalf("NewAcquirer() error = %v", err)
	}
	if acquirer.TTL() != DefaultTTL {
		t.Fatalf("TTL = %v, want %v", acquirer.TTL(), DefaultTTL)
	}
	if acquirer.maxAttempts != DefaultMaxAttempts {
		t.Fatalf("maxAttempts = %d, want %d", acquirer.maxAttempts, DefaultMaxAttempts)
	}
}

func TestLocalLockerExclusionAndExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	locker := newLocalLocker(func() time.Time { return now })
	ctx := context.Background()

	token, ok, err := locker.TryAcquire(ctx, "k", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v, want acquired", ok, err)
	}

	if _, ok, _ := locker.TryAcquire(ctx, "k", 5*time.Second); ok {
		t.Fatal("second TryAcquire should be rejected while lease is live")
	}

	if err := locker.Release(ctx, "k", "someone-else"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release(wrong token) error = %v, want ErrNotHeld", err)
	}

	now = now.Add(6 * time.Second)
	stolen, ok, _ := locker.TryAcquire(ctx, "k", 5*time.Second)
	if !ok {
		t.Fatal("expired lease should be reclaimable")
	}

	if err := locker.Release(ctx, "k", token); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release(stale token) error = %v, want ErrNotHeld", err)
	}
	if err := locker.Release(ctx, "k", stolen); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestLocalLockerSerializesGoroutines(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	acquirer, _ := newAcquirer(locker, Config{MaxAttempts: 1000, RetryBase: time.Microsecond}, sleepWithContext, nil)

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := acquirer.Acquire(context.Background(), "shared")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			if err := acquirer.Release(context.Background(), "shared", token); err != nil {
				t.Errorf("Release() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
}

func TestFailoverLockerRoutesUnavailableToLocal(t *testing.T) {
	t.Parallel()

	primary := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			return "", false, fmt.Errorf("%w: dial tcp: refused", domain.ErrStoreUnavailable)
		},
		releaseFn: func(ctx context.Context, key string, token string) error {
			t.Fatal("primary Release should not be called for local tokens")
			return nil
		},
	}

	routed := 0
	locker, err := NewFailoverLocker(primary, NewLocalLocker(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFailoverLocker() error = %v", err)
	}
	locker.OnFallback(func() { routed++ })

	token, ok, err := locker.TryAcquire(context.Background(), "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v, want acquired locally", ok, err)
	}
	if routed != 1 {
		t.Fatalf("routed = %d, want 1", routed)
	}
	if err := locker.Release(context.Background(), "k", token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestFailoverLockerPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("WRONGTYPE")
	primary := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			return "", false, boom
		},
	}
	locker, _ := NewFailoverLocker(primary, NewLocalLocker(), nil)

	if _, _, err := locker.TryAcquire(context.Background(), "k", time.Second); !errors.Is(err, boom) {
		t.Fatalf("TryAcquire() error = %v, want %v", err, boom)
	}
}

func TestFailoverLockerWithoutPrimary(t *testing.T) {
	t.Parallel()

	locker, _ := NewFailoverLocker(nil, NewLocalLocker(), nil)
	token, ok, err := locker.TryAcquire(context.Background(), "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v, want acquired", ok, err)
	}
	if err := locker.Release(context.Background(), "k", token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestFailoverLockerExcludesHoldersAcrossRecovery(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		available bool
		released  []string
	)
	primary := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if !available {
				return "", false, fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
			}
			return "shared-1", true, nil
		},
		releaseFn: func(ctx context.Context, key string, token string) error {
			mu.Lock()
			defer mu.Unlock()
			released = append(released, token)
			return nil
		},
	}
	locker, err := NewFailoverLocker(primary, NewLocalLocker(), nil)
	if err != nil {
		t.Fatalf("NewFailoverLocker() error = %v", err)
	}

	first, ok, err := locker.TryAcquire(context.Background(), "batch:session:b1:lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryAcquire() = %v, %v, want acquired locally", ok, err)
	}

	mu.Lock()
	available = true
	mu.Unlock()

	if _, ok, err := locker.TryAcquire(context.Background(), "batch:session:b1:lock", time.Minute); err != nil || ok {
		t.Fatalf("second TryAcquire() = %v, %v, want busy while the first holder is live", ok, err)
	}
	if err := locker.Release(context.Background(), "batch:session:b1:lock", first); err != nil {
		t.Fatalf("Release(first) error = %v", err)
	}

	second, ok, err := locker.TryAcquire(context.Background(), "batch:session:b1:lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() after release = %v, %v, want acquired", ok, err)
	}
	if err := locker.Release(context.Background(), "batch:session:b1:lock", second); err != nil {
		t.Fatalf("Release(second) error = %v", err)
	}
	if len(released) != 1 || released[0] != "shared-1" {
		t.Fatalf("primary released = %v, want [shared-1]", released)
	}

	// Local lease was dropped too.
	if _, ok, _ := locker.TryAcquire(context.Background(), "batch:session:b1:lock", time.Minute); !ok {
		t.Fatal("TryAcquire() after full release = false, want true")
	}
}

func TestFailoverLockerReleasesLocalLeaseWhenSharedIsBusy(t *testing.T) {
	t.Parallel()

	busy := true
	primary := &fakeLocker{
		tryAcquireFn: func(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
			if busy {
				return "", false, nil
			}
			return "shared-2", true, nil
		},
	}
	locker, _ := NewFailoverLocker(primary, NewLocalLocker(), nil)

	if _, ok, err := locker.TryAcquire(context.Background(), "k", time.Minute); err != nil || ok {
		t.Fatalf("TryAcquire() = %v, %v, want busy", ok, err)
	}

	busy = false
	token, ok, err := locker.TryAcquire(context.Background(), "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v, want acquired once the shared lease frees", ok, err)
	}
	if err := locker.Release(context.Background(), "k", token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}
