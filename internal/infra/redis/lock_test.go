package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"github.com/kursadbilgin/batch-coordinator/internal/lock"
	"github.com/kursadbilgin/batch-coordinator/internal/session"
)

func TestLockerAcquireRelease(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	locker, err := NewLocker(rdb, time.Second)
	if err != nil {
		t.Fatalf("NewLocker() error = %v", err)
	}
	ctx := context.Background()
	key := session.LockKey("b1")

	token, ok, err := locker.TryAcquire(ctx, key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v, want acquired", ok, err)
	}
	if got, _ := mr.Get(key); got != token {
		t.Fatalf("stored owner = %q, want %q", got, token)
	}

	if _, ok, err := locker.TryAcquire(ctx, key, 5*time.Second); err != nil || ok {
		t.Fatalf("second TryAcquire() = %v, %v, want busy", ok, err)
	}

	if err := locker.Release(ctx, key, "not-the-owner"); !errors.Is(err, lock.ErrNotHeld) {
		t.Fatalf("Release(wrong token) error = %v, want ErrNotHeld", err)
	}
	if !mr.Exists(key) {
		t.Fatal("foreign release must not delete the lock")
	}

	if err := locker.Release(ctx, key, token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("lock key should be deleted after release")
	}
}

func TestLockerSelfHealsAfterTTL(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	locker, _ := NewLocker(rdb, time.Second)
	ctx := context.Background()
	key := session.LockKey("crashed")

	stale, ok, _ := locker.TryAcquire(ctx, key, 3*time.Second)
	if !ok {
		t.Fatal("expected first acquisition")
	}

	mr.FastForward(4 * time.Second)

	fresh, ok, err := locker.TryAcquire(ctx, key, 3*time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() after expiry = %v, %v, want acquired", ok, err)
	}
	if err := locker.Release(ctx, key, stale); !errors.Is(err, lock.ErrNotHeld) {
		t.Fatalf("stale Release() error = %v, want ErrNotHeld", err)
	}
	if err := locker.Release(ctx, key, fresh); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestLockerUnavailable(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	locker, _ := NewLocker(rdb, 200*time.Millisecond)
	mr.Close()

	_, _, err := locker.TryAcquire(context.Background(), session.LockKey("b1"), time.Second)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("TryAcquire() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestLockerWithAcquirer(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	locker, _ := NewLocker(rdb, time.Second)
	acquirer, err := lock.NewAcquirer(locker, lock.Config{TTL: time.Second, MaxAttempts: 2, RetryBase: time.Millisecond})
	if err != nil {
		t.Fatalf("NewAcquirer() error = %v", err)
	}

	ctx := context.Background()
	token, err := acquirer.Acquire(ctx, session.LockKey("b1"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := acquirer.Acquire(ctx, session.LockKey("b1")); !errors.Is(err, domain.ErrLockBusy) {
		t.Fatalf("contended Acquire() error = %v, want ErrLockBusy", err)
	}

	if err := acquirer.Release(ctx, session.LockKey("b1"), token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}
