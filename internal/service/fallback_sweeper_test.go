package service

import (
	"context"
	"testing"
	"time"
)

func TestFallbackSweeperSweepOnce(t *testing.T) {
	t.Parallel()

	calls := map[string]int{}
	sweeper, err := NewFallbackSweeper(map[string]Sweeper{
		"store":    SweeperFunc(func() int { calls["store"]++; return 2 }),
		"failover": SweeperFunc(func() int { calls["failover"]++; return 1 }),
	}, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewFallbackSweeper() error = %v", err)
	}

	if got := sweeper.SweepOnce(); got != 3 {
		t.Fatalf("SweepOnce() = %d, want 3", got)
	}
	if calls["store"] != 1 || calls["failover"] != 1 {
		t.Fatalf("calls = %v", calls)
	}
}

func TestFallbackSweeperStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	swept := make(chan struct{}, 10)
	sweeper, err := NewFallbackSweeper(map[string]Sweeper{
		"store": SweeperFunc(func() int {
			swept <- struct{}{}
			return 0
		}),
	}, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewFallbackSweeper() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestNewFallbackSweeperRequiresSweepers(t *testing.T) {
	t.Parallel()

	if _, err := NewFallbackSweeper(nil, time.Second, nil); err == nil {
		t.Fatal("expected error")
	}
}
