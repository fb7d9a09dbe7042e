package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = time.Hour

// Sweeper drops stale process-local state and reports how much it removed.
type Sweeper interface {
	Sweep() int
}

type SweeperFunc func() int

func (f SweeperFunc) Sweep() int { return f() }

// FallbackSweeper periodically prunes the local fallback store and the
// failover bookkeeping that refers to it.
type FallbackSweeper struct {
	sweepers map[string]Sweeper
	interval time.Duration
	logger   *zap.Logger
}

func NewFallbackSweeper(sweepers map[string]Sweeper, interval time.Duration, logger *zap.Logger) (*FallbackSweeper, error) {
	if len(sweepers) == 0 {
		return nil, fmt.Errorf("at least one sweeper is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FallbackSweeper{
		sweepers: sweepers,
		interval: interval,
		logger:   logger,
	}, nil
}

func (s *FallbackSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs every sweeper and returns the total number of entries removed.
func (s *FallbackSweeper) SweepOnce() int {
	total := 0
	for name, sweeper := range s.sweepers {
		removed := sweeper.Sweep()
		if removed > 0 {
			s.logger.Info("fallback sweep removed stale entries",
				zap.String("sweeper", name),
				zap.Int("removed", removed),
			)
		}
		total += removed
	}
	return total
}
