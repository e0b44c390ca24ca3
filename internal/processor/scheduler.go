package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cycler runs one processing cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (CycleStats, error)
}

// Scheduler fires a Cycler on a fixed interval from a single goroutine, so
// cycles never overlap within one process; ticks that arrive while a cycle is
// running are dropped by the ticker.
type Scheduler struct {
	interval time.Duration
	cycler   Cycler
	logger   *zap.Logger
}

func NewScheduler(interval time.Duration, cycler Cycler, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{interval: interval, cycler: cycler, logger: logger}
}

// Run starts with an immediate cycle and then one per tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if s.cycler == nil {
		return fmt.Errorf("cycler is nil")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	stats, err := s.cycler.RunCycle(ctx)
	if err != nil {
		s.logger.Error("cycle failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	if stats.Fetched == 0 {
		return
	}
	s.logger.Info("cycle complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("committed", stats.Committed),
		zap.Int("no_handler", stats.NoHandler),
		zap.Int("decode_failed", stats.DecodeFailed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("dead_lettered", stats.DeadLettered),
		zap.Bool("aborted", stats.Aborted),
		zap.Bool("interrupted", stats.Interrupted),
		zap.Duration("elapsed", time.Since(start)),
	)
}
