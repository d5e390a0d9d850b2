package syncer

import (
	"context"
	"errors"
	"time"

	"tableside/internal/logger"
	"tableside/internal/remote"
)

// Scheduler periodically triggers the engine and accepts kicks from other
// components (reconnects, user actions). It stands in for the platform
// connectivity callbacks the device does not have.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *logger.Logger
	kick     chan struct{}
}

func NewScheduler(engine *Engine, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a sync pass as soon as possible. Non-blocking; kicks
// coalesce while a pass is pending.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. Transport failures are logged and
// retried on the next tick; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx, false)
		case <-s.kick:
			s.pass(ctx, false)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context, force bool) {
	report, err := s.engine.RunSync(ctx, force)
	switch {
	case err == nil:
	case errors.Is(err, remote.ErrTransport):
		// stays queued; the next trigger retries
	case errors.Is(err, context.Canceled):
	default:
		s.log.Error("sync_pass_failed", err, nil)
	}
	if report.Claimed > 0 {
		s.log.Debug("sync_pass", map[string]any{
			"claimed": report.Claimed,
			"synced":  report.Synced,
			"failed":  report.Failed,
			"swept":   report.Swept,
		})
	}
}
