package callreq

import (
	"context"
	"time"

	"log/slog"
)

// Sweeper invokes the expiry sweep on a fixed period. Multiple sweepers may
// run against the same store without coordination; the guarded update makes
// redundant sweeps idempotent.
type Sweeper struct {
	logger      *slog.Logger
	coordinator *Coordinator
	interval    time.Duration
}

func NewSweeper(logger *slog.Logger, coordinator *Coordinator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{
		logger:      logger.With("component", "sweeper"),
		coordinator: coordinator,
		interval:    interval,
	}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.coordinator.SweepExpired(ctx)
			if err != nil {
				// Store errors are sanitized; the context is the only
				// reliable shutdown signal.
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("sweep failed", "error", err)
				continue
			}
			if count > 0 {
				s.logger.Info("expired call requests swept", "count", count)
			}
		}
	}
}
