// Package sweeper runs Engine.Sweep on a fixed interval outside the
// request path.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// Engine is the part of goGuard.Engine the sweeper drives.
type Engine interface {
	Sweep(ctx context.Context, now time.Time) (goGuard.SweepReport, error)
}

type Sweeper struct {
	engine   Engine
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(engine Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A non-positive interval disables the loop.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.engine == nil || s.interval <= 0 {
		return
	}

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and logs its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) {
	report, err := s.engine.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Error("sweep failed",
			slog.String("component", "sweeper"),
			slog.String("op", "sweep"),
			slog.String("error", err.Error()),
		)
		return
	}
	if report.Challenges+report.RefreshTokens+report.ResolvedEvents == 0 {
		return
	}
	s.logger.Info("sweep completed",
		slog.String("component", "sweeper"),
		slog.Int64("challenges", report.Challenges),
		slog.Int64("refresh_tokens", report.RefreshTokens),
		slog.Int64("resolved_events", report.ResolvedEvents),
		slog.Duration("duration", report.Duration),
	)
}
