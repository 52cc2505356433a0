package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SweepReport counts rows removed by one Sweep.
type SweepReport struct {
	Challenges     int64
	RefreshTokens  int64
	ResolvedEvents int64
	Duration       time.Duration
}

// Sweep deletes expired or long-verified challenges, refresh tokens past
// their retention and old resolved events. Challenges still under lockout
// are kept. Each table is swept even when another fails; the first error
// is returned with the partial report.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	if e == nil || !e.flow.Initialized() {
		return SweepReport{}, ErrEngineNotReady
	}
	start := time.Now()
	r := e.config.Retention

	var report SweepReport
	var errs []error

	n, err := e.challenges.DeleteStaleChallenges(ctx, now, now.Add(-r.VerifiedOTPRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("challenges: %w", err))
	}
	report.Challenges = n

	n, err = e.tokens.DeleteExpiredRefreshTokens(ctx, now.Add(-r.RefreshRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("refresh tokens: %w", err))
	}
	report.RefreshTokens = n

	n, err = e.events.DeleteResolvedEvents(ctx, now.Add(-r.ResolvedEventRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("security events: %w", err))
	}
	report.ResolvedEvents = n

	report.Duration = time.Since(start)
	if len(errs) > 0 {
		err := errors.Join(errs...)
		e.logInfra("sweep", err)
		return report, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}

	e.metricInc(MetricSweepRuns)
	return report, nil
}
