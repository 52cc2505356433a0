package goGuard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/stores"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/store"
)

// Engine is the request-safety and credential-lifecycle engine. It is
// created by Builder.Build, immutable afterwards and safe for concurrent
// use.
type Engine struct {
	config Config
	redis  redis.UniversalClient

	challenges store.ChallengeStore
	tokens     store.RefreshTokenStore
	events     store.SecurityEventStore
	users      store.UserDirectory

	limiter     *rate.Limiter
	otpLimiter  *limiters.OTPLimiter
	idempotency *stores.IdempotencyStore
	revocations *stores.RevocationList
	jwtManager  *jwt.Manager
	flow        flows.Service

	sender     CodeSender
	dispatcher *audit.Dispatcher
	recorder   *SecurityRecorder
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	exempt        map[string]struct{}
	replayHeaders map[string]struct{}

	lastInfraEvent infraGate
}

// Close flushes queued security events. The Redis client and stores are
// owned by the caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.dispatcher.Close()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Security returns the event recorder for read paths and custom events.
func (e *Engine) Security() *SecurityRecorder {
	if e == nil {
		return nil
	}
	return e.recorder
}

func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports security events dropped because the publish buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// Ping checks Redis and every store that can report its health.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.redis == nil {
		return ErrEngineNotReady
	}
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", ErrInfrastructureUnavailable, err)
	}

	seen := map[store.Pinger]struct{}{}
	for _, s := range []any{e.challenges, e.tokens, e.events, e.users} {
		p, ok := s.(store.Pinger)
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: store: %v", ErrInfrastructureUnavailable, err)
		}
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) logInfra(op string, err error, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+3)
	args = append(args,
		slog.String("component", "engine"),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	for _, a := range attrs {
		args = append(args, a)
	}
	e.logger.Error("infrastructure failure", args...)
}
