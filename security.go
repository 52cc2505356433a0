package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/store"
)

// Security event types written by the engine.
const (
	EventRateLimitExceeded          = "rate_limit_exceeded"
	EventInfrastructureUnavailable  = "infrastructure_unavailable"
	EventIdempotencyConflict        = "idempotency_key_conflict"
	EventOTPSent                    = "otp_sent"
	EventOTPRateLimited             = "otp_rate_limited"
	EventOTPDeliveryFailed          = "otp_delivery_failed"
	EventOTPVerified                = "otp_verified"
	EventOTPVerifyFailed            = "otp_verify_failed"
	EventOTPLockedOut               = "otp_locked_out"
	EventPhoneUnavailable           = "phone_unavailable"
	EventRefreshReuse               = "refresh_token_reuse"
	EventRefreshChainRevoked        = "refresh_chain_revoked"
	EventRefreshConcurrencyConflict = "refresh_concurrency_conflict"
	EventSessionRevoked             = "session_revoked"
	EventSessionsRevoked            = "sessions_revoked"
	EventRevokedAccessToken         = "revoked_access_token"
)

type (
	SecurityEvent = store.SecurityEvent
	Severity      = store.Severity
	EventStats    = store.EventStats
)

const (
	SeverityLow      = store.SeverityLow
	SeverityMedium   = store.SeverityMedium
	SeverityHigh     = store.SeverityHigh
	SeverityCritical = store.SeverityCritical
)

// SecurityEventInput is what callers pass to Record. Empty IP, UserAgent,
// DeviceID and UserID are taken from the context Identity.
type SecurityEventInput struct {
	Type      string
	UserID    string
	IP        string
	UserAgent string
	DeviceID  string
	Metadata  map[string]string
}

// SeverityFor classifies an event type. Rate-limit rejections are medium
// only on the strict policy.
func SeverityFor(eventType string, metadata map[string]string) Severity {
	switch eventType {
	case EventRefreshReuse, EventRefreshChainRevoked:
		return SeverityCritical
	case EventOTPLockedOut, EventInfrastructureUnavailable:
		return SeverityHigh
	case EventOTPRateLimited, EventOTPDeliveryFailed, EventIdempotencyConflict, EventRefreshConcurrencyConflict:
		return SeverityMedium
	case EventRateLimitExceeded:
		if metadata["policy"] == PolicyStrict {
			return SeverityMedium
		}
		return SeverityLow
	default:
		return SeverityLow
	}
}

// SecurityRecorder appends security events to the event store and queues
// them for asynchronous publishing. Recording never changes the outcome of
// the operation that triggered it.
type SecurityRecorder struct {
	events     store.SecurityEventStore
	dispatcher *audit.Dispatcher
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
	timeout    time.Duration
}

func newSecurityRecorder(events store.SecurityEventStore, dispatcher *audit.Dispatcher, logger *slog.Logger, metrics *Metrics, now func() time.Time, timeout time.Duration) *SecurityRecorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SecurityRecorder{
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		now:        now,
		timeout:    timeout,
	}
}

// Record classifies in, persists it and queues it for publishing. A store
// failure is logged, counted and returned; the event is still published.
func (r *SecurityRecorder) Record(ctx context.Context, in SecurityEventInput) (SecurityEvent, error) {
	if r == nil {
		return SecurityEvent{}, ErrEngineNotReady
	}

	id := identityFromContext(ctx)
	event := SecurityEvent{
		ID:         uuid.NewString(),
		Type:       in.Type,
		Severity:   SeverityFor(in.Type, in.Metadata),
		UserID:     firstNonEmpty(in.UserID, id.UserID),
		IP:         firstNonEmpty(in.IP, id.IP),
		UserAgent:  firstNonEmpty(in.UserAgent, id.UserAgent),
		DeviceID:   firstNonEmpty(in.DeviceID, id.DeviceID),
		Metadata:   in.Metadata,
		OccurredAt: r.now().UTC(),
	}

	// Detached so a cancelled request still leaves its trail.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	err := r.events.AppendEvent(storeCtx, event)
	cancel()
	if err != nil {
		r.metrics.Inc(MetricSecurityEventStoreFailure)
		r.logger.Error("security event not stored",
			slog.String("component", "security"),
			slog.String("op", "record"),
			slog.String("type", event.Type),
			slog.String("severity", event.Severity.String()),
			slog.String("error", err.Error()),
		)
		err = fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	} else {
		r.metrics.Inc(MetricSecurityEventRecorded)
	}

	r.dispatcher.Emit(ctx, event)
	return event, err
}

func (r *SecurityRecorder) record(ctx context.Context, eventType, userID string, metadata map[string]string) {
	_, _ = r.Record(ctx, SecurityEventInput{Type: eventType, UserID: userID, Metadata: metadata})
}

// Unresolved returns unresolved events at or above minSeverity, newest
// first. limit <= 0 returns all.
func (r *SecurityRecorder) Unresolved(ctx context.Context, minSeverity Severity, limit int) ([]SecurityEvent, error) {
	out, err := r.events.UnresolvedEvents(ctx, minSeverity, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	return out, nil
}

func (r *SecurityRecorder) BySubject(ctx context.Context, userID string, since time.Time, limit int) ([]SecurityEvent, error) {
	out, err := r.events.EventsBySubject(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	return out, nil
}

func (r *SecurityRecorder) ByIP(ctx context.Context, ip string, since time.Time, limit int) ([]SecurityEvent, error) {
	out, err := r.events.EventsByIP(ctx, ip, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	return out, nil
}

// Stats aggregates events since the given instant. topN bounds TopIPs.
func (r *SecurityRecorder) Stats(ctx context.Context, since time.Time, topN int) (EventStats, error) {
	out, err := r.events.EventStats(ctx, since, topN)
	if err != nil {
		return EventStats{}, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	return out, nil
}

// Resolve marks an event resolved by resolvedBy. Resolving twice returns
// ErrEventNotFound.
func (r *SecurityRecorder) Resolve(ctx context.Context, id, resolvedBy string) error {
	err := r.events.ResolveEvent(ctx, id, resolvedBy, r.now().UTC())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrEventNotFound
	default:
		return fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
