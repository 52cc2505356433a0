package goGuard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/MrEthical07/goGuard/store/memory"
)

type failingEventStore struct {
	*memory.Store
}

func (failingEventStore) AppendEvent(context.Context, store.SecurityEvent) error {
	return errors.New("disk full")
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		eventType string
		meta      map[string]string
		want      Severity
	}{
		{EventRefreshReuse, nil, SeverityCritical},
		{EventRefreshChainRevoked, nil, SeverityCritical},
		{EventOTPLockedOut, nil, SeverityHigh},
		{EventInfrastructureUnavailable, nil, SeverityHigh},
		{EventOTPRateLimited, nil, SeverityMedium},
		{EventIdempotencyConflict, nil, SeverityMedium},
		{EventRateLimitExceeded, map[string]string{"policy": PolicyStrict}, SeverityMedium},
		{EventRateLimitExceeded, map[string]string{"policy": PolicyGlobal}, SeverityLow},
		{EventOTPSent, nil, SeverityLow},
		{"something_new", nil, SeverityLow},
	}
	for _, c := range cases {
		if got := SeverityFor(c.eventType, c.meta); got != c.want {
			t.Fatalf("SeverityFor(%s, %v) = %v, want %v", c.eventType, c.meta, got, c.want)
		}
	}
}

func TestRecordFillsFromIdentity(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := WithUserID(clientCtx(), "user-9")

	event, err := te.Security().Record(ctx, SecurityEventInput{
		Type:     EventSessionRevoked,
		Metadata: map[string]string{"reason": "logout"},
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if event.ID == "" {
		t.Fatalf("expected generated id")
	}
	if event.UserID != "user-9" || event.IP != "203.0.113.7" || event.UserAgent != "guard-test/1.0" || event.DeviceID != "device-1" {
		t.Fatalf("identity not applied: %+v", event)
	}
	if !event.OccurredAt.Equal(te.clock.Now()) {
		t.Fatalf("expected engine clock timestamp, got %v", event.OccurredAt)
	}

	explicit, err := te.Security().Record(ctx, SecurityEventInput{Type: EventSessionRevoked, UserID: "user-1", IP: "198.51.100.1"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if explicit.UserID != "user-1" || explicit.IP != "198.51.100.1" {
		t.Fatalf("explicit fields overridden: %+v", explicit)
	}
}

func TestRecordStoreFailureStillPublishes(t *testing.T) {
	pub := NewChannelPublisher(8)
	te := newTestEngine(t, nil, func(b *Builder) {
		b.WithEventStore(failingEventStore{Store: memory.New()})
		b.WithPublisher(pub)
	})

	_, err := te.Security().Record(clientCtx(), SecurityEventInput{Type: EventOTPSent})
	if !errors.Is(err, ErrInfrastructureUnavailable) {
		t.Fatalf("expected ErrInfrastructureUnavailable, got %v", err)
	}
	if te.Metrics().Value(MetricSecurityEventStoreFailure) != 1 {
		t.Fatalf("expected store failure counted")
	}

	select {
	case e := <-pub.Events():
		if e.Type != EventOTPSent {
			t.Fatalf("unexpected published event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event was not published")
	}
}

func TestRecordFailureDoesNotChangeOutcome(t *testing.T) {
	te := newTestEngine(t, nil, func(b *Builder) {
		b.WithEventStore(failingEventStore{Store: memory.New()})
	})

	if _, err := te.IssueTokens(clientCtx(), "user-1"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := te.Allow(clientCtx(), PolicyStrict, "s"); err != nil {
		t.Fatalf("allow failed: %v", err)
	}
}

func TestResolveAndQueries(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()
	rec := te.Security()

	rec.Record(ctx, SecurityEventInput{Type: EventOTPSent, UserID: "user-1"})
	high, _ := rec.Record(ctx, SecurityEventInput{Type: EventOTPLockedOut, UserID: "user-1", IP: "198.51.100.1"})
	rec.Record(ctx, SecurityEventInput{Type: EventRefreshReuse, UserID: "user-2"})

	unresolved, err := rec.Unresolved(ctx, SeverityHigh, 0)
	if err != nil {
		t.Fatalf("unresolved failed: %v", err)
	}
	if len(unresolved) != 2 {
		t.Fatalf("expected 2 high+ events, got %d", len(unresolved))
	}

	if err := rec.Resolve(ctx, high.ID, "admin"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := rec.Resolve(ctx, high.ID, "admin"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound on second resolve, got %v", err)
	}
	if err := rec.Resolve(ctx, "missing", "admin"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	bySubject, err := rec.BySubject(ctx, "user-1", time.Time{}, 0)
	if err != nil {
		t.Fatalf("by subject failed: %v", err)
	}
	if len(bySubject) != 2 {
		t.Fatalf("expected 2 events for user-1, got %d", len(bySubject))
	}

	byIP, err := rec.ByIP(ctx, "198.51.100.1", time.Time{}, 0)
	if err != nil {
		t.Fatalf("by ip failed: %v", err)
	}
	if len(byIP) != 1 || byIP[0].ID != high.ID {
		t.Fatalf("unexpected by-ip result %+v", byIP)
	}

	stats, err := rec.Stats(ctx, time.Time{}, 5)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Unresolved != 2 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.ByType[EventOTPSent] != 1 || stats.BySeverity[SeverityCritical.String()] != 1 {
		t.Fatalf("unexpected breakdown %+v", stats)
	}
}
