package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

func TestUpsertChallengeResetsInPlace(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	first, err := s.UpsertChallenge(ctx, store.OTPChallenge{Phone: "+1", Purpose: "login", Channel: "sms", CodeHash: "a", CreatedAt: now, ExpiresAt: now.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, _, err := s.RecordFailedAttempt(ctx, first.ID, 5, now.Add(time.Hour)); err != nil {
		t.Fatalf("RecordFailedAttempt failed: %v", err)
	}

	second, err := s.UpsertChallenge(ctx, store.OTPChallenge{Phone: "+1", Purpose: "login", Channel: "sms", CodeHash: "b", CreatedAt: now.Add(time.Minute), ExpiresAt: now.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.ID != first.ID || second.Attempts != 0 || second.CodeHash != "b" {
		t.Fatalf("expected reset in place, got %+v", second)
	}
}

func TestUpsertChallengeRespectsLock(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	c, _ := s.UpsertChallenge(ctx, store.OTPChallenge{Phone: "+1", Purpose: "login", Channel: "sms", CodeHash: "a", CreatedAt: now, ExpiresAt: now.Add(2 * time.Minute)})
	if _, locked, _ := s.RecordFailedAttempt(ctx, c.ID, 1, now.Add(15*time.Minute)); !locked {
		t.Fatal("expected lock at attempt cap")
	}

	_, err := s.UpsertChallenge(ctx, store.OTPChallenge{Phone: "+1", Purpose: "login", Channel: "sms", CodeHash: "b", CreatedAt: now.Add(time.Minute), ExpiresAt: now.Add(3 * time.Minute)})
	if !errors.Is(err, store.ErrChallengeLocked) {
		t.Fatalf("expected ErrChallengeLocked, got %v", err)
	}

	if _, err := s.UpsertChallenge(ctx, store.OTPChallenge{Phone: "+1", Purpose: "login", Channel: "sms", CodeHash: "c", CreatedAt: now.Add(16 * time.Minute), ExpiresAt: now.Add(18 * time.Minute)}); err != nil {
		t.Fatalf("expected upsert after lock lapse, got %v", err)
	}
}

func TestMarkVerifiedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	c, _ := s.UpsertChallenge(ctx, store.OTPChallenge{Phone: "+1", Purpose: "login", Channel: "sms", CodeHash: "a", CreatedAt: now, ExpiresAt: now.Add(2 * time.Minute)})
	if err := s.MarkChallengeVerified(ctx, c.ID, "a", 5, now); err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	if err := s.MarkChallengeVerified(ctx, c.ID, "a", 5, now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second verify, got %v", err)
	}
}

func TestRotateVersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	root := store.NewRootToken("h1", "u1", "", "", now, time.Hour)
	if err := s.CreateRefreshToken(ctx, root); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := s.RotateRefreshToken(ctx, root, root.Successor("h2", "", "", now, time.Hour), now); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	err := s.RotateRefreshToken(ctx, root, root.Successor("h3", "", "", now, time.Hour), now)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on stale snapshot, got %v", err)
	}
	if _, err := s.GetRefreshToken(ctx, "h3"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("losing rotation must not insert its child")
	}

	n, err := s.RevokeChain(ctx, "h1", "reuse", now)
	if err != nil || n != 1 {
		t.Fatalf("expected one active token revoked, n=%d err=%v", n, err)
	}
	h2, _ := s.GetRefreshToken(ctx, "h2")
	if !h2.Revoked || h2.RevokedReason != "reuse" {
		t.Fatalf("expected child revoked, got %+v", h2)
	}
	h1, _ := s.GetRefreshToken(ctx, "h1")
	if h1.Revoked {
		t.Fatal("rotated ancestors are left as rotated")
	}
}

func TestEventQueries(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_ = s.AppendEvent(ctx, store.SecurityEvent{ID: "e1", Type: "a", Severity: store.SeverityLow, IP: "1.1.1.1", UserID: "u", OccurredAt: now})
	_ = s.AppendEvent(ctx, store.SecurityEvent{ID: "e2", Type: "b", Severity: store.SeverityHigh, IP: "1.1.1.1", OccurredAt: now.Add(time.Second)})
	_ = s.AppendEvent(ctx, store.SecurityEvent{ID: "e3", Type: "b", Severity: store.SeverityCritical, IP: "2.2.2.2", OccurredAt: now.Add(2 * time.Second)})

	high, _ := s.UnresolvedEvents(ctx, store.SeverityHigh, 10)
	if len(high) != 2 || high[0].ID != "e3" {
		t.Fatalf("unexpected unresolved high events %+v", high)
	}

	if err := s.ResolveEvent(ctx, "e3", "admin", now); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := s.ResolveEvent(ctx, "e3", "admin", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second resolve to fail, got %v", err)
	}

	byIP, _ := s.EventsByIP(ctx, "1.1.1.1", now, 10)
	if len(byIP) != 2 {
		t.Fatalf("expected two events by ip, got %d", len(byIP))
	}

	stats, _ := s.EventStats(ctx, now, 1)
	if stats.Total != 3 || stats.Unresolved != 2 || stats.ByType["b"] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.TopIPs) != 1 || stats.TopIPs[0].IP != "1.1.1.1" {
		t.Fatalf("unexpected top ips %+v", stats.TopIPs)
	}

	n, _ := s.DeleteResolvedEvents(ctx, now.Add(time.Hour))
	if n != 1 || len(s.Events()) != 2 {
		t.Fatalf("expected one resolved event deleted, n=%d", n)
	}
}

func TestConfirmPhoneOwnership(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	a, _ := s.FindOrCreateByPhone(ctx, "+1", now)
	if err := s.ConfirmPhone(ctx, a, "+1", now); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	owner, found, _ := s.PhoneOwner(ctx, "+1")
	if !found || owner != a {
		t.Fatalf("expected owner %s, got %s", a, owner)
	}

	b, _ := s.FindOrCreateByPhone(ctx, "+2", now)
	if err := s.ConfirmPhone(ctx, b, "+1", now); !errors.Is(err, store.ErrPhoneTaken) {
		t.Fatalf("expected ErrPhoneTaken, got %v", err)
	}
}
