package goGuard

import (
	"context"
	"testing"
	"time"
)

func TestSweepKeepsLockedChallenges(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()

	sendCode(t, te, ctx, testPhone)

	const lockedPhone = "+989121234568"
	code := sendCode(t, te, ctx, lockedPhone)
	for i := 0; i < te.Config().OTP.MaxAttempts; i++ {
		te.VerifyOTP(ctx, OTPVerifyRequest{Phone: lockedPhone, Code: otherCode(code)})
	}

	te.clock.Advance(te.Config().OTP.CodeTTL + time.Second)
	report, err := te.Sweep(context.Background(), te.clock.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Challenges != 1 {
		t.Fatalf("expected only the unlocked challenge swept, got %d", report.Challenges)
	}

	te.clock.Advance(te.Config().OTP.LockoutDuration)
	report, err = te.Sweep(context.Background(), te.clock.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Challenges != 1 {
		t.Fatalf("expected locked challenge swept after lockout, got %d", report.Challenges)
	}
	if te.Metrics().Value(MetricSweepRuns) != 2 {
		t.Fatalf("expected two sweep runs counted")
	}
}

func TestSweepTokensAndResolvedEvents(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()
	cfg := te.Config()

	issuePair(t, te, "user-1")
	event, err := te.Security().Record(ctx, SecurityEventInput{Type: EventOTPLockedOut})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := te.Security().Record(ctx, SecurityEventInput{Type: EventOTPLockedOut}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := te.Security().Resolve(ctx, event.ID, "admin"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	report, err := te.Sweep(ctx, te.clock.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.RefreshTokens != 0 || report.ResolvedEvents != 0 {
		t.Fatalf("expected nothing swept yet, got %+v", report)
	}

	later := te.clock.Now().Add(cfg.Tokens.RefreshTTL + cfg.Retention.RefreshRetention + cfg.Retention.ResolvedEventRetention)
	report, err = te.Sweep(ctx, later)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.RefreshTokens != 1 {
		t.Fatalf("expected expired refresh token swept, got %d", report.RefreshTokens)
	}
	if report.ResolvedEvents != 1 {
		t.Fatalf("expected one resolved event swept, got %d", report.ResolvedEvents)
	}

	unresolved, err := te.Security().Unresolved(ctx, SeverityLow, 0)
	if err != nil {
		t.Fatalf("unresolved failed: %v", err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("expected unresolved event kept, got %d", len(unresolved))
	}
}
