package goGuard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

func issuePair(t *testing.T, te *testEngine, userID string) *TokenPair {
	t.Helper()

	pair, err := te.IssueTokens(clientCtx(), userID)
	if err != nil {
		t.Fatalf("issue tokens failed: %v", err)
	}
	return pair
}

func TestRefreshRotationAndReuse(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()

	first := issuePair(t, te, "user-1")
	if _, err := te.ValidateAccess(ctx, first.AccessToken); err != nil {
		t.Fatalf("fresh access token rejected: %v", err)
	}

	te.clock.Advance(time.Second)
	second, err := te.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if second.UserID != "user-1" {
		t.Fatalf("expected user carried over, got %q", second.UserID)
	}

	_, err = te.Refresh(ctx, first.RefreshToken)
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected on replay, got %v", err)
	}
	if pub := PublicErrorFor(err); pub.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reuse, got %d", pub.Status)
	}

	if _, err := te.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected chain revoked after reuse, got %v", err)
	}
	if _, err := te.ValidateAccess(ctx, second.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected access token cut after reuse, got %v", err)
	}

	reuse := te.eventsOfType(EventRefreshReuse)
	if len(reuse) == 0 || reuse[0].Severity != SeverityCritical || reuse[0].UserID != "user-1" {
		t.Fatalf("expected critical reuse event for user-1, got %+v", reuse)
	}
	if len(te.eventsOfType(EventRefreshChainRevoked)) != 1 {
		t.Fatalf("expected one chain revoked event")
	}
	if te.Metrics().Value(MetricRefreshReuseDetected) != 2 {
		t.Fatalf("expected two reuse detections, got %d", te.Metrics().Value(MetricRefreshReuseDetected))
	}

	// Tokens issued after the mark are unaffected.
	te.clock.Advance(time.Second)
	fresh := issuePair(t, te, "user-1")
	if _, err := te.ValidateAccess(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("access token issued after revocation rejected: %v", err)
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	te := newTestEngine(t, nil)
	pair := issuePair(t, te, "user-1")

	const n = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)

	type outcome struct {
		pair *TokenPair
		err  error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			p, err := te.Refresh(clientCtx(), pair.RefreshToken)
			results <- outcome{pair: p, err: err}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var winner *TokenPair
	wins := 0
	for r := range results {
		switch {
		case r.err == nil:
			wins++
			winner = r.pair
		case errors.Is(r.err, ErrRefreshReuseDetected):
		default:
			t.Fatalf("unexpected refresh error: %v", r.err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	if _, err := te.Refresh(clientCtx(), winner.RefreshToken); !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected winner chain revoked, got %v", err)
	}
	if _, err := te.ValidateAccess(clientCtx(), winner.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected winner access token revoked, got %v", err)
	}
}

func TestRefreshExpiredAndInvalid(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()
	pair := issuePair(t, te, "user-1")

	for _, token := range []string{"", "short", pair.RefreshToken + "x"} {
		if _, err := te.Refresh(ctx, token); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("token %q: expected ErrRefreshInvalid, got %v", token, err)
		}
	}

	te.clock.Advance(te.Config().Tokens.RefreshTTL + time.Second)
	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("expected ErrRefreshExpired, got %v", err)
	}
	if len(te.eventsOfType(EventRefreshReuse)) != 0 {
		t.Fatalf("expiry must not be reported as reuse")
	}
}

func TestRevokeTokenIsIdempotent(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()
	pair := issuePair(t, te, "user-1")

	if err := te.RevokeToken(ctx, pair.RefreshToken, ""); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := te.RevokeToken(ctx, pair.RefreshToken, ""); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}

	events := te.eventsOfType(EventSessionRevoked)
	if len(events) != 1 || events[0].Metadata["reason"] != "logout" {
		t.Fatalf("expected one logout event, got %+v", events)
	}

	if _, err := te.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected revoked token refresh to be reuse, got %v", err)
	}
	if err := te.RevokeToken(ctx, "not-a-token", ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()

	a := issuePair(t, te, "user-1")
	b := issuePair(t, te, "user-1")
	other := issuePair(t, te, "user-2")

	n, err := te.RevokeAllForUser(ctx, "user-1", "password_change")
	if err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}

	for _, p := range []*TokenPair{a, b} {
		if _, err := te.ValidateAccess(ctx, p.AccessToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected access token revoked, got %v", err)
		}
	}
	if _, err := te.ValidateAccess(ctx, other.AccessToken); err != nil {
		t.Fatalf("other user's token rejected: %v", err)
	}
	if _, err := te.Refresh(ctx, other.RefreshToken); err != nil {
		t.Fatalf("other user's refresh failed: %v", err)
	}

	if _, err := te.RevokeAllForUser(ctx, "", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty user, got %v", err)
	}
}

func TestLoginRightAfterRevokeAll(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()

	old := issuePair(t, te, "user-1")
	if _, err := te.RevokeAllForUser(ctx, "user-1", "logout"); err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}

	te.clock.Advance(5 * time.Millisecond)
	fresh := issuePair(t, te, "user-1")
	if _, err := te.ValidateAccess(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("token issued after revocation rejected: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, old.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old token revoked, got %v", err)
	}
}

func TestValidateAccessFailsClosed(t *testing.T) {
	te := newTestEngine(t, nil)
	pair := issuePair(t, te, "user-1")

	if _, err := te.ValidateAccess(context.Background(), "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	te.mr.Close()
	if _, err := te.ValidateAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrInfrastructureUnavailable) {
		t.Fatalf("expected ErrInfrastructureUnavailable, got %v", err)
	}
}

func TestValidateAccessExpired(t *testing.T) {
	te := newTestEngine(t, nil)
	pair := issuePair(t, te, "user-1")

	te.clock.Advance(te.Config().JWT.AccessTTL + te.Config().JWT.Leeway + time.Second)
	if _, err := te.ValidateAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}
