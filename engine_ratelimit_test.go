package goGuard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAllowPolicyCountsDownThenRejects(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	p := Policy{Name: "ping", Limit: 5, Window: 60 * time.Second}

	for i := 1; i <= 5; i++ {
		d, err := te.AllowPolicy(ctx, p, "client-a")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected", i)
		}
		if d.Remaining != 5-i {
			t.Fatalf("request %d expected remaining %d, got %d", i, 5-i, d.Remaining)
		}
	}

	d, err := te.AllowPolicy(ctx, p, "client-a")
	if err != nil {
		t.Fatalf("sixth request failed: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected sixth request to be rejected")
	}
	if d.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", d.Remaining)
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", d.RetryAfter)
	}

	other, err := te.AllowPolicy(ctx, p, "client-b")
	if err != nil || !other.Allowed {
		t.Fatalf("expected independent subject to be allowed, got %+v err=%v", other, err)
	}
}

func TestAllowPolicyWindowResets(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	p := Policy{Name: "ping", Limit: 1, Window: 10 * time.Second}

	if d, _ := te.AllowPolicy(ctx, p, "s"); !d.Allowed {
		t.Fatalf("expected first request allowed")
	}
	if d, _ := te.AllowPolicy(ctx, p, "s"); d.Allowed {
		t.Fatalf("expected second request rejected")
	}

	te.mr.FastForward(11 * time.Second)

	d, err := te.AllowPolicy(ctx, p, "s")
	if err != nil {
		t.Fatalf("allow after window failed: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
}

func TestAllowPolicyConcurrentExactlyLimit(t *testing.T) {
	te := newTestEngine(t, nil)
	p := Policy{Name: "burst", Limit: 20, Window: time.Minute}

	const n = 40
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			d, err := te.AllowPolicy(context.Background(), p, "shared")
			if err != nil {
				t.Errorf("allow failed: %v", err)
				return
			}
			results <- d.Allowed
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	if allowed != p.Limit {
		t.Fatalf("expected exactly %d allowed, got %d", p.Limit, allowed)
	}
}

func TestAllowRecordsOneEventPerWindow(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := clientCtx()

	for i := 0; i < 15; i++ {
		if _, err := te.Allow(ctx, PolicyStrict, "user-1"); err != nil {
			t.Fatalf("allow failed: %v", err)
		}
	}

	events := te.eventsOfType(EventRateLimitExceeded)
	if len(events) != 1 {
		t.Fatalf("expected one rate limit event, got %d", len(events))
	}
	if events[0].Severity != SeverityMedium {
		t.Fatalf("expected medium severity on strict policy, got %v", events[0].Severity)
	}
	if events[0].IP != "203.0.113.7" {
		t.Fatalf("expected ip from identity, got %q", events[0].IP)
	}
	if te.Metrics().Value(MetricRateLimitRejected) != 5 {
		t.Fatalf("expected 5 rejections, got %d", te.Metrics().Value(MetricRateLimitRejected))
	}
}

func TestAllowUnknownPolicy(t *testing.T) {
	te := newTestEngine(t, nil)
	if _, err := te.Allow(context.Background(), "nope", "s"); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestAllowRedisDownFollowsPolicy(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.mr.Close()

	d, err := te.Allow(ctx, PolicyGlobal, "s")
	if err != nil {
		t.Fatalf("fail-open policy returned error: %v", err)
	}
	if !d.Allowed || !d.Degraded {
		t.Fatalf("expected degraded allow, got %+v", d)
	}

	_, err = te.Allow(ctx, PolicyStrict, "s")
	if !errors.Is(err, ErrInfrastructureUnavailable) {
		t.Fatalf("expected ErrInfrastructureUnavailable on fail-closed policy, got %v", err)
	}

	if len(te.eventsOfType(EventInfrastructureUnavailable)) == 0 {
		t.Fatalf("expected infrastructure event")
	}
	if te.Metrics().Value(MetricRateLimitDegraded) != 1 || te.Metrics().Value(MetricRateLimitUnavailable) != 1 {
		t.Fatalf("unexpected degradation metrics: %+v", te.MetricsSnapshot().Counters)
	}
}

func TestIsExempt(t *testing.T) {
	te := newTestEngine(t, nil)

	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{"GET", "/healthz", true},
		{"GET", "/healthz/", true},
		{"GET", "/docs/index.html", true},
		{"GET", "/metrics", true},
		{"OPTIONS", "/v1/auth/otp/send", true},
		{"HEAD", "/v1/anything", true},
		{"POST", "/v1/auth/otp/send", false},
		{"GET", "/healthzz", false},
		{"GET", "/", false},
	}
	for _, c := range cases {
		if got := te.IsExempt(c.method, c.path); got != c.want {
			t.Fatalf("IsExempt(%s %s) = %v, want %v", c.method, c.path, got, c.want)
		}
	}
}
