package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
)

// RateDecision is the outcome of one counted request.
type RateDecision struct {
	Policy     string
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	Window     time.Duration
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the counter backend failed and the policy
	// admitted the request anyway.
	Degraded bool
}

// Policy returns the named policy from the configuration.
func (e *Engine) Policy(name string) (Policy, bool) {
	if e == nil {
		return Policy{}, false
	}
	p, ok := e.config.RateLimit.Policies[name]
	return p, ok
}

// Allow counts one request for subject under the named policy.
func (e *Engine) Allow(ctx context.Context, policyName, subject string) (RateDecision, error) {
	p, ok := e.Policy(policyName)
	if !ok {
		return RateDecision{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, policyName)
	}
	return e.AllowPolicy(ctx, p, subject)
}

// AllowPolicy counts one request for subject under p. A rejection is
// reported through the decision, not the error. A backend failure returns
// a degraded allow when p fails open and ErrInfrastructureUnavailable when
// it fails closed.
func (e *Engine) AllowPolicy(ctx context.Context, p Policy, subject string) (RateDecision, error) {
	if e == nil || e.limiter == nil {
		return RateDecision{}, ErrEngineNotReady
	}

	start := time.Now()
	d, err := e.limiter.Hit(ctx, p.Name, subject, p.Limit, p.Window)
	e.metrics.Observe(MetricRateLimitLatency, time.Since(start))

	if err != nil {
		if errors.Is(err, rate.ErrInvalidWindow) {
			return RateDecision{}, err
		}
		return e.limiterUnavailable(ctx, p, err)
	}

	out := RateDecision{
		Policy:     p.Name,
		Allowed:    d.Allowed,
		Count:      d.Count,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		Window:     d.Window,
		ResetAt:    d.ResetAt,
		RetryAfter: d.RetryAfter,
	}

	if out.Allowed {
		e.metricInc(MetricRateLimitAllowed)
		return out, nil
	}

	e.metricInc(MetricRateLimitRejected)
	// One event per subject and window: the first rejected request.
	if d.Count == int64(p.Limit)+1 {
		e.recorder.record(ctx, EventRateLimitExceeded, "", map[string]string{
			"policy": p.Name,
			"limit":  strconv.Itoa(p.Limit),
			"window": p.Window.String(),
		})
	}
	return out, nil
}

func (e *Engine) limiterUnavailable(ctx context.Context, p Policy, err error) (RateDecision, error) {
	e.logInfra("rate_limit", err, slog.String("policy", p.Name), slog.Bool("fail_open", p.FailOpen))
	e.recordInfra(ctx, "rate_limiter", p.Name)

	if p.FailOpen {
		e.metricInc(MetricRateLimitDegraded)
		return RateDecision{
			Policy:    p.Name,
			Allowed:   true,
			Limit:     p.Limit,
			Remaining: p.Limit,
			Window:    p.Window,
			ResetAt:   e.now().Add(p.Window),
			Degraded:  true,
		}, nil
	}

	e.metricInc(MetricRateLimitUnavailable)
	return RateDecision{Policy: p.Name, Limit: p.Limit, Window: p.Window}, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
}

// infraGate lets through at most one infrastructure event per second so an
// outage does not turn every request into a store write.
type infraGate struct {
	last atomic.Int64
}

func (g *infraGate) allow(now time.Time) bool {
	sec := now.Unix()
	prev := g.last.Load()
	if prev == sec {
		return false
	}
	return g.last.CompareAndSwap(prev, sec)
}

func (e *Engine) recordInfra(ctx context.Context, component, detail string) {
	if !e.lastInfraEvent.allow(e.now()) {
		return
	}
	meta := map[string]string{"component": component}
	if detail != "" {
		meta["detail"] = detail
	}
	e.recorder.record(ctx, EventInfrastructureUnavailable, "", meta)
}

// IsExempt reports whether a request bypasses rate limiting: OPTIONS and
// HEAD requests and the configured exempt paths with their subpaths.
func (e *Engine) IsExempt(method, path string) bool {
	if method == http.MethodOptions || method == http.MethodHead {
		return true
	}
	if e == nil {
		return false
	}
	path = strings.TrimSuffix(path, "/")
	for {
		if _, ok := e.exempt[path]; ok {
			return true
		}
		i := strings.LastIndexByte(path, '/')
		if i <= 0 {
			return false
		}
		path = path[:i]
	}
}

func exemptSet(paths []string) map[string]struct{} {
	out := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		p = strings.TrimSuffix(strings.TrimSpace(p), "/")
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}
