package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowLua increments KEYS[1] and arms its expiry on the first hit.
// A key that survived without a TTL (manual SET, failover) is re-armed
// instead of counting forever.
// ARGV[1] = window in milliseconds
//
// Returns {count, pttl_ms}.
var fixedWindowLua = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if current == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int64
	Remaining  int
	Window     time.Duration
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests in fixed windows shared by every process that
// talks to the same Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a [Limiter]. An empty prefix defaults to "grl".
func New(redisClient redis.UniversalClient, prefix string, now func() time.Time) *Limiter {
	if prefix == "" {
		prefix = "grl"
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

// Key returns the counter key for a policy and subject.
func (l *Limiter) Key(policy, subject string) string {
	return l.prefix + ":" + policy + ":" + subject
}

// Hit counts one request against policy/subject and reports whether it is
// within limit. Backend failures return ErrRedisUnavailable and a zero
// Decision; the caller chooses how to degrade.
func (l *Limiter) Hit(ctx context.Context, policy, subject string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, ErrInvalidWindow
	}

	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1
	}

	res, err := fixedWindowLua.Run(ctx, l.redis, []string{l.Key(policy, subject)}, windowMS).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	count, pttl := res[0], res[1]
	if pttl < 0 {
		pttl = windowMS
	}
	ttl := time.Duration(pttl) * time.Millisecond

	d := Decision{
		Allowed: count <= int64(limit),
		Limit:   limit,
		Count:   count,
		Window:  window,
		ResetAt: l.now().Add(ttl),
	}
	if remaining := int64(limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		d.RetryAfter = ttl
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}

	return d, nil
}

// Enforce is Hit for callers that only need a yes/no answer.
func (l *Limiter) Enforce(ctx context.Context, policy, subject string, limit int, window time.Duration) error {
	d, err := l.Hit(ctx, policy, subject, limit, window)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return ErrRateLimited
	}
	return nil
}
