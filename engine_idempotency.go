package goGuard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/internal/stores"
)

const (
	idempotencyCommitTimeout  = 2 * time.Second
	idempotencyReleaseTimeout = 2 * time.Second
)

// IdempotentResponse is a response as stored for replay.
type IdempotentResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// IdempotencyClaim is the execution lock for one key. Release must be
// called once the handler has finished, whether or not Commit was.
type IdempotencyClaim struct {
	engine      *Engine
	key         string
	fingerprint string
	owner       string
	releaseOnce sync.Once
}

// Key returns the claimed idempotency key.
func (c *IdempotencyClaim) Key() string {
	if c == nil {
		return ""
	}
	return c.key
}

// ValidIdempotencyKey reports whether key is non-empty, at most maxLen bytes
// and printable ASCII.
func ValidIdempotencyKey(key string, maxLen int) bool {
	if key == "" || len(key) > maxLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x20 || key[i] > 0x7e {
			return false
		}
	}
	return true
}

// ClaimIdempotencyKey resolves key for a request with the given
// fingerprint. Exactly one of the results is set:
//   - a stored response to replay,
//   - a claim to execute the request under,
//   - ErrIdempotencyConflict, ErrIdempotencyInFlight or
//     ErrInfrastructureUnavailable.
func (e *Engine) ClaimIdempotencyKey(ctx context.Context, key, fingerprint string) (*IdempotencyClaim, *IdempotentResponse, error) {
	if e == nil || e.idempotency == nil {
		return nil, nil, ErrEngineNotReady
	}
	if !ValidIdempotencyKey(key, e.config.Idempotency.MaxKeyLength) {
		return nil, nil, ErrIdempotencyKeyInvalid
	}

	resp, found, err := e.lookupIdempotent(ctx, key, fingerprint)
	if err != nil || found {
		return nil, resp, err
	}

	owner, err := internal.NewLockToken()
	if err != nil {
		return nil, nil, err
	}
	ok, err := e.idempotency.Acquire(ctx, key, owner, e.config.Idempotency.LockTTL)
	if err != nil {
		e.logInfra("idempotency_acquire", err)
		e.recordInfra(ctx, "idempotency", "")
		return nil, nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	if !ok {
		e.metricInc(MetricIdempotencyInFlight)
		return nil, nil, ErrIdempotencyInFlight
	}

	claim := &IdempotencyClaim{engine: e, key: key, fingerprint: fingerprint, owner: owner}

	// The previous holder may have committed between the lookup and the
	// acquire.
	resp, found, err = e.lookupIdempotent(ctx, key, fingerprint)
	if err != nil || found {
		claim.Release(ctx)
		return nil, resp, err
	}

	e.metricInc(MetricIdempotencyClaimed)
	return claim, nil, nil
}

func (e *Engine) lookupIdempotent(ctx context.Context, key, fingerprint string) (*IdempotentResponse, bool, error) {
	rec, err := e.idempotency.Get(ctx, key)
	if err != nil {
		e.logInfra("idempotency_get", err)
		e.recordInfra(ctx, "idempotency", "")
		return nil, false, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	if rec.Fingerprint != fingerprint {
		e.metricInc(MetricIdempotencyConflict)
		e.recorder.record(ctx, EventIdempotencyConflict, "", nil)
		return nil, true, ErrIdempotencyConflict
	}

	e.metricInc(MetricIdempotencyReplayed)
	return &IdempotentResponse{
		Status:  rec.Status,
		Headers: http.Header(rec.Headers),
		Body:    rec.Body,
	}, true, nil
}

// Commit stores resp for replay when it is a 2xx response within the body
// limit. Other responses are not stored so the client can retry. Commit
// reports whether the record was written. The write outlives cancellation
// of ctx: a client that disconnected after the side effect still gets the
// stored response on retry.
func (c *IdempotencyClaim) Commit(ctx context.Context, resp IdempotentResponse) (bool, error) {
	if c == nil || c.engine == nil {
		return false, ErrEngineNotReady
	}
	e := c.engine
	if resp.Status < 200 || resp.Status > 299 {
		return false, nil
	}
	if len(resp.Body) > e.config.Idempotency.MaxResponseBodyBytes {
		return false, nil
	}

	headers := make(map[string][]string)
	for name, values := range resp.Headers {
		canonical := http.CanonicalHeaderKey(name)
		if _, ok := e.replayHeaders[canonical]; ok {
			headers[canonical] = append([]string(nil), values...)
		}
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyCommitTimeout)
	defer cancel()
	stored, err := e.idempotency.Save(sctx, c.key, &stores.IdempotencyRecord{
		Fingerprint: c.fingerprint,
		Status:      resp.Status,
		Headers:     headers,
		Body:        resp.Body,
		CreatedAt:   e.now().UTC(),
	}, e.config.Idempotency.RecordTTL)
	if err != nil {
		e.logInfra("idempotency_commit", err)
		return false, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	if stored {
		e.metricInc(MetricIdempotencyStored)
	}
	return stored, nil
}

// Release drops the execution lock. It is safe to call more than once and
// runs even when ctx is already cancelled.
func (c *IdempotencyClaim) Release(ctx context.Context) {
	if c == nil || c.engine == nil {
		return
	}
	c.releaseOnce.Do(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyReleaseTimeout)
		defer cancel()
		if err := c.engine.idempotency.Release(rctx, c.key, c.owner); err != nil {
			// The lock still expires after LockTTL.
			c.engine.logInfra("idempotency_release", err)
		}
	})
}

// RequestFingerprint identifies a request for idempotency comparison:
// sha256 over method, path, sorted query, subject and the body digest,
// newline-joined.
func RequestFingerprint(method, path, rawQuery, subject string, body []byte) string {
	query := rawQuery
	if values, err := url.ParseQuery(rawQuery); err == nil {
		query = values.Encode()
	}

	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		query,
		subject,
		internal.HashValue(body),
	}, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
