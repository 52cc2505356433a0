package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
)

// Idempotency request and response headers.
const (
	IdempotencyKeyHeader       = "Idempotency-Key"
	LegacyIdempotencyKeyHeader = "X-Idempotency-Key"
	IdempotentReplayedHeader   = "Idempotent-Replayed"
)

type idempotencyErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Key     string `json:"key"`
}

// Idempotency runs a mutating request carrying an Idempotency-Key at most
// once per caller and key. A successful response is stored and replayed
// for retries with the same fingerprint; a retry with a different request
// is a 409. Requests without a key pass through.
func Idempotency(engine *goGuard.Engine) func(http.Handler) http.Handler {
	var cfg goGuard.IdempotencyConfig
	if engine != nil {
		cfg = engine.Config().Idempotency
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key, present := idempotencyKey(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if engine == nil {
				WriteError(w, goGuard.ErrEngineNotReady)
				return
			}
			if !goGuard.ValidIdempotencyKey(key, cfg.MaxKeyLength) {
				WriteError(w, goGuard.ErrIdempotencyKeyInvalid)
				return
			}

			body, err := readBody(w, r, cfg.MaxRequestBodyBytes)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSON(w, http.StatusRequestEntityTooLarge, goGuard.PublicError{
						Code:    goGuard.CodeInvalidRequest,
						Message: "request body too large",
					})
					return
				}
				writeJSON(w, http.StatusBadRequest, goGuard.PublicError{
					Code:    goGuard.CodeInvalidRequest,
					Message: "unreadable request body",
				})
				return
			}

			subject := KeyByUserOrAnonymous(r)
			fingerprint := goGuard.RequestFingerprint(r.Method, r.URL.Path, r.URL.RawQuery, subject, body)

			claim, replay, err := engine.ClaimIdempotencyKey(r.Context(), scopedKey(subject, key), fingerprint)
			w.Header().Set(IdempotencyKeyHeader, key)
			switch {
			case errors.Is(err, goGuard.ErrIdempotencyConflict):
				writeJSON(w, http.StatusConflict, idempotencyErrorBody{
					Code:    goGuard.CodeIdempotencyConflict,
					Message: "idempotency key was used with a different request",
					Key:     key,
				})
				return
			case errors.Is(err, goGuard.ErrIdempotencyInFlight):
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusConflict, idempotencyErrorBody{
					Code:    goGuard.CodeIdempotencyInFlight,
					Message: "a request with this idempotency key is in progress",
					Key:     key,
				})
				return
			case err != nil:
				WriteError(w, err)
				return
			case replay != nil:
				writeReplay(w, replay)
				return
			}
			defer claim.Release(r.Context())

			rec := newCaptureWriter(w, cfg.MaxResponseBodyBytes)
			next.ServeHTTP(rec, r)

			if rec.overflow {
				return
			}
			// A failed commit leaves the request retryable; the response
			// has already been sent.
			_, _ = claim.Commit(r.Context(), goGuard.IdempotentResponse{
				Status:  rec.statusCode(),
				Headers: rec.headers,
				Body:    rec.body.Bytes(),
			})
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func idempotencyKey(r *http.Request) (string, bool) {
	for _, name := range []string{IdempotencyKeyHeader, LegacyIdempotencyKeyHeader} {
		if values, ok := r.Header[name]; ok && len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// scopedKey keeps keys of different callers apart while staying within
// the key length limit.
func scopedKey(subject, key string) string {
	sum := sha256.Sum256([]byte(subject + "\n" + key))
	return hex.EncodeToString(sum[:])
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func writeReplay(w http.ResponseWriter, resp *goGuard.IdempotentResponse) {
	h := w.Header()
	for name, values := range resp.Headers {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	h.Set(IdempotentReplayedHeader, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// captureWriter forwards a response while keeping a copy for storage.
type captureWriter struct {
	http.ResponseWriter
	status   int
	headers  http.Header
	body     bytes.Buffer
	limit    int
	overflow bool
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{ResponseWriter: w, limit: limit}
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status != 0 {
		return
	}
	c.status = status
	c.headers = c.Header().Clone()
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.WriteHeader(http.StatusOK)
	}
	if !c.overflow {
		if c.body.Len()+len(p) > c.limit {
			c.overflow = true
			c.body.Reset()
		} else {
			c.body.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *captureWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
