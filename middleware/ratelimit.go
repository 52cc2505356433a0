package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/phone"
)

// maxPhoneBodyBytes bounds how much of a body KeyByPhone inspects.
const maxPhoneBodyBytes = 64 << 10

// KeyFunc derives the rate limit subject for a request.
type KeyFunc func(r *http.Request) string

// KeyByUserOrAnonymous keys authenticated callers by user id and anonymous
// ones by IP plus a user agent digest.
func KeyByUserOrAnonymous(r *http.Request) string {
	id, _ := goGuard.IdentityFromContext(r.Context())
	if id.Authenticated() {
		return "user:" + id.UserID
	}
	return anonymousKey(id.IP, r.UserAgent())
}

// KeyStrict keys by user, IP and device together.
func KeyStrict(r *http.Request) string {
	id, _ := goGuard.IdentityFromContext(r.Context())
	return "strict:" + id.UserID + ":" + id.IP + ":" + id.DeviceID
}

// KeyByPhone keys by the normalized phone number in the JSON body, read
// from "phone", "phoneNumber" or "phone_number". The body is restored for
// the next handler. Requests without a usable phone use fallback.
func KeyByPhone(countryCode string, fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if raw := peekPhone(r); raw != "" {
			if normalized, err := phone.Normalize(raw, countryCode); err == nil {
				return "phone:" + normalized
			}
		}
		if fallback == nil {
			return KeyByUserOrAnonymous(r)
		}
		return fallback(r)
	}
}

func anonymousKey(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return "anon:" + ip + ":" + hex.EncodeToString(sum[:])[:16]
}

func peekPhone(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	head, err := io.ReadAll(io.LimitReader(r.Body, maxPhoneBodyBytes))
	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(head), r.Body),
		Closer: r.Body,
	}
	if err != nil {
		return ""
	}

	var fields struct {
		Phone       string `json:"phone"`
		PhoneNumber string `json:"phoneNumber"`
		PhoneSnake  string `json:"phone_number"`
	}
	if json.Unmarshal(head, &fields) != nil {
		return ""
	}
	switch {
	case fields.Phone != "":
		return fields.Phone
	case fields.PhoneNumber != "":
		return fields.PhoneNumber
	default:
		return fields.PhoneSnake
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

type rateLimitBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Policy     string `json:"policy"`
	Limit      int    `json:"limit"`
	Window     int64  `json:"window"`
	RetryAfter int64  `json:"retry_after"`
}

// RateLimit applies the named policy to every non-exempt request. Each
// decision is reported in X-RateLimit-* headers; a rejection is a 429 with
// Retry-After.
func RateLimit(engine *goGuard.Engine, policy string, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = KeyByUserOrAnonymous
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, goGuard.ErrEngineNotReady)
				return
			}
			if engine.IsExempt(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			d, err := engine.Allow(r.Context(), policy, key(r))
			if err != nil {
				if errors.Is(err, goGuard.ErrUnknownPolicy) {
					WriteError(w, errors.New("rate limit misconfigured"))
					return
				}
				WriteError(w, err)
				return
			}

			setRateHeaders(w.Header(), d)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := ceilSeconds(d.RetryAfter)
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			w.Header().Set("Cache-Control", "no-store")
			writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
				Code:       goGuard.CodeRateLimitExceeded,
				Message:    "too many requests",
				Policy:     d.Policy,
				Limit:      d.Limit,
				Window:     ceilSeconds(d.Window),
				RetryAfter: retryAfter,
			})
		})
	}
}

func setRateHeaders(h http.Header, d goGuard.RateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	h.Set("X-RateLimit-Window", strconv.FormatInt(ceilSeconds(d.Window), 10))
	h.Set("X-RateLimit-Policy", d.Policy)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
