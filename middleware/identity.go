package middleware

import (
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// DeviceIDHeader carries a client-chosen device identifier.
const DeviceIDHeader = "X-Device-ID"

// Identity attaches a goGuard.Identity built from the request. Forwarding
// headers are honoured only when trustProxy is set.
func Identity(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := goGuard.IdentityFromContext(r.Context())
			id.IP = ClientIP(r, trustProxy)
			id.UserAgent = r.UserAgent()
			id.DeviceID = strings.TrimSpace(r.Header.Get(DeviceIDHeader))

			next.ServeHTTP(w, r.WithContext(goGuard.WithIdentity(r.Context(), id)))
		})
	}
}

// ClientIP returns the caller's address. With trustProxy the first
// X-Forwarded-For entry wins, then X-Real-IP.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
