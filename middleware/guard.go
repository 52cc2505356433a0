package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

type accessTokenContextKey struct{}

// AccessTokenFromContext returns the token verified by Guard.
func AccessTokenFromContext(ctx context.Context) (*goGuard.AccessToken, bool) {
	at, ok := ctx.Value(accessTokenContextKey{}).(*goGuard.AccessToken)
	return at, ok
}

// Guard requires a valid, unrevoked bearer access token and sets the
// identity's user for downstream handlers.
func Guard(engine *goGuard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, goGuard.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, goGuard.ErrUnauthorized)
				return
			}

			at, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := goGuard.WithUserID(r.Context(), at.UserID)
			ctx = context.WithValue(ctx, accessTokenContextKey{}, at)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminTokenHeader carries the operator token checked by RequireAdminToken.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken compares X-Admin-Token to token in constant time. An
// empty token disables the protected routes.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				WriteError(w, goGuard.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
