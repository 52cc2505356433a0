// Package httpapi is the HTTP surface of guardd: OTP login, token
// rotation, logout and the security event admin endpoints, routed with
// chi.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/middleware"
)

const maxJSONBodyBytes = 64 << 10

// Options configures the router.
type Options struct {
	// AdminToken guards /v1/admin. Empty disables the admin routes.
	AdminToken string
	Logger     *slog.Logger
}

type Server struct {
	engine     *goGuard.Engine
	adminToken string
	logger     *slog.Logger
	metrics    *prometheus.PrometheusExporter
}

func New(engine *goGuard.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     engine,
		adminToken: opts.AdminToken,
		logger:     logger,
		metrics:    prometheus.NewPrometheusExporter(engine),
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	cfg := s.engine.Config()
	byPhone := middleware.KeyByPhone(cfg.OTP.DefaultCountryCode, middleware.KeyByUserOrAnonymous)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Identity(cfg.Security.TrustProxyHeaders))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.engine, goGuard.PolicyGlobal, middleware.KeyByUserOrAnonymous))

		r.Route("/auth", func(r chi.Router) {
			r.With(
				middleware.RateLimit(s.engine, goGuard.PolicyOTPSend, byPhone),
				middleware.Idempotency(s.engine),
			).Post("/otp/send", s.handleOTPSend)
			r.With(
				middleware.RateLimit(s.engine, goGuard.PolicyOTPVerify, byPhone),
				middleware.Idempotency(s.engine),
			).Post("/otp/verify", s.handleOTPVerify)
			r.With(
				middleware.RateLimit(s.engine, goGuard.PolicyTokenRefresh, middleware.KeyByUserOrAnonymous),
				middleware.Idempotency(s.engine),
			).Post("/token/refresh", s.handleRefresh)
			r.With(
				middleware.RateLimit(s.engine, goGuard.PolicyStrict, middleware.KeyStrict),
				middleware.Idempotency(s.engine),
			).Post("/sessions/revoke", s.handleRevokeSession)
			// Guard runs first so the key is scoped to the user.
			r.With(
				middleware.Guard(s.engine),
				middleware.RateLimit(s.engine, goGuard.PolicyAuthenticated, middleware.KeyByUserOrAnonymous),
				middleware.Idempotency(s.engine),
			).Post("/logout", s.handleLogout)
		})

		r.Route("/admin/security", func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(s.adminToken))
			r.Get("/events", s.handleListEvents)
			r.Get("/stats", s.handleStats)
			r.With(middleware.Idempotency(s.engine)).Post("/events/{id}/resolve", s.handleResolve)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed",
			slog.String("component", "httpapi"),
			slog.String("op", "healthz"),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, goGuard.PublicError{
			Code:    goGuard.CodeInvalidRequest,
			Message: "invalid request body",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	pub := goGuard.PublicErrorFor(err)
	if pub.Status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("component", "httpapi"),
			slog.String("op", r.Method+" "+r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	var throttle *goGuard.OTPThrottleError
	if errors.As(err, &throttle) && throttle.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(throttle.RetryAfter))
	}
	writeJSON(w, pub.Status, pub)
}
