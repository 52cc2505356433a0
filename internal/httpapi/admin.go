package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/store"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	defaultStatsTopN  = 10
	defaultStatsSince = 24 * time.Hour
)

var errBadQuery = errors.New("bad query")

type eventsResponse struct {
	Events []goGuard.SecurityEvent `json:"events"`
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// handleListEvents handles GET /v1/admin/security/events. Exactly one of
// unresolved=1, user_id or ip selects the query.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseSince(q.Get("since"), time.Time{})
	if err != nil {
		badQuery(w, "since must be RFC3339")
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		badQuery(w, "limit must be between 1 and 1000")
		return
	}

	rec := s.engine.Security()
	var events []goGuard.SecurityEvent
	switch {
	case q.Get("unresolved") == "1":
		events, err = rec.Unresolved(r.Context(), store.ParseSeverity(q.Get("severity")), limit)
	case q.Get("user_id") != "":
		events, err = rec.BySubject(r.Context(), q.Get("user_id"), since, limit)
	case q.Get("ip") != "":
		events, err = rec.ByIP(r.Context(), q.Get("ip"), since, limit)
	default:
		badQuery(w, "one of unresolved=1, user_id or ip is required")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []goGuard.SecurityEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

// handleStats handles GET /v1/admin/security/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseSince(q.Get("since"), time.Now().Add(-defaultStatsSince))
	if err != nil {
		badQuery(w, "since must be RFC3339")
		return
	}
	topN := defaultStatsTopN
	if v := q.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			badQuery(w, "top must be between 1 and 100")
			return
		}
		topN = n
	}

	stats, err := s.engine.Security().Stats(r.Context(), since, topN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleResolve handles POST /v1/admin/security/events/{id}/resolve. The
// body is optional.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	resolvedBy := strings.TrimSpace(req.ResolvedBy)
	if resolvedBy == "" {
		resolvedBy = "admin"
	}

	if err := s.engine.Security().Resolve(r.Context(), chi.URLParam(r, "id"), resolvedBy); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSince(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errBadQuery
	}
	return t, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultEventLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxEventLimit {
		return 0, errBadQuery
	}
	return n, nil
}

func badQuery(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, goGuard.PublicError{
		Code:    goGuard.CodeInvalidRequest,
		Message: message,
	})
}
