package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

type otpSendRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
	Channel string `json:"channel"`
}

type otpVerifyRequest struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
	Channel string `json:"channel"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleOTPSend handles POST /v1/auth/otp/send.
func (s *Server) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	_, err := s.engine.SendOTP(r.Context(), goGuard.OTPSendRequest{
		Phone:   strings.TrimSpace(req.Phone),
		Purpose: req.Purpose,
		Channel: req.Channel,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOTPVerify handles POST /v1/auth/otp/verify and logs the caller in.
func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := s.engine.LoginWithOTP(r.Context(), goGuard.OTPVerifyRequest{
		Phone:   strings.TrimSpace(req.Phone),
		Code:    strings.TrimSpace(req.Code),
		Purpose: req.Purpose,
		Channel: req.Channel,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh handles POST /v1/auth/token/refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, pair)
}

// handleRevokeSession handles POST /v1/auth/sessions/revoke.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.engine.RevokeToken(r.Context(), req.RefreshToken, "logout"); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogout handles POST /v1/auth/logout. It ends every session of the
// authenticated user.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := goGuard.IdentityFromContext(r.Context())
	if _, err := s.engine.RevokeAllForUser(r.Context(), id.UserID, "logout"); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(math.Ceil(d.Seconds())), 10)
}
