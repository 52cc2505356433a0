package goGuard

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited is returned when a policy window is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInfrastructureUnavailable is returned when Redis or the store cannot
	// serve a check that must not be skipped.
	ErrInfrastructureUnavailable = errors.New("infrastructure unavailable")
	// ErrUnknownPolicy is returned by Allow for a name missing from the policy table.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")

	// ErrIdempotencyConflict is returned when a key is reused with a different request.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	// ErrIdempotencyInFlight is returned while another request holds the key.
	ErrIdempotencyInFlight = errors.New("idempotent request in flight")
	// ErrIdempotencyKeyInvalid rejects empty, oversized or non-printable keys.
	ErrIdempotencyKeyInvalid = errors.New("invalid idempotency key")

	// ErrOTPVerificationFailed is wrapped by every verification failure so
	// callers can report a single outcome.
	ErrOTPVerificationFailed = errors.New("otp verification failed")
	ErrOTPNotFound           = fmt.Errorf("%w: challenge not found", ErrOTPVerificationFailed)
	ErrOTPExpired            = fmt.Errorf("%w: challenge expired", ErrOTPVerificationFailed)
	ErrOTPLockedOut          = fmt.Errorf("%w: challenge locked", ErrOTPVerificationFailed)
	ErrOTPInvalidCode        = fmt.Errorf("%w: invalid code", ErrOTPVerificationFailed)

	// ErrOTPRateLimited is returned when a send throttle is exhausted.
	ErrOTPRateLimited = errors.New("otp send rate limited")
	// ErrOTPDeliveryFailed is returned when the sender rejects a code.
	ErrOTPDeliveryFailed = errors.New("otp delivery failed")
	// ErrPhoneUnavailable is returned when the phone is confirmed on another user.
	ErrPhoneUnavailable = errors.New("phone number unavailable")
	// ErrInvalidPhone rejects numbers that do not normalize to E.164.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrRefreshInvalid is returned for unknown or malformed refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is returned for refresh tokens past their expiry.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshReuseDetected is returned when a spent token is presented.
	// The whole chain has been revoked by the time it is returned.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")
	// ErrConcurrencyConflict is returned when an optimistic update keeps losing.
	ErrConcurrencyConflict = errors.New("concurrent modification")

	// ErrEventNotFound is returned when resolving an unknown or already
	// resolved event.
	ErrEventNotFound = errors.New("security event not found")

	// ErrUnauthorized is returned by ValidateAccess.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEngineNotReady is returned by operations on a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// PublicError is the client-facing form of an error. It never carries
// internal detail.
type PublicError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stable public error codes.
const (
	CodeRateLimitExceeded     = "rate_limit_exceeded"
	CodeIdempotencyConflict   = "idempotency_key_conflict"
	CodeIdempotencyInFlight   = "idempotency_request_in_flight"
	CodeIdempotencyKeyInvalid = "idempotency_key_invalid"
	CodeOTPVerificationFailed = "otp_verification_failed"
	CodeOTPRateLimited        = "otp_rate_limited"
	CodeInvalidRequest        = "invalid_request"
	CodeUnauthorized          = "unauthorized"
	CodeNotFound              = "not_found"
	CodeTransientFailure      = "transient_failure"
	CodeServiceUnavailable    = "service_unavailable"
	CodeInternalError         = "internal_error"
)

// PublicErrorFor maps err to its stable public code and HTTP status.
// Every OTP failure, including send-side ownership, delivery and lockout
// outcomes, collapses to otp_verification_failed.
func PublicErrorFor(err error) PublicError {
	switch {
	case err == nil:
		return PublicError{Status: http.StatusOK}
	case errors.Is(err, ErrRateLimited):
		return PublicError{Status: http.StatusTooManyRequests, Code: CodeRateLimitExceeded, Message: "too many requests"}
	case errors.Is(err, ErrIdempotencyConflict):
		return PublicError{Status: http.StatusConflict, Code: CodeIdempotencyConflict, Message: "idempotency key was used with a different request"}
	case errors.Is(err, ErrIdempotencyInFlight):
		return PublicError{Status: http.StatusConflict, Code: CodeIdempotencyInFlight, Message: "a request with this idempotency key is in progress"}
	case errors.Is(err, ErrIdempotencyKeyInvalid):
		return PublicError{Status: http.StatusBadRequest, Code: CodeIdempotencyKeyInvalid, Message: "invalid idempotency key"}
	case errors.Is(err, ErrOTPRateLimited):
		return PublicError{Status: http.StatusTooManyRequests, Code: CodeOTPRateLimited, Message: "too many codes requested"}
	case errors.Is(err, ErrOTPVerificationFailed),
		errors.Is(err, ErrOTPDeliveryFailed),
		errors.Is(err, ErrPhoneUnavailable):
		return PublicError{Status: http.StatusBadRequest, Code: CodeOTPVerificationFailed, Message: "verification failed"}
	case errors.Is(err, ErrInvalidPhone):
		return PublicError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: "invalid phone number"}
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrRefreshExpired),
		errors.Is(err, ErrRefreshReuseDetected),
		errors.Is(err, ErrUnauthorized):
		return PublicError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: "unauthorized"}
	case errors.Is(err, ErrEventNotFound):
		return PublicError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "not found"}
	case errors.Is(err, ErrConcurrencyConflict):
		return PublicError{Status: http.StatusServiceUnavailable, Code: CodeTransientFailure, Message: "please retry"}
	case errors.Is(err, ErrInfrastructureUnavailable), errors.Is(err, ErrEngineNotReady):
		return PublicError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: "service unavailable"}
	default:
		return PublicError{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: "internal error"}
	}
}
