package goGuard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/phone"
)

// OTPSendRequest asks for a code to be sent. Empty Purpose and Channel use
// the configured defaults.
type OTPSendRequest struct {
	Phone   string
	Purpose string
	Channel string
	// UserID binds the challenge to an existing user, for adding or
	// changing a phone. Empty for login.
	UserID string
}

type OTPSendResult struct {
	Phone       string
	ChallengeID string
	ExpiresAt   time.Time
}

type OTPVerifyRequest struct {
	Phone   string
	Purpose string
	Channel string
	Code    string
}

type OTPVerifyResult struct {
	UserID      string
	Phone       string
	ChallengeID string
}

// OTPThrottleError is returned by SendOTP when a send throttle is
// exhausted. It matches ErrOTPRateLimited.
type OTPThrottleError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *OTPThrottleError) Error() string {
	return ErrOTPRateLimited.Error() + ": " + e.Scope
}

func (e *OTPThrottleError) Unwrap() error {
	return ErrOTPRateLimited
}

func (e *Engine) otpDefaults(purpose, channel string) (string, string) {
	if purpose == "" {
		purpose = e.config.OTP.DefaultPurpose
	}
	if channel == "" {
		channel = e.config.OTP.DefaultChannel
	}
	return purpose, channel
}

// SendOTP issues a fresh code for the phone/purpose/channel tuple and hands
// it to the CodeSender. A resend replaces the previous code.
func (e *Engine) SendOTP(ctx context.Context, req OTPSendRequest) (*OTPSendResult, error) {
	if e == nil || !e.flow.Initialized() {
		return nil, ErrEngineNotReady
	}
	purpose, channel := e.otpDefaults(req.Purpose, req.Channel)
	id := identityFromContext(ctx)

	res := e.flow.SendOTP(ctx, flows.OTPSendInput{
		Phone:   req.Phone,
		Purpose: purpose,
		Channel: channel,
		UserID:  req.UserID,
		IP:      id.IP,
	})

	meta := map[string]string{
		"purpose": purpose,
		"channel": channel,
	}
	if res.Phone != "" {
		meta["phone"] = phone.Mask(res.Phone)
	}

	switch res.Failure {
	case flows.OTPSendFailureNone:
		e.metricInc(MetricOTPSent)
		e.recorder.record(ctx, EventOTPSent, req.UserID, meta)
		return &OTPSendResult{
			Phone:       res.Phone,
			ChallengeID: res.ChallengeID,
			ExpiresAt:   res.ExpiresAt,
		}, nil
	case flows.OTPSendFailureInvalidPhone:
		return nil, ErrInvalidPhone
	case flows.OTPSendFailurePhoneUnavailable:
		e.recorder.record(ctx, EventPhoneUnavailable, req.UserID, meta)
		return nil, ErrPhoneUnavailable
	case flows.OTPSendFailureThrottled:
		e.metricInc(MetricOTPSendThrottled)
		meta["scope"] = res.ThrottleScope
		e.recorder.record(ctx, EventOTPRateLimited, req.UserID, meta)
		return nil, &OTPThrottleError{Scope: res.ThrottleScope, RetryAfter: res.RetryAfter}
	case flows.OTPSendFailureLocked:
		return nil, ErrOTPLockedOut
	case flows.OTPSendFailureDelivery:
		e.metricInc(MetricOTPDeliveryFailed)
		e.logger.Error("otp delivery failed",
			slog.String("component", "otp"),
			slog.String("op", "send"),
			slog.String("channel", channel),
			slog.String("error", res.Err.Error()),
		)
		e.recorder.record(ctx, EventOTPDeliveryFailed, req.UserID, meta)
		return nil, fmt.Errorf("%w: %v", ErrOTPDeliveryFailed, res.Err)
	case flows.OTPSendFailureLimiterUnavailable, flows.OTPSendFailureStore:
		e.logInfra("otp_send", res.Err)
		e.recordInfra(ctx, "otp", "send")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, res.Err)
	default:
		e.logInfra("otp_send", res.Err)
		return nil, fmt.Errorf("otp send: %w", res.Err)
	}
}

// VerifyOTP checks code against the tuple's challenge. On success the phone
// is confirmed on the owning user, which is created for a first login.
// Every rejection wraps ErrOTPVerificationFailed.
func (e *Engine) VerifyOTP(ctx context.Context, req OTPVerifyRequest) (*OTPVerifyResult, error) {
	if e == nil || !e.flow.Initialized() {
		return nil, ErrEngineNotReady
	}
	purpose, channel := e.otpDefaults(req.Purpose, req.Channel)

	res := e.flow.VerifyOTP(ctx, flows.OTPVerifyInput{
		Phone:   req.Phone,
		Purpose: purpose,
		Channel: channel,
		Code:    req.Code,
	})

	if res.Failure == flows.OTPVerifyFailureNone {
		e.metricInc(MetricOTPVerified)
		e.recorder.record(ctx, EventOTPVerified, res.UserID, map[string]string{
			"purpose": purpose,
			"channel": channel,
			"phone":   phone.Mask(res.Phone),
		})
		return &OTPVerifyResult{
			UserID:      res.UserID,
			Phone:       res.Phone,
			ChallengeID: res.ChallengeID,
		}, nil
	}

	if res.Failure == flows.OTPVerifyFailureInvalidPhone {
		return nil, ErrInvalidPhone
	}
	if res.Failure == flows.OTPVerifyFailureStore {
		e.logInfra("otp_verify", res.Err)
		e.recordInfra(ctx, "otp", "verify")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, res.Err)
	}

	e.metricInc(MetricOTPVerifyFailed)
	meta := map[string]string{
		"purpose":  purpose,
		"channel":  channel,
		"phone":    phone.Mask(res.Phone),
		"attempts": strconv.Itoa(res.Attempts),
	}

	var err error
	switch res.Failure {
	case flows.OTPVerifyFailureNotFound:
		err = ErrOTPNotFound
		meta["reason"] = "not_found"
	case flows.OTPVerifyFailureExpired:
		err = ErrOTPExpired
		meta["reason"] = "expired"
	case flows.OTPVerifyFailureLocked:
		err = ErrOTPLockedOut
		meta["reason"] = "locked"
	case flows.OTPVerifyFailurePhoneUnavailable:
		e.recorder.record(ctx, EventPhoneUnavailable, "", meta)
		return nil, ErrPhoneUnavailable
	default:
		err = ErrOTPInvalidCode
		meta["reason"] = "invalid_code"
	}

	if res.LockedNow {
		e.metricInc(MetricOTPLockedOut)
		e.recorder.record(ctx, EventOTPLockedOut, "", meta)
	} else {
		e.recorder.record(ctx, EventOTPVerifyFailed, "", meta)
	}
	return nil, err
}

// LoginWithOTP verifies the code and issues a token pair for the owning
// user.
func (e *Engine) LoginWithOTP(ctx context.Context, req OTPVerifyRequest) (*TokenPair, error) {
	v, err := e.VerifyOTP(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.IssueTokens(WithUserID(ctx, v.UserID), v.UserID)
}
