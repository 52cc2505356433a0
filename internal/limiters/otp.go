package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
)

// Policy names used for OTP send throttles. They share the rate limiter
// key space with HTTP policies.
const (
	PolicyResendCooldown = "otp_resend_cooldown"
	PolicyPhoneHourly    = "otp_phone_hourly"
	PolicyIPHourly       = "otp_ip_hourly"
)

var (
	ErrOTPSendRateLimited    = errors.New("otp send rate limited")
	ErrOTPLimiterUnavailable = errors.New("otp limiter unavailable")
)

// ThrottleError names the exhausted budget and when it frees up.
type ThrottleError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return "otp send throttled: " + e.Scope
}

func (e *ThrottleError) Unwrap() error {
	return ErrOTPSendRateLimited
}

type OTPConfig struct {
	ResendCooldown   time.Duration
	PhoneHourlyLimit int
	IPHourlyLimit    int
}

// OTPLimiter enforces, in order: one send per cooldown for a
// phone/purpose/channel tuple, an hourly cap per phone and an hourly cap
// per client IP.
type OTPLimiter struct {
	counter *rate.Limiter
	config  OTPConfig
}

func NewOTPLimiter(counter *rate.Limiter, cfg OTPConfig) *OTPLimiter {
	return &OTPLimiter{
		counter: counter,
		config:  cfg,
	}
}

func (l *OTPLimiter) CheckSend(ctx context.Context, phone, purpose, channel, ip string) error {
	if l == nil || l.counter == nil {
		return nil
	}

	if l.config.ResendCooldown > 0 {
		if err := l.hit(ctx, PolicyResendCooldown, phone+"|"+purpose+"|"+channel, 1, l.config.ResendCooldown); err != nil {
			return err
		}
	}
	if l.config.PhoneHourlyLimit > 0 {
		if err := l.hit(ctx, PolicyPhoneHourly, phone, l.config.PhoneHourlyLimit, time.Hour); err != nil {
			return err
		}
	}
	if l.config.IPHourlyLimit > 0 && ip != "" {
		if err := l.hit(ctx, PolicyIPHourly, ip, l.config.IPHourlyLimit, time.Hour); err != nil {
			return err
		}
	}

	return nil
}

func (l *OTPLimiter) hit(ctx context.Context, policy, subject string, limit int, window time.Duration) error {
	d, err := l.counter.Hit(ctx, policy, subject, limit, window)
	if err != nil {
		return errors.Join(ErrOTPLimiterUnavailable, err)
	}
	if !d.Allowed {
		return &ThrottleError{Scope: policy, RetryAfter: d.RetryAfter}
	}
	return nil
}
