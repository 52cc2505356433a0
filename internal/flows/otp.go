package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/phone"
	"github.com/MrEthical07/goGuard/store"
)

// OTPSendFailureKind classifies send failures for root-level mapping.
type OTPSendFailureKind int

const (
	OTPSendFailureNone OTPSendFailureKind = iota
	OTPSendFailureInvalidPhone
	OTPSendFailurePhoneUnavailable
	OTPSendFailureThrottled
	OTPSendFailureLimiterUnavailable
	OTPSendFailureGenerate
	OTPSendFailureLocked
	OTPSendFailureStore
	OTPSendFailureDelivery
)

// OTPVerifyFailureKind classifies verify failures for root-level mapping.
type OTPVerifyFailureKind int

const (
	OTPVerifyFailureNone OTPVerifyFailureKind = iota
	OTPVerifyFailureInvalidPhone
	OTPVerifyFailureNotFound
	OTPVerifyFailureExpired
	OTPVerifyFailureLocked
	OTPVerifyFailureInvalidCode
	OTPVerifyFailurePhoneUnavailable
	OTPVerifyFailureStore
)

type OTPSendInput struct {
	Phone   string
	Purpose string
	Channel string
	UserID  string
	IP      string
}

type OTPSendResult struct {
	Failure       OTPSendFailureKind
	Err           error
	Phone         string
	ChallengeID   string
	ExpiresAt     time.Time
	ThrottleScope string
	RetryAfter    time.Duration
}

type OTPVerifyInput struct {
	Phone   string
	Purpose string
	Channel string
	Code    string
}

type OTPVerifyResult struct {
	Failure     OTPVerifyFailureKind
	Err         error
	Phone       string
	ChallengeID string
	UserID      string
	Attempts    int
	LockedNow   bool
}

type OTPSendLimiter interface {
	CheckSend(ctx context.Context, phone, purpose, channel, ip string) error
}

type CodeHasher interface {
	Hash(code string) (string, error)
	Verify(code, encoded string) (bool, error)
}

// OTPDeps captures OTP send and verify dependencies.
type OTPDeps struct {
	CountryCode     string
	CodeDigits      int
	CodeTTL         time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration

	Now          func() time.Time
	GenerateCode func(int) (string, error)
	Deliver      func(ctx context.Context, phone, channel, purpose, code string, expiresAt time.Time) error

	Limiter    OTPSendLimiter
	Hasher     CodeHasher
	Challenges store.ChallengeStore
	Users      store.UserDirectory
}

// RunSendOTP validates the destination, throttles, stores a fresh salted
// code hash on the tuple's single row and hands the plaintext to Deliver.
func RunSendOTP(ctx context.Context, in OTPSendInput, deps OTPDeps) OTPSendResult {
	normalized, err := phone.Normalize(in.Phone, deps.CountryCode)
	if err != nil {
		return OTPSendResult{Failure: OTPSendFailureInvalidPhone, Err: err}
	}

	if in.UserID != "" && deps.Users != nil {
		owner, found, err := deps.Users.PhoneOwner(ctx, normalized)
		if err != nil {
			return OTPSendResult{Failure: OTPSendFailureStore, Err: err, Phone: normalized}
		}
		if found && owner != in.UserID {
			return OTPSendResult{Failure: OTPSendFailurePhoneUnavailable, Err: store.ErrPhoneTaken, Phone: normalized}
		}
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckSend(ctx, normalized, in.Purpose, in.Channel, in.IP); err != nil {
			var throttle *limiters.ThrottleError
			if errors.As(err, &throttle) {
				return OTPSendResult{
					Failure:       OTPSendFailureThrottled,
					Err:           err,
					Phone:         normalized,
					ThrottleScope: throttle.Scope,
					RetryAfter:    throttle.RetryAfter,
				}
			}
			return OTPSendResult{Failure: OTPSendFailureLimiterUnavailable, Err: err, Phone: normalized}
		}
	}

	code, err := deps.GenerateCode(deps.CodeDigits)
	if err != nil {
		return OTPSendResult{Failure: OTPSendFailureGenerate, Err: err, Phone: normalized}
	}
	codeHash, err := deps.Hasher.Hash(code)
	if err != nil {
		return OTPSendResult{Failure: OTPSendFailureGenerate, Err: err, Phone: normalized}
	}

	now := deps.Now()
	challenge, err := deps.Challenges.UpsertChallenge(ctx, store.OTPChallenge{
		Phone:     normalized,
		Purpose:   in.Purpose,
		Channel:   in.Channel,
		CodeHash:  codeHash,
		UserID:    in.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(deps.CodeTTL),
	})
	if err != nil {
		if errors.Is(err, store.ErrChallengeLocked) {
			return OTPSendResult{Failure: OTPSendFailureLocked, Err: err, Phone: normalized}
		}
		return OTPSendResult{Failure: OTPSendFailureStore, Err: err, Phone: normalized}
	}

	if err := deps.Deliver(ctx, normalized, in.Channel, in.Purpose, code, challenge.ExpiresAt); err != nil {
		return OTPSendResult{
			Failure:     OTPSendFailureDelivery,
			Err:         err,
			Phone:       normalized,
			ChallengeID: challenge.ID,
		}
	}

	return OTPSendResult{
		Phone:       normalized,
		ChallengeID: challenge.ID,
		ExpiresAt:   challenge.ExpiresAt,
	}
}

// RunVerifyOTP checks code against the tuple's challenge. A match is
// terminal and confirms the phone on the owning user, creating the user
// for a first login.
func RunVerifyOTP(ctx context.Context, in OTPVerifyInput, deps OTPDeps) OTPVerifyResult {
	normalized, err := phone.Normalize(in.Phone, deps.CountryCode)
	if err != nil {
		return OTPVerifyResult{Failure: OTPVerifyFailureInvalidPhone, Err: err}
	}

	challenge, err := deps.Challenges.LatestChallenge(ctx, normalized, in.Purpose, in.Channel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return OTPVerifyResult{Failure: OTPVerifyFailureNotFound, Err: err, Phone: normalized}
		}
		return OTPVerifyResult{Failure: OTPVerifyFailureStore, Err: err, Phone: normalized}
	}

	base := OTPVerifyResult{Phone: normalized, ChallengeID: challenge.ID, Attempts: challenge.Attempts}
	now := deps.Now()

	switch challenge.Status(now, deps.MaxAttempts) {
	case store.ChallengeVerified:
		base.Failure = OTPVerifyFailureNotFound
		return base
	case store.ChallengeLocked:
		base.Failure = OTPVerifyFailureLocked
		return base
	case store.ChallengeExpired:
		base.Failure = OTPVerifyFailureExpired
		return base
	}

	match := false
	if len(in.Code) == deps.CodeDigits {
		match, err = deps.Hasher.Verify(in.Code, challenge.CodeHash)
		if err != nil {
			base.Failure = OTPVerifyFailureStore
			base.Err = err
			return base
		}
	}

	if !match {
		attempts, locked, err := deps.Challenges.RecordFailedAttempt(ctx, challenge.ID, deps.MaxAttempts, now.Add(deps.LockoutDuration))
		switch {
		case errors.Is(err, store.ErrNotFound):
			base.Failure = OTPVerifyFailureNotFound
			return base
		case err != nil:
			base.Failure = OTPVerifyFailureStore
			base.Err = err
			return base
		}
		base.Failure = OTPVerifyFailureInvalidCode
		base.Attempts = attempts
		base.LockedNow = locked
		return base
	}

	// Guarded by the hash just compared so a concurrent resend is not
	// verified with the superseded code.
	if err := deps.Challenges.MarkChallengeVerified(ctx, challenge.ID, challenge.CodeHash, deps.MaxAttempts, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			base.Failure = OTPVerifyFailureNotFound
			return base
		}
		base.Failure = OTPVerifyFailureStore
		base.Err = err
		return base
	}

	userID := challenge.UserID
	if userID == "" {
		userID, err = deps.Users.FindOrCreateByPhone(ctx, normalized, now)
		if err != nil {
			base.Failure = OTPVerifyFailureStore
			base.Err = err
			return base
		}
	}
	if err := deps.Users.ConfirmPhone(ctx, userID, normalized, now); err != nil {
		if errors.Is(err, store.ErrPhoneTaken) {
			base.Failure = OTPVerifyFailurePhoneUnavailable
			base.Err = err
			return base
		}
		base.Failure = OTPVerifyFailureStore
		base.Err = err
		return base
	}

	base.UserID = userID
	return base
}
