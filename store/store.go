package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist or no longer matches
	// the guard of a conditional update.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned when an optimistic update loses to a
	// concurrent writer.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrChallengeLocked is returned by UpsertChallenge while the tuple is
	// under an attempt lockout.
	ErrChallengeLocked = errors.New("store: challenge locked")
	// ErrPhoneTaken is returned when a phone is already confirmed by another
	// user.
	ErrPhoneTaken = errors.New("store: phone taken")
)

// ChallengeStore persists OTP challenges. There is at most one row per
// phone/purpose/channel tuple; a resend resets it in place.
type ChallengeStore interface {
	// UpsertChallenge inserts c or resets the existing row for its tuple
	// (new code hash, expiry, zero attempts, cleared verification). It fails
	// with ErrChallengeLocked while locked_until is in the future.
	UpsertChallenge(ctx context.Context, c OTPChallenge) (OTPChallenge, error)
	// LatestChallenge returns the row for the tuple or ErrNotFound.
	LatestChallenge(ctx context.Context, phone, purpose, channel string) (OTPChallenge, error)
	// RecordFailedAttempt atomically increments attempts on an unverified
	// row, arming locked_until when the increment reaches maxAttempts.
	RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (attempts int, locked bool, err error)
	// MarkChallengeVerified sets verified_at if the row is still unverified,
	// unexpired, under maxAttempts and carries codeHash. Otherwise
	// ErrNotFound.
	MarkChallengeVerified(ctx context.Context, id, codeHash string, maxAttempts int, now time.Time) error
	// DeleteStaleChallenges removes rows expired before expiredBefore and
	// rows verified before verifiedBefore.
	DeleteStaleChallenges(ctx context.Context, expiredBefore, verifiedBefore time.Time) (int64, error)
}

// RefreshTokenStore persists refresh tokens keyed by hash.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, t RefreshToken) error
	GetRefreshToken(ctx context.Context, hash string) (RefreshToken, error)
	// RotateRefreshToken marks current rotated (replaced_by = next.TokenHash,
	// usage+1, version+1) if its version still equals current.Version and it
	// is neither rotated nor revoked, and inserts next in the same
	// transaction. A lost race returns ErrVersionConflict.
	RotateRefreshToken(ctx context.Context, current RefreshToken, next RefreshToken, now time.Time) error
	// RevokeRefreshToken revokes current under its version stamp.
	RevokeRefreshToken(ctx context.Context, current RefreshToken, reason string, now time.Time) error
	// RevokeChain revokes every token of chainID that is neither revoked nor
	// rotated.
	RevokeChain(ctx context.Context, chainID, reason string, now time.Time) (int64, error)
	// RevokeAllForUser revokes every active token of userID.
	RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// SecurityEventStore is the append-only event log. Resolve is the only
// mutation.
type SecurityEventStore interface {
	AppendEvent(ctx context.Context, e SecurityEvent) error
	ResolveEvent(ctx context.Context, id, resolvedBy string, now time.Time) error
	UnresolvedEvents(ctx context.Context, minSeverity Severity, limit int) ([]SecurityEvent, error)
	EventsBySubject(ctx context.Context, userID string, since time.Time, limit int) ([]SecurityEvent, error)
	EventsByIP(ctx context.Context, ip string, since time.Time, limit int) ([]SecurityEvent, error)
	EventStats(ctx context.Context, since time.Time, topN int) (EventStats, error)
	DeleteResolvedEvents(ctx context.Context, before time.Time) (int64, error)
}

// UserDirectory owns phone ownership. Only phone-identity fields are in
// scope here.
type UserDirectory interface {
	// PhoneOwner returns the user that has confirmed phone, if any.
	PhoneOwner(ctx context.Context, phone string) (userID string, found bool, err error)
	// FindOrCreateByPhone returns the user registered with phone, creating
	// one when none exists.
	FindOrCreateByPhone(ctx context.Context, phone string, now time.Time) (userID string, err error)
	// ConfirmPhone sets phone as confirmed for userID. It returns
	// ErrPhoneTaken when another user has already confirmed it.
	ConfirmPhone(ctx context.Context, userID, phone string, now time.Time) error
}

// Pinger is implemented by stores that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}
