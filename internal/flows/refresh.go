package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

// Revocation reasons written to refresh_tokens.revoked_reason.
const (
	ReasonReuseDetected = "reuse_detected"
	ReasonLogout        = "logout"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureInvalid
	RotateFailureExpired
	RotateFailureReuse
	RotateFailureNextSecret
	RotateFailureStore
	RotateFailureIssueAccess
)

// RevokeFailureKind classifies single-token revocation failures.
type RevokeFailureKind int

const (
	RevokeFailureNone RevokeFailureKind = iota
	RevokeFailureInvalid
	RevokeFailureConflict
	RevokeFailureStore
)

// ClientInfo is the device context a token is issued to.
type ClientInfo struct {
	DeviceID string
	IP       string
}

// TokenPair is a freshly minted access/refresh pair. RefreshToken is the
// only copy of the plaintext.
type TokenPair struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Record           store.RefreshToken
}

type IssueResult struct {
	Failure RotateFailureKind
	Err     error
	Pair    TokenPair
}

type RotateResult struct {
	Failure RotateFailureKind
	Err     error
	// Presented is the stored row for the presented token when it was found.
	Presented store.RefreshToken
	Pair      TokenPair
	// ChainRevoked counts tokens terminated by reuse handling.
	ChainRevoked int64
	// ReuseErr is a failure while terminating the chain. The rotation has
	// already failed when it is set.
	ReuseErr error
}

type RevokeResult struct {
	Failure RevokeFailureKind
	Err     error
	Token   store.RefreshToken
	// AlreadyTerminal is set when the token was rotated or revoked before
	// this call; nothing was written.
	AlreadyTerminal bool
}

// TokenDeps captures issue, rotate and revoke dependencies.
type TokenDeps struct {
	RefreshTTL time.Duration

	Now              func() time.Time
	NewRefreshToken  func() (string, string, error)
	HashRefreshToken func(string) string
	ValidShape       func(string) bool
	IssueAccess      func(userID, deviceID string) (string, time.Time, error)
	RevokeUserAccess func(ctx context.Context, userID string) error

	Tokens store.RefreshTokenStore
}

// RunIssue starts a new chain for userID.
func RunIssue(ctx context.Context, userID string, client ClientInfo, deps TokenDeps) IssueResult {
	plain, hash, err := deps.NewRefreshToken()
	if err != nil {
		return IssueResult{Failure: RotateFailureNextSecret, Err: err}
	}

	now := deps.Now()
	root := store.NewRootToken(hash, userID, client.DeviceID, client.IP, now, deps.RefreshTTL)
	if err := deps.Tokens.CreateRefreshToken(ctx, root); err != nil {
		return IssueResult{Failure: RotateFailureStore, Err: err}
	}

	pair, err := finishPair(userID, plain, root, deps)
	if err != nil {
		return IssueResult{Failure: RotateFailureIssueAccess, Err: err}
	}
	return IssueResult{Pair: pair}
}

// RunRotate exchanges a presented refresh token for a new pair. Exactly one
// caller can rotate a given token; every other presentation, including a
// loser of a concurrent race, is treated as reuse and terminates the chain.
func RunRotate(ctx context.Context, presented string, client ClientInfo, deps TokenDeps) RotateResult {
	if deps.ValidShape != nil && !deps.ValidShape(presented) {
		return RotateResult{Failure: RotateFailureInvalid}
	}

	current, err := deps.Tokens.GetRefreshToken(ctx, deps.HashRefreshToken(presented))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RotateResult{Failure: RotateFailureInvalid, Err: err}
		}
		return RotateResult{Failure: RotateFailureStore, Err: err}
	}

	now := deps.Now()
	switch current.State(now) {
	case store.TokenRotated, store.TokenRevoked:
		return handleReuse(ctx, current, current.CanRotate(now), deps)
	case store.TokenExpired:
		return RotateResult{Failure: RotateFailureExpired, Err: store.ErrTokenExpired, Presented: current}
	}

	plain, hash, err := deps.NewRefreshToken()
	if err != nil {
		return RotateResult{Failure: RotateFailureNextSecret, Err: err, Presented: current}
	}

	next := current.Successor(hash, client.DeviceID, client.IP, now, deps.RefreshTTL)
	if err := deps.Tokens.RotateRefreshToken(ctx, current, next, now); err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			return handleReuse(ctx, current, err, deps)
		case errors.Is(err, store.ErrNotFound):
			return RotateResult{Failure: RotateFailureInvalid, Err: err, Presented: current}
		default:
			return RotateResult{Failure: RotateFailureStore, Err: err, Presented: current}
		}
	}

	pair, err := finishPair(current.UserID, plain, next, deps)
	if err != nil {
		return RotateResult{Failure: RotateFailureIssueAccess, Err: err, Presented: current}
	}
	return RotateResult{Presented: current, Pair: pair}
}

func handleReuse(ctx context.Context, current store.RefreshToken, cause error, deps TokenDeps) RotateResult {
	res := RotateResult{Failure: RotateFailureReuse, Err: cause, Presented: current}

	n, err := deps.Tokens.RevokeChain(ctx, current.ChainID, ReasonReuseDetected, deps.Now())
	res.ChainRevoked = n
	if err != nil {
		res.ReuseErr = err
		return res
	}

	// Access tokens are cut only when the chain still had a live holder or
	// the presenter lost a race for a live token.
	if (n > 0 || errors.Is(cause, store.ErrVersionConflict)) && deps.RevokeUserAccess != nil {
		if err := deps.RevokeUserAccess(ctx, current.UserID); err != nil {
			res.ReuseErr = err
		}
	}
	return res
}

// RunRevoke terminates one token under its version stamp. A conflicting
// write is re-read and retried once.
func RunRevoke(ctx context.Context, presented, reason string, deps TokenDeps) RevokeResult {
	if deps.ValidShape != nil && !deps.ValidShape(presented) {
		return RevokeResult{Failure: RevokeFailureInvalid}
	}

	hash := deps.HashRefreshToken(presented)
	for attempt := 0; attempt < 2; attempt++ {
		current, err := deps.Tokens.GetRefreshToken(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return RevokeResult{Failure: RevokeFailureInvalid, Err: err}
			}
			return RevokeResult{Failure: RevokeFailureStore, Err: err}
		}
		if current.Rotated || current.Revoked {
			return RevokeResult{Token: current, AlreadyTerminal: true}
		}

		err = deps.Tokens.RevokeRefreshToken(ctx, current, reason, deps.Now())
		switch {
		case err == nil:
			return RevokeResult{Token: current}
		case errors.Is(err, store.ErrVersionConflict):
			continue
		case errors.Is(err, store.ErrNotFound):
			return RevokeResult{Failure: RevokeFailureInvalid, Err: err, Token: current}
		default:
			return RevokeResult{Failure: RevokeFailureStore, Err: err, Token: current}
		}
	}

	return RevokeResult{Failure: RevokeFailureConflict, Err: store.ErrVersionConflict}
}

// RunRevokeAll terminates every active token of userID and cuts its
// outstanding access tokens.
func RunRevokeAll(ctx context.Context, userID, reason string, deps TokenDeps) (int64, error) {
	n, err := deps.Tokens.RevokeAllForUser(ctx, userID, reason, deps.Now())
	if err != nil {
		return 0, err
	}
	if deps.RevokeUserAccess != nil {
		if err := deps.RevokeUserAccess(ctx, userID); err != nil {
			return n, err
		}
	}
	return n, nil
}

func finishPair(userID, plain string, record store.RefreshToken, deps TokenDeps) (TokenPair, error) {
	access, accessExp, err := deps.IssueAccess(userID, record.DeviceID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		UserID:           userID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plain,
		RefreshExpiresAt: record.ExpiresAt,
		Record:           record,
	}, nil
}
