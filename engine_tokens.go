package goGuard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/internal/flows"
)

// TokenPair is an access token with its refresh token. RefreshToken is the
// only copy of the plaintext; the store keeps its hash.
type TokenPair struct {
	UserID           string    `json:"user_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AccessToken is a verified access token.
type AccessToken struct {
	UserID    string
	DeviceID  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (e *Engine) clientInfo(ctx context.Context) flows.ClientInfo {
	id := identityFromContext(ctx)
	return flows.ClientInfo{DeviceID: id.DeviceID, IP: id.IP}
}

func toTokenPair(p flows.TokenPair) *TokenPair {
	return &TokenPair{
		UserID:           p.UserID,
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// IssueTokens starts a new refresh chain for userID and signs an access
// token. Device and IP are taken from the context Identity.
func (e *Engine) IssueTokens(ctx context.Context, userID string) (*TokenPair, error) {
	if e == nil || !e.flow.Initialized() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUnauthorized
	}

	res := e.flow.Issue(ctx, userID, e.clientInfo(ctx))
	switch res.Failure {
	case flows.RotateFailureNone:
		e.metricInc(MetricTokensIssued)
		return toTokenPair(res.Pair), nil
	case flows.RotateFailureStore:
		e.logInfra("issue_tokens", res.Err)
		e.recordInfra(ctx, "token_store", "issue")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, res.Err)
	default:
		e.logInfra("issue_tokens", res.Err)
		return nil, fmt.Errorf("issue tokens: %w", res.Err)
	}
}

// Refresh rotates refreshToken into a new pair. A token can be rotated
// once; presenting it again, or losing a concurrent rotation, revokes the
// whole chain and returns ErrRefreshReuseDetected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || !e.flow.Initialized() {
		return nil, ErrEngineNotReady
	}

	res := e.flow.Rotate(ctx, refreshToken, e.clientInfo(ctx))
	switch res.Failure {
	case flows.RotateFailureNone:
		e.metricInc(MetricRefreshSuccess)
		return toTokenPair(res.Pair), nil
	case flows.RotateFailureInvalid:
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	case flows.RotateFailureExpired:
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshExpired
	case flows.RotateFailureReuse:
		e.handleReuse(ctx, res)
		return nil, ErrRefreshReuseDetected
	case flows.RotateFailureStore:
		e.metricInc(MetricRefreshFailure)
		e.logInfra("refresh", res.Err)
		e.recordInfra(ctx, "token_store", "rotate")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, res.Err)
	default:
		e.metricInc(MetricRefreshFailure)
		e.logInfra("refresh", res.Err)
		return nil, fmt.Errorf("refresh: %w", res.Err)
	}
}

func (e *Engine) handleReuse(ctx context.Context, res flows.RotateResult) {
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricRefreshReuseDetected)

	userID := res.Presented.UserID
	meta := map[string]string{
		"device_id":     res.Presented.DeviceID,
		"chain_revoked": strconv.FormatInt(res.ChainRevoked, 10),
	}
	if res.Presented.Revoked {
		meta["revoked_reason"] = res.Presented.RevokedReason
	}

	if res.ReuseErr != nil {
		e.logger.Error("refresh chain revocation incomplete",
			slog.String("component", "tokens"),
			slog.String("op", "reuse"),
			slog.String("user_id", userID),
			slog.String("error", res.ReuseErr.Error()),
		)
		meta["revocation_error"] = "true"
	}

	e.recorder.record(ctx, EventRefreshReuse, userID, meta)
	if res.ChainRevoked > 0 {
		e.recorder.record(ctx, EventRefreshChainRevoked, userID, map[string]string{
			"reason": flows.ReasonReuseDetected,
			"count":  strconv.FormatInt(res.ChainRevoked, 10),
		})
	}
}

// RevokeToken revokes the session behind refreshToken. Tokens already
// rotated or revoked are left as they are.
func (e *Engine) RevokeToken(ctx context.Context, refreshToken, reason string) error {
	if e == nil || !e.flow.Initialized() {
		return ErrEngineNotReady
	}
	if reason == "" {
		reason = flows.ReasonLogout
	}

	res := e.flow.Revoke(ctx, refreshToken, reason)
	switch res.Failure {
	case flows.RevokeFailureNone:
		if !res.AlreadyTerminal {
			e.metricInc(MetricSessionRevoked)
			e.recorder.record(ctx, EventSessionRevoked, res.Token.UserID, map[string]string{"reason": reason})
		}
		return nil
	case flows.RevokeFailureInvalid:
		return ErrRefreshInvalid
	case flows.RevokeFailureConflict:
		e.metricInc(MetricRefreshConcurrencyConflict)
		e.recorder.record(ctx, EventRefreshConcurrencyConflict, res.Token.UserID, map[string]string{"reason": reason})
		return ErrConcurrencyConflict
	default:
		e.logInfra("revoke_token", res.Err)
		e.recordInfra(ctx, "token_store", "revoke")
		return fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, res.Err)
	}
}

// RevokeAllForUser revokes every active refresh token of userID and voids
// its outstanding access tokens. Used for logout, password change and
// password reset.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	if e == nil || !e.flow.Initialized() {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUnauthorized
	}
	if reason == "" {
		reason = flows.ReasonLogout
	}

	n, err := e.flow.RevokeAll(ctx, userID, reason)
	if err != nil {
		e.logInfra("revoke_all", err, slog.String("user_id", userID))
		e.recordInfra(ctx, "token_store", "revoke_all")
		return n, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}

	e.metricInc(MetricSessionsRevokedAll)
	e.recorder.record(ctx, EventSessionsRevoked, userID, map[string]string{
		"reason": reason,
		"count":  strconv.FormatInt(n, 10),
	})
	return n, nil
}

// ValidateAccess verifies an access token's signature and claims and
// checks it against the user's revocation mark. A revocation list outage
// fails closed.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessToken, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrUnauthorized
	}

	at := &AccessToken{
		UserID:   claims.UID,
		DeviceID: claims.DeviceID,
		TokenID:  claims.ID,
	}
	at.IssuedAt = claims.IssuedAtTime()
	if claims.ExpiresAt != nil {
		at.ExpiresAt = claims.ExpiresAt.Time
	}

	revoked, err := e.revocations.IsRevoked(ctx, at.UserID, at.IssuedAt)
	if err != nil {
		e.logInfra("validate_access", err)
		e.recordInfra(ctx, "revocation_list", "")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err)
	}
	if revoked {
		e.metricInc(MetricAccessRevokedRejected)
		return nil, ErrUnauthorized
	}
	return at, nil
}

// revokeUserAccess voids every access token of userID issued up to now.
// The mark lives as long as an access token can.
func (e *Engine) revokeUserAccess(ctx context.Context, userID string) error {
	return e.revocations.RevokeBefore(ctx, userID, e.now(), e.jwtManager.TTL()+e.config.JWT.Leeway+time.Second)
}
