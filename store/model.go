package store

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrTokenRotated = errors.New("store: refresh token already rotated")
	ErrTokenRevoked = errors.New("store: refresh token revoked")
	ErrTokenExpired = errors.New("store: refresh token expired")
)

/*
====================================
OTP CHALLENGE
====================================
*/

type ChallengeStatus int

const (
	ChallengeActive ChallengeStatus = iota
	ChallengeVerified
	ChallengeExpired
	ChallengeLocked
)

// OTPChallenge is a pending or completed one-time-code verification. Only
// the salted hash of the code is kept.
type OTPChallenge struct {
	ID          string
	Phone       string
	Purpose     string
	Channel     string
	CodeHash    string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	VerifiedAt  time.Time
	LockedUntil time.Time
}

// Status derives the challenge state at now. Verification wins over every
// other state; an attempt cap locks even without a lock deadline.
func (c OTPChallenge) Status(now time.Time, maxAttempts int) ChallengeStatus {
	switch {
	case !c.VerifiedAt.IsZero():
		return ChallengeVerified
	case !c.LockedUntil.IsZero() && now.Before(c.LockedUntil):
		return ChallengeLocked
	case maxAttempts > 0 && c.Attempts >= maxAttempts:
		return ChallengeLocked
	case !now.Before(c.ExpiresAt):
		return ChallengeExpired
	default:
		return ChallengeActive
	}
}

/*
====================================
REFRESH TOKEN
====================================
*/

type TokenState int

const (
	TokenActive TokenState = iota
	TokenRotated
	TokenRevoked
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenRotated:
		return "rotated"
	case TokenRevoked:
		return "revoked"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// RefreshToken is a node in a rotation chain. Values are never mutated in
// place; transitions return a copy with Version advanced by one.
type RefreshToken struct {
	TokenHash      string
	UserID         string
	ChainID        string
	ParentHash     string
	ReplacedByHash string
	DeviceID       string
	IssuedIP       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastUsedAt     time.Time
	Revoked        bool
	RevokedReason  string
	RevokedAt      time.Time
	Rotated        bool
	UsageCount     int
	Version        int64
}

// NewRootToken starts a chain. The chain is identified by its root hash.
func NewRootToken(hash, userID, deviceID, ip string, now time.Time, ttl time.Duration) RefreshToken {
	return RefreshToken{
		TokenHash: hash,
		UserID:    userID,
		ChainID:   hash,
		DeviceID:  deviceID,
		IssuedIP:  ip,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Version:   1,
	}
}

// Successor builds the child minted when t is rotated.
func (t RefreshToken) Successor(hash, deviceID, ip string, now time.Time, ttl time.Duration) RefreshToken {
	if deviceID == "" {
		deviceID = t.DeviceID
	}
	return RefreshToken{
		TokenHash:  hash,
		UserID:     t.UserID,
		ChainID:    t.ChainID,
		ParentHash: t.TokenHash,
		DeviceID:   deviceID,
		IssuedIP:   ip,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Version:    1,
	}
}

func (t RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.Revoked:
		return TokenRevoked
	case t.Rotated:
		return TokenRotated
	case !now.Before(t.ExpiresAt):
		return TokenExpired
	default:
		return TokenActive
	}
}

// CanRotate reports why t cannot be exchanged, or nil.
func (t RefreshToken) CanRotate(now time.Time) error {
	switch t.State(now) {
	case TokenRevoked:
		return ErrTokenRevoked
	case TokenRotated:
		return ErrTokenRotated
	case TokenExpired:
		return ErrTokenExpired
	default:
		return nil
	}
}

// MarkRotated returns t replaced by nextHash.
func (t RefreshToken) MarkRotated(nextHash string, now time.Time) (RefreshToken, error) {
	if err := t.CanRotate(now); err != nil {
		return t, err
	}
	t.Rotated = true
	t.ReplacedByHash = nextHash
	t.UsageCount++
	t.LastUsedAt = now
	t.Version++
	return t, nil
}

// Revoke returns t revoked with reason. Rotated and revoked tokens are
// terminal; expired tokens may still be revoked.
func (t RefreshToken) Revoke(reason string, now time.Time) (RefreshToken, error) {
	switch {
	case t.Revoked:
		return t, ErrTokenRevoked
	case t.Rotated:
		return t, ErrTokenRotated
	}
	t.Revoked = true
	t.RevokedReason = reason
	t.RevokedAt = now
	t.Version++
	return t, nil
}

/*
====================================
SECURITY EVENT
====================================
*/

type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

// ParseSeverity accepts the names produced by String. Unknown names map to
// SeverityLow.
func ParseSeverity(v string) Severity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityLow
	}
}

type SecurityEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Severity   Severity          `json:"severity"`
	UserID     string            `json:"user_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	DeviceID   string            `json:"device_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy string            `json:"resolved_by,omitempty"`
}

type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

type EventStats struct {
	Since      time.Time        `json:"since"`
	Total      int64            `json:"total"`
	Unresolved int64            `json:"unresolved"`
	ByType     map[string]int64 `json:"by_type"`
	BySeverity map[string]int64 `json:"by_severity"`
	TopIPs     []IPCount        `json:"top_ips"`
}
