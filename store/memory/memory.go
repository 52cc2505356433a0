// Package memory implements the goGuard store interfaces over in-process
// maps. It is intended for tests, examples and single-process development;
// state is lost on exit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
)

type challengeKey struct {
	phone, purpose, channel string
}

type user struct {
	id             string
	phone          string
	phoneConfirmed bool
	confirmedAt    time.Time
	createdAt      time.Time
}

// Store satisfies store.ChallengeStore, store.RefreshTokenStore,
// store.SecurityEventStore and store.UserDirectory.
type Store struct {
	mu sync.Mutex

	challenges   map[challengeKey]*store.OTPChallenge
	challengeIDs map[string]challengeKey
	tokens       map[string]store.RefreshToken
	events       []store.SecurityEvent
	users        map[string]*user
	usersByPhone map[string]string
}

func New() *Store {
	return &Store{
		challenges:   make(map[challengeKey]*store.OTPChallenge),
		challengeIDs: make(map[string]challengeKey),
		tokens:       make(map[string]store.RefreshToken),
		users:        make(map[string]*user),
		usersByPhone: make(map[string]string),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

/*
====================================
CHALLENGES
====================================
*/

func (s *Store) UpsertChallenge(_ context.Context, c store.OTPChallenge) (store.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := challengeKey{c.Phone, c.Purpose, c.Channel}
	if existing, ok := s.challenges[k]; ok {
		if !existing.LockedUntil.IsZero() && c.CreatedAt.Before(existing.LockedUntil) {
			return store.OTPChallenge{}, store.ErrChallengeLocked
		}
		existing.CodeHash = c.CodeHash
		existing.CreatedAt = c.CreatedAt
		existing.ExpiresAt = c.ExpiresAt
		existing.Attempts = 0
		existing.VerifiedAt = time.Time{}
		existing.LockedUntil = time.Time{}
		if c.UserID != "" {
			existing.UserID = c.UserID
		}
		return *existing, nil
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Attempts = 0
	c.VerifiedAt = time.Time{}
	c.LockedUntil = time.Time{}
	stored := c
	s.challenges[k] = &stored
	s.challengeIDs[c.ID] = k
	return stored, nil
}

func (s *Store) LatestChallenge(_ context.Context, phone, purpose, channel string) (store.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[challengeKey{phone, purpose, channel}]
	if !ok {
		return store.OTPChallenge{}, store.ErrNotFound
	}
	return *c, nil
}

func (s *Store) RecordFailedAttempt(_ context.Context, id string, maxAttempts int, lockUntil time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.challengeByID(id)
	if c == nil || !c.VerifiedAt.IsZero() {
		return 0, false, store.ErrNotFound
	}

	c.Attempts++
	locked := c.Attempts >= maxAttempts
	if locked {
		c.LockedUntil = lockUntil
	}
	return c.Attempts, locked, nil
}

func (s *Store) MarkChallengeVerified(_ context.Context, id, codeHash string, maxAttempts int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.challengeByID(id)
	if c == nil || c.CodeHash != codeHash || c.Status(now, maxAttempts) != store.ChallengeActive {
		return store.ErrNotFound
	}
	c.VerifiedAt = now
	return nil
}

func (s *Store) DeleteStaleChallenges(_ context.Context, expiredBefore, verifiedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, c := range s.challenges {
		stale := c.ExpiresAt.Before(expiredBefore) ||
			(!c.VerifiedAt.IsZero() && c.VerifiedAt.Before(verifiedBefore))
		if stale && (c.LockedUntil.IsZero() || c.LockedUntil.Before(expiredBefore)) {
			delete(s.challenges, k)
			delete(s.challengeIDs, c.ID)
			n++
		}
	}
	return n, nil
}

func (s *Store) challengeByID(id string) *store.OTPChallenge {
	k, ok := s.challengeIDs[id]
	if !ok {
		return nil
	}
	return s.challenges[k]
}

/*
====================================
REFRESH TOKENS
====================================
*/

func (s *Store) CreateRefreshToken(_ context.Context, t store.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.TokenHash]; exists {
		return store.ErrVersionConflict
	}
	s.tokens[t.TokenHash] = t
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, hash string) (store.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[hash]
	if !ok {
		return store.RefreshToken{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) RotateRefreshToken(_ context.Context, current, next store.RefreshToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tokens[current.TokenHash]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != current.Version || stored.Rotated || stored.Revoked {
		return store.ErrVersionConflict
	}
	if _, exists := s.tokens[next.TokenHash]; exists {
		return store.ErrVersionConflict
	}

	rotated, err := stored.MarkRotated(next.TokenHash, now)
	if err != nil {
		return store.ErrVersionConflict
	}
	s.tokens[current.TokenHash] = rotated
	s.tokens[next.TokenHash] = next
	return nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, current store.RefreshToken, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tokens[current.TokenHash]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != current.Version {
		return store.ErrVersionConflict
	}
	revoked, err := stored.Revoke(reason, now)
	if err != nil {
		return store.ErrVersionConflict
	}
	s.tokens[current.TokenHash] = revoked
	return nil
}

func (s *Store) RevokeChain(_ context.Context, chainID, reason string, now time.Time) (int64, error) {
	return s.revokeWhere(func(t store.RefreshToken) bool { return t.ChainID == chainID }, reason, now), nil
}

func (s *Store) RevokeAllForUser(_ context.Context, userID, reason string, now time.Time) (int64, error) {
	return s.revokeWhere(func(t store.RefreshToken) bool { return t.UserID == userID }, reason, now), nil
}

func (s *Store) revokeWhere(match func(store.RefreshToken) bool, reason string, now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if !match(t) || t.Rotated || t.Revoked {
			continue
		}
		revoked, err := t.Revoke(reason, now)
		if err != nil {
			continue
		}
		s.tokens[hash] = revoked
		n++
	}
	return n
}

func (s *Store) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

/*
====================================
SECURITY EVENTS
====================================
*/

func (s *Store) AppendEvent(_ context.Context, e store.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Metadata = cloneMetadata(e.Metadata)
	s.events = append(s.events, e)
	return nil
}

func (s *Store) ResolveEvent(_ context.Context, id, resolvedBy string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID != id {
			continue
		}
		if s.events[i].Resolved {
			return store.ErrNotFound
		}
		s.events[i].Resolved = true
		s.events[i].ResolvedAt = now
		s.events[i].ResolvedBy = resolvedBy
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) UnresolvedEvents(_ context.Context, minSeverity store.Severity, limit int) ([]store.SecurityEvent, error) {
	return s.selectEvents(func(e store.SecurityEvent) bool {
		return !e.Resolved && e.Severity >= minSeverity
	}, limit), nil
}

func (s *Store) EventsBySubject(_ context.Context, userID string, since time.Time, limit int) ([]store.SecurityEvent, error) {
	return s.selectEvents(func(e store.SecurityEvent) bool {
		return e.UserID == userID && !e.OccurredAt.Before(since)
	}, limit), nil
}

func (s *Store) EventsByIP(_ context.Context, ip string, since time.Time, limit int) ([]store.SecurityEvent, error) {
	return s.selectEvents(func(e store.SecurityEvent) bool {
		return e.IP == ip && !e.OccurredAt.Before(since)
	}, limit), nil
}

// selectEvents returns matches newest first.
func (s *Store) selectEvents(match func(store.SecurityEvent) bool, limit int) []store.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.SecurityEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if !match(s.events[i]) {
			continue
		}
		e := s.events[i]
		e.Metadata = cloneMetadata(e.Metadata)
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out
}

func (s *Store) EventStats(_ context.Context, since time.Time, topN int) (store.EventStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := store.EventStats{
		Since:      since,
		ByType:     make(map[string]int64),
		BySeverity: make(map[string]int64),
	}
	byIP := make(map[string]int64)
	for _, e := range s.events {
		if e.OccurredAt.Before(since) {
			continue
		}
		stats.Total++
		if !e.Resolved {
			stats.Unresolved++
		}
		stats.ByType[e.Type]++
		stats.BySeverity[e.Severity.String()]++
		if e.IP != "" {
			byIP[e.IP]++
		}
	}

	for ip, n := range byIP {
		stats.TopIPs = append(stats.TopIPs, store.IPCount{IP: ip, Count: n})
	}
	sort.Slice(stats.TopIPs, func(i, j int) bool {
		if stats.TopIPs[i].Count != stats.TopIPs[j].Count {
			return stats.TopIPs[i].Count > stats.TopIPs[j].Count
		}
		return stats.TopIPs[i].IP < stats.TopIPs[j].IP
	})
	if topN > 0 && len(stats.TopIPs) > topN {
		stats.TopIPs = stats.TopIPs[:topN]
	}
	return stats, nil
}

func (s *Store) DeleteResolvedEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.Resolved && e.OccurredAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

/*
====================================
USERS
====================================
*/

func (s *Store) PhoneOwner(_ context.Context, phone string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByPhone[phone]
	if !ok || !s.users[id].phoneConfirmed {
		return "", false, nil
	}
	return id, true, nil
}

func (s *Store) FindOrCreateByPhone(_ context.Context, phone string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.usersByPhone[phone]; ok {
		return id, nil
	}
	u := &user{id: uuid.NewString(), phone: phone, createdAt: now}
	s.users[u.id] = u
	s.usersByPhone[phone] = u.id
	return u.id, nil
}

func (s *Store) ConfirmPhone(_ context.Context, userID, phone string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if owner, taken := s.usersByPhone[phone]; taken && owner != userID {
		if s.users[owner].phoneConfirmed {
			return store.ErrPhoneTaken
		}
		delete(s.usersByPhone, phone)
		s.users[owner].phone = ""
	}
	if u.phone != "" && u.phone != phone {
		delete(s.usersByPhone, u.phone)
	}
	u.phone = phone
	u.phoneConfirmed = true
	u.confirmedAt = now
	s.usersByPhone[phone] = userID
	return nil
}

// PhoneConfirmed reports the confirmation flag for userID.
func (s *Store) PhoneConfirmed(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	return ok && u.phoneConfirmed
}

// Events returns a copy of the log in append order.
func (s *Store) Events() []store.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

var (
	_ store.ChallengeStore     = (*Store)(nil)
	_ store.RefreshTokenStore  = (*Store)(nil)
	_ store.SecurityEventStore = (*Store)(nil)
	_ store.UserDirectory      = (*Store)(nil)
	_ store.Pinger             = (*Store)(nil)
)
