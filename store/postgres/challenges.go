package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/goGuard/store"
)

const challengeColumns = `id::text, phone_number, purpose, channel, code_hash, user_id,
	created_at, expires_at, attempts, verified_at, locked_until`

func scanChallenge(row pgx.Row) (store.OTPChallenge, error) {
	var (
		c           store.OTPChallenge
		userID      *string
		verifiedAt  *time.Time
		lockedUntil *time.Time
	)
	err := row.Scan(
		&c.ID,
		&c.Phone,
		&c.Purpose,
		&c.Channel,
		&c.CodeHash,
		&userID,
		&c.CreatedAt,
		&c.ExpiresAt,
		&c.Attempts,
		&verifiedAt,
		&lockedUntil,
	)
	if err != nil {
		return store.OTPChallenge{}, err
	}
	c.UserID = fromNullString(userID)
	c.VerifiedAt = fromNullTime(verifiedAt)
	c.LockedUntil = fromNullTime(lockedUntil)
	return c, nil
}

func (s *Store) UpsertChallenge(ctx context.Context, c store.OTPChallenge) (store.OTPChallenge, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	// The WHERE clause on the conflict arm keeps a locked tuple untouched;
	// no row comes back in that case.
	query := `
		INSERT INTO otp_challenges
			(id, phone_number, purpose, channel, code_hash, user_id, created_at, expires_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		ON CONFLICT (phone_number, purpose, channel) DO UPDATE SET
			code_hash    = EXCLUDED.code_hash,
			user_id      = COALESCE(EXCLUDED.user_id, otp_challenges.user_id),
			created_at   = EXCLUDED.created_at,
			expires_at   = EXCLUDED.expires_at,
			attempts     = 0,
			verified_at  = NULL,
			locked_until = NULL
		WHERE otp_challenges.locked_until IS NULL
		   OR otp_challenges.locked_until <= EXCLUDED.created_at
		RETURNING ` + challengeColumns

	out, err := scanChallenge(s.pool.QueryRow(ctx, query,
		c.ID,
		c.Phone,
		c.Purpose,
		c.Channel,
		c.CodeHash,
		nullString(c.UserID),
		c.CreatedAt,
		c.ExpiresAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.OTPChallenge{}, store.ErrChallengeLocked
	}
	return out, err
}

func (s *Store) LatestChallenge(ctx context.Context, phone, purpose, channel string) (store.OTPChallenge, error) {
	query := `SELECT ` + challengeColumns + `
		FROM otp_challenges
		WHERE phone_number = $1 AND purpose = $2 AND channel = $3`

	c, err := scanChallenge(s.pool.QueryRow(ctx, query, phone, purpose, channel))
	if err != nil {
		return store.OTPChallenge{}, notFound(err)
	}
	return c, nil
}

func (s *Store) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (int, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, false, store.ErrNotFound
	}

	query := `
		UPDATE otp_challenges
		SET attempts = attempts + 1,
			locked_until = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE locked_until END
		WHERE id = $1 AND verified_at IS NULL
		RETURNING attempts`

	var attempts int
	if err := s.pool.QueryRow(ctx, query, id, maxAttempts, lockUntil).Scan(&attempts); err != nil {
		return 0, false, notFound(err)
	}
	return attempts, attempts >= maxAttempts, nil
}

func (s *Store) MarkChallengeVerified(ctx context.Context, id, codeHash string, maxAttempts int, now time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrNotFound
	}

	query := `
		UPDATE otp_challenges
		SET verified_at = $4
		WHERE id = $1
		  AND code_hash = $2
		  AND verified_at IS NULL
		  AND attempts < $3
		  AND (locked_until IS NULL OR locked_until <= $4)
		  AND expires_at > $4`

	tag, err := s.pool.Exec(ctx, query, id, codeHash, maxAttempts, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteStaleChallenges(ctx context.Context, expiredBefore, verifiedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM otp_challenges
		WHERE (expires_at < $1 OR (verified_at IS NOT NULL AND verified_at < $2))
		  AND (locked_until IS NULL OR locked_until < $1)`

	tag, err := s.pool.Exec(ctx, query, expiredBefore, verifiedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
