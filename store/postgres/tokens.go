package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/goGuard/store"
)

const tokenColumns = `token_hash, user_id, chain_id, parent_hash, replaced_by_hash, device_id, issued_ip,
	created_at, expires_at, last_used_at, revoked, revoked_reason, revoked_at, rotated, usage_count, version`

const insertToken = `
	INSERT INTO refresh_tokens
		(token_hash, user_id, chain_id, parent_hash, device_id, issued_ip, created_at, expires_at, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

func scanToken(row pgx.Row) (store.RefreshToken, error) {
	var (
		t          store.RefreshToken
		parent     *string
		replacedBy *string
		lastUsed   *time.Time
		revokedAt  *time.Time
	)
	err := row.Scan(
		&t.TokenHash,
		&t.UserID,
		&t.ChainID,
		&parent,
		&replacedBy,
		&t.DeviceID,
		&t.IssuedIP,
		&t.CreatedAt,
		&t.ExpiresAt,
		&lastUsed,
		&t.Revoked,
		&t.RevokedReason,
		&revokedAt,
		&t.Rotated,
		&t.UsageCount,
		&t.Version,
	)
	if err != nil {
		return store.RefreshToken{}, err
	}
	t.ParentHash = fromNullString(parent)
	t.ReplacedByHash = fromNullString(replacedBy)
	t.LastUsedAt = fromNullTime(lastUsed)
	t.RevokedAt = fromNullTime(revokedAt)
	return t, nil
}

func insertArgs(t store.RefreshToken) []any {
	return []any{
		t.TokenHash,
		t.UserID,
		t.ChainID,
		nullString(t.ParentHash),
		t.DeviceID,
		t.IssuedIP,
		t.CreatedAt,
		t.ExpiresAt,
		t.Version,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) CreateRefreshToken(ctx context.Context, t store.RefreshToken) error {
	if _, err := s.pool.Exec(ctx, insertToken, insertArgs(t)...); err != nil {
		if isUniqueViolation(err) {
			return store.ErrVersionConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, hash string) (store.RefreshToken, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, hash))
	if err != nil {
		return store.RefreshToken{}, notFound(err)
	}
	return t, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, current, next store.RefreshToken, now time.Time) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET rotated = true,
			replaced_by_hash = $3,
			usage_count = usage_count + 1,
			last_used_at = $4,
			version = version + 1
		WHERE token_hash = $1
		  AND version = $2
		  AND NOT rotated
		  AND NOT revoked
		  AND expires_at > $4`,
		current.TokenHash, current.Version, next.TokenHash, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}

	if _, err = tx.Exec(ctx, insertToken, insertArgs(next)...); err != nil {
		if isUniqueViolation(err) {
			return store.ErrVersionConflict
		}
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, current store.RefreshToken, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, revoked_reason = $3, revoked_at = $4, version = version + 1
		WHERE token_hash = $1 AND version = $2 AND NOT revoked AND NOT rotated`,
		current.TokenHash, current.Version, reason, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRefreshToken(ctx, current.TokenHash); err != nil {
			return err
		}
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) RevokeChain(ctx context.Context, chainID, reason string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, revoked_reason = $2, revoked_at = $3, version = version + 1
		WHERE chain_id = $1 AND NOT revoked AND NOT rotated`,
		chainID, reason, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, revoked_reason = $2, revoked_at = $3, version = version + 1
		WHERE user_id = $1 AND NOT revoked AND NOT rotated`,
		userID, reason, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
