package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/goGuard/store"
)

func (s *Store) PhoneOwner(ctx context.Context, phone string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id::text FROM users
		WHERE phone_number = $1 AND phone_confirmed`, phone).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) FindOrCreateByPhone(ctx context.Context, phone string, now time.Time) (string, error) {
	// DO UPDATE on a no-op column so RETURNING yields the existing row too.
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, phone_number, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
		RETURNING id::text`,
		uuid.NewString(), phone, now).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) ConfirmPhone(ctx context.Context, userID, phone string, now time.Time) (err error) {
	if _, err := uuid.Parse(userID); err != nil {
		return store.ErrNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	var (
		ownerID   string
		confirmed bool
	)
	err = tx.QueryRow(ctx, `
		SELECT id::text, phone_confirmed FROM users
		WHERE phone_number = $1 AND id <> $2
		FOR UPDATE`, phone, userID).Scan(&ownerID, &confirmed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
	case err != nil:
		return err
	case confirmed:
		return store.ErrPhoneTaken
	default:
		// An unconfirmed claim by another account is released.
		if _, err = tx.Exec(ctx, `UPDATE users SET phone_number = NULL WHERE id = $1`, ownerID); err != nil {
			return err
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET phone_number = $2, phone_confirmed = true, phone_confirmed_at = $3
		WHERE id = $1`, userID, phone, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return tx.Commit(ctx)
}
