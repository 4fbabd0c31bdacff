package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"leasehub/api/internal/ids"
	"leasehub/api/internal/security"
)

const resetTokenBytes = 32

var ErrResetTokenInvalid = errors.New("reset token invalid or expired")

type ResetTokenRepository struct {
	db  DB
	ttl time.Duration
	now func() time.Time
}

func NewResetTokenRepository(db DB, ttl time.Duration) *ResetTokenRepository {
	return &ResetTokenRepository{db: db, ttl: ttl, now: time.Now}
}

// IssueResetToken invalidates every outstanding token for userID and stores a
// new one. Only the digest is persisted; the raw value is returned for mailing.
func (r *ResetTokenRepository) IssueResetToken(ctx context.Context, userID, ip string) (string, error) {
	raw, err := security.RandomHex(resetTokenBytes)
	if err != nil {
		return "", err
	}

	err = withTx(ctx, r.db, func(tx pgx.Tx) error {
		const invalidate = `
			UPDATE password_reset_tokens SET used_at = NOW()
			WHERE user_id = $1 AND used_at IS NULL
		`
		if _, err := tx.Exec(ctx, invalidate, userID); err != nil {
			return fmt.Errorf("invalidate reset tokens: %w", err)
		}

		const insert = `
			INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, ip_address, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`
		if _, err := tx.Exec(ctx, insert, ids.New(), userID, security.HashToken(raw), r.now().Add(r.ttl), ip); err != nil {
			return fmt.Errorf("insert reset token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (r *ResetTokenRepository) IsValid(ctx context.Context, tokenHash string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM password_reset_tokens
			WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		)
	`
	var ok bool
	if err := r.db.QueryRow(ctx, query, tokenHash).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ConsumeAndSetPassword marks the token used, invalidates the owner's other
// tokens and stores the new password hash in one transaction. The conditional
// UPDATE is the authority: a token can be consumed at most once, and a failed
// password write leaves it usable.
func (r *ResetTokenRepository) ConsumeAndSetPassword(ctx context.Context, tokenHash, passwordHash string) (string, error) {
	var userID string
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		const consume = `
			UPDATE password_reset_tokens SET used_at = NOW()
			WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
			RETURNING user_id
		`
		if err := tx.QueryRow(ctx, consume, tokenHash).Scan(&userID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrResetTokenInvalid
			}
			return fmt.Errorf("consume reset token: %w", err)
		}

		const siblings = `
			UPDATE password_reset_tokens SET used_at = NOW()
			WHERE user_id = $1 AND used_at IS NULL
		`
		if _, err := tx.Exec(ctx, siblings, userID); err != nil {
			return fmt.Errorf("invalidate reset tokens: %w", err)
		}

		const setPassword = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
		cmd, err := tx.Exec(ctx, setPassword, userID, passwordHash)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM password_reset_tokens WHERE expires_at < $1`
	cmd, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
