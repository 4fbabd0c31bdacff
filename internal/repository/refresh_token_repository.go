package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"leasehub/api/internal/ids"
	"leasehub/api/internal/models"
	"leasehub/api/internal/security"
)

const refreshTokenBytes = 48

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenInvalid covers unknown, revoked, expired and foreign tokens alike.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
)

const refreshTokenColumns = `id, user_id, token_hash, family_id, remember_me, expires_at,
	revoked, revoked_at, replaced_by, ip_address, created_at`

// RefreshTokenRepository stores refresh tokens by SHA-256 digest only.
type RefreshTokenRepository struct {
	db            DB
	ttl           time.Duration
	rememberMeTTL time.Duration
	now           func() time.Time
}

func NewRefreshTokenRepository(db DB, ttl, rememberMeTTL time.Duration) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		db:            db,
		ttl:           ttl,
		rememberMeTTL: rememberMeTTL,
		now:           time.Now,
	}
}

func (r *RefreshTokenRepository) lifetime(rememberMe bool) time.Duration {
	if rememberMe {
		return r.rememberMeTTL
	}
	return r.ttl
}

func scanRefreshToken(row pgx.Row) (models.RefreshToken, error) {
	var token models.RefreshToken
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.FamilyID,
		&token.RememberMe,
		&token.ExpiresAt,
		&token.Revoked,
		&token.RevokedAt,
		&token.ReplacedBy,
		&token.IPAddress,
		&token.CreatedAt,
	)
	return token, err
}

// Create issues a token that starts a new family.
func (r *RefreshTokenRepository) Create(ctx context.Context, userID string, rememberMe bool, ip string) (string, models.RefreshToken, error) {
	raw, err := security.RandomToken(refreshTokenBytes)
	if err != nil {
		return "", models.RefreshToken{}, err
	}

	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, family_id, remember_me, expires_at, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + refreshTokenColumns

	record, err := scanRefreshToken(r.db.QueryRow(ctx, query,
		ids.New(),
		userID,
		security.HashToken(raw),
		ids.NewFamily(),
		rememberMe,
		r.now().Add(r.lifetime(rememberMe)),
		ip,
	))
	if err != nil {
		return "", models.RefreshToken{}, fmt.Errorf("insert refresh token: %w", err)
	}
	return raw, record, nil
}

// Validate reports whether the token exists, is not revoked and has not expired.
func (r *RefreshTokenRepository) Validate(ctx context.Context, token string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens
			WHERE token_hash = $1 AND NOT revoked AND expires_at > NOW()
		)
	`
	var ok bool
	if err := r.db.QueryRow(ctx, query, security.HashToken(token)).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Rotate revokes oldToken and issues its successor in one statement. The
// UPDATE only matches a live row, so of two concurrent rotations exactly one
// gets a row back; the other observes ErrRefreshTokenInvalid.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldToken, userID, ip string) (string, models.RefreshToken, error) {
	raw, err := security.RandomToken(refreshTokenBytes)
	if err != nil {
		return "", models.RefreshToken{}, err
	}

	query := `
		WITH old AS (
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = NOW(), replaced_by = $3
			WHERE token_hash = $1 AND user_id = $2 AND NOT revoked AND expires_at > NOW()
			RETURNING family_id, remember_me
		)
		INSERT INTO refresh_tokens (id, user_id, token_hash, family_id, remember_me, expires_at, ip_address, created_at)
		SELECT $3, $2, $4, old.family_id, old.remember_me,
		       CASE WHEN old.remember_me THEN $5::timestamptz ELSE $6::timestamptz END,
		       $7, NOW()
		FROM old
		RETURNING ` + refreshTokenColumns

	now := r.now()
	record, err := scanRefreshToken(r.db.QueryRow(ctx, query,
		security.HashToken(oldToken),
		userID,
		ids.New(),
		security.HashToken(raw),
		now.Add(r.rememberMeTTL),
		now.Add(r.ttl),
		ip,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.RefreshToken{}, ErrRefreshTokenInvalid
		}
		return "", models.RefreshToken{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return raw, record, nil
}

// Lookup returns the row for token whatever its state.
func (r *RefreshTokenRepository) Lookup(ctx context.Context, token string) (models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	record, err := scanRefreshToken(r.db.QueryRow(ctx, query, security.HashToken(token)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RefreshToken{}, ErrRefreshTokenNotFound
	}
	return record, err
}

// Revoke is idempotent; unknown tokens are not an error.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	const query = `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_at = NOW()
		WHERE token_hash = $1 AND NOT revoked
	`
	_, err := r.db.Exec(ctx, query, security.HashToken(token))
	return err
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	const query = `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_at = NOW()
		WHERE family_id = $1 AND NOT revoked
	`
	cmd, err := r.db.Exec(ctx, query, familyID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	const query = `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_at = NOW()
		WHERE user_id = $1 AND NOT revoked
	`
	cmd, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// DeleteExpired removes rows that expired before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	cmd, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
