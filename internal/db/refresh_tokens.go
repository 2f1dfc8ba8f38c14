package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tink/internal/models"
)

type RefreshTokenRepository struct {
	q DBTX
}

func NewRefreshTokenRepository(q DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{q: q}
}

func (r *RefreshTokenRepository) WithTx(tx DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{q: tx}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, userID, token string, expiresAt time.Time) (*models.RefreshToken, error) {
	id := NewID()
	now := time.Now().UTC()

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token, expires_at, revoked, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, token, expiresAt.UTC(), false, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating refresh token: %w", err)
	}

	return &models.RefreshToken{
		ID:        id,
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now,
	}, nil
}

// FindUsable returns the token row only if it is unrevoked and unexpired at now.
func (r *RefreshTokenRepository) FindUsable(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	var t models.RefreshToken

	err := r.q.QueryRowContext(ctx,
		`SELECT id, user_id, token, expires_at, revoked, created_at
		   FROM refresh_tokens
		  WHERE token = ? AND revoked = ? AND expires_at > ?`,
		token, false, now.UTC(),
	).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying refresh token: %w", err)
	}

	return &t, nil
}

// RevokeForRotation revokes a still-usable token. ErrNotFound means another
// caller consumed it first or it expired in between.
func (r *RefreshTokenRepository) RevokeForRotation(ctx context.Context, id string, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens
		    SET revoked = ?
		  WHERE id = ?
		    AND revoked = ?
		    AND expires_at > ?`,
		true, id, false, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoking token during rotation: %w", err)
	}
	return checkRowsAffected(result)
}

// RevokeByToken marks the token revoked. It reports whether a row changed.
func (r *RefreshTokenRepository) RevokeByToken(ctx context.Context, token string) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = ? WHERE token = ? AND revoked = ?`,
		true, token, false,
	)
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteStaleForUser removes the user's expired or revoked tokens.
func (r *RefreshTokenRepository) DeleteStaleForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = ? AND (expires_at < ? OR revoked = ?)`,
		userID, now.UTC(), true,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting stale tokens: %w", err)
	}

	return result.RowsAffected()
}

func (r *RefreshTokenRepository) CountForUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting refresh tokens: %w", err)
	}
	return count, nil
}
