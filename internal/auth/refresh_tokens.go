package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (r *Repository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	id, err := newRowID()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, user_id, family, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)
	`, id, token.TokenHash, token.UserID, token.Family, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

func (r *Repository) FindRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var token RefreshToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, family, revoked, expires_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&token.ID, &token.TokenHash, &token.UserID, &token.Family, &token.Revoked, &token.ExpiresAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshToken{}, err
		}
		return RefreshToken{}, fmt.Errorf("query refresh token: %w", err)
	}

	return token, nil
}

// RevokeIfActive is the single atomic statement the rotation protocol hinges
// on: of any number of concurrent presenters of one token, exactly one
// observes RowsAffected == 1.
func (r *Repository) RevokeIfActive(ctx context.Context, tokenHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token_hash = $1 AND revoked = FALSE
	`, tokenHash)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *Repository) RevokeFamily(ctx context.Context, family string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE family = $1 AND revoked = FALSE
	`, family)
	if err != nil {
		return fmt.Errorf("revoke refresh token family: %w", err)
	}

	return nil
}

func (r *Repository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens for user: %w", err)
	}

	return nil
}

func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM refresh_tokens
			WHERE expires_at < NOW()
			ORDER BY created_at ASC
			LIMIT $1
		)
		DELETE FROM refresh_tokens t
		USING expired
		WHERE t.id = expired.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}

	return affected, nil
}
