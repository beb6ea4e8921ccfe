package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (r *Repository) CreatePasswordReset(ctx context.Context, token PasswordResetToken) error {
	id, err := newRowID()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (id, token_hash, user_id, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, id, token.TokenHash, token.UserID, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert password reset token: %w", err)
	}

	return nil
}

func (r *Repository) FindValidPasswordReset(ctx context.Context, tokenHash string, now time.Time) (PasswordResetToken, error) {
	var token PasswordResetToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1 AND used = FALSE AND expires_at > $2
	`, tokenHash, now.UTC()).Scan(&token.ID, &token.TokenHash, &token.UserID, &token.ExpiresAt, &token.Used, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PasswordResetToken{}, err
		}
		return PasswordResetToken{}, fmt.Errorf("query password reset token: %w", err)
	}

	return token, nil
}

func (r *Repository) ConsumeIfUnused(ctx context.Context, tokenHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE token_hash = $1 AND used = FALSE
	`, tokenHash)
	if err != nil {
		return false, fmt.Errorf("consume password reset token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume reset token rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *Repository) InvalidateAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE user_id = $1 AND used = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("invalidate password reset tokens: %w", err)
	}

	return nil
}

func (r *Repository) DeleteExpiredPasswordResets(ctx context.Context, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM password_reset_tokens
			WHERE expires_at < NOW()
			ORDER BY created_at ASC
			LIMIT $1
		)
		DELETE FROM password_reset_tokens t
		USING expired
		WHERE t.id = expired.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired password reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired reset tokens rows affected: %w", err)
	}

	return affected, nil
}
