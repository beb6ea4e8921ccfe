package auth

import (
	"context"
	"time"
)

// The Service depends on these interfaces rather than the pg Repository so
// tests can substitute in-memory implementations. Find operations report an
// absent row as sql.ErrNoRows, matching the database-backed implementation.

type CredentialStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error)

	// RevokeIfActive flips revoked in a single conditional update and
	// reports whether this caller won the flip. Under a concurrent
	// double-spend exactly one caller sees true; the loser is treated as
	// token reuse.
	RevokeIfActive(ctx context.Context, tokenHash string) (bool, error)

	// RevokeFamily invalidates every token in a family as one bulk update.
	RevokeFamily(ctx context.Context, family string) error

	RevokeAllForUser(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error)
}

type PasswordResetStore interface {
	CreatePasswordReset(ctx context.Context, token PasswordResetToken) error
	FindValidPasswordReset(ctx context.Context, tokenHash string, now time.Time) (PasswordResetToken, error)

	// ConsumeIfUnused marks the token used in a single conditional update
	// and reports whether this caller consumed it.
	ConsumeIfUnused(ctx context.Context, tokenHash string) (bool, error)

	// InvalidateAllForUser marks every unused token for the user as used,
	// as one bulk update.
	InvalidateAllForUser(ctx context.Context, userID string) error

	DeleteExpiredPasswordResets(ctx context.Context, batchSize int) (int64, error)
}
