package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is the hash-free projection served by the users API.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Patch struct {
	Username *string
	Email    *string
}

var (
	ErrEmailTaken    = errors.New("email already taken")
	ErrUsernameTaken = errors.New("username already taken")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectColumns = `id, username, email, role, created_at, updated_at`

func (r *Repository) List(ctx context.Context, limit, offset int) ([]User, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}

	return users, total, nil
}

func (r *Repository) Get(ctx context.Context, id string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}

	return u, nil
}

// Update touches only the provided fields, failing with ErrEmailTaken or
// ErrUsernameTaken when the new value belongs to another user.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (User, error) {
	if patch.Email != nil {
		taken, err := r.takenByOther(ctx, `email`, *patch.Email, id)
		if err != nil {
			return User{}, err
		}
		if taken {
			return User{}, ErrEmailTaken
		}
	}
	if patch.Username != nil {
		taken, err := r.takenByOther(ctx, `username`, *patch.Username, id)
		if err != nil {
			return User{}, err
		}
		if taken {
			return User{}, ErrUsernameTaken
		}
	}

	var u User
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET username   = COALESCE($2, username),
		    email      = COALESCE($3, email),
		    updated_at = $4
		WHERE id = $1
		RETURNING `+selectColumns+`
	`, id, patch.Username, patch.Email, time.Now().UTC()).
		Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("update user: %w", err)
	}

	return u, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) takenByOther(ctx context.Context, column, value, id string) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE `+column+` = $1 AND id <> $2)`,
		value, id,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check %s uniqueness: %w", column, err)
	}

	return taken, nil
}
