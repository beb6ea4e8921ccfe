package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Task, error) {
	query := `
		SELECT t.id, t.title, COALESCE(t.description, ''), t.status,
		       t.user_id, u.username, t.created_at, t.updated_at
		FROM tasks t
		JOIN users u ON u.id = t.user_id
		WHERE ($1 = '' OR t.user_id = $1)
		  AND ($2 = '' OR t.status = $2)
		ORDER BY t.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, filter.UserID, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.UserID, &t.UserName, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Task, error) {
	var t Task
	err := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.title, COALESCE(t.description, ''), t.status,
		       t.user_id, u.username, t.created_at, t.updated_at
		FROM tasks t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1
	`, id).Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.UserID, &t.UserName, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("query task: %w", err)
	}

	return t, nil
}

func (r *Repository) Create(ctx context.Context, input CreateInput) (Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Task{}, fmt.Errorf("generate task id: %w", err)
	}

	now := time.Now().UTC()
	t := Task{
		ID:          id.String(),
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		UserID:      input.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, t.ID, t.Title, t.Description, t.Status, t.UserID, now)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT username FROM users WHERE id = $1`, t.UserID,
	).Scan(&t.UserName); err != nil {
		return Task{}, fmt.Errorf("resolve task owner: %w", err)
	}

	return t, nil
}

func (r *Repository) Update(ctx context.Context, id string, patch Patch) (Task, error) {
	var t Task
	err := r.db.QueryRowContext(ctx, `
		UPDATE tasks t
		SET title       = COALESCE($2, t.title),
		    description = COALESCE($3, t.description),
		    status      = COALESCE($4, t.status),
		    updated_at  = $5
		FROM users u
		WHERE t.id = $1 AND u.id = t.user_id
		RETURNING t.id, t.title, COALESCE(t.description, ''), t.status,
		          t.user_id, u.username, t.created_at, t.updated_at
	`, id, patch.Title, patch.Description, patch.Status, time.Now().UTC()).
		Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.UserID, &t.UserName, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("update task: %w", err)
	}

	return t, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
