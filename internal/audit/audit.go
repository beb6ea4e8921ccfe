package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cloudarc/internal/observability"
)

// Entry is one append-only audit record. ActorEmail is denormalised so the
// trail survives user deletion.
type Entry struct {
	ActorID    string
	ActorEmail string
	Action     string
	Resource   string
	ResourceID string
	Metadata   map[string]any
	IP         string
	RequestID  string
}

type Record struct {
	ID         int64          `json:"id"`
	ActorID    *string        `json:"actor_id"`
	ActorEmail *string        `json:"actor_email"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID *string        `json:"resource_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IP         *string        `json:"ip"`
	RequestID  *string        `json:"request_id"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Recorder struct {
	db     *sql.DB
	logger *observability.Logger
}

func NewRecorder(db *sql.DB, logger *observability.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Log writes an audit row. Failures are logged and swallowed: the audit
// trail must never fail the operation it describes.
func (r *Recorder) Log(ctx context.Context, entry Entry) {
	var metadata any
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err == nil {
			metadata = encoded
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_id, actor_email, action, resource, resource_id, metadata, ip, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		nullable(entry.ActorID),
		nullable(entry.ActorEmail),
		entry.Action,
		entry.Resource,
		nullable(entry.ResourceID),
		metadata,
		nullable(entry.IP),
		nullable(entry.RequestID),
	)
	if err != nil {
		r.logger.Error("audit_write_failed", map[string]any{
			"action":   entry.Action,
			"resource": entry.Resource,
			"error":    err.Error(),
		})
	}
}

// List returns a page of the trail, newest first, optionally filtered by
// actor and action.
func (r *Recorder) List(ctx context.Context, actorID, action string, limit, offset int) ([]Record, int64, error) {
	where := `WHERE ($1 = '' OR actor_id = $1) AND ($2 = '' OR action = $2)`

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs `+where, actorID, action,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_email, action, resource, resource_id, metadata, ip, request_id, created_at
		FROM audit_logs `+where+`
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, actorID, action, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var metadata []byte
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.ActorEmail, &rec.Action, &rec.Resource,
			&rec.ResourceID, &metadata, &rec.IP, &rec.RequestID, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan audit log: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &rec.Metadata)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit logs: %w", err)
	}

	return records, total, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
