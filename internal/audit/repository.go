package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLRepo stores events in audit_events. There is no UPDATE or DELETE path.
type SQLRepo struct {
	db   *sql.DB
	bind func(string) string
	ts   string
}

func NewSQLRepo(db *sql.DB, bind func(string) string, timestampType string) *SQLRepo {
	if bind == nil {
		bind = func(q string) string { return q }
	}
	if timestampType == "" {
		timestampType = "TIMESTAMPTZ"
	}
	return &SQLRepo{db: db, bind: bind, ts: timestampType}
}

func (r *SQLRepo) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS audit_events (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	actor_user_id TEXT NOT NULL DEFAULT '',
	actor_role    TEXT NOT NULL DEFAULT '',
	ip_address    TEXT NOT NULL DEFAULT '',
	job_id        TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '',
	created_at    %s NOT NULL
)`, r.ts),
		`CREATE INDEX IF NOT EXISTS audit_events_created_at ON audit_events (created_at)`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("audit: migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	q := r.bind(`
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, job_id, message, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.JobID, e.Message, e.Metadata, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *SQLRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	q := r.bind(`
SELECT id, type, actor_user_id, actor_role, ip_address, job_id, message, metadata, created_at
FROM audit_events
ORDER BY created_at DESC, id DESC
LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.JobID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Type = EventType(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
