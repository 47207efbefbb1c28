package transcript

import (
	"context"
	"database/sql"
	"fmt"

	"outbound-orchestrator/pkg/utils"
)

// SQLRepo stores turns in call_turns. bind rewrites ? placeholders for the
// active driver.
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
CREATE TABLE IF NOT EXISTS call_turns (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	call_id    TEXT NOT NULL DEFAULT '',
	seq        BIGINT NOT NULL,
	step       TEXT NOT NULL,
	speaker    TEXT NOT NULL,
	text       TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at %s NOT NULL
)`, r.ts),
		`CREATE UNIQUE INDEX IF NOT EXISTS call_turns_job_seq_speaker ON call_turns (job_id, seq, speaker)`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("transcript: migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLRepo) Append(ctx context.Context, t Turn) error {
	q := r.bind(`
INSERT INTO call_turns (id, job_id, call_id, seq, step, speaker, text, confidence, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.JobID, t.CallID, t.Seq, t.Step, string(t.Speaker), t.Text, t.Confidence, t.CreatedAt.UTC(),
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return ErrDuplicateTurn
		}
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

func (r *SQLRepo) List(ctx context.Context, jobID string) ([]Turn, error) {
	q := r.bind(`
SELECT id, job_id, call_id, seq, step, speaker, text, confidence, created_at
FROM call_turns
WHERE job_id = ?
ORDER BY seq ASC, created_at ASC`)
	rows, err := r.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("transcript: list: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t       Turn
			speaker string
		)
		if err := rows.Scan(&t.ID, &t.JobID, &t.CallID, &t.Seq, &t.Step, &speaker, &t.Text, &t.Confidence, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript: scan: %w", err)
		}
		t.Speaker = Speaker(speaker)
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTurns(out)
	return out, nil
}
