package calljobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"outbound-orchestrator/pkg/utils"
)

// Dialect selects placeholder and column types for SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Rebind rewrites ? placeholders into $n for Postgres.
func (d Dialect) Rebind(q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is the database/sql Store used with pgx (production) or SQLite (local).
//
// The partial unique index call_jobs_active_dedupe_key backs the
// one-active-job-per-dedupe-key invariant; every mutation is a conditional
// UPDATE keyed on (status, version).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the call_jobs table and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ts, js := "TIMESTAMPTZ", "JSONB"
	if s.dialect == DialectSQLite {
		ts, js = "DATETIME", "TEXT"
	}
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS call_jobs (
	id               TEXT PRIMARY KEY,
	subject_id       TEXT,
	purpose          TEXT NOT NULL,
	phone_number     TEXT NOT NULL,
	dedupe_key       TEXT NOT NULL,
	status           TEXT NOT NULL,
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL,
	next_eligible_at %[1]s NOT NULL,
	lease_owner      TEXT NOT NULL DEFAULT '',
	lease_token      TEXT NOT NULL DEFAULT '',
	lease_expires_at %[1]s,
	provider_call_id TEXT NOT NULL DEFAULT '',
	call_deadline    %[1]s,
	last_error       TEXT NOT NULL DEFAULT '',
	artifacts        %[2]s NOT NULL,
	version          BIGINT NOT NULL DEFAULT 1,
	created_at       %[1]s NOT NULL,
	updated_at       %[1]s NOT NULL
)`, ts, js),
		`CREATE UNIQUE INDEX IF NOT EXISTS call_jobs_active_dedupe_key ON call_jobs (dedupe_key) WHERE status IN ('queued', 'running')`,
		`CREATE INDEX IF NOT EXISTS call_jobs_eligible ON call_jobs (status, next_eligible_at)`,
		`CREATE INDEX IF NOT EXISTS call_jobs_provider_call_id ON call_jobs (provider_call_id)`,
		`CREATE INDEX IF NOT EXISTS call_jobs_created_at ON call_jobs (created_at)`,
	}
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("calljobs: migrate: %w", err)
	}
	return nil
}

const jobColumns = `id, subject_id, purpose, phone_number, dedupe_key, status, attempt_count, max_attempts,
next_eligible_at, lease_owner, lease_token, lease_expires_at, provider_call_id, call_deadline,
last_error, artifacts, version, created_at, updated_at`

func (s *SQLStore) Insert(ctx context.Context, j *Job) error {
	artifacts, err := encodeArtifacts(j.Artifacts)
	if err != nil {
		return err
	}
	q := s.dialect.Rebind(`
INSERT INTO call_jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q,
		j.ID,
		nullString(j.SubjectID),
		j.Purpose,
		j.PhoneNumber,
		j.DedupeKey,
		string(j.Status),
		j.AttemptCount,
		j.MaxAttempts,
		j.NextEligibleAt.UTC(),
		j.LeaseOwner,
		j.LeaseToken,
		nullTime(j.LeaseExpiresAt),
		j.ProviderCallID,
		nullTime(j.CallDeadline),
		j.LastError,
		artifacts,
		j.Version,
		j.CreatedAt.UTC(),
		j.UpdatedAt.UTC(),
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return ErrDuplicateActiveJob
		}
		return fmt.Errorf("calljobs: insert %s: %w", j.ID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	q := s.dialect.Rebind(`SELECT ` + jobColumns + ` FROM call_jobs WHERE id = ?`)
	return s.queryOne(ctx, q, id)
}

func (s *SQLStore) FindLive(ctx context.Context, dedupeKey string) (*Job, error) {
	q := s.dialect.Rebind(`
SELECT ` + jobColumns + `
FROM call_jobs
WHERE dedupe_key = ? AND status IN ('queued', 'running', 'failed')
ORDER BY created_at DESC
LIMIT 1`)
	return s.queryOne(ctx, q, dedupeKey)
}

func (s *SQLStore) FindByProviderCallID(ctx context.Context, callID string) (*Job, error) {
	if callID == "" {
		return nil, ErrNotFound
	}
	q := s.dialect.Rebind(`SELECT ` + jobColumns + ` FROM call_jobs WHERE provider_call_id = ? LIMIT 1`)
	return s.queryOne(ctx, q, callID)
}

func (s *SQLStore) ListEligible(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	q := s.dialect.Rebind(`
SELECT ` + jobColumns + `
FROM call_jobs
WHERE status = 'queued' AND next_eligible_at <= ?
ORDER BY next_eligible_at ASC, created_at ASC, id ASC
LIMIT ?`)
	return s.queryMany(ctx, q, now.UTC(), limit)
}

func (s *SQLStore) ListFailed(ctx context.Context, limit int) ([]*Job, error) {
	q := s.dialect.Rebind(`
SELECT ` + jobColumns + `
FROM call_jobs
WHERE status = 'failed'
ORDER BY updated_at ASC, id ASC
LIMIT ?`)
	return s.queryMany(ctx, q, limit)
}

func (s *SQLStore) ListStale(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	q := s.dialect.Rebind(`
SELECT ` + jobColumns + `
FROM call_jobs
WHERE status = 'running'
  AND (
    (provider_call_id = '' AND lease_expires_at <= ?)
    OR (provider_call_id <> '' AND call_deadline <= ?)
  )
ORDER BY updated_at ASC, id ASC
LIMIT ?`)
	return s.queryMany(ctx, q, now.UTC(), now.UTC(), limit)
}

func (s *SQLStore) ListCreated(ctx context.Context, from, to time.Time, purpose string, limit int) ([]*Job, error) {
	q := s.dialect.Rebind(`
SELECT ` + jobColumns + `
FROM call_jobs
WHERE created_at >= ? AND created_at < ?
  AND (? = '' OR purpose = ?)
ORDER BY created_at ASC, id ASC
LIMIT ?`)
	return s.queryMany(ctx, q, from.UTC(), to.UTC(), purpose, purpose, limit)
}

func (s *SQLStore) CompareAndSwap(ctx context.Context, expect Expectation, next *Job) error {
	artifacts, err := encodeArtifacts(next.Artifacts)
	if err != nil {
		return err
	}
	q := s.dialect.Rebind(`
UPDATE call_jobs SET
	status = ?,
	attempt_count = ?,
	next_eligible_at = ?,
	lease_owner = ?,
	lease_token = ?,
	lease_expires_at = ?,
	provider_call_id = ?,
	call_deadline = ?,
	last_error = ?,
	artifacts = ?,
	version = ?,
	updated_at = ?
WHERE id = ? AND status = ? AND version = ?`)
	res, err := s.db.ExecContext(ctx, q,
		string(next.Status),
		next.AttemptCount,
		next.NextEligibleAt.UTC(),
		next.LeaseOwner,
		next.LeaseToken,
		nullTime(next.LeaseExpiresAt),
		next.ProviderCallID,
		nullTime(next.CallDeadline),
		next.LastError,
		artifacts,
		next.Version,
		next.UpdatedAt.UTC(),
		next.ID,
		string(expect.Status),
		expect.Version,
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return ErrDuplicateActiveJob
		}
		return fmt.Errorf("calljobs: update %s: %w", next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("calljobs: update %s: %w", next.ID, err)
	}
	if n == 0 {
		return ErrLeaseConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) queryOne(ctx context.Context, q string, args ...any) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("calljobs: query: %w", err)
	}
	return j, nil
}

func (s *SQLStore) queryMany(ctx context.Context, q string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calljobs: query: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("calljobs: scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j            Job
		subjectID    sql.NullString
		status       string
		leaseExpires sql.NullTime
		callDeadline sql.NullTime
		artifacts    []byte
	)
	if err := r.Scan(
		&j.ID,
		&subjectID,
		&j.Purpose,
		&j.PhoneNumber,
		&j.DedupeKey,
		&status,
		&j.AttemptCount,
		&j.MaxAttempts,
		&j.NextEligibleAt,
		&j.LeaseOwner,
		&j.LeaseToken,
		&leaseExpires,
		&j.ProviderCallID,
		&callDeadline,
		&j.LastError,
		&artifacts,
		&j.Version,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.SubjectID = subjectID.String
	j.Status = Status(status)
	j.NextEligibleAt = j.NextEligibleAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if leaseExpires.Valid {
		t := leaseExpires.Time.UTC()
		j.LeaseExpiresAt = &t
	}
	if callDeadline.Valid {
		t := callDeadline.Time.UTC()
		j.CallDeadline = &t
	}
	j.Artifacts = Artifacts{}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &j.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	return &j, nil
}

func encodeArtifacts(a Artifacts) (string, error) {
	if a == nil {
		a = Artifacts{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("calljobs: encode artifacts: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
