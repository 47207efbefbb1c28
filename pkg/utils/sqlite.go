package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// OpenSQLite opens (or creates) a SQLite database at path.
// Timestamps are written in SQLite's text format so range predicates compare correctly.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	q := url.Values{}
	q.Set("_time_format", "sqlite")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	dsn := fmt.Sprintf("%s?%s", path, q.Encode())

	// A single writer connection avoids SQLITE_BUSY under concurrent dispatchers.
	return open(ctx, "sqlite", dsn, PoolConfig{MaxOpenConns: 1})
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}
