// Package crm persists the founder's outreach and learning records: the VC
// pipeline (who has been contacted, with what outcome) and per-module
// learning progress. Both live in a local SQLite database; aggregate views
// (pipeline stats, learning stats) are recomputed from the base rows on
// every read.
package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a pipeline or progress record does not
	// exist.
	ErrNotFound = errors.New("crm: not found")

	// ErrDuplicate is returned by AddVC when a record with the same name
	// (case-insensitive) already exists. The existing record is returned
	// alongside it.
	ErrDuplicate = errors.New("crm: already in pipeline")
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source. Used in tests to control streaks
// and follow-up due dates.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store is the SQLite-backed CRM database. Operations are independent
// statements on the pooled connection; concurrent writers to the same
// record resolve last-writer-wins.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the CRM database at path.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("crm: open database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("crm: %s: %w", pragma, err)
		}
	}

	schema := `
CREATE TABLE IF NOT EXISTS vc_pipeline (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	firm_type      TEXT NOT NULL,
	check_size     TEXT NOT NULL,
	email          TEXT NOT NULL,
	website        TEXT NOT NULL DEFAULT '',
	linkedin       TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	notes          TEXT NOT NULL DEFAULT '',
	tags           TEXT NOT NULL DEFAULT '[]',
	added_at       INTEGER NOT NULL,
	contacted_at   INTEGER NOT NULL DEFAULT 0,
	last_follow_up INTEGER NOT NULL DEFAULT 0,
	next_follow_up INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS module_progress (
	module_id     TEXT PRIMARY KEY,
	module_name   TEXT NOT NULL,
	completed     INTEGER NOT NULL DEFAULT 0,
	completed_at  INTEGER NOT NULL DEFAULT 0,
	time_spent    INTEGER NOT NULL DEFAULT 0,
	quiz_score    INTEGER NOT NULL DEFAULT 0,
	quiz_attempts INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS activity_days (
	day TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS achievements (
	id          TEXT PRIMARY KEY,
	unlocked_at INTEGER NOT NULL
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("crm: create schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// touchActivity records today as an active learning day.
func (s *Store) touchActivity(ctx context.Context) error {
	day := s.now().Format(time.DateOnly)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_days (day) VALUES (?) ON CONFLICT(day) DO NOTHING`, day)
	if err != nil {
		return fmt.Errorf("crm: record activity: %w", err)
	}
	return nil
}
