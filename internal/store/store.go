// Package store persists polling progress and generation-attempt counters
// in SQLite so restarts resume after the last processed update instead of
// replaying delivered batches.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		last_update INTEGER NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id  TEXT,
		requester   TEXT,
		kind        TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LastUpdate returns the persisted last processed update id, or -1 when no
// progress has been recorded yet.
func (s *Store) LastUpdate(ctx context.Context) (int, error) {
	var last int
	err := s.db.QueryRowContext(ctx, `SELECT last_update FROM progress WHERE id = 1`).Scan(&last)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("read progress: %w", err)
	}
	return last, nil
}

// SaveLastUpdate records the last processed update id.
func (s *Store) SaveLastUpdate(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress (id, last_update, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET last_update = excluded.last_update, updated_at = CURRENT_TIMESTAMP`,
		id)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// RecordAttempt stores one generation attempt outcome.
func (s *Store) RecordAttempt(ctx context.Context, requestID, requester, kind, outcome string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (request_id, requester, kind, outcome) VALUES (?, ?, ?, ?)`,
		requestID, requester, kind, outcome)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// AttemptCounts returns attempt totals grouped by outcome.
func (s *Store) AttemptCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM attempts GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
