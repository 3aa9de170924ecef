// Package store provides the durable rate-limit record table: one row per
// conversation that has recorded a managed-gateway turn (spec.md §4.8, §6
// "Persisted state"). Backed by modernc.org/sqlite — no cgo, a single file
// on disk.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rate_limit_records (
	conversation_id TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	provider        TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_tenant_day ON rate_limit_records(tenant_id, created_at);
`

// Record is one row of rate_limit_records.
type Record struct {
	ConversationID string
	TenantID       string
	Provider       string
	CreatedAt      time.Time
}

// Store wraps the sqlite-backed rate-limit table.
type Store struct {
	db *sql.DB
}

// Open creates or opens the rate-limit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rate limit db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Insert records one conversation's managed-gateway usage, ignoring the
// call if the conversation id is already recorded (spec §4.8: "insert-or-
// ignore keyed on conversationId so that multiple turns within one
// conversation count exactly once").
func (s *Store) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rate_limit_records (conversation_id, tenant_id, provider, created_at) VALUES (?, ?, ?, ?)",
		rec.ConversationID, rec.TenantID, rec.Provider, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert rate limit record: %w", err)
	}
	return nil
}

// CountSince returns how many distinct conversations tenantID has recorded
// at or after since (spec §4.8: "today's count, calendar day, server local").
func (s *Store) CountSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rate_limit_records WHERE tenant_id = ? AND created_at >= ?",
		tenantID, since.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rate limit records: %w", err)
	}
	return count, nil
}
