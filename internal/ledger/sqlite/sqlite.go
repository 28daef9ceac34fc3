// Package sqlite implements the usage ledger on an embedded SQLite file,
// the default for single-instance deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/yuegongzi/copilot-api/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS usage_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	model TEXT NOT NULL,
	schema TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_entries_account_created ON usage_entries(account_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new usage entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.AccountID == "" {
		return errors.New("ledger record requires account id")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO usage_entries(account_id, model, schema, input_tokens, output_tokens, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		entry.AccountID,
		entry.Model,
		entry.Schema,
		entry.InputTokens,
		entry.OutputTokens,
		created,
	)
	return err
}

// Summaries returns aggregated usage per account.
func (s *Store) Summaries(ctx context.Context) ([]ledger.AccountSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT account_id, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM usage_entries
GROUP BY account_id
ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AccountSummary
	for rows.Next() {
		var sum ledger.AccountSummary
		if err := rows.Scan(&sum.AccountID, &sum.Requests, &sum.InputTokens, &sum.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListRecent returns the latest entries for an account.
func (s *Store) ListRecent(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	if accountID == "" {
		return nil, errors.New("account id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, model, schema, input_tokens, output_tokens, created_at
FROM usage_entries
WHERE account_id = ?
ORDER BY created_at DESC
LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Model, &e.Schema, &e.InputTokens, &e.OutputTokens, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
