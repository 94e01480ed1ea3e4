// Package store provides a SQLite-backed question/answer history for the
// docrag pipeline. Each vector store collection has its own history thread.
// Turns are persisted across restarts and exposed through the CLI and the
// server's history endpoint.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Turn is a single question/answer exchange.
type Turn struct {
	// Question is the user's question as asked.
	Question string
	// Answer is the generated (or short-circuited) answer.
	Answer string
	// Sources names the documents that contributed retrieved context.
	Sources string
	// CreatedAt is when the turn was persisted.
	CreatedAt time.Time
}

// HistoryStore persists and retrieves question/answer turns keyed by
// collection name. Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists a single turn for the given collection.
	Append(ctx context.Context, collection string, turn Turn) error
	// Recent returns the most recent n turns for the collection, ordered
	// oldest-first for display. If fewer than n turns exist, all are returned.
	Recent(ctx context.Context, collection string, n int) ([]Turn, error)
	// Clear removes all turns for the collection.
	Clear(ctx context.Context, collection string) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database.
// It resolves to ~/.docrag/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS qa_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    collection   TEXT    NOT NULL,
    question     TEXT    NOT NULL,
    answer       TEXT    NOT NULL,
    sources      TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_qa_history_collection_created
    ON qa_history (collection, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists a single turn for the given collection.
func (s *SQLiteStore) Append(ctx context.Context, collection string, turn Turn) error {
	const q = `INSERT INTO qa_history (collection, question, answer, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, collection, turn.Question, turn.Answer, turn.Sources, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n turns for the collection, ordered
// oldest-first. Uses a subquery to select the tail then re-order for display.
func (s *SQLiteStore) Recent(ctx context.Context, collection string, n int) ([]Turn, error) {
	const q = `
SELECT question, answer, sources, created_at FROM (
    SELECT id, question, answer, sources, created_at
    FROM   qa_history
    WHERE  collection = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, collection, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var ts int64
		if err := rows.Scan(&t.Question, &t.Answer, &t.Sources, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		t.CreatedAt = time.Unix(ts, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return turns, nil
}

// Clear removes all turns for the collection.
func (s *SQLiteStore) Clear(ctx context.Context, collection string) error {
	const q = `DELETE FROM qa_history WHERE collection = ?`
	if _, err := s.db.ExecContext(ctx, q, collection); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
