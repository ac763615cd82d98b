// Package store provides a SQLite-backed query log for the retrieval
// service. Every answered question is recorded with the route the graph
// took, so operators can audit what the service answered and from where.
// Records survive server restarts.
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

// Record is one answered query.
type Record struct {
	// Question is the user's question as received.
	Question string
	// Route is the entry router's datasource decision ("vectorstore" or
	// "websearch").
	Route string
	// Hops is how many graph nodes the query executed.
	Hops int
	// WebSearch records whether the grading fallback forced a web search.
	WebSearch bool
	// Generation is the final answer returned to the caller.
	Generation string
	// CreatedAt is when the record was persisted.
	CreatedAt time.Time
}

// QueryLog persists and retrieves answered queries. Implementations must be
// safe for concurrent use.
type QueryLog interface {
	// Append persists one answered query.
	Append(ctx context.Context, rec Record) error
	// Recent returns the most recent n records, newest-first.
	// If fewer than n records exist, all are returned.
	Recent(ctx context.Context, n int) ([]Record, error)
	// Close releases any resources held by the log.
	Close() error
}

// SQLiteLog is a QueryLog backed by a local SQLite database.
type SQLiteLog struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the query log database.
// It resolves to ~/.ragflow/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragflow")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteLog at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteLog, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteLog{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteLog) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS queries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    question     TEXT    NOT NULL,
    route        TEXT    NOT NULL CHECK(route IN ('vectorstore','websearch')),
    hops         INTEGER NOT NULL,
    web_search   INTEGER NOT NULL,  -- boolean 0/1
    generation   TEXT    NOT NULL,
    created_at   INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_queries_created
    ON queries (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one answered query.
func (s *SQLiteLog) Append(ctx context.Context, rec Record) error {
	const q = `INSERT INTO queries (question, route, hops, web_search, generation, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	webSearch := 0
	if rec.WebSearch {
		webSearch = 1
	}
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, q, rec.Question, rec.Route, rec.Hops, webSearch, rec.Generation, ts.Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n records, newest-first.
func (s *SQLiteLog) Recent(ctx context.Context, n int) ([]Record, error) {
	const q = `
SELECT question, route, hops, web_search, generation, created_at
FROM   queries
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		var ts int64
		var webSearch int
		if err := rows.Scan(&r.Question, &r.Route, &r.Hops, &webSearch, &r.Generation, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		r.WebSearch = webSearch != 0
		r.CreatedAt = time.Unix(ts, 0)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return recs, nil
}

// Close releases the database connection pool.
func (s *SQLiteLog) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
