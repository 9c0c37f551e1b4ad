// Package store is the sqlite-backed corpus: documents, curated gold answers,
// oversize-page bookkeeping and the verdict provenance log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed row does not exist
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	content       TEXT NOT NULL,
	source_title  TEXT,
	source_url    TEXT,
	source_file   TEXT,
	content_hash  TEXT NOT NULL UNIQUE,
	embedding     BLOB,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_source_url ON documents(source_url);

CREATE TABLE IF NOT EXISTS gold_answers (
	id                  TEXT PRIMARY KEY,
	question            TEXT NOT NULL,
	gold_answer         TEXT NOT NULL,
	sources_json        TEXT,
	human_confidence    REAL NOT NULL DEFAULT 0,
	verified_by         TEXT,
	last_verified       TEXT,
	question_embedding  BLOB,
	answer_embedding    BLOB
);

CREATE TABLE IF NOT EXISTS large_files (
	url         TEXT PRIMARY KEY,
	size_bytes  INTEGER NOT NULL,
	checked_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verdict_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	verdict_id     TEXT NOT NULL,
	policy         TEXT NOT NULL,
	decision       TEXT NOT NULL,
	overall_score  REAL NOT NULL,
	claim_count    INTEGER NOT NULL,
	created_at     TEXT NOT NULL
);
`

// SQLite is the corpus store
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
// ":memory:" gives a private in-process database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
