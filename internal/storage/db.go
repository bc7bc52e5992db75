package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database. Supported drivers are "sqlite3"
// and "postgres".
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// schema is kept to the type subset both sqlite and postgres accept.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		storage_ref TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL DEFAULT '',
		page_count INTEGER NOT NULL DEFAULT 0,
		parse_tier TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		number INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		sequence_index INTEGER NOT NULL,
		page_number INTEGER,
		text TEXT NOT NULL DEFAULT '',
		embedding TEXT,
		is_visual BOOLEAN NOT NULL DEFAULT FALSE,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (document_id, sequence_index)
	)`,
	`CREATE TABLE IF NOT EXISTS extracted_metrics (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		metrics TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 0,
		merge_policy TEXT NOT NULL DEFAULT '',
		issues TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_document ON extracted_metrics(document_id)`,
}

// EnsureSchema creates the tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
