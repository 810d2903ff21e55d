// Package sqlite provides a single-node artifact registry on an SQLite file,
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	source_url   TEXT NOT NULL,
	payload      TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	deleted_at   TEXT
);
CREATE INDEX IF NOT EXISTS artifacts_live_seq_idx ON artifacts (deleted_at, seq);`

// Registry stores artifact metadata in SQLite. Removed rows stay in the table
// with deleted_at set so their ids are never reissued.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("registry.sqlite_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record inserts meta, rejecting ids that were ever recorded.
func (r *Registry) Record(ctx context.Context, meta artifact.Metadata) error {
	if meta.ID == "" {
		return fmt.Errorf("record id is required")
	}
	res, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO artifacts (id, source_url, payload, content_hash, size, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.SourceURL, meta.Payload, meta.ContentHash, meta.Size,
		meta.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", meta.ID, artifact.ErrExists)
	}
	return nil
}

// List returns live rows newest first.
func (r *Registry) List(ctx context.Context) ([]artifact.Metadata, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, source_url, payload, content_hash, size, created_at
FROM artifacts
WHERE deleted_at IS NULL
ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]artifact.Metadata, 0)
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

// Lookup returns the live row for id.
func (r *Registry) Lookup(ctx context.Context, id string) (artifact.Metadata, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, source_url, payload, content_hash, size, created_at
FROM artifacts
WHERE id = ? AND deleted_at IS NULL`, id)
	meta, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return artifact.Metadata{}, fmt.Errorf("lookup %s: %w", id, artifact.ErrNotFound)
		}
		return artifact.Metadata{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	return meta, nil
}

// Remove marks the row for id as deleted.
func (r *Registry) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE artifacts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("remove %s: %w", id, artifact.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row scanner) (artifact.Metadata, error) {
	var (
		meta    artifact.Metadata
		created string
	)
	if err := row.Scan(&meta.ID, &meta.SourceURL, &meta.Payload, &meta.ContentHash, &meta.Size, &created); err != nil {
		return artifact.Metadata{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	meta.CreatedAt = ts.UTC()
	return meta, nil
}
