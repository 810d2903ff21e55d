// Package postgres provides a Postgres-backed artifact registry.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

const defaultTable = "artifacts"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for registry rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Registry stores artifact metadata in a single table. Rows are never
// deleted: Remove stamps deleted_at, which keeps the id reserved.
type Registry struct {
	pool  pool
	table string
}

// New connects to Postgres, creates the table if needed and returns a Registry.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	reg, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := reg.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return reg, nil
}

// NewWithPool constructs a registry from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Registry, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Registry{pool: p, table: table}, nil
}

// EnsureSchema creates the registry table and its ordering index.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	seq          BIGINT GENERATED ALWAYS AS IDENTITY,
	id           TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	payload      TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	size         BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	deleted_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_live_seq_idx ON %[1]s (seq DESC) WHERE deleted_at IS NULL`, r.table)
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", r.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (r *Registry) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Record inserts meta. An id that is already present, live or removed, is
// rejected with artifact.ErrExists.
func (r *Registry) Record(ctx context.Context, meta artifact.Metadata) error {
	if meta.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source_url,
	payload,
	content_hash,
	size,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6
) ON CONFLICT (id) DO NOTHING`, r.table)

	tag, err := r.pool.Exec(ctx, query,
		meta.ID,
		meta.SourceURL,
		meta.Payload,
		meta.ContentHash,
		int64(meta.Size),
		meta.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", meta.ID, artifact.ErrExists)
	}
	return nil
}

// List returns live rows newest first.
func (r *Registry) List(ctx context.Context) ([]artifact.Metadata, error) {
	query := fmt.Sprintf(`
SELECT id, source_url, payload, content_hash, size, created_at
FROM %s
WHERE deleted_at IS NULL
ORDER BY seq DESC`, r.table)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]artifact.Metadata, 0)
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
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
	query := fmt.Sprintf(`
SELECT id, source_url, payload, content_hash, size, created_at
FROM %s
WHERE id = $1 AND deleted_at IS NULL`, r.table)

	meta, err := scanMetadata(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return artifact.Metadata{}, fmt.Errorf("lookup %s: %w", id, artifact.ErrNotFound)
		}
		return artifact.Metadata{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	return meta, nil
}

// Remove marks the row for id as deleted.
func (r *Registry) Remove(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET deleted_at = now()
WHERE id = $1 AND deleted_at IS NULL`, r.table)

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove %s: %w", id, artifact.ErrNotFound)
	}
	return nil
}

func scanMetadata(row pgx.Row) (artifact.Metadata, error) {
	var (
		meta artifact.Metadata
		size int64
	)
	if err := row.Scan(&meta.ID, &meta.SourceURL, &meta.Payload, &meta.ContentHash, &size, &meta.CreatedAt); err != nil {
		return artifact.Metadata{}, err
	}
	meta.Size = int(size)
	meta.CreatedAt = meta.CreatedAt.UTC()
	return meta, nil
}
