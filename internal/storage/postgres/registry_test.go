package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

var columns = []string{"id", "source_url", "payload", "content_hash", "size", "created_at"}

func newMockRegistry(t *testing.T) (*Registry, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	reg, err := NewWithPool(mock, "artifacts")
	require.NoError(t, err)
	return reg, mock
}

func TestRecordInsertsRow(t *testing.T) {
	t.Parallel()

	reg, mock := newMockRegistry(t)
	now := time.Unix(1700000000, 0).UTC()
	meta := artifact.Metadata{
		ID:          "0b6f4a0e-9a51-4d3c-8f2e-5c9a1d2e3f40",
		SourceURL:   "https://example.com",
		Payload:     "PIXEL123",
		ContentHash: "abc123",
		Size:        42,
		CreatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO artifacts").
		WithArgs(meta.ID, meta.SourceURL, meta.Payload, meta.ContentHash, int64(42), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, reg.Record(context.Background(), meta))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordExistingID(t *testing.T) {
	t.Parallel()

	reg, mock := newMockRegistry(t)
	mock.ExpectExec("INSERT INTO artifacts").
		WithArgs("dup", "", "", "", int64(0), time.Time{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := reg.Record(context.Background(), artifact.Metadata{ID: "dup"})
	require.ErrorIs(t, err, artifact.ErrExists)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, reg.Record(context.Background(), artifact.Metadata{}))
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	reg, mock := newMockRegistry(t)
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	mock.ExpectQuery("SELECT id, source_url, payload, content_hash, size, created_at FROM artifacts WHERE deleted_at IS NULL ORDER BY seq DESC").
		WillReturnRows(mock.NewRows(columns).
			AddRow("b", "https://b.example", "B", "hb", int64(2), t2).
			AddRow("a", "https://a.example", "A", "ha", int64(1), t1))

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []artifact.Metadata{
		{ID: "b", SourceURL: "https://b.example", Payload: "B", ContentHash: "hb", Size: 2, CreatedAt: t2},
		{ID: "a", SourceURL: "https://a.example", Payload: "A", ContentHash: "ha", Size: 1, CreatedAt: t1},
	}, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueryError(t *testing.T) {
	t.Parallel()

	reg, mock := newMockRegistry(t)
	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("connection reset"))

	_, err := reg.List(context.Background())
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookup(t *testing.T) {
	t.Parallel()

	reg, mock := newMockRegistry(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, source_url").
		WithArgs("a").
		WillReturnRows(mock.NewRows(columns).AddRow("a", "https://a.example", "A", "ha", int64(1), created))
	mock.ExpectQuery("SELECT id, source_url").
		WithArgs("gone").
		WillReturnRows(mock.NewRows(columns))

	meta, err := reg.Lookup(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "https://a.example", meta.SourceURL)

	_, err = reg.Lookup(context.Background(), "gone")
	require.ErrorIs(t, err, artifact.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveSoftDeletes(t *testing.T) {
	t.Parallel()

	reg, mock := newMockRegistry(t)
	mock.ExpectExec("UPDATE artifacts SET deleted_at = now\\(\\) WHERE id = \\$1 AND deleted_at IS NULL").
		WithArgs("a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE artifacts").
		WithArgs("a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, reg.Remove(context.Background(), "a"))
	require.ErrorIs(t, reg.Remove(context.Background(), "a"), artifact.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	reg, mock := newMockRegistry(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS artifacts").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, reg.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "artifacts")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "artifacts; DROP TABLE x")
	require.Error(t, err)

	reg, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, defaultTable, reg.table)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
