package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

func TestBlobStoreCreateObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	require.NoError(t, store.CreateObject(context.Background(), "pages/a.html", "text/html", payload, artifact.Metadata{ID: "a"}))

	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "pages/a.html")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.GetObject(context.Background(), "pages/a.html")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
}

func TestBlobStoreNeverReusesKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()
	require.NoError(t, store.CreateObject(ctx, "k", "text/html", []byte("1"), artifact.Metadata{}))
	require.ErrorIs(t, store.CreateObject(ctx, "k", "text/html", []byte("2"), artifact.Metadata{}), artifact.ErrExists)

	require.NoError(t, store.DeleteObject(ctx, "k"))
	require.Equal(t, 0, store.Len())
	require.ErrorIs(t, store.DeleteObject(ctx, "k"), artifact.ErrNotFound)
	_, err := store.GetObject(ctx, "k")
	require.ErrorIs(t, err, artifact.ErrNotFound)
	require.ErrorIs(t, store.CreateObject(ctx, "k", "text/html", []byte("3"), artifact.Metadata{}), artifact.ErrExists)
}
