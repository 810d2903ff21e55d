package policy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

type countingFetcher struct {
	calls atomic.Int32
}

func (f *countingFetcher) Fetch(_ context.Context, sourceURL string) (artifact.Markup, error) {
	f.calls.Add(1)
	return artifact.Markup{URL: sourceURL, StatusCode: 200, Body: []byte("<html></html>")}, nil
}

func TestFetcher_BlockedHost(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	f := NewFetcher(next, Config{BlockedDomains: []string{"*.internal", "169.254.169.254"}})

	for _, u := range []string{"http://metadata.internal/x", "http://169.254.169.254/latest"} {
		_, err := f.Fetch(context.Background(), u)
		require.ErrorIs(t, err, artifact.ErrInvalidURL, u)
	}
	require.Zero(t, next.calls.Load())

	markup, err := f.Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", markup.URL)
	require.EqualValues(t, 1, next.calls.Load())
}

func TestFetcher_RateLimitHonorsContext(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	f := NewFetcher(next, Config{RateLimitRPS: 0.01, RateLimitBurst: 1})

	_, err := f.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, "https://example.com/b")
	require.ErrorIs(t, err, artifact.ErrFetchFailed)
	var fetchErr *artifact.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.EqualValues(t, 1, next.calls.Load())
}

func TestFetcher_InvalidURLSkipsRateLimit(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	f := NewFetcher(next, Config{RateLimitRPS: 0.01, RateLimitBurst: 1})

	_, err := f.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, raw := range []string{"ftp://example.com/file", "https://", "not a url", ""} {
		start := time.Now()
		_, err = f.Fetch(ctx, raw)
		require.ErrorIs(t, err, artifact.ErrInvalidURL, raw)
		require.NotErrorIs(t, err, artifact.ErrFetchFailed, raw)
		require.Less(t, time.Since(start), time.Second)
	}
	require.EqualValues(t, 1, next.calls.Load())
}
