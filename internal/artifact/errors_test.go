package artifact

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchErrorIsFetchFailed(t *testing.T) {
	t.Parallel()

	statusErr := &FetchError{URL: "https://example.com", StatusCode: 503}
	require.ErrorIs(t, statusErr, ErrFetchFailed)
	require.Contains(t, statusErr.Error(), "503")

	timeoutErr := fmt.Errorf("create: %w", &FetchError{URL: "https://example.com", Err: context.DeadlineExceeded})
	require.ErrorIs(t, timeoutErr, ErrFetchFailed)
	require.ErrorIs(t, timeoutErr, context.DeadlineExceeded)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	cases := map[Kind]error{
		KindNone:           nil,
		KindInvalidURL:     fmt.Errorf("validate: %w", ErrInvalidURL),
		KindInvalidPayload: ErrInvalidPayload,
		KindFetchFailed:    &FetchError{StatusCode: 404},
		KindParseError:     fmt.Errorf("inject: %w", ErrParse),
		KindStoreFailed:    fmt.Errorf("put: %w", ErrStoreFailed),
		KindNotFound:       fmt.Errorf("get: %w", ErrNotFound),
		KindUnknown:        errors.New("boom"),
	}
	for want, err := range cases {
		require.Equal(t, want, KindOf(err), "error %v", err)
	}
}

func TestViewURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://pages.example/view/abc", ViewURL("https://pages.example/", "abc"))
	require.Equal(t, "/view/abc", ViewURL("", "abc"))
}
