package artifact

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline. Callers classify with errors.Is.
var (
	ErrInvalidURL     = errors.New("invalid source url")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrFetchFailed    = errors.New("fetch failed")
	ErrParse          = errors.New("markup could not be parsed")
	ErrStoreFailed    = errors.New("store failed")
	ErrNotFound       = errors.New("artifact not found")
	// ErrExists is returned by backends when a key or id is already taken.
	ErrExists = errors.New("artifact already exists")
)

// FetchError carries the upstream reason for a failed fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap exposes the transport error, if any.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports FetchError as ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Kind is a coarse classification of a pipeline error.
type Kind string

// Kinds returned by KindOf.
const (
	KindNone           Kind = "live"
	KindInvalidURL     Kind = "invalid_url"
	KindInvalidPayload Kind = "invalid_payload"
	KindFetchFailed    Kind = "fetch_failed"
	KindParseError     Kind = "parse_error"
	KindStoreFailed    Kind = "store_failed"
	KindNotFound       Kind = "not_found"
	KindUnknown        Kind = "unknown"
)

// KindOf maps err onto one of the pipeline error kinds.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidURL):
		return KindInvalidURL
	case errors.Is(err, ErrInvalidPayload):
		return KindInvalidPayload
	case errors.Is(err, ErrFetchFailed):
		return KindFetchFailed
	case errors.Is(err, ErrParse):
		return KindParseError
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStoreFailed):
		return KindStoreFailed
	default:
		return KindUnknown
	}
}
