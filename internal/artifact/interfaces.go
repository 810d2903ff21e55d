package artifact

import (
	"context"
	"time"
)

// Fetcher retrieves raw markup for a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (Markup, error)
}

// Injector inserts a snippet into the head of fetched markup.
type Injector interface {
	Inject(raw Markup, snippet string) ([]byte, error)
}

// SnippetRenderer turns a caller payload into the markup that gets injected.
type SnippetRenderer interface {
	Render(payload string) (string, error)
}

// Store persists artifact content under generated ids.
type Store interface {
	Put(ctx context.Context, content []byte, meta Metadata) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// BlobStore is the backend a Store writes objects to. CreateObject must fail
// with ErrExists rather than overwrite.
type BlobStore interface {
	CreateObject(ctx context.Context, key string, contentType string, data []byte, meta Metadata) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// Registry indexes artifact metadata.
type Registry interface {
	Record(ctx context.Context, meta Metadata) error
	// List returns live entries newest first.
	List(ctx context.Context) ([]Metadata, error)
	Lookup(ctx context.Context, id string) (Metadata, error)
	Remove(ctx context.Context, id string) error
}

// ContentCache holds served content by id.
type ContentCache interface {
	Get(id string) (Content, bool)
	Set(id string, content Content)
	Delete(id string)
	Flush()
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces artifact ids.
type IDGenerator interface {
	NewID() (string, error)
}
