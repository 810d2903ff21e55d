package artifact

import (
	"strings"
	"time"
)

// Metadata describes one generated page. All fields are immutable once the
// artifact is live.
type Metadata struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	Payload     string    `json:"payload"`
	ContentHash string    `json:"content_hash,omitempty"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact is a persisted, modified copy of a fetched page.
type Artifact struct {
	Metadata
	Content []byte `json:"-"`
}

// Markup is the raw page returned by a Fetcher.
type Markup struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Content is what the serving layer hands back for a live artifact.
type Content struct {
	ID   string
	Body []byte
	ETag string
}

// Event is published after an artifact is committed or deleted.
type Event struct {
	Type       EventType `json:"type"`
	Artifact   Metadata  `json:"artifact"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventType names an artifact lifecycle transition.
type EventType string

// Lifecycle events emitted by the pipeline.
const (
	EventCreated EventType = "artifact.created"
	EventDeleted EventType = "artifact.deleted"
)

// ViewURL joins the public base URL and the serving path for id.
func ViewURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/view/" + id
}
