// Package storage persists artifact content under freshly generated ids.
//
// Store composes an artifact.BlobStore backend (memory, local filesystem or
// GCS) with an id generator. Backends create objects with create-if-absent
// semantics; Store retries id generation on collision so an id is never
// reassigned, including ids whose artifacts were deleted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

const (
	// DefaultPrefix is the object key prefix used when none is configured.
	DefaultPrefix = "pages"
	// DefaultContentType is recorded on stored objects.
	DefaultContentType = "text/html; charset=utf-8"

	maxIDAttempts = 3
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id is URL-safe and usable as a single key segment.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Config holds key layout settings.
type Config struct {
	Prefix      string
	ContentType string
}

// Store implements artifact.Store.
type Store struct {
	blobs       artifact.BlobStore
	ids         artifact.IDGenerator
	prefix      string
	contentType string
}

// New constructs a Store.
func New(blobs artifact.BlobStore, ids artifact.IDGenerator, cfg Config) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Store{blobs: blobs, ids: ids, prefix: prefix, contentType: contentType}, nil
}

// Key returns the object key for id.
func (s *Store) Key(id string) string {
	return path.Join(s.prefix, id+".html")
}

// Put writes content under a new id and returns it. meta.ID is ignored.
func (s *Store) Put(ctx context.Context, content []byte, meta artifact.Metadata) (string, error) {
	for range maxIDAttempts {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("%w: %w", artifact.ErrStoreFailed, err)
		}
		if !ValidID(id) {
			return "", fmt.Errorf("%w: generated id %q is not url-safe", artifact.ErrStoreFailed, id)
		}
		meta.ID = id
		err = s.blobs.CreateObject(ctx, s.Key(id), s.contentType, content, meta)
		switch {
		case err == nil:
			return id, nil
		case errors.Is(err, artifact.ErrExists):
			continue
		default:
			return "", fmt.Errorf("%w: put %s: %w", artifact.ErrStoreFailed, id, err)
		}
	}
	return "", fmt.Errorf("%w: no unused id after %d attempts", artifact.ErrStoreFailed, maxIDAttempts)
}

// Get returns the stored bytes for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("get %q: %w", id, artifact.ErrNotFound)
	}
	data, err := s.blobs.GetObject(ctx, s.Key(id))
	if err != nil {
		return nil, classify("get", id, err)
	}
	return data, nil
}

// Delete removes the content for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("delete %q: %w", id, artifact.ErrNotFound)
	}
	if err := s.blobs.DeleteObject(ctx, s.Key(id)); err != nil {
		return classify("delete", id, err)
	}
	return nil
}

func classify(op, id string, err error) error {
	if errors.Is(err, artifact.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return fmt.Errorf("%w: %s %s: %w", artifact.ErrStoreFailed, op, id, err)
}
