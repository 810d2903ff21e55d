// Package memory provides in-process artifact backends for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

type object struct {
	data        []byte
	contentType string
	meta        artifact.Metadata
}

// BlobStore keeps objects in a map. Deleted keys are remembered so they can
// never be created again.
type BlobStore struct {
	mu         sync.RWMutex
	objects    map[string]object
	tombstones map[string]struct{}
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects:    make(map[string]object),
		tombstones: make(map[string]struct{}),
	}
}

// CreateObject stores a copy of data under key unless the key was ever used.
func (s *BlobStore) CreateObject(
	_ context.Context,
	key string,
	contentType string,
	data []byte,
	meta artifact.Metadata,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return fmt.Errorf("object %s: %w", key, artifact.ErrExists)
	}
	if _, ok := s.tombstones[key]; ok {
		return fmt.Errorf("object %s was deleted: %w", key, artifact.ErrExists)
	}
	s.objects[key] = object{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		meta:        meta,
	}
	return nil
}

// GetObject returns a copy of the bytes stored under key.
func (s *BlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// DeleteObject removes key and tombstones it.
func (s *BlobStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, artifact.ErrNotFound)
	}
	delete(s.objects, key)
	s.tombstones[key] = struct{}{}
	return nil
}

// Len returns the number of live objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
