package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

// Registry keeps artifact metadata in creation order.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	entries    map[string]artifact.Metadata
	tombstones map[string]struct{}
}

// NewRegistry constructs a Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:    make(map[string]artifact.Metadata),
		tombstones: make(map[string]struct{}),
	}
}

// Record appends meta. Ids that are live or were removed are rejected.
func (r *Registry) Record(_ context.Context, meta artifact.Metadata) error {
	if meta.ID == "" {
		return fmt.Errorf("record: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[meta.ID]; ok {
		return fmt.Errorf("record %s: %w", meta.ID, artifact.ErrExists)
	}
	if _, ok := r.tombstones[meta.ID]; ok {
		return fmt.Errorf("record %s: removed id: %w", meta.ID, artifact.ErrExists)
	}
	r.entries[meta.ID] = meta
	r.order = append(r.order, meta.ID)
	return nil
}

// List returns a copy of the live entries, newest first.
func (r *Registry) List(_ context.Context) ([]artifact.Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]artifact.Metadata, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.entries[r.order[i]])
	}
	return out, nil
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(_ context.Context, id string) (artifact.Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.entries[id]
	if !ok {
		return artifact.Metadata{}, fmt.Errorf("lookup %s: %w", id, artifact.ErrNotFound)
	}
	return meta, nil
}

// Remove deletes the entry for id and tombstones it.
func (r *Registry) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, artifact.ErrNotFound)
	}
	delete(r.entries, id)
	r.tombstones[id] = struct{}{}
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	return nil
}
