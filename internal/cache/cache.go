// Package cache holds recently served artifact content in memory.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

// Defaults used when the configured durations are zero.
const (
	DefaultExpiration      = time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// ContentCache implements artifact.ContentCache on top of go-cache.
type ContentCache struct {
	cache *gocache.Cache
}

// New returns a cache whose entries expire after ttl.
func New(ttl, cleanupInterval time.Duration) *ContentCache {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &ContentCache{cache: gocache.New(ttl, cleanupInterval)}
}

// Get returns the cached content for id.
func (c *ContentCache) Get(id string) (artifact.Content, bool) {
	value, found := c.cache.Get(id)
	if !found {
		return artifact.Content{}, false
	}
	content, ok := value.(artifact.Content)
	if !ok {
		return artifact.Content{}, false
	}
	return content, true
}

// Set caches content under id with the default expiration.
func (c *ContentCache) Set(id string, content artifact.Content) {
	c.cache.SetDefault(id, content)
}

// Delete drops id.
func (c *ContentCache) Delete(id string) {
	c.cache.Delete(id)
}

// Flush drops every entry.
func (c *ContentCache) Flush() {
	c.cache.Flush()
}

// Len reports the number of entries, expired ones included until cleanup.
func (c *ContentCache) Len() int {
	return c.cache.ItemCount()
}

// Noop never stores anything. It is used when caching is disabled.
type Noop struct{}

// Get always misses.
func (Noop) Get(string) (artifact.Content, bool) { return artifact.Content{}, false }

// Set does nothing.
func (Noop) Set(string, artifact.Content) {}

// Delete does nothing.
func (Noop) Delete(string) {}

// Flush does nothing.
func (Noop) Flush() {}
