// Package cache holds the in-memory caches the API layer keeps in front of
// the panel: resolved stream URLs and fetched catalogs.
package cache

import (
	"time"

	"github.com/maypok86/otter/v2"

	"xtream-resolver/work/metrics"
	"xtream-resolver/work/resolver"
)

// Store is a size-bounded cache with write-based expiry. A nil *Store is a
// valid, always-empty cache, which is how "cache disabled" is expressed.
type Store[V any] struct {
	name  string
	cache *otter.Cache[string, V]
}

// NewStore creates a store holding at most maxSize entries for ttl each.
func NewStore[V any](name string, maxSize int, ttl time.Duration) *Store[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Store[V]{
		name: name,
		cache: otter.Must(&otter.Options[string, V]{
			MaximumSize:      maxSize,
			ExpiryCalculator: otter.ExpiryWriting[string, V](ttl),
		}),
	}
}

// Get returns the cached value for key if present and not expired.
func (s *Store[V]) Get(key string) (V, bool) {
	if s == nil {
		var zero V
		return zero, false
	}

	v, ok := s.cache.GetIfPresent(key)
	if ok {
		metrics.CacheLookups.WithLabelValues(s.name, "hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues(s.name, "miss").Inc()
	}
	return v, ok
}

// Set stores value under key.
func (s *Store[V]) Set(key string, value V) {
	if s == nil {
		return
	}
	s.cache.Set(key, value)
}

// Invalidate drops key.
func (s *Store[V]) Invalidate(key string) {
	if s == nil {
		return
	}
	s.cache.Invalidate(key)
}

// Clear drops every entry.
func (s *Store[V]) Clear() {
	if s == nil {
		return
	}
	s.cache.InvalidateAll()
}

// Len is the approximate number of live entries.
func (s *Store[V]) Len() int {
	if s == nil {
		return 0
	}
	return s.cache.EstimatedSize()
}

// ResolveCache remembers verified resolutions so replaying an item skips the
// probe walk. Guesses carrying a Failure marker are never stored.
type ResolveCache struct {
	store *Store[resolver.ResolvedStream]
}

// NewResolveCache returns a cache, or a disabled one when enabled is false.
func NewResolveCache(enabled bool, maxSize int, ttl time.Duration) *ResolveCache {
	if !enabled {
		return &ResolveCache{}
	}
	return &ResolveCache{store: NewStore[resolver.ResolvedStream]("resolve", maxSize, ttl)}
}

// ResolveKey identifies a descriptor on one panel login. base should be the
// normalized server URL so equivalent spellings share an entry. The container
// hint is part of the key since it can change the candidate order.
func ResolveKey(base string, s resolver.Session, d resolver.ContentDescriptor) string {
	return base + "|" + s.Username + "|" + d.Key() + "|" + d.Hint()
}

// Get returns a cached resolution.
func (c *ResolveCache) Get(key string) (resolver.ResolvedStream, bool) {
	return c.store.Get(key)
}

// Put stores a successful resolution and ignores failed ones.
func (c *ResolveCache) Put(key string, rs resolver.ResolvedStream) {
	if rs.Failed() {
		return
	}
	c.store.Set(key, rs)
}

// Invalidate drops a resolution, used when the player reports it broken.
func (c *ResolveCache) Invalidate(key string) {
	c.store.Invalidate(key)
}

// Enabled reports whether entries are kept at all.
func (c *ResolveCache) Enabled() bool {
	return c.store != nil
}
