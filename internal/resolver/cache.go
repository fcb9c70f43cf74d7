package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Cache stores Search results keyed by a deterministic (scope, query, space)
// hash. A miss always falls through to a full scan (spec SPEC_FULL.md
// [RESOLVER]: "cache is an optimization, never a source of truth").
type Cache interface {
	Get(ctx context.Context, key string) ([]SearchResult, bool)
	Set(ctx context.Context, key string, results []SearchResult, ttl time.Duration)
}

// CacheKey derives a stable cache key for a search request.
func CacheKey(scope, query string, space *string) string {
	s := ""
	if space != nil {
		s = *space
	}
	sum := sha256.Sum256([]byte(scope + "\x00" + query + "\x00" + s))
	return hex.EncodeToString(sum[:])
}

// memoryCache is a simple in-process TTL cache: entries expire, but none is
// evicted for size. A Resolver uses no cache at all unless one is installed
// with WithCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	results []SearchResult
	expires time.Time
}

// NewMemoryCache returns a Cache backed by an in-process map.
func NewMemoryCache() Cache {
	return &memoryCache{entries: make(map[string]cacheEntry)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.results, true
}

func (c *memoryCache) Set(_ context.Context, key string, results []SearchResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{results: results, expires: time.Now().Add(ttl)}
}

// marshalResults/unmarshalResults are used by the Redis-backed cache to
// serialize SearchResult slices.
func marshalResults(results []SearchResult) ([]byte, error) { return json.Marshal(results) }

func unmarshalResults(data []byte) ([]SearchResult, error) {
	var out []SearchResult
	err := json.Unmarshal(data, &out)
	return out, err
}
