package resolver

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a distributed search-result Cache backed by go-redis,
// grounded on the teacher's direct dependency on github.com/redis/go-redis/v9
// (SPEC_FULL.md [RESOLVER]). Selected via host configuration when multiple
// host processes should share warm search results.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps client as a Cache. keyPrefix namespaces keys so
// multiple hosts can share one Redis instance.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, prefix: keyPrefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]SearchResult, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	results, err := unmarshalResults(data)
	if err != nil {
		return nil, false
	}
	return results, true
}

func (c *RedisCache) Set(ctx context.Context, key string, results []SearchResult, ttl time.Duration) {
	data, err := marshalResults(results)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, data, ttl)
}
