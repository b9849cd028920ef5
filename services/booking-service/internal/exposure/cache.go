package exposure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache remembers which slot ids were exposed for a key. Misses and backend errors look the same
// to the selector: it recomputes.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, ids []string, ttl time.Duration)
}

type entry struct {
	ids       []string
	expiresAt time.Time
}

// MemoryCache is a process-local TTL map. Expired entries are dropped on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]entry{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return append([]string(nil), e.ids...), true
}

func (c *MemoryCache) Set(_ context.Context, key string, ids []string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{ids: append([]string(nil), ids...), expiresAt: c.now().Add(ttl)}
}

// RedisCache shares exposures between replicas.
type RedisCache struct {
	rdb redis.Cmdable
}

func NewRedisCache(rdb redis.Cmdable) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

func (c *RedisCache) Set(ctx context.Context, key string, ids []string, ttl time.Duration) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, key, raw, ttl).Err()
}
