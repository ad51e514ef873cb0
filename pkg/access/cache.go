package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds how long a cached grant may outlive a change made by
// another process
const DefaultCacheTTL = 30 * time.Second

// Cache holds resolved grant levels. Only positive lookups are cached.
//
// A Resolver never caches a level it read before one of its own changes
// invalidated the resource. A lookup racing a change made through another
// process, or another Resolver sharing a RedisCache, may still cache the old
// level; TTL bounds how long it stays.
type Cache interface {
	Get(ctx context.Context, subjectID int64, res Resource) (Level, bool, error)
	Set(ctx context.Context, subjectID int64, res Resource, level Level) error
	// Invalidate drops every cached level on res
	Invalidate(ctx context.Context, res Resource) error
}

func cacheKey(subjectID int64, res Resource) string {
	return fmt.Sprintf("%s%d", resourcePrefix(res), subjectID)
}

func resourcePrefix(res Resource) string {
	return fmt.Sprintf("grant:%s:%d:", res.Kind, res.ID)
}

// LRUCache is an in-process Cache with per-entry expiry
type LRUCache struct {
	cache *lru.LRU[string, Level]
}

// NewLRUCache creates a cache holding at most size entries for ttl each
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{cache: lru.NewLRU[string, Level](size, nil, ttl)}
}

// Get returns the cached level
func (c *LRUCache) Get(_ context.Context, subjectID int64, res Resource) (Level, bool, error) {
	level, ok := c.cache.Get(cacheKey(subjectID, res))
	return level, ok, nil
}

// Set caches a level
func (c *LRUCache) Set(_ context.Context, subjectID int64, res Resource, level Level) error {
	c.cache.Add(cacheKey(subjectID, res), level)
	return nil
}

// Invalidate drops every cached level on res
func (c *LRUCache) Invalidate(_ context.Context, res Resource) error {
	prefix := resourcePrefix(res)
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries
func (c *LRUCache) Len() int {
	return c.cache.Len()
}
