package access

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache shares resolved grant levels between processes
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached level. A miss is not an error.
func (c *RedisCache) Get(ctx context.Context, subjectID int64, res Resource) (Level, bool, error) {
	key := cacheKey(subjectID, res)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("redis get failed: %w", err)
	}

	var level Level
	if err := level.UnmarshalText([]byte(data)); err != nil {
		// corrupt entry
		c.client.Del(ctx, key)
		return 0, false, fmt.Errorf("failed to decode cached level: %w", err)
	}

	return level, true, nil
}

// Set caches a level
func (c *RedisCache) Set(ctx context.Context, subjectID int64, res Resource, level Level) error {
	data, err := level.MarshalText()
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(subjectID, res), data, c.ttl).Err()
}

// Invalidate removes every cached level on res
func (c *RedisCache) Invalidate(ctx context.Context, res Resource) error {
	pattern := resourcePrefix(res) + "*"

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}
