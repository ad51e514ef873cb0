package access

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(8, time.Minute)

	_, ok, err := cache.Get(ctx, 1, Group(1))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, 1, Group(1), LevelEdit))
	require.NoError(t, cache.Set(ctx, 2, Group(1), LevelView))
	require.NoError(t, cache.Set(ctx, 1, Group(11), LevelOwner))

	level, ok, err := cache.Get(ctx, 1, Group(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, LevelEdit, level)

	require.NoError(t, cache.Invalidate(ctx, Group(1)))
	assert.Equal(t, 1, cache.Len())

	// group 11 shares the "grant:group:1" text prefix but must survive
	level, ok, _ = cache.Get(ctx, 1, Group(11))
	assert.True(t, ok)
	assert.Equal(t, LevelOwner, level)
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, time.Minute), mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)

	_, ok, err := cache.Get(ctx, 1, Survey(2))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, 1, Survey(2), LevelOwner))
	require.NoError(t, cache.Set(ctx, 5, Survey(2), LevelView))
	require.NoError(t, cache.Set(ctx, 1, Survey(20), LevelEdit))

	got, err := mr.Get("grant:survey:2:1")
	require.NoError(t, err)
	assert.Equal(t, "owner", got)
	assert.Equal(t, time.Minute, mr.TTL("grant:survey:2:1"))

	level, ok, err := cache.Get(ctx, 1, Survey(2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, LevelOwner, level)

	require.NoError(t, cache.Invalidate(ctx, Survey(2)))
	assert.False(t, mr.Exists("grant:survey:2:1"))
	assert.False(t, mr.Exists("grant:survey:2:5"))
	assert.True(t, mr.Exists("grant:survey:20:1"))
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)
	require.NoError(t, mr.Set("grant:group:3:1", "superuser"))

	_, ok, err := cache.Get(ctx, 1, Group(3))
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("grant:group:3:1"))
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)
	require.NoError(t, cache.Set(ctx, 1, Group(3), LevelEdit))

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, 1, Group(3))
	require.NoError(t, err)
	assert.False(t, ok)
}
