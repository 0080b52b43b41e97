package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vetai/backend/internal/domain/providers"
	redisclient "github.com/vetai/backend/internal/infrastructure/clients/redis"
)

func newTestRedisAdapter(t *testing.T) (providers.CacheProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisAdapter(redisclient.NewClientFromRedis(rdb)), mr
}

func TestRedisAdapter_SetGetExpire(t *testing.T) {
	adapter, mr := newTestRedisAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "graph:max:abc", []byte(`{"nodes":[]}`), 60))

	value, err := adapter.Get(ctx, "graph:max:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[]}`, string(value))

	mr.FastForward(61 * time.Second)

	_, err = adapter.Get(ctx, "graph:max:abc")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestRedisAdapter_DeletePattern(t *testing.T) {
	adapter, _ := newTestRedisAdapter(t)
	ctx := context.Background()

	for _, key := range []string{"graph:max:1", "graph:max:2", "graph:luna:1", "analytics:all"} {
		require.NoError(t, adapter.Set(ctx, key, []byte("x"), 0))
	}

	require.NoError(t, adapter.DeletePattern(ctx, providers.GraphCachePattern("max")))

	for key, want := range map[string]bool{"graph:max:1": false, "graph:max:2": false, "graph:luna:1": true, "analytics:all": true} {
		exists, err := adapter.Exists(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, exists, key)
	}
}

func TestMemoryAdapter_MatchesRedisSemantics(t *testing.T) {
	adapter := NewMemoryAdapter().(*MemoryAdapter)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "search:prompt:q1", []byte("ids"), 10))
	require.NoError(t, adapter.Set(ctx, "graph:max:1", []byte("g"), 0))

	exists, _ := adapter.Exists(ctx, "search:prompt:q1")
	assert.True(t, exists)

	now = now.Add(11 * time.Second)
	_, err := adapter.Get(ctx, "search:prompt:q1")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, adapter.DeletePattern(ctx, "graph:*"))
	exists, _ = adapter.Exists(ctx, "graph:max:1")
	assert.False(t, exists)
}
