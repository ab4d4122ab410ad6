//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-contracts/internal/cache"
)

// newRedisClient connects to the Redis instance named by REDIS_ADDR.
// The test is skipped when no instance is configured.
func newRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.NewRedisStore(newRedisClient(t)))

	require.NoError(t, c.Set(ctx, "market", "quote", map[string]any{"s": "A"}, []byte("v"), "text/plain", time.Minute))
	require.NoError(t, c.Set(ctx, "market", "volume", nil, []byte("w"), "text/plain", time.Minute))

	entry, ok := c.Get(ctx, "market", "quote", map[string]any{"s": "A"})
	require.True(t, ok)
	assert.Equal(t, []byte("v"), entry.Value)

	n, err := c.Invalidate(ctx, "market:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
