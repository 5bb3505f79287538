package service

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGuard()

	ok, err := g.TryAcquire(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.TryAcquire(ctx, "b")
	assert.False(t, ok, "second claim fails")

	ok, _ = g.TryAcquire(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, g.Held())

	g.Release(ctx, "b")
	g.Release(ctx, "unknown")
	assert.Equal(t, []string{"a"}, g.Held())

	ok, _ = g.TryAcquire(ctx, "b")
	assert.True(t, ok, "released id can be claimed again")
}

func TestMemoryGuard_ConcurrentClaims(t *testing.T) {
	g := NewMemoryGuard()
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.TryAcquire(context.Background(), "42"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

// TestRedisGuard needs a live redis; set CONVEYOR_TEST_REDIS_ADDR=localhost:6379 to run it.
func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("CONVEYOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONVEYOR_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "conveyor:test:" + uuid.NewString() + ":"
	first := NewRedisGuard(client, prefix, time.Minute)
	second := NewRedisGuard(client, prefix, time.Minute)

	ok, err := first.TryAcquire(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"42"}, first.Held())

	ok, err = second.TryAcquire(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok, "another instance cannot claim a held id")
	assert.Empty(t, second.Held())

	second.Release(ctx, "42")
	ok, _ = second.TryAcquire(ctx, "42")
	assert.False(t, ok, "release by a non-holder leaves the claim in place")

	first.Release(ctx, "42")
	ok, err = second.TryAcquire(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	second.Release(ctx, "42")
}
