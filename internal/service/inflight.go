package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InFlightGuard gives per-product mutual exclusion for Advance.
type InFlightGuard interface {
	// TryAcquire claims id. It returns false without blocking when id is already held.
	TryAcquire(ctx context.Context, id string) (bool, error)
	// Release gives id back. Releasing an id that is not held is a no-op.
	Release(ctx context.Context, id string)
	// Held lists the ids claimed by this process, sorted.
	Held() []string
}

// MemoryGuard is an InFlightGuard for a single process.
type MemoryGuard struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{ids: make(map[string]struct{})}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.ids[id]; held {
		return false, nil
	}
	g.ids[id] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, id string) {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
}

func (g *MemoryGuard) Held() []string {
	g.mu.Lock()
	ids := make([]string, 0, len(g.ids))
	for id := range g.ids {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// releaseScript deletes the lock only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares in-flight claims between several conveyor instances with SETNX.
// The TTL bounds how long a crashed holder blocks a product.
type RedisGuard struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	token     string
	local     *MemoryGuard
}

// NewRedisGuard creates a guard on an existing client.
func NewRedisGuard(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisGuard {
	if keyPrefix == "" {
		keyPrefix = "conveyor:inflight:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGuard{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		token:     uuid.NewString(),
		local:     NewMemoryGuard(),
	}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, id string) (bool, error) {
	ok, err := g.local.TryAcquire(ctx, id)
	if !ok || err != nil {
		return ok, err
	}

	set, err := g.client.SetNX(ctx, g.keyPrefix+id, g.token, g.ttl).Result()
	if err != nil {
		g.local.Release(ctx, id)
		return false, fmt.Errorf("failed to claim %s in redis: %w", id, err)
	}
	if !set {
		g.local.Release(ctx, id)
		return false, nil
	}
	return true, nil
}

func (g *RedisGuard) Release(ctx context.Context, id string) {
	// A cancelled caller context must not leave the key behind until the TTL expires.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = releaseScript.Run(releaseCtx, g.client, []string{g.keyPrefix + id}, g.token).Err()
	g.local.Release(ctx, id)
}

func (g *RedisGuard) Held() []string {
	return g.local.Held()
}
