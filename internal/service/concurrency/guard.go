// Package concurrency keeps at most one orchestration cycle per campaign running.
package concurrency

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Guard hands out per-campaign cycle leases. A false result means another cycle holds the lease.
type Guard interface {
	TryAcquire(ctx context.Context, campaignID uuid.UUID) (release func(), ok bool, err error)
}

// RedisGuard leases through SET NX PX so cycles are exclusive across processes.
// The lease expires after ttl if its holder dies.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// NewRedisGuard constructs a Redis-backed guard.
func NewRedisGuard(client *redis.Client, ttl time.Duration, prefix string) *RedisGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if prefix == "" {
		prefix = "dialer:cycle"
	}
	return &RedisGuard{client: client, ttl: ttl, prefix: prefix}
}

// TryAcquire takes the campaign lease if it is free.
func (g *RedisGuard) TryAcquire(ctx context.Context, campaignID uuid.UUID) (func(), bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	key := g.key(campaignID)
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("concurrency acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// the caller's context may already be cancelled at release time
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, g.client, []string{key}, token).Err()
	}
	return release, true, nil
}

func (g *RedisGuard) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", g.prefix, campaignID.String())
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("concurrency token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// LocalGuard leases within one process.
type LocalGuard struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewLocalGuard constructs an in-process guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{running: make(map[uuid.UUID]struct{})}
}

// TryAcquire takes the campaign lease if it is free.
func (g *LocalGuard) TryAcquire(_ context.Context, campaignID uuid.UUID) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[campaignID]; busy {
		return nil, false, nil
	}
	g.running[campaignID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, campaignID)
			g.mu.Unlock()
		})
	}, true, nil
}
