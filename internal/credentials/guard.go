package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard serializes regeneration per talk. Acquire reports false when another
// regeneration of the same talk is in flight.
type Guard interface {
	Acquire(ctx context.Context, talkID uuid.UUID, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalGuard is an in-process guard.
type LocalGuard struct {
	inflight sync.Map
}

// NewLocalGuard creates an in-process guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

// Acquire implements Guard. ttl is ignored; the flag lives until release.
func (g *LocalGuard) Acquire(_ context.Context, talkID uuid.UUID, _ time.Duration) (func(), bool, error) {
	if _, loaded := g.inflight.LoadOrStore(talkID, struct{}{}); loaded {
		return nil, false, nil
	}
	return func() { g.inflight.Delete(talkID) }, true, nil
}

const guardKeyPrefix = "credential:regen:"

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard holds the in-flight flag in Redis so it spans instances.
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard creates a Redis-backed guard.
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// Acquire implements Guard with SET NX PX. The lock expires after ttl even if the
// holder dies before releasing.
func (g *RedisGuard) Acquire(ctx context.Context, talkID uuid.UUID, ttl time.Duration) (func(), bool, error) {
	key := guardKeyPrefix + talkID.String()
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire regeneration guard: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.client, []string{key}, token).Err()
	}
	return release, true, nil
}
