package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisLockCommander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisLocker is a Locker backed by Redis SET NX, for deployments running
// more than one instance against a shared store.
type RedisLocker struct {
	client    redisLockCommander
	namespace string
}

// NewRedisLocker creates a Redis-backed locker. Keys are prefixed with
// namespace, defaulting to "contrib-board".
func NewRedisLocker(client redis.UniversalClient, namespace string) *RedisLocker {
	return newRedisLockerFromCommander(client, namespace)
}

func newRedisLockerFromCommander(client redisLockCommander, namespace string) *RedisLocker {
	if namespace == "" {
		namespace = "contrib-board"
	}
	return &RedisLocker{client: client, namespace: namespace}
}

// Acquire takes the key with SET NX and the given ttl. Redis expiry reclaims
// holds abandoned by a crashed instance.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redis locker not configured")
	}
	if ttl <= 0 {
		return true, nil
	}

	acquired, err := l.client.SetNX(ctx, l.prefixed(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	return acquired, nil
}

// Release deletes the key.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("redis locker not configured")
	}
	if err := l.client.Del(ctx, l.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}

func (l *RedisLocker) prefixed(suffix string) string {
	return l.namespace + ":lock:" + suffix
}
