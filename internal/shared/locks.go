package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OrderSequenceLockKey is the redis key guarding DO number allocation.
func OrderSequenceLockKey() string {
	return "orders:do-sequence:lock"
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out SET NX locks with owner tokens.
type RedisLocker struct {
	client *redis.Client
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker returns a locker that waits up to wait for a held lock.
func NewRedisLocker(client *redis.Client, wait time.Duration) *RedisLocker {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &RedisLocker{client: client, wait: wait, retry: 25 * time.Millisecond}
}

// Acquire blocks until key is held or the wait budget runs out. The returned
// release func only deletes the key while this caller still owns it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire %s: %w", key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("shared: acquire %s: %w", key, ErrLockBusy)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
