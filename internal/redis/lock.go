package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockPrefix = "lock:"

// Locker is a best-effort mutual exclusion between processes sharing a
// Redis. A holder that outlives ttl loses the lock.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) *Locker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{client: client, ttl: ttl, log: log}
}

// TryRun calls fn while holding key. It reports false without calling fn
// when someone else holds the key.
func (l *Locker) TryRun(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	lockKey := lockPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	defer func() {
		// release must outlive a cancelled ctx or the key lingers until ttl
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.release(releaseCtx, lockKey, token); err != nil {
			l.log.Warn("redisclient.Locker release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return true, fn(runCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *Locker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
