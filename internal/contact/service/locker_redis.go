package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "coalesce/pkg/domain-errors"
)

// redisLocker serializes pipelines across instances with per-value SET NX
// locks. Locks are acquired in sorted key order, each fenced by a random
// token so only the holder can release it.
type redisLocker struct {
	client       *redis.Client
	ttl          time.Duration
	retryBackoff time.Duration
}

const (
	redisLockPrefix  = "coalesce:identify:"
	redisLockTTL     = 10 * time.Second
	redisLockBackoff = 25 * time.Millisecond
)

// releaseScript deletes the lock only when the token still matches, so an
// expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisLocker builds a distributed locker for multi-instance deployments.
func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{
		client:       client,
		ttl:          redisLockTTL,
		retryBackoff: redisLockBackoff,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultLockTimeout)
		defer cancel()
	}

	sorted := uniqueSorted(keys)
	token := uuid.NewString()

	var held []string
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Release on a fresh context: the request context may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = releaseScript.Run(releaseCtx, l.client, []string{held[i]}, token).Err()
			cancel()
		}
	}()

	for _, key := range sorted {
		lockKey := redisLockPrefix + key
		if err := l.acquire(ctx, lockKey, token); err != nil {
			return err
		}
		held = append(held, lockKey)
	}

	return fn(ctx)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "lock service unreachable")
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return pkgerrors.Wrap(ctx.Err(), pkgerrors.CodeTimeout, fmt.Sprintf("timed out waiting for lock %s", key))
		case <-time.After(l.retryBackoff):
		}
	}
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
