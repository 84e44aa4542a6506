package service

import (
	"context"
	"sort"
	"sync"
	"time"

	pkgerrors "coalesce/pkg/domain-errors"
)

// Locker serializes identify pipelines that touch the same contact values.
// Two concurrent submissions for the same person must not both observe "no
// match" and both create a primary; holding a lock on the normalized email and
// phone for the duration of one pipeline closes that window.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// shardedLocker distributes value keys across N mutex shards by FNV-1a hash.
// Sufficient for a single-instance deployment; multi-instance deployments use
// the redis locker instead.
const numLockShards = 128

// defaultLockTimeout bounds how long one identify pipeline may hold its shards.
const defaultLockTimeout = 5 * time.Second

type shardedLocker struct {
	shards  [numLockShards]sync.Mutex
	timeout time.Duration
}

// NewShardedLocker builds an in-process locker.
func NewShardedLocker() Locker {
	return &shardedLocker{timeout: defaultLockTimeout}
}

func (l *shardedLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "identify aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	// Both keys may hash to distinct shards; acquire in ascending shard order
	// so two pipelines sharing one value cannot deadlock on the other.
	shards := shardsFor(keys)
	for _, shard := range shards {
		l.shards[shard].Lock()
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			l.shards[shards[i]].Unlock()
		}
	}()

	// Check again after acquiring locks.
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "identify aborted: context cancelled")
	}

	return fn(ctx)
}

// shardsFor maps keys to a sorted, deduplicated shard list.
func shardsFor(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	shards := make([]int, 0, len(keys))
	for _, key := range keys {
		shard := int(hashKey(key) % numLockShards)
		if _, ok := seen[shard]; ok {
			continue
		}
		seen[shard] = struct{}{}
		shards = append(shards, shard)
	}
	sort.Ints(shards)
	return shards
}

// hashKey uses FNV-1a for even shard distribution.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
