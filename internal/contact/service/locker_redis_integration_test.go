//go:build integration

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"coalesce/pkg/testutil/containers"
)

func TestRedisLockerSerializes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(context.Background()))

	locker := NewRedisLocker(rc.Client)

	var inCritical, maxInCritical int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), []string{"email:a@x.com", "phone:111"}, func(context.Context) error {
				cur := atomic.AddInt64(&inCritical, 1)
				for {
					prev := atomic.LoadInt64(&maxInCritical)
					if cur <= prev || atomic.CompareAndSwapInt64(&maxInCritical, prev, cur) {
						break
					}
				}
				atomic.AddInt64(&inCritical, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&maxInCritical))
}

func TestRedisLockerDisjointKeysDoNotBlock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(context.Background()))

	locker := NewRedisLocker(rc.Client)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), []string{"email:left@x.com"}, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := locker.WithLock(context.Background(), []string{"email:right@x.com"}, func(context.Context) error { return nil })
	require.NoError(t, err)
	close(release)
}
