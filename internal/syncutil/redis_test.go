//go:build integration

package syncutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteprojobs/wallet/internal/testutil"
)

func TestRedisLocker_MutualExclusion(t *testing.T) {
	client := testutil.RedisTest(t)
	l := NewRedisLocker(client, "test-lock", WithRetryWait(5*time.Millisecond))

	var inside, maxInside int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "acct-1")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := atomic.AddInt64(&inside, 1)
			for {
				m := atomic.LoadInt64(&maxInside)
				if n <= m || atomic.CompareAndSwapInt64(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), atomic.LoadInt64(&maxInside))
}

func TestRedisLocker_ContextDeadline(t *testing.T) {
	client := testutil.RedisTest(t)
	l := NewRedisLocker(client, "test-lock")

	unlock, err := l.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "busy")
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestRedisLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	client := testutil.RedisTest(t)
	l := NewRedisLocker(client, "test-lock", WithTTL(50*time.Millisecond))

	unlockA, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	unlockB, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// A's release must not delete B's lock.
	unlockA()
	val, err := client.Exists(context.Background(), "test-lock:k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
	unlockB()
}
