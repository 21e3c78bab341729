package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const localShards = 256

// LocalLocker is a fixed-size pool of channel-based mutexes that honour
// context cancellation. Memory stays bounded regardless of how many keys are
// seen, at the cost of occasional false sharing between keys that hash to the
// same shard.
type LocalLocker struct {
	shards [localShards]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

// NewLocalLocker creates an in-process Locker.
func NewLocalLocker() *LocalLocker {
	m := &LocalLocker{}
	m.init()
	return m
}

func (m *LocalLocker) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // unlocked
		}
	})
}

// Lock acquires the shard for key, respecting context cancellation.
func (m *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[shardIdx(key)]

	select {
	case <-shard.ch:
		var once sync.Once
		return func() { once.Do(func() { shard.ch <- struct{}{} }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % localShards
}
