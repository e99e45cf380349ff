// Package syncutil holds small locking helpers shared by the services.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyLock serializes work per key (an escrow id, an order id) over a fixed
// pool of shards. Unrelated keys may share a shard; that only costs
// throughput. Waiting honours context cancellation.
type KeyLock struct {
	shards [shardCount]chan struct{}
}

// NewKeyLock creates a ready to use KeyLock.
func NewKeyLock() *KeyLock {
	l := &KeyLock{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock blocks until the key's shard is free or ctx is done. On success the
// returned func releases the lock and must be called exactly once.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	shard := l.shards[shardFor(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
