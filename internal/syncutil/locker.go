// Package syncutil provides per-key mutual exclusion for balance-affecting
// operations. Two implementations share the Locker contract: an in-process
// sharded lock for single-instance deployments and a Redis lock when several
// API instances serve the same database.
package syncutil

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock could not be obtained before the
// context ended.
var ErrLockNotAcquired = errors.New("syncutil: lock not acquired")

// Locker serializes work per key. Lock blocks until the key is free or ctx is
// done. On success the caller MUST call the returned unlock function.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
