// Package lock provides the run locks that keep periodic sweeps (expiry cleanup,
// integrity checks) to one runner at a time. Local serves a single process; Redis
// serves replicas sharing one Redis.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("lock: already held")

// Unlock releases a lock obtained from TryLock. Releasing a lock that already
// expired is not an error.
type Unlock func(ctx context.Context) error

// Locker grants exclusive, expiring ownership of a key.
type Locker interface {
	// TryLock acquires key for ttl without waiting. It returns ErrLocked when the key
	// is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}
