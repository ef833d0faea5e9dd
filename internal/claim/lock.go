package claim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// Locker hands out exclusive, time-bound leases over a LeaseStore.
type Locker struct {
	store storage.LeaseStore
}

func NewLocker(store storage.LeaseStore) *Locker {
	return &Locker{store: store}
}

// Lease is a held lock. A lease that outlives its TTL is lost silently; Release then
// reports ErrLockNotHeld.
type Lease struct {
	store storage.LeaseStore
	key   string
	token string

	mu       sync.Mutex
	released bool
}

// Acquire tries once to take the lease; it never waits.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token, ok, err := l.store.TryAcquire(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock failed: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lease{store: l.store, key: key, token: token}, nil
}

// Key returns the locked key.
func (l *Lease) Key() string { return l.key }

// Release frees the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrLockNotHeld
	}
	l.released = true

	ok, err := l.store.Release(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}
