// Package keylock provides mutual exclusion keyed by a dynamic string.
//
// Each key maps to a weight-one semaphore created on first use and never
// removed; the key space is expected to be small and fixed (one per loaded
// module). Waiters for the same key are served in arrival order.
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locker hands out exclusive locks by key. The zero value is ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// New creates an empty Locker
func New() *Locker {
	return &Locker{locks: make(map[string]*semaphore.Weighted)}
}

func (l *Locker) get(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = make(map[string]*semaphore.Weighted)
	}

	sem, ok := l.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[key] = sem
	}
	return sem
}

// Lock blocks until the lock for key is held or ctx is done. On success the
// returned function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	sem := l.get(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// Keys returns the number of keys that have been locked at least once
func (l *Locker) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
