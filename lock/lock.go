/*
Package lock provides per-key mutual exclusion for item movements.

PURPOSE:
  The Executor takes a lock on the item id before opening its unit of work.
  Database transactions already make the read-modify-write safe; the lock
  keeps contending callers from burning their retry budget against each
  other and serializes movements across server instances that share one
  Postgres database.

IMPLEMENTATIONS:
  Local: In-process keyed mutex. Waits until the context is done.
  Redis: bsm/redislock on a shared Redis, bounded linear retry.

FAILURE MODE:
  A lock that cannot be obtained returns ErrNotObtained. The Executor
  treats it like any other lost race (ErrConcurrencyConflict) and retries.
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotObtained is returned when a lock could not be acquired in time.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out locks by key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// =============================================================================
// LOCAL - In-process keyed mutex
// =============================================================================

type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Obtain blocks until the key is free or ctx is done. ttl is ignored: a
// local lock cannot outlive the process holding it.
func (l *Local) Obtain(ctx context.Context, key string, _ time.Duration) (Lock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return &localLock{parent: l, key: key, slot: s}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotObtained, key, ctx.Err())
	}
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type localLock struct {
	parent   *Local
	key      string
	slot     *slot
	released sync.Once
}

func (ll *localLock) Release(_ context.Context) error {
	ll.released.Do(func() {
		<-ll.slot.ch
		ll.parent.drop(ll.key, ll.slot)
	})
	return nil
}
