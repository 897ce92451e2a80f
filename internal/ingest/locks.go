package ingest

import (
	"context"
	"sync"
)

// keyLocks is a lock table with one mutex per package ID. Entries exist only
// while held or contended, so the table stays proportional to in-flight
// readings rather than to the number of known packages.
type keyLocks struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // capacity 1; a buffered slot is the lock
	refs int           // holders plus waiters
}

func newKeyLocks() *keyLocks {
	return &keyLocks{keys: make(map[string]*keyLock)}
}

// acquire takes the lock for key, waiting until it is free or ctx expires.
func (l *keyLocks) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	k := l.keys[key]
	if k == nil {
		k = &keyLock{ch: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, k)
		return ctx.Err()
	}
}

// release frees the lock for key. Must follow a successful acquire.
func (l *keyLocks) release(key string) {
	l.mu.Lock()
	k := l.keys[key]
	l.mu.Unlock()
	<-k.ch
	l.unref(key, k)
}

func (l *keyLocks) unref(key string, k *keyLock) {
	l.mu.Lock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}
