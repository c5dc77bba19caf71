package filestore

import "sync"

// lockRegistry hands out one RWMutex per mailbox key. Entries are
// reference counted and removed when the last holder or waiter releases.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*refLock)}
}

func (r *lockRegistry) acquire(key string) *refLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &refLock{}
		r.locks[key] = l
	}
	l.refs++
	return l
}

func (r *lockRegistry) release(key string, l *refLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, key)
	}
}

// Lock takes the exclusive lock for key and returns its release func.
func (r *lockRegistry) Lock(key string) func() {
	l := r.acquire(key)
	l.Lock()
	return func() {
		l.Unlock()
		r.release(key, l)
	}
}

// RLock takes the shared lock for key and returns its release func.
func (r *lockRegistry) RLock(key string) func() {
	l := r.acquire(key)
	l.RLock()
	return func() {
		l.RUnlock()
		r.release(key, l)
	}
}

// size returns the number of live entries.
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
