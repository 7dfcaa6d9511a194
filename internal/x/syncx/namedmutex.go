package syncx

import (
	"context"
	"sync"
)

// UnlockFunc unlocks a previously locked mutex. It is safe to call more than
// once.
type UnlockFunc func()

// MutexNamespace is a set of context-aware mutexes identified by name.
//
// Mutexes are created on demand and discarded once they are neither locked nor
// waited on, so the namespace does not grow with the number of distinct names
// used over its lifetime.
type MutexNamespace struct {
	m       sync.Mutex
	mutexes map[string]*nmutex
}

type nmutex struct {
	guard chan struct{} // holds a value while locked
	refs  int           // pending and successful Lock() calls, guarded by MutexNamespace.m
}

// Lock acquires the mutex with the given name.
//
// It blocks until the mutex is acquired or ctx is canceled.
func (ns *MutexNamespace) Lock(ctx context.Context, n string) (UnlockFunc, error) {
	m := ns.acquire(n)

	select {
	case <-ctx.Done():
		ns.release(n, m)
		return nil, ctx.Err()

	case m.guard <- struct{}{}:
		var once sync.Once

		return func() {
			once.Do(func() {
				<-m.guard
				ns.release(n, m)
			})
		}, nil
	}
}

// TryLock acquires the mutex with the given name if it is not already locked.
//
// It returns false if the mutex is locked.
func (ns *MutexNamespace) TryLock(n string) (UnlockFunc, bool) {
	m := ns.acquire(n)

	select {
	case m.guard <- struct{}{}:
		var once sync.Once

		return func() {
			once.Do(func() {
				<-m.guard
				ns.release(n, m)
			})
		}, true

	default:
		ns.release(n, m)
		return nil, false
	}
}

// acquire returns the mutex with the given name, creating it if necessary, and
// adds a reference to it.
func (ns *MutexNamespace) acquire(n string) *nmutex {
	ns.m.Lock()
	defer ns.m.Unlock()

	if ns.mutexes == nil {
		ns.mutexes = map[string]*nmutex{}
	}

	m, ok := ns.mutexes[n]
	if !ok {
		m = &nmutex{
			guard: make(chan struct{}, 1),
		}
		ns.mutexes[n] = m
	}

	m.refs++

	return m
}

// release removes a reference to m, discarding it once it has none.
func (ns *MutexNamespace) release(n string, m *nmutex) {
	ns.m.Lock()
	defer ns.m.Unlock()

	m.refs--

	if m.refs == 0 {
		delete(ns.mutexes, n)
	}
}

// Len returns the number of mutexes currently referenced.
func (ns *MutexNamespace) Len() int {
	ns.m.Lock()
	defer ns.m.Unlock()

	return len(ns.mutexes)
}
