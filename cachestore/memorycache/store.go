package memorycache

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/internal/x/syncx"
)

// Store is an in-memory cachestore.Store.
//
// Locks are process-local and never expire; the ttl passed to Lock() is
// ignored, as a lock can only be orphaned by the death of the process that
// holds both the lock and the store.
type Store struct {
	// Now returns the current time, used to expire records. If it is nil,
	// time.Now is used.
	Now func() time.Time

	m       sync.Mutex
	records map[string]entry
	locks   syncx.MutexNamespace
}

type entry struct {
	record  cachestore.Record
	expires time.Time
}

// Load returns the record stored under k.
func (s *Store) Load(ctx context.Context, k string) (cachestore.Record, bool, error) {
	if ctx.Err() != nil {
		return cachestore.Record{}, false, ctx.Err()
	}

	s.m.Lock()
	defer s.m.Unlock()

	e, ok := s.load(k)
	if !ok {
		return cachestore.Record{}, false, nil
	}

	return clone(e.record), true, nil
}

// Save stores r under k if the currently stored version equals expected.
func (s *Store) Save(
	ctx context.Context,
	k string,
	r cachestore.Record,
	expected uint64,
	ttl time.Duration,
) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.m.Lock()
	defer s.m.Unlock()

	e, _ := s.load(k)
	if e.record.Version != expected {
		return cachestore.ErrConflict
	}

	if s.records == nil {
		s.records = map[string]entry{}
	}

	e = entry{record: clone(r)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}

	s.records[k] = e

	return nil
}

// Lock acquires a process-local lock on k.
func (s *Store) Lock(ctx context.Context, k string, _ time.Duration) (cachestore.Lock, error) {
	unlock, err := s.locks.Lock(ctx, k)
	if err != nil {
		return nil, err
	}

	return lock(unlock), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Keys returns the number of records currently held in the store.
func (s *Store) Keys() int {
	s.m.Lock()
	defer s.m.Unlock()

	n := 0
	for k := range s.records {
		if _, ok := s.load(k); ok {
			n++
		}
	}

	return n
}

// load returns the unexpired entry stored under k. s.m must be held.
func (s *Store) load(k string) (entry, bool) {
	e, ok := s.records[k]
	if !ok {
		return entry{}, false
	}

	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.records, k)
		return entry{}, false
	}

	return e, true
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}

	return time.Now()
}

func clone(r cachestore.Record) cachestore.Record {
	r.Data = append([]byte(nil), r.Data...)
	return r
}

// lock is a cachestore.Lock backed by a process-local mutex.
type lock syncx.UnlockFunc

// Release releases the mutex.
func (l lock) Release(context.Context) error {
	l()
	return nil
}
