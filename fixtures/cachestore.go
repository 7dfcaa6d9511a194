package fixtures

import (
	"context"
	"time"

	"github.com/dogmatiq/vista/cachestore"
)

// CacheStoreStub is a test implementation of the cachestore.Store interface.
type CacheStoreStub struct {
	cachestore.Store

	LoadFunc  func(context.Context, string) (cachestore.Record, bool, error)
	SaveFunc  func(context.Context, string, cachestore.Record, uint64, time.Duration) error
	LockFunc  func(context.Context, string, time.Duration) (cachestore.Lock, error)
	CloseFunc func() error
}

// Load returns the record stored under k.
func (s *CacheStoreStub) Load(ctx context.Context, k string) (cachestore.Record, bool, error) {
	if s.LoadFunc != nil {
		return s.LoadFunc(ctx, k)
	}

	if s.Store != nil {
		return s.Store.Load(ctx, k)
	}

	return cachestore.Record{}, false, nil
}

// Save stores r under k if the stored version equals expected.
func (s *CacheStoreStub) Save(
	ctx context.Context,
	k string,
	r cachestore.Record,
	expected uint64,
	ttl time.Duration,
) error {
	if s.SaveFunc != nil {
		return s.SaveFunc(ctx, k, r, expected, ttl)
	}

	if s.Store != nil {
		return s.Store.Save(ctx, k, r, expected, ttl)
	}

	return nil
}

// Lock acquires a lock on k.
func (s *CacheStoreStub) Lock(ctx context.Context, k string, ttl time.Duration) (cachestore.Lock, error) {
	if s.LockFunc != nil {
		return s.LockFunc(ctx, k, ttl)
	}

	if s.Store != nil {
		return s.Store.Lock(ctx, k, ttl)
	}

	return &CacheLockStub{}, nil
}

// Close releases the store's resources.
func (s *CacheStoreStub) Close() error {
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}

	if s.Store != nil {
		return s.Store.Close()
	}

	return nil
}

// CacheLockStub is a test implementation of the cachestore.Lock interface.
type CacheLockStub struct {
	cachestore.Lock

	ReleaseFunc func(context.Context) error
}

// Release releases the lock.
func (l *CacheLockStub) Release(ctx context.Context) error {
	if l.ReleaseFunc != nil {
		return l.ReleaseFunc(ctx)
	}

	if l.Lock != nil {
		return l.Lock.Release(ctx)
	}

	return nil
}
