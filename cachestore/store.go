package cachestore

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned by Store.Save when the stored version does not match
// the expected version.
var ErrConflict = errors.New("optimistic concurrency conflict")

// ErrLockLost is returned by Lock.Release when the lock expired or was taken
// over by another owner before it was released.
var ErrLockLost = errors.New("lock is no longer held")

// Record is a versioned value held in a cache store.
type Record struct {
	// Version is the log position of the last event reflected in the record.
	// Zero means "no record".
	Version uint64

	// MediaType describes the encoding of Data.
	MediaType string

	// Data is the encoded value.
	Data []byte
}

// Store is a remote key/value store used to hold materialized projections.
//
// Implementations must provide strongly consistent single-key semantics.
type Store interface {
	// Load returns the record stored under k.
	//
	// It returns false if there is no such record.
	Load(ctx context.Context, k string) (Record, bool, error)

	// Save stores r under k if the currently stored version equals expected.
	// An expected version of zero means the key must not exist.
	//
	// If ttl is positive the record expires after that duration.
	//
	// It returns ErrConflict if the stored version differs from expected.
	Save(ctx context.Context, k string, r Record, expected uint64, ttl time.Duration) error

	// Lock acquires an advisory lock on k that expires after ttl unless it is
	// released sooner.
	//
	// It blocks until the lock is acquired or ctx is canceled.
	Lock(ctx context.Context, k string, ttl time.Duration) (Lock, error)

	// Close releases the store's resources.
	Close() error
}

// Lock is an advisory lock held on a single key.
type Lock interface {
	// Release releases the lock.
	//
	// It returns ErrLockLost if the lock had already expired and was acquired
	// by another owner.
	Release(ctx context.Context) error
}
