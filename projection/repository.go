package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/internal/mlog"
	"go.uber.org/multierr"
)

const (
	// DefaultLockTTL is the default duration after which an entity lock
	// expires if its holder does not release it.
	DefaultLockTTL = 10 * time.Second

	// DefaultLockTimeout is the default maximum time to wait for an entity
	// lock.
	DefaultLockTimeout = 3 * time.Second

	// releaseTimeout bounds the time spent releasing a lock, which is
	// attempted even if the caller's context has been canceled.
	releaseTimeout = 1 * time.Second
)

// CacheRepository is a Repository that stores projections in a cache store.
//
// Writers of the same entity's projection are serialized with a lock in the
// store, and each save is conditional on the version that was loaded, so
// competing consumers never lose updates.
type CacheRepository[T any] struct {
	// Kind is the kind of projection held by the repository.
	Kind Kind

	// Store is the cache store that holds the projections.
	Store cachestore.Store

	// Fold computes the next value of a projection.
	Fold Fold[T]

	// Codec encodes projection values. If it is nil, JSONCodec is used.
	Codec Codec[T]

	// LockTTL is the duration after which an entity lock expires if it is not
	// released. If it is zero, DefaultLockTTL is used.
	LockTTL time.Duration

	// LockTimeout is the maximum time to wait for an entity lock. If it is
	// zero, DefaultLockTimeout is used.
	LockTimeout time.Duration

	// EntryTTL is the duration after which a projection is evicted from the
	// cache if it is not updated. If it is zero, projections do not expire.
	EntryTTL time.Duration

	// Logger is the target for log messages about events that are skipped.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Get returns the current projection of the entity with the given ID.
func (r *CacheRepository[T]) Get(ctx context.Context, id string) (Snapshot[T], bool, error) {
	return r.load(ctx, r.key(id))
}

// ApplyEvent folds ev into the projection of the entity with the given ID.
//
// If the projection's version is already at or beyond the position of ev, the
// projection is returned unchanged. This makes redelivered events no-ops, and
// rejects events that arrive out of order.
func (r *CacheRepository[T]) ApplyEvent(
	ctx context.Context,
	id string,
	ev eventstream.Event,
) (_ Snapshot[T], err error) {
	if ev.Position == 0 {
		return Snapshot[T]{}, fmt.Errorf("event %s has no stream position", ev.ID)
	}

	key := r.key(id)

	lock, err := r.lock(ctx, id)
	if err != nil {
		return Snapshot[T]{}, err
	}
	defer r.release(ctx, lock, key, &err)

	current, exists, err := r.load(ctx, key)
	if err != nil {
		return Snapshot[T]{}, err
	}

	if ev.Position <= current.Version {
		mlog.LogSkip(r.Logger, string(r.Kind), ev, current.Version)
		return current, nil
	}

	var prev *T
	if exists {
		prev = &current.Value
	}

	v, err := r.Fold(prev, ev)
	if err != nil {
		return Snapshot[T]{}, &FoldError{
			Kind:     r.Kind,
			ID:       id,
			Position: ev.Position,
			Cause:    err,
		}
	}

	data, err := r.codec().Marshal(v)
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("unable to marshal %s projection of %s: %w", r.Kind, id, err)
	}

	err = r.Store.Save(
		ctx,
		key,
		cachestore.Record{
			Version:   ev.Position,
			MediaType: r.codec().MediaType(),
			Data:      data,
		},
		current.Version,
		r.EntryTTL,
	)

	if errors.Is(err, cachestore.ErrConflict) {
		return Snapshot[T]{}, &LockTimeoutError{
			Kind:     r.Kind,
			ID:       id,
			Conflict: true,
		}
	} else if err != nil {
		return Snapshot[T]{}, unavailable(ctx, "save", key, err)
	}

	return Snapshot[T]{v, ev.Position}, nil
}

// lock acquires the lock on the projection of the entity with the given ID.
func (r *CacheRepository[T]) lock(ctx context.Context, id string) (cachestore.Lock, error) {
	key := cachestore.LockKey(string(r.Kind), id)

	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	timeout := r.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lock, err := r.Store.Lock(lockCtx, key, ttl)
	if err == nil {
		return lock, nil
	}

	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, &LockTimeoutError{
			Kind:    r.Kind,
			ID:      id,
			Timeout: timeout,
		}
	}

	return nil, unavailable(ctx, "lock", key, err)
}

// release releases a lock acquired by lock().
//
// A failure to release is added to *err if the operation has already failed.
// Otherwise it is only logged, as the save has succeeded and the lock expires
// on its own.
func (r *CacheRepository[T]) release(
	ctx context.Context,
	lock cachestore.Lock,
	key string,
	err *error,
) {
	ctx, cancel := linger.ContextWithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	relErr := lock.Release(ctx)
	if relErr == nil {
		return
	}

	if *err != nil {
		*err = multierr.Append(*err, relErr)
		return
	}

	logging.Log(
		r.Logger,
		"unable to release lock on %s: %s",
		key,
		relErr,
	)
}

// load returns the projection stored under the given key.
func (r *CacheRepository[T]) load(ctx context.Context, key string) (Snapshot[T], bool, error) {
	rec, ok, err := r.Store.Load(ctx, key)
	if err != nil {
		return Snapshot[T]{}, false, unavailable(ctx, "load", key, err)
	}

	if !ok {
		return Snapshot[T]{}, false, nil
	}

	c := r.codec()

	if rec.MediaType != c.MediaType() {
		return Snapshot[T]{}, false, fmt.Errorf(
			"%s has unexpected media type %q, expected %q",
			key,
			rec.MediaType,
			c.MediaType(),
		)
	}

	v, err := c.Unmarshal(rec.Data)
	if err != nil {
		return Snapshot[T]{}, false, fmt.Errorf("unable to unmarshal %s: %w", key, err)
	}

	return Snapshot[T]{v, rec.Version}, true, nil
}

func (r *CacheRepository[T]) key(id string) string {
	return cachestore.ProjectionKey(string(r.Kind), id)
}

func (r *CacheRepository[T]) codec() Codec[T] {
	if r.Codec != nil {
		return r.Codec
	}

	return JSONCodec[T]{}
}

// unavailable returns a CacheUnavailableError for a failed store operation,
// unless the failure was caused by ctx being canceled.
func unavailable(ctx context.Context, op, key string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return &CacheUnavailableError{
		Op:    op,
		Key:   key,
		Cause: err,
	}
}
