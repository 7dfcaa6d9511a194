package boltcache

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/internal/x/bboltx"
	"github.com/dogmatiq/vista/internal/x/syncx"
	"go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// Store is a cachestore.Store that keeps records in a local BoltDB file.
//
// bbolt allows a single process to open the file at a time, so locks are
// process-local mutexes. The ttl passed to Lock() is ignored.
type Store struct {
	// DB is the database that holds the records.
	DB *bbolt.DB

	// Now returns the current time, used to expire records. If it is nil,
	// time.Now is used.
	Now func() time.Time

	locks syncx.MutexNamespace
}

// Open opens the store at the path given by a "bolt://" URI, such as
// "bolt:///var/lib/vista/cache.db".
func Open(ctx context.Context, uri string) (*Store, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("unable to parse cache store URI: %w", err)
	}

	if u.Scheme != "bolt" {
		return nil, fmt.Errorf("unsupported cache store URI scheme: %q", u.Scheme)
	}

	path := u.Host + u.Path
	if path == "" {
		return nil, fmt.Errorf("cache store URI does not specify a file: %q", uri)
	}

	db, err := bboltx.Open(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open cache store: %w", err)
	}

	return &Store{DB: db}, nil
}

// Load returns the record stored under k.
func (s *Store) Load(ctx context.Context, k string) (r cachestore.Record, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return cachestore.Record{}, false, err
	}

	err = bboltx.View(s.DB, func(tx *bbolt.Tx) {
		r, ok = s.load(tx, k)
	})

	return r, ok, err
}

// Save stores r under k if the currently stored version equals expected.
func (s *Store) Save(
	ctx context.Context,
	k string,
	r cachestore.Record,
	expected uint64,
	ttl time.Duration,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conflict := false

	err := bboltx.Update(s.DB, func(tx *bbolt.Tx) {
		current, _ := s.load(tx, k)
		if current.Version != expected {
			conflict = true
			return
		}

		var expires time.Time
		if ttl > 0 {
			expires = s.now().Add(ttl)
		}

		b := bboltx.CreateBucketIfNotExists(tx, recordsBucket)
		bboltx.Put(b, []byte(k), marshal(r, expires))
	})
	if err != nil {
		return err
	}

	if conflict {
		return cachestore.ErrConflict
	}

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

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// load returns the unexpired record stored under k. Expired records are
// reported as absent but are not removed, as tx may be read-only.
func (s *Store) load(tx *bbolt.Tx, k string) (cachestore.Record, bool) {
	b := bboltx.Bucket(tx, recordsBucket)
	if b == nil {
		return cachestore.Record{}, false
	}

	data := b.Get([]byte(k))
	if data == nil {
		return cachestore.Record{}, false
	}

	r, expires, err := unmarshal(data)
	bboltx.Must(err)

	if !expires.IsZero() && !s.now().Before(expires) {
		return cachestore.Record{}, false
	}

	return r, true
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}

	return time.Now()
}

// lock is a cachestore.Lock backed by a process-local mutex.
type lock syncx.UnlockFunc

// Release releases the mutex.
func (l lock) Release(context.Context) error {
	l()
	return nil
}
