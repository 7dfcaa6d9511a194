package rediscache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/vista/cachestore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hash fields used to store a record.
const (
	fieldVersion   = "version"
	fieldMediaType = "media_type"
	fieldData      = "data"
)

// saveScript stores a record only if its current version matches the expected
// version.
//
// KEYS[1] = record key
// ARGV[1] = expected version ("0" = key must not exist)
// ARGV[2] = new version
// ARGV[3] = media type
// ARGV[4] = data
// ARGV[5] = ttl in milliseconds ("0" = no expiry)
var saveScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if not current then
	current = "0"
end

if current ~= ARGV[1] then
	return 0
end

redis.call("HSET", KEYS[1], "version", ARGV[2], "media_type", ARGV[3], "data", ARGV[4])

local ttl = tonumber(ARGV[5])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
else
	redis.call("PERSIST", KEYS[1])
end

return 1
`)

// releaseScript deletes a lock key only if it still holds the caller's token.
//
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store is a cachestore.Store backed by Redis.
//
// Records are stored as hashes. Locks are plain keys set with SET NX PX and
// holding a random token, so that only the owner can release them.
type Store struct {
	// Client is the Redis client used to access the store.
	Client redis.UniversalClient

	// LockPollStrategy is the backoff strategy used between attempts to
	// acquire a contended lock. If it is nil,
	// cachestore.DefaultLockPollStrategy is used.
	LockPollStrategy backoff.Strategy
}

// Dial connects to the Redis server identified by uri and returns a store that
// uses it.
//
// It returns an error if the URI can not be parsed or the server does not
// respond.
func Dial(ctx context.Context, uri string) (*Store, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("unable to parse cache store URI: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to reach cache store: %w", err)
	}

	return &Store{Client: client}, nil
}

// Load returns the record stored under k.
func (s *Store) Load(ctx context.Context, k string) (cachestore.Record, bool, error) {
	values, err := s.Client.HGetAll(ctx, k).Result()
	if err != nil {
		return cachestore.Record{}, false, err
	}

	if len(values) == 0 {
		return cachestore.Record{}, false, nil
	}

	v, err := strconv.ParseUint(values[fieldVersion], 10, 64)
	if err != nil {
		return cachestore.Record{}, false, fmt.Errorf("record %s has an invalid version: %w", k, err)
	}

	return cachestore.Record{
		Version:   v,
		MediaType: values[fieldMediaType],
		Data:      []byte(values[fieldData]),
	}, true, nil
}

// Save stores r under k if the currently stored version equals expected.
func (s *Store) Save(
	ctx context.Context,
	k string,
	r cachestore.Record,
	expected uint64,
	ttl time.Duration,
) error {
	ok, err := saveScript.Run(
		ctx,
		s.Client,
		[]string{k},
		strconv.FormatUint(expected, 10),
		strconv.FormatUint(r.Version, 10),
		r.MediaType,
		r.Data,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}

	if ok == 0 {
		return cachestore.ErrConflict
	}

	return nil
}

// Lock acquires an advisory lock on k.
func (s *Store) Lock(ctx context.Context, k string, ttl time.Duration) (cachestore.Lock, error) {
	token := uuid.NewString()

	err := cachestore.PollLock(
		ctx,
		s.LockPollStrategy,
		func(ctx context.Context) (bool, error) {
			return s.Client.SetNX(ctx, k, token, ttl).Result()
		},
	)
	if err != nil {
		return nil, err
	}

	return &lock{s.Client, k, token}, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.Client.Close()
}

// lock is a cachestore.Lock held on a Redis key.
type lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Release deletes the lock key if it is still owned by this lock.
func (l *lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cachestore.ErrLockLost
		}

		return err
	}

	if n == 0 {
		return cachestore.ErrLockLost
	}

	return nil
}
