package vista

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/cachestore/boltcache"
	"github.com/dogmatiq/vista/cachestore/memorycache"
	"github.com/dogmatiq/vista/cachestore/rediscache"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/eventstream/kafkastream"
	"github.com/dogmatiq/vista/eventstream/memorystream"
	"github.com/dogmatiq/vista/eventstream/redisstream"
)

// OpenEventLog returns the event log identified by uri.
//
// The URI scheme selects the implementation:
//
//	redis://, rediss://  Redis Streams
//	kafka://             Kafka topics
//	memory://            an in-process log, for local development only
func OpenEventLog(
	ctx context.Context,
	uri string,
	logger logging.Logger,
) (eventstream.Log, error) {
	scheme, err := schemeOf(uri)
	if err != nil {
		return nil, fmt.Errorf("unable to parse event log URI: %w", err)
	}

	switch scheme {
	case "redis", "rediss":
		l, err := redisstream.Dial(ctx, uri)
		if err != nil {
			return nil, err
		}
		l.Logger = logger
		return l, nil

	case "kafka":
		l, err := kafkastream.Dial(ctx, uri)
		if err != nil {
			return nil, err
		}
		l.Logger = logger
		return l, nil

	case "memory":
		return &memorystream.Log{}, nil

	default:
		return nil, fmt.Errorf("unable to parse event log URI: unsupported scheme %q", scheme)
	}
}

// OpenCacheStore returns the cache store identified by uri.
//
// The URI scheme selects the implementation:
//
//	redis://, rediss://  Redis
//	bolt://              a BoltDB file, shared only within a single process
//	memory://            an in-process store, for local development only
func OpenCacheStore(ctx context.Context, uri string) (cachestore.Store, error) {
	scheme, err := schemeOf(uri)
	if err != nil {
		return nil, fmt.Errorf("unable to parse cache store URI: %w", err)
	}

	switch scheme {
	case "redis", "rediss":
		return rediscache.Dial(ctx, uri)
	case "bolt":
		return boltcache.Open(ctx, uri)
	case "memory":
		return &memorycache.Store{}, nil
	default:
		return nil, fmt.Errorf("unable to parse cache store URI: unsupported scheme %q", scheme)
	}
}

func schemeOf(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}

	if u.Scheme == "" {
		return "", fmt.Errorf("%q has no scheme", uri)
	}

	return u.Scheme, nil
}
