package redisstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultBatchSize is the default maximum number of entries fetched from
	// Redis by a single read.
	DefaultBatchSize = 64

	// DefaultPollInterval is the default maximum duration a read blocks
	// waiting for new entries.
	DefaultPollInterval = 1 * time.Second
)

// Log is an eventstream.Log backed by Redis Streams.
//
// Each logical stream is a Redis stream key. Consumer groups map directly to
// Redis consumer groups; unacknowledged entries are reclaimed with XAUTOCLAIM
// once they have been idle for longer than the ack timeout.
type Log struct {
	// Client is the Redis client used to access the streams.
	Client redis.UniversalClient

	// BatchSize is the maximum number of entries fetched by a single read. If
	// it is non-positive, DefaultBatchSize is used.
	BatchSize int64

	// PollInterval is the maximum duration a read blocks waiting for new
	// entries. If it is non-positive, DefaultPollInterval is used.
	PollInterval time.Duration

	// Logger is the target for log messages about the log.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Dial connects to the Redis server identified by uri and returns a log that
// uses it.
//
// It returns an error if the URI can not be parsed or the server does not
// respond.
func Dial(ctx context.Context, uri string) (*Log, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("unable to parse event log URI: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to reach event log: %w", err)
	}

	return &Log{Client: client}, nil
}

// Subscribe opens or joins a consumer group subscription.
//
// The group is created if it does not already exist, along with the stream
// itself. An existing group is joined as-is.
func (l *Log) Subscribe(
	ctx context.Context,
	opts eventstream.SubscriptionOptions,
) (eventstream.Subscription, error) {
	start := "0"
	if opts.From == eventstream.FromEnd {
		start = "$"
	}

	err := l.Client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, start).Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf(
			"unable to create consumer group '%s' on stream '%s': %w",
			opts.Group,
			opts.Stream,
			err,
		)
	}

	if err == nil {
		logging.Log(
			l.Logger,
			"created consumer group '%s' on stream '%s' starting at the %s",
			opts.Group,
			opts.Stream,
			opts.From,
		)
	}

	return &subscription{
		log:     l,
		opts:    opts,
		timeout: opts.AckTimeoutOrDefault(),
		closed:  make(chan struct{}),
	}, nil
}

// Close closes the underlying Redis client.
func (l *Log) Close() error {
	return l.Client.Close()
}

func (l *Log) batchSize() int64 {
	if l.BatchSize > 0 {
		return l.BatchSize
	}

	return DefaultBatchSize
}

func (l *Log) pollInterval() time.Duration {
	if l.PollInterval > 0 {
		return l.PollInterval
	}

	return DefaultPollInterval
}

// isBusyGroup returns true if err indicates that a consumer group already
// exists.
func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
