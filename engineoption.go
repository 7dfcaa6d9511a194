package vista

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
)

var (
	// DefaultConsumerName is the name the engine's consumers use within their
	// consumer groups. It is the host name, which stays the same when the
	// process restarts.
	//
	// It is overridden by the CONSUMER_NAME variable and the
	// WithConsumerName() option.
	DefaultConsumerName = hostName()

	// DefaultHandlerTimeout is the default duration the engine allows for a
	// single attempt at handling an event.
	//
	// It is overridden by the HANDLER_TIMEOUT variable and the
	// WithHandlerTimeout() option.
	DefaultHandlerTimeout = 10 * time.Second

	// DefaultRestartBackoff is the default backoff strategy used to restart a
	// consumer after its subscription fails.
	//
	// It is overridden by the WithRestartBackoff() option.
	DefaultRestartBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(100*time.Millisecond),
		linger.FullJitter,
		linger.Limiter(0, 1*time.Minute),
	)

	// DefaultRetryPolicy is the default policy used to retry events that fail
	// with a transient error.
	//
	// It is overridden by the WithRetryPolicy() option.
	DefaultRetryPolicy = retry.DefaultPolicy

	// DefaultConcurrencyLimit is the default number of events to handle
	// concurrently. It is only used if the configuration does not specify a
	// limit.
	//
	// It is overridden by the WithConcurrencyLimit() option.
	DefaultConcurrencyLimit = uint(runtime.GOMAXPROCS(0) * 2)

	// DefaultLogger is the default target for log messages produced by the
	// engine.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// EngineOption configures the behavior of an engine.
type EngineOption func(*engineOptions)

// WithRole returns an engine option that runs a consumer with the given role.
//
// There must always be at least one role specified either by using WithRole(),
// the role parameter to New(), or both.
func WithRole(r Role) EngineOption {
	if _, err := ParseRole(string(r)); err != nil {
		panic(err.Error())
	}

	return func(opts *engineOptions) {
		for _, x := range opts.Roles {
			if x == r {
				panic(fmt.Sprintf("the %s role is already configured", r))
			}
		}

		opts.Roles = append(opts.Roles, r)
	}
}

// WithEventLog returns an engine option that sets the event log that events
// are consumed from.
//
// If this option is omitted or l is nil, the log is opened using the event
// store URI in the engine's configuration. A log provided by this option is not
// closed when the engine stops.
func WithEventLog(l eventstream.Log) EngineOption {
	return func(opts *engineOptions) {
		opts.EventLog = l
	}
}

// WithCacheStore returns an engine option that sets the cache store that
// projections and delay samples are written to.
//
// If this option is omitted or s is nil, the store is opened using the cache
// URI in the engine's configuration. A store provided by this option is not
// closed when the engine stops.
func WithCacheStore(s cachestore.Store) EngineOption {
	return func(opts *engineOptions) {
		opts.CacheStore = s
	}
}

// WithConsumerName returns an engine option that sets the name the engine's
// consumers use within their consumer groups.
//
// A member that joins a group under the name of a member that has gone away
// takes over its pending events without waiting for the ack timeout.
//
// If this option is omitted or n is empty DefaultConsumerName is used.
func WithConsumerName(n string) EngineOption {
	return func(opts *engineOptions) {
		opts.ConsumerName = n
	}
}

// WithHandlerTimeout returns an engine option that sets the duration the
// engine allows for a single attempt at handling an event.
//
// If this option is omitted or d is zero DefaultHandlerTimeout is used.
func WithHandlerTimeout(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.HandlerTimeout = d
	}
}

// WithRetryPolicy returns an engine option that sets the policy used to retry
// events that fail with a transient error.
//
// If this option is omitted or p is nil DefaultRetryPolicy is used.
func WithRetryPolicy(p retry.Policy) EngineOption {
	return func(opts *engineOptions) {
		opts.RetryPolicy = p
	}
}

// WithRestartBackoff returns an engine option that sets the backoff strategy
// used to restart a consumer after its subscription fails.
//
// If this option is omitted or s is nil DefaultRestartBackoff is used.
func WithRestartBackoff(s backoff.Strategy) EngineOption {
	return func(opts *engineOptions) {
		opts.RestartBackoff = s
	}
}

// WithConcurrencyLimit returns an engine option that limits the number of
// events that will be handled at the same time, across all roles.
//
// If this option is omitted or n is zero the configured limit is used, or
// DefaultConcurrencyLimit if there is none.
func WithConcurrencyLimit(n uint) EngineOption {
	return func(opts *engineOptions) {
		opts.ConcurrencyLimit = n
	}
}

// WithClock returns an engine option that sets the function used to obtain
// the current time when measuring delay.
//
// If this option is omitted or now is nil, time.Now is used.
func WithClock(now func() time.Time) EngineOption {
	return func(opts *engineOptions) {
		opts.Clock = now
	}
}

// WithMeter returns an engine option that sets the meter used to create the
// engine's metric instruments.
//
// If this option is omitted or m is nil, the global meter provider is used.
func WithMeter(m metric.Meter) EngineOption {
	return func(opts *engineOptions) {
		opts.Meter = m
	}
}

// WithLogger returns an engine option that sets the target for log messages
// produced by the engine.
//
// If this option is omitted or l is nil DefaultLogger is used.
func WithLogger(l logging.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.Logger = l
	}
}

// engineOptions is a container for a fully-resolved set of engine options.
type engineOptions struct {
	Roles            []Role
	EventLog         eventstream.Log
	CacheStore       cachestore.Store
	ConsumerName     string
	HandlerTimeout   time.Duration
	RetryPolicy      retry.Policy
	RestartBackoff   backoff.Strategy
	ConcurrencyLimit uint
	Clock            func() time.Time
	Meter            metric.Meter
	Logger           logging.Logger
}

// resolveEngineOptions returns a fully-populated set of engine options built
// from the given set of option functions.
func resolveEngineOptions(options ...EngineOption) *engineOptions {
	opts := &engineOptions{}

	for _, o := range options {
		o(opts)
	}

	if len(opts.Roles) == 0 {
		panic("no roles configured, see vista.WithRole()")
	}

	if opts.ConsumerName == "" {
		opts.ConsumerName = DefaultConsumerName
	}

	if opts.HandlerTimeout == 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}

	if opts.RetryPolicy == nil {
		opts.RetryPolicy = DefaultRetryPolicy
	}

	if opts.RestartBackoff == nil {
		opts.RestartBackoff = DefaultRestartBackoff
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	return opts
}

// hostName returns the name of the host, or a random name if it is unknown.
func hostName() string {
	if n, err := os.Hostname(); err == nil && n != "" {
		return n
	}

	return uuid.NewString()
}
