package vista

import (
	"context"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista/cachestore"
	"github.com/dogmatiq/vista/config"
	"github.com/dogmatiq/vista/consumer"
	"github.com/dogmatiq/vista/delay"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/internal/order"
	"github.com/dogmatiq/vista/internal/x/loggingx"
	"github.com/dogmatiq/vista/projection"
	"github.com/dogmatiq/vista/semaphore"
	"golang.org/x/sync/errgroup"
)

// Engine runs the consumers for one or more roles against a shared event log
// and cache store.
type Engine struct {
	cfg  config.Config
	opts *engineOptions
}

// New returns a new engine that runs a consumer for the given role.
//
// role may be empty, in which case at least one WithRole() option must be
// specified.
//
// The consumer name and handler timeout are taken from cfg unless they are
// overridden by options.
func New(cfg config.Config, role Role, options ...EngineOption) *Engine {
	var fromConfig []EngineOption

	if role != "" {
		fromConfig = append(fromConfig, WithRole(role))
	}

	if cfg.ConsumerName != "" {
		fromConfig = append(fromConfig, WithConsumerName(cfg.ConsumerName))
	}

	if cfg.HandlerTimeout > 0 {
		fromConfig = append(fromConfig, WithHandlerTimeout(cfg.HandlerTimeout))
	}

	return &Engine{
		cfg:  cfg,
		opts: resolveEngineOptions(append(fromConfig, options...)...),
	}
}

// Run consumes events until ctx is canceled or an error occurs.
//
// When ctx is canceled each consumer stops taking new events and waits for
// the events it is handling to finish, up to the configured grace period.
func (e *Engine) Run(ctx context.Context) error {
	log, err := e.eventLog(ctx)
	if err != nil {
		return err
	}

	store, err := e.cacheStore(ctx)
	if err != nil {
		e.close("event log", log, e.opts.EventLog)
		return err
	}

	defer e.close("event log", log, e.opts.EventLog)
	defer e.close("cache store", store, e.opts.CacheStore)

	sem := semaphore.New(int(e.concurrencyLimit()))

	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	for _, r := range e.opts.Roles {
		c := e.consumer(r, log, store, sem)

		logging.Log(
			e.opts.Logger,
			"starting %s consumer %s in group %s on stream %s",
			r,
			c.Name,
			c.Subscription.Group,
			c.Subscription.Stream,
		)

		g.Go(func() error {
			return c.Run(ctx)
		})
	}

	err = g.Wait()

	if parent.Err() != nil {
		return parent.Err()
	}

	return err
}

// consumer returns the consumer for the given role.
func (e *Engine) consumer(
	r Role,
	log eventstream.Log,
	store cachestore.Store,
	sem semaphore.Semaphore,
) *consumer.Consumer {
	logger := loggingx.WithPrefix(e.opts.Logger, "[%s] ", r)
	group := eventstream.GroupName(e.cfg.Group, string(r))

	return &consumer.Consumer{
		Name: e.opts.ConsumerName,
		Log:  log,
		Subscription: eventstream.SubscriptionOptions{
			Stream:     e.cfg.Stream,
			Group:      group,
			Consumer:   e.opts.ConsumerName,
			From:       e.cfg.StartFrom,
			AckTimeout: e.cfg.AckTimeout,
		},
		Handler:         e.handler(r, store, group, logger),
		Semaphore:       sem,
		RetryPolicy:     e.opts.RetryPolicy,
		HandlerTimeout:  e.opts.HandlerTimeout,
		GracePeriod:     e.cfg.GracePeriod,
		BackoffStrategy: e.opts.RestartBackoff,
		Meter:           e.opts.Meter,
		Logger:          logger,
	}
}

// handler returns the event handler for the given role.
func (e *Engine) handler(
	r Role,
	store cachestore.Store,
	group string,
	logger logging.Logger,
) consumer.Handler {
	switch r {
	case StateRole:
		return &projection.StreamAdaptor[order.State]{
			Repository: &projection.CacheRepository[order.State]{
				Kind:        projection.State,
				Store:       store,
				Fold:        order.FoldState,
				LockTTL:     e.cfg.LockTTL,
				LockTimeout: e.cfg.LockTimeout,
				EntryTTL:    e.cfg.EntryTTL,
				Logger:      logger,
			},
		}

	case DtoRole:
		return &projection.StreamAdaptor[order.Summary]{
			Repository: &projection.CacheRepository[order.Summary]{
				Kind:        projection.Dto,
				Store:       store,
				Fold:        order.FoldSummary,
				LockTTL:     e.cfg.LockTTL,
				LockTimeout: e.cfg.LockTimeout,
				EntryTTL:    e.cfg.EntryTTL,
				Logger:      logger,
			},
		}

	default:
		return &delay.Monitor{
			Store:  store,
			Stream: e.cfg.Stream,
			Group:  group,
			Window: e.cfg.DelayWindow,
			Clock:  e.opts.Clock,
			Meter:  e.opts.Meter,
			Logger: logger,
		}
	}
}

// eventLog returns the event log to consume from.
func (e *Engine) eventLog(ctx context.Context) (eventstream.Log, error) {
	if e.opts.EventLog != nil {
		return e.opts.EventLog, nil
	}

	return OpenEventLog(ctx, e.cfg.EventStoreURI, e.opts.Logger)
}

// cacheStore returns the cache store to write to.
func (e *Engine) cacheStore(ctx context.Context) (cachestore.Store, error) {
	if e.opts.CacheStore != nil {
		return e.opts.CacheStore, nil
	}

	return OpenCacheStore(ctx, e.cfg.RedisURI)
}

// concurrencyLimit returns the maximum number of events handled at once.
func (e *Engine) concurrencyLimit() uint {
	if e.opts.ConcurrencyLimit != 0 {
		return e.opts.ConcurrencyLimit
	}

	if e.cfg.ConcurrencyLimit > 0 {
		return uint(e.cfg.ConcurrencyLimit)
	}

	return DefaultConcurrencyLimit
}

// close closes c unless it was provided by an option.
func (e *Engine) close(
	name string,
	c interface{ Close() error },
	provided any,
) {
	if provided != nil {
		return
	}

	if err := c.Close(); err != nil {
		logging.Log(e.opts.Logger, "unable to close %s: %s", name, err)
	}
}
