package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/vista/eventstream"
	"github.com/dogmatiq/vista/internal/mlog"
	"github.com/dogmatiq/vista/internal/x/containerx/pqueue"
	"github.com/dogmatiq/vista/projection"
	"github.com/dogmatiq/vista/retry"
	"github.com/dogmatiq/vista/semaphore"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultHandlerTimeout is the default maximum time allowed for a single
	// attempt at handling an event.
	DefaultHandlerTimeout = 10 * time.Second

	// DefaultGracePeriod is the default time allowed for in-flight events to
	// finish once the consumer is stopped.
	DefaultGracePeriod = 5 * time.Second
)

// Handler applies events delivered to a consumer.
type Handler interface {
	// HandleEvent handles ev.
	//
	// The event is acknowledged if it returns nil. Transient errors cause the
	// event to be retried, any other error causes it to be parked.
	HandleEvent(ctx context.Context, ev eventstream.Event) error
}

// Consumer is a member of a consumer group that passes the events it is
// delivered to a handler.
//
// Events for the same entity are handled one at a time in the order they
// were delivered. Events for different entities are handled concurrently.
type Consumer struct {
	// Name identifies the consumer in log messages.
	Name string

	// Log is the event log to consume from.
	Log eventstream.Log

	// Subscription describes the stream and consumer group to join.
	Subscription eventstream.SubscriptionOptions

	// Handler handles the delivered events.
	Handler Handler

	// Semaphore bounds the number of events handled concurrently. The
	// zero-value imposes no limit.
	Semaphore semaphore.Semaphore

	// RetryPolicy determines when an event that failed with a transient error
	// is retried. If it is nil, retry.DefaultPolicy is used.
	RetryPolicy retry.Policy

	// IsTransient reports whether a handler error is transient. If it is nil,
	// projection.IsTransient is used.
	IsTransient func(error) bool

	// HandlerTimeout is the maximum time allowed for a single attempt at
	// handling an event. If it is zero, DefaultHandlerTimeout is used.
	HandlerTimeout time.Duration

	// GracePeriod is the time allowed for in-flight events to finish once ctx
	// is canceled. If it is zero, DefaultGracePeriod is used.
	GracePeriod time.Duration

	// BackoffStrategy is the strategy used to restart the consumer after the
	// subscription fails. If it is nil, backoff.DefaultStrategy is used.
	BackoffStrategy backoff.Strategy

	// Meter is used to create the consumer's instruments. If it is nil, the
	// global meter provider is used.
	Meter metric.Meter

	// Logger is the target for log messages from the consumer. If it is nil,
	// logging.DefaultLogger is used.
	Logger logging.Logger
}

// Run consumes events until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	metrics, err := NewMetrics(c.Meter, c.Subscription.Stream, c.Subscription.Group)
	if err != nil {
		return err
	}

	counter := backoff.Counter{
		Strategy: c.BackoffStrategy,
	}

	for {
		err := c.consume(ctx, metrics, &counter)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logging.Log(
			c.Logger,
			"%s consumer stopped: %s",
			c.Name,
			err,
		)

		if err := counter.Sleep(ctx, err); err != nil {
			return err
		}
	}
}

// consume joins the consumer group and dispatches deliveries until ctx is
// canceled or the subscription fails.
func (c *Consumer) consume(
	ctx context.Context,
	metrics *Metrics,
	counter *backoff.Counter,
) error {
	sub, err := c.Log.Subscribe(ctx, c.Subscription)
	if err != nil {
		return err
	}
	defer sub.Close()

	logging.Log(
		c.Logger,
		"%s consumer joined group '%s' on stream '%s' as '%s'",
		c.Name,
		c.Subscription.Group,
		c.Subscription.Stream,
		c.Subscription.Consumer,
	)

	// Handlers run under a context that outlives ctx by the grace period so
	// that in-flight events are not interrupted by shutdown.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	stopCtx, stop := context.WithCancel(ctx)
	defer stop()

	d := &dispatcher{
		consumer: c,
		sub:      sub,
		metrics:  metrics,
		stopCtx:  stopCtx,
		workCtx:  workCtx,
		lanes:    map[string]*lane{},
		held:     map[heldKey]struct{}{},
	}

	err = d.run(counter)
	stop()

	grace := c.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	if !d.wait(grace) {
		logging.Log(
			c.Logger,
			"%s consumer did not finish in-flight events within %s, they will be redelivered",
			c.Name,
			grace,
		)

		cancelWork()
		d.wg.Wait()
	}

	return err
}

// dispatcher routes deliveries from a subscription to per-entity lanes.
type dispatcher struct {
	consumer *Consumer
	sub      eventstream.Subscription
	metrics  *Metrics

	// stopCtx is canceled when the dispatcher should stop taking on work.
	stopCtx context.Context

	// workCtx is canceled when in-flight work must be abandoned.
	workCtx context.Context

	wg    sync.WaitGroup
	m     sync.Mutex
	lanes map[string]*lane
	held  map[heldKey]struct{}
}

// heldKey identifies an event held by the dispatcher. Positions are only
// guaranteed to be unique among the events of a single entity.
type heldKey struct {
	entityID string
	position uint64
}

func keyOf(del eventstream.Delivery) heldKey {
	return heldKey{del.Event.EntityID, del.Event.Position}
}

// lane is a queue of deliveries for a single entity, ordered by position.
//
// An older event that is redelivered while later events are still queued is
// handled before them.
type lane struct {
	entityID string
	queue    pqueue.Queue[eventstream.Delivery]
}

func newLane(entityID string) *lane {
	return &lane{
		entityID: entityID,
		queue: pqueue.Queue[eventstream.Delivery]{
			Less: func(a, b eventstream.Delivery) bool {
				return a.Event.Position < b.Event.Position
			},
		},
	}
}

// run pulls deliveries from the subscription until stopCtx is canceled or
// the subscription fails.
func (d *dispatcher) run(counter *backoff.Counter) error {
	for {
		del, err := d.sub.Next(d.stopCtx)
		if err != nil {
			if d.stopCtx.Err() != nil {
				return nil
			}

			return err
		}

		counter.Reset()
		d.dispatch(del)
	}
}

// dispatch queues del on the lane for its entity, starting the lane if it is
// idle.
func (d *dispatcher) dispatch(del eventstream.Delivery) {
	d.m.Lock()
	defer d.m.Unlock()

	// A redelivery of an event that is still queued or being retried is
	// dropped. The copy already held is acknowledged in its place.
	k := keyOf(del)
	if _, ok := d.held[k]; ok {
		return
	}
	d.held[k] = struct{}{}

	l, ok := d.lanes[del.Event.EntityID]
	if ok {
		l.queue.Push(del)
		return
	}

	l = newLane(del.Event.EntityID)
	l.queue.Push(del)
	d.lanes[l.entityID] = l

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runLane(l)
	}()
}

// runLane handles the deliveries queued on l in order, exiting once the
// queue is empty or the consumer is stopping.
func (d *dispatcher) runLane(l *lane) {
	for {
		del, ok := d.pop(l)
		if !ok {
			return
		}

		d.handle(del)

		d.m.Lock()
		delete(d.held, keyOf(del))
		d.m.Unlock()
	}
}

// pop removes the next delivery from l. It returns false, and discards the
// lane, if the queue is empty or the consumer is stopping.
func (d *dispatcher) pop(l *lane) (eventstream.Delivery, bool) {
	d.m.Lock()
	defer d.m.Unlock()

	if d.stopCtx.Err() != nil {
		for _, del := range l.queue.Drain() {
			delete(d.held, keyOf(del))
		}
	}

	del, ok := l.queue.Pop()
	if !ok {
		delete(d.lanes, l.entityID)
	}

	return del, ok
}

// handle handles a single delivery, retrying transient failures until it is
// acknowledged, parked or abandoned because the consumer is stopping.
func (d *dispatcher) handle(del eventstream.Delivery) {
	c := d.consumer

	p := c.RetryPolicy
	if p == nil {
		p = retry.DefaultPolicy
	}

	for failures := uint(1); ; failures++ {
		done, err := d.attempt(del)
		if done {
			return
		}

		del.Attempt++
		d.metrics.add(d.workCtx, d.metrics.Retried)

		if retry.Sleep(
			d.stopCtx,
			p,
			failures,
			err,
			func(delay time.Duration) {
				mlog.LogRetry(c.Logger, del, err, delay)
			},
		) != nil {
			return
		}
	}
}

// attempt makes a single attempt at handling del. It returns true if no
// further attempts are necessary, otherwise it returns the transient error
// that caused the attempt to fail.
func (d *dispatcher) attempt(del eventstream.Delivery) (bool, error) {
	c := d.consumer

	if err := c.Semaphore.Acquire(d.stopCtx); err != nil {
		return true, nil
	}
	defer c.Semaphore.Release()

	ctx, cancel := linger.ContextWithTimeout(
		d.workCtx,
		c.HandlerTimeout,
		DefaultHandlerTimeout,
	)
	defer cancel()

	start := time.Now()
	err := c.Handler.HandleEvent(ctx, del.Event)
	d.metrics.HandlingTime.Record(d.workCtx, time.Since(start).Seconds(), d.metrics.attrs)

	if d.workCtx.Err() != nil {
		// The grace period has elapsed. The event is left unacknowledged
		// whatever the outcome, and is redelivered after a restart.
		return true, nil
	}

	if err == nil {
		if err := d.sub.Ack(d.workCtx, del); err != nil {
			// The event has been applied, so the redelivery that follows a
			// lost acknowledgement is a no-op.
			logging.Log(
				c.Logger,
				"unable to acknowledge event at position %d: %s",
				del.Event.Position,
				err,
			)
			return true, nil
		}

		mlog.LogApply(c.Logger, c.Name, del)
		d.metrics.add(d.workCtx, d.metrics.Applied)

		return true, nil
	}

	if d.isTransient(ctx, err) {
		return false, err
	}

	if err := d.sub.Park(d.workCtx, del, err); err != nil {
		return false, err
	}

	mlog.LogPark(c.Logger, del, err)
	d.metrics.add(d.workCtx, d.metrics.Parked)

	return true, nil
}

// isTransient returns true if a handler error returned under ctx may succeed
// on retry.
func (d *dispatcher) isTransient(ctx context.Context, err error) bool {
	// A handler that runs out of time has not been shown to reject the event.
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return true
	}

	if d.consumer.IsTransient != nil {
		return d.consumer.IsTransient(err)
	}

	return projection.IsTransient(err)
}

// wait blocks until all lanes have exited or the timeout elapses. It returns
// false on timeout.
func (d *dispatcher) wait(timeout time.Duration) bool {
	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
