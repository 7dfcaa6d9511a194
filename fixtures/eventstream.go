package fixtures

import (
	"context"
	"time"

	"github.com/dogmatiq/vista/eventstream"
	"github.com/google/uuid"
)

// NewEvent returns an event at the given position with a random ID.
func NewEvent(pos uint64, entityID, eventType string, payload string) eventstream.Event {
	return eventstream.Event{
		ID:        uuid.NewString(),
		Position:  pos,
		EntityID:  entityID,
		Type:      eventType,
		Payload:   []byte(payload),
		CreatedAt: time.Now(),
	}
}

// LogStub is a test implementation of the eventstream.Log interface.
type LogStub struct {
	eventstream.Log

	SubscribeFunc func(context.Context, eventstream.SubscriptionOptions) (eventstream.Subscription, error)
	CloseFunc     func() error
}

// Subscribe joins a consumer group.
func (l *LogStub) Subscribe(
	ctx context.Context,
	opts eventstream.SubscriptionOptions,
) (eventstream.Subscription, error) {
	if l.SubscribeFunc != nil {
		return l.SubscribeFunc(ctx, opts)
	}

	if l.Log != nil {
		return l.Log.Subscribe(ctx, opts)
	}

	return &SubscriptionStub{}, nil
}

// Close releases the log's resources.
func (l *LogStub) Close() error {
	if l.CloseFunc != nil {
		return l.CloseFunc()
	}

	if l.Log != nil {
		return l.Log.Close()
	}

	return nil
}

// SubscriptionStub is a test implementation of the eventstream.Subscription
// interface.
type SubscriptionStub struct {
	eventstream.Subscription

	NextFunc  func(context.Context) (eventstream.Delivery, error)
	AckFunc   func(context.Context, eventstream.Delivery) error
	ParkFunc  func(context.Context, eventstream.Delivery, error) error
	CloseFunc func() error
}

// Next blocks until an event is delivered.
func (s *SubscriptionStub) Next(ctx context.Context) (eventstream.Delivery, error) {
	if s.NextFunc != nil {
		return s.NextFunc(ctx)
	}

	if s.Subscription != nil {
		return s.Subscription.Next(ctx)
	}

	<-ctx.Done()
	return eventstream.Delivery{}, ctx.Err()
}

// Ack acknowledges d.
func (s *SubscriptionStub) Ack(ctx context.Context, d eventstream.Delivery) error {
	if s.AckFunc != nil {
		return s.AckFunc(ctx, d)
	}

	if s.Subscription != nil {
		return s.Subscription.Ack(ctx, d)
	}

	return nil
}

// Park moves d to the dead-letter stream.
func (s *SubscriptionStub) Park(ctx context.Context, d eventstream.Delivery, cause error) error {
	if s.ParkFunc != nil {
		return s.ParkFunc(ctx, d, cause)
	}

	if s.Subscription != nil {
		return s.Subscription.Park(ctx, d, cause)
	}

	return nil
}

// Close stops the subscription.
func (s *SubscriptionStub) Close() error {
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}

	if s.Subscription != nil {
		return s.Subscription.Close()
	}

	return nil
}

// HandlerStub is a test implementation of the consumer.Handler interface.
type HandlerStub struct {
	HandleEventFunc func(context.Context, eventstream.Event) error
}

// HandleEvent handles ev.
func (h *HandlerStub) HandleEvent(ctx context.Context, ev eventstream.Event) error {
	if h.HandleEventFunc != nil {
		return h.HandleEventFunc(ctx, ev)
	}

	return nil
}
