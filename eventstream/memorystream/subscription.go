package memorystream

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/vista/eventstream"
)

// subscription is an implementation of eventstream.Subscription for a Log.
type subscription struct {
	log     *Log
	opts    eventstream.SubscriptionOptions
	timeout time.Duration

	once   sync.Once
	closed chan struct{}
}

// Next blocks until the next delivery is available or ctx is canceled.
//
// Expired deliveries are redelivered before any new events. An event is held
// back while an earlier event for the same entity is pending for another
// subscription.
func (s *subscription) Next(ctx context.Context) (eventstream.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return eventstream.Delivery{}, ctx.Err()
		case <-s.closed:
			return eventstream.Delivery{}, eventstream.ErrSubscriptionClosed
		default:
		}

		d, ready, wait := s.poll()
		if ready == nil {
			return d, nil
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return eventstream.Delivery{}, ctx.Err()
		case <-s.closed:
			timer.Stop()
			return eventstream.Delivery{}, eventstream.ErrSubscriptionClosed
		case <-ready:
		case <-timer.C:
		}

		timer.Stop()
	}
}

// poll returns the next delivery if one is available. Otherwise, it returns a
// channel that is closed when the stream changes along with the duration
// until the earliest pending delivery expires.
func (s *subscription) poll() (eventstream.Delivery, <-chan struct{}, time.Duration) {
	l := s.log
	l.m.Lock()
	defer l.m.Unlock()

	st := l.stream(s.opts.Stream)
	g := st.groups[s.opts.Group]
	now := l.now()

	// foreign maps each entity to the lowest index of its events that are
	// pending for some other subscription.
	foreign := map[string]int{}
	for i, p := range g.pending {
		if p.owner == s {
			continue
		}

		id := st.events[i].EntityID
		if j, ok := foreign[id]; !ok || i < j {
			foreign[id] = i
		}
	}

	heldBack := func(i int) bool {
		j, ok := foreign[st.events[i].EntityID]
		return ok && j < i
	}

	wait := s.timeout
	redeliver := -1

	for i, p := range g.pending {
		if now.Before(p.deadline) {
			if d := p.deadline.Sub(now); d < wait {
				wait = d
			}
		} else if !heldBack(i) && (redeliver == -1 || i < redeliver) {
			redeliver = i
		}
	}

	if redeliver != -1 {
		p := g.pending[redeliver]
		p.attempt++
		p.deadline = now.Add(s.timeout)
		p.consumer = s.opts.Consumer
		p.owner = s
		return s.delivery(st, redeliver, p.attempt), nil, 0
	}

	for i := g.next; i < len(st.events); i++ {
		if _, ok := g.delivered[i]; ok || heldBack(i) {
			continue
		}

		g.markDelivered(i)
		g.pending[i] = &pending{
			attempt:  1,
			deadline: now.Add(s.timeout),
			consumer: s.opts.Consumer,
			owner:    s,
		}

		return s.delivery(st, i, 1), nil, 0
	}

	if st.ready == nil {
		st.ready = make(chan struct{})
	}

	return eventstream.Delivery{}, st.ready, wait
}

func (s *subscription) delivery(st *stream, i int, attempt uint) eventstream.Delivery {
	return eventstream.Delivery{
		Event:   st.events[i],
		Attempt: attempt,
		Ref: ref{
			stream: s.opts.Stream,
			group:  s.opts.Group,
			index:  i,
		},
	}
}

// Ack acknowledges a delivery. Acknowledging a delivery more than once has no
// effect.
func (s *subscription) Ack(ctx context.Context, d eventstream.Delivery) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r, ok := d.Ref.(ref)
	if !ok {
		panic("delivery was not produced by this log")
	}

	l := s.log
	l.m.Lock()
	defer l.m.Unlock()

	st := l.stream(r.stream)
	if g, ok := st.groups[r.group]; ok {
		delete(g.pending, r.index)
	}

	// Held back events for the same entity may now be delivered.
	st.notify()

	return nil
}

// Park records the delivery on the stream's parked list then acknowledges it.
func (s *subscription) Park(ctx context.Context, d eventstream.Delivery, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r, ok := d.Ref.(ref)
	if !ok {
		panic("delivery was not produced by this log")
	}

	l := s.log
	l.m.Lock()
	st := l.stream(r.stream)
	st.parked = append(st.parked, ParkedEvent{
		Event:  d.Event,
		Group:  r.group,
		Reason: cause.Error(),
	})
	l.m.Unlock()

	return s.Ack(ctx, d)
}

// Close stops the subscription. Its unacknowledged deliveries remain pending
// and are redelivered to the group once they expire.
func (s *subscription) Close() error {
	err := eventstream.ErrSubscriptionClosed

	s.once.Do(func() {
		err = nil
		close(s.closed)
	})

	return err
}
