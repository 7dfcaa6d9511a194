package memorystream

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/vista/eventstream"
	"github.com/google/uuid"
)

// Log is an in-memory implementation of eventstream.Log.
//
// It supports any number of streams and consumer groups, redelivers
// unacknowledged events after the subscription's ack timeout and records
// parked events so that they can be inspected.
type Log struct {
	// Now returns the current time. If it is nil, time.Now is used.
	Now func() time.Time

	m       sync.Mutex
	streams map[string]*stream
}

// ParkedEvent is an event that has been moved to a stream's dead-letter list.
type ParkedEvent struct {
	Event  eventstream.Event
	Group  string
	Reason string
}

type stream struct {
	events []eventstream.Event
	parked []ParkedEvent
	groups map[string]*group
	ready  chan struct{}
}

type group struct {
	// next is the index of the first event that has not been delivered.
	// delivered contains the indices beyond next that have been delivered
	// ahead of it.
	next      int
	delivered map[int]struct{}
	pending   map[int]*pending
}

type pending struct {
	attempt  uint
	deadline time.Time
	consumer string
	owner    *subscription
}

// ref identifies a delivery made by a Log.
type ref struct {
	stream string
	group  string
	index  int
}

// Append appends events to the named stream and returns them as stored.
//
// Events with a zero position are assigned the next position on the stream.
// Missing IDs and creation times are populated.
func (l *Log) Append(name string, events ...eventstream.Event) []eventstream.Event {
	l.m.Lock()
	defer l.m.Unlock()

	s := l.stream(name)
	stored := make([]eventstream.Event, 0, len(events))

	for _, ev := range events {
		if ev.Position == 0 {
			ev.Position = uint64(len(s.events)) + 1
		}

		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}

		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = l.now()
		}

		s.events = append(s.events, ev)
		stored = append(stored, ev)
	}

	s.notify()

	return stored
}

// Parked returns the events that have been parked on the named stream.
func (l *Log) Parked(name string) []ParkedEvent {
	l.m.Lock()
	defer l.m.Unlock()

	return append([]ParkedEvent(nil), l.stream(name).parked...)
}

// Pending returns the number of events that have been delivered to the named
// group but not yet acknowledged.
func (l *Log) Pending(name, groupName string) int {
	l.m.Lock()
	defer l.m.Unlock()

	if g, ok := l.stream(name).groups[groupName]; ok {
		return len(g.pending)
	}

	return 0
}

// Subscribe opens or joins a consumer group subscription.
func (l *Log) Subscribe(
	ctx context.Context,
	opts eventstream.SubscriptionOptions,
) (eventstream.Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	l.m.Lock()
	defer l.m.Unlock()

	s := l.stream(opts.Stream)

	g, ok := s.groups[opts.Group]
	if !ok {
		g = &group{
			delivered: map[int]struct{}{},
			pending:   map[int]*pending{},
		}

		if opts.From == eventstream.FromEnd {
			g.next = len(s.events)
		}

		s.groups[opts.Group] = g
	}

	// Deliveries left pending by an earlier member with the same name are
	// due immediately.
	if opts.Consumer != "" {
		for _, p := range g.pending {
			if p.consumer == opts.Consumer {
				p.deadline = time.Time{}
			}
		}
	}

	return &subscription{
		log:     l,
		opts:    opts,
		timeout: opts.AckTimeoutOrDefault(),
		closed:  make(chan struct{}),
	}, nil
}

// Close is a no-op. The log's contents remain available.
func (l *Log) Close() error {
	return nil
}

func (l *Log) stream(name string) *stream {
	if l.streams == nil {
		l.streams = map[string]*stream{}
	}

	s, ok := l.streams[name]
	if !ok {
		s = &stream{
			groups: map[string]*group{},
		}
		l.streams[name] = s
	}

	return s
}

// notify wakes subscriptions that are waiting for a change to the stream.
func (s *stream) notify() {
	if s.ready != nil {
		close(s.ready)
		s.ready = nil
	}
}

// markDelivered records that the event at index i has been delivered to the
// group for the first time.
func (g *group) markDelivered(i int) {
	g.delivered[i] = struct{}{}

	for {
		if _, ok := g.delivered[g.next]; !ok {
			return
		}

		delete(g.delivered, g.next)
		g.next++
	}
}

func (l *Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}

	return time.Now()
}
