package inflight

import (
	"sort"
	"sync"
	"time"

	"github.com/dogmatiq/vista/eventstream"
)

// Tracker records deliveries that have been handed to a consumer but not yet
// acknowledged, so that they can be redelivered once their ack timeout
// elapses.
type Tracker[K comparable] struct {
	// Timeout is the duration a delivery may remain unacknowledged before it
	// is returned by Expired().
	Timeout time.Duration

	m       sync.Mutex
	entries map[K]*entry
}

type entry struct {
	delivery eventstream.Delivery
	deadline time.Time
}

// Add starts tracking d under the key k.
//
// Adding a key that is already tracked replaces the existing delivery and
// restarts its timeout.
func (t *Tracker[K]) Add(k K, d eventstream.Delivery, now time.Time) {
	t.m.Lock()
	defer t.m.Unlock()

	if t.entries == nil {
		t.entries = map[K]*entry{}
	}

	t.entries[k] = &entry{
		delivery: d,
		deadline: now.Add(t.Timeout),
	}
}

// Remove stops tracking the delivery with the key k.
//
// It returns false if k is not tracked.
func (t *Tracker[K]) Remove(k K) (eventstream.Delivery, bool) {
	t.m.Lock()
	defer t.m.Unlock()

	e, ok := t.entries[k]
	if !ok {
		return eventstream.Delivery{}, false
	}

	delete(t.entries, k)
	return e.delivery, true
}

// Has returns true if k is tracked.
func (t *Tracker[K]) Has(k K) bool {
	t.m.Lock()
	defer t.m.Unlock()

	_, ok := t.entries[k]
	return ok
}

// Len returns the number of tracked deliveries.
func (t *Tracker[K]) Len() int {
	t.m.Lock()
	defer t.m.Unlock()

	return len(t.entries)
}

// Expired returns the deliveries whose timeout has elapsed as of now, ordered
// by position.
//
// Each returned delivery has its attempt counter incremented and its timeout
// restarted, so it is returned again only if it remains unacknowledged for
// another full timeout.
func (t *Tracker[K]) Expired(now time.Time) []eventstream.Delivery {
	t.m.Lock()
	defer t.m.Unlock()

	var expired []eventstream.Delivery

	for _, e := range t.entries {
		if now.Before(e.deadline) {
			continue
		}

		e.delivery.Attempt++
		e.deadline = now.Add(t.Timeout)
		expired = append(expired, e.delivery)
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].Event.Position < expired[j].Event.Position
	})

	return expired
}

// Drain stops tracking all deliveries and returns them.
func (t *Tracker[K]) Drain() []eventstream.Delivery {
	t.m.Lock()
	defer t.m.Unlock()

	drained := make([]eventstream.Delivery, 0, len(t.entries))
	for _, e := range t.entries {
		drained = append(drained, e.delivery)
	}

	t.entries = nil

	return drained
}
