package inflight

import "sync"

// Watermark tracks the lowest unacknowledged offset within a sequence of
// offsets that are delivered in ascending order but may be acknowledged in any
// order.
//
// It is used by logs that can only persist a single "next offset" per
// partition; the persisted offset must never advance past an offset that has
// not been acknowledged.
type Watermark struct {
	m       sync.Mutex
	pending []int64 // delivered offsets, ascending
	acked   map[int64]struct{}
	next    int64
	started bool
}

// Deliver records that offset o has been delivered.
//
// Offsets must be delivered in ascending order. Gaps are permitted.
func (w *Watermark) Deliver(o int64) {
	w.m.Lock()
	defer w.m.Unlock()

	if n := len(w.pending); n > 0 && w.pending[n-1] >= o {
		// Already delivered. This is a local redelivery of the same offset.
		return
	}

	if !w.started {
		w.started = true
		w.next = o
	}

	w.pending = append(w.pending, o)
}

// Ack records that offset o has been acknowledged.
//
// It returns the offset of the next message to consume and true if the
// watermark advanced as a result of this acknowledgment.
func (w *Watermark) Ack(o int64) (int64, bool) {
	w.m.Lock()
	defer w.m.Unlock()

	if w.acked == nil {
		w.acked = map[int64]struct{}{}
	}

	w.acked[o] = struct{}{}
	advanced := false

	for len(w.pending) > 0 {
		head := w.pending[0]
		if _, ok := w.acked[head]; !ok {
			break
		}

		delete(w.acked, head)
		w.pending = w.pending[1:]
		w.next = head + 1
		advanced = true
	}

	return w.next, advanced
}

// Pending returns the number of delivered offsets that have not yet been
// passed by the watermark.
func (w *Watermark) Pending() int {
	w.m.Lock()
	defer w.m.Unlock()

	return len(w.pending)
}
