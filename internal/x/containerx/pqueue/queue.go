package pqueue

import (
	"container/heap"
)

// Queue is a single-ended priority queue.
//
// Elements with a higher priority appear at the front of the queue. Elements
// of equal priority are popped in the order they were pushed.
type Queue[E any] struct {
	// Less returns true if a should be closer to the front of the queue than
	// b.
	//
	// Stated another way, it returns true if a is higher priority than b.
	Less func(a, b E) bool

	heap qheap[E]
	seq  uint64
}

// Len returns the number of elements on the queue.
func (q *Queue[E]) Len() int {
	return q.heap.Len()
}

// Push adds an element to the queue.
//
// It returns true if e is at the front of the queue.
func (q *Queue[E]) Push(e E) bool {
	q.heap.less = q.Less
	q.seq++

	it := &item[E]{
		elem: e,
		seq:  q.seq,
	}

	heap.Push(&q.heap, it)

	return it.index == 0
}

// Peek returns the element with the highest priority without removing it from
// the queue.
//
// It returns false if the queue is empty.
func (q *Queue[E]) Peek() (E, bool) {
	if q.heap.Len() == 0 {
		var zero E
		return zero, false
	}

	return q.heap.items[0].elem, true
}

// Pop removes the element with the highest priority and returns it.
//
// It returns false if the queue is empty.
func (q *Queue[E]) Pop() (E, bool) {
	if q.heap.Len() == 0 {
		var zero E
		return zero, false
	}

	it := heap.Pop(&q.heap).(*item[E])

	return it.elem, true
}

// Drain removes every element from the queue and returns them in priority
// order.
func (q *Queue[E]) Drain() []E {
	elems := make([]E, 0, q.Len())

	for {
		e, ok := q.Pop()
		if !ok {
			return elems
		}

		elems = append(elems, e)
	}
}

// item is an element on the queue.
type item[E any] struct {
	elem E

	// seq is the order in which the element was pushed.
	seq uint64

	// the index of the item within the heap.
	index int
}

// qheap is the implementation heap.Interface.
type qheap[E any] struct {
	less  func(a, b E) bool
	items []*item[E]
}

func (h *qheap[E]) Len() int {
	return len(h.items)
}

func (h *qheap[E]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *qheap[E]) Less(i, j int) bool {
	a := h.items[i]
	b := h.items[j]

	if h.less(a.elem, b.elem) {
		return true
	}

	if h.less(b.elem, a.elem) {
		return false
	}

	return a.seq < b.seq
}

func (h *qheap[E]) Push(x any) {
	it := x.(*item[E])
	it.index = len(h.items)
	h.items = append(h.items, it)
}

func (h *qheap[E]) Pop() any {
	index := len(h.items) - 1
	it := h.items[index]

	h.items[index] = nil // avoid memory leak
	h.items = h.items[:index]

	return it
}
