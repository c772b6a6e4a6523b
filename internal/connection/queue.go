package connection

import (
	"sync"
)

// Queue is a ring-buffer deque that doubles its capacity as it fills.
// With a positive limit, pushing onto a full queue evicts the oldest item.
// Queue is not safe for concurrent use; callers hold their own lock.
type Queue[T any] struct {
	buf   []T
	head  int // read position
	count int
	limit int // 0 = unbounded

	dropped int64
}

// NewQueue creates a queue holding at most limit items (0 = unbounded).
func NewQueue[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	initial := 16
	if limit > 0 && limit < initial {
		initial = limit
	}
	return &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
	}
}

// PushBack appends an item. Returns false if an older item was evicted to make room.
func (q *Queue[T]) PushBack(item T) bool {
	evicted := q.makeRoom()
	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	return !evicted
}

// PushFront puts an item back at the head, ahead of everything queued.
// On a full bounded queue the newest item is evicted instead, so the
// requeued item keeps its place in send order.
func (q *Queue[T]) PushFront(item T) {
	if q.limit > 0 && q.count >= q.limit {
		tail := (q.head + q.count - 1) % len(q.buf)
		var zero T
		q.buf[tail] = zero
		q.count--
		q.dropped++
	}
	if q.count == len(q.buf) {
		q.grow()
	}
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = item
	q.count++
}

// PopFront removes and returns the oldest item.
func (q *Queue[T]) PopFront() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return q.count
}

// Dropped returns how many items were evicted because the queue was full.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped
}

// Clear removes all items.
func (q *Queue[T]) Clear() {
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head = 0
	q.count = 0
}

// makeRoom ensures one free slot, evicting the head on a full bounded queue.
func (q *Queue[T]) makeRoom() (evicted bool) {
	if q.limit > 0 && q.count >= q.limit {
		q.PopFront()
		q.dropped++
		evicted = true
	}
	if q.count == len(q.buf) {
		q.grow()
	}
	return evicted
}

// grow doubles the buffer capacity.
func (q *Queue[T]) grow() {
	newCapacity := len(q.buf) * 2
	if newCapacity == 0 {
		newCapacity = 1
	}
	if q.limit > 0 && newCapacity > q.limit {
		newCapacity = q.limit
	}
	newBuf := make([]T, newCapacity)

	// Copy existing items to new buffer
	if q.count > 0 {
		if q.head+q.count <= len(q.buf) {
			copy(newBuf, q.buf[q.head:q.head+q.count])
		} else {
			// Wrapped: [head...end) + [0...rest)
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.count-n])
		}
	}

	q.buf = newBuf
	q.head = 0
}

// dispatcher runs queued callbacks one at a time, in order, on its own goroutine.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fns    *Queue[func()]
	closed bool
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		fns:  NewQueue[func()](0),
		done: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// post enqueues fn. Returns false once the dispatcher is closed.
func (d *dispatcher) post(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	d.fns.PushBack(fn)
	d.cond.Signal()
	return true
}

// close stops accepting callbacks. Already queued callbacks still run.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.cond.Broadcast()
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for d.fns.Len() == 0 && !d.closed {
			d.cond.Wait()
		}
		fn, ok := d.fns.PopFront()
		d.mu.Unlock()

		if !ok {
			return
		}
		fn()
	}
}
