package sink

import "sync"

// growFraction is the fill ratio that triggers a capacity doubling,
// in percent. Growing early keeps Push from ever blocking a producer.
const growFraction = 70

// Buffer is an unbounded ring buffer. Producers Push without blocking;
// the ring doubles its capacity whenever it reaches 70% full. One
// consumer drains it with Pop (blocking) or Drain (batch).
type Buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	closed bool

	pushed int64
	popped int64
	grows  int
}

// NewBuffer creates a Buffer with the given initial capacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer[T]{ring: make([]T, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an item. It reports false once the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if (b.count+1)*100 >= len(b.ring)*growFraction {
		b.grow()
	}

	b.ring[(b.head+b.count)%len(b.ring)] = item
	b.count++
	b.pushed++
	b.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available. It
// reports false when the buffer is closed and drained.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.take(), true
}

// Drain removes up to max items without blocking. max <= 0 drains
// everything.
func (b *Buffer[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = b.take()
	}
	return out
}

// Close stops accepting items and wakes the consumer. Items already
// buffered remain poppable.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Len reports the buffered item count.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap reports the current ring capacity.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// BufferStats is a point-in-time view of a buffer's counters.
type BufferStats struct {
	Count  int   `json:"count"`
	Cap    int   `json:"cap"`
	Pushed int64 `json:"pushed"`
	Popped int64 `json:"popped"`
	Grows  int   `json:"grows"`
}

// Stats returns the buffer's counters.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:  b.count,
		Cap:    len(b.ring),
		Pushed: b.pushed,
		Popped: b.popped,
		Grows:  b.grows,
	}
}

// take removes the head item. Callers hold the lock.
func (b *Buffer[T]) take() T {
	item := b.ring[b.head]
	var zero T
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.popped++
	return item
}

// grow doubles the ring, unwrapping live items to the front. Callers
// hold the lock.
func (b *Buffer[T]) grow() {
	bigger := make([]T, len(b.ring)*2)
	for i := 0; i < b.count; i++ {
		bigger[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.ring = bigger
	b.head = 0
	b.grows++
}
