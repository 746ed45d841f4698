// Package buffer holds the bounded overwrite ring and the shared frame window
// built on top of it.
package buffer

import (
	"fmt"
	"iter"
	"math"
)

// Ring is a fixed-capacity FIFO that overwrites its oldest item when full.
// The backing slice is allocated once, so Push never allocates.
//
// Ring is not safe for concurrent use; Window adds the locking.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest item
	size  int
}

// NewRing creates a ring holding at most capacity items. A non-positive
// capacity is a programming error and panics.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: ring capacity must be positive, got %d", capacity))
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// CapacityFor returns ceil(seconds * rate), the number of frames needed to
// retain seconds of capture at rate frames per second. The product is
// rounded to 1e-9 first so 5.4s at 90fps is 486, not 487.
func CapacityFor(seconds, rate float64) int {
	return int(math.Ceil(math.Round(seconds*rate*1e9) / 1e9))
}

// Push appends item, evicting the oldest item when the ring is full.
// It reports whether an item was evicted.
func (r *Ring[T]) Push(item T) bool {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = item
		r.size++
		return false
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	return true
}

func (r *Ring[T]) Len() int      { return r.size }
func (r *Ring[T]) Capacity() int { return len(r.items) }
func (r *Ring[T]) IsEmpty() bool { return r.size == 0 }
func (r *Ring[T]) IsFull() bool  { return r.size == len(r.items) }

// PeekOldest returns the oldest item without removing it.
func (r *Ring[T]) PeekOldest() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.items[r.head], true
}

// PeekNewest returns the most recently pushed item without removing it.
func (r *Ring[T]) PeekNewest() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.items[(r.head+r.size-1)%len(r.items)], true
}

// Clear removes every item. Capacity is unchanged.
func (r *Ring[T]) Clear() {
	clear(r.items)
	r.head = 0
	r.size = 0
}

// DropOldest removes up to n of the oldest items and returns how many were removed.
func (r *Ring[T]) DropOldest(n int) int {
	if n <= 0 {
		return 0
	}
	if n >= r.size {
		dropped := r.size
		r.Clear()
		return dropped
	}
	var zero T
	for i := 0; i < n; i++ {
		r.items[(r.head+i)%len(r.items)] = zero
	}
	r.head = (r.head + n) % len(r.items)
	r.size -= n
	return n
}

// All iterates items from oldest to newest without removing them.
func (r *Ring[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := 0; i < r.size; i++ {
			if !yield(r.items[(r.head+i)%len(r.items)]) {
				return
			}
		}
	}
}

// Slice returns a copy of the contents, oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.size)
	n := copy(out, r.items[r.head:min(r.head+r.size, len(r.items))])
	copy(out[n:], r.items[:r.size-n])
	return out
}
