package allocator

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrExhausted is returned by Allocate when every value is in use.
var ErrExhausted = errors.New("allocator: exhausted")

// Value is the set of identity types a Ring can hand out
type Value interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Ring allocates values in [0, size). The free list is seeded in ascending
// order; Allocate takes from the front and Free pushes to the front, so a
// freed value is the next one handed out.
//
// Ring does no locking, callers serialize access.
type Ring[T Value] struct {
	free  []T
	head  int
	count int
}

// NewRing creates a ring with all values in [0, size) free
func NewRing[T Value](size int) *Ring[T] {
	if size <= 0 {
		panic(fmt.Sprintf("allocator: invalid ring size %d", size))
	}
	if uint64(T(size-1)) != uint64(size-1) {
		panic(fmt.Sprintf("allocator: ring size %d overflows value type %T", size, T(0)))
	}
	ret := &Ring[T]{free: make([]T, size)}
	ret.Reset()
	return ret
}

// Reset frees every value and restores ascending allocation order
func (r *Ring[T]) Reset() {
	for i := range r.free {
		r.free[i] = T(i)
	}
	r.head = 0
	r.count = len(r.free)
}

// Cap returns the number of values managed by the ring
func (r *Ring[T]) Cap() int { return len(r.free) }

// Len returns the number of allocated values
func (r *Ring[T]) Len() int { return len(r.free) - r.count }

// Empty reports whether nothing is allocated
func (r *Ring[T]) Empty() bool { return r.count == len(r.free) }

// Full reports whether nothing is left to allocate
func (r *Ring[T]) Full() bool { return r.count == 0 }

// Allocate removes and returns the front of the free list
func (r *Ring[T]) Allocate() (T, error) {
	if r.count == 0 {
		return 0, ErrExhausted
	}
	value := r.free[r.head]
	r.head = (r.head + 1) % len(r.free)
	r.count--
	return value, nil
}

// Free returns value to the front of the free list. The value must be
// currently allocated; the ring cannot detect a double free of a value that
// is still in the list.
func (r *Ring[T]) Free(value T) {
	if uint64(value) >= uint64(len(r.free)) {
		panic(fmt.Sprintf("allocator: free of out of range value %d (cap %d)", value, len(r.free)))
	}
	if r.count == len(r.free) {
		panic(fmt.Sprintf("allocator: free of %d with nothing allocated", value))
	}
	r.head = (r.head - 1 + len(r.free)) % len(r.free)
	r.free[r.head] = value
	r.count++
}

// Allocated returns the allocated values in ascending order. It walks the
// whole range and is meant for reporting only.
func (r *Ring[T]) Allocated() []T {
	isFree := make([]bool, len(r.free))
	for i := 0; i < r.count; i++ {
		isFree[r.free[(r.head+i)%len(r.free)]] = true
	}
	ret := make([]T, 0, len(r.free)-r.count)
	for i, f := range isFree {
		if !f {
			ret = append(ret, T(i))
		}
	}
	return ret
}
