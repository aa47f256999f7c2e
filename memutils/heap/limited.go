package heap

import (
	"fmt"
	"sync/atomic"
)

// LimitedHeap wraps another Heap and refuses any request that would take the total number of bytes
// outstanding past a fixed capacity. It behaves like a device memory pool with a hard ceiling, and
// is the simplest way to make exhaustion reproducible.
type LimitedHeap struct {
	parent   Heap
	capacity int64
	used     int64
}

var _ Heap = (*LimitedHeap)(nil)
var _ FreeSpaceReporter = (*LimitedHeap)(nil)

// NewLimitedHeap creates a LimitedHeap that forwards to parent. If parent is nil, a GoHeap is used.
func NewLimitedHeap(parent Heap, capacity int) *LimitedHeap {
	if parent == nil {
		parent = NewGoHeap()
	}

	return &LimitedHeap{
		parent:   parent,
		capacity: int64(capacity),
	}
}

func (h *LimitedHeap) reserve(size int) bool {
	for {
		currentVal := atomic.LoadInt64(&h.used)
		targetVal := currentVal + int64(size)

		if targetVal > h.capacity {
			return false
		}

		if atomic.CompareAndSwapInt64(&h.used, currentVal, targetVal) {
			return true
		}
	}
}

func (h *LimitedHeap) unreserve(size int) {
	newVal := atomic.AddInt64(&h.used, int64(-size))

	if newVal < 0 {
		panic(fmt.Sprintf("limited heap usage went negative: %d", newVal))
	}
}

func (h *LimitedHeap) Allocate(size int) []byte {
	if size < 0 || !h.reserve(size) {
		return nil
	}

	b := h.parent.Allocate(size)
	if b == nil {
		h.unreserve(size)
	}

	return b
}

func (h *LimitedHeap) Reallocate(b []byte, size int) []byte {
	if size < 0 {
		return nil
	}

	delta := size - len(b)
	if delta > 0 && !h.reserve(delta) {
		return nil
	}

	newBuf := h.parent.Reallocate(b, size)
	if newBuf == nil {
		if delta > 0 {
			h.unreserve(delta)
		}
		return nil
	}

	if delta < 0 {
		h.unreserve(-delta)
	}

	return newBuf
}

func (h *LimitedHeap) Free(b []byte) {
	h.parent.Free(b)
	h.unreserve(len(b))
}

// LargestFree reports the bytes left under the capacity. The parent may be more constrained than
// that; LimitedHeap only knows its own ceiling.
func (h *LimitedHeap) LargestFree() int {
	free := h.capacity - atomic.LoadInt64(&h.used)
	if free < 0 {
		return 0
	}

	if reporter, ok := h.parent.(FreeSpaceReporter); ok {
		parentFree := int64(reporter.LargestFree())
		if parentFree < free {
			free = parentFree
		}
	}

	return int(free)
}

// Used returns the number of bytes currently outstanding
func (h *LimitedHeap) Used() int {
	return int(atomic.LoadInt64(&h.used))
}

// Capacity returns the ceiling this heap was created with
func (h *LimitedHeap) Capacity() int {
	return int(h.capacity)
}
