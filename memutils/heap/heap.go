// Package heap defines the boundary between tagmem's accounting layer and the allocator that
// actually owns memory. tagmem never assumes anything about how a Heap places or recycles regions;
// it only relies on the contract documented on the interface.
package heap

//go:generate mockgen -source heap.go -destination mocks/heap_mock.go -package mocks

// Heap is an underlying allocator. Regions are byte slices whose length is exactly the size that
// was requested: callers hand back the same slice they were given (not a reslice of it).
type Heap interface {
	// Allocate returns a region of size bytes, or nil if the heap is exhausted
	Allocate(size int) []byte
	// Reallocate resizes a region previously returned by this heap. It returns the resized region,
	// which may or may not share its address with b, or nil if the heap is exhausted. On failure
	// b remains valid and untouched.
	Reallocate(b []byte, size int) []byte
	// Free returns a region to the heap
	Free(b []byte)
}

// FreeSpaceReporter is implemented by heaps that can estimate the largest single request they are
// currently able to satisfy. The estimate must never overstate what is available.
type FreeSpaceReporter interface {
	LargestFree() int
}
