package heap

// GoHeap is a Heap backed by the Go runtime. It never reports exhaustion: if the runtime cannot
// satisfy a request the process dies inside make.
type GoHeap struct{}

var _ Heap = (*GoHeap)(nil)

func NewGoHeap() *GoHeap {
	return &GoHeap{}
}

func (h *GoHeap) Allocate(size int) []byte {
	if size < 0 {
		return nil
	}

	return make([]byte, size)
}

func (h *GoHeap) Reallocate(b []byte, size int) []byte {
	if size < 0 {
		return nil
	}

	if size <= cap(b) {
		return b[:size]
	}

	newBuf := make([]byte, size)
	copy(newBuf, b)
	return newBuf
}

// Free is a no-op: the garbage collector reclaims regions once the last reference is dropped
func (h *GoHeap) Free(b []byte) {}
