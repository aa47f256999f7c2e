//go:build linux || darwin || freebsd

package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/embedmem/tagmem/memutils"
	"golang.org/x/sys/unix"
)

// MmapHeap hands out anonymous private mappings obtained straight from the operating system, so
// regions live outside the Go heap and are returned to the OS on Free. Every region is rounded up to
// a whole number of pages; the excess is visible as spare capacity on the returned slice.
type MmapHeap struct {
	pageSize int
}

var _ Heap = (*MmapHeap)(nil)

func NewMmapHeap() (*MmapHeap, error) {
	pageSize := unix.Getpagesize()
	if pageSize < 1 {
		return nil, errors.Newf("operating system reported an invalid page size %d", pageSize)
	}

	err := memutils.CheckPow2(pageSize, "system page size")
	if err != nil {
		return nil, err
	}

	return &MmapHeap{pageSize: pageSize}, nil
}

func (h *MmapHeap) PageSize() int {
	return h.pageSize
}

func (h *MmapHeap) Allocate(size int) []byte {
	if size <= 0 {
		return nil
	}

	length := memutils.AlignUp(size, uint(h.pageSize))
	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}

	return data[:size]
}

func (h *MmapHeap) Reallocate(b []byte, size int) []byte {
	if size <= 0 {
		return nil
	}

	if size <= cap(b) {
		return b[:size]
	}

	newBuf := h.Allocate(size)
	if newBuf == nil {
		return nil
	}

	copy(newBuf, b)
	h.Free(b)

	return newBuf
}

func (h *MmapHeap) Free(b []byte) {
	if cap(b) == 0 {
		return
	}

	err := unix.Munmap(b[:cap(b)])
	if err != nil {
		panic(fmt.Sprintf("failed to unmap a region of %d bytes: %+v", cap(b), err))
	}
}
