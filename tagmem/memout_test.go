package tagmem_test

import (
	"testing"
	"time"

	"github.com/embedmem/tagmem/memutils/heap"
	"github.com/embedmem/tagmem/tagmem"
	"github.com/stretchr/testify/require"
)

// cacheClient holds regions it can give back. Inactive entries are dropped first.
type cacheClient struct {
	allocator *tagmem.Allocator
	inactive  [][]byte
	active    [][]byte

	phases []tagmem.MemoryOutPhase
	aborts int
	resets int
}

func (c *cacheClient) FreeMemory(phase tagmem.MemoryOutPhase) bool {
	c.phases = append(c.phases, phase)

	entries := &c.inactive
	if phase == tagmem.FreeActiveCacheMemory {
		entries = &c.active
	}
	if len(*entries) == 0 {
		return false
	}

	for _, region := range *entries {
		c.allocator.Release(region)
	}
	*entries = nil
	return true
}

func (c *cacheClient) MemoryOutAbort() {
	c.aborts++
}

func (c *cacheClient) MemoryOutReset() {
	c.resets++
}

func newMemoryOutHarness(t *testing.T, capacity int) *harness {
	return newHarness(t, heap.NewLimitedHeap(nil, capacity), tagmem.CreateOptions{
		MemoryOut: &tagmem.MemoryOutOptions{
			AbortBufferSize: 200,
			ReserveSize:     20,
		},
	})
}

func TestMemoryOut_BuffersAreAccounted(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)

	requireStats(t, h.allocator, 220, 2, 220)
	require.Equal(t, 220, h.allocator.CategoryStatistics()[tagmem.CategoryMemoryOut].AllocationBytes)
	require.False(t, h.allocator.MemoryOut().AbortReached())

	require.NoError(t, h.allocator.Destroy())
}

func TestMemoryOut_Disabled(t *testing.T) {
	h := newHarness(t, heap.NewGoHeap(), tagmem.CreateOptions{})
	require.Nil(t, h.allocator.MemoryOut())
	requireStats(t, h.allocator, 0, 0, 0)
}

func TestMemoryOut_CreationFailure(t *testing.T) {
	_, err := tagmem.New(nil, heap.NewLimitedHeap(nil, 100), tagmem.CreateOptions{
		MemoryOut: &tagmem.MemoryOutOptions{},
	})
	require.ErrorIs(t, err, tagmem.ErrOutOfMemory)
}

func TestMemoryOut_InactivePhaseRecovers(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)
	allocator := h.allocator

	client := &cacheClient{allocator: allocator}
	client.inactive = append(client.inactive, allocator.Allocate(300, tagmem.CategoryGeneral))
	client.active = append(client.active, allocator.Allocate(300, tagmem.CategoryGeneral))
	allocator.MemoryOut().RegisterClient(client)
	allocator.MemoryOut().RegisterClient(client)

	// 820 of 1000 bytes are in use
	region, err := allocator.TryAllocate(400, tagmem.CategoryTryGeneral)
	require.NoError(t, err)
	require.Len(t, region, 400)

	require.Equal(t, []tagmem.MemoryOutPhase{tagmem.FreeInactiveCacheMemory}, client.phases)
	require.Empty(t, client.inactive)
	require.NotEmpty(t, client.active)
	require.False(t, allocator.MemoryOut().AbortReached())

	// The reserve was re-acquired after the clients ran
	require.Equal(t, 220, allocator.CategoryStatistics()[tagmem.CategoryMemoryOut].AllocationBytes)

	allocator.Release(region)
	allocator.Release(client.active[0])
	require.NoError(t, allocator.Destroy())
}

func TestMemoryOut_ActivePhaseRecovers(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)
	allocator := h.allocator

	client := &cacheClient{allocator: allocator}
	client.active = append(client.active, allocator.Allocate(500, tagmem.CategoryGeneral))
	allocator.MemoryOut().RegisterClient(client)

	region := allocator.Allocate(400, tagmem.CategoryGeneral)
	require.Len(t, region, 400)

	require.Equal(t, []tagmem.MemoryOutPhase{tagmem.FreeInactiveCacheMemory, tagmem.FreeActiveCacheMemory}, client.phases)
	require.Empty(t, h.terminated)

	allocator.Release(region)
	require.NoError(t, allocator.Destroy())
}

func TestMemoryOut_AbortThenReset(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)
	allocator := h.allocator
	memoryOut := allocator.MemoryOut()

	client := &cacheClient{allocator: allocator}
	memoryOut.RegisterClient(client)

	filler := allocator.Allocate(700, tagmem.CategoryGeneral)

	// Nothing can be freed, so the abort buffer is given up and the request fits in the space it left
	region, err := allocator.TryAllocate(150, tagmem.CategoryTryGeneral)
	require.NoError(t, err)
	require.True(t, memoryOut.AbortReached())
	require.Equal(t, 1, client.aborts)
	require.NotEmpty(t, significantRecords(h.transport))

	// Abort mode is only entered once: further failures give up
	_, err = allocator.TryAllocate(500, tagmem.CategoryTryGeneral)
	require.ErrorIs(t, err, tagmem.ErrOutOfMemory)
	require.Equal(t, 1, client.aborts)

	allocator.Release(region)
	require.NoError(t, memoryOut.Reset())
	require.False(t, memoryOut.AbortReached())
	require.Equal(t, 1, client.resets)
	require.Equal(t, 220, allocator.CategoryStatistics()[tagmem.CategoryMemoryOut].AllocationBytes)

	allocator.Release(filler)
	require.NoError(t, allocator.Destroy())
}

func TestMemoryOut_StrictFailureAfterAbort(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)
	allocator := h.allocator

	filler := allocator.Allocate(700, tagmem.CategoryGeneral)

	// Even the released abort buffer is not enough
	h.expectFatal(t, func() {
		allocator.Allocate(600, tagmem.CategoryGeneral)
	})
	require.True(t, allocator.MemoryOut().AbortReached())

	allocator.Release(filler)
}

// recursiveClient allocates while it is being asked to free memory
type recursiveClient struct {
	allocator *tagmem.Allocator
	calls     int
}

func (c *recursiveClient) FreeMemory(phase tagmem.MemoryOutPhase) bool {
	c.calls++
	_, err := c.allocator.TryAllocate(5000, tagmem.CategoryGeneral)
	return err == nil
}

func (c *recursiveClient) MemoryOutAbort() {}

func (c *recursiveClient) MemoryOutReset() {}

func TestMemoryOut_NoNestedRecovery(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)
	allocator := h.allocator

	client := &recursiveClient{allocator: allocator}
	allocator.MemoryOut().RegisterClient(client)

	_, err := allocator.TryAllocate(5000, tagmem.CategoryTryGeneral)
	require.ErrorIs(t, err, tagmem.ErrOutOfMemory)

	// One call per phase for the first round; the abort round frees nothing and ends recovery
	require.Equal(t, 4, client.calls)
}

func TestMemoryOut_UnregisterClient(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)
	memoryOut := h.allocator.MemoryOut()

	client := &cacheClient{allocator: h.allocator}
	memoryOut.UnregisterClient(client)
	memoryOut.RegisterClient(client)
	memoryOut.UnregisterClient(client)

	_, err := h.allocator.TryAllocate(900, tagmem.CategoryTryGeneral)
	require.NoError(t, err)
	require.Empty(t, client.phases)
	require.Equal(t, 0, client.aborts)
}

func TestMemoryOut_SetAbortBufferSize(t *testing.T) {
	h := newMemoryOutHarness(t, 1000)
	memoryOut := h.allocator.MemoryOut()

	require.NoError(t, memoryOut.SetAbortBufferSize(300))
	require.Equal(t, 300, memoryOut.AbortBufferSize())
	require.Equal(t, 320, h.allocator.CategoryStatistics()[tagmem.CategoryMemoryOut].AllocationBytes)

	require.ErrorIs(t, memoryOut.SetAbortBufferSize(5000), tagmem.ErrOutOfMemory)

	require.Equal(t, "FreeActiveCacheMemory", tagmem.FreeActiveCacheMemory.String())
}

// failureSignalHeap reports every request its parent heap refused
type failureSignalHeap struct {
	heap.Heap
	failures chan int
}

func (h *failureSignalHeap) Allocate(size int) []byte {
	region := h.Heap.Allocate(size)
	if region == nil {
		select {
		case h.failures <- size:
		default:
		}
	}
	return region
}

// blockingClient holds one region and does not give it back until it is told to
type blockingClient struct {
	allocator *tagmem.Allocator
	region    []byte
	entered   chan struct{}
	proceed   chan struct{}
}

func (c *blockingClient) FreeMemory(phase tagmem.MemoryOutPhase) bool {
	if c.region == nil {
		return false
	}

	close(c.entered)
	<-c.proceed

	c.allocator.Release(c.region)
	c.region = nil
	return true
}

func (c *blockingClient) MemoryOutAbort() {}

func (c *blockingClient) MemoryOutReset() {}

func TestMemoryOut_ConcurrentRequestsShareRecovery(t *testing.T) {
	signalHeap := &failureSignalHeap{
		Heap:     heap.NewLimitedHeap(nil, 2000),
		failures: make(chan int, 16),
	}
	h := newHarness(t, signalHeap, tagmem.CreateOptions{
		MemoryOut: &tagmem.MemoryOutOptions{
			AbortBufferSize: 200,
			ReserveSize:     20,
		},
	})
	allocator := h.allocator

	client := &blockingClient{
		allocator: allocator,
		region:    allocator.Allocate(1500, tagmem.CategoryGeneral),
		entered:   make(chan struct{}),
		proceed:   make(chan struct{}),
	}
	allocator.MemoryOut().RegisterClient(client)

	type outcome struct {
		region []byte
		err    error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	// 1720 of 2000 bytes are in use
	go func() {
		region, err := allocator.TryAllocate(800, tagmem.CategoryTryGeneral)
		first <- outcome{region, err}
	}()
	<-client.entered

	// The first request's round has released the reserve, leaving 300 bytes
	go func() {
		region, err := allocator.TryAllocate(450, tagmem.CategoryTryGeneral)
		second <- outcome{region, err}
	}()
	for size := range signalHeap.failures {
		if size == 450 {
			break
		}
	}

	// Give the second request time to queue behind the running round
	time.Sleep(50 * time.Millisecond)
	close(client.proceed)

	firstOutcome := <-first
	require.NoError(t, firstOutcome.err)
	require.Len(t, firstOutcome.region, 800)

	secondOutcome := <-second
	require.NoError(t, secondOutcome.err)
	require.Len(t, secondOutcome.region, 450)

	require.False(t, allocator.MemoryOut().AbortReached())
	requireStats(t, allocator, 1470, 4, 1720)

	allocator.Release(firstOutcome.region)
	allocator.Release(secondOutcome.region)
	require.NoError(t, allocator.Destroy())
}

func TestMemoryOut_ExternallySynchronized(t *testing.T) {
	h := newHarness(t, heap.NewLimitedHeap(nil, 1000), tagmem.CreateOptions{
		Flags: tagmem.AllocatorCreateExternallySynchronized,
		MemoryOut: &tagmem.MemoryOutOptions{
			AbortBufferSize: 200,
			ReserveSize:     20,
		},
	})
	allocator := h.allocator

	client := &cacheClient{allocator: allocator}
	client.inactive = append(client.inactive, allocator.Allocate(500, tagmem.CategoryGeneral))
	allocator.MemoryOut().RegisterClient(client)

	region := allocator.Allocate(400, tagmem.CategoryGeneral)
	require.Len(t, region, 400)
	require.Equal(t, []tagmem.MemoryOutPhase{tagmem.FreeInactiveCacheMemory}, client.phases)
	require.False(t, allocator.MemoryOut().AbortReached())

	allocator.Release(region)
	require.NoError(t, allocator.Destroy())
}
