package tagmem_test

import (
	"sync"
	"testing"

	"github.com/embedmem/tagmem/memutils/heap"
	"github.com/embedmem/tagmem/tagmem"
	"github.com/stretchr/testify/require"
)

func TestAllocator_ConcurrentCycles(t *testing.T) {
	const goroutines = 16
	const cycles = 250

	h := newHarness(t, heap.NewGoHeap(), tagmem.CreateOptions{})
	allocator := h.allocator

	var wg sync.WaitGroup
	kept := make([][]byte, goroutines)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()

			size := g + 1
			category := tagmem.Category(100 + g)
			for i := 0; i < cycles; i++ {
				region := allocator.Allocate(size, category)
				grown := allocator.Reallocate(region, size*2, category)
				allocator.Release(grown)
			}

			// Leave one allocation behind so the final totals are non-trivial
			kept[g] = allocator.Allocate(size, category)
		}(g)
	}

	// Snapshots taken while the writers run must always be self-consistent
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			stats := allocator.MemoryStats()
			if stats.HighWater < stats.Consumed || stats.ObjectsAllocated < 0 {
				panic("inconsistent snapshot")
			}
		}
	}()

	wg.Wait()
	<-done

	expectedBytes := 0
	for g := 0; g < goroutines; g++ {
		expectedBytes += g + 1
	}

	stats := allocator.MemoryStats()
	require.Equal(t, expectedBytes, stats.Consumed)
	require.Equal(t, goroutines, stats.ObjectsAllocated)
	require.NoError(t, allocator.Validate())

	categories := allocator.CategoryStatistics()
	for g := 0; g < goroutines; g++ {
		categoryStats := categories[tagmem.Category(100+g)]
		require.Equal(t, 1, categoryStats.AllocationCount)
		require.Equal(t, g+1, categoryStats.AllocationBytes)
		require.Equal(t, (g+1)*2, categoryStats.HighWaterBytes)
	}

	for _, region := range kept {
		allocator.Release(region)
	}
	require.NoError(t, allocator.Destroy())
}

func TestAllocator_ExternallySynchronized(t *testing.T) {
	h := newHarness(t, heap.NewGoHeap(), tagmem.CreateOptions{
		Flags: tagmem.AllocatorCreateExternallySynchronized,
	})

	region := h.allocator.Allocate(32, tagmem.CategoryGeneral)
	requireStats(t, h.allocator, 32, 1, 32)
	h.allocator.Release(region)
	requireStats(t, h.allocator, 0, 0, 32)
}
