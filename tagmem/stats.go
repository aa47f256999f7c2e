package tagmem

import (
	"github.com/embedmem/tagmem/memutils"
	"github.com/pkg/errors"
)

// MemoryStats is a point-in-time snapshot of the allocator's counters. Every field is read under the
// same lock that guards updates, so the fields are always consistent with one another.
type MemoryStats struct {
	// Consumed is the number of bytes in live allocations
	Consumed int
	// Available is the budget minus Consumed, or the heap's own free space estimate when no budget
	// was provided
	Available int
	// HighWater is the largest value Consumed has ever had
	HighWater int
	// ObjectsAllocated is the number of live allocations
	ObjectsAllocated int
	// LargestFree is a conservative estimate of the largest single request that can currently
	// succeed. It is zero when the heap cannot estimate its free space.
	LargestFree int
}

// MemoryStats returns a consistent snapshot of the allocator's counters
func (a *Allocator) MemoryStats() MemoryStats {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.snapshotLocked()
}

func (a *Allocator) snapshotLocked() MemoryStats {
	stats := MemoryStats{
		Consumed:         a.totals.AllocationBytes,
		HighWater:        a.totals.HighWaterBytes,
		ObjectsAllocated: a.totals.AllocationCount,
	}

	heapFree := -1
	if a.freeSpace != nil {
		heapFree = max(a.freeSpace.LargestFree(), 0)
	}

	if a.budget > 0 {
		stats.Available = max(a.budget-stats.Consumed, 0)
	} else if heapFree >= 0 {
		stats.Available = heapFree
	}

	if heapFree >= 0 {
		stats.LargestFree = min(heapFree, stats.Available)
	}

	return stats
}

// CategoryStatistics returns a copy of the counters for every category that has ever been allocated from
func (a *Allocator) CategoryStatistics() map[Category]memutils.Statistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	result := make(map[Category]memutils.Statistics, a.categories.Count())
	a.categories.Iter(func(category Category, stats *memutils.Statistics) (stop bool) {
		result[category] = *stats
		return false
	})

	return result
}

// DetailedStatistics is CategoryStatistics with the smallest and largest live allocation of each
// category. Categories with no live allocations report a minimum and maximum of zero.
func (a *Allocator) DetailedStatistics() map[Category]memutils.DetailedStatistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	detailed := a.detailedStatisticsLocked()

	result := make(map[Category]memutils.DetailedStatistics, len(detailed))
	for category, stats := range detailed {
		result[category] = *stats
	}
	return result
}

func (a *Allocator) detailedStatisticsLocked() map[Category]*memutils.DetailedStatistics {
	detailed := make(map[Category]*memutils.DetailedStatistics, a.categories.Count())
	a.records.AddDetailedStatistics(detailed)

	a.categories.Iter(func(category Category, stats *memutils.Statistics) (stop bool) {
		categoryStats, ok := detailed[category]
		if !ok {
			categoryStats = &memutils.DetailedStatistics{}
			detailed[category] = categoryStats
		}

		// The record walk only sees live allocations, so the running counters own the high water mark
		categoryStats.Statistics = *stats
		return false
	})

	return detailed
}

type validateFunc func() error

func (f validateFunc) Validate() error {
	return f()
}

// Validate checks the allocator's books for internal consistency
func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.validateLocked()
}

func (a *Allocator) validateLocked() error {
	err := a.totals.Validate()
	if err != nil {
		return err
	}

	err = a.records.Validate()
	if err != nil {
		return err
	}

	if a.records.Count() != a.totals.AllocationCount {
		return errors.Errorf("the allocator counts %d live allocations but holds %d records", a.totals.AllocationCount, a.records.Count())
	}
	if a.records.bytes != a.totals.AllocationBytes {
		return errors.Errorf("the allocator counts %d live bytes but its records hold %d", a.totals.AllocationBytes, a.records.bytes)
	}

	var categoryCount, categoryBytes int
	a.categories.Iter(func(category Category, stats *memutils.Statistics) (stop bool) {
		categoryCount += stats.AllocationCount
		categoryBytes += stats.AllocationBytes
		return false
	})

	if categoryCount != a.totals.AllocationCount || categoryBytes != a.totals.AllocationBytes {
		return errors.Errorf("the category breakdown (%d allocations, %d bytes) does not add up to the totals (%d allocations, %d bytes)",
			categoryCount, categoryBytes, a.totals.AllocationCount, a.totals.AllocationBytes)
	}

	return nil
}
