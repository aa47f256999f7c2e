package memutils

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
)

// Statistics holds the live counters for a set of allocations: how many there are, how many bytes
// they hold, and the most bytes they have ever held at once
type Statistics struct {
	AllocationCount int
	AllocationBytes int
	HighWaterBytes  int
}

func (s *Statistics) Clear() {
	s.AllocationCount = 0
	s.AllocationBytes = 0
	s.HighWaterBytes = 0
}

func (s *Statistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if s.AllocationBytes > s.HighWaterBytes {
		s.HighWaterBytes = s.AllocationBytes
	}
}

// RemoveAllocation subtracts a single allocation of the provided size. The counters going negative
// means the books are corrupt, so it panics.
func (s *Statistics) RemoveAllocation(size int) {
	s.AllocationCount--
	s.AllocationBytes -= size

	if s.AllocationCount < 0 {
		panic(fmt.Sprintf("allocation count went negative: %d", s.AllocationCount))
	}
	if s.AllocationBytes < 0 {
		panic(fmt.Sprintf("allocation bytes went negative: %d", s.AllocationBytes))
	}
}

// ResizeAllocation moves a single allocation from oldSize to newSize without changing the
// allocation count
func (s *Statistics) ResizeAllocation(oldSize, newSize int) {
	s.AllocationBytes += newSize - oldSize

	if s.AllocationBytes < 0 {
		panic(fmt.Sprintf("allocation bytes went negative: %d", s.AllocationBytes))
	}

	if s.AllocationBytes > s.HighWaterBytes {
		s.HighWaterBytes = s.AllocationBytes
	}
}

func (s *Statistics) Validate() error {
	if s.AllocationCount < 0 {
		return errors.Newf("allocation count %d is negative", s.AllocationCount)
	}
	if s.AllocationBytes < 0 {
		return errors.Newf("allocation bytes %d is negative", s.AllocationBytes)
	}
	if s.HighWaterBytes < s.AllocationBytes {
		return errors.Newf("high water mark %d is below the current allocation bytes %d", s.HighWaterBytes, s.AllocationBytes)
	}
	if s.AllocationCount == 0 && s.AllocationBytes != 0 {
		return errors.Newf("no allocations are live but %d bytes are accounted for", s.AllocationBytes)
	}

	return nil
}

type DetailedStatistics struct {
	Statistics
	AllocationSizeMin int
	AllocationSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.Statistics.AddAllocation(size)

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
	s.HighWaterBytes += other.HighWaterBytes

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}
