package memutils

import "math"

// Statistics holds the running totals for an arena
type Statistics struct {
	ArenaCount      int
	ArenaBytes      int
	AllocationCount int
	// AllocationBytes counts whole blocks, headers included
	AllocationBytes int
	FreeBlockCount  int
	FreeBytes       int
}

func (s *Statistics) Clear() {
	s.ArenaCount = 0
	s.ArenaBytes = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
	s.FreeBlockCount = 0
	s.FreeBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ArenaCount += other.ArenaCount
	s.ArenaBytes += other.ArenaBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
	s.FreeBlockCount += other.FreeBlockCount
	s.FreeBytes += other.FreeBytes
}

// DetailedStatistics extends Statistics with block size extremes and, when the arena tracks its
// allocations, the number of bytes callers actually asked for.
type DetailedStatistics struct {
	Statistics
	RequestedBytes    int
	AllocationSizeMin int
	AllocationSizeMax int
	FreeBlockSizeMin  int
	FreeBlockSizeMax  int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.RequestedBytes = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.FreeBlockSizeMin = math.MaxInt
	s.FreeBlockSizeMax = 0
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++
	s.FreeBytes += size

	if size < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = size
	}

	if size > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// InternalFragmentation returns the bytes lost to power-of-two rounding across all tracked allocations.
// It is only meaningful when RequestedBytes was populated.
func (s *DetailedStatistics) InternalFragmentation() int {
	if s.RequestedBytes == 0 {
		return 0
	}
	return s.AllocationBytes - s.RequestedBytes
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.RequestedBytes += other.RequestedBytes

	if other.FreeBlockSizeMin < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = other.FreeBlockSizeMin
	}

	if other.FreeBlockSizeMax > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = other.FreeBlockSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}
