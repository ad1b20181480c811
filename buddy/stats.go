package buddy

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/vlad/memutils"
)

// VisitFreeList calls visit once for each block in the free list, in list order starting from the lowest
// addressed block. Unlike Stats, it does not treat corruption as fatal: it is returned as an error wrapping
// ErrCorruption, so callers can inspect a damaged arena.
func (a *Allocator) VisitFreeList(visit func(block BlockInfo) error) error {
	return a.walkFreeList(func(offset uint32, h *blockHeader) error {
		return visit(BlockInfo{Offset: offset, Size: h.size, State: BlockFree})
	})
}

// VisitAllBlocks calls visit once for every block in the arena, free or allocated, in address order.
// Corruption is returned as an error wrapping ErrCorruption rather than treated as fatal.
func (a *Allocator) VisitAllBlocks(visit func(block BlockInfo) error) error {
	return a.walkPhysical(func(offset uint32, h *blockHeader, state BlockState) error {
		return visit(BlockInfo{Offset: offset, Size: h.size, State: state})
	})
}

// VisitAllocations calls visit once for each live allocation with the number of bytes originally requested
// for it. The order is unspecified. ErrNotTracked is returned unless the allocator was created with
// CreateOptions.TrackAllocations.
func (a *Allocator) VisitAllocations(visit func(ptr Pointer, requested uint32) error) error {
	if !a.trackAllocations {
		return ErrNotTracked
	}
	if !a.IsInitialized() {
		return nil
	}

	var err error
	a.allocations.Iter(func(ptr Pointer, requested uint32) (stop bool) {
		err = visit(ptr, requested)
		return err != nil
	})
	return err
}

// allocatedBlock returns the offset of the live allocation behind ptr
func (a *Allocator) allocatedBlock(ptr Pointer) (uint32, *blockHeader, error) {
	if !a.IsInitialized() {
		return 0, nil, ErrNotInitialized
	}
	if uint32(ptr) < HeaderSize || uint32(ptr) >= a.size || (uint32(ptr)-HeaderSize)%MinBlockSize != 0 {
		return 0, nil, errors.Newf("pointer %d is not a block pointer in a %d byte arena", ptr, a.size)
	}

	offset := uint32(ptr) - HeaderSize
	h := a.header(offset)
	if h.magic != magicAllocated {
		return 0, nil, errors.Newf("pointer %d is not a live allocation", ptr)
	}
	if err := a.checkBlockGeometry(offset, h.size); err != nil {
		return 0, nil, err
	}

	return offset, h, nil
}

// BlockSize returns the full size of the block behind a live allocation, header included
func (a *Allocator) BlockSize(ptr Pointer) (uint32, error) {
	_, h, err := a.allocatedBlock(ptr)
	if err != nil {
		return 0, err
	}
	return h.size, nil
}

// Bytes returns the usable memory of a live allocation. The slice spans the whole block past its header,
// which may be more than was requested. It returns nil if ptr is not a live allocation.
func (a *Allocator) Bytes(ptr Pointer) []byte {
	offset, h, err := a.allocatedBlock(ptr)
	if err != nil {
		return nil
	}

	end := offset + h.size
	return a.arena[uint32(ptr):end:end]
}

// Stats writes one line per free block to w, in the form "index:\toffset:size". Each block is validated as
// it is printed, and corruption is fatal. Only errors from w are returned.
func (a *Allocator) Stats(w io.Writer) error {
	if !a.IsInitialized() {
		return ErrNotInitialized
	}

	var writeErr error
	index := 0
	err := a.VisitFreeList(func(block BlockInfo) error {
		index++
		_, writeErr = fmt.Fprintf(w, "%d:\t%d:%d\n", index, block.Offset, block.Size)
		return writeErr
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		a.fatal(err)
	}
	return nil
}

// AddStatistics sums this arena's totals into stats
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	if !a.IsInitialized() {
		return
	}

	stats.ArenaCount++
	stats.ArenaBytes += int(a.size)
	stats.AllocationCount += a.allocCount
	stats.AllocationBytes += int(a.size) - a.freeBytes
	stats.FreeBlockCount += a.freeCount
	stats.FreeBytes += a.freeBytes
}

// AddDetailedStatistics sums this arena's per-block statistics into stats. This walks the whole arena, and
// corruption found along the way is fatal.
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	if !a.IsInitialized() {
		return
	}

	stats.ArenaCount++
	stats.ArenaBytes += int(a.size)

	err := a.walkPhysical(func(offset uint32, h *blockHeader, state BlockState) error {
		if state == BlockFree {
			stats.AddFreeBlock(int(h.size))
		} else {
			stats.AddAllocation(int(h.size))
		}
		return nil
	})
	if err != nil {
		a.fatal(err)
	}

	if a.trackAllocations {
		a.allocations.Iter(func(ptr Pointer, requested uint32) (stop bool) {
			stats.RequestedBytes += int(requested)
			return false
		})
	}
}

// BuildStatsString returns a JSON document describing the arena. When detailed is true, the document
// includes every block in address order. Corruption found while building it is fatal.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	a.PrintStats(&writer, detailed)
	return string(writer.Bytes())
}

// PrintStats writes the JSON document described by BuildStatsString to writer
func (a *Allocator) PrintStats(writer *jwriter.Writer, detailed bool) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	json := writer.Object()
	defer json.End()

	json.Name("Initialized").Bool(a.IsInitialized())
	json.Name("TotalBytes").Int(int(a.size))
	json.Name("FreeBytes").Int(a.freeBytes)
	json.Name("FreeBlocks").Int(a.freeCount)
	json.Name("Allocations").Int(a.allocCount)
	if a.trackAllocations {
		json.Name("RequestedBytes").Int(stats.RequestedBytes)
	}
	if stats.FreeBlockCount > 0 {
		json.Name("LargestFreeBlock").Int(stats.FreeBlockSizeMax)
		json.Name("SmallestFreeBlock").Int(stats.FreeBlockSizeMin)
	}

	if !detailed || !a.IsInitialized() {
		return
	}

	a.printDetailedMap(json)
}

func (a *Allocator) printDetailedMap(json jwriter.ObjectState) {
	blocks := json.Name("Blocks").Array()
	defer blocks.End()

	err := a.walkPhysical(func(offset uint32, h *blockHeader, state BlockState) error {
		obj := blocks.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(offset))
		obj.Name("Size").Int(int(h.size))
		obj.Name("State").String(state.String())

		if state == BlockAllocated && a.trackAllocations {
			requested, ok := a.allocations.Get(Pointer(offset + HeaderSize))
			if ok {
				obj.Name("Requested").Int(int(requested))
			}
		}
		return nil
	})
	if err != nil {
		a.fatal(err)
	}
}
