package buddy

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vlad/memutils"
)

// maxFreeBlocks bounds every free list traversal, so that a corrupted ring that never returns to its head
// is reported rather than looping forever
func (a *Allocator) maxFreeBlocks() int {
	return int(a.size / MinBlockSize)
}

// checkBlockGeometry verifies that a block's recorded size is one the allocator could have produced at offset
func (a *Allocator) checkBlockGeometry(offset uint32, size uint32) error {
	if err := memutils.CheckPow2(size, "block size"); err != nil {
		return errors.Mark(errors.Wrapf(err, "block at offset %d", offset), ErrCorruption)
	}
	if size < MinBlockSize || size > a.size {
		return errors.Wrapf(ErrCorruption, "block at offset %d has size %d, outside of [%d, %d]", offset, size, MinBlockSize, a.size)
	}
	if offset&(size-1) != 0 {
		return errors.Wrapf(ErrCorruption, "block at offset %d is not aligned to its size %d", offset, size)
	}
	return nil
}

// freeNode returns the header at offset after verifying that offset is a plausible block start holding a
// free block
func (a *Allocator) freeNode(offset uint32) (*blockHeader, error) {
	if offset >= a.size || offset%MinBlockSize != 0 {
		return nil, errors.Wrapf(ErrCorruption, "free list link to offset %d is not a block start in a %d byte arena", offset, a.size)
	}

	h := a.header(offset)
	if h.magic != magicFree {
		return nil, errors.Wrapf(ErrCorruption, "block at offset %d is in the free list but is not free (magic %#x)", offset, h.magic)
	}

	if err := a.checkBlockGeometry(offset, h.size); err != nil {
		return nil, err
	}

	return h, nil
}

// walkFreeList calls visit for each block in the free list in ring order, starting at the head. Each node
// is checked for a free tag, valid geometry, an intact reverse link, and ascending order.
func (a *Allocator) walkFreeList(visit func(offset uint32, h *blockHeader) error) error {
	if a.head == noBlock {
		return nil
	}

	limit := a.maxFreeBlocks()
	offset := a.head
	for steps := 0; ; steps++ {
		if steps >= limit {
			return errors.Wrapf(ErrCorruption, "free list starting at offset %d does not close into a ring", a.head)
		}

		h, err := a.freeNode(offset)
		if err != nil {
			return err
		}

		if h.prev >= a.size || h.prev%MinBlockSize != 0 || a.header(h.prev).next != offset {
			return errors.Wrapf(ErrCorruption, "block at offset %d lists the block at offset %d as its previous block, but the reverse reference is broken", offset, h.prev)
		}

		err = visit(offset, h)
		if err != nil {
			return err
		}

		if h.next == a.head {
			return nil
		}

		if h.next <= offset {
			return errors.Wrapf(ErrCorruption, "free list is out of order: block at offset %d links forward to offset %d", offset, h.next)
		}
		if offset+h.size > h.next {
			return errors.Wrapf(ErrCorruption, "free block at offset %d with size %d overlaps the next free block at offset %d", offset, h.size, h.next)
		}

		offset = h.next
	}
}

// walkPhysical calls visit for every block in the arena in address order. Each header is checked for a
// valid tag and geometry, which together guarantee that the blocks tile the arena.
func (a *Allocator) walkPhysical(visit func(offset uint32, h *blockHeader, state BlockState) error) error {
	for offset := uint64(0); offset < uint64(a.size); {
		h := a.header(uint32(offset))

		state, ok := h.state()
		if !ok {
			return errors.Wrapf(ErrCorruption, "block at offset %d has an invalid header tag %#x", offset, h.magic)
		}

		if err := a.checkBlockGeometry(uint32(offset), h.size); err != nil {
			return err
		}

		if err := visit(uint32(offset), h, state); err != nil {
			return err
		}

		offset += uint64(h.size)
	}

	return nil
}

// Validate performs a full consistency check of the arena: the free list ring, the physical tiling of the
// arena, the buddy invariant, and the allocator's cached counters. When the allocator is functioning
// correctly this can never return an error; every error it does return wraps ErrCorruption.
//
// Validate is expensive and is intended for diagnostics and tests. Builds using the debug_mem_utils tag call
// it after every Malloc and Free.
func (a *Allocator) Validate() error {
	if !a.IsInitialized() {
		return nil
	}

	var listCount, listBytes int
	err := a.walkFreeList(func(offset uint32, h *blockHeader) error {
		if h.size < a.size {
			buddyOffset := offset ^ h.size
			bh := a.header(buddyOffset)
			if bh.magic == magicFree && bh.size == h.size {
				return errors.Wrapf(ErrCorruption, "free block at offset %d and its buddy at offset %d were not coalesced", offset, buddyOffset)
			}
		}

		listCount++
		listBytes += int(h.size)
		return nil
	})
	if err != nil {
		return err
	}

	var physicalFree, physicalFreeBytes, physicalAllocs int
	err = a.walkPhysical(func(offset uint32, h *blockHeader, state BlockState) error {
		if state == BlockFree {
			physicalFree++
			physicalFreeBytes += int(h.size)
		} else {
			physicalAllocs++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if listCount != physicalFree {
		return errors.Wrapf(ErrCorruption, "the free list holds %d blocks, but the arena contains %d free blocks", listCount, physicalFree)
	}

	if listBytes != a.freeBytes || physicalFreeBytes != a.freeBytes {
		return errors.Wrapf(ErrCorruption, "the allocator records %d free bytes, but the free list holds %d and the arena contains %d", a.freeBytes, listBytes, physicalFreeBytes)
	}

	if listCount != a.freeCount {
		return errors.Wrapf(ErrCorruption, "the allocator records %d free blocks, but the free list holds %d", a.freeCount, listCount)
	}

	if physicalAllocs != a.allocCount {
		return errors.Wrapf(ErrCorruption, "the allocator records %d allocations, but the arena contains %d", a.allocCount, physicalAllocs)
	}

	if a.trackAllocations {
		if a.allocations.Count() != a.allocCount {
			return errors.Wrapf(ErrCorruption, "%d allocations are tracked, but the allocator records %d", a.allocations.Count(), a.allocCount)
		}

		a.allocations.Iter(func(ptr Pointer, requested uint32) (stop bool) {
			h := a.header(uint32(ptr) - HeaderSize)
			if h.magic != magicAllocated {
				err = errors.Wrapf(ErrCorruption, "tracked allocation %d does not have an allocated header", ptr)
				return true
			}
			if uint64(requested)+uint64(HeaderSize) > uint64(h.size) {
				err = errors.Wrapf(ErrCorruption, "tracked allocation %d requested %d bytes, but its block is only %d bytes", ptr, requested, h.size)
				return true
			}
			return false
		})
	}

	return err
}
