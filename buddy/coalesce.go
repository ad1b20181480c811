package buddy

import "github.com/cockroachdb/errors"

// coalesce merges the newly freed block at offset with its buddy for as long as the buddy is free and of
// equal size. The block at offset must already be tagged free but must not be linked into the free list.
//
// It returns the offset of the surviving block and the number of merges performed. When at least one
// merge happened, the survivor is linked into the free list; when none did, the caller must insert it.
func (a *Allocator) coalesce(offset uint32) (uint32, int, error) {
	h := a.header(offset)
	merges := 0

	for h.size < a.size {
		buddyOffset := offset ^ h.size
		bh := a.header(buddyOffset)

		state, ok := bh.state()
		if !ok {
			return offset, merges, errors.Wrapf(ErrCorruption, "buddy of block at offset %d has an invalid header at offset %d", offset, buddyOffset)
		}
		if state == BlockAllocated || bh.size != h.size {
			break
		}

		if merges == 0 {
			// The buddy is already in the free list, and the survivor is whichever of the pair is lower.
			// Nothing free can sit between two buddies, so the lower block can simply take the buddy's place.
			if offset < buddyOffset {
				a.replace(buddyOffset, offset)
			}
		} else {
			// Both halves are linked and must be neighbors in the ring; splice out the higher one
			low, high := offset, buddyOffset
			if buddyOffset < offset {
				low, high = buddyOffset, offset
			}
			if a.header(low).next != high {
				return offset, merges, errors.Wrapf(ErrCorruption, "free buddies at offsets %d and %d are not adjacent in the free list", low, high)
			}
			a.detach(high)
		}

		if buddyOffset < offset {
			h.magic = 0
			offset, h = buddyOffset, bh
		} else {
			bh.magic = 0
		}

		h.size *= 2
		merges++
	}

	return offset, merges, nil
}
