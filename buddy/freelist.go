package buddy

import "github.com/cockroachdb/errors"

// detach removes the block at offset from the free list ring without touching the free counters
func (a *Allocator) detach(offset uint32) {
	h := a.header(offset)

	if h.next == offset {
		a.head = noBlock
	} else {
		a.header(h.next).prev = h.prev
		a.header(h.prev).next = h.next
		if a.head == offset {
			a.head = h.next
		}
	}

	h.next = noBlock
	h.prev = noBlock
}

// unlink removes the block at offset from the free list so that it can be handed out
func (a *Allocator) unlink(offset uint32) {
	a.freeCount--
	a.freeBytes -= int(a.header(offset).size)
	a.detach(offset)
}

// replace puts the unlinked block at replacement into the ring position held by old. The caller must
// guarantee that no free block lies between the two, so that address order is preserved.
func (a *Allocator) replace(old uint32, replacement uint32) {
	oh := a.header(old)
	rh := a.header(replacement)

	if oh.next == old {
		rh.next = replacement
		rh.prev = replacement
	} else {
		rh.next = oh.next
		rh.prev = oh.prev
		a.header(rh.next).prev = replacement
		a.header(rh.prev).next = replacement
	}

	if a.head == old {
		a.head = replacement
	}

	oh.next = noBlock
	oh.prev = noBlock
}

// linkAfter splices the unlinked block at offset into the ring immediately after prev
func (a *Allocator) linkAfter(prev uint32, offset uint32) {
	ph := a.header(prev)
	h := a.header(offset)

	h.prev = prev
	h.next = ph.next
	a.header(ph.next).prev = offset
	ph.next = offset
}

// insertOrdered links the unlinked free block at offset into its address-ordered position. The list is
// searched backward from its highest block, since recently freed blocks tend to sit high in the arena.
func (a *Allocator) insertOrdered(offset uint32) error {
	if a.head == noBlock {
		h := a.header(offset)
		h.next = offset
		h.prev = offset
		a.head = offset
		return nil
	}

	limit := a.maxFreeBlocks()
	cursor := a.header(a.head).prev
	for steps := 0; ; steps++ {
		if steps > limit {
			return errors.Wrapf(ErrCorruption, "free list starting at offset %d does not close into a ring", a.head)
		}

		ch, err := a.freeNode(cursor)
		if err != nil {
			return err
		}

		if cursor == offset {
			return errors.Wrapf(ErrCorruption, "block at offset %d is already in the free list", offset)
		}

		if cursor < offset {
			break
		}

		if cursor == a.head {
			// Every free block is above this one, so it becomes the new head
			cursor = ch.prev
			a.head = offset
			break
		}

		cursor = ch.prev
	}

	a.linkAfter(cursor, offset)
	return nil
}
