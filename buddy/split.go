package buddy

import "github.com/vkngwrapper/vlad/memutils"

// split halves the free block at offset until it is exactly required bytes. Each upper half becomes a new
// free block linked directly after the shrinking block, which keeps the free list in address order. It
// returns the number of splits performed.
func (a *Allocator) split(offset uint32, required uint32) int {
	memutils.DebugCheckPow2(required, "required block size")

	h := a.header(offset)
	splits := 0

	for h.size > required {
		half := h.size / 2
		siblingOffset := offset + half

		sibling := a.header(siblingOffset)
		sibling.magic = magicFree
		sibling.size = half
		sibling.next = h.next
		sibling.prev = offset
		a.header(h.next).prev = siblingOffset

		h.next = siblingOffset
		h.size = half

		a.freeCount++
		splits++
	}

	return splits
}
