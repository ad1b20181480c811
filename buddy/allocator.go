// Package buddy implements a buddy-block allocator over a single arena.
//
// The arena is a power-of-two region of bytes. Every block within it is a power of two in size, starts at
// an offset that is a multiple of its size, and begins with a HeaderSize header carrying the block's tag and
// size. Free blocks are additionally linked into a circular free list kept in ascending offset order. All
// links are arena offsets, so a block's buddy is always at offset XOR size.
//
// Malloc performs a best-fit scan of the free list and splits the chosen block in half until it fits
// the request as closely as a power of two can. Free merges the released block with its buddy for as long
// as the buddy is free and of equal size.
//
// An Allocator is not safe for concurrent use.
package buddy

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vlad/internal/backing"
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slog"
)

// Allocator manages one arena with the buddy-block algorithm. Use New to create one, and Init to give
// it an arena.
type Allocator struct {
	logger           *slog.Logger
	backingKind      backing.Kind
	trackAllocations bool
	fatalHandler     func(err error)

	region *backing.Region
	arena  []byte
	size   uint32

	// head is the offset of the lowest-addressed free block, or noBlock
	head       uint32
	freeCount  int
	freeBytes  int
	allocCount int

	allocations *swiss.Map[Pointer, uint32]
}

var _ memutils.Validatable = &Allocator{}

// Malloc allocates a block able to hold n bytes and returns a pointer to its first usable byte. The block
// is the smallest power of two that fits n plus the header, and no smaller than MinBlockSize.
//
// ErrNotInitialized is returned before Init. ErrNoSpace is returned, with the allocator unchanged, when no
// free block is large enough. Corruption found while scanning the free list is fatal.
func (a *Allocator) Malloc(n uint32) (Pointer, error) {
	if !a.IsInitialized() {
		return NilPointer, ErrNotInitialized
	}

	required := requiredBlockSize(n)
	if required > uint64(a.size) {
		return NilPointer, errors.Wrapf(ErrNoSpace, "a %d byte request needs a %d byte block, but the arena is %d bytes", n, required, a.size)
	}

	offset, err := a.findBestFit(uint32(required))
	if err != nil {
		a.fatal(err)
	}
	if offset == noBlock {
		return NilPointer, errors.Wrapf(ErrNoSpace, "no free block of %d bytes or more", required)
	}

	splits := a.split(offset, uint32(required))
	a.unlink(offset)

	h := a.header(offset)
	h.magic = magicAllocated
	a.allocCount++

	ptr := Pointer(offset + HeaderSize)
	if a.trackAllocations {
		a.allocations.Put(ptr, n)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Malloc",
		slog.Int("requested", int(n)),
		slog.Int("offset", int(offset)),
		slog.Int("blockSize", int(h.size)),
		slog.Int("order", memutils.Log2(h.size)),
		slog.Int("splits", splits),
	)

	memutils.DebugValidate(a)
	return ptr, nil
}

// findBestFit returns the offset of the smallest free block of at least required bytes, or noBlock. When
// several blocks share the smallest adequate size, the first one reached from the head wins, which is
// the one with the lowest offset.
func (a *Allocator) findBestFit(required uint32) (uint32, error) {
	best := noBlock
	var bestSize uint32

	err := a.walkFreeList(func(offset uint32, h *blockHeader) error {
		if h.size >= required && (best == noBlock || h.size < bestSize) {
			best = offset
			bestSize = h.size
		}
		return nil
	})

	return best, err
}

// Free releases an allocation returned by Malloc. The block is merged with its buddy repeatedly while the buddy
// is free and the same size, and the result is returned to the free list.
//
// Freeing a pointer that is not a live allocation, or finding corruption while merging, is fatal.
func (a *Allocator) Free(ptr Pointer) {
	offset, err := a.checkFree(ptr)
	if err != nil {
		a.fatal(err)
	}

	h := a.header(offset)
	blockSize := h.size
	h.magic = magicFree
	h.next = noBlock
	h.prev = noBlock
	a.allocCount--
	a.freeBytes += int(blockSize)

	if a.trackAllocations {
		a.allocations.Delete(ptr)
	}

	survivor, merges, err := a.coalesce(offset)
	if err != nil {
		a.fatal(err)
	}

	if merges == 0 {
		err = a.insertOrdered(offset)
		if err != nil {
			a.fatal(err)
		}
		a.freeCount++
	} else {
		// The first merge takes over an existing node; every later one removes a node
		a.freeCount -= merges - 1
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Free",
		slog.Int("offset", int(offset)),
		slog.Int("blockSize", int(blockSize)),
		slog.Int("merges", merges),
		slog.Int("resultOffset", int(survivor)),
		slog.Int("resultSize", int(a.header(survivor).size)),
	)

	memutils.DebugValidate(a)
}

// checkFree converts ptr to its block offset, verifying that it refers to a live allocation
func (a *Allocator) checkFree(ptr Pointer) (uint32, error) {
	if !a.IsInitialized() {
		return 0, errors.Wrapf(ErrInvalidFree, "pointer %d freed while the allocator is not initialized", ptr)
	}

	if uint32(ptr) < HeaderSize || uint32(ptr) >= a.size {
		return 0, errors.Wrapf(ErrInvalidFree, "pointer %d is outside of the %d byte arena", ptr, a.size)
	}

	offset := uint32(ptr) - HeaderSize
	if memutils.AlignDown(offset, MinBlockSize) != offset {
		return 0, errors.Wrapf(ErrInvalidFree, "pointer %d does not follow a block header", ptr)
	}

	h := a.header(offset)
	switch h.magic {
	case magicAllocated:
	case magicFree:
		return 0, errors.Wrapf(ErrInvalidFree, "double free of pointer %d", ptr)
	default:
		return 0, errors.Wrapf(ErrInvalidFree, "pointer %d has no allocated block header", ptr)
	}

	if err := a.checkBlockGeometry(offset, h.size); err != nil {
		return 0, err
	}

	return offset, nil
}
