package buddy

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vlad/internal/backing"
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slog"
)

// Init prepares an arena of at least size bytes. The size is raised to MinArenaSize and then rounded up
// to a power of two. The whole arena starts out as a single free block.
//
// If the allocator already has an arena, Init does nothing, even when size differs from the size the
// arena was created with. Failing to acquire storage for the arena is fatal.
func (a *Allocator) Init(size uint32) {
	if a.IsInitialized() {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Init ignored, arena already initialized",
			slog.Int("requested", int(size)),
			slog.Int("arenaSize", int(a.size)),
		)
		return
	}

	requested := size
	if requested < MinArenaSize {
		requested = MinArenaSize
	}
	arenaSize := memutils.NextPow2(uint64(requested))
	if arenaSize > MaxArenaSize {
		a.fatal(errors.Wrapf(ErrArenaUnavailable, "a %d byte arena was requested, but the limit is %d", size, MaxArenaSize))
	}

	region, err := backing.Acquire(a.backingKind, arenaSize)
	if err != nil {
		a.fatal(errors.Mark(errors.Wrapf(err, "could not acquire %d bytes of %s storage", arenaSize, a.backingKind), ErrArenaUnavailable))
	}

	a.region = region
	a.arena = region.Bytes()
	a.size = uint32(arenaSize)

	h := a.header(0)
	h.magic = magicFree
	h.size = a.size
	h.next = 0
	h.prev = 0

	a.head = 0
	a.freeCount = 1
	a.freeBytes = int(a.size)
	a.allocCount = 0

	if a.trackAllocations {
		a.allocations = swiss.NewMap[Pointer, uint32](64)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Init",
		slog.Int("requested", int(size)),
		slog.Int("arenaSize", int(a.size)),
		slog.String("backing", region.Kind().String()),
	)
}

// End releases the arena. The allocator can be given a new arena with Init afterward. Pointers from the
// released arena must not be used again.
func (a *Allocator) End() {
	if !a.IsInitialized() {
		return
	}

	if a.trackAllocations && a.allocations.Count() > 0 {
		a.allocations.Iter(func(ptr Pointer, requested uint32) (stop bool) {
			a.logUnreleasedMemory(ptr, requested)
			return false
		})
	}

	err := a.region.Release()
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "error releasing arena storage",
			slog.Any("error", err),
			slog.Int("arenaSize", int(a.size)),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::End",
		slog.Int("arenaSize", int(a.size)),
		slog.Int("liveAllocations", a.allocCount),
	)

	a.region = nil
	a.arena = nil
	a.size = 0
	a.head = noBlock
	a.freeCount = 0
	a.freeBytes = 0
	a.allocCount = 0
	a.allocations = nil
}

func (a *Allocator) logUnreleasedMemory(ptr Pointer, requested uint32) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", int(uint32(ptr)-HeaderSize)),
		slog.Int("size", int(a.header(uint32(ptr)-HeaderSize).size)),
		slog.Int("requested", int(requested)),
	)
}

// IsInitialized returns true between Init and End
func (a *Allocator) IsInitialized() bool {
	return a.arena != nil
}

// ArenaSize returns the size in bytes of the arena, or 0 if the allocator is not initialized
func (a *Allocator) ArenaSize() uint32 { return a.size }

// FreeBytes returns the total size of all free blocks, headers included
func (a *Allocator) FreeBytes() int { return a.freeBytes }

// FreeBlockCount returns the number of blocks in the free list
func (a *Allocator) FreeBlockCount() int { return a.freeCount }

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int { return a.allocCount }
