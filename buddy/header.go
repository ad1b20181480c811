package buddy

import (
	"math"
	"unsafe"

	"github.com/vkngwrapper/vlad/memutils"
)

const (
	// HeaderSize is the number of bytes at the start of every block that hold its tag, size and free list links
	HeaderSize = uint32(unsafe.Sizeof(blockHeader{}))
	// MinBlockSize is the smallest block the allocator will produce
	MinBlockSize = 2 * HeaderSize
	// MinArenaSize is the smallest arena Init will create
	MinArenaSize uint32 = 1 << 9
	// MaxArenaSize is the largest arena Init will create
	MaxArenaSize = uint64(1) << 31

	magicFree      uint32 = 0xDEADBEEF
	magicAllocated uint32 = 0xBEEFDEAD

	// noBlock marks an empty free list and the links of blocks that are not in it
	noBlock uint32 = math.MaxUint32
)

// Pointer is an arena-relative offset to the first usable byte of an allocation, immediately past its header
type Pointer uint32

// NilPointer is never a valid allocation, since offset 0 always holds a header
const NilPointer Pointer = 0

// BlockState is the tag carried by every block header
type BlockState uint8

const (
	BlockFree BlockState = iota
	BlockAllocated
)

var blockStateMapping = map[BlockState]string{
	BlockFree:      "Free",
	BlockAllocated: "Allocated",
}

func (s BlockState) String() string {
	return blockStateMapping[s]
}

// BlockInfo describes one block during an enumeration
type BlockInfo struct {
	Offset uint32
	Size   uint32
	State  BlockState
}

// Pointer returns the allocation pointer for this block
func (b BlockInfo) Pointer() Pointer {
	return Pointer(b.Offset + HeaderSize)
}

// blockHeader is laid over the first HeaderSize bytes of each block. next and prev are only meaningful
// while the block is free.
type blockHeader struct {
	magic uint32
	size  uint32
	next  uint32
	prev  uint32
}

func (h *blockHeader) state() (BlockState, bool) {
	switch h.magic {
	case magicFree:
		return BlockFree, true
	case magicAllocated:
		return BlockAllocated, true
	default:
		return 0, false
	}
}

// header returns the header at offset. The caller is responsible for offset being a block start inside
// the arena.
func (a *Allocator) header(offset uint32) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(&a.arena[offset]))
}

func requiredBlockSize(n uint32) uint64 {
	size := uint64(HeaderSize) + uint64(n)
	if size <= uint64(MinBlockSize) {
		return uint64(MinBlockSize)
	}
	return memutils.NextPow2(size)
}
