// Package backing acquires the raw storage behind an arena. Every region it hands out is aligned to its own
// size, which is a power of two.
package backing

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vlad/memutils"
)

// Kind selects where arena storage comes from
type Kind uint32

const (
	// Heap uses a slice from the Go heap, over-allocated so that an aligned window can be cut from it
	Heap Kind = iota
	// Mmap uses an anonymous private mapping. Platforms without mmap fall back to Heap.
	Mmap
)

var kindMapping = map[Kind]string{
	Heap: "Heap",
	Mmap: "Mmap",
}

func (k Kind) String() string {
	return kindMapping[k]
}

// Region is a block of storage aligned to its own length
type Region struct {
	kind    Kind
	data    []byte
	release func() error
}

// ErrTooLarge is returned from Acquire when twice the requested size does not fit in an int on this platform
var ErrTooLarge = errors.New("region is too large for this platform")

// Acquire obtains a region of the requested size. size must be a power of two.
func Acquire(kind Kind, size uint64) (*Region, error) {
	if err := memutils.CheckPow2(size, "size"); err != nil {
		return nil, err
	}
	// Both backings reserve twice the size to find an aligned window
	if size > math.MaxInt/2 {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes requested, at most %d can be acquired", size, uint64(math.MaxInt/2))
	}

	switch kind {
	case Heap:
		return acquireHeap(int(size)), nil
	case Mmap:
		return acquireMapped(int(size))
	default:
		return nil, errors.Newf("unknown backing kind: %d", kind)
	}
}

func acquireHeap(size int) *Region {
	raw := make([]byte, size*2)
	return &Region{
		kind:    Heap,
		data:    alignedWindow(raw, size),
		release: func() error { return nil },
	}
}

// alignedWindow cuts size bytes from raw starting at the first address aligned to size. raw must
// be at least twice size long.
func alignedWindow(raw []byte, size int) []byte {
	base := uintptr(unsafe.Pointer(&raw[0]))
	lead := int(memutils.AlignUp(base, uintptr(size)) - base)
	return raw[lead : lead+size : lead+size]
}

// Kind returns the storage kind that actually backs this region
func (r *Region) Kind() Kind { return r.kind }

// Bytes returns the aligned storage
func (r *Region) Bytes() []byte { return r.data }

// Release returns the storage to the system. The region must not be used afterward.
func (r *Region) Release() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.release = nil
	r.data = nil
	return err
}
