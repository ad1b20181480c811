package buddy

import (
	"io"

	"github.com/vkngwrapper/vlad/internal/backing"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings when creating an allocator. The zero value is valid.
type CreateOptions struct {
	// Backing selects where the arena's storage comes from. The default is backing.Heap.
	Backing backing.Kind

	// TrackAllocations records every live allocation and the number of bytes requested for it. This
	// enables VisitAllocations, unreleased memory reports from End, and additional cross-checks in Validate,
	// at the cost of a map insert and delete for every Malloc and Free.
	TrackAllocations bool

	// FatalHandler is called with the error when the allocator detects a condition it cannot recover from:
	// an invalid free, arena corruption, or a failure to acquire the arena in Init. The handler must not
	// return normally; if it does, the allocator panics with the error. When nil, the error is panicked
	// directly, which terminates the process unless recovered.
	FatalHandler func(err error)
}

// New creates a new Allocator. The allocator holds no arena until Init is called.
//
// logger - Optional. Receives debug traces of arena lifecycle and splits, and error reports for fatal
// conditions and unreleased memory. A nil logger discards everything.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) *Allocator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Allocator{
		logger:           logger,
		backingKind:      options.Backing,
		trackAllocations: options.TrackAllocations,
		fatalHandler:     options.FatalHandler,
		head:             noBlock,
	}
}
