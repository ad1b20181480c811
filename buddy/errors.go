package buddy

import "github.com/pkg/errors"

var (
	// ErrNoSpace is returned from Malloc when no free block is large enough for the request. The allocator
	// state is unchanged when this is returned.
	ErrNoSpace = errors.New("no free block large enough for the request")
	// ErrNotInitialized is returned from Malloc before Init or after End
	ErrNotInitialized = errors.New("allocator is not initialized")
	// ErrInvalidFree is the fatal error raised when Free receives a pointer that does not refer to a live
	// allocation: a double free, a foreign pointer, or a free against an uninitialized allocator
	ErrInvalidFree = errors.New("attempt to free non-allocated memory")
	// ErrCorruption is the fatal error raised when a structural invariant of the arena no longer holds. It is
	// also returned, with detail, from Validate.
	ErrCorruption = errors.New("memory corruption")
	// ErrArenaUnavailable is the fatal error raised when Init cannot obtain backing storage for the arena
	ErrArenaUnavailable = errors.New("insufficient memory for arena")
	// ErrNotTracked is returned from enumerations that require CreateOptions.TrackAllocations
	ErrNotTracked = errors.New("allocation tracking is not enabled")
)
