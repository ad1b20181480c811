package buddy

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vlad/memutils"
)

func initializedAllocator(t *testing.T, size uint32) *Allocator {
	a := New(nil, CreateOptions{})
	a.Init(size)
	t.Cleanup(a.End)
	return a
}

func mallocOrFail(t *testing.T, a *Allocator, n uint32) Pointer {
	ptr, err := a.Malloc(n)
	require.NoError(t, err)
	return ptr
}

func requireCorruptionPanic(t *testing.T, f func()) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r)

		err, isError := r.(error)
		require.True(t, isError)
		require.True(t, errors.Is(err, ErrCorruption), "expected corruption, got %v", err)
	}()

	f()
}

func TestMallocDetectsCorruptFreeTag(t *testing.T) {
	a := initializedAllocator(t, 512)
	a.header(0).magic = 0x12345678

	requireCorruptionPanic(t, func() {
		_, _ = a.Malloc(10)
	})
}

func TestFreeDetectsCorruptSize(t *testing.T) {
	testCases := map[string]struct {
		Size uint32
	}{
		"NotPowerOfTwo":   {96},
		"Misaligned":      {256},
		"TooSmall":        {16},
		"LargerThanArena": {1024},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			a := initializedAllocator(t, 512)
			mallocOrFail(t, a, 100)
			ptr := mallocOrFail(t, a, 100)
			require.Equal(t, Pointer(128+HeaderSize), ptr)

			a.header(128).size = testCase.Size
			requireCorruptionPanic(t, func() {
				a.Free(ptr)
			})
		})
	}
}

func TestFreeDetectsCorruptBuddy(t *testing.T) {
	a := initializedAllocator(t, 512)
	low := mallocOrFail(t, a, 100)
	mallocOrFail(t, a, 100)

	a.header(128).magic = 0

	requireCorruptionPanic(t, func() {
		a.Free(low)
	})
}

func TestValidateDetectsCorruption(t *testing.T) {
	testCases := map[string]struct {
		Corrupt  func(a *Allocator)
		Contains string
	}{
		"BrokenPrevLink": {
			Corrupt:  func(a *Allocator) { a.header(256).prev = 0 },
			Contains: "reverse reference is broken",
		},
		"OutOfOrder": {
			Corrupt:  func(a *Allocator) { a.head = 256 },
			Contains: "out of order",
		},
		"AllocatedBlockInFreeList": {
			Corrupt:  func(a *Allocator) { a.header(256).magic = magicAllocated },
			Contains: "is not free",
		},
		"LinkOutsideArena": {
			Corrupt:  func(a *Allocator) { a.header(128).next = 4096 },
			Contains: "is not a block start",
		},
		"FreeCountMismatch": {
			Corrupt:  func(a *Allocator) { a.freeCount++ },
			Contains: "free blocks",
		},
		"FreeBytesMismatch": {
			Corrupt:  func(a *Allocator) { a.freeBytes -= 32 },
			Contains: "free bytes",
		},
		"AllocationCountMismatch": {
			Corrupt:  func(a *Allocator) { a.allocCount = 3 },
			Contains: "allocations",
		},
		"InvalidPhysicalTag": {
			Corrupt:  func(a *Allocator) { a.header(0).magic = 0 },
			Contains: "invalid header tag",
		},
		"UncoalescedBuddies": {
			Corrupt: func(a *Allocator) {
				// Retag the allocation at 0 as a free block linked at the front of the list
				h := a.header(0)
				h.magic = magicFree
				h.next = 128
				h.prev = 256
				a.header(128).prev = 0
				a.header(256).next = 0
				a.head = 0
				a.freeCount++
				a.freeBytes += int(h.size)
				a.allocCount--
			},
			Contains: "were not coalesced",
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			a := initializedAllocator(t, 512)
			mallocOrFail(t, a, 100)
			require.NoError(t, a.Validate())

			testCase.Corrupt(a)

			err := a.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrCorruption))
			require.Contains(t, err.Error(), testCase.Contains)
		})
	}
}

func TestInsertDetectsDuplicate(t *testing.T) {
	a := initializedAllocator(t, 512)
	mallocOrFail(t, a, 100)

	err := a.insertOrdered(256)
	require.True(t, errors.Is(err, ErrCorruption))
	require.Contains(t, err.Error(), "already in the free list")
}

func TestExhaustionLeavesArenaUntouched(t *testing.T) {
	a := initializedAllocator(t, 1024)
	for _, n := range []uint32{10, 200, 60, 400} {
		mallocOrFail(t, a, n)
	}

	snapshot := bytes.Clone(a.arena)
	head, freeCount, freeBytes, allocCount := a.head, a.freeCount, a.freeBytes, a.allocCount

	_, err := a.Malloc(100)
	require.ErrorIs(t, err, ErrNoSpace)

	require.True(t, bytes.Equal(snapshot, a.arena))
	require.Equal(t, head, a.head)
	require.Equal(t, freeCount, a.freeCount)
	require.Equal(t, freeBytes, a.freeBytes)
	require.Equal(t, allocCount, a.allocCount)
}

func TestAllocatingLastBlockEmptiesFreeList(t *testing.T) {
	a := initializedAllocator(t, 512)
	ptr := mallocOrFail(t, a, 496)

	require.Equal(t, noBlock, a.head)
	require.NoError(t, a.Validate())

	a.Free(ptr)
	require.Equal(t, uint32(0), a.head)
	h := a.header(0)
	require.Equal(t, magicFree, h.magic)
	require.Equal(t, uint32(0), h.next)
	require.Equal(t, uint32(0), h.prev)
	require.NoError(t, a.Validate())
}

func TestAbsorbedHeadersAreCleared(t *testing.T) {
	a := initializedAllocator(t, 512)
	low := mallocOrFail(t, a, 10)
	high := mallocOrFail(t, a, 10)
	require.Equal(t, Pointer(32+HeaderSize), high)

	a.Free(high)
	a.Free(low)

	require.Equal(t, uint32(0), a.header(32).magic)
	require.Equal(t, uint32(512), a.header(0).size)
	require.Equal(t, 1, a.freeCount)
}

func TestDiagnosticsDetectCorruption(t *testing.T) {
	testCases := map[string]struct {
		Corrupt func(a *Allocator)
		Report  func(a *Allocator)
	}{
		"StatsFreeListTag": {
			Corrupt: func(a *Allocator) { a.header(32).magic = 1 },
			Report:  func(a *Allocator) { _ = a.Stats(&bytes.Buffer{}) },
		},
		"StatsBrokenLink": {
			Corrupt: func(a *Allocator) { a.header(64).prev = 256 },
			Report:  func(a *Allocator) { _ = a.Stats(&bytes.Buffer{}) },
		},
		"SummaryAllocatedSize": {
			Corrupt: func(a *Allocator) { a.header(0).size = 48 },
			Report:  func(a *Allocator) { _ = a.BuildStatsString(false) },
		},
		"DetailedMapAllocatedTag": {
			Corrupt: func(a *Allocator) { a.header(0).magic = 0 },
			Report:  func(a *Allocator) { _ = a.BuildStatsString(true) },
		},
		"DetailedStatistics": {
			Corrupt: func(a *Allocator) { a.header(128).size = 100 },
			Report: func(a *Allocator) {
				var stats memutils.DetailedStatistics
				stats.Clear()
				a.AddDetailedStatistics(&stats)
			},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			a := initializedAllocator(t, 512)
			mallocOrFail(t, a, 10)
			require.NoError(t, a.Validate())

			testCase.Corrupt(a)
			requireCorruptionPanic(t, func() {
				testCase.Report(a)
			})
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestStatsReturnsWriteErrors(t *testing.T) {
	a := initializedAllocator(t, 512)
	mallocOrFail(t, a, 10)

	err := a.Stats(failingWriter{})
	require.EqualError(t, err, "disk full")
}
