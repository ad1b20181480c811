package buddy_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vlad/buddy"
	"github.com/vkngwrapper/vlad/internal/backing"
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slog"
)

func TestStatsListsFreeBlocks(t *testing.T) {
	allocator := readyAllocator(t, 512, buddy.CreateOptions{})
	mustMalloc(t, allocator, 100)

	var out bytes.Buffer
	require.NoError(t, allocator.Stats(&out))
	require.Equal(t, "1:\t128:128\n2:\t256:256\n", out.String())
}

func TestStatsUninitialized(t *testing.T) {
	allocator := buddy.New(nil, buddy.CreateOptions{})

	var out bytes.Buffer
	require.ErrorIs(t, allocator.Stats(&out), buddy.ErrNotInitialized)
	require.Empty(t, out.String())
}

func TestStatsOfFullArena(t *testing.T) {
	allocator := readyAllocator(t, 512, buddy.CreateOptions{})
	mustMalloc(t, allocator, 496)

	var out bytes.Buffer
	require.NoError(t, allocator.Stats(&out))
	require.Empty(t, out.String())
	require.Equal(t, 0, allocator.FreeBlockCount())
	require.Equal(t, 0, allocator.FreeBytes())
}

func TestStatistics(t *testing.T) {
	allocator := readyAllocator(t, 512, buddy.CreateOptions{})
	mustMalloc(t, allocator, 100)
	mustMalloc(t, allocator, 10)

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)

	require.Equal(t, memutils.Statistics{
		ArenaCount:      1,
		ArenaBytes:      512,
		AllocationCount: 2,
		AllocationBytes: 160,
		FreeBlockCount:  3,
		FreeBytes:       352,
	}, stats)

	second := readyAllocator(t, 1024, buddy.CreateOptions{})
	second.AddStatistics(&stats)
	require.Equal(t, 2, stats.ArenaCount)
	require.Equal(t, 1536, stats.ArenaBytes)
	require.Equal(t, 4, stats.FreeBlockCount)
}

func TestDetailedStatistics(t *testing.T) {
	allocator := readyAllocator(t, 512, buddy.CreateOptions{TrackAllocations: true})
	mustMalloc(t, allocator, 100)
	mustMalloc(t, allocator, 10)

	var stats memutils.DetailedStatistics
	stats.Clear()
	allocator.AddDetailedStatistics(&stats)

	require.Equal(t, 1, stats.ArenaCount)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 160, stats.AllocationBytes)
	require.Equal(t, 32, stats.AllocationSizeMin)
	require.Equal(t, 128, stats.AllocationSizeMax)
	require.Equal(t, 3, stats.FreeBlockCount)
	require.Equal(t, 352, stats.FreeBytes)
	require.Equal(t, 32, stats.FreeBlockSizeMin)
	require.Equal(t, 256, stats.FreeBlockSizeMax)
	require.Equal(t, 110, stats.RequestedBytes)
	require.Equal(t, 50, stats.InternalFragmentation())
}

func TestBuildStatsString(t *testing.T) {
	allocator := readyAllocator(t, 512, buddy.CreateOptions{TrackAllocations: true})
	mustMalloc(t, allocator, 100)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(false)), &summary))
	require.Equal(t, map[string]any{
		"Initialized":       true,
		"TotalBytes":        float64(512),
		"FreeBytes":         float64(384),
		"FreeBlocks":        float64(2),
		"Allocations":       float64(1),
		"RequestedBytes":    float64(100),
		"LargestFreeBlock":  float64(256),
		"SmallestFreeBlock": float64(128),
	}, summary)

	var detailed struct {
		Blocks []struct {
			Offset    int
			Size      int
			State     string
			Requested *int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(true)), &detailed))
	require.Len(t, detailed.Blocks, 3)

	require.Equal(t, 0, detailed.Blocks[0].Offset)
	require.Equal(t, 128, detailed.Blocks[0].Size)
	require.Equal(t, "Allocated", detailed.Blocks[0].State)
	require.NotNil(t, detailed.Blocks[0].Requested)
	require.Equal(t, 100, *detailed.Blocks[0].Requested)

	require.Equal(t, 128, detailed.Blocks[1].Offset)
	require.Equal(t, "Free", detailed.Blocks[1].State)
	require.Nil(t, detailed.Blocks[1].Requested)

	require.Equal(t, 256, detailed.Blocks[2].Offset)
	require.Equal(t, 256, detailed.Blocks[2].Size)
}

func TestBuildStatsStringUninitialized(t *testing.T) {
	allocator := buddy.New(nil, buddy.CreateOptions{})

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(true)), &summary))
	require.Equal(t, false, summary["Initialized"])
	require.NotContains(t, summary, "Blocks")
}

func TestVisitAllocations(t *testing.T) {
	allocator := readyAllocator(t, 512, buddy.CreateOptions{TrackAllocations: true})
	first := mustMalloc(t, allocator, 100)
	second := mustMalloc(t, allocator, 10)

	seen := map[buddy.Pointer]uint32{}
	err := allocator.VisitAllocations(func(ptr buddy.Pointer, requested uint32) error {
		seen[ptr] = requested
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[buddy.Pointer]uint32{first: 100, second: 10}, seen)

	mustFree(t, allocator, first)
	seen = map[buddy.Pointer]uint32{}
	err = allocator.VisitAllocations(func(ptr buddy.Pointer, requested uint32) error {
		seen[ptr] = requested
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[buddy.Pointer]uint32{second: 10}, seen)
}

func TestVisitAllocationsNotTracked(t *testing.T) {
	allocator := readyAllocator(t, 512, buddy.CreateOptions{})
	mustMalloc(t, allocator, 100)

	err := allocator.VisitAllocations(func(ptr buddy.Pointer, requested uint32) error {
		return nil
	})
	require.ErrorIs(t, err, buddy.ErrNotTracked)
}

func TestEndReportsUnreleasedMemory(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	allocator := buddy.New(logger, buddy.CreateOptions{TrackAllocations: true})
	allocator.Init(512)

	freed := mustMalloc(t, allocator, 100)
	mustMalloc(t, allocator, 10)
	mustMalloc(t, allocator, 20)
	mustFree(t, allocator, freed)

	allocator.End()

	require.Equal(t, 2, strings.Count(logs.String(), "[UNRELEASED MEMORY]"))
	require.False(t, allocator.IsInitialized())
}

func TestMmapBacking(t *testing.T) {
	allocator := readyAllocator(t, 4096, buddy.CreateOptions{Backing: backing.Mmap})

	ptr := mustMalloc(t, allocator, 1000)
	data := allocator.Bytes(ptr)
	require.Len(t, data, 1024-int(buddy.HeaderSize))
	for i := range data {
		data[i] = 0xAB
	}

	mustFree(t, allocator, ptr)
	require.Equal(t, []buddy.BlockInfo{free(0, 4096)}, freeList(t, allocator))
}
