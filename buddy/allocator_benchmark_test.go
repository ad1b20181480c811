package buddy_test

import (
	"math/rand"
	"testing"

	"github.com/vkngwrapper/vlad/buddy"
)

func BenchmarkMallocFree(b *testing.B) {
	allocator := buddy.New(nil, buddy.CreateOptions{})
	allocator.Init(1 << 20)
	defer allocator.End()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		ptr, err := allocator.Malloc(100)
		if err != nil {
			b.Fatal(err)
		}
		allocator.Free(ptr)
	}
}

func BenchmarkFragmented(b *testing.B) {
	allocator := buddy.New(nil, buddy.CreateOptions{})
	allocator.Init(1 << 20)
	defer allocator.End()

	rng := rand.New(rand.NewSource(1))
	ptrs := make([]buddy.Pointer, 0, 1024)
	for len(ptrs) < cap(ptrs) {
		ptr, err := allocator.Malloc(uint32(rng.Intn(500)))
		if err != nil {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	for i := 0; i < len(ptrs); i += 2 {
		allocator.Free(ptrs[i])
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		ptr, err := allocator.Malloc(uint32(rng.Intn(200)))
		if err != nil {
			b.Fatal(err)
		}
		allocator.Free(ptr)
	}
}
