//go:build unix

package backing

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// acquireMapped maps twice the requested size so that an aligned window always fits. The pages outside
// the window are never touched, so they cost address space only.
func acquireMapped(size int) (*Region, error) {
	raw, err := unix.Mmap(-1, 0, size*2, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %d bytes failed", size*2)
	}

	return &Region{
		kind: Mmap,
		data: alignedWindow(raw, size),
		release: func() error {
			return unix.Munmap(raw)
		},
	}, nil
}
