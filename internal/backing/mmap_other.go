//go:build !unix

package backing

func acquireMapped(size int) (*Region, error) {
	return acquireHeap(size), nil
}
