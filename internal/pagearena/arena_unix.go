//go:build unix

package pagearena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapRegion reserves n bytes of anonymous, private memory, mirroring
// sysAlloc's use of mmap(nil, n, PROT_READ|PROT_WRITE, MAP_ANON|MAP_PRIVATE, -1, 0).
func mmapRegion(n int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pagearena: mmap %d bytes: %w", n, err)
	}
	return b, nil
}

// munmapRegion releases a region obtained from mmapRegion, mirroring
// sysFree's use of munmap.
func munmapRegion(b []byte) error {
	return unix.Munmap(b)
}

// adviseFree tells the OS the backing physical memory for b is no
// longer needed, mirroring sysUnused's use of madvise(MADV_FREE).
func adviseFree(b []byte) {
	_ = unix.Madvise(b, unix.MADV_FREE)
}
