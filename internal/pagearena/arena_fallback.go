//go:build !unix

package pagearena

// mmapRegion falls back to a plain Go allocation on non-unix targets,
// so the arena (and anything built on it) stays portable; it gives up
// the MADV_FREE/real-unmap behavior the unix build gets from the OS.
func mmapRegion(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func munmapRegion(b []byte) error {
	return nil
}

func adviseFree(b []byte) {}
