//go:build !windows

package capacity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// volumeStats returns the total and unprivileged-available bytes for path.
func volumeStats(path string) (total, available int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	// Bsize is int64 on linux but uint32 on darwin.
	bsize := int64(stat.Bsize) //nolint:unconvert
	total = int64(stat.Blocks) * bsize
	available = int64(stat.Bavail) * bsize
	return total, available, nil
}
