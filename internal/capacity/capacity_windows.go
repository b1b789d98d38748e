//go:build windows

package capacity

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// volumeStats returns the total and caller-available bytes for path.
func volumeStats(path string) (total, available int64, err error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, fmt.Errorf("utf16 path: %w", err)
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}
	return int64(totalBytes), int64(freeBytesAvailable), nil
}
