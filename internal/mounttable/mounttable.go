// Package mounttable answers questions about the kernel mount table.
package mounttable

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
)

// Entry is one mounted filesystem.
type Entry struct {
	Source     string
	MountPoint string
	FSType     string
}

// List returns every entry in the mount table of the current process.
func List() ([]Entry, error) {
	infos, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, Entry{
			Source:     info.Source,
			MountPoint: info.Mountpoint,
			FSType:     info.FSType,
		})
	}
	return out, nil
}

// Contains reports whether mountPoint appears in entries.
func Contains(entries []Entry, mountPoint string) bool {
	want := filepath.Clean(mountPoint)
	for _, e := range entries {
		if filepath.Clean(e.MountPoint) == want {
			return true
		}
	}
	return false
}

// Readable reports whether dir can be listed. A volume that was pulled
// without being unmounted stays in the mount table but fails here.
func Readable(dir string) bool {
	_, err := os.ReadDir(dir)
	return err == nil
}

// IsLive reports whether mountPoint is mounted and root, a directory on that
// mount, can be listed.
func IsLive(mountPoint, root string) bool {
	entries, err := List()
	if err != nil {
		return false
	}
	return Contains(entries, mountPoint) && Readable(root)
}
