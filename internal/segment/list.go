package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// ListByCreation returns the entries directly under root, oldest first.
// Segment names carry their creation order: the route id is a timestamp and
// the segment number counts up within it. Modification times are not used
// because writing a marker inside a segment bumps its directory's mtime. A
// missing root yields an empty list.
func ListByCreation(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.SliceStable(names, func(i, j int) bool {
		return lessName(names[i], names[j])
	})
	return names, nil
}

// sortKeyWidth is the width every name part is zero-padded to before
// comparison, so segment numbers compare numerically.
const sortKeyWidth = 10

// sortKey splits name into route id and segment number, each left-padded
// with zeros. A name without a separator is a single part.
func sortKey(name string) []string {
	var parts []string
	if i := strings.LastIndex(name, Separator); i >= 0 {
		parts = []string{name[:i], name[i+len(Separator):]}
	} else {
		parts = []string{name}
	}
	for i, p := range parts {
		if len(p) < sortKeyWidth {
			parts[i] = strings.Repeat("0", sortKeyWidth-len(p)) + p
		}
	}
	return parts
}

// lessName orders names by their padded route id, then segment number.
func lessName(a, b string) bool {
	ka, kb := sortKey(a), sortKey(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	if len(ka) != len(kb) {
		return len(ka) < len(kb)
	}
	return a < b
}

// IsLocked reports whether path is a directory holding a file whose name ends
// with suffix. Plain files are never locked. A directory that cannot be read
// is reported as locked so it is left alone.
func IsLocked(path, suffix string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return true, fmt.Errorf("read %s: %w", path, err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			return true, nil
		}
	}
	return false, nil
}

// Remove deletes path: a file is unlinked, a directory removed recursively.
func Remove(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}
