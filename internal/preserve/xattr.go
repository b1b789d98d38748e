package preserve

import (
	"errors"
	"path/filepath"
)

// Flag attribute written on a segment directory.
const (
	AttrName  = "user.preserve"
	AttrValue = "1"
)

// ErrUnsupported is returned when extended attributes are unavailable.
var ErrUnsupported = errors.New("extended attributes not supported on this platform")

// XattrStore reads and writes the preserve flag as an extended attribute on
// directories under Root.
type XattrStore struct {
	Root string
}

// NewXattrStore creates a store for segments under root.
func NewXattrStore(root string) *XattrStore {
	return &XattrStore{Root: root}
}

// IsPreserved reports whether dir carries the flag. Any read failure, including
// an absent attribute, reads as not preserved.
func (s *XattrStore) IsPreserved(dir string) bool {
	v, ok, err := getxattr(filepath.Join(s.Root, dir), AttrName)
	if err != nil || !ok {
		return false
	}
	return string(v) == AttrValue
}

// Set flags dir for preservation.
func (s *XattrStore) Set(dir string) error {
	return setxattr(filepath.Join(s.Root, dir), AttrName, []byte(AttrValue))
}

// Clear removes the flag from dir. Clearing an unflagged directory is not an error.
func (s *XattrStore) Clear(dir string) error {
	return removexattr(filepath.Join(s.Root, dir), AttrName)
}
