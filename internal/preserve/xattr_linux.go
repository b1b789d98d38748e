//go:build linux

package preserve

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// getxattr returns the attribute value and whether it was present.
func getxattr(path, name string) ([]byte, bool, error) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Getxattr(path, name, buf)
		switch {
		case err == nil:
			return buf[:n], true, nil
		case errors.Is(err, unix.ENODATA):
			return nil, false, nil
		case errors.Is(err, unix.ERANGE):
			size, serr := unix.Getxattr(path, name, nil)
			if serr != nil {
				return nil, false, fmt.Errorf("getxattr %s: %w", path, serr)
			}
			buf = make([]byte, size)
		case errors.Is(err, unix.ENOTSUP):
			return nil, false, ErrUnsupported
		default:
			return nil, false, fmt.Errorf("getxattr %s: %w", path, err)
		}
	}
}

func setxattr(path, name string, value []byte) error {
	if err := unix.Setxattr(path, name, value, 0); err != nil {
		if errors.Is(err, unix.ENOTSUP) {
			return ErrUnsupported
		}
		return fmt.Errorf("setxattr %s: %w", path, err)
	}
	return nil
}

func removexattr(path, name string) error {
	if err := unix.Removexattr(path, name); err != nil {
		if errors.Is(err, unix.ENODATA) {
			return nil
		}
		if errors.Is(err, unix.ENOTSUP) {
			return ErrUnsupported
		}
		return fmt.Errorf("removexattr %s: %w", path, err)
	}
	return nil
}
