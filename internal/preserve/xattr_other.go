//go:build !linux

package preserve

func getxattr(_, _ string) ([]byte, bool, error) {
	return nil, false, ErrUnsupported
}

func setxattr(_, _ string, _ []byte) error {
	return ErrUnsupported
}

func removexattr(_, _ string) error {
	return ErrUnsupported
}
