//go:build !linux

package volume

import (
	"context"

	"github.com/logkeeper/logkeeper/internal/mounttable"
)

// SystemOps returns operations that fail with ErrUnsupported, except for
// reading the mount table.
func SystemOps() Ops {
	return unsupportedOps{}
}

type unsupportedOps struct{}

func (unsupportedOps) ListMounts() ([]mounttable.Entry, error) {
	return mounttable.List()
}

func (unsupportedOps) ListBlockDevices(context.Context) ([]BlockDevice, error) {
	return nil, ErrUnsupported
}

func (unsupportedOps) ListUSBDevices(context.Context) ([]USBDevice, error) {
	return nil, ErrUnsupported
}

func (unsupportedOps) Partition(context.Context, string) error { return ErrUnsupported }

func (unsupportedOps) Format(context.Context, string, string) error { return ErrUnsupported }

func (unsupportedOps) Mount(string, string, string) error { return ErrUnsupported }

func (unsupportedOps) Unmount(string, bool) error { return ErrUnsupported }
