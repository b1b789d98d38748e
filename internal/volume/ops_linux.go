//go:build linux

package volume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/logkeeper/logkeeper/internal/mounttable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// SystemOps returns the operations backed by the running system.
func SystemOps() Ops {
	return execOps{}
}

type execOps struct{}

func (execOps) ListMounts() ([]mounttable.Entry, error) {
	return mounttable.List()
}

func (execOps) ListBlockDevices(ctx context.Context) ([]BlockDevice, error) {
	// FSTYPE comes from the udev database, which lags a fresh hotplug.
	settle(ctx)
	out, err := exec.CommandContext(ctx, "lsblk", "-J", "-o", "NAME,TYPE,TRAN,VENDOR,MODEL,MOUNTPOINT,FSTYPE").Output()
	if err != nil {
		return nil, commandError("lsblk", err)
	}
	devs, err := parseLsblk(out)
	if err != nil {
		return nil, err
	}
	for i := range devs {
		if devs[i].Tran == "usb" {
			devs[i].USBID = sysfsUSBID(devs[i].Name)
		}
	}
	return devs, nil
}

func (execOps) ListUSBDevices(ctx context.Context) ([]USBDevice, error) {
	out, err := exec.CommandContext(ctx, "lsusb").Output()
	if err != nil {
		return nil, commandError("lsusb", err)
	}
	return parseLsusb(string(out)), nil
}

func (execOps) Partition(ctx context.Context, device string) error {
	// A single partition spanning the disk, replacing any existing table.
	cmd := exec.CommandContext(ctx, "sfdisk", "--wipe", "always", "--wipe-partitions", "always", device)
	cmd.Stdin = strings.NewReader(";\n")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sfdisk: %w: %s", err, bytes.TrimSpace(out))
	}

	// Wait for the kernel to publish the new partition node.
	settle(ctx)
	return waitForNode(ctx, partitionPath(device), 15*time.Second)
}

// settle waits for udev to finish processing queued device events. Failure
// only means the listing may be stale.
func settle(ctx context.Context) {
	if out, err := exec.CommandContext(ctx, "udevadm", "settle").CombinedOutput(); err != nil {
		log.Debug().Err(err).Str("output", string(bytes.TrimSpace(out))).Msg("udevadm settle failed")
	}
}

func (execOps) Format(ctx context.Context, partition, fsType string) error {
	args := []string{"-t", fsType}
	if strings.HasPrefix(fsType, "ext") {
		args = append(args, "-F")
	}
	args = append(args, partition)
	if out, err := exec.CommandContext(ctx, "mkfs", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("mkfs: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

func (execOps) Mount(partition, target, fsType string) error {
	return mountError(partition, unix.Mount(partition, target, fsType, 0, ""))
}

// mountError classifies a mount(2) failure.
func mountError(partition string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EBUSY):
		// Already mounted.
		return nil
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("%w: %s: %w", ErrNodeMissing, partition, err)
	case errors.Is(err, unix.EINVAL):
		return fmt.Errorf("%w on %s: %w", ErrUnformatted, partition, err)
	default:
		return fmt.Errorf("mount %s: %w", partition, err)
	}
}

func (execOps) Unmount(target string, force bool) error {
	flags := 0
	if force {
		flags = unix.MNT_FORCE | unix.MNT_DETACH
	}
	err := unix.Unmount(target, flags)
	if err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

// sysfsUSBID resolves the vendor:product id of the USB device behind the
// block device name by walking up its sysfs path.
func sysfsUSBID(name string) string {
	dir, err := filepath.EvalSymlinks(filepath.Join("/sys/block", name))
	if err != nil {
		return ""
	}
	for ; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		vendor, err := os.ReadFile(filepath.Join(dir, "idVendor"))
		if err != nil {
			continue
		}
		product, err := os.ReadFile(filepath.Join(dir, "idProduct"))
		if err != nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(string(vendor)) + ":" + strings.TrimSpace(string(product)))
	}
	return ""
}

func commandError(name string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(exitErr.Stderr))
	}
	return fmt.Errorf("%s: %w", name, err)
}
