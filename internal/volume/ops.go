package volume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/logkeeper/logkeeper/internal/mounttable"
)

var (
	// ErrNoCandidate is returned when no removable storage device is attached.
	ErrNoCandidate = errors.New("no external storage device detected")
	// ErrAmbiguousDevice is returned when more than one device could be used.
	ErrAmbiguousDevice = errors.New("multiple external storage devices detected")
	// ErrUnformatted marks a mount rejected because the node holds no
	// filesystem of the requested type. It leads to formatting only when
	// the device listing found no filesystem on the node either.
	ErrUnformatted = errors.New("no mountable filesystem")
	// ErrNodeMissing marks a mount of a node the kernel has not published
	// yet, or no longer backs. The next tick retries.
	ErrNodeMissing = errors.New("device node not available")
	// ErrUnsupported is returned by system operations on platforms without them.
	ErrUnsupported = errors.New("volume operations not supported on this platform")
)

// Ops are the system operations the manager needs. The real implementation
// shells out to lsblk, lsusb, sfdisk and mkfs and uses mount(2) directly.
type Ops interface {
	ListMounts() ([]mounttable.Entry, error)
	ListBlockDevices(ctx context.Context) ([]BlockDevice, error)
	ListUSBDevices(ctx context.Context) ([]USBDevice, error)
	// Partition replaces the partition table of device with one partition
	// spanning the disk.
	Partition(ctx context.Context, device string) error
	Format(ctx context.Context, partition, fsType string) error
	// Mount mounts partition at target. A partition already mounted there is
	// not an error. A partition with no filesystem yields ErrUnformatted and
	// a missing node yields ErrNodeMissing.
	Mount(partition, target, fsType string) error
	// Unmount detaches target. Unmounting something not mounted is not an error.
	Unmount(target string, force bool) error
}

// BlockDevice is one row of the block device tree.
type BlockDevice struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Tran       string        `json:"tran"`
	Vendor     string        `json:"vendor"`
	Model      string        `json:"model"`
	MountPoint string        `json:"mountpoint"`
	FSType     string        `json:"fstype"`
	Children   []BlockDevice `json:"children,omitempty"`

	// USBID is the vendor:product id of the USB device backing a disk, when
	// it could be resolved.
	USBID string `json:"-"`
}

// Path returns the device node.
func (d BlockDevice) Path() string {
	return "/dev/" + d.Name
}

// MountPoints returns every mount point of the device and its partitions.
func (d BlockDevice) MountPoints() []string {
	var out []string
	if d.MountPoint != "" {
		out = append(out, d.MountPoint)
	}
	for _, c := range d.Children {
		out = append(out, c.MountPoints()...)
	}
	return out
}

// USBDevice is one line of the USB device listing.
type USBDevice struct {
	Bus         string
	Device      string
	ID          string
	Description string
}

// IsNetworkAdapter reports whether the device describes itself as a network
// interface.
func (u USBDevice) IsNetworkAdapter() bool {
	desc := strings.ToLower(u.Description)
	for _, kw := range []string{"ethernet", "network", "communications"} {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// parseLsblk decodes the output of lsblk -J.
func parseLsblk(data []byte) ([]BlockDevice, error) {
	var out struct {
		BlockDevices []BlockDevice `json:"blockdevices"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}
	trimAll(out.BlockDevices)
	return out.BlockDevices, nil
}

func trimAll(devs []BlockDevice) {
	for i := range devs {
		d := &devs[i]
		d.Vendor = strings.TrimSpace(d.Vendor)
		d.Model = strings.TrimSpace(d.Model)
		d.Tran = strings.ToLower(strings.TrimSpace(d.Tran))
		d.FSType = strings.TrimSpace(d.FSType)
		trimAll(d.Children)
	}
}

// lsusbLine matches "Bus 002 Device 003: ID 0bda:8153 Realtek ...".
var lsusbLine = regexp.MustCompile(`^Bus\s+(\d+)\s+Device\s+(\d+):\s+ID\s+([0-9a-fA-F]{4}:[0-9a-fA-F]{4})\s*(.*)$`)

// parseLsusb decodes the output of lsusb. Lines that do not look like device
// entries are ignored.
func parseLsusb(out string) []USBDevice {
	var devs []USBDevice
	for _, line := range strings.Split(out, "\n") {
		m := lsusbLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		devs = append(devs, USBDevice{
			Bus:         m[1],
			Device:      m[2],
			ID:          strings.ToLower(m[3]),
			Description: strings.TrimSpace(m[4]),
		})
	}
	return devs
}

// partitionPath returns the node of the first partition on device. Devices
// whose name ends in a digit, such as nvme0n1, separate the partition number
// with a "p".
func partitionPath(device string) string {
	if device == "" {
		return ""
	}
	last := device[len(device)-1]
	if last >= '0' && last <= '9' {
		return device + "p1"
	}
	return device + "1"
}
