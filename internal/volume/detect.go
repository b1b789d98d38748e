package volume

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Candidate is a disk that may be used as the external volume.
type Candidate struct {
	Device string
	// Partition is the node to mount: the first partition, or the whole disk
	// when it has none.
	Partition string
	// FSType is the filesystem found on Partition, empty if none was found.
	FSType string
	Tran   string
	Model  string
}

// Candidates filters devs down to whole USB or NVMe disks that are not in use
// elsewhere and are not network adapters.
func Candidates(devs []BlockDevice, usb []USBDevice, mountPoint string) []Candidate {
	network := make(map[string]USBDevice)
	for _, u := range usb {
		if u.IsNetworkAdapter() {
			network[u.ID] = u
		}
	}

	var out []Candidate
	for _, d := range devs {
		if d.Type != "disk" || (d.Tran != "usb" && d.Tran != "nvme") {
			continue
		}
		if isNetworkDisk(d, network) {
			log.Debug().Str("device", d.Path()).Str("model", d.Model).Msg("skipping network adapter")
			continue
		}
		if mountedElsewhere(d, mountPoint) {
			log.Debug().Str("device", d.Path()).Strs("mounts", d.MountPoints()).Msg("skipping disk in use")
			continue
		}
		node := firstPartition(d)
		out = append(out, Candidate{
			Device:    d.Path(),
			Partition: node.Path(),
			FSType:    node.FSType,
			Tran:      d.Tran,
			Model:     d.Model,
		})
	}
	return out
}

// isNetworkDisk matches d against the network adapters on the bus, by USB id
// when known and by model name otherwise.
func isNetworkDisk(d BlockDevice, network map[string]USBDevice) bool {
	if d.USBID != "" {
		_, ok := network[d.USBID]
		return ok
	}
	if d.Model == "" {
		return false
	}
	model := strings.ToLower(strings.ReplaceAll(d.Model, "_", " "))
	for _, u := range network {
		if strings.Contains(strings.ToLower(u.Description), model) {
			return true
		}
	}
	return false
}

func mountedElsewhere(d BlockDevice, mountPoint string) bool {
	want := filepath.Clean(mountPoint)
	for _, mp := range d.MountPoints() {
		if filepath.Clean(mp) != want {
			return true
		}
	}
	return false
}

// firstPartition returns the first partition of d, or d itself when it has
// no partition table entries.
func firstPartition(d BlockDevice) BlockDevice {
	for _, c := range d.Children {
		if c.Type == "part" {
			return c
		}
	}
	return d
}

// Detect lists the candidate disks currently attached.
func Detect(ctx context.Context, ops Ops, mountPoint string) ([]Candidate, error) {
	devs, err := ops.ListBlockDevices(ctx)
	if err != nil {
		return nil, err
	}
	usb, err := ops.ListUSBDevices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list USB devices, network adapters cannot be excluded")
	}
	return Candidates(devs, usb, mountPoint), nil
}
