package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lsblkJSON = `{
   "blockdevices": [
      {"name":"mmcblk0", "type":"disk", "tran":null, "vendor":null, "model":null, "mountpoint":null,
         "children": [
            {"name":"mmcblk0p1", "type":"part", "tran":null, "vendor":null, "model":null, "mountpoint":"/boot"},
            {"name":"mmcblk0p2", "type":"part", "tran":null, "vendor":null, "model":null, "mountpoint":"/"}
         ]
      },
      {"name":"sda", "type":"disk", "tran":"usb", "vendor":"SanDisk ", "model":"Ultra           ", "mountpoint":null,
         "children": [
            {"name":"sda1", "type":"part", "tran":null, "vendor":null, "model":null, "mountpoint":null, "fstype":"ext4"}
         ]
      },
      {"name":"sr0", "type":"rom", "tran":"usb", "vendor":"Realtek", "model":"USB CD-ROM", "mountpoint":null},
      {"name":"nvme0n1", "type":"disk", "tran":"nvme", "vendor":null, "model":"Samsung SSD 970", "mountpoint":null}
   ]
}`

const lsusbOutput = `Bus 002 Device 003: ID 0781:5581 SanDisk Corp. Ultra
Bus 002 Device 002: ID 0bda:8153 Realtek Semiconductor Corp. RTL8153 Gigabit Ethernet Adapter
Bus 001 Device 004: ID 12d1:1506 Huawei Technologies Co., Ltd. Modem/Networkcard
Bus 001 Device 001: ID 1d6b:0002 Linux Foundation 2.0 root hub
not a device line
`

func TestParseLsblk(t *testing.T) {
	devs, err := parseLsblk([]byte(lsblkJSON))
	require.NoError(t, err)
	require.Len(t, devs, 4)

	assert.Equal(t, "sda", devs[1].Name)
	assert.Equal(t, "SanDisk", devs[1].Vendor)
	assert.Equal(t, "Ultra", devs[1].Model)
	assert.Equal(t, "/dev/sda", devs[1].Path())
	assert.Equal(t, []string{"/boot", "/"}, devs[0].MountPoints())
	assert.Empty(t, devs[1].MountPoints())
	assert.Equal(t, "ext4", devs[1].Children[0].FSType)
}

func TestParseLsblkInvalid(t *testing.T) {
	_, err := parseLsblk([]byte("lsblk: unknown column"))
	assert.Error(t, err)
}

func TestParseLsusb(t *testing.T) {
	devs := parseLsusb(lsusbOutput)
	require.Len(t, devs, 4)

	assert.Equal(t, "002", devs[0].Bus)
	assert.Equal(t, "003", devs[0].Device)
	assert.Equal(t, "0781:5581", devs[0].ID)
	assert.Equal(t, "SanDisk Corp. Ultra", devs[0].Description)

	assert.False(t, devs[0].IsNetworkAdapter())
	assert.True(t, devs[1].IsNetworkAdapter())
	assert.True(t, devs[2].IsNetworkAdapter())
	assert.False(t, devs[3].IsNetworkAdapter())
}

func TestPartitionPath(t *testing.T) {
	assert.Equal(t, "/dev/sda1", partitionPath("/dev/sda"))
	assert.Equal(t, "/dev/nvme0n1p1", partitionPath("/dev/nvme0n1"))
	assert.Equal(t, "/dev/mmcblk1p1", partitionPath("/dev/mmcblk1"))
	assert.Equal(t, "", partitionPath(""))
}

func TestCandidates(t *testing.T) {
	devs, err := parseLsblk([]byte(lsblkJSON))
	require.NoError(t, err)

	got := Candidates(devs, parseLsusb(lsusbOutput), "/data/external")

	require.Len(t, got, 2)
	assert.Equal(t, Candidate{Device: "/dev/sda", Partition: "/dev/sda1", FSType: "ext4", Tran: "usb", Model: "Ultra"}, got[0])
	assert.Equal(t, Candidate{Device: "/dev/nvme0n1", Partition: "/dev/nvme0n1", Tran: "nvme", Model: "Samsung SSD 970"}, got[1])
}

func TestCandidatesExcludesDiskMountedElsewhere(t *testing.T) {
	devs := []BlockDevice{
		{Name: "nvme0n1", Type: "disk", Tran: "nvme", Children: []BlockDevice{
			{Name: "nvme0n1p1", Type: "part", MountPoint: "/"},
		}},
		{Name: "sda", Type: "disk", Tran: "usb", Children: []BlockDevice{
			{Name: "sda1", Type: "part", MountPoint: "/data/external"},
		}},
	}

	got := Candidates(devs, nil, "/data/external")
	require.Len(t, got, 1)
	assert.Equal(t, "/dev/sda", got[0].Device)
}

func TestCandidatesNetworkMatchByModel(t *testing.T) {
	devs := []BlockDevice{
		{Name: "sda", Type: "disk", Tran: "usb", Model: "RTL8153"},
		{Name: "sdb", Type: "disk", Tran: "usb", Model: "Ultra"},
	}

	got := Candidates(devs, parseLsusb(lsusbOutput), "/data/external")
	require.Len(t, got, 1)
	assert.Equal(t, "/dev/sdb", got[0].Device)
}

func TestCandidatesNetworkMatchIsPerDevice(t *testing.T) {
	// An Ethernet adapter on the bus does not disqualify an unrelated disk.
	storage := BlockDevice{Name: "sda", Type: "disk", Tran: "usb", Model: "Ultra", USBID: "0781:5581"}

	got := Candidates([]BlockDevice{storage}, parseLsusb(lsusbOutput), "/data/external")
	require.Len(t, got, 1)
}
