package volume

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/logkeeper/logkeeper/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDiskNode(t *testing.T) {
	assert.True(t, isDiskNode("sda"))
	assert.True(t, isDiskNode("sdb1"))
	assert.True(t, isDiskNode("nvme0n1"))
	assert.False(t, isDiskNode("tty0"))
	assert.False(t, isDiskNode("loop3"))
}

func TestWatchDevicesSignalsOnDiskNode(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake, err := watchDevices(ctx, dir)
	require.NoError(t, err)

	testutil.TempFile(t, dir, "tty7", "")
	testutil.TempFile(t, dir, "sdb", "")

	select {
	case _, ok := <-wake:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no wake-up after disk node appeared")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-wake:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchDevicesMissingDir(t *testing.T) {
	_, err := watchDevices(context.Background(), "/nonexistent/path/that/should/not/exist")
	assert.Error(t, err)
}

func TestWaitForNode(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	node := filepath.Join(dir, "sdb1")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(node, nil, 0644)
	}()
	assert.NoError(t, waitForNode(context.Background(), node, 5*time.Second))

	err := waitForNode(context.Background(), filepath.Join(dir, "sdc1"), 200*time.Millisecond)
	assert.Error(t, err)
}
