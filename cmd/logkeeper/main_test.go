package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/logkeeper/logkeeper/internal/capacity"
	"github.com/logkeeper/logkeeper/internal/config"
	"github.com/logkeeper/logkeeper/internal/volume"
	"github.com/logkeeper/logkeeper/pkg/bytesize"
	"github.com/logkeeper/logkeeper/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlags map[string]bool

func (f fakeFlags) IsPreserved(dir string) bool { return f[dir] }

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	want := []string{"run", "status", "preserve", "service", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	for _, sub := range []string{"set", "clear", "list"} {
		cmd, _, err := root.Find([]string{"preserve", sub})
		require.NoError(t, err)
		assert.Equal(t, sub, cmd.Name())
	}

	for _, sub := range []string{"install", "uninstall", "start", "stop", "restart", "status", "logs"} {
		cmd, _, err := root.Find([]string{"service", sub})
		require.NoError(t, err)
		assert.Equal(t, sub, cmd.Name())
	}

	flag := root.PersistentFlags().Lookup("service-run")
	require.NotNil(t, flag)
	assert.True(t, flag.Hidden)
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "logkeeper dev")
	assert.Contains(t, buf.String(), "Commit:")
}

func TestLoadConfig(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "logkeeper.yaml", `
paths:
  internal_root: /srv/recordings
eviction:
  min_free_bytes: 2Gi
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/recordings", cfg.Paths.InternalRoot)
	assert.Equal(t, 2*bytesize.GB, cfg.Eviction.MinFreeBytes.Bytes())
}

func TestLoadConfigInvalid(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "logkeeper.yaml", "paths:\n  internal_root: relative/path\n")
	_, err := loadConfig(path)
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildStatus(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	cfg := config.Default()
	cfg.Paths.InternalRoot = filepath.Join(dir, "realdata")
	require.NoError(t, os.MkdirAll(cfg.Paths.InternalRoot, 0755))
	testutil.MakeSegment(t, cfg.Paths.InternalRoot, "R--4", 1)
	testutil.MakeSegment(t, cfg.Paths.InternalRoot, "R--5", 2)
	testutil.MakeSegment(t, cfg.Paths.InternalRoot, "boot", 3)

	probe := capacity.ProberFunc(func(path string) capacity.Result {
		if path == cfg.Paths.InternalRoot {
			return capacity.Measured(0.04, 1*bytesize.GB)
		}
		return capacity.Unavailable(errors.New("not mounted"))
	})
	live := func(string, string) bool { return false }

	r := buildStatus(cfg, probe, fakeFlags{"R--5": true}, live)

	assert.True(t, r.InternalLow)
	assert.False(t, r.ExternalLive)
	assert.Equal(t, 3, r.Segments)
	assert.Equal(t, []string{"R--5"}, r.Flagged)
	assert.Equal(t, []string{"R--4", "R--5"}, r.Protected)

	var buf bytes.Buffer
	r.Devices = []volume.Candidate{{Device: "/dev/sda", Tran: "usb", Model: "Ultra"}}
	printStatus(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "4.0% (1.00 GiB)")
	assert.Contains(t, out, "low on space")
	assert.Contains(t, out, "not mounted")
	assert.Contains(t, out, "Device:  /dev/sda (usb Ultra)")
	assert.Contains(t, out, "Protected: R--4, R--5")
}

func TestPrintStatusExternalMounted(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, statusReport{
		InternalRoot:    "/data/media/0/realdata",
		Internal:        capacity.Measured(0.5, 10*bytesize.GB),
		ExternalEnabled: true,
		ExternalRoot:    "/data/external/media/0/realdata",
		ExternalLive:    true,
		External:        capacity.Measured(0.9, 100*bytesize.GB),
	})
	out := buf.String()
	assert.Contains(t, out, "mounted, ok")
	assert.Contains(t, out, "Flagged:   none")
}

func TestCheckSegment(t *testing.T) {
	root, cleanup := testutil.TempDir(t)
	defer cleanup()
	testutil.MakeSegment(t, root, "R--1", 1)
	testutil.TempFile(t, root, "file", "x")

	assert.NoError(t, checkSegment(root, "R--1"))
	assert.Error(t, checkSegment(root, "R--2"))
	assert.Error(t, checkSegment(root, "file"))
	assert.Error(t, checkSegment(root, "../etc"))
	assert.Error(t, checkSegment(root, ".."))
}

func TestGetServiceConfig(t *testing.T) {
	serviceName, serviceConfigPath, serviceUser = "", "", ""
	cfg := getServiceConfig()
	assert.Equal(t, "logkeeper", cfg.Name)
	assert.Equal(t, "/etc/logkeeper/logkeeper.yaml", cfg.ConfigPath)

	serviceName, serviceConfigPath = "keeper2", "/tmp/k.yaml"
	defer func() { serviceName, serviceConfigPath = "", "" }()
	cfg = getServiceConfig()
	assert.Equal(t, "keeper2", cfg.Name)
	assert.Equal(t, "/tmp/k.yaml", cfg.ConfigPath)
}
