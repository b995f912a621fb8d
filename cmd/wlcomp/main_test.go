package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/backend/headless"
	"deedles.dev/wlcomp/backend/window"
	"deedles.dev/wlcomp/config"
	"deedles.dev/wlcomp/stats"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputsTable(t *testing.T) {
	outs := []stats.Output{
		{ID: 1, Name: "HEADLESS-1", Make: "wlcomp", Model: "headless", Width: 1280, Height: 720, Refresh: 60000, Scale: 1, Transform: "normal", State: "idle"},
		{ID: 2, Name: "HEADLESS-2", Make: "wlcomp", Model: "headless", Width: 800, Height: 600, Refresh: 59940, X: 1280, Scale: 2, Transform: "90", State: "faulted"},
	}

	s := outputsTable(outs)
	assert.Contains(t, s, "HEADLESS-1")
	assert.Contains(t, s, "1280x720 @ 60.00 Hz")
	assert.Contains(t, s, "800x600 @ 59.94 Hz")
	assert.Contains(t, s, "1280,0")
	assert.Contains(t, s, "faulted")

	assert.Contains(t, outputsTable(nil), "No outputs")
}

func TestStatsTable(t *testing.T) {
	now := time.Now()
	snap := stats.Snapshot{
		Uptime:   time.Hour,
		Clients:  1,
		Surfaces: 3,
		Buffers:  1200,
		Outputs: []stats.Output{
			{Name: "A", Counters: stats.Counters{Presented: 12345, DamageArea: 1500, Last: time.Millisecond}},
			{Name: "B", Counters: stats.Counters{Presented: 5, Dropped: 2}},
		},
	}

	s := statsTable(snap, now)
	assert.Contains(t, s, "12,345")
	assert.Contains(t, s, "1.5 kpx")
	assert.Contains(t, s, "1ms")
	assert.Contains(t, s, "12,350", "total row")
	assert.Contains(t, s, "1 hour ago")
	assert.Contains(t, s, "1 client,")
	assert.Contains(t, s, "3 surfaces")
	assert.Contains(t, s, "1,200 buffers")
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	assert.Equal(t, "", socketPath(""))
	assert.Equal(t, "/tmp/wl", socketPath("/tmp/wl"))
	assert.Equal(t, "/run/user/1000/wayland-5", socketPath("wayland-5"))
}

func TestClean(t *testing.T) {
	assert.NoError(t, clean(nil))
	assert.NoError(t, clean(context.Canceled))
	assert.NoError(t, clean(errors.Join(backend.ErrDeviceLost, window.ErrWindowClosed)))
	assert.ErrorIs(t, clean(backend.ErrDeviceLost), backend.ErrDeviceLost)
}

func TestNewBackend(t *testing.T) {
	conf := config.Default
	conf.Backend.Kind = config.BackendHeadless
	conf.Backend.HeadlessOutputs = 2

	back, err := newBackend(conf, logrus.New())
	require.NoError(t, err)
	require.IsType(t, &headless.Backend{}, back)
	assert.Equal(t, "headless", back.Name())

	conf.Backend.Kind = "vnc"
	_, err = newBackend(conf, logrus.New())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestCompositorConfig(t *testing.T) {
	t.Setenv("XCURSOR_PATH", t.TempDir())

	conf := config.Default
	conf.XWayland.Enabled = false
	conf.Seat.RepeatRate = 40
	conf.Render.StallPulses = 4

	c, err := compositorConfig(conf, headless.New(headless.Config{}, logrus.New()), logrus.New())
	require.NoError(t, err)
	defer c.Keymap.Close()

	assert.Nil(t, c.XWayland)
	assert.Nil(t, c.Cursor, "no themes installed")
	assert.EqualValues(t, 40, c.RepeatRate)
	assert.Equal(t, 4, c.Render.StallPulses)
	assert.Equal(t, "seat0", c.SeatName)

	conf.XWayland.Enabled = true
	c, err = compositorConfig(conf, headless.New(headless.Config{}, logrus.New()), logrus.New())
	require.NoError(t, err)
	defer c.Keymap.Close()
	require.NotNil(t, c.XWayland)
	assert.Equal(t, "Xwayland", c.XWayland.Path)
}

func TestControlSocket(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_RUNTIME_DIR", dir)
	t.Setenv("WAYLAND_DISPLAY", "wayland-3")

	v = viper.New()
	path, err := controlSocket()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wayland-3.ipc"), path)

	t.Setenv("WLCOMP_IPC", "/tmp/elsewhere.ipc")
	v = viper.New()
	path, err = controlSocket()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere.ipc", path)

	t.Setenv("WLCOMP_DEBUG_IPC_SOCKET", "/tmp/configured.ipc")
	v = viper.New()
	path, err = controlSocket()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/configured.ipc", path)
}
