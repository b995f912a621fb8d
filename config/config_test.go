package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"deedles.dev/wlcomp/config"
	"deedles.dev/wlcomp/shm/shmimage"
	"deedles.dev/wlcomp/surface"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	c, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, config.BackendAuto, c.Backend.Kind)
	assert.Equal(t, 3, c.Render.MaxPresentFailures)
	assert.Equal(t, 8, c.Render.StallPulses)
	assert.Equal(t, "seat0", c.Seat.Name)
	assert.Equal(t, 24, c.Cursor.Size)
	assert.Empty(t, c.File)

	policy, err := c.Surface.Policy()
	require.NoError(t, err)
	assert.Equal(t, surface.SyncProtocol, policy)
	assert.Equal(t, logrus.InfoLevel, c.Debug.Level())
}

func TestLoadFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "custom.toml")
	data := `
[backend]
kind = "headless"
headless_outputs = 2

[render]
stall_pulses = 4
background = "#336699"

[surface]
subsurface_sync = "never"

[seat.xkb]
layout = "de"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	c, err := config.Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, path, c.File)
	assert.Equal(t, config.BackendHeadless, c.Backend.Resolve())
	assert.Equal(t, 2, c.Backend.HeadlessOutputs)
	assert.Equal(t, 4, c.Render.StallPulses)
	assert.Equal(t, 3, c.Render.MaxPresentFailures, "unset keys keep their defaults")
	assert.Equal(t, "de", c.Seat.XKB.Layout)

	policy, err := c.Surface.Policy()
	require.NoError(t, err)
	assert.Equal(t, surface.SyncNever, policy)
}

func TestLoadSearchPath(t *testing.T) {
	isolate(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "wlcomp")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wlcomp.toml"), []byte("[cursor]\nsize = 48\n"), 0644))

	c, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 48, c.Cursor.Size)
	assert.Equal(t, filepath.Join(dir, "wlcomp.toml"), c.File)
}

func TestEnvironmentOverride(t *testing.T) {
	isolate(t)
	t.Setenv("WLCOMP_RENDER_MAX_PRESENT_FAILURES", "7")
	t.Setenv("WLCOMP_XWAYLAND_ENABLED", "false")

	c, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 7, c.Render.MaxPresentFailures)
	assert.False(t, c.XWayland.Enabled)
}

func TestLoadErrors(t *testing.T) {
	isolate(t)

	_, err := config.Load(viper.New(), filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err, "an explicit file must exist")

	broken := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("[render\nstall_pulses = 1"), 0644))
	_, err = config.Load(viper.New(), broken)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"backend", func(c *config.Config) { c.Backend.Kind = "gpu" }},
		{"failures", func(c *config.Config) { c.Render.MaxPresentFailures = 0 }},
		{"stall", func(c *config.Config) { c.Render.StallPulses = -1 }},
		{"background", func(c *config.Config) { c.Render.Background = "blue" }},
		{"sync", func(c *config.Config) { c.Surface.SubsurfaceSync = "sometimes" }},
		{"cursor", func(c *config.Config) { c.Cursor.Size = 0 }},
		{"level", func(c *config.Config) { c.Debug.LogLevel = "loud" }},
		{"window", func(c *config.Config) { c.Backend.Window.Height = 0 }},
	}
	require.NoError(t, config.Default.Validate())
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := config.Default
			test.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestBackgroundColor(t *testing.T) {
	tests := []struct {
		in   string
		want shmimage.ARGB8888Color
		ok   bool
	}{
		{"#000000", 0xFF000000, true},
		{"#336699", 0xFF336699, true},
		{"#ffffff80", 0x80808080, true},
		{"#00000000", 0, true},
		{"336699", 0, false},
		{"#12345", 0, false},
		{"#gggggg", 0, false},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			got, err := config.RenderConfig{Background: test.in}.BackgroundColor()
			if !test.ok {
				assert.ErrorIs(t, err, config.ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestResolveBackend(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")
	t.Setenv("DISPLAY", "")
	assert.Equal(t, config.BackendDRM, config.BackendConfig{Kind: config.BackendAuto}.Resolve())

	t.Setenv("DISPLAY", ":1")
	assert.Equal(t, config.BackendX11, config.BackendConfig{Kind: config.BackendAuto}.Resolve())

	t.Setenv("WAYLAND_DISPLAY", "wayland-1")
	assert.Equal(t, config.BackendWindow, config.BackendConfig{Kind: config.BackendAuto}.Resolve())
	assert.Equal(t, config.BackendHeadless, config.BackendConfig{Kind: config.BackendHeadless}.Resolve())
}
