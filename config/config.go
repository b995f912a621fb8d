// Package config loads the compositor's configuration using Viper.
// Configuration is read once at startup into a Config, which is never
// modified afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/shm/shmimage"
	"deedles.dev/wlcomp/surface"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Backend kinds.
const (
	BackendAuto     = "auto"
	BackendDRM      = "drm"
	BackendWindow   = "window"
	BackendX11      = "x11"
	BackendHeadless = "headless"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	XWayland XWaylandConfig `mapstructure:"xwayland"`
	Render   RenderConfig   `mapstructure:"render"`
	Surface  SurfaceConfig  `mapstructure:"surface"`
	Seat     SeatConfig     `mapstructure:"seat"`
	Cursor   CursorConfig   `mapstructure:"cursor"`
	Debug    DebugConfig    `mapstructure:"debug"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

type BackendConfig struct {
	Kind            string       `mapstructure:"kind"`
	HeadlessOutputs int          `mapstructure:"headless_outputs"`
	DRM             DRMConfig    `mapstructure:"drm"`
	Window          WindowConfig `mapstructure:"window"`
}

type DRMConfig struct {
	Card      string `mapstructure:"card"`
	Input     string `mapstructure:"input"`
	GrabInput bool   `mapstructure:"grab_input"`
}

// WindowConfig sizes the window of the hosted backends.
type WindowConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type XWaylandConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type RenderConfig struct {
	MaxPresentFailures int `mapstructure:"max_present_failures"`
	StallPulses        int `mapstructure:"stall_pulses"`
	// Background is a color in #rrggbb or #rrggbbaa form.
	Background string `mapstructure:"background"`
}

type SurfaceConfig struct {
	// SubsurfaceSync is one of protocol, always or never.
	SubsurfaceSync string `mapstructure:"subsurface_sync"`
}

type SeatConfig struct {
	Name        string     `mapstructure:"name"`
	XKB         seat.RMLVO `mapstructure:"xkb"`
	RepeatRate  int        `mapstructure:"repeat_rate"`
	RepeatDelay int        `mapstructure:"repeat_delay"`
}

type CursorConfig struct {
	Theme string `mapstructure:"theme"`
	Size  int    `mapstructure:"size"`
}

type DebugConfig struct {
	Trace     bool   `mapstructure:"trace"`
	LogLevel  string `mapstructure:"log_level"`
	IPCSocket string `mapstructure:"ipc_socket"`
}

// Default is the configuration used for anything that is not set.
var Default = Config{
	Backend: BackendConfig{
		Kind:            BackendAuto,
		HeadlessOutputs: 1,
		Window:          WindowConfig{Width: 1280, Height: 720},
	},
	XWayland: XWaylandConfig{
		Enabled: true,
		Path:    "Xwayland",
	},
	Render: RenderConfig{
		MaxPresentFailures: 3,
		StallPulses:        8,
		Background:         "#000000",
	},
	Surface: SurfaceConfig{
		SubsurfaceSync: surface.SyncProtocol.String(),
	},
	Seat: SeatConfig{
		Name:        "seat0",
		RepeatRate:  25,
		RepeatDelay: 600,
	},
	Cursor: CursorConfig{
		Size: 24,
	},
	Debug: DebugConfig{
		LogLevel: "info",
	},
}

// SetDefaults registers every default with v. Keys need a default for
// environment overrides to be seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.kind", Default.Backend.Kind)
	v.SetDefault("backend.headless_outputs", Default.Backend.HeadlessOutputs)
	v.SetDefault("backend.drm.card", Default.Backend.DRM.Card)
	v.SetDefault("backend.drm.input", Default.Backend.DRM.Input)
	v.SetDefault("backend.drm.grab_input", Default.Backend.DRM.GrabInput)
	v.SetDefault("backend.window.width", Default.Backend.Window.Width)
	v.SetDefault("backend.window.height", Default.Backend.Window.Height)

	v.SetDefault("xwayland.enabled", Default.XWayland.Enabled)
	v.SetDefault("xwayland.path", Default.XWayland.Path)

	v.SetDefault("render.max_present_failures", Default.Render.MaxPresentFailures)
	v.SetDefault("render.stall_pulses", Default.Render.StallPulses)
	v.SetDefault("render.background", Default.Render.Background)

	v.SetDefault("surface.subsurface_sync", Default.Surface.SubsurfaceSync)

	v.SetDefault("seat.name", Default.Seat.Name)
	v.SetDefault("seat.xkb.rules", Default.Seat.XKB.Rules)
	v.SetDefault("seat.xkb.model", Default.Seat.XKB.Model)
	v.SetDefault("seat.xkb.layout", Default.Seat.XKB.Layout)
	v.SetDefault("seat.xkb.variant", Default.Seat.XKB.Variant)
	v.SetDefault("seat.xkb.options", Default.Seat.XKB.Options)
	v.SetDefault("seat.repeat_rate", Default.Seat.RepeatRate)
	v.SetDefault("seat.repeat_delay", Default.Seat.RepeatDelay)

	v.SetDefault("cursor.theme", Default.Cursor.Theme)
	v.SetDefault("cursor.size", Default.Cursor.Size)

	v.SetDefault("debug.trace", Default.Debug.Trace)
	v.SetDefault("debug.log_level", Default.Debug.LogLevel)
	v.SetDefault("debug.ipc_socket", Default.Debug.IPCSocket)
}

// configDirs returns the directories searched for wlcomp.toml, in
// order of precedence.
func configDirs() []string {
	var dirs []string
	if v, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && filepath.IsAbs(v) {
		dirs = append(dirs, filepath.Join(v, "wlcomp"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "wlcomp"))
	}
	return append(dirs, "/etc/wlcomp")
}

// Load reads the configuration. If path is empty, wlcomp.toml is
// looked for in the usual places and a missing file is not an error.
// Environment variables prefixed with WLCOMP_ override the file, such
// as WLCOMP_RENDER_STALL_PULSES for render.stall_pulses.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)

	v.SetConfigName("wlcomp")
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		for _, dir := range configDirs() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("WLCOMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if (path != "") || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.File = v.ConfigFileUsed()

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every value that is not just a number or a string.
func (c Config) Validate() error {
	switch c.Backend.Kind {
	case BackendAuto, BackendDRM, BackendWindow, BackendX11, BackendHeadless:
	default:
		return fmt.Errorf("backend.kind %q: %w", c.Backend.Kind, ErrInvalid)
	}
	if c.Backend.HeadlessOutputs < 0 {
		return fmt.Errorf("backend.headless_outputs %v: %w", c.Backend.HeadlessOutputs, ErrInvalid)
	}
	if (c.Backend.Window.Width <= 0) || (c.Backend.Window.Height <= 0) {
		return fmt.Errorf("window size %vx%v: %w", c.Backend.Window.Width, c.Backend.Window.Height, ErrInvalid)
	}
	if c.Render.MaxPresentFailures <= 0 {
		return fmt.Errorf("render.max_present_failures %v: %w", c.Render.MaxPresentFailures, ErrInvalid)
	}
	if c.Render.StallPulses <= 0 {
		return fmt.Errorf("render.stall_pulses %v: %w", c.Render.StallPulses, ErrInvalid)
	}
	if _, err := c.Render.BackgroundColor(); err != nil {
		return err
	}
	if _, err := c.Surface.Policy(); err != nil {
		return fmt.Errorf("surface.subsurface_sync: %w", err)
	}
	if (c.Seat.RepeatRate < 0) || (c.Seat.RepeatDelay < 0) {
		return fmt.Errorf("seat repeat %v/%v: %w", c.Seat.RepeatRate, c.Seat.RepeatDelay, ErrInvalid)
	}
	if c.Cursor.Size <= 0 {
		return fmt.Errorf("cursor.size %v: %w", c.Cursor.Size, ErrInvalid)
	}
	if _, err := logrus.ParseLevel(c.Debug.LogLevel); err != nil {
		return fmt.Errorf("debug.log_level: %w", err)
	}
	return nil
}

// Resolve turns auto into a concrete backend kind: a hosted window if
// there is a display server to host it, and the hardware otherwise.
func (b BackendConfig) Resolve() string {
	if b.Kind != BackendAuto {
		return b.Kind
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return BackendWindow
	}
	if os.Getenv("DISPLAY") != "" {
		return BackendX11
	}
	return BackendDRM
}

// BackgroundColor parses Background.
func (r RenderConfig) BackgroundColor() (shmimage.ARGB8888Color, error) {
	hex, ok := strings.CutPrefix(r.Background, "#")
	if !ok || ((len(hex) != 6) && (len(hex) != 8)) {
		return 0, fmt.Errorf("render.background %q: %w", r.Background, ErrInvalid)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("render.background %q: %w", r.Background, ErrInvalid)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xFF
	}

	red, green, blue, alpha := uint8(v>>24), uint8(v>>16), uint8(v>>8), uint8(v)
	// Buffers hold premultiplied color.
	premul := func(c uint8) uint8 { return uint8(uint16(c) * uint16(alpha) / 0xFF) }
	return shmimage.NewARGB8888Color(premul(red), premul(green), premul(blue), alpha), nil
}

// Policy parses SubsurfaceSync.
func (s SurfaceConfig) Policy() (surface.SyncPolicy, error) {
	return surface.ParseSyncPolicy(s.SubsurfaceSync)
}

// Level parses LogLevel. The level is checked by Validate.
func (d DebugConfig) Level() logrus.Level {
	level, err := logrus.ParseLevel(d.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
