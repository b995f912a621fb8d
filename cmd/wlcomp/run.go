package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/backend/drm"
	"deedles.dev/wlcomp/backend/headless"
	"deedles.dev/wlcomp/backend/window"
	"deedles.dev/wlcomp/backend/x11"
	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/config"
	"deedles.dev/wlcomp/cursor"
	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/ipc"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/wire"
	"deedles.dev/wlcomp/xwm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the compositor",
	Long: `Run the compositor. Clients find it through WAYLAND_DISPLAY, which is set
for any process started by the compositor, such as Xwayland.`,
	Args: cobra.NoArgs,
	RunE: runCompositor,
}

var runKeys = map[string]string{
	"backend":  "backend.kind",
	"trace":    "debug.trace",
	"xwayland": "xwayland.enabled",
	"socket":   "socket",
}

func init() {
	addRunFlags(runCmd.Flags())
}

func addRunFlags(flags *pflag.FlagSet) {
	flags.StringP("backend", "b", "", "backend to use (auto, drm, window, x11, headless)")
	flags.Bool("trace", false, "log every protocol message")
	flags.Bool("xwayland", true, "start Xwayland")
	flags.StringP("socket", "s", "", "Wayland socket name or path")
}

func runCompositor(cmd *cobra.Command, args []string) error {
	bindFlags(cmd.Flags(), runKeys)

	conf, err := config.Load(v, configPath)
	if err != nil {
		return err
	}

	log := logrus.StandardLogger()
	log.SetLevel(conf.Debug.Level())
	if conf.Debug.Trace {
		debug.Enable(logrus.NewEntry(log))
		if log.GetLevel() < logrus.DebugLevel {
			log.SetLevel(logrus.DebugLevel)
		}
	}
	if conf.File != "" {
		log.WithField("file", conf.File).Info("loaded configuration")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	back, err := newBackend(conf, log)
	if err != nil {
		return err
	}

	compConfig, err := compositorConfig(conf, back, log)
	if err != nil {
		return err
	}
	defer compConfig.Keymap.Close()
	comp, err := compositor.New(compConfig, log)
	if err != nil {
		return fmt.Errorf("create compositor: %w", err)
	}

	lis, err := wire.Listen(socketPath(v.GetString("socket")))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer lis.Close()

	display := filepath.Base(lis.Path)
	os.Setenv("WAYLAND_DISPLAY", display)
	log.WithField("socket", lis.Path).Info("listening")

	ipcPath := conf.Debug.IPCSocket
	if ipcPath == "" {
		ipcPath = ipc.SocketPath(display)
	}
	control, err := ipc.Listen(ipcPath, comp, log)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer control.Close()
	os.Setenv(ipc.SocketEnv, ipcPath)
	go func() {
		err := control.Serve(ctx)
		if (err != nil) && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("control socket stopped")
		}
	}()

	runner, ok := back.(backend.MainThreadRunner)
	if !ok {
		return clean(comp.Run(ctx, lis.UnixListener))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- comp.Run(ctx, lis.UnixListener)
		cancel()
	}()

	mainErr := runner.RunMain(ctx)
	cancel()
	return errors.Join(clean(mainErr), clean(<-done))
}

// clean hides the errors that mean the compositor was simply told to
// stop.
func clean(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, window.ErrWindowClosed) {
		return nil
	}
	return err
}

// socketPath turns a bare socket name into a path in the runtime
// directory. An empty name picks the first free one.
func socketPath(name string) string {
	if (name == "") || filepath.IsAbs(name) {
		return name
	}
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if !ok {
		dir = fmt.Sprintf("/run/user/%v", os.Getuid())
	}
	return filepath.Join(dir, name)
}

func newBackend(conf config.Config, log logrus.FieldLogger) (backend.Backend, error) {
	bg, err := conf.Render.BackgroundColor()
	if err != nil {
		return nil, err
	}
	size := image.Pt(conf.Backend.Window.Width, conf.Backend.Window.Height)

	kind := conf.Backend.Resolve()
	log.WithField("backend", kind).Debug("selected backend")

	switch kind {
	case config.BackendDRM:
		return drm.New(drm.Config{
			Card:       conf.Backend.DRM.Card,
			Input:      conf.Backend.DRM.Input,
			GrabInput:  conf.Backend.DRM.GrabInput,
			Background: bg,
		}, log), nil

	case config.BackendWindow:
		return window.New(window.Config{
			Size:       size,
			Title:      "wlcomp",
			Background: bg,
		}, log), nil

	case config.BackendX11:
		return x11.New(x11.Config{
			Size:       size,
			Title:      "wlcomp",
			Background: bg,
		}, log), nil

	case config.BackendHeadless:
		return headless.New(headless.Config{
			Outputs:    conf.Backend.HeadlessOutputs,
			Size:       size,
			Background: bg,
		}, log), nil

	default:
		return nil, fmt.Errorf("backend %q: %w", kind, config.ErrInvalid)
	}
}

func compositorConfig(conf config.Config, back backend.Backend, log logrus.FieldLogger) (compositor.Config, error) {
	keymap, err := seat.CompileKeymap(conf.Seat.XKB)
	if err != nil {
		return compositor.Config{}, fmt.Errorf("compile keymap: %w", err)
	}
	policy, err := conf.Surface.Policy()
	if err != nil {
		return compositor.Config{}, err
	}

	c := compositor.Config{
		Backend:        back,
		SeatName:       conf.Seat.Name,
		Keymap:         keymap,
		RepeatRate:     int32(conf.Seat.RepeatRate),
		RepeatDelay:    int32(conf.Seat.RepeatDelay),
		SubsurfaceSync: policy,
		Render: output.Config{
			MaxFailures: conf.Render.MaxPresentFailures,
			StallPulses: conf.Render.StallPulses,
		},
		CursorSize: conf.Cursor.Size,
	}

	theme, err := cursor.LoadTheme(conf.Cursor.Theme, conf.Cursor.Size)
	if err != nil {
		log.WithError(err).Warn("no cursor theme, using the built-in cursor")
	} else {
		c.Cursor = theme
	}

	if conf.XWayland.Enabled {
		c.XWayland = &xwm.ServerConfig{Path: conf.XWayland.Path}
	}

	return c, nil
}
