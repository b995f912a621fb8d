// Package compositor is the core of the compositor. It owns every
// client's objects, the buffer table, the scene, the outputs and their
// schedulers, the seat, and the XWayland bridge, and it translates
// between client requests and all of them.
//
// All of the state lives on a single event loop. Client connections,
// backends and the X window manager only ever post work to it.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/server"
	"deedles.dev/wlcomp/shell"
	"deedles.dev/wlcomp/stats"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
	"deedles.dev/wlcomp/xwm"
	"github.com/sirupsen/logrus"
)

// Config is the compositor's configuration. Only Backend is required.
type Config struct {
	Backend backend.Backend

	SeatName string
	// Keymap is sent to every keyboard. If it is nil, the default
	// keymap is compiled.
	Keymap      *seat.Keymap
	RepeatRate  int32
	RepeatDelay int32

	SubsurfaceSync surface.SyncPolicy
	Render         output.Config

	// Cursor supplies the default cursor image. Without one, a plain
	// arrow is drawn.
	Cursor     CursorProvider
	CursorSize int

	// XWayland is started if this is not nil.
	XWayland *xwm.ServerConfig

	QueueSize int
	Observer  func(Event)
}

func (c Config) withDefaults() Config {
	if c.SeatName == "" {
		c.SeatName = "seat0"
	}
	if c.RepeatRate == 0 {
		c.RepeatRate = 25
	}
	if c.RepeatDelay == 0 {
		c.RepeatDelay = 600
	}
	if c.CursorSize <= 0 {
		c.CursorSize = 24
	}
	return c
}

type Compositor struct {
	config  Config
	log     logrus.FieldLogger
	loop    *ev.Loop
	server  *server.Server
	backend backend.Backend
	started time.Time

	table *buffer.Table
	scene *scene.Scene
	seat  *seat.Seat

	clients     map[uint64]*Client
	globals     map[uint32]*global
	globalOrder []uint32
	nextGlobal  uint32

	outputs     map[output.ID]*outputState
	outputOrder []output.ID

	surfaces    map[surface.ID]*surfaceRes
	nextSurface surface.ID
	bounds      map[surface.ID]image.Rectangle

	windows []*window
	focused *window
	popups  []*popupRes

	layers map[output.ID][]*layerSurfaceRes
	usable map[output.ID]image.Rectangle

	touchOutputs map[int32]output.ID
	cursor       cursorState
	selection    [2]selectionSource

	xwayland     *xwm.Server
	xwaylandConn uint64
	wm           *xwm.WM

	cancel  context.CancelFunc
	stopped bool
	stopErr error
}

// New creates a compositor. Nothing happens until Run is called.
func New(config Config, log logrus.FieldLogger) (*Compositor, error) {
	if config.Backend == nil {
		return nil, errors.New("no backend")
	}
	config = config.withDefaults()

	keymap := config.Keymap
	if keymap == nil {
		km, err := seat.CompileKeymap(seat.RMLVO{})
		if err != nil {
			return nil, fmt.Errorf("compile keymap: %w", err)
		}
		keymap = km
	}

	comp := Compositor{
		config:       config,
		log:          log,
		loop:         ev.NewLoop(log),
		backend:      config.Backend,
		started:      time.Now(),
		scene:        scene.New(),
		clients:      make(map[uint64]*Client),
		globals:      make(map[uint32]*global),
		outputs:      make(map[output.ID]*outputState),
		surfaces:     make(map[surface.ID]*surfaceRes),
		bounds:       make(map[surface.ID]image.Rectangle),
		layers:       make(map[output.ID][]*layerSurfaceRes),
		usable:       make(map[output.ID]image.Rectangle),
		touchOutputs: make(map[int32]output.ID),
	}
	comp.server = server.New(comp.loop.Post, &comp, log, server.Config{QueueSize: config.QueueSize})
	comp.table = buffer.NewTable(comp.releaseBuffer)
	comp.seat = seat.New(config.SeatName, comp.scene, seatListener{&comp}, keymap, log)

	comp.scene.OnDamage(comp.damage)
	comp.scene.OnRestack(func(l scene.Layer) {
		if l != scene.LayerCursor {
			comp.seat.Refocus()
		}
	})
	comp.seat.Bind(seat.ModCtrl|seat.ModAlt, input.KeyBackspace, func() {
		comp.log.Info("shutdown requested")
		comp.stop(nil)
	})
	for i, key := range input.FunctionKeys {
		vt := i + 1
		comp.seat.Bind(seat.ModCtrl|seat.ModAlt, key, func() { comp.switchVT(vt) })
	}
	comp.seat.OnButtonPress(comp.buttonPressed)

	comp.addGlobals()

	err := comp.initCursor()
	if err != nil {
		return nil, fmt.Errorf("create cursor: %w", err)
	}

	return &comp, nil
}

// switchVT asks the backend to change virtual terminals. Backends that
// don't run on one ignore it.
func (comp *Compositor) switchVT(vt int) {
	vs, ok := comp.backend.(backend.VTSwitcher)
	if !ok {
		comp.log.WithField("vt", vt).Debug("backend cannot switch virtual terminals")
		return
	}
	if err := vs.SwitchVT(vt); err != nil {
		comp.log.WithError(err).WithField("vt", vt).Warn("switch virtual terminal")
	}
}

// Run starts the backend and serves clients from lis until ctx is
// canceled or the compositor shuts itself down. lis may be nil, in
// which case only XWayland and clients added with AddClient are
// served.
func (comp *Compositor) Run(ctx context.Context, lis *net.UnixListener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	comp.cancel = cancel

	err := comp.backend.Start(ctx, comp.sink(ctx))
	if err != nil {
		return fmt.Errorf("start %v backend: %w", comp.backend.Name(), err)
	}
	defer comp.backend.Close()
	comp.log.WithField("backend", comp.backend.Name()).Info("backend started")

	if comp.config.XWayland != nil {
		comp.startXWayland(ctx)
	}

	if lis != nil {
		go func() {
			err := comp.server.Serve(ctx, lis)
			if (err != nil) && !errors.Is(err, context.Canceled) {
				comp.log.WithError(err).Error("accept failed")
				comp.loop.Post(ctx, func() error {
					comp.stop(err)
					return nil
				})
			}
		}()
	}

	err = comp.loop.Run(ctx)
	comp.server.Close()
	comp.cleanup()

	if comp.stopped {
		return comp.stopErr
	}
	return err
}

// Post runs f on the event loop. It reports false if the loop is no
// longer running.
func (comp *Compositor) Post(ctx context.Context, f func() error) bool {
	return comp.loop.Post(ctx, f)
}

// AddClient serves a client that is already connected, such as one
// end of a socketpair.
func (comp *Compositor) AddClient(ctx context.Context, c *wire.Conn) {
	comp.server.Add(ctx, c)
}

// Backend returns the compositor's backend.
func (comp *Compositor) Backend() backend.Backend {
	return comp.backend
}

func (comp *Compositor) sink(ctx context.Context) backend.Sink {
	return func(ev backend.Event) {
		comp.loop.Post(ctx, func() error {
			defer comp.guard()
			comp.handleBackend(ev)
			return nil
		})
	}
}

// stop shuts the compositor down. A nil err is a clean, requested
// shutdown.
func (comp *Compositor) stop(err error) {
	if comp.stopped {
		return
	}
	comp.stopped = true
	comp.stopErr = err
	if comp.cancel != nil {
		comp.cancel()
	}
}

func (comp *Compositor) cleanup() {
	for _, c := range comp.clients {
		comp.teardown(c, nil)
	}
	for _, id := range comp.outputOrder {
		comp.outputs[id].sched.Close()
	}
	if comp.wm != nil {
		comp.wm.Close()
	}
	if comp.xwayland != nil {
		err := comp.xwayland.Close()
		if err != nil {
			comp.log.WithError(err).Warn("stop XWayland")
		}
	}
}

// guard turns a panic on the event loop into a logged invariant
// violation. It is deferred by every entry point into the loop.
func (comp *Compositor) guard() {
	if r := recover(); r != nil {
		comp.log.WithField("invariant", true).Panicf("internal invariant violated: %v", r)
	}
}

func (comp *Compositor) handleBackend(ev backend.Event) {
	switch ev := ev.(type) {
	case backend.OutputAdded:
		comp.addOutput(ev.Output)

	case backend.OutputRemoved:
		comp.removeOutput(ev.Output, nil)

	case backend.OutputModeChanged:
		comp.changeModes(ev)

	case backend.Vsync:
		if st, ok := comp.outputs[ev.Output]; ok {
			st.sched.Pulse(ev.At)
		}

	case backend.Presented:
		if st, ok := comp.outputs[ev.Output]; ok {
			st.sched.Presented(ev.Seq, ev.At)
		}

	case backend.PresentFailed:
		if st, ok := comp.outputs[ev.Output]; ok {
			st.sched.PresentFailed(ev.Seq, ev.Err)
		}

	case backend.InputReady:
		for e := range comp.backend.PollInput() {
			comp.handleInput(e)
		}
		comp.updateCursor()

	case backend.DeviceLost:
		if ev.Output != 0 {
			comp.removeOutput(ev.Output, ev)
			return
		}
		comp.log.WithError(ev.Err).Error("backend lost")
		for _, id := range append([]output.ID(nil), comp.outputOrder...) {
			comp.removeOutput(id, ev)
		}
		comp.stop(ev)

	default:
		comp.log.Debugf("unhandled backend event %T", ev)
	}
}

// damage marks a global rectangle as needing to be redrawn on every
// output it touches.
func (comp *Compositor) damage(r image.Rectangle) {
	if r.Empty() {
		return
	}
	for _, id := range comp.outputOrder {
		comp.outputs[id].sched.AddDamage(r)
	}
}

// Snapshot returns the compositor's statistics. It is safe to call
// from any goroutine.
func (comp *Compositor) Snapshot(ctx context.Context) (stats.Snapshot, error) {
	done := make(chan stats.Snapshot, 1)
	ok := comp.loop.Post(ctx, func() error {
		done <- comp.snapshot()
		return nil
	})
	if !ok {
		return stats.Snapshot{}, fmt.Errorf("compositor not running: %w", context.Cause(ctx))
	}

	select {
	case <-ctx.Done():
		return stats.Snapshot{}, ctx.Err()
	case <-comp.loop.Done():
		return stats.Snapshot{}, errors.New("compositor stopped")
	case s := <-done:
		return s, nil
	}
}

func (comp *Compositor) snapshot() stats.Snapshot {
	s := stats.Snapshot{
		Uptime:   time.Since(comp.started),
		Clients:  len(comp.clients),
		Surfaces: len(comp.surfaces),
		Buffers:  comp.table.Len(),
		Outputs:  make([]stats.Output, 0, len(comp.outputOrder)),
	}
	for _, id := range comp.outputOrder {
		st := comp.outputs[id]
		o := st.out
		mode := o.Mode()
		s.Outputs = append(s.Outputs, stats.Output{
			ID:        uint64(o.ID),
			Name:      o.Name,
			Make:      o.Make,
			Model:     o.Model,
			Width:     mode.Size.X,
			Height:    mode.Size.Y,
			Refresh:   mode.Refresh,
			X:         o.Pos().X,
			Y:         o.Pos().Y,
			Scale:     o.Scale(),
			Transform: o.Transform().String(),
			State:     st.sched.State().String(),
			Counters:  st.sched.Counters,
		})
	}
	return s
}

type shellListener struct {
	comp *Compositor
}

func (l shellListener) InitialCommit(ss *shell.ShellSurface) {
	switch r := ss.Data.(type) {
	case *toplevelRes:
		r.initialCommit()
	case *popupRes:
		r.initialCommit()
	case *layerSurfaceRes:
		r.initialCommit()
	}
}

func (l shellListener) Map(ss *shell.ShellSurface) {
	switch r := ss.Data.(type) {
	case *toplevelRes:
		l.comp.mapToplevel(r)
	case *popupRes:
		l.comp.mapPopup(r)
	case *layerSurfaceRes:
		l.comp.mapLayer(r)
	}
}

func (l shellListener) Unmap(ss *shell.ShellSurface) {
	switch r := ss.Data.(type) {
	case *toplevelRes:
		l.comp.unmapToplevel(r)
	case *popupRes:
		l.comp.unmapPopup(r)
	case *layerSurfaceRes:
		l.comp.unmapLayer(r)
	}
}

func (l shellListener) Commit(ss *shell.ShellSurface) {
	switch r := ss.Data.(type) {
	case *toplevelRes:
		l.comp.placeToplevel(r)
	case *popupRes:
		l.comp.placePopup(r)
	case *layerSurfaceRes:
		l.comp.arrangeLayers(r.output)
	}
}
