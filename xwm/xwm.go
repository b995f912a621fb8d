// Package xwm is the window manager for XWayland. It pairs X windows
// with the Wayland surfaces XWayland creates for them and keeps the
// two sides' geometry and stacking order in agreement.
//
// X is authoritative for the relative order of X windows. The order is
// mirrored into the scene's normal layer so that composition and
// hit-testing see the same order the X server does.
package xwm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"slices"

	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/shell"
	"deedles.dev/wlcomp/surface"
	"github.com/sirupsen/logrus"
)

var ErrUnknownWindow = errors.New("unknown window")

// Window is an X window ID.
type Window uint32

// StackMode is where a window goes relative to its sibling when it is
// restacked.
type StackMode uint8

const (
	Above StackMode = iota
	Below
)

// ConfigMask says which fields of a configure request were set.
type ConfigMask uint16

const (
	ConfigX ConfigMask = 1 << iota
	ConfigY
	ConfigWidth
	ConfigHeight
	ConfigBorderWidth
	ConfigSibling
	ConfigStackMode
)

// XConn is the window manager's connection to the X server.
type XConn interface {
	// NextEvent blocks until an event arrives. It returns an error
	// once the connection is closed.
	NextEvent() (Event, error)
	MapWindow(w Window) error
	UnmapWindow(w Window) error
	// ConfigureWindow moves and resizes a window. If mode is not nil,
	// the window is also restacked relative to sibling, or to all of
	// its siblings if sibling is zero.
	ConfigureWindow(w Window, geometry image.Rectangle, sibling Window, mode *StackMode) error
	SetInputFocus(w Window) error
	// SetSelectionOwner makes the window manager the owner of a
	// selection, or gives it up.
	SetSelectionOwner(sel Selection, own bool) error
	// ConvertSelection asks the selection's owner for its contents.
	// The answer arrives as a SelectionNotify.
	ConvertSelection(sel Selection, target string) error
	// SendSelection answers a SelectionRequest. A nil reply refuses
	// it.
	SendSelection(req SelectionRequest, reply *SelectionReply) error
	Close() error
}

// Event is an event from the X server, reduced to what the window
// manager needs.
type Event interface {
	xevent()
}

type CreateNotify struct {
	Window           Window
	Geometry         image.Rectangle
	OverrideRedirect bool
}

type DestroyNotify struct {
	Window Window
}

type MapRequest struct {
	Window Window
}

type MapNotify struct {
	Window Window
}

type UnmapNotify struct {
	Window Window
}

type ConfigureRequest struct {
	Window    Window
	Geometry  image.Rectangle
	Mask      ConfigMask
	Sibling   Window
	StackMode StackMode
}

// ConfigureNotify reports a window's new geometry and position in the
// stacking order. The window is directly above Above, or at the bottom
// if Above is zero.
type ConfigureNotify struct {
	Window           Window
	Geometry         image.Rectangle
	Above            Window
	OverrideRedirect bool
}

// SurfaceID is XWayland's WL_SURFACE_ID client message, naming the
// wl_surface that shows a window.
type SurfaceID struct {
	Window  Window
	Surface uint32
}

type TitleChanged struct {
	Window Window
	Title  string
}

func (CreateNotify) xevent()     {}
func (DestroyNotify) xevent()    {}
func (MapRequest) xevent()       {}
func (MapNotify) xevent()        {}
func (UnmapNotify) xevent()      {}
func (ConfigureRequest) xevent() {}
func (ConfigureNotify) xevent()  {}
func (SurfaceID) xevent()        {}
func (TitleChanged) xevent()     {}

// Host is the compositor as seen by the window manager.
type Host interface {
	// LookupSurface finds a surface of the XWayland client by its
	// object ID.
	LookupSurface(object uint32) (*surface.Surface, bool)
	WindowMapped(w *XWindow)
	WindowUnmapped(w *XWindow)
	// XSelection offers an X client's selection to Wayland clients in
	// the given MIME types. Nil mimes clears the selection.
	XSelection(sel Selection, mimes []string)
	// SendSelection writes the Wayland selection to w and closes it.
	SendSelection(sel Selection, mime string, w *os.File)
}

// XWindow is an X window and, once paired, its surface.
type XWindow struct {
	ID               Window
	Geometry         image.Rectangle
	OverrideRedirect bool
	Title            string
	// Mapped is the X server's idea of whether the window is mapped.
	Mapped bool

	// SurfaceObject is the object ID from WL_SURFACE_ID, or zero.
	SurfaceObject uint32
	Surface       *surface.Surface
	Shell         *shell.ShellSurface
}

// Paired reports whether the window has a surface.
func (w *XWindow) Paired() bool {
	return w.Surface != nil
}

// WM is the XWayland window manager. Its methods must be called from
// the compositor's event loop.
type WM struct {
	conn  XConn
	scene *scene.Scene
	host  Host
	log   logrus.FieldLogger

	windows   map[Window]*XWindow
	bySurface map[surface.ID]*XWindow
	// stack is the X stacking order of top-level windows, bottom to
	// top.
	stack []Window

	sel [2]selectionState
}

func New(conn XConn, sc *scene.Scene, host Host, log logrus.FieldLogger) *WM {
	return &WM{
		conn:      conn,
		scene:     sc,
		host:      host,
		log:       log.WithField("component", "xwm"),
		windows:   make(map[Window]*XWindow),
		bySurface: make(map[surface.ID]*XWindow),
	}
}

// Pump reads events from the X connection and hands them to post,
// which must arrange for them to be handled on the event loop. It
// returns when the connection fails or ctx is canceled.
func (wm *WM) Pump(ctx context.Context, post func(func() error) bool) error {
	for {
		ev, err := wm.conn.NextEvent()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("X connection: %w", err)
		}
		if !post(func() error { wm.Handle(ev); return nil }) {
			return ctx.Err()
		}
	}
}

// Window returns the window with the given ID.
func (wm *WM) Window(id Window) (*XWindow, bool) {
	w, ok := wm.windows[id]
	return w, ok
}

// WindowForSurface returns the window shown by a surface.
func (wm *WM) WindowForSurface(id surface.ID) (*XWindow, bool) {
	w, ok := wm.bySurface[id]
	return w, ok
}

// Stack returns the X stacking order, bottom to top.
func (wm *WM) Stack() []Window {
	return slices.Clone(wm.stack)
}

// Handle applies an event from the X server.
func (wm *WM) Handle(ev Event) {
	switch ev := ev.(type) {
	case CreateNotify:
		wm.created(ev)
	case DestroyNotify:
		wm.destroyed(ev.Window)
	case MapRequest:
		wm.mapRequest(ev.Window)
	case MapNotify:
		wm.mapNotify(ev.Window)
	case UnmapNotify:
		wm.unmapNotify(ev.Window)
	case ConfigureRequest:
		wm.configureRequest(ev)
	case ConfigureNotify:
		wm.configureNotify(ev)
	case SurfaceID:
		wm.surfaceID(ev)
	case TitleChanged:
		if w, ok := wm.windows[ev.Window]; ok {
			w.Title = ev.Title
			if w.Shell != nil {
				w.Shell.Title = ev.Title
			}
		}
	case SelectionOwner:
		wm.selectionOwner(ev)
	case SelectionRequest:
		wm.selectionRequest(ev)
	case SelectionNotify:
		wm.selectionNotify(ev)
	default:
		wm.log.Debugf("unhandled X event %T", ev)
	}
}

func (wm *WM) created(ev CreateNotify) {
	if _, ok := wm.windows[ev.Window]; ok {
		return
	}
	wm.windows[ev.Window] = &XWindow{
		ID:               ev.Window,
		Geometry:         ev.Geometry,
		OverrideRedirect: ev.OverrideRedirect,
	}
	wm.stack = append(wm.stack, ev.Window)
}

func (wm *WM) destroyed(id Window) {
	w, ok := wm.windows[id]
	if !ok {
		return
	}
	wm.unpair(w)
	delete(wm.windows, id)
	wm.stack = slices.DeleteFunc(wm.stack, func(c Window) bool { return c == id })
}

func (wm *WM) mapRequest(id Window) {
	if _, ok := wm.windows[id]; !ok {
		wm.log.WithField("window", id).Debug("map request for unknown window")
		return
	}
	if err := wm.conn.MapWindow(id); err != nil {
		wm.log.WithError(err).WithField("window", id).Warn("map window")
	}
}

func (wm *WM) mapNotify(id Window) {
	w, ok := wm.windows[id]
	if !ok {
		return
	}
	w.Mapped = true
	if w.Shell != nil {
		w.Shell.MapIfReady()
	}
}

func (wm *WM) unmapNotify(id Window) {
	w, ok := wm.windows[id]
	if !ok {
		return
	}
	w.Mapped = false
	// XWayland makes a new surface when the window is mapped again.
	wm.unpair(w)
}

func (wm *WM) configureRequest(ev ConfigureRequest) {
	w, ok := wm.windows[ev.Window]
	if !ok {
		return
	}

	geom := w.Geometry
	if ev.Mask&ConfigX != 0 {
		geom = geom.Add(image.Pt(ev.Geometry.Min.X-geom.Min.X, 0))
	}
	if ev.Mask&ConfigY != 0 {
		geom = geom.Add(image.Pt(0, ev.Geometry.Min.Y-geom.Min.Y))
	}
	if ev.Mask&ConfigWidth != 0 {
		geom.Max.X = geom.Min.X + ev.Geometry.Dx()
	}
	if ev.Mask&ConfigHeight != 0 {
		geom.Max.Y = geom.Min.Y + ev.Geometry.Dy()
	}

	var mode *StackMode
	var sibling Window
	if ev.Mask&ConfigStackMode != 0 {
		mode = &ev.StackMode
		if ev.Mask&ConfigSibling != 0 {
			sibling = ev.Sibling
		}
	}

	if err := wm.conn.ConfigureWindow(w.ID, geom, sibling, mode); err != nil {
		wm.log.WithError(err).WithField("window", w.ID).Warn("configure window")
		return
	}
	wm.setGeometry(w, geom)
}

func (wm *WM) configureNotify(ev ConfigureNotify) {
	w, ok := wm.windows[ev.Window]
	if !ok {
		return
	}
	w.OverrideRedirect = ev.OverrideRedirect
	wm.setGeometry(w, ev.Geometry)

	wm.stack = slices.DeleteFunc(wm.stack, func(c Window) bool { return c == w.ID })
	i := 0
	if ev.Above != 0 {
		i = slices.Index(wm.stack, ev.Above) + 1
	}
	wm.stack = slices.Insert(wm.stack, i, w.ID)
	wm.syncStack()
}

func (wm *WM) setGeometry(w *XWindow, geom image.Rectangle) {
	w.Geometry = geom
	if w.Surface == nil {
		return
	}
	if w.Shell != nil {
		w.Shell.SetGeometry(image.Rectangle{Max: geom.Size()})
	}
	if wm.scene.Mapped(w.Surface.ID()) {
		wm.scene.Move(w.Surface.ID(), geom.Min)
	}
}

// syncStack reorders the scene's normal layer so that mapped X windows
// appear in X stacking order. Native surfaces keep their positions
// relative to each other.
func (wm *WM) syncStack() {
	var prev surface.ID
	for _, id := range wm.stack {
		w := wm.windows[id]
		if (w == nil) || (w.Surface == nil) || !wm.scene.Mapped(w.Surface.ID()) {
			continue
		}
		cur := w.Surface.ID()
		if prev != 0 {
			if err := wm.scene.RestackAbove(cur, prev); err != nil {
				wm.log.WithError(err).Debug("restack")
			}
		}
		prev = cur
	}
}

func (wm *WM) surfaceID(ev SurfaceID) {
	w, ok := wm.windows[ev.Window]
	if !ok {
		return
	}
	if w.Surface != nil {
		wm.unpair(w)
	}
	w.SurfaceObject = ev.Surface

	surf, ok := wm.host.LookupSurface(ev.Surface)
	if !ok {
		// The surface's creation hasn't been processed yet.
		return
	}
	wm.pair(w, surf)
}

// SurfaceCreated must be called for every surface the XWayland client
// creates, so that windows whose WL_SURFACE_ID arrived first can be
// paired.
func (wm *WM) SurfaceCreated(surf *surface.Surface) {
	for _, w := range wm.windows {
		if (w.Surface == nil) && (w.SurfaceObject == surf.Object()) && (w.SurfaceObject != 0) {
			wm.pair(w, surf)
			return
		}
	}
}

func (wm *WM) pair(w *XWindow, surf *surface.Surface) {
	ss, err := shell.New(shell.KindXWayland, surf, wm)
	if err != nil {
		wm.log.WithError(err).WithFields(logrus.Fields{
			"window":  w.ID,
			"surface": surf.ID(),
		}).Warn("cannot pair window")
		return
	}
	ss.Window = uint32(w.ID)
	ss.OverrideRedirect = w.OverrideRedirect
	ss.Title = w.Title
	ss.Data = w
	ss.SetGeometry(image.Rectangle{Max: w.Geometry.Size()})

	w.Surface = surf
	w.Shell = ss
	wm.bySurface[surf.ID()] = w
	surf.OnDestroy(func(s *surface.Surface) { wm.surfaceDestroyed(w, s) })

	wm.log.WithFields(logrus.Fields{
		"window":  w.ID,
		"surface": surf.ID(),
	}).Debug("paired window")

	if w.Mapped {
		ss.MapIfReady()
	}
}

func (wm *WM) unpair(w *XWindow) {
	if w.Surface == nil {
		return
	}
	delete(wm.bySurface, w.Surface.ID())
	ss := w.Shell
	w.Surface = nil
	w.Shell = nil
	w.SurfaceObject = 0
	if ss != nil {
		ss.Destroy()
	}
}

// surfaceDestroyed unmaps the X window of a surface destroyed from the
// Wayland side.
func (wm *WM) surfaceDestroyed(w *XWindow, surf *surface.Surface) {
	if w.Surface != surf {
		return
	}
	wm.unpair(w)
	if _, ok := wm.windows[w.ID]; ok && w.Mapped {
		if err := wm.conn.UnmapWindow(w.ID); err != nil {
			wm.log.WithError(err).WithField("window", w.ID).Warn("unmap window")
		}
	}
}

// Raise brings a surface's window to the top of the X stack.
func (wm *WM) Raise(id surface.ID) error {
	w, ok := wm.bySurface[id]
	if !ok {
		return fmt.Errorf("raise surface %v: %w", id, ErrUnknownWindow)
	}

	mode := Above
	if err := wm.conn.ConfigureWindow(w.ID, w.Geometry, 0, &mode); err != nil {
		return fmt.Errorf("raise window %v: %w", w.ID, err)
	}

	wm.stack = slices.DeleteFunc(wm.stack, func(c Window) bool { return c == w.ID })
	wm.stack = append(wm.stack, w.ID)
	if wm.scene.Mapped(id) {
		wm.scene.Raise(id)
	}
	return nil
}

// Move moves a surface's window to a new position in the layout.
func (wm *WM) Move(id surface.ID, pos image.Point) error {
	w, ok := wm.bySurface[id]
	if !ok {
		return fmt.Errorf("move surface %v: %w", id, ErrUnknownWindow)
	}

	geom := w.Geometry.Add(pos.Sub(w.Geometry.Min))
	if err := wm.conn.ConfigureWindow(w.ID, geom, 0, nil); err != nil {
		return fmt.Errorf("move window %v: %w", w.ID, err)
	}
	wm.setGeometry(w, geom)
	return nil
}

// Focus gives a surface's window X input focus.
func (wm *WM) Focus(id surface.ID) error {
	w, ok := wm.bySurface[id]
	if !ok {
		return fmt.Errorf("focus surface %v: %w", id, ErrUnknownWindow)
	}
	return wm.conn.SetInputFocus(w.ID)
}

// Close shuts down the X connection.
func (wm *WM) Close() error {
	for i := range wm.sel {
		wm.sel[i].drop()
	}
	return wm.conn.Close()
}

// InitialCommit implements shell.Listener. XWayland surfaces are
// configured by the X server, so this never happens.
func (wm *WM) InitialCommit(ss *shell.ShellSurface) {}

func (wm *WM) Map(ss *shell.ShellSurface) {
	w, ok := ss.Data.(*XWindow)
	if !ok {
		return
	}

	layer := scene.LayerNormal
	if w.OverrideRedirect {
		layer = scene.LayerTop
	}
	if _, err := wm.scene.Map(ss.Surface(), layer, w.Geometry.Min); err != nil {
		wm.log.WithError(err).WithField("window", w.ID).Warn("map window")
		return
	}
	wm.syncStack()
	wm.host.WindowMapped(w)
}

func (wm *WM) Unmap(ss *shell.ShellSurface) {
	wm.scene.Unmap(ss.Surface().ID())
	if w, ok := ss.Data.(*XWindow); ok {
		wm.host.WindowUnmapped(w)
	}
}

func (wm *WM) Commit(ss *shell.ShellSurface) {}
