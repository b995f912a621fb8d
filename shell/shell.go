// Package shell implements window semantics on top of surfaces:
// toplevel windows, popups, layer surfaces and X11 windows.
package shell

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlcomp/surface"
)

var (
	ErrInvalidSerial      = errors.New("unknown configure serial")
	ErrUnconfiguredBuffer = errors.New("buffer attached before initial configure was acknowledged")
	ErrAlreadyConstructed = errors.New("role object already constructed")
	ErrInvalidSize        = errors.New("invalid size")
)

type Kind int

const (
	KindToplevel Kind = iota
	KindPopup
	KindLayer
	KindXWayland
)

func (k Kind) RoleName() string {
	switch k {
	case KindToplevel:
		return "xdg_toplevel"
	case KindPopup:
		return "xdg_popup"
	case KindLayer:
		return "zwlr_layer_surface_v1"
	case KindXWayland:
		return "xwayland_surface"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) String() string {
	return k.RoleName()
}

// State is a set of toplevel window states, as sent in configure
// events.
type State uint32

const (
	Maximized State = 1 << iota
	Fullscreen
	Resizing
	Activated
	TiledLeft
	TiledRight
	TiledTop
	TiledBottom
	Suspended
)

// Values returns the xdg_toplevel.state enum values in s.
func (s State) Values() []uint32 {
	var v []uint32
	for i := range uint32(9) {
		if s&(1<<i) != 0 {
			v = append(v, i+1)
		}
	}
	return v
}

// Listener receives lifecycle notifications from shell surfaces.
type Listener interface {
	// InitialCommit is called for the first commit of a shell surface
	// that still needs its initial configure event.
	InitialCommit(ss *ShellSurface)
	Map(ss *ShellSurface)
	Unmap(ss *ShellSurface)
	Commit(ss *ShellSurface)
}

// Configure is a configure event waiting to be acknowledged.
type Configure struct {
	Serial uint32
	Size   image.Point
	States State
}

// ShellSurface gives a surface window semantics. A surface has at most
// one at a time.
type ShellSurface struct {
	kind     Kind
	surface  *surface.Surface
	listener Listener

	geometry        image.Rectangle
	pendingGeometry image.Rectangle
	geometrySet     bool

	mapped     bool
	configured bool
	initial    bool
	pending    []Configure
	current    Configure

	Title  string
	AppID  string
	parent *ShellSurface

	minSize, maxSize               image.Point
	pendingMinSize, pendingMaxSize image.Point

	// Popup state.
	Positioner Positioner
	Grabbed    bool

	// Layer state, applied on commit.
	Layer        LayerState
	pendingLayer LayerState
	// LayerBox is the arranged position of a layer surface, in
	// layout coordinates.
	LayerBox image.Rectangle

	// XWayland state.
	Window           uint32
	OverrideRedirect bool

	// Data is free for use by the owner of the shell surface.
	Data any
}

// New gives s a shell role of the given kind.
func New(kind Kind, s *surface.Surface, listener Listener) (*ShellSurface, error) {
	ss := ShellSurface{
		kind:     kind,
		surface:  s,
		listener: listener,
		initial:  true,
	}
	if kind == KindXWayland {
		ss.configured = true
		ss.initial = false
	}

	err := s.SetRole(&ss)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

func (ss *ShellSurface) RoleName() string {
	return ss.kind.RoleName()
}

func (ss *ShellSurface) Kind() Kind {
	return ss.kind
}

func (ss *ShellSurface) Surface() *surface.Surface {
	return ss.surface
}

func (ss *ShellSurface) Mapped() bool {
	return ss.mapped
}

func (ss *ShellSurface) Parent() *ShellSurface {
	return ss.parent
}

func (ss *ShellSurface) SetParent(parent *ShellSurface) {
	ss.parent = parent
}

// Geometry returns the window geometry in surface-local coordinates.
// Without an explicit geometry it is the bounds of the surface tree.
func (ss *ShellSurface) Geometry() image.Rectangle {
	if ss.geometrySet {
		return ss.geometry
	}
	return ss.surface.TreeBounds()
}

// SetGeometry sets the pending window geometry.
func (ss *ShellSurface) SetGeometry(r image.Rectangle) error {
	if r.Empty() {
		return fmt.Errorf("geometry %v: %w", r, ErrInvalidSize)
	}
	ss.pendingGeometry = r
	return nil
}

func (ss *ShellSurface) SetMinSize(w, h int) error {
	if (w < 0) || (h < 0) {
		return fmt.Errorf("min size %vx%v: %w", w, h, ErrInvalidSize)
	}
	ss.pendingMinSize = image.Pt(w, h)
	return nil
}

func (ss *ShellSurface) SetMaxSize(w, h int) error {
	if (w < 0) || (h < 0) {
		return fmt.Errorf("max size %vx%v: %w", w, h, ErrInvalidSize)
	}
	ss.pendingMaxSize = image.Pt(w, h)
	return nil
}

func (ss *ShellSurface) MinSize() image.Point {
	return ss.minSize
}

func (ss *ShellSurface) MaxSize() image.Point {
	return ss.maxSize
}

// SetLayer sets pending layer surface state.
func (ss *ShellSurface) SetLayer(state LayerState) {
	ss.pendingLayer = state
}

// PendingLayer returns the layer state that will be applied on the
// next commit.
func (ss *ShellSurface) PendingLayer() LayerState {
	return ss.pendingLayer
}

// Configure records a configure event with the given serial. The
// caller is responsible for sending it.
func (ss *ShellSurface) Configure(serial uint32, size image.Point, states State) Configure {
	c := Configure{Serial: serial, Size: size, States: states}
	ss.pending = append(ss.pending, c)
	return c
}

// AckConfigure acknowledges a configure event and every older one.
func (ss *ShellSurface) AckConfigure(serial uint32) error {
	i := slices.IndexFunc(ss.pending, func(c Configure) bool { return c.Serial == serial })
	if i < 0 {
		return fmt.Errorf("ack %v: %w", serial, ErrInvalidSerial)
	}
	ss.current = ss.pending[i]
	ss.pending = slices.Delete(ss.pending, 0, i+1)
	ss.configured = true
	return nil
}

// Current returns the most recently acknowledged configure.
func (ss *ShellSurface) Current() Configure {
	return ss.current
}

// Configured reports whether the initial configure has been
// acknowledged.
func (ss *ShellSurface) Configured() bool {
	return ss.configured
}

// PreCommit rejects buffers attached before the initial configure was
// acknowledged.
func (ss *ShellSurface) PreCommit(s *surface.Surface) error {
	id, ok := s.PendingBuffer()
	if ok && (id != 0) && !ss.configured {
		return ErrUnconfiguredBuffer
	}
	return nil
}

// Committed implements surface.Role.
func (ss *ShellSurface) Committed(s *surface.Surface) {
	if ss.pendingGeometry != (image.Rectangle{}) {
		ss.geometry = ss.pendingGeometry
		ss.geometrySet = true
		ss.pendingGeometry = image.Rectangle{}
	}
	ss.minSize = ss.pendingMinSize
	ss.maxSize = ss.pendingMaxSize
	if ss.kind == KindLayer {
		ss.Layer = ss.pendingLayer
	}

	if ss.initial {
		ss.initial = false
		if !s.HasBuffer() {
			ss.listener.InitialCommit(ss)
			return
		}
	}

	switch {
	case s.HasBuffer() && !ss.mapped && ss.configured:
		ss.mapped = true
		ss.listener.Map(ss)
	case !s.HasBuffer() && ss.mapped:
		ss.unmap()
	default:
		ss.listener.Commit(ss)
	}
}

// unmap unmaps the shell surface without destroying it. A toplevel
// that is later committed with a buffer starts over with an initial
// configure.
func (ss *ShellSurface) unmap() {
	ss.mapped = false
	if ss.kind != KindXWayland {
		ss.configured = false
		ss.initial = true
		ss.pending = nil
	}
	ss.listener.Unmap(ss)
}

// Destroy tears down the role. The surface keeps existing.
func (ss *ShellSurface) Destroy() {
	if ss.mapped {
		ss.mapped = false
		ss.listener.Unmap(ss)
	}
	if ss.surface.Role() == ss {
		ss.surface.ClearRole()
	}
}

// MapIfReady maps the shell surface immediately if its surface already
// has content. It is used for roles assigned after the first buffer,
// such as X11 windows.
func (ss *ShellSurface) MapIfReady() {
	if ss.mapped || !ss.configured || !ss.surface.HasBuffer() {
		return
	}
	ss.mapped = true
	ss.listener.Map(ss)
}
