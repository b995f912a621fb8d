// Package seat routes input to client surfaces. It tracks focus and
// grabs separately for the pointer, the keyboard and touch, hit-tests
// pointer and touch input against the surface stack, and keeps the
// seat-wide keyboard state.
package seat

import (
	"errors"
	"fmt"
	"image"
	"math"

	"deedles.dev/wlcomp/pointer"
	"deedles.dev/wlcomp/surface"
	"github.com/sirupsen/logrus"
)

var (
	ErrGrabActive = errors.New("a grab is already active")
	ErrNoGrab     = errors.New("no grab is active")
)

// Class is a class of input device.
type Class int

const (
	ClassPointer Class = iota
	ClassKeyboard
	ClassTouch
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassPointer:
		return "pointer"
	case ClassKeyboard:
		return "keyboard"
	case ClassTouch:
		return "touch"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Point is a position with sub-pixel precision.
type Point struct {
	X, Y float64
}

func (p Point) Floor() image.Point {
	return image.Pt(int(math.Floor(p.X)), int(math.Floor(p.Y)))
}

func (p Point) Sub(q image.Point) Point {
	return Point{X: p.X - float64(q.X), Y: p.Y - float64(q.Y)}
}

// Stack is the surface stack that input is routed against.
type Stack interface {
	SurfaceAt(p image.Point) (*surface.Surface, image.Point, bool)
	SurfacePos(s *surface.Surface) (image.Point, bool)
}

// Listener delivers routed events to clients. Surfaces passed to it
// are never destroyed.
type Listener interface {
	PointerEnter(s *surface.Surface, serial uint32, local Point)
	PointerLeave(s *surface.Surface, serial uint32)
	PointerMotion(s *surface.Surface, time uint32, local Point)
	PointerButton(s *surface.Surface, serial, time uint32, button pointer.Button, state pointer.ButtonState)
	PointerAxis(s *surface.Surface, time uint32, axis pointer.Axis, source pointer.AxisSource, value float64, discrete int32)
	PointerFrame(s *surface.Surface)

	KeyboardEnter(s *surface.Surface, serial uint32, keys []uint32)
	KeyboardLeave(s *surface.Surface, serial uint32)
	Key(s *surface.Surface, serial, time, key uint32, pressed bool)
	Modifiers(s *surface.Surface, serial uint32, mods Modifiers)

	TouchDown(s *surface.Surface, serial, time uint32, slot int32, local Point)
	TouchUp(s *surface.Surface, serial, time uint32, slot int32)
	TouchMotion(s *surface.Surface, time uint32, slot int32, local Point)
	TouchFrame(s *surface.Surface)
	TouchCancel(s *surface.Surface)
}

// Seat is one logical group of input devices.
type Seat struct {
	name     string
	stack    Stack
	listener Listener
	log      logrus.FieldLogger
	serial   uint32

	layout []image.Rectangle
	grabs  [numClasses]*Grab

	pos          Point
	pointerFocus *surface.Surface
	buttons      pointer.Buttons
	onPress      []func(s *surface.Surface, button pointer.Button)

	keyboard keyboard
	touch    touch
}

// New creates a seat. The keymap is compiled once here and shared by
// every keyboard of the seat.
func New(name string, stack Stack, listener Listener, keymap *Keymap, log logrus.FieldLogger) *Seat {
	return &Seat{
		name:     name,
		stack:    stack,
		listener: listener,
		log:      log.WithField("seat", name),
		keyboard: keyboard{keymap: keymap},
		touch:    touch{points: make(map[int32]*touchPoint)},
	}
}

func (st *Seat) Name() string {
	return st.name
}

// NextSerial returns a new event serial.
func (st *Seat) NextSerial() uint32 {
	st.serial++
	return st.serial
}

// SetLayout sets the areas covered by outputs. Pointer motion is
// clamped so that the cursor never leaves them.
func (st *Seat) SetLayout(outputs []image.Rectangle) {
	st.layout = outputs
	st.pos = st.clamp(st.pos)
}

// clamp moves p to the closest point inside the output layout.
func (st *Seat) clamp(p Point) Point {
	if len(st.layout) == 0 {
		return p
	}

	best := p
	bestDist := math.Inf(1)
	for _, r := range st.layout {
		if r.Empty() {
			continue
		}
		c := Point{
			X: min(max(p.X, float64(r.Min.X)), float64(r.Max.X)-1),
			Y: min(max(p.Y, float64(r.Min.Y)), float64(r.Max.Y)-1),
		}
		dist := math.Hypot(c.X-p.X, c.Y-p.Y)
		if dist == 0 {
			return p
		}
		if dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}

// Grab routes every event of one device class to a single target
// regardless of hit-testing until it is released.
type Grab struct {
	Surface *surface.Surface
	Handler GrabHandler
}

// GrabHandler is a compositor-internal grab target, such as an
// interactive move.
type GrabHandler interface {
	// Event receives the input. pos is the seat's pointer position
	// for pointer events and the touch point for touch events.
	Event(st *Seat, ev any, pos Point)
	// Cancel is called when the grab ends for any reason.
	Cancel(st *Seat)
}

// StartGrab begins a grab for class. Exactly one of g.Surface and
// g.Handler must be set.
func (st *Seat) StartGrab(class Class, g Grab) error {
	if st.grabs[class] != nil {
		return fmt.Errorf("%v grab: %w", class, ErrGrabActive)
	}
	if (g.Surface == nil) == (g.Handler == nil) {
		return fmt.Errorf("%v grab needs exactly one target", class)
	}
	st.grabs[class] = &g
	st.log.WithField("class", class).Debug("grab started")
	return nil
}

// EndGrab releases the grab of class.
func (st *Seat) EndGrab(class Class) error {
	g := st.grabs[class]
	if g == nil {
		return fmt.Errorf("%v: %w", class, ErrNoGrab)
	}
	st.grabs[class] = nil
	if g.Handler != nil {
		g.Handler.Cancel(st)
	}
	if class == ClassPointer {
		st.refocusPointer()
	}
	st.log.WithField("class", class).Debug("grab ended")
	return nil
}

// GrabOf returns the active grab of class, if any.
func (st *Seat) GrabOf(class Class) (Grab, bool) {
	g := st.grabs[class]
	if g == nil {
		return Grab{}, false
	}
	return *g, true
}

// SurfaceDestroyed clears every reference the seat holds to s.
func (st *Seat) SurfaceDestroyed(s *surface.Surface) {
	if st.pointerFocus == s {
		st.pointerFocus = nil
		st.buttons.Reset()
	}
	if st.keyboard.focus == s {
		st.keyboard.focus = nil
	}
	for class, g := range st.grabs {
		if (g != nil) && (g.Surface == s) {
			st.grabs[class] = nil
		}
	}
	for slot, p := range st.touch.points {
		if p.surface == s {
			delete(st.touch.points, slot)
		}
	}
}

// local converts a global position to coordinates relative to s.
func (st *Seat) local(s *surface.Surface, p Point) (Point, bool) {
	pos, ok := st.stack.SurfacePos(s)
	if !ok {
		return Point{}, false
	}
	return p.Sub(pos), true
}
