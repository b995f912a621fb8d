package seat

import (
	"deedles.dev/wlcomp/pointer"
	"deedles.dev/wlcomp/surface"
)

// Pointer events passed to a GrabHandler.
type (
	MotionEvent struct {
		Time uint32
	}
	ButtonEvent struct {
		Time   uint32
		Button pointer.Button
		State  pointer.ButtonState
	}
	AxisEvent struct {
		Time     uint32
		Axis     pointer.Axis
		Source   pointer.AxisSource
		Value    float64
		Discrete int32
	}
)

// PointerPos returns the pointer's global position.
func (st *Seat) PointerPos() Point {
	return st.pos
}

// PointerFocus returns the surface with pointer focus, if any.
func (st *Seat) PointerFocus() *surface.Surface {
	return st.pointerFocus
}

// OnButtonPress registers a policy hook that is called before a
// button press is delivered. s is the surface under the pointer, or
// nil.
func (st *Seat) OnButtonPress(f func(s *surface.Surface, button pointer.Button)) {
	st.onPress = append(st.onPress, f)
}

// MotionBy moves the pointer relative to its current position.
func (st *Seat) MotionBy(time uint32, dx, dy float64) {
	st.MotionTo(time, Point{X: st.pos.X + dx, Y: st.pos.Y + dy})
}

// MotionTo moves the pointer to a global position. If the surface
// under the pointer changes, leave and enter are sent before the
// motion.
func (st *Seat) MotionTo(time uint32, p Point) {
	st.pos = st.clamp(p)

	if g := st.grabs[ClassPointer]; g != nil {
		if g.Handler != nil {
			g.Handler.Event(st, MotionEvent{Time: time}, st.pos)
			return
		}
		st.setPointerFocus(g.Surface)
		st.sendMotion(g.Surface, time)
		return
	}

	if st.buttons.Count() == 0 {
		st.refocusPointer()
	}
	if st.pointerFocus != nil {
		st.sendMotion(st.pointerFocus, time)
	}
}

func (st *Seat) sendMotion(s *surface.Surface, time uint32) {
	local, ok := st.local(s, st.pos)
	if !ok {
		return
	}
	st.listener.PointerMotion(s, time, local)
}

// Refocus repeats the pointer hit test without moving the pointer. It
// should be called when the stack changes under a stationary pointer.
func (st *Seat) Refocus() {
	if (st.grabs[ClassPointer] != nil) || (st.buttons.Count() > 0) {
		return
	}
	st.refocusPointer()
}

func (st *Seat) refocusPointer() {
	target, _, ok := st.stack.SurfaceAt(st.pos.Floor())
	if !ok {
		target = nil
	}
	st.setPointerFocus(target)
}

func (st *Seat) setPointerFocus(s *surface.Surface) {
	if s == st.pointerFocus {
		return
	}

	if old := st.pointerFocus; (old != nil) && !old.Destroyed() {
		st.listener.PointerLeave(old, st.NextSerial())
		st.listener.PointerFrame(old)
	}
	st.pointerFocus = s
	if s == nil {
		return
	}
	local, ok := st.local(s, st.pos)
	if !ok {
		st.pointerFocus = nil
		return
	}
	st.listener.PointerEnter(s, st.NextSerial(), local)
}

// Button delivers a button event. A press starts an implicit grab on
// the focused surface that lasts until every button is released.
func (st *Seat) Button(time uint32, button pointer.Button, state pointer.ButtonState) {
	switch state {
	case pointer.Pressed:
		if !st.buttons.Press(button) {
			return
		}
	case pointer.Released:
		if !st.buttons.Release(button) {
			return
		}
	}

	if g := st.grabs[ClassPointer]; (g != nil) && (g.Handler != nil) {
		g.Handler.Event(st, ButtonEvent{Time: time, Button: button, State: state}, st.pos)
		return
	}

	if (state == pointer.Pressed) && (st.grabs[ClassPointer] == nil) {
		for _, f := range st.onPress {
			f(st.pointerFocus, button)
		}
	}

	target := st.pointerFocus
	if g := st.grabs[ClassPointer]; g != nil {
		target = g.Surface
	}
	if target != nil {
		st.listener.PointerButton(target, st.NextSerial(), time, button, state)
	}

	if (state == pointer.Released) && (st.buttons.Count() == 0) && (st.grabs[ClassPointer] == nil) {
		st.refocusPointer()
	}
}

// ButtonsHeld returns the number of buttons held down.
func (st *Seat) ButtonsHeld() int {
	return st.buttons.Count()
}

func (st *Seat) Axis(time uint32, axis pointer.Axis, source pointer.AxisSource, value float64, discrete int32) {
	if g := st.grabs[ClassPointer]; g != nil {
		if g.Handler != nil {
			g.Handler.Event(st, AxisEvent{Time: time, Axis: axis, Source: source, Value: value, Discrete: discrete}, st.pos)
			return
		}
		st.listener.PointerAxis(g.Surface, time, axis, source, value, discrete)
		return
	}
	if st.pointerFocus != nil {
		st.listener.PointerAxis(st.pointerFocus, time, axis, source, value, discrete)
	}
}

// Frame ends a group of pointer events.
func (st *Seat) Frame() {
	target := st.pointerFocus
	if g := st.grabs[ClassPointer]; g != nil {
		if g.Handler != nil {
			return
		}
		target = g.Surface
	}
	if target != nil {
		st.listener.PointerFrame(target)
	}
}
