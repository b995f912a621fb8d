package seat

import (
	"slices"

	"deedles.dev/wlcomp/surface"
)

// TouchEvent is passed to a touch GrabHandler.
type TouchEvent struct {
	Time uint32
	Slot int32
	Down bool
	Up   bool
}

type touchPoint struct {
	surface *surface.Surface
	pos     Point
}

type touch struct {
	points map[int32]*touchPoint
	// dirty holds surfaces that got touch events since the last frame.
	dirty []*surface.Surface
}

func (t *touch) touched(s *surface.Surface) {
	if !slices.Contains(t.dirty, s) {
		t.dirty = append(t.dirty, s)
	}
}

// TouchDown starts a touch point. Its focus is fixed at the surface
// under it until it is lifted.
func (st *Seat) TouchDown(time uint32, slot int32, p Point) {
	if g := st.grabs[ClassTouch]; (g != nil) && (g.Handler != nil) {
		g.Handler.Event(st, TouchEvent{Time: time, Slot: slot, Down: true}, p)
		return
	}

	var target *surface.Surface
	if g := st.grabs[ClassTouch]; g != nil {
		target = g.Surface
	} else {
		s, _, ok := st.stack.SurfaceAt(p.Floor())
		if !ok {
			return
		}
		target = s
	}

	local, ok := st.local(target, p)
	if !ok {
		return
	}
	st.touch.points[slot] = &touchPoint{surface: target, pos: p}
	st.touch.touched(target)
	st.listener.TouchDown(target, st.NextSerial(), time, slot, local)
}

func (st *Seat) TouchMotion(time uint32, slot int32, p Point) {
	if g := st.grabs[ClassTouch]; (g != nil) && (g.Handler != nil) {
		g.Handler.Event(st, TouchEvent{Time: time, Slot: slot}, p)
		return
	}

	tp, ok := st.touch.points[slot]
	if !ok {
		return
	}
	tp.pos = p
	local, ok := st.local(tp.surface, p)
	if !ok {
		return
	}
	st.touch.touched(tp.surface)
	st.listener.TouchMotion(tp.surface, time, slot, local)
}

func (st *Seat) TouchUp(time uint32, slot int32) {
	if g := st.grabs[ClassTouch]; (g != nil) && (g.Handler != nil) {
		g.Handler.Event(st, TouchEvent{Time: time, Slot: slot, Up: true}, Point{})
		return
	}

	tp, ok := st.touch.points[slot]
	if !ok {
		return
	}
	delete(st.touch.points, slot)
	st.touch.touched(tp.surface)
	st.listener.TouchUp(tp.surface, st.NextSerial(), time, slot)
}

// TouchFrame ends a group of touch events.
func (st *Seat) TouchFrame() {
	for _, s := range st.touch.dirty {
		if !s.Destroyed() {
			st.listener.TouchFrame(s)
		}
	}
	st.touch.dirty = st.touch.dirty[:0]
}

// TouchCancel abandons every touch point.
func (st *Seat) TouchCancel() {
	var targets []*surface.Surface
	for _, tp := range st.touch.points {
		if !slices.Contains(targets, tp.surface) {
			targets = append(targets, tp.surface)
		}
	}
	clear(st.touch.points)
	st.touch.dirty = st.touch.dirty[:0]
	for _, s := range targets {
		st.listener.TouchCancel(s)
	}
}

// TouchPoints returns the number of active touch points.
func (st *Seat) TouchPoints() int {
	return len(st.touch.points)
}
