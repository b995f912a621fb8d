package compositor

import (
	"image"
	"slices"

	"deedles.dev/wlcomp/pointer"
	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/shell"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/xwm"
)

// window is a mapped toplevel, either an xdg_toplevel or an X11
// window.
type window struct {
	ss       *shell.ShellSurface
	toplevel *toplevelRes
	x11      *xwm.XWindow
}

func (w *window) surface() *surface.Surface {
	return w.ss.Surface()
}

func (w *window) setActivated(on bool) {
	if w.toplevel != nil {
		w.toplevel.setState(shell.Activated, on)
	}
}

// windowOf returns the window whose surface tree contains s.
func (comp *Compositor) windowOf(s *surface.Surface) (*window, bool) {
	if s == nil {
		return nil, false
	}
	root := s.Root()
	for _, w := range comp.windows {
		if w.surface() == root {
			return w, true
		}
	}
	return nil, false
}

// focusWindow raises w and gives it keyboard focus.
func (comp *Compositor) focusWindow(w *window) {
	if (comp.focused != nil) && (comp.focused != w) {
		comp.focused.setActivated(false)
	}
	comp.focused = w

	i := slices.Index(comp.windows, w)
	if i >= 0 {
		comp.windows = append(slices.Delete(comp.windows, i, i+1), w)
	}

	id := w.surface().ID()
	if (w.x11 != nil) && (comp.wm != nil) {
		if err := comp.wm.Raise(id); err != nil {
			comp.log.WithError(err).Debug("raise X window")
		}
		if err := comp.wm.Focus(id); err != nil {
			comp.log.WithError(err).Debug("focus X window")
		}
	} else if comp.scene.Mapped(id) {
		comp.scene.Raise(id)
	}

	if _, ok := comp.exclusiveLayer(); !ok {
		comp.seat.SetKeyboardFocus(w.surface())
	}
	w.setActivated(true)
}

// removeWindow forgets the window shown by s and passes focus on.
func (comp *Compositor) removeWindow(s *surface.Surface) {
	i := slices.IndexFunc(comp.windows, func(w *window) bool { return w.surface() == s })
	if i < 0 {
		return
	}
	w := comp.windows[i]
	comp.windows = slices.Delete(comp.windows, i, i+1)
	comp.dismissChildren(s)

	if comp.focused != w {
		return
	}
	comp.focused = nil
	if len(comp.windows) > 0 {
		comp.focusWindow(comp.windows[len(comp.windows)-1])
		return
	}
	comp.refocusKeyboard()
}

func (comp *Compositor) windowDestroyed(s *surface.Surface) {
	comp.removeWindow(s)
	for _, p := range slices.Clone(comp.popups) {
		if p.shell().Surface() == s {
			comp.removePopup(p)
		}
	}
}

// refocusKeyboard gives keyboard focus to whatever should have it now:
// a layer surface demanding exclusive focus, the topmost popup that
// grabbed, or the focused window.
func (comp *Compositor) refocusKeyboard() {
	if l, ok := comp.exclusiveLayer(); ok {
		comp.seat.SetKeyboardFocus(l.shell().Surface())
		return
	}
	for i := len(comp.popups) - 1; i >= 0; i-- {
		if ss := comp.popups[i].shell(); ss.Grabbed {
			comp.seat.SetKeyboardFocus(ss.Surface())
			return
		}
	}
	if comp.focused != nil {
		comp.seat.SetKeyboardFocus(comp.focused.surface())
		return
	}
	comp.seat.SetKeyboardFocus(nil)
}

// buttonPressed applies click-to-focus before the press is delivered.
func (comp *Compositor) buttonPressed(s *surface.Surface, button pointer.Button) {
	if n := len(comp.popups); n > 0 {
		top := comp.popups[n-1]
		if top.shell().Grabbed && !comp.sameClient(s, top.shell().Surface()) {
			comp.dismissPopups()
		}
	}
	if s == nil {
		return
	}

	root := s.Root()
	if ss, ok := root.Role().(*shell.ShellSurface); ok {
		if l, ok := ss.Data.(*layerSurfaceRes); ok {
			if l.shell().Layer.KeyboardInteractivity == keyboardOnDemand {
				comp.seat.SetKeyboardFocus(root)
			}
			return
		}
	}

	w, ok := comp.windowOf(s)
	if !ok {
		return
	}
	if (button == pointer.ButtonLeft) && (comp.seat.Modifiers().Effective()&seat.ModAlt != 0) {
		comp.startMove(w)
	}
	if comp.focused != w {
		comp.focusWindow(w)
	}
}

func (comp *Compositor) sameClient(a, b *surface.Surface) bool {
	if (a == nil) || (b == nil) {
		return false
	}
	return a.Owner() == b.Owner()
}

// startMove starts an interactive move of w that follows the pointer
// until every button is released.
func (comp *Compositor) startMove(w *window) {
	n, ok := comp.scene.Node(w.surface().ID())
	if !ok {
		return
	}
	g := moveGrab{
		comp:   comp,
		win:    w,
		offset: n.Pos().Sub(comp.seat.PointerPos().Floor()),
	}
	err := comp.seat.StartGrab(seat.ClassPointer, seat.Grab{Handler: &g})
	if err != nil {
		comp.log.WithError(err).Debug("start move")
	}
}

// moveGrab moves a window with the pointer.
type moveGrab struct {
	comp   *Compositor
	win    *window
	offset image.Point
}

func (g *moveGrab) Event(st *seat.Seat, ev any, pos seat.Point) {
	switch ev.(type) {
	case seat.MotionEvent:
		to := pos.Floor().Add(g.offset)
		id := g.win.surface().ID()
		if (g.win.x11 != nil) && (g.comp.wm != nil) {
			if err := g.comp.wm.Move(id, to); err != nil {
				g.comp.log.WithError(err).Debug("move X window")
			}
			return
		}
		if err := g.comp.scene.Move(id, to); err != nil {
			st.EndGrab(seat.ClassPointer)
		}

	case seat.ButtonEvent:
		if st.ButtonsHeld() == 0 {
			st.EndGrab(seat.ClassPointer)
		}
	}
}

func (g *moveGrab) Cancel(st *seat.Seat) {
	g.comp.log.WithField("surface", g.win.surface().ID()).Debug("move finished")
}
