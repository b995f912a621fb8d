package compositor

import (
	"image"
	"slices"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/shell"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

// Values of xdg_toplevel.wm_capabilities.
const (
	capMaximize   = 2
	capFullscreen = 3
)

func bindWmBase(c *Client, id, version uint32) error {
	return c.register(&wmBaseRes{object: c.newObject(id, &protocol.WmBase, version)})
}

type wmBaseRes struct {
	object
	surfaces []*xdgSurfaceRes
}

func (r *wmBaseRes) dispatch(msg *wire.MessageBuffer) error {
	c := r.client

	switch msg.Op() {
	case protocol.WmBaseDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		if len(r.surfaces) > 0 {
			return protocolError(r.id, protocol.WmBaseErrorDefunctSurfaces, ErrProtocol, nil, "%v xdg_surfaces still exist", len(r.surfaces))
		}
		c.destroy(r.id)

	case protocol.WmBaseCreatePositioner:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		return c.register(&positionerRes{object: c.newObject(id, &protocol.Positioner, r.version)})

	case protocol.WmBaseGetXdgSurface:
		id, sid := msg.ReadUint(), msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		s, err := c.lookupSurface(r.id, sid)
		if err != nil {
			return err
		}
		if (s.surface.Role() != nil) || (s.roleObject != 0) {
			return protocolError(r.id, protocol.WmBaseErrorRole, ErrRoleConflict, nil, "surface %v already has a role", sid)
		}
		if s.surface.HasBuffer() {
			return protocolError(r.id, protocol.WmBaseErrorInvalidSurfaceState, ErrProtocol, nil, "surface %v already has a buffer", sid)
		}

		x := xdgSurfaceRes{object: c.newObject(id, &protocol.XdgSurface, r.version), wm: r, surf: s}
		if err := c.register(&x); err != nil {
			return err
		}
		r.surfaces = append(r.surfaces, &x)
		s.roleObject = id
		s.validate = x.validate

	case protocol.WmBasePong:
		msg.ReadUint()
		return r.args(msg)
	}
	return nil
}

type positionerRes struct {
	object
	p shell.Positioner
}

func (r *positionerRes) dispatch(msg *wire.MessageBuffer) error {
	invalid := func(format string, args ...any) error {
		return protocolError(r.id, protocol.PositionerErrorInvalidInput, ErrProtocol, nil, format, args...)
	}

	switch msg.Op() {
	case protocol.PositionerDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.PositionerSetSize:
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		if (w <= 0) || (h <= 0) {
			return invalid("size %vx%v", w, h)
		}
		r.p.Size = image.Pt(int(w), int(h))

	case protocol.PositionerSetAnchorRect:
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		if (w < 0) || (h < 0) {
			return invalid("anchor rect size %vx%v", w, h)
		}
		r.p.AnchorRect = image.Rect(int(x), int(y), int(x+w), int(y+h))

	case protocol.PositionerSetAnchor:
		a := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		if a > uint32(shell.EdgeBottomRight) {
			return invalid("anchor %v", a)
		}
		r.p.Anchor = shell.Anchor(a)

	case protocol.PositionerSetGravity:
		g := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		if g > uint32(shell.EdgeBottomRight) {
			return invalid("gravity %v", g)
		}
		r.p.Gravity = shell.Gravity(g)

	case protocol.PositionerSetConstraintAdjustment:
		adj := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		r.p.Adjustment = shell.ConstraintAdjustment(adj)

	case protocol.PositionerSetOffset:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		r.p.Offset = image.Pt(int(x), int(y))

	case protocol.PositionerSetReactive:
		if err := r.args(msg); err != nil {
			return err
		}
		r.p.Reactive = true

	case protocol.PositionerSetParentSize:
		msg.ReadInt()
		msg.ReadInt()
		return r.args(msg)

	case protocol.PositionerSetParentConfigure:
		msg.ReadUint()
		return r.args(msg)
	}
	return nil
}

// xdgSurfaceRes is an xdg_surface. Its role object is either a
// toplevelRes or a popupRes.
type xdgSurfaceRes struct {
	object
	wm   *wmBaseRes
	surf *surfaceRes
	ss   *shell.ShellSurface
	role resource
}

func (r *xdgSurfaceRes) Destroy() {
	r.wm.surfaces = slices.DeleteFunc(r.wm.surfaces, func(x *xdgSurfaceRes) bool { return x == r })
	if r.surf.roleObject == r.id {
		r.surf.validate = nil
	}
	r.object.Destroy()
}

// validate rejects content committed before a role is assigned.
func (r *xdgSurfaceRes) validate() error {
	if r.ss != nil {
		return nil
	}
	if id, ok := r.surf.surface.PendingBuffer(); ok && (id != 0) {
		return protocolError(r.id, protocol.XdgSurfaceErrorUnconfiguredBuffer, ErrProtocol, shell.ErrUnconfiguredBuffer, "buffer committed without a role")
	}
	return nil
}

func (r *xdgSurfaceRes) newRole(kind shell.Kind) (*shell.ShellSurface, error) {
	if r.ss != nil {
		return nil, protocolError(r.id, protocol.XdgSurfaceErrorAlreadyConstructed, ErrProtocol, shell.ErrAlreadyConstructed, "%v", kind)
	}
	ss, err := shell.New(kind, r.surf.surface, shellListener{r.comp()})
	if err != nil {
		return nil, protocolError(r.wm.id, protocol.WmBaseErrorRole, ErrRoleConflict, err, "%v", kind)
	}
	r.ss = ss
	return ss, nil
}

func (r *xdgSurfaceRes) sendConfigure(serial uint32) {
	mb := r.event(protocol.XdgSurfaceConfigure)
	mb.WriteUint(serial)
	r.send(mb)
}

func (r *xdgSurfaceRes) dispatch(msg *wire.MessageBuffer) error {
	c := r.client

	switch msg.Op() {
	case protocol.XdgSurfaceDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		if r.role != nil {
			return protocolError(r.id, protocol.XdgSurfaceErrorDefunctRoleObject, ErrProtocol, nil, "role object still exists")
		}
		c.destroy(r.id)

	case protocol.XdgSurfaceGetToplevel:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		t := toplevelRes{object: c.newObject(id, &protocol.Toplevel, r.version), xdg: r}
		if err := c.register(&t); err != nil {
			return err
		}
		ss, err := r.newRole(shell.KindToplevel)
		if err != nil {
			return err
		}
		ss.Data = &t
		r.role = &t

	case protocol.XdgSurfaceGetPopup:
		id, pid, posid := msg.ReadUint(), msg.ReadObject(), msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		pos, err := lookup[*positionerRes](c, r.id, posid)
		if err != nil {
			return err
		}
		if err := pos.p.Validate(); err != nil {
			return protocolError(r.wm.id, protocol.WmBaseErrorInvalidPositioner, ErrProtocol, err, "get_popup")
		}

		var parent *shell.ShellSurface
		if pid != 0 {
			px, err := lookup[*xdgSurfaceRes](c, r.id, pid)
			if err != nil {
				return err
			}
			if px.ss == nil {
				return protocolError(r.wm.id, protocol.WmBaseErrorInvalidPopupParent, ErrProtocol, nil, "parent %v has no role", pid)
			}
			parent = px.ss
		}

		p := popupRes{object: c.newObject(id, &protocol.Popup, r.version), xdg: r}
		if err := c.register(&p); err != nil {
			return err
		}
		ss, err := r.newRole(shell.KindPopup)
		if err != nil {
			return err
		}
		ss.Data = &p
		ss.Positioner = pos.p
		ss.SetParent(parent)
		r.role = &p

	case protocol.XdgSurfaceSetWindowGeometry:
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		if r.ss == nil {
			return protocolError(r.id, protocol.XdgSurfaceErrorNotConstructed, ErrProtocol, nil, "set_window_geometry")
		}
		err := r.ss.SetGeometry(rect(x, y, w, h))
		if err != nil {
			return protocolError(r.id, protocol.XdgSurfaceErrorInvalidSize, ErrProtocol, err, "set_window_geometry")
		}

	case protocol.XdgSurfaceAckConfigure:
		serial := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		if r.ss == nil {
			return protocolError(r.id, protocol.XdgSurfaceErrorNotConstructed, ErrProtocol, nil, "ack_configure")
		}
		if r.role == nil {
			return nil
		}
		err := r.ss.AckConfigure(serial)
		if err != nil {
			return protocolError(r.id, protocol.XdgSurfaceErrorInvalidSerial, ErrProtocol, err, "ack_configure")
		}
	}
	return nil
}

type toplevelRes struct {
	object
	xdg *xdgSurfaceRes

	states shell.State
	size   image.Point
	// output is the output requested by set_fullscreen, if any.
	output output.ID
	// sent is set once the initial configure has gone out.
	sent bool
	win  *window
}

func (r *toplevelRes) shell() *shell.ShellSurface {
	return r.xdg.ss
}

func (r *toplevelRes) Destroy() {
	if ss := r.shell(); ss != nil {
		ss.Destroy()
	}
	r.xdg.role = nil
	r.object.Destroy()
}

func (r *toplevelRes) dispatch(msg *wire.MessageBuffer) error {
	ss := r.shell()
	comp := r.comp()

	switch msg.Op() {
	case protocol.ToplevelDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.ToplevelSetParent:
		pid := msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		if pid == 0 {
			ss.SetParent(nil)
			return nil
		}
		p, err := lookup[*toplevelRes](r.client, r.id, pid)
		if err != nil {
			return err
		}
		for a := p.shell(); a != nil; a = a.Parent() {
			if a == ss {
				return protocolError(r.id, protocol.ToplevelErrorInvalidParent, ErrProtocol, nil, "parent loop through %v", pid)
			}
		}
		ss.SetParent(p.shell())

	case protocol.ToplevelSetTitle:
		ss.Title = msg.ReadString()
		return r.args(msg)

	case protocol.ToplevelSetAppID:
		ss.AppID = msg.ReadString()
		return r.args(msg)

	case protocol.ToplevelShowWindowMenu:
		msg.ReadObject()
		msg.ReadUint()
		msg.ReadInt()
		msg.ReadInt()
		return r.args(msg)

	case protocol.ToplevelMove:
		msg.ReadObject()
		msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		if (r.win == nil) || (comp.seat.ButtonsHeld() == 0) {
			return nil
		}
		comp.startMove(r.win)

	case protocol.ToplevelResize:
		msg.ReadObject()
		msg.ReadUint()
		edges := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		if edges > 10 {
			return protocolError(r.id, protocol.ToplevelErrorInvalidResizeEdge, ErrProtocol, nil, "edges %v", edges)
		}

	case protocol.ToplevelSetMaxSize, protocol.ToplevelSetMinSize:
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		set := ss.SetMaxSize
		if msg.Op() == protocol.ToplevelSetMinSize {
			set = ss.SetMinSize
		}
		if err := set(int(w), int(h)); err != nil {
			return protocolError(r.id, protocol.ToplevelErrorInvalidSize, ErrProtocol, err, "%v", r.iface.RequestName(msg.Op()))
		}

	case protocol.ToplevelSetMaximized:
		if err := r.args(msg); err != nil {
			return err
		}
		r.setState(shell.Maximized, true)

	case protocol.ToplevelUnsetMaximized:
		if err := r.args(msg); err != nil {
			return err
		}
		r.setState(shell.Maximized, false)

	case protocol.ToplevelSetFullscreen:
		oid := msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		r.output = 0
		if oid != 0 {
			o, err := lookup[*outputRes](r.client, r.id, oid)
			if err != nil {
				return err
			}
			r.output = o.output
		}
		r.setState(shell.Fullscreen, true)

	case protocol.ToplevelUnsetFullscreen:
		if err := r.args(msg); err != nil {
			return err
		}
		r.output = 0
		r.setState(shell.Fullscreen, false)

	case protocol.ToplevelSetMinimized:
		return r.args(msg)
	}
	return nil
}

func (r *toplevelRes) setState(state shell.State, on bool) {
	states := r.states &^ state
	if on {
		states |= state
	}
	if states == r.states {
		return
	}
	r.states = states
	if r.sent {
		r.configure()
	}
}

// outputState returns the output the toplevel is shown on, or should
// be shown on.
func (r *toplevelRes) outputState() (*outputState, bool) {
	comp := r.comp()
	if st, ok := comp.outputs[r.output]; ok && !st.faulted {
		return st, true
	}
	if r.win != nil {
		if pos, ok := comp.scene.SurfacePos(r.shell().Surface()); ok {
			return comp.outputAt(seat.Point{X: float64(pos.X), Y: float64(pos.Y)})
		}
	}
	return comp.outputAt(comp.seat.PointerPos())
}

// area returns the area the toplevel should fill for its current
// state, if any.
func (r *toplevelRes) area() (image.Rectangle, bool) {
	st, ok := r.outputState()
	if !ok {
		return image.Rectangle{}, false
	}
	switch {
	case r.states&shell.Fullscreen != 0:
		return st.out.Layout(), true
	case r.states&shell.Maximized != 0:
		return r.comp().usable[st.out.ID], true
	}
	return image.Rectangle{}, false
}

func (r *toplevelRes) initialCommit() {
	if r.version >= 5 {
		mb := r.event(protocol.ToplevelWmCapabilities)
		mb.WriteArray(uintArray([]uint32{capMaximize, capFullscreen}))
		r.send(mb)
	}
	if st, ok := r.outputState(); ok && (r.version >= 4) {
		usable := r.comp().usable[st.out.ID]
		mb := r.event(protocol.ToplevelConfigureBounds)
		mb.WriteInt(int32(usable.Dx()))
		mb.WriteInt(int32(usable.Dy()))
		r.send(mb)
	}
	r.sent = true
	r.configure()
}

func (r *toplevelRes) configure() {
	size := r.size
	if area, ok := r.area(); ok {
		size = area.Size()
	}

	serial := r.comp().seat.NextSerial()
	r.shell().Configure(serial, size, r.states)

	mb := r.event(protocol.ToplevelConfigure)
	mb.WriteInt(int32(size.X))
	mb.WriteInt(int32(size.Y))
	mb.WriteArray(uintArray(r.states.Values()))
	r.send(mb)

	r.xdg.sendConfigure(serial)
}

func (comp *Compositor) mapToplevel(r *toplevelRes) {
	ss := r.shell()
	s := ss.Surface()
	geom := ss.Geometry()

	var pos image.Point
	if area, ok := r.area(); ok {
		pos = area.Min.Sub(geom.Min)
	} else if st, ok := comp.outputAt(comp.seat.PointerPos()); ok {
		usable := comp.usable[st.out.ID]
		pos = usable.Min.Add(usable.Size().Sub(geom.Size()).Div(2)).Sub(geom.Min)
	}

	n, err := comp.scene.Map(s, scene.LayerNormal, pos)
	if err != nil {
		comp.log.WithError(err).WithField("surface", s.ID()).Warn("map toplevel")
		return
	}
	comp.bounds[s.ID()] = n.Bounds()

	w := window{ss: ss, toplevel: r}
	r.win = &w
	comp.windows = append(comp.windows, &w)
	comp.log.WithField("surface", s.ID()).WithField("title", ss.Title).Debug("toplevel mapped")
	comp.focusWindow(&w)
}

func (comp *Compositor) unmapToplevel(r *toplevelRes) {
	s := r.shell().Surface()
	comp.scene.Unmap(s.ID())
	delete(comp.bounds, s.ID())
	comp.removeWindow(s)
	r.win = nil
	r.sent = false
}

// placeToplevel keeps a maximized or fullscreen toplevel aligned with
// the area it fills.
func (comp *Compositor) placeToplevel(r *toplevelRes) {
	if r.win == nil {
		return
	}
	area, ok := r.area()
	if !ok {
		return
	}
	s := r.shell().Surface()
	pos := area.Min.Sub(r.shell().Geometry().Min)
	if n, ok := comp.scene.Node(s.ID()); ok && (n.Pos() != pos) {
		comp.scene.Move(s.ID(), pos)
	}
}

// popupRes is an xdg_popup. Its parent is an xdg_surface, or a layer
// surface assigned later through get_popup.
type popupRes struct {
	object
	xdg *xdgSurfaceRes

	// placed is the popup's geometry relative to its parent's window
	// geometry.
	placed image.Rectangle
	done   bool
}

func (r *popupRes) shell() *shell.ShellSurface {
	return r.xdg.ss
}

func (r *popupRes) Destroy() {
	if ss := r.shell(); ss != nil {
		ss.Destroy()
	}
	r.comp().removePopup(r)
	r.xdg.role = nil
	r.object.Destroy()
}

func (r *popupRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.PopupDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.PopupGrab:
		msg.ReadObject()
		msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		if r.shell().Mapped() {
			return protocolError(r.id, protocol.PopupErrorInvalidGrab, ErrProtocol, nil, "grab after map")
		}
		r.shell().Grabbed = true

	case protocol.PopupReposition:
		posid, token := msg.ReadObject(), msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		pos, err := lookup[*positionerRes](r.client, r.id, posid)
		if err != nil {
			return err
		}
		if err := pos.p.Validate(); err != nil {
			return protocolError(r.xdg.wm.id, protocol.WmBaseErrorInvalidPositioner, ErrProtocol, err, "reposition")
		}
		r.shell().Positioner = pos.p

		mb := r.event(protocol.PopupRepositioned)
		mb.WriteUint(token)
		r.send(mb)
		r.configure()
	}
	return nil
}

// parentOrigin returns the global position of the parent's window
// geometry.
func (r *popupRes) parentOrigin() (image.Point, bool) {
	parent := r.shell().Parent()
	if parent == nil {
		return image.Point{}, false
	}
	pos, ok := r.comp().scene.SurfacePos(parent.Surface())
	if !ok {
		return image.Point{}, false
	}
	return pos.Add(parent.Geometry().Min), true
}

func (r *popupRes) initialCommit() {
	r.configure()
}

func (r *popupRes) configure() {
	comp := r.comp()
	ss := r.shell()

	var bounds image.Rectangle
	origin, ok := r.parentOrigin()
	if st, found := comp.outputAt(seat.Point{X: float64(origin.X), Y: float64(origin.Y)}); ok && found {
		bounds = st.out.Layout().Sub(origin)
	}
	r.placed = ss.Positioner.Place(bounds)

	serial := comp.seat.NextSerial()
	ss.Configure(serial, r.placed.Size(), 0)

	mb := r.event(protocol.PopupConfigure)
	mb.WriteInt(int32(r.placed.Min.X))
	mb.WriteInt(int32(r.placed.Min.Y))
	mb.WriteInt(int32(r.placed.Dx()))
	mb.WriteInt(int32(r.placed.Dy()))
	r.send(mb)

	r.xdg.sendConfigure(serial)
}

// pos returns the global position of the popup's surface.
func (r *popupRes) pos() image.Point {
	origin, _ := r.parentOrigin()
	return origin.Add(r.placed.Min).Sub(r.shell().Geometry().Min)
}

func (comp *Compositor) mapPopup(r *popupRes) {
	ss := r.shell()
	s := ss.Surface()

	layer := scene.LayerTop
	if parent := ss.Parent(); parent != nil {
		if l, ok := parent.Data.(*layerSurfaceRes); ok && (l.shell().Layer.Layer == shell.LayerOverlay) {
			layer = scene.LayerOverlay
		}
	}

	n, err := comp.scene.Map(s, layer, r.pos())
	if err != nil {
		comp.log.WithError(err).WithField("surface", s.ID()).Warn("map popup")
		return
	}
	comp.bounds[s.ID()] = n.Bounds()
	comp.popups = append(comp.popups, r)

	if ss.Grabbed {
		comp.seat.SetKeyboardFocus(s)
	}
}

func (comp *Compositor) unmapPopup(r *popupRes) {
	comp.removePopup(r)
}

// placePopup follows the popup's parent and geometry.
func (comp *Compositor) placePopup(r *popupRes) {
	s := r.shell().Surface()
	n, ok := comp.scene.Node(s.ID())
	if !ok {
		return
	}
	if pos := r.pos(); n.Pos() != pos {
		comp.scene.Move(s.ID(), pos)
	}
}

// removePopup takes a popup off the screen along with every popup
// opened from it.
func (comp *Compositor) removePopup(r *popupRes) {
	i := slices.Index(comp.popups, r)
	if i < 0 {
		return
	}
	s := r.shell().Surface()
	comp.popups = slices.Delete(comp.popups, i, i+1)
	comp.scene.Unmap(s.ID())
	delete(comp.bounds, s.ID())
	comp.dismissChildren(s)

	if comp.seat.KeyboardFocus() == s {
		comp.refocusKeyboard()
	}
}

// popupDone dismisses a popup. The client is expected to destroy it.
func (comp *Compositor) popupDone(r *popupRes) {
	if r.done {
		return
	}
	r.done = true
	r.send(r.event(protocol.PopupDone))
	comp.removePopup(r)
}

// dismissChildren dismisses every popup whose parent is s.
func (comp *Compositor) dismissChildren(s *surface.Surface) {
	for _, p := range slices.Clone(comp.popups) {
		if parent := p.shell().Parent(); (parent != nil) && (parent.Surface() == s) {
			comp.popupDone(p)
		}
	}
}

// dismissPopups dismisses every open popup, topmost first.
func (comp *Compositor) dismissPopups() {
	for len(comp.popups) > 0 {
		comp.popupDone(comp.popups[len(comp.popups)-1])
	}
}
