package compositor

import (
	"image"
	"slices"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/shell"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

// Values of zwlr_layer_surface_v1.keyboard_interactivity.
const (
	keyboardNone      = 0
	keyboardExclusive = 1
	keyboardOnDemand  = 2
)

var sceneLayers = [...]scene.Layer{
	shell.LayerBackground: scene.LayerBackground,
	shell.LayerBottom:     scene.LayerBottom,
	shell.LayerTop:        scene.LayerTop,
	shell.LayerOverlay:    scene.LayerOverlay,
}

func bindLayerShell(c *Client, id, version uint32) error {
	return c.register(&layerShellRes{object: c.newObject(id, &protocol.LayerShell, version)})
}

type layerShellRes struct {
	object
}

func (r *layerShellRes) dispatch(msg *wire.MessageBuffer) error {
	c := r.client
	comp := r.comp()

	switch msg.Op() {
	case protocol.LayerShellDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		c.destroy(r.id)

	case protocol.LayerShellGetLayerSurface:
		id, sid, oid := msg.ReadUint(), msg.ReadObject(), msg.ReadObject()
		layer, namespace := msg.ReadUint(), msg.ReadString()
		if err := r.args(msg); err != nil {
			return err
		}
		s, err := c.lookupSurface(r.id, sid)
		if err != nil {
			return err
		}
		if layer > uint32(shell.LayerOverlay) {
			return protocolError(r.id, protocol.LayerShellErrorInvalidLayer, ErrProtocol, nil, "layer %v", layer)
		}
		if (s.roleObject != 0) || s.surface.HasBuffer() {
			return protocolError(r.id, protocol.LayerShellErrorAlreadyConstructed, ErrProtocol, nil, "surface %v", sid)
		}

		var out output.ID
		if oid != 0 {
			o, err := lookup[*outputRes](c, r.id, oid)
			if err != nil {
				return err
			}
			out = o.output
		} else if st, ok := comp.outputAt(comp.seat.PointerPos()); ok {
			out = st.out.ID
		}

		l := layerSurfaceRes{
			object: c.newObject(id, &protocol.LayerSurface, r.version),
			surf:   s,
			output: out,
		}
		if err := c.register(&l); err != nil {
			return err
		}
		ss, err := shell.New(shell.KindLayer, s.surface, shellListener{comp})
		if err != nil {
			return protocolError(r.id, protocol.LayerShellErrorRole, ErrRoleConflict, err, "surface %v", sid)
		}
		ss.Data = &l
		ss.SetLayer(shell.LayerState{Layer: shell.Layer(layer), Namespace: namespace})
		l.ss = ss
		s.roleObject = id
		s.validate = l.validate

		if _, ok := comp.outputs[out]; !ok {
			// No output to show it on.
			l.close()
			return nil
		}
		comp.layers[out] = append(comp.layers[out], &l)
	}
	return nil
}

// layerSurfaceRes is a zwlr_layer_surface_v1.
type layerSurfaceRes struct {
	object
	surf *surfaceRes
	ss   *shell.ShellSurface

	output output.ID
	// committed is set while the surface's layer state takes part in
	// the layout.
	committed bool
	// sized is set once the surface has been sent a size.
	sized    bool
	lastSize image.Point
	closed   bool
}

func (l *layerSurfaceRes) shell() *shell.ShellSurface {
	return l.ss
}

func (l *layerSurfaceRes) Destroy() {
	if l.ss != nil {
		l.ss.Destroy()
	}
	l.comp().forgetLayer(l)
	if l.surf.roleObject == l.id {
		l.surf.roleObject = 0
		l.surf.validate = nil
	}
	l.object.Destroy()
}

// validate checks that the pending state can be laid out.
func (l *layerSurfaceRes) validate() error {
	st := l.ss.PendingLayer()
	both := func(a, b shell.Edges) bool { return (st.Anchor&a != 0) && (st.Anchor&b != 0) }
	if (st.Size.X == 0) && !both(shell.EdgesLeft, shell.EdgesRight) {
		return protocolError(l.id, protocol.LayerSurfaceErrorInvalidSize, ErrProtocol, shell.ErrInvalidSize, "zero width without left and right anchors")
	}
	if (st.Size.Y == 0) && !both(shell.EdgesTop, shell.EdgesBottom) {
		return protocolError(l.id, protocol.LayerSurfaceErrorInvalidSize, ErrProtocol, shell.ErrInvalidSize, "zero height without top and bottom anchors")
	}
	return nil
}

func (l *layerSurfaceRes) update(f func(st *shell.LayerState)) {
	st := l.ss.PendingLayer()
	f(&st)
	l.ss.SetLayer(st)
}

func (l *layerSurfaceRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.LayerSurfaceSetSize:
		w, h := msg.ReadUint(), msg.ReadUint()
		if err := l.args(msg); err != nil {
			return err
		}
		l.update(func(st *shell.LayerState) { st.Size = image.Pt(int(w), int(h)) })

	case protocol.LayerSurfaceSetAnchor:
		anchor := msg.ReadUint()
		if err := l.args(msg); err != nil {
			return err
		}
		if anchor > uint32(shell.EdgesTop|shell.EdgesBottom|shell.EdgesLeft|shell.EdgesRight) {
			return protocolError(l.id, protocol.LayerSurfaceErrorInvalidAnchor, ErrProtocol, nil, "anchor %v", anchor)
		}
		l.update(func(st *shell.LayerState) { st.Anchor = shell.Edges(anchor) })

	case protocol.LayerSurfaceSetExclusiveZone:
		zone := msg.ReadInt()
		if err := l.args(msg); err != nil {
			return err
		}
		l.update(func(st *shell.LayerState) { st.ExclusiveZone = int(zone) })

	case protocol.LayerSurfaceSetMargin:
		top, right, bottom, left := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := l.args(msg); err != nil {
			return err
		}
		l.update(func(st *shell.LayerState) {
			st.Margin = shell.Margin{Top: int(top), Right: int(right), Bottom: int(bottom), Left: int(left)}
		})

	case protocol.LayerSurfaceSetKeyboardInteractivity:
		ki := msg.ReadUint()
		if err := l.args(msg); err != nil {
			return err
		}
		if ki > keyboardOnDemand {
			return protocolError(l.id, protocol.LayerSurfaceErrorInvalidKeyboardInteractivity, ErrProtocol, nil, "keyboard interactivity %v", ki)
		}
		l.update(func(st *shell.LayerState) { st.KeyboardInteractivity = ki })

	case protocol.LayerSurfaceGetPopup:
		pid := msg.ReadObject()
		if err := l.args(msg); err != nil {
			return err
		}
		p, err := lookup[*popupRes](l.client, l.id, pid)
		if err != nil {
			return err
		}
		if ss := p.shell(); ss != nil {
			ss.SetParent(l.ss)
		}

	case protocol.LayerSurfaceAckConfigure:
		serial := msg.ReadUint()
		if err := l.args(msg); err != nil {
			return err
		}
		if err := l.ss.AckConfigure(serial); err != nil {
			return protocolError(l.id, protocol.LayerSurfaceErrorInvalidSurfaceState, ErrProtocol, err, "ack_configure")
		}

	case protocol.LayerSurfaceDestroy:
		if err := l.args(msg); err != nil {
			return err
		}
		l.client.destroy(l.id)

	case protocol.LayerSurfaceSetLayer:
		layer := msg.ReadUint()
		if err := l.args(msg); err != nil {
			return err
		}
		if layer > uint32(shell.LayerOverlay) {
			return protocolError(l.id, protocol.LayerShellErrorInvalidLayer, ErrProtocol, nil, "layer %v", layer)
		}
		l.update(func(st *shell.LayerState) { st.Layer = shell.Layer(layer) })
	}
	return nil
}

func (l *layerSurfaceRes) initialCommit() {
	l.committed = true
	l.sized = false
	l.comp().arrangeLayers(l.output)
}

func (l *layerSurfaceRes) configure(size image.Point) {
	serial := l.comp().seat.NextSerial()
	l.ss.Configure(serial, size, 0)

	mb := l.event(protocol.LayerSurfaceConfigure)
	mb.WriteUint(serial)
	mb.WriteUint(uint32(size.X))
	mb.WriteUint(uint32(size.Y))
	l.send(mb)

	l.sized = true
	l.lastSize = size
}

// close tells the client that the surface will never be shown again,
// such as because its output is gone.
func (l *layerSurfaceRes) close() {
	if l.closed {
		return
	}
	l.closed = true
	l.send(l.event(protocol.LayerSurfaceClosed))

	comp := l.comp()
	comp.scene.Unmap(l.surf.surface.ID())
	comp.forgetLayer(l)
	comp.arrangeLayers(l.output)
}

// forgetLayer removes l from its output's layer list.
func (comp *Compositor) forgetLayer(l *layerSurfaceRes) {
	list, ok := comp.layers[l.output]
	if !ok {
		return
	}
	comp.layers[l.output] = slices.DeleteFunc(list, func(x *layerSurfaceRes) bool { return x == l })
	if kb := comp.seat.KeyboardFocus(); (kb != nil) && (kb == l.surf.surface) {
		comp.refocusKeyboard()
	}
}

// arrangeLayers lays out the layer surfaces of an output and updates
// the area left over for windows.
func (comp *Compositor) arrangeLayers(id output.ID) {
	st, ok := comp.outputs[id]
	if !ok {
		return
	}

	var arranged []*layerSurfaceRes
	var surfaces []*shell.ShellSurface
	for _, l := range comp.layers[id] {
		if l.committed {
			arranged = append(arranged, l)
			surfaces = append(surfaces, l.ss)
		}
	}

	area := st.out.Layout()
	usable := shell.Arrange(area, surfaces)
	changed := comp.usable[id] != usable
	comp.usable[id] = usable

	for _, l := range arranged {
		box := l.ss.LayerBox
		if !l.sized || (box.Size() != l.lastSize) {
			l.configure(box.Size())
		}
		if !l.ss.Mapped() {
			continue
		}

		s := l.ss.Surface()
		n, ok := comp.scene.Node(s.ID())
		if !ok {
			continue
		}
		if want := sceneLayers[l.ss.Layer.Layer]; n.Layer() != want {
			comp.scene.SetLayer(s.ID(), want)
		}
		if n.Pos() != box.Min {
			comp.scene.Move(s.ID(), box.Min)
		}
	}

	if changed {
		for _, w := range comp.windows {
			if w.toplevel != nil {
				comp.placeToplevel(w.toplevel)
			}
		}
	}
}

func (comp *Compositor) mapLayer(l *layerSurfaceRes) {
	if l.closed {
		return
	}
	s := l.ss.Surface()
	n, err := comp.scene.Map(s, sceneLayers[l.ss.Layer.Layer], l.ss.LayerBox.Min)
	if err != nil {
		comp.log.WithError(err).WithField("surface", s.ID()).Warn("map layer surface")
		return
	}
	comp.bounds[s.ID()] = n.Bounds()
	comp.arrangeLayers(l.output)

	if l.ss.Layer.KeyboardInteractivity == keyboardExclusive {
		comp.seat.SetKeyboardFocus(s)
	}
}

func (comp *Compositor) unmapLayer(l *layerSurfaceRes) {
	s := l.ss.Surface()
	comp.scene.Unmap(s.ID())
	delete(comp.bounds, s.ID())
	l.committed = false
	l.sized = false
	comp.dismissChildren(s)
	comp.arrangeLayers(l.output)

	if comp.seat.KeyboardFocus() == s {
		comp.refocusKeyboard()
	}
}

func (comp *Compositor) layerDestroyed(s *surface.Surface) {
	for _, list := range comp.layers {
		for _, l := range list {
			if l.surf.surface == s {
				comp.forgetLayer(l)
				comp.arrangeLayers(l.output)
				return
			}
		}
	}
}

// exclusiveLayer returns the topmost mapped layer surface that wants
// exclusive keyboard focus. Only the top and overlay layers can take
// it.
func (comp *Compositor) exclusiveLayer() (*layerSurfaceRes, bool) {
	var best *layerSurfaceRes
	for _, id := range comp.outputOrder {
		for _, l := range comp.layers[id] {
			st := l.ss.Layer
			if !l.ss.Mapped() || (st.KeyboardInteractivity != keyboardExclusive) || (st.Layer < shell.LayerTop) {
				continue
			}
			if (best == nil) || (st.Layer > best.ss.Layer.Layer) {
				best = l
			}
		}
	}
	return best, best != nil
}
