package compositor

import (
	"errors"
	"image"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/shell"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
	"github.com/sirupsen/logrus"
)

func rect(x, y, w, h int32) image.Rectangle {
	if (w <= 0) || (h <= 0) {
		return image.Rectangle{}
	}
	return image.Rect(int(x), int(y), int(x)+int(w), int(y)+int(h))
}

func bindCompositor(c *Client, id, version uint32) error {
	return c.register(&compositorRes{object: c.newObject(id, &protocol.Compositor, version)})
}

type compositorRes struct {
	object
}

func (r *compositorRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.CompositorCreateSurface:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		return r.comp().createSurface(r.client, id, r.version)

	case protocol.CompositorCreateRegion:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		return r.client.register(&regionRes{object: r.client.newObject(id, &protocol.Region, 1)})
	}
	return nil
}

// surfaceRes is a wl_surface.
type surfaceRes struct {
	object
	surface *surface.Surface

	// roleObject is the ID of the object that gave the surface its
	// role, for errors raised on its behalf.
	roleObject uint32
	// validate, if set, checks the pending state of a role before it
	// is committed.
	validate func() error
}

func (comp *Compositor) createSurface(c *Client, id, version uint32) error {
	r := surfaceRes{object: c.newObject(id, &protocol.Surface, version)}
	if err := c.register(&r); err != nil {
		return err
	}

	comp.nextSurface++
	s := surface.New(comp.nextSurface, c.owner(), id, comp.table, comp.config.SubsurfaceSync)
	s.OnCommit(comp.surfaceCommitted)
	s.OnDestroy(comp.surfaceDestroyed)
	r.surface = s
	comp.surfaces[s.ID()] = &r

	comp.log.WithFields(logrus.Fields{
		"conn":    c.ID(),
		"surface": s.ID(),
	}).Debug("surface created")
	comp.emit(SurfaceCreated{Client: c.ID(), Surface: s.ID()})

	if (comp.wm != nil) && (c.ID() == comp.xwaylandConn) {
		comp.wm.SurfaceCreated(s)
	}
	return nil
}

func (r *surfaceRes) Destroy() {
	r.surface.Destroy()
	r.object.Destroy()
}

func (r *surfaceRes) dispatch(msg *wire.MessageBuffer) error {
	s := r.surface

	switch msg.Op() {
	case protocol.SurfaceDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.SurfaceAttach:
		bid := msg.ReadObject()
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		if (r.version >= 5) && ((x != 0) || (y != 0)) {
			return protocolError(r.id, protocol.SurfaceErrorInvalidOffset, ErrProtocol, nil, "attach offset %v,%v", x, y)
		}
		if bid == 0 {
			s.Attach(0, int(x), int(y))
			return nil
		}
		b, err := lookup[*bufferRes](r.client, r.id, bid)
		if err != nil {
			return err
		}
		if b.buf == 0 {
			return &ResourceError{Object: bid, Err: buffer.ErrUnsupportedFormat}
		}
		s.Attach(b.buf, int(x), int(y))

	case protocol.SurfaceDamage:
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		s.Damage(rect(x, y, w, h))

	case protocol.SurfaceFrame:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		cb := callbackRes{object: r.client.newObject(id, &protocol.Callback, 1)}
		if err := r.client.register(&cb); err != nil {
			return err
		}
		r.client.objects.Link(r.id, id)
		s.Frame(surface.Callback{Owner: r.client.owner(), ID: id})

	case protocol.SurfaceSetOpaqueRegion:
		id := msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		if id == 0 {
			s.SetOpaqueRegion(region.Region{})
			return nil
		}
		reg, err := lookup[*regionRes](r.client, r.id, id)
		if err != nil {
			return err
		}
		s.SetOpaqueRegion(reg.region.Clone())

	case protocol.SurfaceSetInputRegion:
		id := msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		if id == 0 {
			s.SetInputRegion(nil)
			return nil
		}
		reg, err := lookup[*regionRes](r.client, r.id, id)
		if err != nil {
			return err
		}
		input := reg.region.Clone()
		s.SetInputRegion(&input)

	case protocol.SurfaceCommit:
		if err := r.args(msg); err != nil {
			return err
		}
		return r.commit()

	case protocol.SurfaceSetBufferTransform:
		t := msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		err := s.SetBufferTransform(region.Transform(t))
		if err != nil {
			return protocolError(r.id, protocol.SurfaceErrorInvalidTransform, ErrProtocol, err, "set_buffer_transform")
		}

	case protocol.SurfaceSetBufferScale:
		scale := msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		err := s.SetBufferScale(int(scale))
		if err != nil {
			return protocolError(r.id, protocol.SurfaceErrorInvalidScale, ErrProtocol, err, "set_buffer_scale")
		}

	case protocol.SurfaceDamageBuffer:
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		s.DamageBuffer(rect(x, y, w, h))

	case protocol.SurfaceOffset:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		s.Offset(int(x), int(y))
	}
	return nil
}

func (r *surfaceRes) commit() error {
	if r.validate != nil {
		if err := r.validate(); err != nil {
			return err
		}
	}

	err := r.surface.Commit()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, surface.ErrBufferDestroyed):
		return protocolError(r.id, protocol.DisplayErrorInvalidObject, ErrInvalidReference, err, "commit")
	case errors.Is(err, shell.ErrUnconfiguredBuffer):
		code := uint32(protocol.XdgSurfaceErrorUnconfiguredBuffer)
		if ss, ok := r.surface.Role().(*shell.ShellSurface); ok && (ss.Kind() == shell.KindLayer) {
			code = protocol.LayerSurfaceErrorInvalidSurfaceState
		}
		return protocolError(r.roleObject, code, ErrProtocol, err, "commit")
	default:
		return protocolError(r.id, protocol.DisplayErrorInvalidMethod, ErrProtocol, err, "commit")
	}
}

// surfaceCommitted turns a surface's committed damage into output
// damage.
func (comp *Compositor) surfaceCommitted(s *surface.Surface) {
	pos, ok := comp.scene.SurfacePos(s)
	if !ok {
		s.TakeDamage()
		comp.cursorCommitted(s)
		return
	}

	damage := s.TakeDamage()
	for _, r := range damage.Rects() {
		comp.damage(r.Add(pos))
	}
	if s.Size() != s.PreviousSize() {
		comp.damage(image.Rectangle{Max: s.PreviousSize()}.Add(pos))
	}

	root := s.Root()
	if n, ok := comp.scene.Node(root.ID()); ok {
		bounds := n.Bounds()
		old, ok := comp.bounds[root.ID()]
		if ok && (old != bounds) {
			comp.damage(old)
			comp.damage(bounds)
			comp.seat.Refocus()
		}
		comp.bounds[root.ID()] = bounds
	}
	comp.cursorCommitted(s)
}

func (comp *Compositor) surfaceDestroyed(s *surface.Surface) {
	if pos, ok := comp.scene.SurfacePos(s); ok && (s.Parent() != nil) {
		comp.damage(s.TreeBounds().Add(pos))
	}

	comp.seat.SurfaceDestroyed(s)
	comp.scene.Unmap(s.ID())
	for _, id := range comp.outputOrder {
		comp.outputs[id].sched.Forget(s.ID())
	}
	delete(comp.bounds, s.ID())
	delete(comp.surfaces, s.ID())

	comp.windowDestroyed(s)
	comp.layerDestroyed(s)
	comp.cursorDestroyed(s)

	comp.log.WithField("surface", s.ID()).Debug("surface destroyed")
	comp.emit(SurfaceDestroyed{Surface: s.ID()})
}

type regionRes struct {
	object
	region region.Region
}

func (r *regionRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.RegionDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.RegionAdd:
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		r.region.Add(rect(x, y, w, h))

	case protocol.RegionSubtract:
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		r.region.Subtract(rect(x, y, w, h))
	}
	return nil
}

func bindSubcompositor(c *Client, id, version uint32) error {
	return c.register(&subcompositorRes{object: c.newObject(id, &protocol.Subcompositor, version)})
}

type subcompositorRes struct {
	object
}

func (r *subcompositorRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.SubcompositorDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.SubcompositorGetSubsurface:
		id := msg.ReadUint()
		sid, pid := msg.ReadObject(), msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}

		s, err := r.client.lookupSurface(r.id, sid)
		if err != nil {
			return err
		}
		p, err := r.client.lookupSurface(r.id, pid)
		if err != nil {
			return err
		}

		res := subsurfaceRes{object: r.client.newObject(id, &protocol.Subsurface, r.version)}
		if err := r.client.register(&res); err != nil {
			return err
		}
		sub, err := surface.NewSubsurface(s.surface, p.surface)
		switch {
		case errors.Is(err, surface.ErrBadParent):
			return protocolError(r.id, protocol.SubcompositorErrorBadParent, ErrProtocol, err, "get_subsurface")
		case errors.Is(err, surface.ErrRoleConflict):
			return protocolError(r.id, protocol.SubcompositorErrorBadSurface, ErrRoleConflict, err, "get_subsurface")
		case err != nil:
			return err
		}
		res.sub = sub
		s.roleObject = id
	}
	return nil
}

type subsurfaceRes struct {
	object
	sub *surface.Subsurface
}

func (r *subsurfaceRes) Destroy() {
	if r.sub != nil {
		s := r.sub.Surface()
		if pos, ok := r.comp().scene.SurfacePos(s); ok {
			r.comp().damage(s.TreeBounds().Add(pos))
		}
		r.sub.Destroy()
	}
	r.object.Destroy()
}

func (r *subsurfaceRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.SubsurfaceDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.SubsurfaceSetPosition:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		r.sub.SetPosition(int(x), int(y))

	case protocol.SubsurfacePlaceAbove, protocol.SubsurfacePlaceBelow:
		sid := msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		sibling, err := r.client.lookupSurface(r.id, sid)
		if err != nil {
			return err
		}
		place := r.sub.PlaceAbove
		if msg.Op() == protocol.SubsurfacePlaceBelow {
			place = r.sub.PlaceBelow
		}
		if err := place(sibling.surface); err != nil {
			return protocolError(r.id, protocol.SubsurfaceErrorBadSurface, ErrProtocol, err, "%v", r.iface.RequestName(msg.Op()))
		}

	case protocol.SubsurfaceSetSync:
		if err := r.args(msg); err != nil {
			return err
		}
		r.sub.SetSync()

	case protocol.SubsurfaceSetDesync:
		if err := r.args(msg); err != nil {
			return err
		}
		r.sub.SetDesync()
	}
	return nil
}
