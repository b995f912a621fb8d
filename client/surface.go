package client

import (
	"image"

	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

type Surface struct {
	proxy

	Enter func(*Output)
	Leave func(*Output)
	// PreferredScale is called with the scale that the compositor
	// would like buffers to use.
	PreferredScale func(int32)
}

// Attach sets the pending buffer. A nil buffer unmaps the surface on
// the next commit.
func (s *Surface) Attach(buf *Buffer, x, y int32) {
	mb := s.request(&protocol.Surface, protocol.SurfaceAttach)
	if buf == nil {
		mb.WriteObject(0)
	} else {
		mb.WriteObject(buf.id)
	}
	mb.WriteInt(x)
	mb.WriteInt(y)
	s.display.send(mb)
}

// Damage marks part of the surface, in surface coordinates, as
// changed.
func (s *Surface) Damage(r image.Rectangle) {
	s.rect(protocol.SurfaceDamage, r)
}

// DamageBuffer marks part of the surface, in buffer coordinates, as
// changed.
func (s *Surface) DamageBuffer(r image.Rectangle) {
	s.rect(protocol.SurfaceDamageBuffer, r)
}

func (s *Surface) rect(op uint16, r image.Rectangle) {
	mb := s.request(&protocol.Surface, op)
	mb.WriteInt(int32(r.Min.X))
	mb.WriteInt(int32(r.Min.Y))
	mb.WriteInt(int32(r.Dx()))
	mb.WriteInt(int32(r.Dy()))
	s.display.send(mb)
}

// Frame asks for a callback when it is a good time to draw the next
// frame.
func (s *Surface) Frame() *Callback {
	cb := newCallback(s.display)
	mb := s.request(&protocol.Surface, protocol.SurfaceFrame)
	mb.WriteUint(cb.id)
	s.display.send(mb)
	return cb
}

func (s *Surface) SetOpaqueRegion(r *Region) {
	s.region(protocol.SurfaceSetOpaqueRegion, r)
}

func (s *Surface) SetInputRegion(r *Region) {
	s.region(protocol.SurfaceSetInputRegion, r)
}

func (s *Surface) region(op uint16, r *Region) {
	mb := s.request(&protocol.Surface, op)
	if r == nil {
		mb.WriteObject(0)
	} else {
		mb.WriteObject(r.id)
	}
	s.display.send(mb)
}

func (s *Surface) SetBufferScale(scale int32) {
	mb := s.request(&protocol.Surface, protocol.SurfaceSetBufferScale)
	mb.WriteInt(scale)
	s.display.send(mb)
}

func (s *Surface) SetBufferTransform(transform int32) {
	mb := s.request(&protocol.Surface, protocol.SurfaceSetBufferTransform)
	mb.WriteInt(transform)
	s.display.send(mb)
}

func (s *Surface) Offset(x, y int32) {
	mb := s.request(&protocol.Surface, protocol.SurfaceOffset)
	mb.WriteInt(x)
	mb.WriteInt(y)
	s.display.send(mb)
}

func (s *Surface) Commit() {
	s.display.send(s.request(&protocol.Surface, protocol.SurfaceCommit))
}

func (s *Surface) Destroy() {
	s.display.send(s.request(&protocol.Surface, protocol.SurfaceDestroy))
}

func (s *Surface) iface() *protocol.Interface {
	return &protocol.Surface
}

func (s *Surface) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.SurfaceEnter, protocol.SurfaceLeave:
		out, _ := s.display.object(msg.ReadObject()).(*Output)
		f := s.Enter
		if msg.Op() == protocol.SurfaceLeave {
			f = s.Leave
		}
		if (f != nil) && (out != nil) {
			f(out)
		}
		return nil

	case protocol.SurfacePreferredBufferScale:
		scale := msg.ReadInt()
		if s.PreferredScale != nil {
			s.PreferredScale(scale)
		}
		return nil

	case protocol.SurfacePreferredBufferTransform:
		msg.ReadUint()
		return nil

	default:
		return wire.UnknownOpError{Interface: protocol.Surface.Name, Op: msg.Op()}
	}
}

type Subcompositor struct {
	proxy
}

func BindSubcompositor(display *Display, name uint32) *Subcompositor {
	var sc Subcompositor
	sc.proxy = display.newProxy(&sc)
	display.Registry().bind(name, &protocol.Subcompositor, sc.id)
	return &sc
}

// GetSubsurface makes s a sub-surface of parent.
func (sc *Subcompositor) GetSubsurface(s, parent *Surface) *Subsurface {
	var sub Subsurface
	sub.proxy = sc.display.newProxy(&sub)
	mb := sc.request(&protocol.Subcompositor, protocol.SubcompositorGetSubsurface)
	mb.WriteUint(sub.id)
	mb.WriteObject(s.id)
	mb.WriteObject(parent.id)
	sc.display.send(mb)
	return &sub
}

func (sc *Subcompositor) Destroy() {
	sc.display.send(sc.request(&protocol.Subcompositor, protocol.SubcompositorDestroy))
}

func (sc *Subcompositor) iface() *protocol.Interface {
	return &protocol.Subcompositor
}

func (sc *Subcompositor) dispatch(msg *wire.MessageBuffer) error {
	return wire.UnknownOpError{Interface: protocol.Subcompositor.Name, Op: msg.Op()}
}

type Subsurface struct {
	proxy
}

func (sub *Subsurface) SetPosition(x, y int32) {
	mb := sub.request(&protocol.Subsurface, protocol.SubsurfaceSetPosition)
	mb.WriteInt(x)
	mb.WriteInt(y)
	sub.display.send(mb)
}

func (sub *Subsurface) PlaceAbove(sibling *Surface) {
	mb := sub.request(&protocol.Subsurface, protocol.SubsurfacePlaceAbove)
	mb.WriteObject(sibling.id)
	sub.display.send(mb)
}

func (sub *Subsurface) PlaceBelow(sibling *Surface) {
	mb := sub.request(&protocol.Subsurface, protocol.SubsurfacePlaceBelow)
	mb.WriteObject(sibling.id)
	sub.display.send(mb)
}

func (sub *Subsurface) SetSync() {
	sub.display.send(sub.request(&protocol.Subsurface, protocol.SubsurfaceSetSync))
}

func (sub *Subsurface) SetDesync() {
	sub.display.send(sub.request(&protocol.Subsurface, protocol.SubsurfaceSetDesync))
}

func (sub *Subsurface) Destroy() {
	sub.display.send(sub.request(&protocol.Subsurface, protocol.SubsurfaceDestroy))
}

func (sub *Subsurface) iface() *protocol.Interface {
	return &protocol.Subsurface
}

func (sub *Subsurface) dispatch(msg *wire.MessageBuffer) error {
	return wire.UnknownOpError{Interface: protocol.Subsurface.Name, Op: msg.Op()}
}
