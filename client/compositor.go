package client

import (
	"image"

	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

type Compositor struct {
	proxy
	version uint32
}

func BindCompositor(display *Display, name uint32) *Compositor {
	var c Compositor
	c.proxy = display.newProxy(&c)
	c.version = display.Registry().bind(name, &protocol.Compositor, c.id)
	return &c
}

func (c *Compositor) CreateSurface() *Surface {
	var s Surface
	s.proxy = c.display.newProxy(&s)
	mb := c.request(&protocol.Compositor, protocol.CompositorCreateSurface)
	mb.WriteUint(s.id)
	c.display.send(mb)
	return &s
}

func (c *Compositor) CreateRegion() *Region {
	var r Region
	r.proxy = c.display.newProxy(&r)
	mb := c.request(&protocol.Compositor, protocol.CompositorCreateRegion)
	mb.WriteUint(r.id)
	c.display.send(mb)
	return &r
}

func (c *Compositor) iface() *protocol.Interface {
	return &protocol.Compositor
}

func (c *Compositor) dispatch(msg *wire.MessageBuffer) error {
	return wire.UnknownOpError{Interface: protocol.Compositor.Name, Op: msg.Op()}
}

type Region struct {
	proxy
}

func (r *Region) Add(rect image.Rectangle) {
	r.rect(protocol.RegionAdd, rect)
}

func (r *Region) Subtract(rect image.Rectangle) {
	r.rect(protocol.RegionSubtract, rect)
}

func (r *Region) rect(op uint16, rect image.Rectangle) {
	mb := r.request(&protocol.Region, op)
	mb.WriteInt(int32(rect.Min.X))
	mb.WriteInt(int32(rect.Min.Y))
	mb.WriteInt(int32(rect.Dx()))
	mb.WriteInt(int32(rect.Dy()))
	r.display.send(mb)
}

func (r *Region) Destroy() {
	r.display.send(r.request(&protocol.Region, protocol.RegionDestroy))
}

func (r *Region) iface() *protocol.Interface {
	return &protocol.Region
}

func (r *Region) dispatch(msg *wire.MessageBuffer) error {
	return wire.UnknownOpError{Interface: protocol.Region.Name, Op: msg.Op()}
}
