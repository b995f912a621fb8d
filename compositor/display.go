package compositor

import (
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

// resource is a protocol object belonging to a client.
type resource interface {
	base() *object
	dispatch(msg *wire.MessageBuffer) error
}

// object is embedded in every resource.
type object struct {
	client  *Client
	id      uint32
	version uint32
	iface   *protocol.Interface
}

func (o *object) base() *object {
	return o
}

// Destroy is called by the object table when the object goes away.
// Resources with more to clean up override it and call it last.
func (o *object) Destroy() {
	o.client.deleteID(o.id)
}

// event starts an event sent by the object.
func (o *object) event(op uint16) *wire.MessageBuilder {
	mb := wire.NewMessage(o.id, op)
	mb.Interface = o.iface.Name
	mb.Method = o.iface.EventName(op)
	return mb
}

func (o *object) send(mb *wire.MessageBuilder) {
	o.client.send(mb)
}

func (o *object) comp() *Compositor {
	return o.client.comp
}

// args checks that a request's arguments were read completely and
// correctly.
func (o *object) args(msg *wire.MessageBuffer) error {
	err := msg.Done()
	if err != nil {
		return invalidMethod(o.id, err, "malformed %v.%v", o.iface.Name, o.iface.RequestName(msg.Op()))
	}
	return nil
}

type displayRes struct {
	object
}

// Destroy is a no-op. The display lives as long as the connection.
func (d *displayRes) Destroy() {}

func (d *displayRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.DisplaySync:
		id := msg.ReadUint()
		if err := d.args(msg); err != nil {
			return err
		}
		cb := callbackRes{object: d.client.newObject(id, &protocol.Callback, 1)}
		if err := d.client.register(&cb); err != nil {
			return err
		}
		d.client.callbackDone(id, d.comp().seat.NextSerial())
		return nil

	case protocol.DisplayGetRegistry:
		id := msg.ReadUint()
		if err := d.args(msg); err != nil {
			return err
		}
		r := registryRes{object: d.client.newObject(id, &protocol.Registry, 1)}
		if err := d.client.register(&r); err != nil {
			return err
		}
		d.client.registries = append(d.client.registries, &r)
		for _, name := range d.comp().globalOrder {
			r.global(d.comp().globals[name])
		}
		return nil
	}
	return nil
}

// callbackRes is a wl_callback. It has no requests, and is destroyed
// as soon as it fires.
type callbackRes struct {
	object
}

func (cb *callbackRes) dispatch(msg *wire.MessageBuffer) error {
	return nil
}
