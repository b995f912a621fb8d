package client

import (
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

type Callback struct {
	proxy
	done func(uint32)
}

func newCallback(display *Display) *Callback {
	var cb Callback
	cb.proxy = display.newProxy(&cb)
	return &cb
}

// Then sets the function that is called when the callback fires.
func (cb *Callback) Then(f func(data uint32)) {
	cb.done = f
}

func (cb *Callback) iface() *protocol.Interface {
	return &protocol.Callback
}

func (cb *Callback) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() != protocol.CallbackDone {
		return wire.UnknownOpError{Interface: protocol.Callback.Name, Op: msg.Op()}
	}
	data := msg.ReadUint()
	if cb.done != nil {
		cb.done(data)
	}
	return nil
}
