package client

import (
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

type Output struct {
	proxy

	Geometry    func(x, y, physicalWidth, physicalHeight, subpixel int32, make, model string, transform int32)
	Mode        func(flags uint32, width, height, refresh int32)
	Done        func()
	Scale       func(factor int32)
	Name        func(string)
	Description func(string)

	version uint32
}

func BindOutput(display *Display, name uint32) *Output {
	var out Output
	out.proxy = display.newProxy(&out)
	out.version = display.Registry().bind(name, &protocol.Output, out.id)
	return &out
}

// Release destroys the output object. It does nothing if the bound
// version has no release request.
func (out *Output) Release() {
	if out.version < 3 {
		return
	}
	out.display.send(out.request(&protocol.Output, protocol.OutputRelease))
}

func (out *Output) iface() *protocol.Interface {
	return &protocol.Output
}

func (out *Output) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.OutputGeometry:
		x, y := msg.ReadInt(), msg.ReadInt()
		pw, ph := msg.ReadInt(), msg.ReadInt()
		subpixel := msg.ReadInt()
		make, model := msg.ReadString(), msg.ReadString()
		transform := msg.ReadInt()
		if out.Geometry != nil {
			out.Geometry(x, y, pw, ph, subpixel, make, model, transform)
		}

	case protocol.OutputMode:
		flags := msg.ReadUint()
		w, h, refresh := msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if out.Mode != nil {
			out.Mode(flags, w, h, refresh)
		}

	case protocol.OutputDone:
		if out.Done != nil {
			out.Done()
		}

	case protocol.OutputScale:
		factor := msg.ReadInt()
		if out.Scale != nil {
			out.Scale(factor)
		}

	case protocol.OutputName:
		name := msg.ReadString()
		if out.Name != nil {
			out.Name(name)
		}

	case protocol.OutputDescription:
		desc := msg.ReadString()
		if out.Description != nil {
			out.Description(desc)
		}

	default:
		return wire.UnknownOpError{Interface: protocol.Output.Name, Op: msg.Op()}
	}
	return nil
}
