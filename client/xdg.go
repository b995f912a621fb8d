package client

import (
	"image"

	"deedles.dev/wlcomp/internal/bin"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

// WmBase is xdg_wm_base. Pings are answered automatically.
type WmBase struct {
	proxy
}

func BindWmBase(display *Display, name uint32) *WmBase {
	var wm WmBase
	wm.proxy = display.newProxy(&wm)
	display.Registry().bind(name, &protocol.WmBase, wm.id)
	return &wm
}

func (wm *WmBase) GetXdgSurface(s *Surface) *XdgSurface {
	xs := XdgSurface{surface: s}
	xs.proxy = wm.display.newProxy(&xs)
	mb := wm.request(&protocol.WmBase, protocol.WmBaseGetXdgSurface)
	mb.WriteUint(xs.id)
	mb.WriteObject(s.id)
	wm.display.send(mb)
	return &xs
}

func (wm *WmBase) Destroy() {
	wm.display.send(wm.request(&protocol.WmBase, protocol.WmBaseDestroy))
}

func (wm *WmBase) iface() *protocol.Interface {
	return &protocol.WmBase
}

func (wm *WmBase) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() != protocol.WmBasePing {
		return wire.UnknownOpError{Interface: protocol.WmBase.Name, Op: msg.Op()}
	}
	mb := wm.request(&protocol.WmBase, protocol.WmBasePong)
	mb.WriteUint(msg.ReadUint())
	wm.display.send(mb)
	return nil
}

type XdgSurface struct {
	proxy

	// Configure is called at the end of every configure sequence. If it
	// is nil, configures are acknowledged immediately.
	Configure func(serial uint32)

	surface *Surface
}

func (xs *XdgSurface) Surface() *Surface {
	return xs.surface
}

func (xs *XdgSurface) GetToplevel() *Toplevel {
	var t Toplevel
	t.proxy = xs.display.newProxy(&t)
	mb := xs.request(&protocol.XdgSurface, protocol.XdgSurfaceGetToplevel)
	mb.WriteUint(t.id)
	xs.display.send(mb)
	return &t
}

func (xs *XdgSurface) SetWindowGeometry(r image.Rectangle) {
	mb := xs.request(&protocol.XdgSurface, protocol.XdgSurfaceSetWindowGeometry)
	mb.WriteInt(int32(r.Min.X))
	mb.WriteInt(int32(r.Min.Y))
	mb.WriteInt(int32(r.Dx()))
	mb.WriteInt(int32(r.Dy()))
	xs.display.send(mb)
}

func (xs *XdgSurface) AckConfigure(serial uint32) {
	mb := xs.request(&protocol.XdgSurface, protocol.XdgSurfaceAckConfigure)
	mb.WriteUint(serial)
	xs.display.send(mb)
}

func (xs *XdgSurface) Destroy() {
	xs.display.send(xs.request(&protocol.XdgSurface, protocol.XdgSurfaceDestroy))
}

func (xs *XdgSurface) iface() *protocol.Interface {
	return &protocol.XdgSurface
}

func (xs *XdgSurface) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() != protocol.XdgSurfaceConfigure {
		return wire.UnknownOpError{Interface: protocol.XdgSurface.Name, Op: msg.Op()}
	}
	serial := msg.ReadUint()
	if xs.Configure == nil {
		xs.AckConfigure(serial)
		return nil
	}
	xs.Configure(serial)
	return nil
}

type ToplevelState uint32

const (
	ToplevelStateMaximized  ToplevelState = protocol.ToplevelStateMaximized
	ToplevelStateFullscreen ToplevelState = protocol.ToplevelStateFullscreen
	ToplevelStateResizing   ToplevelState = protocol.ToplevelStateResizing
	ToplevelStateActivated  ToplevelState = protocol.ToplevelStateActivated
)

type Toplevel struct {
	proxy

	// Configure is called with the size the compositor suggests. A
	// zero size leaves it up to the client.
	Configure func(width, height int32, states []ToplevelState)
	Close     func()
}

func (t *Toplevel) SetTitle(title string) {
	mb := t.request(&protocol.Toplevel, protocol.ToplevelSetTitle)
	mb.WriteString(title)
	t.display.send(mb)
}

func (t *Toplevel) SetAppID(id string) {
	mb := t.request(&protocol.Toplevel, protocol.ToplevelSetAppID)
	mb.WriteString(id)
	t.display.send(mb)
}

func (t *Toplevel) Destroy() {
	t.display.send(t.request(&protocol.Toplevel, protocol.ToplevelDestroy))
}

func (t *Toplevel) iface() *protocol.Interface {
	return &protocol.Toplevel
}

func (t *Toplevel) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.ToplevelConfigure:
		w, h := msg.ReadInt(), msg.ReadInt()
		raw := msg.ReadArray()
		if t.Configure != nil {
			states := make([]ToplevelState, 0, len(raw)/4)
			for i := 0; i+4 <= len(raw); i += 4 {
				states = append(states, bin.Value[ToplevelState]([4]byte(raw[i:i+4])))
			}
			t.Configure(w, h, states)
		}

	case protocol.ToplevelClose:
		if t.Close != nil {
			t.Close()
		}

	case protocol.ToplevelConfigureBounds:
		msg.ReadInt()
		msg.ReadInt()

	case protocol.ToplevelWmCapabilities:
		msg.ReadArray()

	default:
		return wire.UnknownOpError{Interface: protocol.Toplevel.Name, Op: msg.Op()}
	}
	return nil
}
