package client

import (
	"os"

	"deedles.dev/wlcomp/internal/bin"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

type SeatCapability uint32

const (
	SeatCapabilityPointer  SeatCapability = protocol.SeatCapabilityPointer
	SeatCapabilityKeyboard SeatCapability = protocol.SeatCapabilityKeyboard
	SeatCapabilityTouch    SeatCapability = protocol.SeatCapabilityTouch
)

type Seat struct {
	proxy

	Capabilities func(SeatCapability)
	Name         func(string)
}

func BindSeat(display *Display, name uint32) *Seat {
	var seat Seat
	seat.proxy = display.newProxy(&seat)
	display.Registry().bind(name, &protocol.Seat, seat.id)
	return &seat
}

func (seat *Seat) GetPointer() *Pointer {
	var p Pointer
	p.proxy = seat.display.newProxy(&p)
	mb := seat.request(&protocol.Seat, protocol.SeatGetPointer)
	mb.WriteUint(p.id)
	seat.display.send(mb)
	return &p
}

func (seat *Seat) GetKeyboard() *Keyboard {
	var kb Keyboard
	kb.proxy = seat.display.newProxy(&kb)
	mb := seat.request(&protocol.Seat, protocol.SeatGetKeyboard)
	mb.WriteUint(kb.id)
	seat.display.send(mb)
	return &kb
}

func (seat *Seat) iface() *protocol.Interface {
	return &protocol.Seat
}

func (seat *Seat) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.SeatCapabilities:
		caps := SeatCapability(msg.ReadUint())
		if seat.Capabilities != nil {
			seat.Capabilities(caps)
		}
	case protocol.SeatName:
		name := msg.ReadString()
		if seat.Name != nil {
			seat.Name(name)
		}
	default:
		return wire.UnknownOpError{Interface: protocol.Seat.Name, Op: msg.Op()}
	}
	return nil
}

type Pointer struct {
	proxy

	Enter  func(serial uint32, s *Surface, x, y wire.Fixed)
	Leave  func(serial uint32, s *Surface)
	Motion func(time uint32, x, y wire.Fixed)
	Button func(serial, time uint32, button PointerButton, state PointerButtonState)
	Axis   func(time uint32, axis uint32, value wire.Fixed)
	Frame  func()
}

// SetCursor sets the cursor image while the pointer is over one of
// the client's surfaces. A nil surface hides the cursor.
func (p *Pointer) SetCursor(serial uint32, s *Surface, hotspotX, hotspotY int32) {
	mb := p.request(&protocol.Pointer, protocol.PointerSetCursor)
	mb.WriteUint(serial)
	if s == nil {
		mb.WriteObject(0)
	} else {
		mb.WriteObject(s.id)
	}
	mb.WriteInt(hotspotX)
	mb.WriteInt(hotspotY)
	p.display.send(mb)
}

func (p *Pointer) Release() {
	p.display.send(p.request(&protocol.Pointer, protocol.PointerRelease))
}

func (p *Pointer) iface() *protocol.Interface {
	return &protocol.Pointer
}

func (p *Pointer) surface(id uint32) *Surface {
	s, _ := p.display.object(id).(*Surface)
	return s
}

func (p *Pointer) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.PointerEnter:
		serial, s := msg.ReadUint(), p.surface(msg.ReadObject())
		x, y := msg.ReadFixed(), msg.ReadFixed()
		if p.Enter != nil {
			p.Enter(serial, s, x, y)
		}

	case protocol.PointerLeave:
		serial, s := msg.ReadUint(), p.surface(msg.ReadObject())
		if p.Leave != nil {
			p.Leave(serial, s)
		}

	case protocol.PointerMotion:
		time, x, y := msg.ReadUint(), msg.ReadFixed(), msg.ReadFixed()
		if p.Motion != nil {
			p.Motion(time, x, y)
		}

	case protocol.PointerButton:
		serial, time := msg.ReadUint(), msg.ReadUint()
		button, state := PointerButton(msg.ReadUint()), PointerButtonState(msg.ReadUint())
		if p.Button != nil {
			p.Button(serial, time, button, state)
		}

	case protocol.PointerAxis:
		time, axis, value := msg.ReadUint(), msg.ReadUint(), msg.ReadFixed()
		if p.Axis != nil {
			p.Axis(time, axis, value)
		}

	case protocol.PointerFrame:
		if p.Frame != nil {
			p.Frame()
		}

	case protocol.PointerAxisSource:
		msg.ReadUint()
	case protocol.PointerAxisStop:
		msg.ReadUint()
		msg.ReadUint()
	case protocol.PointerAxisDiscrete:
		msg.ReadUint()
		msg.ReadInt()

	default:
		return wire.UnknownOpError{Interface: protocol.Pointer.Name, Op: msg.Op()}
	}
	return nil
}

type PointerButton uint32

const (
	PointerButtonLeft PointerButton = 0x110 + iota
	PointerButtonRight
	PointerButtonMiddle
	PointerButtonSide
	PointerButtonExtra
	PointerButtonForward
	PointerButtonBack
	PointerButtonTask
)

func (b PointerButton) String() string {
	switch b {
	case PointerButtonLeft:
		return "left"
	case PointerButtonRight:
		return "right"
	case PointerButtonMiddle:
		return "middle"
	case PointerButtonSide:
		return "side"
	case PointerButtonExtra:
		return "extra"
	case PointerButtonForward:
		return "forward"
	case PointerButtonBack:
		return "back"
	case PointerButtonTask:
		return "task"
	}

	return "unknown"
}

type PointerButtonState uint32

const (
	PointerButtonStateReleased PointerButtonState = iota
	PointerButtonStatePressed
)

type Keyboard struct {
	proxy

	// Keymap receives the keymap file, which belongs to the callback.
	Keymap     func(format uint32, file *os.File, size uint32)
	Enter      func(serial uint32, s *Surface, keys []uint32)
	Leave      func(serial uint32, s *Surface)
	Key        func(serial, time, key, state uint32)
	Modifiers  func(serial, depressed, latched, locked, group uint32)
	RepeatInfo func(rate, delay int32)
}

func (kb *Keyboard) Release() {
	kb.display.send(kb.request(&protocol.Keyboard, protocol.KeyboardRelease))
}

func (kb *Keyboard) iface() *protocol.Interface {
	return &protocol.Keyboard
}

func (kb *Keyboard) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.KeyboardKeymap:
		format, file, size := msg.ReadUint(), msg.ReadFile(), msg.ReadUint()
		if kb.Keymap == nil {
			if file != nil {
				file.Close()
			}
			return nil
		}
		kb.Keymap(format, file, size)

	case protocol.KeyboardEnter:
		serial := msg.ReadUint()
		s, _ := kb.display.object(msg.ReadObject()).(*Surface)
		raw := msg.ReadArray()
		if kb.Enter != nil {
			keys := make([]uint32, 0, len(raw)/4)
			for i := 0; i+4 <= len(raw); i += 4 {
				keys = append(keys, bin.Value[uint32]([4]byte(raw[i:i+4])))
			}
			kb.Enter(serial, s, keys)
		}

	case protocol.KeyboardLeave:
		serial := msg.ReadUint()
		s, _ := kb.display.object(msg.ReadObject()).(*Surface)
		if kb.Leave != nil {
			kb.Leave(serial, s)
		}

	case protocol.KeyboardKey:
		serial, time, key, state := msg.ReadUint(), msg.ReadUint(), msg.ReadUint(), msg.ReadUint()
		if kb.Key != nil {
			kb.Key(serial, time, key, state)
		}

	case protocol.KeyboardModifiers:
		serial := msg.ReadUint()
		dep, lat, lock, group := msg.ReadUint(), msg.ReadUint(), msg.ReadUint(), msg.ReadUint()
		if kb.Modifiers != nil {
			kb.Modifiers(serial, dep, lat, lock, group)
		}

	case protocol.KeyboardRepeatInfo:
		rate, delay := msg.ReadInt(), msg.ReadInt()
		if kb.RepeatInfo != nil {
			kb.RepeatInfo(rate, delay)
		}

	default:
		return wire.UnknownOpError{Interface: protocol.Keyboard.Name, Op: msg.Op()}
	}
	return nil
}
