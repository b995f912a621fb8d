package compositor

import (
	"errors"
	"image"
	"slices"

	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/pointer"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

const seatCapabilities = protocol.SeatCapabilityPointer | protocol.SeatCapabilityKeyboard | protocol.SeatCapabilityTouch

func bindSeat(c *Client, id, version uint32) error {
	r := seatRes{object: c.newObject(id, &protocol.Seat, version)}
	if err := c.register(&r); err != nil {
		return err
	}

	mb := r.event(protocol.SeatCapabilities)
	mb.WriteUint(seatCapabilities)
	r.send(mb)

	if version >= 2 {
		mb := r.event(protocol.SeatName)
		mb.WriteString(c.comp.seat.Name())
		r.send(mb)
	}
	return nil
}

type seatRes struct {
	object
}

func (r *seatRes) dispatch(msg *wire.MessageBuffer) error {
	c := r.client

	switch msg.Op() {
	case protocol.SeatGetPointer:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		p := pointerRes{object: c.newObject(id, &protocol.Pointer, r.version)}
		if err := c.register(&p); err != nil {
			return err
		}
		c.pointers = append(c.pointers, &p)

	case protocol.SeatGetKeyboard:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		k := keyboardRes{object: c.newObject(id, &protocol.Keyboard, r.version)}
		if err := c.register(&k); err != nil {
			return err
		}
		c.keyboards = append(c.keyboards, &k)
		k.init()

	case protocol.SeatGetTouch:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		t := touchRes{object: c.newObject(id, &protocol.Touch, r.version)}
		if err := c.register(&t); err != nil {
			return err
		}
		c.touches = append(c.touches, &t)

	case protocol.SeatRelease:
		if err := r.args(msg); err != nil {
			return err
		}
		c.destroy(r.id)
	}
	return nil
}

type pointerRes struct {
	object
}

func (r *pointerRes) Destroy() {
	r.client.pointers = slices.DeleteFunc(r.client.pointers, func(p *pointerRes) bool { return p == r })
	r.object.Destroy()
}

func (r *pointerRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.PointerSetCursor:
		serial := msg.ReadUint()
		sid := msg.ReadObject()
		hx, hy := msg.ReadInt(), msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		return r.setCursor(serial, sid, image.Pt(int(hx), int(hy)))

	case protocol.PointerRelease:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)
	}
	return nil
}

func (r *pointerRes) setCursor(serial, sid uint32, hotspot image.Point) error {
	c := r.client
	if serial != c.enterSerial {
		// Stale requests are ignored.
		return nil
	}

	if sid == 0 {
		c.setCursor(nil, hotspot)
		return nil
	}

	s, err := c.lookupSurface(r.id, sid)
	if err != nil {
		return err
	}
	err = s.surface.SetRole(&cursorRole{})
	if (err != nil) && !errors.Is(err, surface.ErrRoleConflict) {
		return err
	}
	if (err != nil) && (s.surface.RoleName() != cursorRoleName) {
		return protocolError(r.id, protocol.PointerErrorRole, ErrRoleConflict, err, "set_cursor")
	}
	c.setCursor(s.surface, hotspot)
	return nil
}

type keyboardRes struct {
	object
}

func (r *keyboardRes) Destroy() {
	r.client.keyboards = slices.DeleteFunc(r.client.keyboards, func(k *keyboardRes) bool { return k == r })
	r.object.Destroy()
}

func (r *keyboardRes) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() == protocol.KeyboardRelease {
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)
	}
	return nil
}

// init sends the keymap and, if the client already has keyboard
// focus, the current focus state.
func (r *keyboardRes) init() {
	comp := r.comp()
	km := comp.seat.Keymap()

	mb := r.event(protocol.KeyboardKeymap)
	mb.WriteUint(seat.KeymapFormat)
	mb.WriteFile(km.File)
	mb.WriteUint(km.Size)
	r.send(mb)

	if r.version >= 4 {
		mb := r.event(protocol.KeyboardRepeatInfo)
		mb.WriteInt(comp.config.RepeatRate)
		mb.WriteInt(comp.config.RepeatDelay)
		r.send(mb)
	}

	focus := comp.seat.KeyboardFocus()
	if focus == nil {
		return
	}
	sr, ok := comp.resourceOf(focus)
	if !ok || (sr.client != r.client) {
		return
	}
	r.enter(sr, comp.seat.NextSerial(), comp.seat.PressedKeys())
	r.modifiers(comp.seat.NextSerial(), comp.seat.Modifiers())
}

func (r *keyboardRes) enter(s *surfaceRes, serial uint32, keys []uint32) {
	mb := r.event(protocol.KeyboardEnter)
	mb.WriteUint(serial)
	mb.WriteObject(s.id)
	mb.WriteArray(uintArray(keys))
	r.send(mb)
}

func (r *keyboardRes) modifiers(serial uint32, mods seat.Modifiers) {
	mb := r.event(protocol.KeyboardModifiers)
	mb.WriteUint(serial)
	mb.WriteUint(mods.Depressed)
	mb.WriteUint(mods.Latched)
	mb.WriteUint(mods.Locked)
	mb.WriteUint(mods.Group)
	r.send(mb)
}

type touchRes struct {
	object
}

func (r *touchRes) Destroy() {
	r.client.touches = slices.DeleteFunc(r.client.touches, func(t *touchRes) bool { return t == r })
	r.object.Destroy()
}

func (r *touchRes) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() == protocol.TouchRelease {
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)
	}
	return nil
}

// seatListener delivers routed input to the resources of the client
// that owns the target surface.
type seatListener struct {
	comp *Compositor
}

func (l seatListener) target(s *surface.Surface) (*surfaceRes, bool) {
	return l.comp.resourceOf(s)
}

func (l seatListener) PointerEnter(s *surface.Surface, serial uint32, local seat.Point) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	sr.client.enterSerial = serial
	for _, p := range sr.client.pointers {
		mb := p.event(protocol.PointerEnter)
		mb.WriteUint(serial)
		mb.WriteObject(sr.id)
		mb.WriteFixed(wire.FixedFloat(local.X))
		mb.WriteFixed(wire.FixedFloat(local.Y))
		p.send(mb)
	}
	l.comp.updateCursor()
}

func (l seatListener) PointerLeave(s *surface.Surface, serial uint32) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, p := range sr.client.pointers {
		mb := p.event(protocol.PointerLeave)
		mb.WriteUint(serial)
		mb.WriteObject(sr.id)
		p.send(mb)
	}
	l.comp.updateCursor()
}

func (l seatListener) PointerMotion(s *surface.Surface, time uint32, local seat.Point) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, p := range sr.client.pointers {
		mb := p.event(protocol.PointerMotion)
		mb.WriteUint(time)
		mb.WriteFixed(wire.FixedFloat(local.X))
		mb.WriteFixed(wire.FixedFloat(local.Y))
		p.send(mb)
	}
}

func (l seatListener) PointerButton(s *surface.Surface, serial, time uint32, button pointer.Button, state pointer.ButtonState) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, p := range sr.client.pointers {
		mb := p.event(protocol.PointerButton)
		mb.WriteUint(serial)
		mb.WriteUint(time)
		mb.WriteUint(uint32(button))
		mb.WriteUint(uint32(state))
		p.send(mb)
	}
}

func (l seatListener) PointerAxis(s *surface.Surface, time uint32, axis pointer.Axis, source pointer.AxisSource, value float64, discrete int32) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, p := range sr.client.pointers {
		if p.version >= 5 {
			mb := p.event(protocol.PointerAxisSource)
			mb.WriteUint(uint32(source))
			p.send(mb)

			if discrete != 0 {
				mb := p.event(protocol.PointerAxisDiscrete)
				mb.WriteUint(uint32(axis))
				mb.WriteInt(discrete)
				p.send(mb)
			}
		}

		mb := p.event(protocol.PointerAxis)
		mb.WriteUint(time)
		mb.WriteUint(uint32(axis))
		mb.WriteFixed(wire.FixedFloat(value))
		p.send(mb)
	}
}

func (l seatListener) PointerFrame(s *surface.Surface) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, p := range sr.client.pointers {
		if p.version >= 5 {
			p.send(p.event(protocol.PointerFrame))
		}
	}
}

func (l seatListener) KeyboardEnter(s *surface.Surface, serial uint32, keys []uint32) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, k := range sr.client.keyboards {
		k.enter(sr, serial, keys)
	}
	sr.client.offerSelection(clipboard)
	sr.client.offerSelection(primary)
}

func (l seatListener) KeyboardLeave(s *surface.Surface, serial uint32) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, k := range sr.client.keyboards {
		mb := k.event(protocol.KeyboardLeave)
		mb.WriteUint(serial)
		mb.WriteObject(sr.id)
		k.send(mb)
	}
}

func (l seatListener) Key(s *surface.Surface, serial, time, key uint32, pressed bool) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	state := input.KeyReleased
	if pressed {
		state = input.KeyPressed
	}
	for _, k := range sr.client.keyboards {
		mb := k.event(protocol.KeyboardKey)
		mb.WriteUint(serial)
		mb.WriteUint(time)
		mb.WriteUint(key)
		mb.WriteUint(uint32(state))
		k.send(mb)
	}
}

func (l seatListener) Modifiers(s *surface.Surface, serial uint32, mods seat.Modifiers) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, k := range sr.client.keyboards {
		k.modifiers(serial, mods)
	}
}

func (l seatListener) TouchDown(s *surface.Surface, serial, time uint32, slot int32, local seat.Point) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, t := range sr.client.touches {
		mb := t.event(protocol.TouchDown)
		mb.WriteUint(serial)
		mb.WriteUint(time)
		mb.WriteObject(sr.id)
		mb.WriteInt(slot)
		mb.WriteFixed(wire.FixedFloat(local.X))
		mb.WriteFixed(wire.FixedFloat(local.Y))
		t.send(mb)
	}
}

func (l seatListener) TouchUp(s *surface.Surface, serial, time uint32, slot int32) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, t := range sr.client.touches {
		mb := t.event(protocol.TouchUp)
		mb.WriteUint(serial)
		mb.WriteUint(time)
		mb.WriteInt(slot)
		t.send(mb)
	}
}

func (l seatListener) TouchMotion(s *surface.Surface, time uint32, slot int32, local seat.Point) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, t := range sr.client.touches {
		mb := t.event(protocol.TouchMotion)
		mb.WriteUint(time)
		mb.WriteInt(slot)
		mb.WriteFixed(wire.FixedFloat(local.X))
		mb.WriteFixed(wire.FixedFloat(local.Y))
		t.send(mb)
	}
}

func (l seatListener) TouchFrame(s *surface.Surface) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, t := range sr.client.touches {
		t.send(t.event(protocol.TouchFrame))
	}
}

func (l seatListener) TouchCancel(s *surface.Surface) {
	sr, ok := l.target(s)
	if !ok {
		return
	}
	for _, t := range sr.client.touches {
		t.send(t.event(protocol.TouchCancel))
	}
}
