package seat

import (
	"slices"

	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/surface"
)

// Modifier masks of the standard xkb modifier indices.
const (
	ModShift uint32 = 1 << 0
	ModLock  uint32 = 1 << 1
	ModCtrl  uint32 = 1 << 2
	ModAlt   uint32 = 1 << 3
	ModNum   uint32 = 1 << 4
	ModLogo  uint32 = 1 << 6
)

// Modifiers is the seat-wide modifier and group state.
type Modifiers struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Group     uint32
}

// Effective returns every active modifier.
func (m Modifiers) Effective() uint32 {
	return m.Depressed | m.Latched | m.Locked
}

// KeyEvent is passed to a keyboard GrabHandler.
type KeyEvent struct {
	Time    uint32
	Key     uint32
	Pressed bool
}

type binding struct {
	mods uint32
	key  uint32
	f    func()
}

type keyboard struct {
	keymap     *Keymap
	focus      *surface.Surface
	pressed    []uint32
	mods       Modifiers
	held       map[uint32]int
	bindings   []binding
	suppressed []uint32
}

var modifierKeys = map[uint32]uint32{
	input.KeyLeftShift:  ModShift,
	input.KeyRightShift: ModShift,
	input.KeyLeftCtrl:   ModCtrl,
	input.KeyRightCtrl:  ModCtrl,
	input.KeyLeftAlt:    ModAlt,
	input.KeyRightAlt:   ModAlt,
	input.KeyLeftMeta:   ModLogo,
	input.KeyRightMeta:  ModLogo,
}

var lockKeys = map[uint32]uint32{
	input.KeyCapsLock: ModLock,
	input.KeyNumLock:  ModNum,
}

// update applies a key to the modifier state and reports whether it
// changed.
func (kb *keyboard) update(key uint32, pressed bool) bool {
	old := kb.mods
	if kb.held == nil {
		kb.held = make(map[uint32]int)
	}

	if mask, ok := modifierKeys[key]; ok {
		if pressed {
			kb.held[mask]++
		} else if kb.held[mask] > 0 {
			kb.held[mask]--
		}
		if kb.held[mask] > 0 {
			kb.mods.Depressed |= mask
		} else {
			kb.mods.Depressed &^= mask
		}
	}
	if mask, ok := lockKeys[key]; ok && pressed {
		kb.mods.Locked ^= mask
	}

	return kb.mods != old
}

// Keymap returns the seat's compiled keymap.
func (st *Seat) Keymap() *Keymap {
	return st.keyboard.keymap
}

// Modifiers returns the current modifier state.
func (st *Seat) Modifiers() Modifiers {
	return st.keyboard.mods
}

// KeyboardFocus returns the surface with keyboard focus, if any.
func (st *Seat) KeyboardFocus() *surface.Surface {
	return st.keyboard.focus
}

// PressedKeys returns the keys currently held down.
func (st *Seat) PressedKeys() []uint32 {
	return slices.Clone(st.keyboard.pressed)
}

// Bind runs f instead of delivering key when it is pressed with
// exactly mods held. The release of a bound key is swallowed too.
func (st *Seat) Bind(mods, key uint32, f func()) {
	st.keyboard.bindings = append(st.keyboard.bindings, binding{mods: mods, key: key, f: f})
}

// SetKeyboardFocus gives s keyboard focus. s may be nil to clear it.
// The new focus receives the held keys and current modifiers.
func (st *Seat) SetKeyboardFocus(s *surface.Surface) {
	kb := &st.keyboard
	if s == kb.focus {
		return
	}
	if g := st.grabs[ClassKeyboard]; (g != nil) && (g.Surface != nil) && (g.Surface != s) {
		return
	}

	if old := kb.focus; (old != nil) && !old.Destroyed() {
		st.listener.KeyboardLeave(old, st.NextSerial())
	}
	kb.focus = s
	if s == nil {
		return
	}
	st.listener.KeyboardEnter(s, st.NextSerial(), slices.Clone(kb.pressed))
	st.listener.Modifiers(s, st.NextSerial(), kb.mods)
}

// Key delivers a key event to the focused surface, or to the keyboard
// grab.
func (st *Seat) Key(time, key uint32, pressed bool) {
	kb := &st.keyboard
	if pressed {
		if slices.Contains(kb.pressed, key) {
			return
		}
		kb.pressed = append(kb.pressed, key)
	} else {
		i := slices.Index(kb.pressed, key)
		if i < 0 {
			return
		}
		kb.pressed = slices.Delete(kb.pressed, i, i+1)
	}
	changed := kb.update(key, pressed)

	if st.filterKey(key, pressed) {
		return
	}

	target := kb.focus
	if g := st.grabs[ClassKeyboard]; g != nil {
		if g.Handler != nil {
			g.Handler.Event(st, KeyEvent{Time: time, Key: key, Pressed: pressed}, st.pos)
			return
		}
		target = g.Surface
	}
	if target == nil {
		return
	}
	st.listener.Key(target, st.NextSerial(), time, key, pressed)
	if changed {
		st.listener.Modifiers(target, st.NextSerial(), kb.mods)
	}
}

// filterKey runs key bindings. It reports whether the key was
// consumed.
func (st *Seat) filterKey(key uint32, pressed bool) bool {
	kb := &st.keyboard
	if !pressed {
		i := slices.Index(kb.suppressed, key)
		if i < 0 {
			return false
		}
		kb.suppressed = slices.Delete(kb.suppressed, i, i+1)
		return true
	}

	for _, b := range kb.bindings {
		if (b.key == key) && (kb.mods.Depressed == b.mods) {
			kb.suppressed = append(kb.suppressed, key)
			st.log.WithField("key", key).Debug("key binding")
			b.f()
			return true
		}
	}
	return false
}
