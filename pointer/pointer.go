// Package pointer contains utilities for handling pointer input.
package pointer

import "slices"

// Button indicates a mouse button.
type Button uint32

// These values were pulled from linux/input-event-codes.h.
const (
	ButtonLeft Button = 0x110 + iota
	ButtonRight
	ButtonMiddle
	ButtonSide
	ButtonExtra
	ButtonForward
	ButtonBack
	ButtonTask
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	case ButtonSide:
		return "side"
	case ButtonExtra:
		return "extra"
	case ButtonForward:
		return "forward"
	case ButtonBack:
		return "back"
	case ButtonTask:
		return "task"
	}

	return "unknown"
}

// ButtonState is the wl_pointer.button_state enum.
type ButtonState uint32

const (
	Released ButtonState = iota
	Pressed
)

func (s ButtonState) String() string {
	if s == Pressed {
		return "pressed"
	}
	return "released"
}

// Axis is the wl_pointer.axis enum.
type Axis uint32

const (
	AxisVertical Axis = iota
	AxisHorizontal
)

// AxisSource is the wl_pointer.axis_source enum.
type AxisSource uint32

const (
	SourceWheel AxisSource = iota
	SourceFinger
	SourceContinuous
	SourceWheelTilt
)

// Buttons tracks which buttons are held down. The zero value has no
// buttons pressed.
type Buttons struct {
	held []Button
}

// Press records a press and reports whether the button was previously
// up.
func (b *Buttons) Press(button Button) bool {
	if slices.Contains(b.held, button) {
		return false
	}
	b.held = append(b.held, button)
	return true
}

// Release records a release and reports whether the button had been
// down.
func (b *Buttons) Release(button Button) bool {
	i := slices.Index(b.held, button)
	if i < 0 {
		return false
	}
	b.held = slices.Delete(b.held, i, i+1)
	return true
}

func (b *Buttons) Held(button Button) bool {
	return slices.Contains(b.held, button)
}

// Count returns the number of buttons currently held.
func (b *Buttons) Count() int {
	return len(b.held)
}

func (b *Buttons) Reset() {
	b.held = b.held[:0]
}
