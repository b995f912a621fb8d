// Package input defines the raw input events that backends produce.
// Key and button codes are Linux evdev codes regardless of where the
// event came from.
package input

import (
	"fmt"
	"time"

	"deedles.dev/wlcomp/pointer"
)

// DeviceID identifies an input device within a backend.
type DeviceID uint32

// Capabilities is a wl_seat.capability bitmask.
type Capabilities uint32

const (
	CapPointer Capabilities = 1 << iota
	CapKeyboard
	CapTouch
)

func (c Capabilities) String() string {
	var str []byte
	for i, name := range []string{"pointer", "keyboard", "touch"} {
		if c&(1<<i) == 0 {
			continue
		}
		if len(str) > 0 {
			str = append(str, '|')
		}
		str = append(str, name...)
	}
	if len(str) == 0 {
		return "none"
	}
	return string(str)
}

// Event is a raw input event.
type Event interface {
	Time() time.Duration
	Device() DeviceID
	event()
}

// Header is embedded in every event.
type Header struct {
	// At is a timestamp with an unspecified base. Only differences
	// between timestamps are meaningful.
	At     time.Duration
	Source DeviceID
}

func (h Header) Time() time.Duration { return h.At }
func (h Header) Device() DeviceID    { return h.Source }
func (Header) event()                {}

// Millis returns the event time in the form used by wl_pointer and
// wl_keyboard events.
func Millis(ev Event) uint32 {
	return uint32(ev.Time().Milliseconds())
}

type DeviceAdded struct {
	Header
	Name string
	Caps Capabilities
}

type DeviceRemoved struct {
	Header
}

// PointerMotion is relative motion, such as from a mouse.
type PointerMotion struct {
	Header
	DX, DY float64
}

// PointerMotionAbsolute is a position inside one output, such as from
// a hosted window. X and Y are framebuffer pixels of the output's
// current mode, before its transform and scale are applied.
type PointerMotionAbsolute struct {
	Header
	Output uint64
	X, Y   float64
}

type PointerButton struct {
	Header
	Button pointer.Button
	State  pointer.ButtonState
}

type PointerAxis struct {
	Header
	Axis     pointer.Axis
	Source   pointer.AxisSource
	Value    float64
	Discrete int32
}

// PointerFrame ends a group of pointer events that belong together.
type PointerFrame struct {
	Header
}

// KeyState is the wl_keyboard.key_state enum.
type KeyState uint32

const (
	KeyReleased KeyState = iota
	KeyPressed
)

type Key struct {
	Header
	Code  uint32
	State KeyState
}

type TouchDown struct {
	Header
	Slot   int32
	Output uint64
	X, Y   float64
}

type TouchMotion struct {
	Header
	Slot int32
	X, Y float64
}

type TouchUp struct {
	Header
	Slot int32
}

type TouchFrame struct {
	Header
}

type TouchCancel struct {
	Header
}

// Describe returns a short description of an event for logging.
func Describe(ev Event) string {
	switch ev := ev.(type) {
	case *PointerMotion:
		return fmt.Sprintf("motion %+.1f,%+.1f", ev.DX, ev.DY)
	case *PointerMotionAbsolute:
		return fmt.Sprintf("motion output %v @ %.1f,%.1f", ev.Output, ev.X, ev.Y)
	case *PointerButton:
		return fmt.Sprintf("button %v %v", ev.Button, ev.State)
	case *Key:
		return fmt.Sprintf("key %v %v", ev.Code, ev.State)
	default:
		return fmt.Sprintf("%T", ev)
	}
}
