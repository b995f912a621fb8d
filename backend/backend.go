// Package backend defines how the compositor talks to the thing that
// actually shows pixels and produces input: real hardware, a window on
// another display server, or nothing at all.
//
// A backend's own goroutines never touch compositor state. Everything
// they learn is handed to the Sink, which posts it to the compositor's
// event loop. Import, Present and PollInput are called from that loop.
package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"time"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/output"
)

var (
	// ErrDeviceLost is reported when the backend's display device goes
	// away entirely.
	ErrDeviceLost = errors.New("display device lost")

	// ErrUnsupportedFormat is returned by Import for buffers the backend
	// cannot display.
	ErrUnsupportedFormat = buffer.ErrUnsupportedFormat

	ErrNotStarted    = errors.New("backend not started")
	ErrUnknownOutput = errors.New("unknown output")
)

// Backend is a source of outputs and input events.
type Backend interface {
	Name() string

	// Start brings the backend up. Outputs that exist at start are
	// announced through sink as OutputAdded events. sink may be called
	// from any goroutine until Close returns.
	Start(ctx context.Context, sink Sink) error

	// Outputs returns the outputs currently known to the backend.
	Outputs() []*output.Output

	// Import prepares a buffer for display.
	Import(b *buffer.Buffer) (image.Image, error)

	// Present shows a frame on its output. It returns nil if the frame
	// is already visible, output.ErrPending if a Presented or
	// PresentFailed event will follow, output.ErrRetry if the device
	// was busy, or any other error if the output is unusable.
	Present(f *output.Frame) error

	// PollInput drains the input events queued since the last call.
	// The returned sequence is finite.
	PollInput() iter.Seq[input.Event]

	Close() error
}

// MainThreadRunner is implemented by backends that must run a loop on
// the process's main thread. Run blocks until ctx is canceled or the
// backend stops on its own.
type MainThreadRunner interface {
	RunMain(ctx context.Context) error
}

// VTSwitcher is implemented by backends that run on a virtual
// terminal and can switch to another one.
type VTSwitcher interface {
	SwitchVT(vt int) error
}

// Sink receives backend events. It must be safe for concurrent use.
type Sink func(Event)

// Event is something a backend tells the compositor.
type Event interface {
	backendEvent()
}

type OutputAdded struct {
	Output *output.Output
}

type OutputRemoved struct {
	Output output.ID
}

// OutputModeChanged is sent when the backend changes an output's mode
// list, such as when a hosted window is resized.
type OutputModeChanged struct {
	Output  output.ID
	Modes   []output.Mode
	Current int
}

// Vsync is the pacing pulse for an output.
type Vsync struct {
	Output output.ID
	At     time.Time
}

// Presented confirms that the frame with sequence number Seq is
// visible.
type Presented struct {
	Output output.ID
	Seq    uint64
	At     time.Time
}

type PresentFailed struct {
	Output output.ID
	Seq    uint64
	Err    error
}

// InputReady means PollInput has something to return.
type InputReady struct{}

// DeviceLost means an output, or the whole backend if Output is zero,
// can no longer be used.
type DeviceLost struct {
	Output output.ID
	Err    error
}

func (OutputAdded) backendEvent()       {}
func (OutputRemoved) backendEvent()     {}
func (OutputModeChanged) backendEvent() {}
func (Vsync) backendEvent()             {}
func (Presented) backendEvent()         {}
func (PresentFailed) backendEvent()     {}
func (InputReady) backendEvent()        {}
func (DeviceLost) backendEvent()        {}

func (ev DeviceLost) Error() string {
	if ev.Output == 0 {
		return fmt.Sprintf("backend lost: %v", ev.Err)
	}
	return fmt.Sprintf("output %v lost: %v", ev.Output, ev.Err)
}

func (ev DeviceLost) Unwrap() error {
	return ev.Err
}
