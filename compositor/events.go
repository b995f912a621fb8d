package compositor

import (
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/surface"
)

// Event is a lifecycle event reported to Config.Observer. Observers
// are called on the event loop and must not block.
type Event interface {
	compositorEvent()
}

type ClientConnected struct {
	Client uint64
}

type ClientDisconnected struct {
	Client uint64
	// Err is the protocol violation or I/O error that ended the
	// connection, or nil if the client simply went away.
	Err error
}

type SurfaceCreated struct {
	Client  uint64
	Surface surface.ID
}

type SurfaceDestroyed struct {
	Surface surface.ID
}

type OutputAdded struct {
	Output output.ID
	Name   string
}

// OutputFault is reported when an output stops presenting after too
// many failures. Its surfaces have already been told they left it.
type OutputFault struct {
	Output output.ID
	Err    error
}

// OutputLost is reported when an output is removed, either because it
// was unplugged or because its device failed.
type OutputLost struct {
	Output output.ID
	Err    error
}

func (ClientConnected) compositorEvent()    {}
func (ClientDisconnected) compositorEvent() {}
func (SurfaceCreated) compositorEvent()     {}
func (SurfaceDestroyed) compositorEvent()   {}
func (OutputAdded) compositorEvent()        {}
func (OutputFault) compositorEvent()        {}
func (OutputLost) compositorEvent()         {}

func (comp *Compositor) emit(ev Event) {
	if comp.config.Observer != nil {
		comp.config.Observer(ev)
	}
}
