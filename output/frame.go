package output

import (
	"image"
	"time"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/surface"
)

// Element is one surface's contribution to a frame.
type Element struct {
	Surface surface.ID
	// Buffer is referenced by the frame until it is finished, so it
	// stays readable even if the surface moves on or is destroyed.
	Buffer *buffer.Buffer
	// Pos is relative to the output, in logical coordinates.
	Pos       image.Point
	Size      image.Point
	Scale     int
	Transform region.Transform
	Opaque    region.Region
}

// Bounds returns the element's area in output-local logical
// coordinates.
func (e Element) Bounds() image.Rectangle {
	return image.Rectangle{Min: e.Pos, Max: e.Pos.Add(e.Size)}
}

// Callbacks are the frame callbacks a surface is waiting on.
type Callbacks struct {
	Surface   *surface.Surface
	Callbacks []surface.Callback
}

// Frame is one output's pending composited frame.
type Frame struct {
	Output *Output
	Seq    uint64
	// Damage is in output-local logical coordinates.
	Damage    region.Region
	Elements  []Element
	Callbacks []Callbacks
	Built     time.Time
}

// CallbackCount returns the number of frame callbacks the frame will
// complete.
func (f *Frame) CallbackCount() (n int) {
	for _, c := range f.Callbacks {
		n += len(c.Callbacks)
	}
	return n
}
