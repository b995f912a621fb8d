// Package output models display outputs and schedules their frames.
package output

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlcomp/region"
)

var ErrInvalidMode = errors.New("invalid mode")

// ID is a compositor-wide output identifier. It is never reused.
type ID uint64

// Mode is a resolution and refresh rate.
type Mode struct {
	Size image.Point
	// Refresh is in millihertz.
	Refresh   int
	Preferred bool
}

func (m Mode) String() string {
	return fmt.Sprintf("%vx%v@%.3f", m.Size.X, m.Size.Y, float64(m.Refresh)/1000)
}

// Output is one display sink.
type Output struct {
	ID           ID
	Name         string
	Make         string
	Model        string
	PhysicalSize image.Point

	modes      []Mode
	current    int
	transform  region.Transform
	scale      int
	pos        image.Point
	generation uint64
}

// New returns an output using its preferred mode, or the first one if
// none is preferred.
func New(id ID, name string, modes []Mode) (*Output, error) {
	if len(modes) == 0 {
		return nil, fmt.Errorf("output %v has no modes: %w", name, ErrInvalidMode)
	}
	current := max(slices.IndexFunc(modes, func(m Mode) bool { return m.Preferred }), 0)
	return &Output{
		ID:      id,
		Name:    name,
		modes:   slices.Clone(modes),
		current: current,
		scale:   1,
	}, nil
}

func (o *Output) Modes() []Mode {
	return slices.Clone(o.modes)
}

// Mode returns the single active mode.
func (o *Output) Mode() Mode {
	return o.modes[o.current]
}

// SetMode switches to one of the output's modes.
func (o *Output) SetMode(m Mode) error {
	i := slices.IndexFunc(o.modes, func(c Mode) bool { return (c.Size == m.Size) && (c.Refresh == m.Refresh) })
	if i < 0 {
		return fmt.Errorf("set mode %v: %w", m, ErrInvalidMode)
	}
	if i != o.current {
		o.current = i
		o.generation++
	}
	return nil
}

// ReplaceModes changes the available modes, such as when a hosted
// window is resized, and activates the one at index current.
func (o *Output) ReplaceModes(modes []Mode, current int) error {
	if (current < 0) || (current >= len(modes)) {
		return fmt.Errorf("mode %v of %v: %w", current, len(modes), ErrInvalidMode)
	}
	o.modes = slices.Clone(modes)
	o.current = current
	o.generation++
	return nil
}

func (o *Output) Transform() region.Transform {
	return o.transform
}

func (o *Output) SetTransform(t region.Transform) {
	if t != o.transform {
		o.transform = t
		o.generation++
	}
}

func (o *Output) Scale() int {
	return o.scale
}

func (o *Output) SetScale(scale int) {
	scale = max(scale, 1)
	if scale != o.scale {
		o.scale = scale
		o.generation++
	}
}

// Pos returns the output's position in the global layout.
func (o *Output) Pos() image.Point {
	return o.pos
}

func (o *Output) SetPos(p image.Point) {
	if p != o.pos {
		o.pos = p
		o.generation++
	}
}

// Generation changes whenever the output's geometry does.
func (o *Output) Generation() uint64 {
	return o.generation
}

// LogicalSize is the size of the output in layout coordinates after
// the transform and scale are applied.
func (o *Output) LogicalSize() image.Point {
	mode := o.Mode()
	w, h := o.transform.Size(mode.Size.X, mode.Size.Y)
	return image.Pt(w/o.scale, h/o.scale)
}

// Layout returns the area of the global layout covered by the output.
func (o *Output) Layout() image.Rectangle {
	return image.Rectangle{Min: o.pos, Max: o.pos.Add(o.LogicalSize())}
}

// FromFramebuffer maps a point in framebuffer pixels of the current
// mode to the global layout.
func (o *Output) FromFramebuffer(x, y float64) (float64, float64) {
	mode := o.Mode()
	x, y = region.Apply(o.transform.Matrix(float64(mode.Size.X), float64(mode.Size.Y)), x, y)
	return x/float64(o.scale) + float64(o.pos.X), y/float64(o.scale) + float64(o.pos.Y)
}

func (o *Output) String() string {
	return fmt.Sprintf("%v (%v)", o.Name, o.Mode())
}
