package shell

import (
	"errors"
	"image"
)

var ErrInvalidPositioner = errors.New("incomplete positioner")

// Anchor and Gravity share the xdg_positioner numbering.
type (
	Anchor  uint32
	Gravity uint32
)

const (
	EdgeNone Anchor = iota
	EdgeTop
	EdgeBottom
	EdgeLeft
	EdgeRight
	EdgeTopLeft
	EdgeBottomLeft
	EdgeTopRight
	EdgeBottomRight
)

// ConstraintAdjustment is a bitmask of the ways a popup may be moved
// to keep it inside its constraint area.
type ConstraintAdjustment uint32

const (
	SlideX ConstraintAdjustment = 1 << iota
	SlideY
	FlipX
	FlipY
	ResizeX
	ResizeY
)

// Positioner describes how to place a popup relative to its parent.
type Positioner struct {
	Size       image.Point
	AnchorRect image.Rectangle
	Anchor     Anchor
	Gravity    Gravity
	Adjustment ConstraintAdjustment
	Offset     image.Point
	Reactive   bool
}

func (p Positioner) Validate() error {
	if (p.Size.X <= 0) || (p.Size.Y <= 0) {
		return ErrInvalidPositioner
	}
	if (p.AnchorRect.Dx() < 0) || (p.AnchorRect.Dy() < 0) {
		return ErrInvalidPositioner
	}
	return nil
}

func hside(e uint32) int {
	switch Anchor(e) {
	case EdgeLeft, EdgeTopLeft, EdgeBottomLeft:
		return -1
	case EdgeRight, EdgeTopRight, EdgeBottomRight:
		return 1
	default:
		return 0
	}
}

func vside(e uint32) int {
	switch Anchor(e) {
	case EdgeTop, EdgeTopLeft, EdgeTopRight:
		return -1
	case EdgeBottom, EdgeBottomLeft, EdgeBottomRight:
		return 1
	default:
		return 0
	}
}

func anchorPoint(r image.Rectangle, h, v int) image.Point {
	var p image.Point
	switch h {
	case -1:
		p.X = r.Min.X
	case 1:
		p.X = r.Max.X
	default:
		p.X = r.Min.X + r.Dx()/2
	}
	switch v {
	case -1:
		p.Y = r.Min.Y
	case 1:
		p.Y = r.Max.Y
	default:
		p.Y = r.Min.Y + r.Dy()/2
	}
	return p
}

func gravityOrigin(p image.Point, size image.Point, h, v int) image.Point {
	switch h {
	case -1:
		p.X -= size.X
	case 0:
		p.X -= size.X / 2
	}
	switch v {
	case -1:
		p.Y -= size.Y
	case 0:
		p.Y -= size.Y / 2
	}
	return p
}

func (p Positioner) place(ah, av, gh, gv int, offset image.Point) image.Rectangle {
	origin := gravityOrigin(anchorPoint(p.AnchorRect, ah, av), p.Size, gh, gv).Add(offset)
	return image.Rectangle{Min: origin, Max: origin.Add(p.Size)}
}

// Place computes the popup's geometry relative to its parent's window
// geometry. bounds is the area the popup should stay inside, in the
// same coordinates.
func (p Positioner) Place(bounds image.Rectangle) image.Rectangle {
	ah, av := hside(uint32(p.Anchor)), vside(uint32(p.Anchor))
	gh, gv := hside(uint32(p.Gravity)), vside(uint32(p.Gravity))

	box := p.place(ah, av, gh, gv, p.Offset)
	if bounds.Empty() || box.In(bounds) {
		return box
	}

	outX := (box.Min.X < bounds.Min.X) || (box.Max.X > bounds.Max.X)
	if outX && (p.Adjustment&FlipX != 0) {
		flipped := p.place(-ah, av, -gh, gv, image.Pt(-p.Offset.X, p.Offset.Y))
		if (flipped.Min.X >= bounds.Min.X) && (flipped.Max.X <= bounds.Max.X) {
			box.Min.X, box.Max.X = flipped.Min.X, flipped.Max.X
			outX = false
		}
	}
	outY := (box.Min.Y < bounds.Min.Y) || (box.Max.Y > bounds.Max.Y)
	if outY && (p.Adjustment&FlipY != 0) {
		flipped := p.place(ah, -av, gh, -gv, image.Pt(p.Offset.X, -p.Offset.Y))
		if (flipped.Min.Y >= bounds.Min.Y) && (flipped.Max.Y <= bounds.Max.Y) {
			box.Min.Y, box.Max.Y = flipped.Min.Y, flipped.Max.Y
			outY = false
		}
	}

	if outX && (p.Adjustment&SlideX != 0) {
		box = box.Add(image.Pt(slide(box.Min.X, box.Max.X, bounds.Min.X, bounds.Max.X), 0))
		outX = (box.Min.X < bounds.Min.X) || (box.Max.X > bounds.Max.X)
	}
	if outY && (p.Adjustment&SlideY != 0) {
		box = box.Add(image.Pt(0, slide(box.Min.Y, box.Max.Y, bounds.Min.Y, bounds.Max.Y)))
		outY = (box.Min.Y < bounds.Min.Y) || (box.Max.Y > bounds.Max.Y)
	}

	if outX && (p.Adjustment&ResizeX != 0) {
		box.Min.X = max(box.Min.X, bounds.Min.X)
		box.Max.X = min(box.Max.X, bounds.Max.X)
	}
	if outY && (p.Adjustment&ResizeY != 0) {
		box.Min.Y = max(box.Min.Y, bounds.Min.Y)
		box.Max.Y = min(box.Max.Y, bounds.Max.Y)
	}
	return box
}

// slide returns how far to move [lo, hi) to fit in [min, max),
// preferring to keep the low edge visible.
func slide(lo, hi, bmin, bmax int) int {
	switch {
	case lo < bmin:
		return bmin - lo
	case hi > bmax:
		return max(bmax-hi, bmin-lo)
	default:
		return 0
	}
}
