// Package region implements sets of pixels represented as unions of
// non-overlapping rectangles.
package region

import (
	"image"
	"slices"
)

// Region is a set of pixels. The zero value is empty and ready to
// use. Rectangles stored in a Region never overlap, so its area is
// exact rather than a bounding-box estimate.
type Region struct {
	rects []image.Rectangle
}

// New returns a region covering the given rectangles.
func New(rects ...image.Rectangle) Region {
	var r Region
	for _, rect := range rects {
		r.Add(rect)
	}
	return r
}

// Rects returns the rectangles making up the region. The returned
// slice must not be modified.
func (r Region) Rects() []image.Rectangle {
	return r.rects
}

func (r Region) Empty() bool {
	return len(r.rects) == 0
}

func (r Region) Clone() Region {
	return Region{rects: slices.Clone(r.rects)}
}

func (r *Region) Clear() {
	r.rects = r.rects[:0]
}

// Add adds rect to the region.
func (r *Region) Add(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}

	pieces := []image.Rectangle{rect}
	for _, existing := range r.rects {
		pieces = subtractAll(pieces, existing)
		if len(pieces) == 0 {
			return
		}
	}
	r.rects = append(r.rects, pieces...)
}

// Union adds every rectangle of other to the region.
func (r *Region) Union(other Region) {
	for _, rect := range other.rects {
		r.Add(rect)
	}
}

// Subtract removes rect from the region.
func (r *Region) Subtract(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}
	r.rects = subtractAll(r.rects, rect)
}

// SubtractRegion removes every rectangle of other from the region.
func (r *Region) SubtractRegion(other Region) {
	for _, rect := range other.rects {
		r.Subtract(rect)
	}
}

// Intersect clips the region to rect.
func (r *Region) Intersect(rect image.Rectangle) {
	out := r.rects[:0]
	for _, existing := range r.rects {
		in := existing.Intersect(rect)
		if !in.Empty() {
			out = append(out, in)
		}
	}
	clear(r.rects[len(out):])
	r.rects = out
}

// IntersectRegion clips the region to other.
func (r *Region) IntersectRegion(other Region) {
	var out []image.Rectangle
	for _, a := range r.rects {
		for _, b := range other.rects {
			in := a.Intersect(b)
			if !in.Empty() {
				out = append(out, in)
			}
		}
	}
	r.rects = out
}

// Translate moves the region by p.
func (r *Region) Translate(p image.Point) {
	for i := range r.rects {
		r.rects[i] = r.rects[i].Add(p)
	}
}

// Contains reports whether p is inside the region.
func (r Region) Contains(p image.Point) bool {
	for _, rect := range r.rects {
		if p.In(rect) {
			return true
		}
	}
	return false
}

// Overlaps reports whether any part of rect is inside the region.
func (r Region) Overlaps(rect image.Rectangle) bool {
	for _, existing := range r.rects {
		if existing.Overlaps(rect) {
			return true
		}
	}
	return false
}

// Area returns the number of pixels in the region.
func (r Region) Area() int {
	var area int
	for _, rect := range r.rects {
		area += rect.Dx() * rect.Dy()
	}
	return area
}

// Bounds returns the smallest rectangle containing the region.
func (r Region) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, rect := range r.rects {
		b = b.Union(rect)
	}
	return b
}

// Equal reports whether r and other cover the same set of pixels,
// regardless of how either is split into rectangles.
func (r Region) Equal(other Region) bool {
	if r.Area() != other.Area() {
		return false
	}
	diff := r.Clone()
	diff.SubtractRegion(other)
	return diff.Empty()
}

func subtractAll(rects []image.Rectangle, sub image.Rectangle) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(rects))
	for _, rect := range rects {
		out = appendSubtract(out, rect, sub)
	}
	return out
}

// appendSubtract appends the parts of a not covered by b, as up to
// four non-overlapping bands.
func appendSubtract(dst []image.Rectangle, a, b image.Rectangle) []image.Rectangle {
	in := a.Intersect(b)
	if in.Empty() {
		return append(dst, a)
	}

	if a.Min.Y < in.Min.Y {
		dst = append(dst, image.Rect(a.Min.X, a.Min.Y, a.Max.X, in.Min.Y))
	}
	if in.Max.Y < a.Max.Y {
		dst = append(dst, image.Rect(a.Min.X, in.Max.Y, a.Max.X, a.Max.Y))
	}
	if a.Min.X < in.Min.X {
		dst = append(dst, image.Rect(a.Min.X, in.Min.Y, in.Min.X, in.Max.Y))
	}
	if in.Max.X < a.Max.X {
		dst = append(dst, image.Rect(in.Max.X, in.Min.Y, a.Max.X, in.Max.Y))
	}
	return dst
}
