package region

import (
	"fmt"
	"image"

	"golang.org/x/image/math/f64"
)

// Transform is a rotation and optional flip, numbered the same way as
// wl_output.transform.
type Transform uint32

const (
	Normal Transform = iota
	Rotate90
	Rotate180
	Rotate270
	Flipped
	Flipped90
	Flipped180
	Flipped270
)

func (t Transform) Valid() bool {
	return t <= Flipped270
}

// Invert returns the transform that undoes t.
func (t Transform) Invert() Transform {
	switch t {
	case Rotate90:
		return Rotate270
	case Rotate270:
		return Rotate90
	default:
		return t
	}
}

// SwapsAxes reports whether t exchanges width and height.
func (t Transform) SwapsAxes() bool {
	return t%2 == 1
}

// Size returns the size of a w×h box after applying t.
func (t Transform) Size(w, h int) (int, int) {
	if t.SwapsAxes() {
		return h, w
	}
	return w, h
}

func (t Transform) String() string {
	switch t {
	case Normal:
		return "normal"
	case Rotate90:
		return "90"
	case Rotate180:
		return "180"
	case Rotate270:
		return "270"
	case Flipped:
		return "flipped"
	case Flipped90:
		return "flipped-90"
	case Flipped180:
		return "flipped-180"
	case Flipped270:
		return "flipped-270"
	default:
		return fmt.Sprintf("Transform(%d)", uint32(t))
	}
}

// Matrix returns the affine transformation that maps points in a w×h
// box to the box produced by t.
func (t Transform) Matrix(w, h float64) f64.Aff3 {
	switch t {
	case Rotate90:
		return f64.Aff3{0, -1, h, 1, 0, 0}
	case Rotate180:
		return f64.Aff3{-1, 0, w, 0, -1, h}
	case Rotate270:
		return f64.Aff3{0, 1, 0, -1, 0, w}
	case Flipped:
		return f64.Aff3{-1, 0, w, 0, 1, 0}
	case Flipped90:
		return f64.Aff3{0, -1, h, -1, 0, w}
	case Flipped180:
		return f64.Aff3{1, 0, 0, 0, -1, h}
	case Flipped270:
		return f64.Aff3{0, 1, 0, 1, 0, 0}
	default:
		return f64.Aff3{1, 0, 0, 0, 1, 0}
	}
}

// Rect maps r, which lies in a w×h box, through t.
func (t Transform) Rect(r image.Rectangle, w, h int) image.Rectangle {
	m := t.Matrix(float64(w), float64(h))
	x0, y0 := Apply(m, float64(r.Min.X), float64(r.Min.Y))
	x1, y1 := Apply(m, float64(r.Max.X), float64(r.Max.Y))
	return image.Rect(int(x0), int(y0), int(x1), int(y1))
}

// Region maps every rectangle of r, which lies in a w×h box, through
// t.
func (t Transform) Region(r Region, w, h int) Region {
	if t == Normal {
		return r.Clone()
	}
	var out Region
	for _, rect := range r.rects {
		out.Add(t.Rect(rect, w, h))
	}
	return out
}

// Apply applies m to the point (x, y).
func Apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Mul returns the transformation that applies b and then a.
func Mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// Scale scales the axes by sx and sy.
func Scale(sx, sy float64) f64.Aff3 {
	return f64.Aff3{sx, 0, 0, 0, sy, 0}
}

func Translate(x, y float64) f64.Aff3 {
	return f64.Aff3{1, 0, x, 0, 1, y}
}

// ScaleRect multiplies r by num/den, rounding outward so that the
// result covers every partially touched pixel.
func ScaleRect(r image.Rectangle, num, den int) image.Rectangle {
	if num == den {
		return r
	}
	floor := func(v int) int {
		n := v * num
		if n < 0 {
			return -((-n + den - 1) / den)
		}
		return n / den
	}
	ceil := func(v int) int {
		n := v * num
		if n < 0 {
			return -(-n / den)
		}
		return (n + den - 1) / den
	}
	return image.Rect(floor(r.Min.X), floor(r.Min.Y), ceil(r.Max.X), ceil(r.Max.Y))
}
