// Package shmimage provides image.Image implementations over the raw
// pixel layouts used by wl_shm buffers and scanout framebuffers.
package shmimage

import (
	"image"
	"image/color"
	"image/draw"

	"deedles.dev/wlcomp/internal/bin"
)

// ARGB8888 is an in-memory image whose At method returns
// ARGB8888Color values. Each pixel is a host byte order uint32.
type ARGB8888 struct {
	// Pix holds the image's pixels. The pixel at (x, y) starts at
	// Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*4].
	Pix []uint8
	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	Stride int
	// Rect is the image's bounds.
	Rect image.Rectangle
}

// NewARGB8888 returns a new ARGB8888 image with the given bounds.
func NewARGB8888(r image.Rectangle) *ARGB8888 {
	return &ARGB8888{
		Pix:    make([]uint8, r.Dx()*r.Dy()*4),
		Stride: 4 * r.Dx(),
		Rect:   r,
	}
}

func (p *ARGB8888) Bounds() image.Rectangle { return p.Rect }

func (p *ARGB8888) ColorModel() color.Model { return ARGB8888Model }

func (p *ARGB8888) At(x, y int) color.Color {
	return p.ARGB8888At(x, y)
}

func (p *ARGB8888) ARGB8888At(x, y int) ARGB8888Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return ARGB8888Color(0)
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+4 : i+4] // Small cap improves performance, see https://golang.org/issue/27857
	return bin.Value[ARGB8888Color](*(*[4]byte)(s))
}

// PixOffset returns the index of the first element of Pix that corresponds to
// the pixel at (x, y).
func (p *ARGB8888) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *ARGB8888) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	p.SetARGB8888(x, y, ARGB8888Model.Convert(c).(ARGB8888Color))
}

func (p *ARGB8888) SetARGB8888(x, y int, c ARGB8888Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	ca := bin.Bytes(c)
	s := p.Pix[i : i+4 : i+4]
	copy(s, ca[:])
}

// Fill sets every pixel in r to c.
func (p *ARGB8888) Fill(r image.Rectangle, c ARGB8888Color) {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return
	}
	ca := bin.Bytes(c)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := p.Pix[p.PixOffset(r.Min.X, y):p.PixOffset(r.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			copy(row[i:i+4], ca[:])
		}
	}
}

// SubImage returns an image representing the portion of the image p visible
// through r. The returned value shares pixels with the original image.
func (p *ARGB8888) SubImage(r image.Rectangle) draw.Image {
	r = r.Intersect(p.Rect)
	// If r1 and r2 are Rectangles, r1.Intersect(r2) is not guaranteed to be inside
	// either r1 or r2 if the intersection is empty. Without explicitly checking for
	// this, the Pix[i:] expression below can panic.
	if r.Empty() {
		return &ARGB8888{}
	}
	i := p.PixOffset(r.Min.X, r.Min.Y)
	return &ARGB8888{
		Pix:    p.Pix[i:],
		Stride: p.Stride,
		Rect:   r,
	}
}

// Opaque scans the image and reports whether it is fully opaque.
func (p *ARGB8888) Opaque() bool {
	if p.Rect.Empty() {
		return true
	}
	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		for x := p.Rect.Min.X; x < p.Rect.Max.X; x++ {
			if p.ARGB8888At(x, y).a() != 0xFF {
				return false
			}
		}
	}
	return true
}
