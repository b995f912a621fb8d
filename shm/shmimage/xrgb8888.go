package shmimage

import (
	"image"
	"image/color"
	"image/draw"

	"deedles.dev/wlcomp/internal/bin"
)

// XRGB8888 has the same layout as ARGB8888, but ignores the alpha
// byte.
type XRGB8888 struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

func (p *XRGB8888) Bounds() image.Rectangle { return p.Rect }

func (p *XRGB8888) ColorModel() color.Model { return XRGB8888Model }

func (p *XRGB8888) At(x, y int) color.Color {
	return p.XRGB8888At(x, y)
}

func (p *XRGB8888) XRGB8888At(x, y int) XRGB8888Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return XRGB8888Color(0)
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+4 : i+4]
	return bin.Value[XRGB8888Color](*(*[4]byte)(s))
}

func (p *XRGB8888) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *XRGB8888) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	ca := bin.Bytes(XRGB8888Model.Convert(c).(XRGB8888Color) | 0xFF000000)
	copy(p.Pix[i:i+4:i+4], ca[:])
}

func (p *XRGB8888) SubImage(r image.Rectangle) draw.Image {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return &XRGB8888{}
	}
	i := p.PixOffset(r.Min.X, r.Min.Y)
	return &XRGB8888{
		Pix:    p.Pix[i:],
		Stride: p.Stride,
		Rect:   r,
	}
}

func (p *XRGB8888) Opaque() bool {
	return true
}
