package shmimage

import "image/color"

// ARGB8888Color is a premultiplied 32-bit color with alpha in the
// most significant byte, as used by wl_shm's argb8888 format.
type ARGB8888Color uint32

func NewARGB8888Color(r, g, b, a uint8) ARGB8888Color {
	return ARGB8888Color((uint32(a) << 24) | (uint32(r) << 16) | (uint32(g) << 8) | uint32(b))
}

func (c ARGB8888Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.r()) * 0x101
	g = uint32(c.g()) * 0x101
	b = uint32(c.b()) * 0x101
	a = uint32(c.a()) * 0x101
	return
}

func (c ARGB8888Color) r() uint8 {
	return uint8((c & 0x00FF0000) >> 16)
}

func (c ARGB8888Color) g() uint8 {
	return uint8((c & 0x0000FF00) >> 8)
}

func (c ARGB8888Color) b() uint8 {
	return uint8(c & 0x000000FF)
}

func (c ARGB8888Color) a() uint8 {
	return uint8((c & 0xFF000000) >> 24)
}

// XRGB8888Color is like ARGB8888Color, but its top byte is ignored
// and it is always opaque.
type XRGB8888Color uint32

func (c XRGB8888Color) RGBA() (r, g, b, a uint32) {
	r, g, b, _ = ARGB8888Color(c).RGBA()
	return r, g, b, 0xFFFF
}

var (
	ARGB8888Model color.Model = color.ModelFunc(argb8888Model)
	XRGB8888Model color.Model = color.ModelFunc(xrgb8888Model)
)

func argb8888Model(c color.Color) color.Color {
	switch c := c.(type) {
	case ARGB8888Color:
		return c
	case XRGB8888Color:
		return ARGB8888Color(c | 0xFF000000)
	default:
		r, g, b, a := c.RGBA()
		return NewARGB8888Color(uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8))
	}
}

func xrgb8888Model(c color.Color) color.Color {
	switch c := c.(type) {
	case XRGB8888Color:
		return c
	default:
		r, g, b, _ := c.RGBA()
		return XRGB8888Color(NewARGB8888Color(uint8(r>>8), uint8(g>>8), uint8(b>>8), 0xFF))
	}
}
