package shmimage_test

import (
	"image"
	"image/color"
	"testing"

	"deedles.dev/wlcomp/shm/shmimage"
	"github.com/stretchr/testify/assert"
)

func TestARGB8888SetAt(t *testing.T) {
	img := shmimage.NewARGB8888(image.Rect(0, 0, 4, 4))
	img.Set(1, 2, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xFF})

	assert.Equal(t, shmimage.NewARGB8888Color(0x10, 0x20, 0x30, 0xFF), img.ARGB8888At(1, 2))
	assert.Equal(t, shmimage.ARGB8888Color(0), img.ARGB8888At(0, 0))
	assert.Equal(t, shmimage.ARGB8888Color(0), img.ARGB8888At(10, 10))
}

func TestColorModelTransparent(t *testing.T) {
	c := shmimage.ARGB8888Model.Convert(color.Transparent)
	assert.Equal(t, shmimage.ARGB8888Color(0), c)
}

func TestFillAndSubImage(t *testing.T) {
	img := shmimage.NewARGB8888(image.Rect(0, 0, 8, 8))
	red := shmimage.NewARGB8888Color(0xFF, 0, 0, 0xFF)
	img.Fill(image.Rect(2, 2, 4, 4), red)

	sub := img.SubImage(image.Rect(2, 2, 6, 6)).(*shmimage.ARGB8888)
	assert.Equal(t, red, sub.ARGB8888At(3, 3))
	assert.Equal(t, shmimage.ARGB8888Color(0), sub.ARGB8888At(5, 5))
	assert.False(t, img.Opaque())
}

func TestOverXRGB(t *testing.T) {
	dst := shmimage.NewARGB8888(image.Rect(0, 0, 4, 4))
	src := &shmimage.XRGB8888{Pix: make([]byte, 2*2*4), Stride: 8, Rect: image.Rect(0, 0, 2, 2)}
	src.Set(0, 0, color.RGBA{G: 0xFF, A: 0xFF})

	shmimage.Over(dst, image.Rect(1, 1, 3, 3), src, image.Point{})
	assert.Equal(t, shmimage.NewARGB8888Color(0, 0xFF, 0, 0xFF), dst.ARGB8888At(1, 1))
	assert.Equal(t, shmimage.NewARGB8888Color(0, 0, 0, 0xFF), dst.ARGB8888At(2, 2))
	assert.Equal(t, shmimage.ARGB8888Color(0), dst.ARGB8888At(0, 0))
}

func TestOverBlend(t *testing.T) {
	dst := shmimage.NewARGB8888(image.Rect(0, 0, 1, 1))
	dst.Fill(dst.Rect, shmimage.NewARGB8888Color(0, 0, 0xFF, 0xFF))

	src := shmimage.NewARGB8888(image.Rect(0, 0, 1, 1))
	src.SetARGB8888(0, 0, shmimage.NewARGB8888Color(0x80, 0, 0, 0x80))

	shmimage.Over(dst, dst.Rect, src, image.Point{})
	got := dst.ARGB8888At(0, 0)
	r, _, b, a := got.RGBA()
	assert.Equal(t, uint32(0x8080), r)
	assert.Equal(t, uint32(0xFFFF), a)
	assert.InDelta(t, 0x7F7F, b, 0x101)
}
