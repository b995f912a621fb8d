package render_test

import (
	"image"
	"io"
	"testing"
	"time"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/render"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/shm/shmimage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = shmimage.NewARGB8888Color(0xFF, 0, 0, 0xFF)
	black = shmimage.NewARGB8888Color(0, 0, 0, 0xFF)
)

func solidBuffer(t *testing.T, w, h int, c shmimage.ARGB8888Color, format buffer.Format) *buffer.Buffer {
	img := shmimage.NewARGB8888(image.Rect(0, 0, w, h))
	img.Fill(img.Rect, c)

	file, err := shm.Create("render-test")
	require.NoError(t, err)
	_, err = file.Write(img.Pix)
	require.NoError(t, err)
	pool, err := shm.NewPool(file, len(img.Pix))
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)

	b, err := buffer.NewSHM(1, 0, pool, 0, w, h, w*4, format)
	require.NoError(t, err)
	return b
}

func newRenderer() *render.Renderer {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return render.New(black, log)
}

func newOutput(t *testing.T, w, h int) *output.Output {
	o, err := output.New(1, "TEST-1", []output.Mode{{Size: image.Pt(w, h), Refresh: 60000}})
	require.NoError(t, err)
	return o
}

func TestRenderDamageOnly(t *testing.T) {
	o := newOutput(t, 100, 100)
	fb := shmimage.NewARGB8888(image.Rect(0, 0, 100, 100))
	b := solidBuffer(t, 10, 10, red, buffer.FormatXRGB8888)

	f := output.Frame{
		Output: o,
		Damage: region.New(image.Rect(0, 0, 20, 20)),
		Elements: []output.Element{{
			Surface: 1, Buffer: b, Pos: image.Pt(5, 5), Size: image.Pt(10, 10), Scale: 1,
		}},
		Built: time.Now(),
	}
	damaged := newRenderer().Render(fb, &f)

	assert.True(t, damaged.Equal(region.New(image.Rect(0, 0, 20, 20))))
	assert.Equal(t, red, fb.ARGB8888At(6, 6))
	assert.Equal(t, red, fb.ARGB8888At(14, 14))
	assert.Equal(t, black, fb.ARGB8888At(1, 1))
	assert.Equal(t, black, fb.ARGB8888At(15, 15))
	assert.Equal(t, shmimage.ARGB8888Color(0), fb.ARGB8888At(50, 50))
}

func TestRenderTransformedOutput(t *testing.T) {
	o := newOutput(t, 100, 50)
	o.SetTransform(region.Rotate90)
	require.Equal(t, image.Pt(50, 100), o.LogicalSize())

	fb := shmimage.NewARGB8888(image.Rect(0, 0, 100, 50))
	b := solidBuffer(t, 10, 10, red, buffer.FormatARGB8888)

	f := output.Frame{
		Output: o,
		Damage: region.New(image.Rect(0, 0, 50, 100)),
		Elements: []output.Element{{
			Surface: 1, Buffer: b, Size: image.Pt(10, 10), Scale: 1,
		}},
	}
	damaged := newRenderer().Render(fb, &f)

	assert.True(t, damaged.Equal(region.New(fb.Rect)))
	assert.Equal(t, red, fb.ARGB8888At(5, 45))
	assert.Equal(t, black, fb.ARGB8888At(45, 5))
}

func TestRenderScaledOutput(t *testing.T) {
	o := newOutput(t, 100, 100)
	o.SetScale(2)

	fb := shmimage.NewARGB8888(image.Rect(0, 0, 100, 100))
	b := solidBuffer(t, 10, 10, red, buffer.FormatXRGB8888)

	f := output.Frame{
		Output: o,
		Damage: region.New(image.Rect(0, 0, 50, 50)),
		Elements: []output.Element{{
			Surface: 1, Buffer: b, Pos: image.Pt(10, 10), Size: image.Pt(10, 10), Scale: 1,
		}},
	}
	newRenderer().Render(fb, &f)

	assert.Equal(t, red, fb.ARGB8888At(21, 21))
	assert.Equal(t, red, fb.ARGB8888At(38, 38))
	assert.Equal(t, black, fb.ARGB8888At(42, 42))
}

func TestImportRejectsTiledDMABuf(t *testing.T) {
	file, err := shm.Create("dmabuf")
	require.NoError(t, err)

	b, err := buffer.NewDMABuf(1, 0, 4, 4, buffer.FormatARGB8888, 0x0100000000000001, []buffer.Plane{{File: file, Stride: 16}})
	require.NoError(t, err)
	_, err = render.Import(b)
	assert.ErrorIs(t, err, buffer.ErrUnsupportedFormat)
}
