package output_test

import (
	"image"
	"testing"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := output.New(1, "none", nil)
	assert.ErrorIs(t, err, output.ErrInvalidMode)

	o, err := output.New(1, "two", []output.Mode{
		{Size: image.Pt(640, 480), Refresh: 60000},
		{Size: image.Pt(1920, 1080), Refresh: 60000, Preferred: true},
	})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1920, 1080), o.Mode().Size)
	assert.Equal(t, 1, o.Scale())
}

func TestGeometryGeneration(t *testing.T) {
	o, err := output.New(1, "o", []output.Mode{
		{Size: image.Pt(640, 480), Refresh: 60000},
		{Size: image.Pt(800, 600), Refresh: 60000},
	})
	require.NoError(t, err)

	gen := o.Generation()
	o.SetPos(image.Point{})
	o.SetScale(1)
	require.NoError(t, o.SetMode(o.Mode()))
	assert.Equal(t, gen, o.Generation(), "no-op changes")

	require.NoError(t, o.SetMode(output.Mode{Size: image.Pt(800, 600), Refresh: 60000}))
	assert.Equal(t, gen+1, o.Generation())

	assert.ErrorIs(t, o.SetMode(output.Mode{Size: image.Pt(1, 1)}), output.ErrInvalidMode)

	o.SetTransform(region.Rotate90)
	o.SetScale(2)
	o.SetPos(image.Pt(10, 0))
	assert.Equal(t, gen+4, o.Generation())
	assert.Equal(t, image.Pt(300, 400), o.LogicalSize())
	assert.Equal(t, image.Rect(10, 0, 310, 400), o.Layout())

	require.NoError(t, o.ReplaceModes([]output.Mode{{Size: image.Pt(100, 100)}}, 0))
	assert.Equal(t, gen+5, o.Generation())
	assert.Error(t, o.ReplaceModes(nil, 0))
}

func TestFromFramebuffer(t *testing.T) {
	o, err := output.New(1, "o", []output.Mode{{Size: image.Pt(100, 50)}})
	require.NoError(t, err)
	o.SetPos(image.Pt(200, 0))

	x, y := o.FromFramebuffer(10, 5)
	assert.Equal(t, 210.0, x)
	assert.Equal(t, 5.0, y)

	o.SetTransform(region.Rotate90)
	x, y = o.FromFramebuffer(10, 5)
	assert.Equal(t, 245.0, x)
	assert.Equal(t, 10.0, y)

	o.SetTransform(region.Normal)
	o.SetScale(2)
	x, y = o.FromFramebuffer(10, 5)
	assert.Equal(t, 205.0, x)
	assert.Equal(t, 2.5, y)
}
