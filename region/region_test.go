package region_test

import (
	"image"
	"testing"

	"deedles.dev/wlcomp/region"
	"github.com/stretchr/testify/assert"
)

func TestAddIsUnionNotBounds(t *testing.T) {
	var r region.Region
	r.Add(image.Rect(0, 0, 10, 10))
	r.Add(image.Rect(100, 100, 110, 110))

	assert.Equal(t, 200, r.Area())
	assert.Equal(t, image.Rect(0, 0, 110, 110), r.Bounds())
	assert.False(t, r.Contains(image.Pt(50, 50)))
	assert.True(t, r.Contains(image.Pt(105, 105)))
}

func TestAddOverlapping(t *testing.T) {
	var r region.Region
	r.Add(image.Rect(0, 0, 10, 10))
	r.Add(image.Rect(5, 5, 15, 15))
	r.Add(image.Rect(0, 0, 10, 10))

	assert.Equal(t, 175, r.Area())
	rects := r.Rects()
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			assert.False(t, rects[i].Overlaps(rects[j]), "%v overlaps %v", rects[i], rects[j])
		}
	}
}

func TestSubtract(t *testing.T) {
	r := region.New(image.Rect(0, 0, 10, 10))
	r.Subtract(image.Rect(2, 2, 8, 8))

	assert.Equal(t, 64, r.Area())
	assert.False(t, r.Contains(image.Pt(5, 5)))
	assert.True(t, r.Contains(image.Pt(1, 5)))

	r.Subtract(image.Rect(-5, -5, 20, 20))
	assert.True(t, r.Empty())
}

func TestIntersect(t *testing.T) {
	r := region.New(image.Rect(0, 0, 10, 10), image.Rect(20, 0, 30, 10))
	r.Intersect(image.Rect(5, 0, 25, 5))
	assert.Equal(t, 50, r.Area())

	other := region.New(image.Rect(0, 0, 7, 100))
	r.IntersectRegion(other)
	assert.Equal(t, 10, r.Area())
}

func TestEqual(t *testing.T) {
	a := region.New(image.Rect(0, 0, 10, 5), image.Rect(0, 5, 10, 10))
	b := region.New(image.Rect(0, 0, 5, 10), image.Rect(5, 0, 10, 10))
	c := region.New(image.Rect(0, 0, 10, 9))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestTranslate(t *testing.T) {
	r := region.New(image.Rect(0, 0, 4, 4))
	r.Translate(image.Pt(10, 20))
	assert.Equal(t, image.Rect(10, 20, 14, 24), r.Bounds())
}

func TestTransformRect(t *testing.T) {
	tests := []struct {
		name string
		t    region.Transform
		want image.Rectangle
	}{
		{"Normal", region.Normal, image.Rect(0, 0, 2, 1)},
		{"90", region.Rotate90, image.Rect(3, 0, 4, 2)},
		{"180", region.Rotate180, image.Rect(8, 3, 10, 4)},
		{"270", region.Rotate270, image.Rect(0, 8, 1, 10)},
		{"Flipped", region.Flipped, image.Rect(8, 0, 10, 1)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := test.t.Rect(image.Rect(0, 0, 2, 1), 10, 4)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestTransformInvertRoundTrip(t *testing.T) {
	r := image.Rect(1, 2, 4, 3)
	for tr := region.Normal; tr <= region.Flipped270; tr++ {
		w, h := tr.Size(10, 6)
		back := tr.Invert().Rect(tr.Rect(r, 10, 6), w, h)
		assert.Equal(t, r, back, "transform %v", tr)
	}
}

func TestScaleRect(t *testing.T) {
	assert.Equal(t, image.Rect(0, 0, 5, 5), region.ScaleRect(image.Rect(0, 0, 10, 10), 1, 2))
	assert.Equal(t, image.Rect(0, 0, 2, 2), region.ScaleRect(image.Rect(1, 1, 3, 3), 1, 2))
	assert.Equal(t, image.Rect(2, 2, 6, 6), region.ScaleRect(image.Rect(1, 1, 3, 3), 2, 1))
}

func TestQueriesOnReturnedValue(t *testing.T) {
	assert.True(t, region.New().Empty())
	assert.Equal(t, 100, region.New(image.Rect(0, 0, 10, 10)).Area())
	assert.True(t, region.New(image.Rect(0, 0, 4, 4)).Equal(region.New(image.Rect(0, 0, 4, 2), image.Rect(0, 2, 4, 4))))
	assert.True(t, region.New(image.Rect(0, 0, 4, 4)).Clone().Contains(image.Pt(1, 1)))
}
