// Package render is the software compositor shared by every backend.
// It only ever reads client buffers.
package render

import (
	"image"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/shm/shmimage"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Renderer composes frames into framebuffers.
type Renderer struct {
	Background shmimage.ARGB8888Color
	log        logrus.FieldLogger
}

// DefaultBackground is opaque black.
const DefaultBackground shmimage.ARGB8888Color = 0xFF000000

// New returns a renderer that fills uncovered areas with background. A
// zero background means DefaultBackground.
func New(background shmimage.ARGB8888Color, log logrus.FieldLogger) *Renderer {
	if background == 0 {
		background = DefaultBackground
	}
	return &Renderer{Background: background, log: log}
}

// Render redraws the damaged parts of fb for f and returns the damaged
// area of fb in framebuffer pixels. fb covers the output's current mode.
func (r *Renderer) Render(fb *shmimage.ARGB8888, f *output.Frame) region.Region {
	o := f.Output
	scale := o.Scale()
	tw, th := o.Transform().Size(fb.Rect.Dx(), fb.Rect.Dy())
	toFB := o.Transform().Invert().Matrix(float64(tw), float64(th))

	var damaged region.Region
	for _, d := range f.Damage.Rects() {
		target := o.Transform().Invert().Rect(region.ScaleRect(d, scale, 1), tw, th).Canon().Intersect(fb.Rect)
		if target.Empty() {
			continue
		}
		damaged.Add(target)

		fb.Fill(target, r.Background)
		for _, e := range f.Elements {
			if !e.Bounds().Overlaps(d) {
				continue
			}
			r.drawElement(fb, target, e, scale, o.Transform(), toFB)
		}
	}
	return damaged
}

func (r *Renderer) drawElement(fb *shmimage.ARGB8888, clip image.Rectangle, e output.Element, scale int, transform region.Transform, toFB f64.Aff3) {
	src, err := Import(e.Buffer)
	if err != nil {
		r.log.WithError(err).WithField("surface", e.Surface).Warn("skipping element")
		return
	}

	if (transform == region.Normal) && (e.Transform == region.Normal) && (e.Scale == scale) {
		dst := e.Bounds()
		dst = image.Rectangle{Min: dst.Min.Mul(scale), Max: dst.Min.Mul(scale).Add(src.Bounds().Size())}
		dst = dst.Intersect(clip)
		if dst.Empty() {
			return
		}
		sp := dst.Min.Sub(e.Pos.Mul(scale))
		shmimage.Over(fb, dst, src, sp)
		return
	}

	bw, bh := float64(e.Buffer.Width), float64(e.Buffer.Height)
	m := e.Transform.Invert().Matrix(bw, bh)
	m = region.Mul(region.Scale(1/float64(e.Scale), 1/float64(e.Scale)), m)
	m = region.Mul(region.Translate(float64(e.Pos.X), float64(e.Pos.Y)), m)
	m = region.Mul(region.Scale(float64(scale), float64(scale)), m)
	m = region.Mul(toFB, m)

	sub := fb.SubImage(clip)
	draw.NearestNeighbor.Transform(sub, m, src, src.Bounds(), draw.Over, nil)
}
