package shmimage

import (
	"image"
	"image/draw"

	"deedles.dev/wlcomp/internal/bin"
)

// Over composites src onto the rectangle r of dst, aligning sp in src
// with r.Min, using premultiplied source-over blending. The common
// formats take a direct path; anything else falls back to draw.Draw.
func Over(dst *ARGB8888, r image.Rectangle, src image.Image, sp image.Point) {
	// Clip r to both images the same way draw.Draw does.
	orig := r.Min
	r = r.Intersect(dst.Rect)
	r = r.Intersect(src.Bounds().Add(orig.Sub(sp)))
	if r.Empty() {
		return
	}
	sp = sp.Add(r.Min.Sub(orig))

	switch src := src.(type) {
	case *XRGB8888:
		for y := 0; y < r.Dy(); y++ {
			d := dst.PixOffset(r.Min.X, r.Min.Y+y)
			s := src.PixOffset(sp.X, sp.Y+y)
			n := r.Dx() * 4
			copy(dst.Pix[d:d+n], src.Pix[s:s+n])
		}
		fixAlpha(dst, r)
	case *ARGB8888:
		for y := 0; y < r.Dy(); y++ {
			for x := 0; x < r.Dx(); x++ {
				d := dst.PixOffset(r.Min.X+x, r.Min.Y+y)
				s := src.PixOffset(sp.X+x, sp.Y+y)
				sc := bin.Value[uint32]([4]byte(src.Pix[s : s+4]))
				sa := sc >> 24
				switch sa {
				case 0:
					continue
				case 0xFF:
					copy(dst.Pix[d:d+4], src.Pix[s:s+4])
					continue
				}
				dc := bin.Value[uint32]([4]byte(dst.Pix[d : d+4]))
				out := blend(sc, dc, sa)
				ob := bin.Bytes(out)
				copy(dst.Pix[d:d+4], ob[:])
			}
		}
	default:
		draw.Draw(dst, r, src, sp, draw.Over)
	}
}

// blend computes src + dst*(1-srcAlpha) for each premultiplied
// channel.
func blend(src, dst, sa uint32) uint32 {
	inv := 0xFF - sa
	var out uint32
	for shift := uint32(0); shift < 32; shift += 8 {
		s := (src >> shift) & 0xFF
		d := (dst >> shift) & 0xFF
		v := s + (d*inv+0x7F)/0xFF
		out |= min(v, 0xFF) << shift
	}
	return out
}

func fixAlpha(dst *ARGB8888, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := dst.Pix[dst.PixOffset(r.Min.X, y):dst.PixOffset(r.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			c := bin.Value[uint32]([4]byte(row[i : i+4]))
			b := bin.Bytes(c | 0xFF000000)
			copy(row[i:i+4], b[:])
		}
	}
}
