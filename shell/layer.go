package shell

import (
	"cmp"
	"image"
	"slices"
)

// Layer is a zwlr_layer_shell_v1 layer.
type Layer uint32

const (
	LayerBackground Layer = iota
	LayerBottom
	LayerTop
	LayerOverlay
)

// Edges is a bitmask of output edges a layer surface is anchored to.
type Edges uint32

const (
	EdgesTop Edges = 1 << iota
	EdgesBottom
	EdgesLeft
	EdgesRight
)

// Margin is the space kept between a layer surface and the edges it
// is anchored to.
type Margin struct {
	Top, Right, Bottom, Left int
}

// LayerState is the double-buffered state of a layer surface.
type LayerState struct {
	Layer                 Layer
	Anchor                Edges
	Size                  image.Point
	Margin                Margin
	ExclusiveZone         int
	KeyboardInteractivity uint32
	Namespace             string
}

// Arrange lays out the layer surfaces of one output, whose full area
// is area, and returns the area left for ordinary windows. Surfaces
// that claim an exclusive zone are placed first. Each surface's
// LayerBox is updated.
func Arrange(area image.Rectangle, surfaces []*ShellSurface) image.Rectangle {
	ordered := slices.Clone(surfaces)
	slices.SortStableFunc(ordered, func(a, b *ShellSurface) int {
		return cmp.Compare(exclusiveRank(a), exclusiveRank(b))
	})

	usable := area
	for _, ss := range ordered {
		st := ss.Layer
		bounds := usable
		if st.ExclusiveZone < 0 {
			bounds = area
		}
		ss.LayerBox = layerBox(bounds, st)

		if st.ExclusiveZone > 0 {
			usable = applyExclusive(usable, st)
		}
	}
	return usable
}

func exclusiveRank(ss *ShellSurface) int {
	if ss.Layer.ExclusiveZone > 0 {
		return 0
	}
	return 1
}

func layerBox(bounds image.Rectangle, st LayerState) image.Rectangle {
	both := func(a, b Edges) bool { return (st.Anchor&a != 0) && (st.Anchor&b != 0) }

	w, h := st.Size.X, st.Size.Y
	if (w == 0) && both(EdgesLeft, EdgesRight) {
		w = bounds.Dx() - st.Margin.Left - st.Margin.Right
	}
	if (h == 0) && both(EdgesTop, EdgesBottom) {
		h = bounds.Dy() - st.Margin.Top - st.Margin.Bottom
	}

	var x, y int
	switch {
	case both(EdgesLeft, EdgesRight) || (st.Anchor&(EdgesLeft|EdgesRight) == 0):
		x = bounds.Min.X + (bounds.Dx()-w)/2
	case st.Anchor&EdgesLeft != 0:
		x = bounds.Min.X + st.Margin.Left
	default:
		x = bounds.Max.X - w - st.Margin.Right
	}
	switch {
	case both(EdgesTop, EdgesBottom) || (st.Anchor&(EdgesTop|EdgesBottom) == 0):
		y = bounds.Min.Y + (bounds.Dy()-h)/2
	case st.Anchor&EdgesTop != 0:
		y = bounds.Min.Y + st.Margin.Top
	default:
		y = bounds.Max.Y - h - st.Margin.Bottom
	}

	return image.Rect(x, y, x+max(w, 0), y+max(h, 0))
}

// applyExclusive shrinks usable by an exclusive zone. A zone only
// applies to a surface anchored to a single edge, or to one edge and
// both edges perpendicular to it.
func applyExclusive(usable image.Rectangle, st LayerState) image.Rectangle {
	horiz := st.Anchor & (EdgesLeft | EdgesRight)
	vert := st.Anchor & (EdgesTop | EdgesBottom)

	switch {
	case (vert == EdgesTop) && ((horiz == 0) || (horiz == EdgesLeft|EdgesRight)):
		usable.Min.Y += st.ExclusiveZone + st.Margin.Top
	case (vert == EdgesBottom) && ((horiz == 0) || (horiz == EdgesLeft|EdgesRight)):
		usable.Max.Y -= st.ExclusiveZone + st.Margin.Bottom
	case (horiz == EdgesLeft) && ((vert == 0) || (vert == EdgesTop|EdgesBottom)):
		usable.Min.X += st.ExclusiveZone + st.Margin.Left
	case (horiz == EdgesRight) && ((vert == 0) || (vert == EdgesTop|EdgesBottom)):
		usable.Max.X -= st.ExclusiveZone + st.Margin.Right
	}
	return usable.Canon()
}
