package surface

import (
	"image"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/region"
)

// Callback is a frame callback that a client is waiting on.
type Callback struct {
	Owner buffer.Owner
	ID    uint32
}

// state is one set of double-buffered surface state. Fields are only
// meaningful when their corresponding flag is set.
type state struct {
	attached bool
	buffer   buffer.ID

	offsetSet bool
	offset    image.Point

	damage       region.Region
	bufferDamage region.Region

	scaleSet bool
	scale    int

	transformSet bool
	transform    region.Transform

	opaqueSet bool
	opaque    region.Region

	inputSet bool
	input    *region.Region

	callbacks []Callback
}

// merge folds newer state into s, as happens when a synchronized
// sub-surface commits more than once before its parent does.
func (s *state) merge(newer *state) {
	if newer.attached {
		s.attached = true
		s.buffer = newer.buffer
	}
	if newer.offsetSet {
		s.offsetSet = true
		s.offset = s.offset.Add(newer.offset)
	}
	s.damage.Union(newer.damage)
	s.bufferDamage.Union(newer.bufferDamage)
	if newer.scaleSet {
		s.scaleSet = true
		s.scale = newer.scale
	}
	if newer.transformSet {
		s.transformSet = true
		s.transform = newer.transform
	}
	if newer.opaqueSet {
		s.opaqueSet = true
		s.opaque = newer.opaque
	}
	if newer.inputSet {
		s.inputSet = true
		s.input = newer.input
	}
	s.callbacks = append(s.callbacks, newer.callbacks...)
}
