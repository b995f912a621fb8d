package surface

import (
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlcomp/internal/xslices"
)

// Subsurface is the role of a surface positioned relative to a parent
// surface. Its position and stacking order take effect when the parent
// commits.
type Subsurface struct {
	surface    *Surface
	parent     *Surface
	pos        image.Point
	pendingPos image.Point
	posSet     bool
	sync       bool
}

// NewSubsurface gives s the sub-surface role under parent. Sub-surfaces
// start out synchronized and placed on top of their siblings.
func NewSubsurface(s, parent *Surface) (*Subsurface, error) {
	if s == parent {
		return nil, fmt.Errorf("surface cannot be its own parent: %w", ErrBadParent)
	}
	for p := parent; p != nil; p = p.Parent() {
		if p == s {
			return nil, fmt.Errorf("parent is a descendant: %w", ErrBadParent)
		}
	}

	sub := Subsurface{
		surface: s,
		parent:  parent,
		sync:    true,
	}
	err := s.SetRole(&sub)
	if err != nil {
		return nil, err
	}
	s.sub = &sub
	parent.pendingOrder = append(parent.pendingOrder, s)
	return &sub, nil
}

func (sub *Subsurface) RoleName() string {
	return "wl_subsurface"
}

func (sub *Subsurface) Committed(*Surface) {}

func (sub *Subsurface) Surface() *Surface {
	return sub.surface
}

// SetPosition sets the pending position relative to the parent.
func (sub *Subsurface) SetPosition(x, y int) {
	sub.pendingPos = image.Pt(x, y)
	sub.posSet = true
}

// PlaceAbove moves the sub-surface directly above sibling, which may
// also be the parent itself.
func (sub *Subsurface) PlaceAbove(sibling *Surface) error {
	return sub.place(sibling, 1)
}

// PlaceBelow moves the sub-surface directly below sibling.
func (sub *Subsurface) PlaceBelow(sibling *Surface) error {
	return sub.place(sibling, 0)
}

func (sub *Subsurface) place(sibling *Surface, delta int) error {
	if sub.parent == nil {
		return fmt.Errorf("sub-surface has no parent: %w", ErrBadParent)
	}
	if (sibling == sub.surface) || ((sibling != sub.parent) && (sibling.Parent() != sub.parent)) {
		return ErrNotSibling
	}

	order := xslices.Remove(sub.parent.pendingOrder, sub.surface)
	i := slices.Index(order, sibling)
	if i < 0 {
		return ErrNotSibling
	}
	sub.parent.pendingOrder = xslices.Insert(order, i+delta, sub.surface)
	return nil
}

// SetSync makes the sub-surface synchronized.
func (sub *Subsurface) SetSync() {
	sub.sync = true
}

// SetDesync makes the sub-surface desynchronized. Cached state is
// applied immediately if nothing above it is still synchronized.
func (sub *Subsurface) SetDesync() {
	sub.sync = false
	s := sub.surface
	if s.hasCached && !s.Synchronized() {
		s.applyCached()
	}
}

// Destroy removes the sub-surface from its parent immediately. The
// surface keeps existing without a parent and is no longer drawn.
func (sub *Subsurface) Destroy() {
	sub.unlink()
	if sub.surface.role == sub {
		sub.surface.ClearRole()
	}
}

func (sub *Subsurface) unlink() {
	if sub.parent == nil {
		return
	}
	p := sub.parent
	p.order = xslices.Remove(p.order, sub.surface)
	p.pendingOrder = xslices.Remove(p.pendingOrder, sub.surface)
	sub.parent = nil
	sub.surface.sub = nil
}
