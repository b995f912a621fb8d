// Package scene keeps the ordered stack of mapped surfaces. The same
// ordering is read by the render scheduler to compose outputs and by
// the seat to hit-test pointer input, so the two can never disagree.
package scene

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"deedles.dev/wlcomp/surface"
)

var (
	ErrNotMapped     = errors.New("surface is not mapped")
	ErrAlreadyMapped = errors.New("surface is already mapped")
	ErrLayerMismatch = errors.New("surfaces are in different layers")
)

// Layer is a band of the stack. Every surface in a higher layer is
// above every surface in a lower one.
type Layer int

const (
	LayerBackground Layer = iota
	LayerBottom
	LayerNormal
	LayerTop
	LayerOverlay
	// LayerCursor holds cursor images. It is composed like any other
	// layer but never hit-tested.
	LayerCursor
	numLayers
)

func (l Layer) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerBottom:
		return "bottom"
	case LayerNormal:
		return "normal"
	case LayerTop:
		return "top"
	case LayerOverlay:
		return "overlay"
	case LayerCursor:
		return "cursor"
	default:
		return fmt.Sprintf("Layer(%d)", int(l))
	}
}

// Node is a root surface placed in the scene. Its sub-surfaces follow
// it.
type Node struct {
	Surface *surface.Surface
	layer   Layer
	pos     image.Point

	// Data is free for use by whoever mapped the node.
	Data any
}

func (n *Node) Layer() Layer {
	return n.layer
}

// Pos returns the global position of the node's root surface.
func (n *Node) Pos() image.Point {
	return n.pos
}

// Bounds returns the global bounds of the node's whole surface tree.
func (n *Node) Bounds() image.Rectangle {
	return n.Surface.TreeBounds().Add(n.pos)
}

// Element is one surface of the flattened stack.
type Element struct {
	Node    *Node
	Surface *surface.Surface
	Pos     image.Point
}

// Bounds returns the element's global bounds.
func (e Element) Bounds() image.Rectangle {
	return e.Surface.Bounds().Add(e.Pos)
}

// Scene is the stack of mapped surfaces, bottom to top within each
// layer.
type Scene struct {
	layers   [numLayers][]*Node
	nodes    map[surface.ID]*Node
	onDamage []func(image.Rectangle)
	onChange []func(Layer)
}

func New() *Scene {
	return &Scene{nodes: make(map[surface.ID]*Node)}
}

// OnDamage registers f to be called with global rectangles that need
// to be redrawn because the stack changed.
func (s *Scene) OnDamage(f func(image.Rectangle)) {
	s.onDamage = append(s.onDamage, f)
}

// OnRestack registers f to be called whenever the order of a layer
// changes.
func (s *Scene) OnRestack(f func(Layer)) {
	s.onChange = append(s.onChange, f)
}

func (s *Scene) damage(r image.Rectangle) {
	if r.Empty() {
		return
	}
	for _, f := range s.onDamage {
		f(r)
	}
}

func (s *Scene) restacked(l Layer) {
	for _, f := range s.onChange {
		f(l)
	}
}

// Map places a root surface on top of a layer.
func (s *Scene) Map(surf *surface.Surface, layer Layer, pos image.Point) (*Node, error) {
	if _, ok := s.nodes[surf.ID()]; ok {
		return nil, fmt.Errorf("map surface %v: %w", surf.ID(), ErrAlreadyMapped)
	}

	n := Node{Surface: surf, layer: layer, pos: pos}
	s.nodes[surf.ID()] = &n
	s.layers[layer] = append(s.layers[layer], &n)
	s.damage(n.Bounds())
	s.restacked(layer)
	return &n, nil
}

// Unmap removes a surface from the scene. It is a no-op if the
// surface isn't mapped.
func (s *Scene) Unmap(id surface.ID) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	delete(s.nodes, id)
	s.layers[n.layer] = slices.DeleteFunc(s.layers[n.layer], func(c *Node) bool { return c == n })
	s.damage(n.Bounds())
	s.restacked(n.layer)
}

func (s *Scene) Node(id surface.ID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

func (s *Scene) Mapped(id surface.ID) bool {
	_, ok := s.nodes[id]
	return ok
}

func (s *Scene) lookup(id surface.ID) (*Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("surface %v: %w", id, ErrNotMapped)
	}
	return n, nil
}

// Move sets the global position of a mapped surface.
func (s *Scene) Move(id surface.ID, pos image.Point) error {
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	if n.pos == pos {
		return nil
	}
	s.damage(n.Bounds())
	n.pos = pos
	s.damage(n.Bounds())
	return nil
}

// SetLayer moves a surface to the top of another layer.
func (s *Scene) SetLayer(id surface.ID, layer Layer) error {
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	if n.layer == layer {
		return nil
	}
	old := n.layer
	s.layers[old] = slices.DeleteFunc(s.layers[old], func(c *Node) bool { return c == n })
	n.layer = layer
	s.layers[layer] = append(s.layers[layer], n)
	s.damage(n.Bounds())
	s.restacked(old)
	s.restacked(layer)
	return nil
}

func (s *Scene) index(n *Node) int {
	return slices.Index(s.layers[n.layer], n)
}

func (s *Scene) reposition(n *Node, to int) {
	list := s.layers[n.layer]
	from := s.index(n)
	if from == to {
		return
	}
	list = slices.Delete(list, from, from+1)
	to = min(max(to, 0), len(list))
	s.layers[n.layer] = slices.Insert(list, to, n)
	s.damage(n.Bounds())
	s.restacked(n.layer)
}

// Raise puts a surface on top of its layer.
func (s *Scene) Raise(id surface.ID) error {
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.reposition(n, len(s.layers[n.layer])-1)
	return nil
}

// Lower puts a surface at the bottom of its layer.
func (s *Scene) Lower(id surface.ID) error {
	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.reposition(n, 0)
	return nil
}

func (s *Scene) pair(id, sibling surface.ID) (n, sib *Node, err error) {
	n, err = s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	sib, err = s.lookup(sibling)
	if err != nil {
		return nil, nil, err
	}
	if n.layer != sib.layer {
		return nil, nil, fmt.Errorf("restack %v relative to %v: %w", id, sibling, ErrLayerMismatch)
	}
	return n, sib, nil
}

// RestackAbove places a surface directly above sibling.
func (s *Scene) RestackAbove(id, sibling surface.ID) error {
	n, sib, err := s.pair(id, sibling)
	if (err != nil) || (n == sib) {
		return err
	}
	to := s.index(sib)
	if s.index(n) > to {
		to++
	}
	s.reposition(n, to)
	return nil
}

// RestackBelow places a surface directly below sibling.
func (s *Scene) RestackBelow(id, sibling surface.ID) error {
	n, sib, err := s.pair(id, sibling)
	if (err != nil) || (n == sib) {
		return err
	}
	to := s.index(sib)
	if s.index(n) < to {
		to--
	}
	s.reposition(n, to)
	return nil
}

// Order returns the surfaces of a layer, bottom to top.
func (s *Scene) Order(layer Layer) []surface.ID {
	ids := make([]surface.ID, 0, len(s.layers[layer]))
	for _, n := range s.layers[layer] {
		ids = append(ids, n.Surface.ID())
	}
	return ids
}

// Nodes returns the mapped nodes of every layer, bottom to top.
func (s *Scene) Nodes() []*Node {
	var nodes []*Node
	for _, l := range s.layers {
		nodes = append(nodes, l...)
	}
	return nodes
}

// Elements flattens the stack, including sub-surfaces, into a bottom
// to top list of the surfaces with committed content that overlap
// rect.
func (s *Scene) Elements(rect image.Rectangle) []Element {
	var elements []Element
	for _, n := range s.Nodes() {
		n.Surface.Walk(func(surf *surface.Surface, offset image.Point) bool {
			e := Element{Node: n, Surface: surf, Pos: n.pos.Add(offset)}
			if e.Bounds().Overlaps(rect) {
				elements = append(elements, e)
			}
			return true
		})
	}
	return elements
}

// SurfaceAt finds the topmost surface whose input region contains the
// global point p. It also returns p in that surface's coordinates.
func (s *Scene) SurfaceAt(p image.Point) (*surface.Surface, image.Point, bool) {
	for l := LayerOverlay; l >= 0; l-- {
		nodes := s.layers[l]
		for i := len(nodes) - 1; i >= 0; i-- {
			n := nodes[i]
			if !p.In(n.Bounds()) {
				continue
			}

			var hits []Element
			n.Surface.Walk(func(surf *surface.Surface, offset image.Point) bool {
				hits = append(hits, Element{Node: n, Surface: surf, Pos: n.pos.Add(offset)})
				return true
			})
			for j := len(hits) - 1; j >= 0; j-- {
				local := p.Sub(hits[j].Pos)
				if hits[j].Surface.AcceptsInput(local) {
					return hits[j].Surface, local, true
				}
			}
		}
	}
	return nil, image.Point{}, false
}

// SurfacePos returns the global position of a mapped surface or one of
// its sub-surfaces.
func (s *Scene) SurfacePos(surf *surface.Surface) (image.Point, bool) {
	var offset image.Point
	for surf.Parent() != nil {
		offset = offset.Add(surf.Position())
		surf = surf.Parent()
	}
	n, ok := s.nodes[surf.ID()]
	if !ok {
		return image.Point{}, false
	}
	return n.pos.Add(offset), true
}
