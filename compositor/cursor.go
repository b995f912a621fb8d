package compositor

import (
	"fmt"
	"image"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/shm/shmimage"
	"deedles.dev/wlcomp/surface"
	"golang.org/x/image/draw"
)

// CursorProvider supplies cursor images by name, such as from an
// Xcursor theme.
type CursorProvider interface {
	// Cursor returns the image of the named cursor closest to size
	// and its hotspot.
	Cursor(name string, size int) (image.Image, image.Point, error)
}

const cursorRoleName = "wl_pointer-cursor"

type cursorRole struct{}

func (*cursorRole) RoleName() string            { return cursorRoleName }
func (*cursorRole) Committed(s *surface.Surface) {}

// clientCursor is the cursor a client asked for while it has pointer
// focus. A set cursor with no surface hides the pointer.
type clientCursor struct {
	set     bool
	surface *surface.Surface
	hotspot image.Point
}

type cursorState struct {
	def        *surface.Surface
	defHotspot image.Point

	// shown is the surface currently mapped in the cursor layer.
	shown *surface.Surface
}

func (comp *Compositor) initCursor() error {
	size := comp.config.CursorSize

	var src image.Image
	var hotspot image.Point
	if comp.config.Cursor != nil {
		img, hs, err := comp.config.Cursor.Cursor("default", size)
		if err != nil {
			comp.log.WithError(err).Warn("cursor theme unavailable, using built-in cursor")
		} else {
			src, hotspot = img, hs
		}
	}
	if src == nil {
		src, hotspot = arrow(size), image.Point{}
	}

	b := src.Bounds()
	img := shmimage.NewARGB8888(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Rect, src, b.Min, draw.Src)

	file, err := shm.CreateSealed("cursor", img.Pix)
	if err != nil {
		return err
	}
	pool, err := shm.NewPool(file, len(img.Pix))
	if err != nil {
		return err
	}
	buf, err := buffer.NewSHM(0, 0, pool, 0, b.Dx(), b.Dy(), img.Stride, buffer.FormatARGB8888)
	pool.Destroy()
	if err != nil {
		return fmt.Errorf("cursor buffer: %w", err)
	}
	id := comp.table.Insert(buf)

	comp.nextSurface++
	s := surface.New(comp.nextSurface, 0, 0, comp.table, surface.SyncProtocol)
	s.Attach(id, 0, 0)
	s.Damage(img.Rect)
	err = s.Commit()
	if err != nil {
		return err
	}

	comp.cursor.def = s
	comp.cursor.defHotspot = hotspot
	return nil
}

// arrow draws a plain arrow pointer with its tip at the origin.
func arrow(size int) image.Image {
	img := shmimage.NewARGB8888(image.Rect(0, 0, size*2/3, size))
	black := shmimage.NewARGB8888Color(0, 0, 0, 0xFF)
	white := shmimage.NewARGB8888Color(0xFF, 0xFF, 0xFF, 0xFF)

	h := size * 3 / 4
	for y := range h {
		w := y * 2 / 3
		for x := 0; x <= w; x++ {
			c := white
			if (x == 0) || (x == w) || (y == h-1) {
				c = black
			}
			img.SetARGB8888(x, y, c)
		}
	}
	return img
}

// setCursor records the cursor chosen by the client.
func (c *Client) setCursor(s *surface.Surface, hotspot image.Point) {
	c.cursor = clientCursor{set: true, surface: s, hotspot: hotspot}
	c.comp.updateCursor()
}

// updateCursor shows the cursor of the client with pointer focus, or
// the default cursor, at the pointer.
func (comp *Compositor) updateCursor() {
	want, hotspot := comp.cursor.def, comp.cursor.defHotspot
	if focus := comp.seat.PointerFocus(); focus != nil {
		if c, ok := comp.clientOf(focus); ok && c.cursor.set {
			want, hotspot = c.cursor.surface, c.cursor.hotspot
		}
	}
	if (want != nil) && !want.HasBuffer() {
		want = nil
	}

	cs := &comp.cursor
	if (cs.shown != nil) && (cs.shown != want) {
		comp.scene.Unmap(cs.shown.ID())
		cs.shown = nil
	}
	if want == nil {
		return
	}

	pos := comp.seat.PointerPos().Floor().Sub(hotspot)
	if cs.shown == nil {
		_, err := comp.scene.Map(want, scene.LayerCursor, pos)
		if err != nil {
			comp.log.WithError(err).Debug("map cursor")
			return
		}
		cs.shown = want
		return
	}
	if n, ok := comp.scene.Node(want.ID()); ok && (n.Pos() != pos) {
		comp.scene.Move(want.ID(), pos)
	}
}

func (comp *Compositor) cursorCommitted(s *surface.Surface) {
	if off := s.CommittedOffset(); (s.RoleName() == cursorRoleName) && (off != image.Point{}) {
		for _, c := range comp.clients {
			if c.cursor.surface == s {
				c.cursor.hotspot = c.cursor.hotspot.Sub(off)
			}
		}
	}
	if (s.RoleName() == cursorRoleName) || (s == comp.cursor.shown) {
		comp.updateCursor()
	}
}

func (comp *Compositor) cursorDestroyed(s *surface.Surface) {
	if s.RoleName() != cursorRoleName {
		return
	}
	for _, c := range comp.clients {
		if c.cursor.surface == s {
			c.cursor.surface = nil
		}
	}
	if comp.cursor.shown == s {
		comp.cursor.shown = nil
	}
	comp.updateCursor()
}
