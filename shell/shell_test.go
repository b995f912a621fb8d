package shell_test

import (
	"image"
	"testing"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/shell"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) InitialCommit(*shell.ShellSurface) { r.events = append(r.events, "initial") }
func (r *recorder) Map(*shell.ShellSurface)           { r.events = append(r.events, "map") }
func (r *recorder) Unmap(*shell.ShellSurface)         { r.events = append(r.events, "unmap") }
func (r *recorder) Commit(*shell.ShellSurface)        { r.events = append(r.events, "commit") }

func setup(t *testing.T) (*buffer.Table, func(w, h int) buffer.ID) {
	table := buffer.NewTable(nil)

	file, err := shm.Create("shell-test")
	require.NoError(t, err)
	require.NoError(t, file.Truncate(64*64*4))
	pool, err := shm.NewPool(file, 64*64*4)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)

	return table, func(w, h int) buffer.ID {
		b, err := buffer.NewSHM(1, 0, pool, 0, w, h, w*4, buffer.FormatXRGB8888)
		require.NoError(t, err)
		return table.Insert(b)
	}
}

func TestToplevelLifecycle(t *testing.T) {
	table, newBuffer := setup(t)
	s := surface.New(1, 1, 3, table, surface.SyncProtocol)

	var r recorder
	ss, err := shell.New(shell.KindToplevel, s, &r)
	require.NoError(t, err)

	require.NoError(t, s.Commit())
	assert.Equal(t, []string{"initial"}, r.events)

	s.Attach(newBuffer(16, 16), 0, 0)
	assert.ErrorIs(t, s.Commit(), shell.ErrUnconfiguredBuffer)

	c := ss.Configure(7, image.Pt(16, 16), shell.Activated)
	assert.ErrorIs(t, ss.AckConfigure(8), shell.ErrInvalidSerial)
	require.NoError(t, ss.AckConfigure(c.Serial))
	assert.Equal(t, shell.Activated, ss.Current().States)

	s.Attach(newBuffer(16, 16), 0, 0)
	require.NoError(t, s.Commit())
	assert.True(t, ss.Mapped())
	assert.Equal(t, []string{"initial", "map"}, r.events)

	s.Attach(0, 0, 0)
	require.NoError(t, s.Commit())
	assert.False(t, ss.Mapped())
	assert.False(t, ss.Configured())
	assert.Equal(t, []string{"initial", "map", "unmap"}, r.events)
}

func TestRoleKindIsPermanent(t *testing.T) {
	table, _ := setup(t)
	s := surface.New(1, 1, 3, table, surface.SyncProtocol)

	ss, err := shell.New(shell.KindToplevel, s, new(recorder))
	require.NoError(t, err)
	ss.Destroy()

	_, err = shell.New(shell.KindPopup, s, new(recorder))
	assert.ErrorIs(t, err, surface.ErrRoleConflict)

	_, err = shell.New(shell.KindToplevel, s, new(recorder))
	assert.NoError(t, err)
}

func TestGeometryDefaultsToTreeBounds(t *testing.T) {
	table, newBuffer := setup(t)
	s := surface.New(1, 1, 3, table, surface.SyncProtocol)
	ss, err := shell.New(shell.KindXWayland, s, new(recorder))
	require.NoError(t, err)

	s.Attach(newBuffer(20, 10), 0, 0)
	require.NoError(t, s.Commit())
	assert.Equal(t, image.Rect(0, 0, 20, 10), ss.Geometry())

	require.NoError(t, ss.SetGeometry(image.Rect(2, 2, 18, 8)))
	assert.Equal(t, image.Rect(0, 0, 20, 10), ss.Geometry())
	require.NoError(t, s.Commit())
	assert.Equal(t, image.Rect(2, 2, 18, 8), ss.Geometry())

	assert.ErrorIs(t, ss.SetGeometry(image.Rectangle{}), shell.ErrInvalidSize)
}

func TestMapIfReady(t *testing.T) {
	table, newBuffer := setup(t)
	s := surface.New(1, 1, 3, table, surface.SyncProtocol)
	s.Attach(newBuffer(8, 8), 0, 0)
	require.NoError(t, s.Commit())

	var r recorder
	ss, err := shell.New(shell.KindXWayland, s, &r)
	require.NoError(t, err)
	ss.MapIfReady()
	ss.MapIfReady()
	assert.Equal(t, []string{"map"}, r.events)
}

func TestPositioner(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	p := shell.Positioner{
		Size:       image.Pt(30, 20),
		AnchorRect: image.Rect(10, 10, 20, 20),
		Anchor:     shell.EdgeBottomRight,
		Gravity:    shell.Gravity(shell.EdgeBottomRight),
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, image.Rect(20, 20, 50, 40), p.Place(bounds))

	p.AnchorRect = image.Rect(80, 10, 90, 20)
	assert.Equal(t, image.Rect(90, 20, 120, 40), p.Place(bounds))

	p.Adjustment = shell.FlipX
	assert.Equal(t, image.Rect(50, 20, 80, 40), p.Place(bounds))

	p.Adjustment = shell.SlideX
	assert.Equal(t, image.Rect(70, 20, 100, 40), p.Place(bounds))

	p.Adjustment = shell.ResizeX
	assert.Equal(t, image.Rect(90, 20, 100, 40), p.Place(bounds))

	assert.ErrorIs(t, shell.Positioner{}.Validate(), shell.ErrInvalidPositioner)
}

func TestArrangeLayers(t *testing.T) {
	table, _ := setup(t)
	layer := func(id surface.ID, st shell.LayerState) *shell.ShellSurface {
		s := surface.New(id, 1, uint32(id), table, surface.SyncProtocol)
		ss, err := shell.New(shell.KindLayer, s, new(recorder))
		require.NoError(t, err)
		ss.SetLayer(st)
		require.NoError(t, s.Commit())
		return ss
	}

	bar := layer(1, shell.LayerState{
		Layer:         shell.LayerTop,
		Anchor:        shell.EdgesTop | shell.EdgesLeft | shell.EdgesRight,
		Size:          image.Pt(0, 30),
		ExclusiveZone: 30,
	})
	bg := layer(2, shell.LayerState{
		Layer:         shell.LayerBackground,
		Anchor:        shell.EdgesTop | shell.EdgesBottom | shell.EdgesLeft | shell.EdgesRight,
		ExclusiveZone: -1,
	})
	dock := layer(3, shell.LayerState{
		Layer:         shell.LayerTop,
		Anchor:        shell.EdgesBottom,
		Size:          image.Pt(200, 40),
		Margin:        shell.Margin{Bottom: 5},
		ExclusiveZone: 40,
	})

	usable := shell.Arrange(image.Rect(0, 0, 800, 600), []*shell.ShellSurface{bg, bar, dock})
	assert.Equal(t, image.Rect(0, 30, 800, 555), usable)
	assert.Equal(t, image.Rect(0, 0, 800, 30), bar.LayerBox)
	assert.Equal(t, image.Rect(0, 0, 800, 600), bg.LayerBox)
	assert.Equal(t, image.Rect(300, 555, 500, 595), dock.LayerBox)
}
