package seat_test

import (
	"fmt"
	"image"
	"io"
	"testing"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/pointer"
	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/surface"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) take() []string {
	ev := r.events
	r.events = nil
	return ev
}

func (r *recorder) PointerEnter(s *surface.Surface, serial uint32, local seat.Point) {
	r.add("enter %v %v,%v", s.ID(), local.X, local.Y)
}

func (r *recorder) PointerLeave(s *surface.Surface, serial uint32) {
	r.add("leave %v", s.ID())
}

func (r *recorder) PointerMotion(s *surface.Surface, time uint32, local seat.Point) {
	r.add("motion %v %v,%v", s.ID(), local.X, local.Y)
}

func (r *recorder) PointerButton(s *surface.Surface, serial, time uint32, button pointer.Button, state pointer.ButtonState) {
	r.add("button %v %v %v", s.ID(), button, state)
}

func (r *recorder) PointerAxis(s *surface.Surface, time uint32, axis pointer.Axis, source pointer.AxisSource, value float64, discrete int32) {
	r.add("axis %v %v", s.ID(), value)
}

func (r *recorder) PointerFrame(s *surface.Surface) {
	r.add("frame %v", s.ID())
}

func (r *recorder) KeyboardEnter(s *surface.Surface, serial uint32, keys []uint32) {
	r.add("kb-enter %v %v", s.ID(), keys)
}

func (r *recorder) KeyboardLeave(s *surface.Surface, serial uint32) {
	r.add("kb-leave %v", s.ID())
}

func (r *recorder) Key(s *surface.Surface, serial, time, key uint32, pressed bool) {
	r.add("key %v %v %v", s.ID(), key, pressed)
}

func (r *recorder) Modifiers(s *surface.Surface, serial uint32, mods seat.Modifiers) {
	r.add("mods %v %v %v", s.ID(), mods.Depressed, mods.Locked)
}

func (r *recorder) TouchDown(s *surface.Surface, serial, time uint32, slot int32, local seat.Point) {
	r.add("touch-down %v %v %v,%v", s.ID(), slot, local.X, local.Y)
}

func (r *recorder) TouchUp(s *surface.Surface, serial, time uint32, slot int32) {
	r.add("touch-up %v %v", s.ID(), slot)
}

func (r *recorder) TouchMotion(s *surface.Surface, time uint32, slot int32, local seat.Point) {
	r.add("touch-motion %v %v %v,%v", s.ID(), slot, local.X, local.Y)
}

func (r *recorder) TouchFrame(s *surface.Surface) {
	r.add("touch-frame %v", s.ID())
}

func (r *recorder) TouchCancel(s *surface.Surface) {
	r.add("touch-cancel %v", s.ID())
}

type fixture struct {
	t     *testing.T
	table *buffer.Table
	pool  *shm.Pool
	scene *scene.Scene
	rec   *recorder
	seat  *seat.Seat
}

func newFixture(t *testing.T) *fixture {
	file, err := shm.Create("seat-test")
	require.NoError(t, err)
	require.NoError(t, file.Truncate(100*100*4))
	pool, err := shm.NewPool(file, 100*100*4)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := fixture{
		t:     t,
		table: buffer.NewTable(nil),
		pool:  pool,
		scene: scene.New(),
		rec:   new(recorder),
	}
	f.seat = seat.New("seat0", f.scene, f.rec, nil, log)
	f.seat.SetLayout([]image.Rectangle{image.Rect(0, 0, 200, 100)})
	return &f
}

// window maps a w×h surface at pos.
func (f *fixture) window(id surface.ID, pos image.Point, w, h int) *surface.Surface {
	s := surface.New(id, 1, uint32(id), f.table, surface.SyncProtocol)
	b, err := buffer.NewSHM(1, 0, f.pool, 0, w, h, w*4, buffer.FormatARGB8888)
	require.NoError(f.t, err)
	s.Attach(f.table.Insert(b), 0, 0)
	require.NoError(f.t, s.Commit())
	_, err = f.scene.Map(s, scene.LayerNormal, pos)
	require.NoError(f.t, err)
	return s
}

func TestPointerFocusFollowsMotion(t *testing.T) {
	f := newFixture(t)
	f.window(1, image.Pt(0, 0), 50, 50)
	f.window(2, image.Pt(40, 0), 50, 50)

	f.seat.MotionTo(1, seat.Point{X: 10, Y: 10})
	assert.Equal(t, []string{"enter 1 10,10", "motion 1 10,10"}, f.rec.take())

	f.seat.MotionTo(2, seat.Point{X: 45, Y: 10})
	assert.Equal(t, []string{"leave 1", "frame 1", "enter 2 5,10", "motion 2 5,10"}, f.rec.take())

	f.seat.MotionTo(3, seat.Point{X: 150, Y: 10})
	assert.Equal(t, []string{"leave 2", "frame 2"}, f.rec.take())
	assert.Nil(t, f.seat.PointerFocus())
}

func TestHitTestIdempotent(t *testing.T) {
	f := newFixture(t)
	f.window(1, image.Pt(0, 0), 50, 50)

	f.seat.MotionTo(1, seat.Point{X: 20, Y: 20})
	f.rec.take()
	for i := range 5 {
		f.seat.MotionTo(uint32(i+2), seat.Point{X: 20, Y: 20})
		f.seat.Refocus()
		assert.Equal(t, []string{"motion 1 20,20"}, f.rec.take())
	}
}

func TestMotionClampedToLayout(t *testing.T) {
	f := newFixture(t)

	f.seat.MotionBy(1, 500, -20)
	assert.Equal(t, seat.Point{X: 199, Y: 0}, f.seat.PointerPos())

	f.seat.SetLayout([]image.Rectangle{image.Rect(0, 0, 200, 100), image.Rect(200, 0, 400, 300)})
	f.seat.MotionTo(2, seat.Point{X: 100, Y: 250})
	assert.Equal(t, seat.Point{X: 200, Y: 250}, f.seat.PointerPos())
	f.seat.MotionTo(2, seat.Point{X: 100, Y: 120})
	assert.Equal(t, seat.Point{X: 100, Y: 99}, f.seat.PointerPos())
	f.seat.MotionTo(3, seat.Point{X: 300, Y: 250})
	assert.Equal(t, seat.Point{X: 300, Y: 250}, f.seat.PointerPos())
}

func TestImplicitGrab(t *testing.T) {
	f := newFixture(t)
	f.window(1, image.Pt(0, 0), 50, 50)
	f.window(2, image.Pt(100, 0), 50, 50)

	f.seat.MotionTo(1, seat.Point{X: 10, Y: 10})
	f.seat.Button(2, pointer.ButtonLeft, pointer.Pressed)
	f.rec.take()

	f.seat.MotionTo(3, seat.Point{X: 110, Y: 10})
	assert.Equal(t, []string{"motion 1 110,10"}, f.rec.take())

	f.seat.Button(4, pointer.ButtonLeft, pointer.Released)
	assert.Equal(t, []string{
		"button 1 left released",
		"leave 1", "frame 1", "enter 2 10,10",
	}, f.rec.take())
}

func TestOnButtonPress(t *testing.T) {
	f := newFixture(t)
	s := f.window(1, image.Pt(0, 0), 50, 50)

	var pressed []*surface.Surface
	f.seat.OnButtonPress(func(s *surface.Surface, button pointer.Button) {
		pressed = append(pressed, s)
		f.seat.SetKeyboardFocus(s)
	})

	f.seat.MotionTo(1, seat.Point{X: 10, Y: 10})
	f.rec.take()
	f.seat.Button(2, pointer.ButtonRight, pointer.Pressed)
	assert.Equal(t, []*surface.Surface{s}, pressed)
	assert.Equal(t, s, f.seat.KeyboardFocus())
	assert.Equal(t, []string{"kb-enter 1 []", "mods 1 0 0", "button 1 right pressed"}, f.rec.take())
}

type handler struct {
	events    []any
	cancelled bool
}

func (h *handler) Event(st *seat.Seat, ev any, pos seat.Point) { h.events = append(h.events, ev) }
func (h *handler) Cancel(st *seat.Seat)                       { h.cancelled = true }

func TestGrabs(t *testing.T) {
	f := newFixture(t)
	a := f.window(1, image.Pt(0, 0), 50, 50)
	f.window(2, image.Pt(100, 0), 50, 50)

	require.NoError(t, f.seat.StartGrab(seat.ClassPointer, seat.Grab{Surface: a}))
	assert.ErrorIs(t, f.seat.StartGrab(seat.ClassPointer, seat.Grab{Surface: a}), seat.ErrGrabActive)

	f.seat.MotionTo(1, seat.Point{X: 120, Y: 10})
	assert.Equal(t, []string{"enter 1 120,10", "motion 1 120,10"}, f.rec.take())

	require.NoError(t, f.seat.EndGrab(seat.ClassPointer))
	assert.Equal(t, []string{"leave 1", "frame 1", "enter 2 20,10"}, f.rec.take())
	assert.ErrorIs(t, f.seat.EndGrab(seat.ClassPointer), seat.ErrNoGrab)

	var h handler
	require.NoError(t, f.seat.StartGrab(seat.ClassKeyboard, seat.Grab{Handler: &h}))
	f.seat.SetKeyboardFocus(a)
	f.rec.take()
	f.seat.Key(5, 30, true)
	assert.Empty(t, f.rec.take())
	assert.Equal(t, []any{seat.KeyEvent{Time: 5, Key: 30, Pressed: true}}, h.events)
	require.NoError(t, f.seat.EndGrab(seat.ClassKeyboard))
	assert.True(t, h.cancelled)
}

func TestKeyboard(t *testing.T) {
	f := newFixture(t)
	a := f.window(1, image.Pt(0, 0), 50, 50)
	b := f.window(2, image.Pt(100, 0), 50, 50)

	f.seat.Key(1, 30, true)
	f.seat.SetKeyboardFocus(a)
	assert.Equal(t, []string{"kb-enter 1 [30]", "mods 1 0 0"}, f.rec.take())

	f.seat.Key(2, input.KeyLeftShift, true)
	assert.Equal(t, []string{"key 1 42 true", "mods 1 1 0"}, f.rec.take())
	assert.Equal(t, seat.ModShift, f.seat.Modifiers().Depressed)

	f.seat.Key(3, input.KeyCapsLock, true)
	f.seat.Key(4, input.KeyCapsLock, false)
	assert.Equal(t, seat.ModLock, f.seat.Modifiers().Locked)
	f.rec.take()

	f.seat.SetKeyboardFocus(b)
	assert.Equal(t, []string{"kb-leave 1", "kb-enter 2 [30 42]", "mods 2 1 2"}, f.rec.take())
}

func TestShutdownChord(t *testing.T) {
	f := newFixture(t)
	a := f.window(1, image.Pt(0, 0), 50, 50)
	f.seat.SetKeyboardFocus(a)

	var quit int
	f.seat.Bind(seat.ModCtrl|seat.ModAlt, input.KeyBackspace, func() { quit++ })
	f.seat.Key(1, input.KeyLeftCtrl, true)
	f.seat.Key(2, input.KeyLeftAlt, true)
	f.rec.take()

	f.seat.Key(3, input.KeyBackspace, true)
	f.seat.Key(4, input.KeyBackspace, false)
	assert.Equal(t, 1, quit)
	assert.Empty(t, f.rec.take())

	f.seat.Key(5, input.KeyLeftAlt, false)
	f.seat.Key(6, input.KeyBackspace, true)
	assert.Equal(t, 1, quit)
	assert.Equal(t, []string{"key 1 56 false", "mods 1 4 0", "key 1 14 true"}, f.rec.take())
}

func TestSurfaceDestroyedClearsFocus(t *testing.T) {
	f := newFixture(t)
	a := f.window(1, image.Pt(0, 0), 50, 50)

	f.seat.MotionTo(1, seat.Point{X: 10, Y: 10})
	f.seat.SetKeyboardFocus(a)
	require.NoError(t, f.seat.StartGrab(seat.ClassTouch, seat.Grab{Surface: a}))
	f.seat.TouchDown(2, 0, seat.Point{X: 5, Y: 5})
	f.rec.take()

	f.scene.Unmap(a.ID())
	a.Destroy()
	f.seat.SurfaceDestroyed(a)

	assert.Nil(t, f.seat.PointerFocus())
	assert.Nil(t, f.seat.KeyboardFocus())
	_, ok := f.seat.GrabOf(seat.ClassTouch)
	assert.False(t, ok)
	assert.Equal(t, 0, f.seat.TouchPoints())

	f.seat.MotionTo(3, seat.Point{X: 11, Y: 11})
	f.seat.Key(4, 30, true)
	assert.Empty(t, f.rec.take())
}

func TestTouch(t *testing.T) {
	f := newFixture(t)
	f.window(1, image.Pt(0, 0), 50, 50)
	f.window(2, image.Pt(100, 0), 50, 50)

	f.seat.TouchDown(1, 0, seat.Point{X: 10, Y: 10})
	f.seat.TouchDown(1, 1, seat.Point{X: 110, Y: 10})
	f.seat.TouchFrame()
	assert.Equal(t, []string{
		"touch-down 1 0 10,10",
		"touch-down 2 1 10,10",
		"touch-frame 1",
		"touch-frame 2",
	}, f.rec.take())

	// Focus stays with the surface the point went down on.
	f.seat.TouchMotion(2, 0, seat.Point{X: 120, Y: 20})
	f.seat.TouchUp(3, 0)
	f.seat.TouchFrame()
	assert.Equal(t, []string{
		"touch-motion 1 0 120,20",
		"touch-up 1 0",
		"touch-frame 1",
	}, f.rec.take())

	f.seat.TouchCancel()
	assert.Equal(t, []string{"touch-cancel 2"}, f.rec.take())
	assert.Equal(t, 0, f.seat.TouchPoints())
}

func TestCompileKeymap(t *testing.T) {
	km, err := seat.CompileKeymap(seat.RMLVO{Layout: "us,de", Variant: ",nodeadkeys", Options: "ctrl:nocaps"})
	require.NoError(t, err)
	defer km.Close()

	assert.Contains(t, km.Text, `include "pc+us+de(nodeadkeys):2+inet(evdev)+ctrl(nocaps)"`)
	assert.Contains(t, km.Text, `include "evdev+aliases(qwerty)"`)
	assert.Contains(t, km.Text, `include "pc(pc105)"`)
	assert.Equal(t, uint32(len(km.Text)+1), km.Size)

	_, err = km.File.Write([]byte("x"))
	assert.Error(t, err, "keymap file should be sealed")

	_, err = seat.CompileKeymap(seat.RMLVO{Layout: "us", Variant: "a,b"})
	assert.Error(t, err)
}
