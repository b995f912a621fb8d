package output_test

import (
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/surface"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type presenter struct {
	frames []*output.Frame
	errs   []error
}

func (p *presenter) Present(f *output.Frame) error {
	p.frames = append(p.frames, f)
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

type listener struct {
	done   []surface.Callback
	enter  []surface.ID
	leave  []surface.ID
	faults []error
}

func (l *listener) FrameDone(o *output.Output, f *output.Frame, at time.Time) {
	for _, c := range f.Callbacks {
		l.done = append(l.done, c.Callbacks...)
	}
}

func (l *listener) Enter(o *output.Output, s *surface.Surface) { l.enter = append(l.enter, s.ID()) }
func (l *listener) Leave(o *output.Output, s *surface.Surface) { l.leave = append(l.leave, s.ID()) }
func (l *listener) Fault(o *output.Output, err error)          { l.faults = append(l.faults, err) }

type fixture struct {
	t        *testing.T
	table    *buffer.Table
	pool     *shm.Pool
	scene    *scene.Scene
	released []buffer.ID
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	f := fixture{t: t, scene: scene.New(), now: time.Unix(1000, 0)}
	f.table = buffer.NewTable(func(b *buffer.Buffer) { f.released = append(f.released, b.ID()) })

	file, err := shm.Create("output-test")
	require.NoError(t, err)
	require.NoError(t, file.Truncate(64*64*4))
	f.pool, err = shm.NewPool(file, 64*64*4)
	require.NoError(t, err)
	t.Cleanup(f.pool.Destroy)

	return &f
}

func (f *fixture) buffer() buffer.ID {
	b, err := buffer.NewSHM(1, 0, f.pool, 0, 64, 64, 64*4, buffer.FormatXRGB8888)
	require.NoError(f.t, err)
	return f.table.Insert(b)
}

func (f *fixture) output(id output.ID, pos image.Point) *output.Output {
	o, err := output.New(id, "TEST-1", []output.Mode{{Size: image.Pt(200, 200), Refresh: 60000, Preferred: true}})
	require.NoError(f.t, err)
	o.SetPos(pos)
	return o
}

func (f *fixture) scheduler(o *output.Output, p output.Presenter, l output.Listener) *output.Scheduler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	s := output.NewScheduler(o, f.scene, f.table, p, l, log, output.Config{MaxFailures: 3, StallPulses: 4})

	// Draw the initial full-output frame so tests start from Idle.
	s.Pulse(f.tick())
	require.Equal(f.t, output.Idle, s.State())
	return s
}

func (f *fixture) tick() time.Time {
	f.now = f.now.Add(16 * time.Millisecond)
	return f.now
}

// commit attaches b to s with full damage, commits, and pushes the
// damage to sched the way the compositor does.
func (f *fixture) commit(s *surface.Surface, b buffer.ID, cb uint32, scheds ...*output.Scheduler) {
	s.Attach(b, 0, 0)
	s.Damage(image.Rect(0, 0, 64, 64))
	if cb != 0 {
		s.Frame(surface.Callback{Owner: 1, ID: cb})
	}
	require.NoError(f.t, s.Commit())

	n, ok := f.scene.Node(s.ID())
	if !ok {
		var err error
		n, err = f.scene.Map(s, scene.LayerNormal, image.Pt(10, 20))
		require.NoError(f.t, err)
	}
	damage := s.TakeDamage()
	for _, r := range damage.Rects() {
		for _, sched := range scheds {
			sched.AddDamage(r.Add(n.Pos()))
		}
	}
}

func TestPresentSurface(t *testing.T) {
	f := newFixture(t)
	var p presenter
	var l listener
	o := f.output(1, image.Point{})
	sched := f.scheduler(o, &p, &l)

	p.errs = []error{output.ErrPending}
	s := surface.New(1, 1, 3, f.table, surface.SyncProtocol)
	f.commit(s, f.buffer(), 10, sched)
	assert.Equal(t, output.FrameRequested, sched.State())

	sched.Pulse(f.tick())
	require.Len(t, p.frames, 2)
	frame := p.frames[1]
	assert.True(t, frame.Damage.Equal(region.New(image.Rect(10, 20, 74, 84))))
	require.Len(t, frame.Elements, 1)
	assert.Equal(t, image.Pt(10, 20), frame.Elements[0].Pos)
	assert.Equal(t, image.Pt(64, 64), frame.Elements[0].Size)
	assert.Equal(t, []surface.ID{1}, l.enter)

	assert.Empty(t, l.done, "frame callback before the present was confirmed")
	sched.Presented(frame.Seq, f.tick())
	assert.Equal(t, []surface.Callback{{Owner: 1, ID: 10}}, l.done)
	assert.Equal(t, output.Idle, sched.State())
	assert.Equal(t, uint64(2), sched.Counters.Presented)
}

func TestEmptyDamageSkipsPresent(t *testing.T) {
	f := newFixture(t)
	var p presenter
	var l listener
	sched := f.scheduler(f.output(1, image.Point{}), &p, &l)

	s := surface.New(1, 1, 3, f.table, surface.SyncProtocol)
	f.commit(s, f.buffer(), 0, sched)
	sched.Pulse(f.tick())
	require.Len(t, p.frames, 2)

	for range 5 {
		sched.Pulse(f.tick())
	}
	assert.Len(t, p.frames, 2)
	assert.Equal(t, uint64(5), sched.Counters.Skipped)

	// A callback with no new content completes on the next pulse
	// without a present.
	s.Frame(surface.Callback{Owner: 1, ID: 20})
	require.NoError(t, s.Commit())
	sched.Pulse(f.tick())
	assert.Len(t, p.frames, 2)
	assert.Equal(t, []surface.Callback{{Owner: 1, ID: 20}}, l.done)
}

func TestDamageIsUnionSincePresent(t *testing.T) {
	f := newFixture(t)
	var p presenter
	sched := f.scheduler(f.output(1, image.Point{}), &p, new(listener))

	sched.AddDamage(image.Rect(0, 0, 10, 10))
	sched.AddDamage(image.Rect(50, 50, 60, 60))
	sched.AddDamage(image.Rect(5, 5, 15, 15))
	sched.AddDamage(image.Rect(500, 500, 600, 600))

	want := region.New(image.Rect(0, 0, 10, 10), image.Rect(50, 50, 60, 60), image.Rect(5, 5, 15, 15))
	sched.Pulse(f.tick())
	require.Len(t, p.frames, 2)
	assert.True(t, p.frames[1].Damage.Equal(want))
	assert.Equal(t, want.Area(), p.frames[1].Damage.Area())
	assert.True(t, sched.Damage().Empty())
}

func TestBufferHeldByFrameInFlight(t *testing.T) {
	f := newFixture(t)
	var p presenter
	sched := f.scheduler(f.output(1, image.Point{}), &p, new(listener))

	s := surface.New(1, 1, 3, f.table, surface.SyncProtocol)
	b1, b2 := f.buffer(), f.buffer()

	p.errs = []error{output.ErrPending}
	f.commit(s, b1, 0, sched)
	sched.Pulse(f.tick())
	require.Equal(t, output.Presenting, sched.State())
	inflight := p.frames[len(p.frames)-1]

	f.commit(s, b2, 0, sched)
	assert.Equal(t, b2, s.Buffer())
	assert.Empty(t, f.released, "b1 released while its frame is in flight")
	assert.Equal(t, 1, f.table.Refs(b1))

	sched.Presented(inflight.Seq, f.tick())
	assert.Equal(t, []buffer.ID{b1}, f.released)
	assert.Equal(t, output.FrameRequested, sched.State())
}

func TestDestroyedBufferSurvivesFrame(t *testing.T) {
	f := newFixture(t)
	var p presenter
	sched := f.scheduler(f.output(1, image.Point{}), &p, new(listener))

	s := surface.New(1, 1, 3, f.table, surface.SyncProtocol)
	b := f.buffer()
	p.errs = []error{output.ErrPending}
	f.commit(s, b, 0, sched)
	sched.Pulse(f.tick())
	inflight := p.frames[len(p.frames)-1]

	s.Destroy()
	f.table.Destroy(b)
	f.scene.Unmap(s.ID())

	pix, err := inflight.Elements[0].Buffer.Pixels()
	require.NoError(t, err)
	assert.Len(t, pix, 64*64*4)

	sched.Presented(inflight.Seq, f.tick())
	assert.Empty(t, f.released)
	_, ok := f.table.Get(b)
	assert.False(t, ok)
}

func TestRetryRestoresDamageAndCallbacks(t *testing.T) {
	f := newFixture(t)
	var p presenter
	var l listener
	sched := f.scheduler(f.output(1, image.Point{}), &p, &l)

	s := surface.New(1, 1, 3, f.table, surface.SyncProtocol)
	p.errs = []error{output.ErrRetry}
	f.commit(s, f.buffer(), 30, sched)
	sched.Pulse(f.tick())

	assert.Equal(t, output.FrameRequested, sched.State())
	assert.Equal(t, 1, sched.Failures())
	assert.True(t, sched.Damage().Equal(region.New(image.Rect(10, 20, 74, 84))))
	assert.Empty(t, l.done)
	assert.True(t, s.HasCallbacks())

	sched.Pulse(f.tick())
	assert.Equal(t, 0, sched.Failures())
	assert.Equal(t, []surface.Callback{{Owner: 1, ID: 30}}, l.done)
}

func TestRepeatedFailuresFault(t *testing.T) {
	f := newFixture(t)
	var bad, good presenter
	var badL, goodL listener
	badOut := f.scheduler(f.output(1, image.Point{}), &bad, &badL)
	goodOut := f.scheduler(f.output(2, image.Pt(200, 0)), &good, &goodL)

	s := surface.New(1, 1, 3, f.table, surface.SyncProtocol)
	f.commit(s, f.buffer(), 0, badOut, goodOut)
	require.NoError(t, f.scene.Move(s.ID(), image.Pt(180, 20)))
	badOut.AddDamage(image.Rect(180, 20, 244, 84))
	goodOut.AddDamage(image.Rect(180, 20, 244, 84))

	bad.errs = []error{output.ErrRetry, output.ErrRetry, output.ErrRetry}
	for range 3 {
		badOut.Pulse(f.tick())
		goodOut.Pulse(f.tick())
	}

	assert.Equal(t, output.Faulted, badOut.State())
	require.Len(t, badL.faults, 1)
	var fault *output.FaultError
	require.ErrorAs(t, badL.faults[0], &fault)
	assert.Equal(t, 3, fault.Failures)
	assert.ErrorIs(t, fault, output.ErrRetry)
	assert.Equal(t, []surface.ID{1}, badL.leave)
	assert.NotContains(t, s.Outputs(), uint64(1))

	assert.Equal(t, output.Idle, goodOut.State())
	assert.Empty(t, goodL.faults)
	assert.Contains(t, s.Outputs(), uint64(2))

	n := len(bad.frames)
	badOut.AddDamage(image.Rect(0, 0, 10, 10))
	badOut.Pulse(f.tick())
	assert.Len(t, bad.frames, n)
}

func TestStalledPresentIsFailure(t *testing.T) {
	f := newFixture(t)
	var p presenter
	sched := f.scheduler(f.output(1, image.Point{}), &p, new(listener))

	p.errs = []error{output.ErrPending}
	sched.AddDamage(image.Rect(0, 0, 5, 5))
	sched.Pulse(f.tick())
	require.Equal(t, output.Presenting, sched.State())

	for range 3 {
		sched.Pulse(f.tick())
	}
	assert.Equal(t, output.Presenting, sched.State())
	sched.Pulse(f.tick())
	assert.Equal(t, output.FrameRequested, sched.State())
	assert.Equal(t, 1, sched.Failures())

	// A late confirmation of the abandoned frame is ignored.
	sched.Presented(p.frames[1].Seq, f.tick())
	assert.Equal(t, output.FrameRequested, sched.State())
}

func TestFatalPresent(t *testing.T) {
	f := newFixture(t)
	var p presenter
	var l listener
	sched := f.scheduler(f.output(1, image.Point{}), &p, &l)

	lost := errors.New("device gone")
	p.errs = []error{lost}
	sched.AddDamage(image.Rect(0, 0, 5, 5))
	sched.Pulse(f.tick())
	assert.Equal(t, output.Faulted, sched.State())
	require.Len(t, l.faults, 1)
	assert.ErrorIs(t, l.faults[0], lost)
}

func TestGeometryChangeDamagesOutput(t *testing.T) {
	f := newFixture(t)
	var p presenter
	o := f.output(1, image.Point{})
	sched := f.scheduler(o, &p, new(listener))

	o.SetTransform(region.Rotate90)
	o.SetScale(2)
	sched.Pulse(f.tick())
	require.Len(t, p.frames, 2)
	assert.True(t, p.frames[1].Damage.Equal(region.New(image.Rect(0, 0, 100, 100))))
}
