package output

import (
	"errors"
	"fmt"
	"image"
	"time"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/scene"
	"deedles.dev/wlcomp/stats"
	"deedles.dev/wlcomp/surface"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPending is returned by a Presenter that will report the
	// outcome later through Presented or PresentFailed.
	ErrPending = errors.New("present pending")
	// ErrRetry is returned by a Presenter that dropped the frame but
	// expects to succeed on a later pulse.
	ErrRetry = errors.New("present failed, retry")
	// ErrStalled is the failure recorded when a pending present is
	// never confirmed.
	ErrStalled = errors.New("present stalled")
)

// FaultError reports that an output exceeded its bound on consecutive
// present failures.
type FaultError struct {
	Output   ID
	Failures int
	Err      error
}

func (err *FaultError) Error() string {
	return fmt.Sprintf("output %v faulted after %v failed presents: %v", err.Output, err.Failures, err.Err)
}

func (err *FaultError) Unwrap() error {
	return err.Err
}

// State is the scheduler's state.
type State int

const (
	Idle State = iota
	FrameRequested
	Presenting
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FrameRequested:
		return "frame requested"
	case Presenting:
		return "presenting"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Presenter makes frames visible. Present must not block for longer
// than it takes to hand the frame to the device, and must not read the
// frame's buffers after the frame has been confirmed or failed.
type Presenter interface {
	Present(f *Frame) error
}

// Stack is the ordered set of surfaces to compose.
type Stack interface {
	Elements(rect image.Rectangle) []scene.Element
}

// Listener is notified of frame completions and output failures.
type Listener interface {
	// FrameDone is called once a frame is visible, or on a pulse with
	// nothing to draw, with the callbacks that should now be
	// completed.
	FrameDone(o *Output, f *Frame, at time.Time)
	Enter(o *Output, s *surface.Surface)
	Leave(o *Output, s *surface.Surface)
	// Fault is called when the output becomes unusable. err is a
	// *FaultError, or the fatal error returned by the presenter.
	Fault(o *Output, err error)
}

// Config bounds the scheduler's tolerance for failure.
type Config struct {
	// MaxFailures is the number of consecutive failed presents after
	// which the output faults.
	MaxFailures int
	// StallPulses is the number of pulses a pending present may go
	// unconfirmed before it counts as a failure.
	StallPulses int
}

// DefaultConfig is used for zero fields of a Config.
var DefaultConfig = Config{
	MaxFailures: 3,
	StallPulses: 8,
}

// Scheduler paces frames for one output. All of its methods must be
// called from the compositor's event loop.
type Scheduler struct {
	out       *Output
	stack     Stack
	table     *buffer.Table
	presenter Presenter
	listener  Listener
	log       logrus.FieldLogger
	config    Config

	state    State
	damage   region.Region
	gen      uint64
	seq      uint64
	inflight *Frame
	waited   int
	failures int
	visible  map[surface.ID]*surface.Surface

	Counters stats.Counters
}

func NewScheduler(out *Output, stack Stack, table *buffer.Table, presenter Presenter, listener Listener, log logrus.FieldLogger, config Config) *Scheduler {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultConfig.MaxFailures
	}
	if config.StallPulses <= 0 {
		config.StallPulses = DefaultConfig.StallPulses
	}

	s := Scheduler{
		out:       out,
		stack:     stack,
		table:     table,
		presenter: presenter,
		listener:  listener,
		log:       log.WithField("output", out.Name),
		config:    config,
		gen:       out.Generation(),
		visible:   make(map[surface.ID]*surface.Surface),
	}
	s.DamageAll()
	return &s
}

func (s *Scheduler) Output() *Output {
	return s.out
}

func (s *Scheduler) State() State {
	return s.state
}

// Damage returns a copy of the damage waiting to be drawn, in
// output-local coordinates.
func (s *Scheduler) Damage() region.Region {
	return s.damage.Clone()
}

// Failures returns the current streak of failed presents.
func (s *Scheduler) Failures() int {
	return s.failures
}

// AddDamage adds damage in global layout coordinates. Damage outside
// of the output is ignored.
func (s *Scheduler) AddDamage(r image.Rectangle) {
	if s.state == Faulted {
		return
	}
	s.checkGeneration()

	layout := s.out.Layout()
	r = r.Intersect(layout)
	if r.Empty() {
		return
	}
	s.damage.Add(r.Sub(layout.Min))
	if s.state == Idle {
		s.state = FrameRequested
	}
}

// DamageAll damages the entire output.
func (s *Scheduler) DamageAll() {
	if s.state == Faulted {
		return
	}
	s.damage.Clear()
	s.damage.Add(image.Rectangle{Max: s.out.LogicalSize()})
	if s.state == Idle {
		s.state = FrameRequested
	}
}

func (s *Scheduler) checkGeneration() {
	if gen := s.out.Generation(); gen != s.gen {
		s.gen = gen
		s.DamageAll()
	}
}

// Pulse is called on every vsync of the output.
func (s *Scheduler) Pulse(now time.Time) {
	switch s.state {
	case Faulted:
		return
	case Presenting:
		s.waited++
		if s.waited >= s.config.StallPulses {
			s.log.WithField("seq", s.inflight.Seq).Warn("present stalled")
			s.abort(ErrStalled)
		}
		return
	}

	s.checkGeneration()
	if s.damage.Empty() {
		s.idle(now)
		return
	}

	f := s.build(now)
	err := s.presenter.Present(f)
	switch {
	case err == nil:
		s.inflight = f
		s.complete(now)
	case errors.Is(err, ErrPending):
		s.inflight = f
		s.waited = 0
		s.state = Presenting
	case errors.Is(err, ErrRetry):
		s.inflight = f
		s.abort(err)
	default:
		s.inflight = f
		s.lost(err)
	}
}

// Presented confirms a pending present.
func (s *Scheduler) Presented(seq uint64, at time.Time) {
	if (s.state != Presenting) || (s.inflight.Seq != seq) {
		s.log.WithField("seq", seq).Debug("ignoring confirmation of unknown frame")
		return
	}
	s.complete(at)
}

// PresentFailed reports that a pending present was dropped.
func (s *Scheduler) PresentFailed(seq uint64, err error) {
	if (s.state != Presenting) || (s.inflight.Seq != seq) {
		s.log.WithField("seq", seq).Debug("ignoring failure of unknown frame")
		return
	}
	s.abort(err)
}

func (s *Scheduler) build(now time.Time) *Frame {
	s.seq++
	f := Frame{
		Output: s.out,
		Seq:    s.seq,
		Damage: s.damage,
		Built:  now,
	}
	s.damage = region.Region{}

	layout := s.out.Layout()
	seen := make(map[surface.ID]struct{})
	for _, e := range s.stack.Elements(layout) {
		id := e.Surface.ID()
		seen[id] = struct{}{}
		s.enter(e.Surface)

		b, ok := s.table.Get(e.Surface.Buffer())
		if !ok {
			continue
		}
		err := s.table.Ref(b.ID())
		if err != nil {
			continue
		}

		opaque := e.Surface.OpaqueRegion()
		opaque.Translate(e.Pos.Sub(layout.Min))
		f.Elements = append(f.Elements, Element{
			Surface:   id,
			Buffer:    b,
			Pos:       e.Pos.Sub(layout.Min),
			Size:      e.Surface.Size(),
			Scale:     e.Surface.Scale(),
			Transform: e.Surface.Transform(),
			Opaque:    opaque,
		})
		if cbs := e.Surface.TakeCallbacks(); len(cbs) > 0 {
			f.Callbacks = append(f.Callbacks, Callbacks{Surface: e.Surface, Callbacks: cbs})
		}
	}
	s.leaveMissing(seen)

	return &f
}

// idle handles a pulse with nothing to draw. Surfaces on the output
// that asked for a frame callback without changing anything get it
// now, since their content is already on screen.
func (s *Scheduler) idle(now time.Time) {
	s.state = Idle
	s.Counters.ObserveSkip()

	f := Frame{Output: s.out, Built: now}
	for _, e := range s.stack.Elements(s.out.Layout()) {
		if cbs := e.Surface.TakeCallbacks(); len(cbs) > 0 {
			f.Callbacks = append(f.Callbacks, Callbacks{Surface: e.Surface, Callbacks: cbs})
		}
	}
	if len(f.Callbacks) > 0 {
		s.listener.FrameDone(s.out, &f, now)
	}
}

func (s *Scheduler) complete(at time.Time) {
	f := s.inflight
	s.inflight = nil
	s.failures = 0

	s.Counters.ObservePresent(f.Damage.Area(), at.Sub(f.Built))
	s.release(f)
	s.listener.FrameDone(s.out, f, at)

	s.state = Idle
	if !s.damage.Empty() {
		s.state = FrameRequested
	}
}

// abort handles a failed present. The frame's damage is restored and
// its callbacks are handed back to their surfaces to wait for a frame
// that actually makes it to the screen.
func (s *Scheduler) abort(err error) {
	f := s.inflight
	s.inflight = nil

	f.Damage.Union(s.damage)
	s.damage = f.Damage
	for _, c := range f.Callbacks {
		c.Surface.ReturnCallbacks(c.Callbacks)
	}
	s.release(f)

	s.failures++
	s.Counters.ObserveDrop()
	s.log.WithFields(logrus.Fields{
		"seq":      f.Seq,
		"failures": s.failures,
	}).WithError(err).Warn("frame dropped")

	if s.failures >= s.config.MaxFailures {
		s.fault(&FaultError{Output: s.out.ID, Failures: s.failures, Err: err})
		return
	}
	s.state = FrameRequested
}

func (s *Scheduler) lost(err error) {
	f := s.inflight
	s.inflight = nil
	for _, c := range f.Callbacks {
		c.Surface.ReturnCallbacks(c.Callbacks)
	}
	s.release(f)
	s.log.WithError(err).Error("output lost")
	s.fault(err)
}

func (s *Scheduler) fault(err error) {
	s.state = Faulted
	s.damage.Clear()
	s.leaveMissing(nil)
	s.listener.Fault(s.out, err)
}

// Close drops any frame in flight. It is used when the output goes
// away.
func (s *Scheduler) Close() {
	if s.inflight != nil {
		f := s.inflight
		s.inflight = nil
		for _, c := range f.Callbacks {
			c.Surface.ReturnCallbacks(c.Callbacks)
		}
		s.release(f)
	}
	if s.state != Faulted {
		s.state = Faulted
		s.leaveMissing(nil)
	}
}

func (s *Scheduler) release(f *Frame) {
	for _, e := range f.Elements {
		s.table.Unref(e.Buffer.ID())
	}
}

func (s *Scheduler) enter(surf *surface.Surface) {
	if _, ok := s.visible[surf.ID()]; ok {
		return
	}
	s.visible[surf.ID()] = surf
	if surf.Enter(uint64(s.out.ID)) {
		s.listener.Enter(s.out, surf)
	}
}

// leaveMissing sends leave for every visible surface not in keep.
func (s *Scheduler) leaveMissing(keep map[surface.ID]struct{}) {
	for id, surf := range s.visible {
		if _, ok := keep[id]; ok {
			continue
		}
		delete(s.visible, id)
		if !surf.Destroyed() && surf.Leave(uint64(s.out.ID)) {
			s.listener.Leave(s.out, surf)
		}
	}
}

// Forget drops a destroyed surface from the set of surfaces known to
// be visible on the output.
func (s *Scheduler) Forget(id surface.ID) {
	delete(s.visible, id)
}
