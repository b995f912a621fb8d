// Package headless is a backend with virtual outputs that render into
// memory. It is meant for tests and for running without a display.
package headless

import (
	"context"
	"fmt"
	"image"
	"iter"
	"slices"
	"sync"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/render"
	"deedles.dev/wlcomp/shm/shmimage"
	"deedles.dev/ximage"
	"github.com/sirupsen/logrus"
)

// Config describes the virtual outputs.
type Config struct {
	// Outputs is the number of outputs created by Start.
	Outputs int
	Size    image.Point
	// Refresh is in millihertz.
	Refresh int

	// Manual disables the vsync ticker. Vsync pulses are then only
	// generated by calls to Tick.
	Manual bool

	// Async makes Present return output.ErrPending. The frame is
	// confirmed on the next Tick.
	Async bool

	Background shmimage.ARGB8888Color
}

func (c Config) withDefaults() Config {
	if c.Size == (image.Point{}) {
		c.Size = image.Pt(1280, 720)
	}
	if c.Refresh <= 0 {
		c.Refresh = 60000
	}
	return c
}

type virtualOutput struct {
	out     *output.Output
	fb      *shmimage.ARGB8888
	pending []uint64
	fail    []error
	frames  int
}

// Backend is the headless backend.
type Backend struct {
	config   Config
	log      logrus.FieldLogger
	renderer *render.Renderer
	queue    *backend.InputQueue

	m       sync.Mutex
	sink    backend.Sink
	outputs map[output.ID]*virtualOutput
	order   []output.ID
	nextID  output.ID
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(config Config, log logrus.FieldLogger) *Backend {
	return &Backend{
		config:   config.withDefaults(),
		log:      log.WithField("backend", "headless"),
		renderer: render.New(config.Background, log),
		outputs:  make(map[output.ID]*virtualOutput),
	}
}

func (b *Backend) Name() string {
	return "headless"
}

func (b *Backend) Start(ctx context.Context, sink backend.Sink) error {
	b.m.Lock()
	if b.sink != nil {
		b.m.Unlock()
		return fmt.Errorf("headless: already started")
	}
	b.sink = sink
	b.queue = backend.NewInputQueue(func() { sink(backend.InputReady{}) })
	ctx, b.cancel = context.WithCancel(ctx)
	b.m.Unlock()

	for range b.config.Outputs {
		b.Plug(output.Mode{Size: b.config.Size, Refresh: b.config.Refresh, Preferred: true})
	}

	if !b.config.Manual {
		b.wg.Add(1)
		go b.tick(ctx)
	}
	return nil
}

func (b *Backend) tick(ctx context.Context) {
	defer b.wg.Done()

	interval := time.Duration(float64(time.Second) * 1000 / float64(b.config.Refresh))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.Tick(now)
		}
	}
}

// Tick confirms pending frames and sends a vsync pulse for every
// output.
func (b *Backend) Tick(at time.Time) {
	b.m.Lock()
	sink := b.sink
	var events []backend.Event
	for _, id := range b.order {
		vo := b.outputs[id]
		for _, seq := range vo.pending {
			events = append(events, backend.Presented{Output: id, Seq: seq, At: at})
		}
		vo.pending = vo.pending[:0]
		events = append(events, backend.Vsync{Output: id, At: at})
	}
	b.m.Unlock()

	if sink == nil {
		return
	}
	for _, ev := range events {
		sink(ev)
	}
}

// Plug adds a new output with the given mode.
func (b *Backend) Plug(mode output.Mode) *output.Output {
	b.m.Lock()
	b.nextID++
	id := b.nextID
	out, err := output.New(id, fmt.Sprintf("HEADLESS-%v", id), []output.Mode{mode})
	if err != nil {
		// Only possible with no modes.
		panic(err)
	}
	out.Make = "wlcomp"
	out.Model = "headless"

	b.outputs[id] = &virtualOutput{
		out: out,
		fb:  shmimage.NewARGB8888(image.Rectangle{Max: mode.Size}),
	}
	b.order = append(b.order, id)
	sink := b.sink
	b.m.Unlock()

	b.log.WithField("output", out).Debug("output added")
	if sink != nil {
		sink(backend.OutputAdded{Output: out})
	}
	return out
}

// Unplug removes an output.
func (b *Backend) Unplug(id output.ID) {
	b.m.Lock()
	_, ok := b.outputs[id]
	delete(b.outputs, id)
	b.order = slices.DeleteFunc(b.order, func(v output.ID) bool { return v == id })
	sink := b.sink
	b.m.Unlock()

	if ok && (sink != nil) {
		sink(backend.OutputRemoved{Output: id})
	}
}

// Lose reports the loss of the whole virtual device.
func (b *Backend) Lose() {
	b.m.Lock()
	sink := b.sink
	b.m.Unlock()

	if sink != nil {
		sink(backend.DeviceLost{Err: backend.ErrDeviceLost})
	}
}

// FailNext makes the next len(errs) presents on an output fail with
// the given errors in order.
func (b *Backend) FailNext(id output.ID, errs ...error) {
	b.m.Lock()
	defer b.m.Unlock()

	if vo, ok := b.outputs[id]; ok {
		vo.fail = append(vo.fail, errs...)
	}
}

// InjectInput queues input events as though a device had produced
// them.
func (b *Backend) InjectInput(evs ...input.Event) {
	b.queue.Push(evs...)
}

// Frames returns the number of frames successfully handed to an
// output.
func (b *Backend) Frames(id output.ID) int {
	b.m.Lock()
	defer b.m.Unlock()

	if vo, ok := b.outputs[id]; ok {
		return vo.frames
	}
	return 0
}

// Snapshot returns a copy of an output's framebuffer.
func (b *Backend) Snapshot(id output.ID) (*ximage.FormatImage, bool) {
	b.m.Lock()
	defer b.m.Unlock()

	vo, ok := b.outputs[id]
	if !ok {
		return nil, false
	}
	return &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   vo.fb.Rect,
		Pix:    slices.Clone(vo.fb.Pix),
	}, true
}

func (b *Backend) Outputs() []*output.Output {
	b.m.Lock()
	defer b.m.Unlock()

	outputs := make([]*output.Output, 0, len(b.order))
	for _, id := range b.order {
		outputs = append(outputs, b.outputs[id].out)
	}
	return outputs
}

func (b *Backend) Import(buf *buffer.Buffer) (image.Image, error) {
	return render.Import(buf)
}

func (b *Backend) Present(f *output.Frame) error {
	b.m.Lock()
	defer b.m.Unlock()

	vo, ok := b.outputs[f.Output.ID]
	if !ok {
		return fmt.Errorf("present on %v: %w", f.Output, backend.ErrUnknownOutput)
	}

	if len(vo.fail) > 0 {
		err := vo.fail[0]
		vo.fail = vo.fail[1:]
		return err
	}

	size := f.Output.Mode().Size
	if vo.fb.Rect.Size() != size {
		vo.fb = shmimage.NewARGB8888(image.Rectangle{Max: size})
	}

	b.renderer.Render(vo.fb, f)
	vo.frames++

	if b.config.Async {
		vo.pending = append(vo.pending, f.Seq)
		return output.ErrPending
	}
	return nil
}

func (b *Backend) PollInput() iter.Seq[input.Event] {
	if b.queue == nil {
		return func(func(input.Event) bool) {}
	}
	return b.queue.Drain()
}

func (b *Backend) Close() error {
	b.m.Lock()
	cancel := b.cancel
	b.m.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	b.m.Lock()
	b.sink = nil
	b.m.Unlock()
	return nil
}
