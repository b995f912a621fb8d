// Package window runs the compositor inside an ebiten window. It works
// wherever ebiten does, which makes it the easiest way to try things
// out on a desktop.
//
// ebiten owns the main thread, so the compositor must call RunMain
// from main after starting its own loop elsewhere.
package window

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"sync"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/pointer"
	"deedles.dev/wlcomp/render"
	"deedles.dev/wlcomp/shm/shmimage"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/sirupsen/logrus"
)

var ErrWindowClosed = errors.New("window closed")

const refresh = 60000

var mouseButtons = []struct {
	eb ebiten.MouseButton
	wl pointer.Button
}{
	{ebiten.MouseButtonLeft, pointer.ButtonLeft},
	{ebiten.MouseButtonRight, pointer.ButtonRight},
	{ebiten.MouseButtonMiddle, pointer.ButtonMiddle},
}

type Config struct {
	Size       image.Point
	Title      string
	Background shmimage.ARGB8888Color
}

type Backend struct {
	config   Config
	log      logrus.FieldLogger
	renderer *render.Renderer
	queue    *backend.InputQueue

	m       sync.Mutex
	sink    backend.Sink
	out     *output.Output
	fb      *shmimage.ARGB8888
	dirty   bool
	size    image.Point
	started chan struct{}

	// Only touched by ebiten's goroutine.
	img    *ebiten.Image
	rgba   []byte
	cursor image.Point
	keys   []ebiten.Key
}

func New(config Config, log logrus.FieldLogger) *Backend {
	if config.Size == (image.Point{}) {
		config.Size = image.Pt(1280, 720)
	}
	if config.Title == "" {
		config.Title = "wlcomp"
	}

	return &Backend{
		config:   config,
		log:      log.WithField("backend", "window"),
		renderer: render.New(config.Background, log),
		size:     config.Size,
		started:  make(chan struct{}),
	}
}

func (b *Backend) Name() string {
	return "window"
}

func (b *Backend) Start(ctx context.Context, sink backend.Sink) error {
	out, err := output.New(1, "WINDOW-1", []output.Mode{{Size: b.config.Size, Refresh: refresh, Preferred: true}})
	if err != nil {
		return err
	}
	out.Make = "wlcomp"
	out.Model = "window"

	b.m.Lock()
	b.sink = sink
	b.out = out
	b.fb = shmimage.NewARGB8888(image.Rectangle{Max: b.config.Size})
	b.m.Unlock()

	b.queue = backend.NewInputQueue(func() { sink(backend.InputReady{}) })
	close(b.started)

	sink(backend.OutputAdded{Output: out})
	b.queue.Push(&input.DeviceAdded{
		Header: input.Header{At: b.queue.Now(), Source: 1},
		Name:   "window",
		Caps:   input.CapPointer | input.CapKeyboard,
	})
	return nil
}

// RunMain runs the window until it is closed or ctx is canceled. It
// must be called on the main goroutine, after Start.
func (b *Backend) RunMain(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.started:
	}

	ebiten.SetWindowSize(b.config.Size.X, b.config.Size.Y)
	ebiten.SetWindowTitle(b.config.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(refresh / 1000)

	err := ebiten.RunGame(&game{b: b, ctx: ctx})
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	if err == nil {
		b.emit(backend.DeviceLost{Err: ErrWindowClosed})
	}
	return err
}

func (b *Backend) emit(ev backend.Event) {
	b.m.Lock()
	sink := b.sink
	b.m.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// game adapts the backend to ebiten.Game.
type game struct {
	b   *Backend
	ctx context.Context
}

func (g *game) Update() error {
	select {
	case <-g.ctx.Done():
		return ebiten.Termination
	default:
	}

	g.b.emit(backend.Vsync{Output: 1, At: time.Now()})
	g.b.pollInput()
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	g.b.draw(screen)
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	g.b.resize(image.Pt(outsideWidth, outsideHeight))
	return outsideWidth, outsideHeight
}

func (b *Backend) resize(size image.Point) {
	if (size.X <= 0) || (size.Y <= 0) {
		return
	}

	b.m.Lock()
	if size == b.size {
		b.m.Unlock()
		return
	}
	b.size = size
	b.m.Unlock()

	b.log.WithField("size", size).Debug("window resized")
	b.emit(backend.OutputModeChanged{
		Output:  1,
		Modes:   []output.Mode{{Size: size, Refresh: refresh, Preferred: true}},
		Current: 0,
	})
}

func (b *Backend) draw(screen *ebiten.Image) {
	b.m.Lock()
	if b.fb == nil {
		b.m.Unlock()
		return
	}
	if b.dirty || (b.img == nil) {
		size := b.fb.Rect.Size()
		if (b.img == nil) || (b.img.Bounds().Size() != size) {
			if b.img != nil {
				b.img.Deallocate()
			}
			b.img = ebiten.NewImage(size.X, size.Y)
		}

		// ebiten wants RGBA bytes. The framebuffer is little-endian
		// ARGB, which is BGRA in memory.
		n := len(b.fb.Pix)
		if cap(b.rgba) < n {
			b.rgba = make([]byte, n)
		}
		b.rgba = b.rgba[:n]
		for i := 0; i+3 < n; i += 4 {
			b.rgba[i+0] = b.fb.Pix[i+2]
			b.rgba[i+1] = b.fb.Pix[i+1]
			b.rgba[i+2] = b.fb.Pix[i+0]
			b.rgba[i+3] = b.fb.Pix[i+3]
		}
		b.img.WritePixels(b.rgba)
		b.dirty = false
	}
	b.m.Unlock()

	screen.DrawImage(b.img, nil)
}

func (b *Backend) pollInput() {
	now := b.queue.Now()
	h := input.Header{At: now, Source: 1}
	var evs []input.Event
	var ptr bool

	x, y := ebiten.CursorPosition()
	if pos := image.Pt(x, y); pos != b.cursor {
		b.cursor = pos
		evs = append(evs, &input.PointerMotionAbsolute{Header: h, Output: 1, X: float64(x), Y: float64(y)})
		ptr = true
	}

	for _, mb := range mouseButtons {
		switch {
		case inpututil.IsMouseButtonJustPressed(mb.eb):
			evs = append(evs, &input.PointerButton{Header: h, Button: mb.wl, State: pointer.Pressed})
			ptr = true
		case inpututil.IsMouseButtonJustReleased(mb.eb):
			evs = append(evs, &input.PointerButton{Header: h, Button: mb.wl, State: pointer.Released})
			ptr = true
		}
	}

	wx, wy := ebiten.Wheel()
	if wy != 0 {
		evs = append(evs, wheel(h, pointer.AxisVertical, -wy))
		ptr = true
	}
	if wx != 0 {
		evs = append(evs, wheel(h, pointer.AxisHorizontal, -wx))
		ptr = true
	}
	if ptr {
		evs = append(evs, &input.PointerFrame{Header: h})
	}

	b.keys = inpututil.AppendJustPressedKeys(b.keys[:0])
	for _, k := range b.keys {
		if code, ok := keycodes[k]; ok {
			evs = append(evs, &input.Key{Header: h, Code: code, State: input.KeyPressed})
		}
	}
	b.keys = inpututil.AppendJustReleasedKeys(b.keys[:0])
	for _, k := range b.keys {
		if code, ok := keycodes[k]; ok {
			evs = append(evs, &input.Key{Header: h, Code: code, State: input.KeyReleased})
		}
	}

	b.queue.Push(evs...)
}

func wheel(h input.Header, axis pointer.Axis, clicks float64) input.Event {
	return &input.PointerAxis{
		Header:   h,
		Axis:     axis,
		Source:   pointer.SourceWheel,
		Value:    clicks * 15,
		Discrete: int32(clicks),
	}
}

func (b *Backend) Outputs() []*output.Output {
	b.m.Lock()
	defer b.m.Unlock()

	if b.out == nil {
		return nil
	}
	return []*output.Output{b.out}
}

func (b *Backend) Import(buf *buffer.Buffer) (image.Image, error) {
	return render.Import(buf)
}

func (b *Backend) Present(f *output.Frame) error {
	b.m.Lock()
	defer b.m.Unlock()

	if (b.out == nil) || (f.Output.ID != b.out.ID) {
		return fmt.Errorf("present on %v: %w", f.Output, backend.ErrUnknownOutput)
	}

	size := f.Output.Mode().Size
	if b.fb.Rect.Size() != size {
		b.fb = shmimage.NewARGB8888(image.Rectangle{Max: size})
	}
	damaged := b.renderer.Render(b.fb, f)
	if !damaged.Empty() {
		b.dirty = true
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
	b.sink = nil
	b.m.Unlock()
	return nil
}
