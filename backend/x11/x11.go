// Package x11 runs the compositor inside a window on an X server. The
// window is a single output whose mode follows the window's size.
package x11

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
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/sirupsen/logrus"
)

var ErrWindowClosed = errors.New("window closed")

// maxRequest is the largest request the core protocol allows without
// the BIG-REQUESTS extension.
const maxRequest = 65535 * 4

const refresh = 60000

type Config struct {
	// Display is the X display to connect to. If empty, $DISPLAY is
	// used.
	Display    string
	Size       image.Point
	Title      string
	Background shmimage.ARGB8888Color
}

type Backend struct {
	config   Config
	log      logrus.FieldLogger
	renderer *render.Renderer
	queue    *backend.InputQueue

	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	win    xproto.Window
	gc     xproto.Gcontext
	atoms  struct{ protocols, delete xproto.Atom }
	cancel context.CancelFunc
	wg     sync.WaitGroup

	m    sync.Mutex
	sink backend.Sink
	out  *output.Output
	fb   *shmimage.ARGB8888
	size image.Point
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
		log:      log.WithField("backend", "x11"),
		renderer: render.New(config.Background, log),
	}
}

func (b *Backend) Name() string {
	return "x11"
}

func (b *Backend) intern(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern %v: %w", name, err)
	}
	return reply.Atom, nil
}

func (b *Backend) Start(ctx context.Context, sink backend.Sink) error {
	conn, err := xgb.NewConnDisplay(b.config.Display)
	if err != nil {
		return fmt.Errorf("connect to X server: %w", err)
	}
	b.conn = conn
	b.screen = xproto.Setup(conn).DefaultScreen(conn)

	if err := b.createWindow(); err != nil {
		conn.Close()
		return err
	}

	out, err := output.New(1, "X11-1", []output.Mode{{Size: b.config.Size, Refresh: refresh, Preferred: true}})
	if err != nil {
		conn.Close()
		return err
	}
	out.Make = "wlcomp"
	out.Model = "x11"

	b.m.Lock()
	b.sink = sink
	b.out = out
	b.size = b.config.Size
	b.fb = shmimage.NewARGB8888(image.Rectangle{Max: b.size})
	b.m.Unlock()

	b.queue = backend.NewInputQueue(func() { sink(backend.InputReady{}) })
	sink(backend.OutputAdded{Output: out})
	b.queue.Push(&input.DeviceAdded{
		Header: input.Header{At: b.queue.Now(), Source: 1},
		Name:   "x11",
		Caps:   input.CapPointer | input.CapKeyboard,
	})

	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(2)
	go b.vsync(ctx)
	go b.events()
	return nil
}

func (b *Backend) createWindow() error {
	win, err := xproto.NewWindowId(b.conn)
	if err != nil {
		return fmt.Errorf("allocate window: %w", err)
	}
	b.win = win

	const events = xproto.EventMaskExposure |
		xproto.EventMaskStructureNotify |
		xproto.EventMaskKeyPress |
		xproto.EventMaskKeyRelease |
		xproto.EventMaskButtonPress |
		xproto.EventMaskButtonRelease |
		xproto.EventMaskPointerMotion

	err = xproto.CreateWindowChecked(
		b.conn,
		b.screen.RootDepth,
		win,
		b.screen.Root,
		0, 0,
		uint16(b.config.Size.X), uint16(b.config.Size.Y),
		0,
		xproto.WindowClassInputOutput,
		b.screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{b.screen.BlackPixel, events},
	).Check()
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}

	xproto.ChangeProperty(b.conn, xproto.PropModeReplace, win, xproto.AtomWmName, xproto.AtomString, 8, uint32(len(b.config.Title)), []byte(b.config.Title))

	b.atoms.protocols, err = b.intern("WM_PROTOCOLS")
	if err != nil {
		return err
	}
	b.atoms.delete, err = b.intern("WM_DELETE_WINDOW")
	if err != nil {
		return err
	}
	data := make([]byte, 4)
	xgb.Put32(data, uint32(b.atoms.delete))
	xproto.ChangeProperty(b.conn, xproto.PropModeReplace, win, b.atoms.protocols, xproto.AtomAtom, 32, 1, data)

	gc, err := xproto.NewGcontextId(b.conn)
	if err != nil {
		return fmt.Errorf("allocate gc: %w", err)
	}
	b.gc = gc
	xproto.CreateGC(b.conn, gc, xproto.Drawable(win), 0, nil)

	return xproto.MapWindowChecked(b.conn, win).Check()
}

func (b *Backend) emit(ev backend.Event) {
	b.m.Lock()
	sink := b.sink
	b.m.Unlock()

	if sink != nil {
		sink(ev)
	}
}

func (b *Backend) vsync(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Second * 1000 / refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.emit(backend.Vsync{Output: 1, At: now})
		}
	}
}

func (b *Backend) events() {
	defer b.wg.Done()

	for {
		ev, err := b.conn.WaitForEvent()
		switch {
		case (ev == nil) && (err == nil):
			b.emit(backend.DeviceLost{Err: fmt.Errorf("X connection closed: %w", backend.ErrDeviceLost)})
			return
		case err != nil:
			b.log.WithError(err).Debug("X error")
			continue
		}

		switch ev := ev.(type) {
		case xproto.ExposeEvent:
			b.expose(image.Rect(int(ev.X), int(ev.Y), int(ev.X)+int(ev.Width), int(ev.Y)+int(ev.Height)))

		case xproto.ConfigureNotifyEvent:
			b.resize(image.Pt(int(ev.Width), int(ev.Height)))

		case xproto.ClientMessageEvent:
			if (ev.Type == b.atoms.protocols) && (xproto.Atom(ev.Data.Data32[0]) == b.atoms.delete) {
				b.emit(backend.DeviceLost{Err: ErrWindowClosed})
			}

		case xproto.KeyPressEvent:
			b.queue.Push(translateKey(b.queue.Now(), ev.Detail, true))
		case xproto.KeyReleaseEvent:
			b.queue.Push(translateKey(b.queue.Now(), ev.Detail, false))

		case xproto.ButtonPressEvent:
			b.queue.Push(translateButton(b.queue.Now(), ev.Detail, true)...)
		case xproto.ButtonReleaseEvent:
			b.queue.Push(translateButton(b.queue.Now(), ev.Detail, false)...)

		case xproto.MotionNotifyEvent:
			h := input.Header{At: b.queue.Now(), Source: 1}
			b.queue.Push(
				&input.PointerMotionAbsolute{Header: h, Output: 1, X: float64(ev.EventX), Y: float64(ev.EventY)},
				&input.PointerFrame{Header: h},
			)
		}
	}
}

// translateKey maps an X keycode to an evdev key event. X keycodes are
// evdev codes offset by 8.
func translateKey(at time.Duration, code xproto.Keycode, pressed bool) input.Event {
	state := input.KeyReleased
	if pressed {
		state = input.KeyPressed
	}
	return &input.Key{
		Header: input.Header{At: at, Source: 1},
		Code:   uint32(code) - 8,
		State:  state,
	}
}

var buttons = map[xproto.Button]pointer.Button{
	1: pointer.ButtonLeft,
	2: pointer.ButtonMiddle,
	3: pointer.ButtonRight,
	8: pointer.ButtonSide,
	9: pointer.ButtonExtra,
}

// translateButton maps an X button to pointer events. Buttons 4
// through 7 are scroll wheel clicks.
func translateButton(at time.Duration, detail xproto.Button, pressed bool) []input.Event {
	h := input.Header{At: at, Source: 1}

	if (detail >= 4) && (detail <= 7) {
		if !pressed {
			return nil
		}
		axis := pointer.AxisVertical
		if detail >= 6 {
			axis = pointer.AxisHorizontal
		}
		discrete := int32(1)
		if (detail == 4) || (detail == 6) {
			discrete = -1
		}
		return []input.Event{
			&input.PointerAxis{Header: h, Axis: axis, Source: pointer.SourceWheel, Value: float64(discrete * 15), Discrete: discrete},
			&input.PointerFrame{Header: h},
		}
	}

	button, ok := buttons[detail]
	if !ok {
		return nil
	}
	state := pointer.Released
	if pressed {
		state = pointer.Pressed
	}
	return []input.Event{
		&input.PointerButton{Header: h, Button: button, State: state},
		&input.PointerFrame{Header: h},
	}
}

func (b *Backend) resize(size image.Point) {
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

func (b *Backend) expose(r image.Rectangle) {
	b.m.Lock()
	defer b.m.Unlock()

	if b.fb != nil {
		b.put(r.Intersect(b.fb.Rect))
	}
}

// put copies part of the framebuffer to the window. The caller must
// hold b.m.
func (b *Backend) put(r image.Rectangle) {
	if r.Empty() {
		return
	}

	rows := max((maxRequest-32)/(r.Dx()*4), 1)
	for y := r.Min.Y; y < r.Max.Y; y += rows {
		strip := image.Rect(r.Min.X, y, r.Max.X, min(y+rows, r.Max.Y))
		data := make([]byte, 0, strip.Dx()*strip.Dy()*4)
		for sy := strip.Min.Y; sy < strip.Max.Y; sy++ {
			i := b.fb.PixOffset(strip.Min.X, sy)
			data = append(data, b.fb.Pix[i:i+strip.Dx()*4]...)
		}
		xproto.PutImage(
			b.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(b.win),
			b.gc,
			uint16(strip.Dx()), uint16(strip.Dy()),
			int16(strip.Min.X), int16(strip.Min.Y),
			0,
			b.screen.RootDepth,
			data,
		)
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
	for _, r := range damaged.Rects() {
		b.put(r)
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
	if b.cancel != nil {
		b.cancel()
	}

	b.m.Lock()
	b.sink = nil
	b.m.Unlock()

	if b.conn != nil {
		xproto.DestroyWindow(b.conn, b.win)
		b.conn.Close()
	}
	b.wg.Wait()
	return nil
}
