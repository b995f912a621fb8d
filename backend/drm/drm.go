// Package drm is the hardware backend. It drives connectors through
// kernel mode setting with CPU-rendered dumb buffers and reads input
// straight from evdev nodes.
package drm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/internal/drm"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/render"
	"deedles.dev/wlcomp/shm/shmimage"
	"github.com/fsnotify/fsnotify"
	evdev "github.com/gvalkov/golang-evdev"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	driDir   = "/dev/dri"
	inputDir = "/dev/input"
)

type Config struct {
	// Card is the device node to use. If empty, the first card in
	// /dev/dri is used.
	Card string
	// Input is a glob for the evdev nodes to read.
	Input   string
	Session Session
	// GrabInput requests exclusive access to input devices.
	GrabInput bool

	Background shmimage.ARGB8888Color
}

// head is a connector lit by a CRTC.
type head struct {
	out       *output.Output
	connector uint32
	crtc      uint32
	modes     []drm.ModeInfo
	current   drm.ModeInfo
	bufs      [2]*drm.Dumb
	front     int
	// prev is the damage drawn into the front buffer, which the back
	// buffer has not seen yet.
	prev     region.Region
	flipping bool
	cancel   context.CancelFunc
}

func (h *head) destroyBuffers() {
	for i, b := range h.bufs {
		if b != nil {
			b.Destroy()
			h.bufs[i] = nil
		}
	}
}

type Backend struct {
	config   Config
	log      logrus.FieldLogger
	renderer *render.Renderer

	card     *drm.Card
	cardPath string
	queue    *backend.InputQueue
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	m          sync.Mutex
	sink       backend.Sink
	heads      map[output.ID]*head
	devices    map[string]*device
	nextOutput output.ID
	nextDevice input.DeviceID
}

func New(config Config, log logrus.FieldLogger) *Backend {
	if config.Input == "" {
		config.Input = filepath.Join(inputDir, "event*")
	}
	if config.Session == nil {
		config.Session = DirectSession{}
	}

	return &Backend{
		config:   config,
		log:      log.WithField("backend", "drm"),
		renderer: render.New(config.Background, log),
		heads:    make(map[output.ID]*head),
		devices:  make(map[string]*device),
	}
}

func (b *Backend) Name() string {
	return "drm"
}

// SwitchVT implements backend.VTSwitcher through the session.
func (b *Backend) SwitchVT(vt int) error {
	b.log.WithField("vt", vt).Info("switching virtual terminal")
	return b.config.Session.SwitchVT(vt)
}

func findCard() (string, error) {
	cards, err := filepath.Glob(filepath.Join(driDir, "card*"))
	if err != nil {
		return "", err
	}
	if len(cards) == 0 {
		return "", fmt.Errorf("no cards in %v: %w", driDir, backend.ErrDeviceLost)
	}
	slices.Sort(cards)
	return cards[0], nil
}

func (b *Backend) Start(ctx context.Context, sink backend.Sink) error {
	path := b.config.Card
	if path == "" {
		p, err := findCard()
		if err != nil {
			return err
		}
		path = p
	}

	file, err := b.config.Session.Open(path)
	if err != nil {
		return fmt.Errorf("open %v: %w", path, err)
	}
	b.card = drm.NewCard(file)
	b.cardPath = path
	if err := b.card.SetMaster(); err != nil {
		b.log.WithError(err).Warn("not DRM master, mode setting will probably fail")
	}

	b.m.Lock()
	b.sink = sink
	b.m.Unlock()
	b.queue = backend.NewInputQueue(func() { sink(backend.InputReady{}) })
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.scan(); err != nil {
		b.Close()
		return err
	}

	b.wg.Add(1)
	go b.readFlips()

	if err := b.startInput(); err != nil {
		b.log.WithError(err).Warn("input unavailable")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.log.WithError(err).Warn("hot-plug unavailable")
		return nil
	}
	b.watcher = watcher
	for _, dir := range []string{driDir, inputDir} {
		if err := watcher.Add(dir); err != nil {
			b.log.WithError(err).WithField("dir", dir).Warn("cannot watch for hot-plug")
		}
	}
	b.wg.Add(1)
	go b.watch()

	return nil
}

func (b *Backend) emit(ev backend.Event) {
	b.m.Lock()
	sink := b.sink
	b.m.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// scan lights up newly connected connectors and drops disconnected
// ones.
func (b *Backend) scan() error {
	res, err := b.card.Resources()
	if err != nil {
		return err
	}

	b.m.Lock()
	used := make(map[uint32]struct{})
	byConnector := make(map[uint32]*head)
	for _, h := range b.heads {
		used[h.crtc] = struct{}{}
		byConnector[h.connector] = h
	}
	b.m.Unlock()

	var added []*output.Output
	var removed []output.ID
	for _, id := range res.Connectors {
		conn, err := b.card.Connector(id)
		if err != nil {
			b.log.WithError(err).WithField("connector", id).Warn("skipping connector")
			continue
		}

		h, lit := byConnector[id]
		connected := (conn.Connection == drm.Connected) && (len(conn.Modes) > 0)
		switch {
		case connected && !lit:
			h, err := b.light(res, conn, used)
			if err != nil {
				b.log.WithError(err).WithField("connector", conn.Name()).Warn("cannot light connector")
				continue
			}
			used[h.crtc] = struct{}{}
			added = append(added, h.out)

		case !connected && lit:
			b.m.Lock()
			delete(b.heads, h.out.ID)
			b.m.Unlock()
			h.cancel()
			h.destroyBuffers()
			delete(used, h.crtc)
			removed = append(removed, h.out.ID)
		}
	}

	for _, id := range removed {
		b.emit(backend.OutputRemoved{Output: id})
	}
	for _, out := range added {
		b.emit(backend.OutputAdded{Output: out})
	}
	return nil
}

func (b *Backend) pickCRTC(res *drm.Resources, conn *drm.Connector, used map[uint32]struct{}) (uint32, bool) {
	if enc, err := b.card.Encoder(conn.EncoderID); err == nil && enc.CRTCID != 0 {
		if _, ok := used[enc.CRTCID]; !ok {
			return enc.CRTCID, true
		}
	}

	for _, encID := range conn.Encoders {
		enc, err := b.card.Encoder(encID)
		if err != nil {
			continue
		}
		for i, crtc := range res.CRTCs {
			if enc.PossibleCRTCs&(1<<i) == 0 {
				continue
			}
			if _, ok := used[crtc]; !ok {
				return crtc, true
			}
		}
	}
	return 0, false
}

func (b *Backend) light(res *drm.Resources, conn *drm.Connector, used map[uint32]struct{}) (*head, error) {
	crtc, ok := b.pickCRTC(res, conn, used)
	if !ok {
		return nil, errors.New("no free crtc")
	}

	modes := make([]output.Mode, 0, len(conn.Modes))
	for _, m := range conn.Modes {
		modes = append(modes, output.Mode{
			Size:      image.Pt(int(m.HDisplay), int(m.VDisplay)),
			Refresh:   m.Refresh(),
			Preferred: m.Preferred(),
		})
	}

	b.m.Lock()
	b.nextOutput++
	id := b.nextOutput
	b.m.Unlock()

	out, err := output.New(id, conn.Name(), modes)
	if err != nil {
		return nil, err
	}
	out.PhysicalSize = image.Pt(int(conn.MMWidth), int(conn.MMHeight))

	h := &head{
		out:       out,
		connector: conn.ID,
		crtc:      crtc,
		modes:     conn.Modes,
	}
	if err := b.modeset(h, out.Mode()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(b.ctx)
	h.cancel = cancel
	b.wg.Add(1)
	go b.vsync(ctx, id, out.Mode().Refresh)

	b.m.Lock()
	b.heads[id] = h
	b.m.Unlock()

	b.log.WithFields(logrus.Fields{
		"output": out,
		"crtc":   crtc,
	}).Info("output lit")
	return h, nil
}

// modeset reallocates a head's buffers for mode and scans out the
// first of them.
func (b *Backend) modeset(h *head, mode output.Mode) error {
	i := slices.IndexFunc(h.modes, func(m drm.ModeInfo) bool {
		return (int(m.HDisplay) == mode.Size.X) && (int(m.VDisplay) == mode.Size.Y) && (m.Refresh() == mode.Refresh)
	})
	if i < 0 {
		return fmt.Errorf("mode %v: %w", mode, output.ErrInvalidMode)
	}

	h.destroyBuffers()
	for j := range h.bufs {
		d, err := b.card.CreateDumb(mode.Size.X, mode.Size.Y)
		if err != nil {
			h.destroyBuffers()
			return err
		}
		h.bufs[j] = d
	}

	h.current = h.modes[i]
	h.front = 0
	h.prev.Clear()
	h.flipping = false
	return b.card.SetCRTC(h.crtc, h.bufs[0].FB, []uint32{h.connector}, &h.current)
}

// vsync paces an output at its refresh rate. Page flip completions are
// reported separately.
func (b *Backend) vsync(ctx context.Context, id output.ID, refresh int) {
	defer b.wg.Done()

	if refresh <= 0 {
		refresh = 60000
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) * 1000 / float64(refresh)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.emit(backend.Vsync{Output: id, At: now})
		}
	}
}

func (b *Backend) readFlips() {
	defer b.wg.Done()

	buf := make([]byte, 1024)
	for {
		events, err := b.card.ReadEvents(buf)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.emit(backend.DeviceLost{Err: fmt.Errorf("read events: %w", err)})
			return
		}

		now := time.Now()
		for _, ev := range events {
			if ev.Type != drm.EventFlipComplete {
				continue
			}

			b.m.Lock()
			var id output.ID
			for hid, h := range b.heads {
				if h.crtc == ev.CRTC && h.flipping {
					h.flipping = false
					h.front = 1 - h.front
					id = hid
					break
				}
			}
			b.m.Unlock()

			if id != 0 {
				b.emit(backend.Presented{Output: id, Seq: ev.UserData, At: now})
			}
		}
	}
}

func (b *Backend) startInput() error {
	devs, err := evdev.ListInputDevices(b.config.Input)
	if err != nil {
		return err
	}
	for _, dev := range devs {
		b.addDevice(dev)
	}
	return nil
}

func (b *Backend) openDevice(path string) {
	if ok, _ := filepath.Match(b.config.Input, path); !ok {
		return
	}

	dev, err := evdev.Open(path)
	if err != nil {
		b.log.WithError(err).WithField("device", path).Debug("cannot open input device")
		return
	}
	b.addDevice(dev)
}

func (b *Backend) addDevice(dev *evdev.InputDevice) {
	caps := classify(dev)
	if caps == 0 {
		dev.File.Close()
		return
	}

	if b.config.GrabInput {
		if err := dev.Grab(); err != nil {
			b.log.WithError(err).WithField("device", dev.Name).Warn("cannot grab input device")
		}
	}

	b.m.Lock()
	if _, ok := b.devices[dev.Fn]; ok {
		b.m.Unlock()
		dev.File.Close()
		return
	}
	b.nextDevice++
	d := &device{
		id:   b.nextDevice,
		path: dev.Fn,
		dev:  dev,
		caps: caps,
	}
	b.devices[d.path] = d
	b.m.Unlock()

	b.log.WithFields(logrus.Fields{
		"device": dev.Name,
		"path":   d.path,
		"caps":   caps,
	}).Info("input device added")
	b.queue.Push(&input.DeviceAdded{
		Header: input.Header{At: b.queue.Now(), Source: d.id},
		Name:   dev.Name,
		Caps:   caps,
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		d.read(b.queue, b.log)
		b.removeDevice(d.path)
	}()
}

func (b *Backend) removeDevice(path string) {
	b.m.Lock()
	d, ok := b.devices[path]
	delete(b.devices, path)
	b.m.Unlock()
	if !ok {
		return
	}

	d.close()
	b.queue.Push(&input.DeviceRemoved{
		Header: input.Header{At: b.queue.Now(), Source: d.id},
	})
}

func (b *Backend) watch() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.log.WithError(err).Warn("hot-plug watch failed")

		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.hotplug(ev)
		}
	}
}

func (b *Backend) hotplug(ev fsnotify.Event) {
	switch {
	case strings.HasPrefix(ev.Name, inputDir):
		switch {
		case ev.Has(fsnotify.Create):
			b.openDevice(ev.Name)
		case ev.Has(fsnotify.Remove):
			b.removeDevice(ev.Name)
		}

	case ev.Name == b.cardPath:
		if ev.Has(fsnotify.Remove) {
			b.emit(backend.DeviceLost{Err: fmt.Errorf("%v removed: %w", ev.Name, backend.ErrDeviceLost)})
			return
		}
		if err := b.scan(); err != nil {
			b.log.WithError(err).Warn("connector rescan failed")
		}
	}
}

func (b *Backend) Outputs() []*output.Output {
	b.m.Lock()
	defer b.m.Unlock()

	outputs := make([]*output.Output, 0, len(b.heads))
	for _, h := range b.heads {
		outputs = append(outputs, h.out)
	}
	slices.SortFunc(outputs, func(o1, o2 *output.Output) int { return int(o1.ID) - int(o2.ID) })
	return outputs
}

func (b *Backend) Import(buf *buffer.Buffer) (image.Image, error) {
	return render.Import(buf)
}

func (b *Backend) Present(f *output.Frame) error {
	b.m.Lock()
	defer b.m.Unlock()

	h, ok := b.heads[f.Output.ID]
	if !ok {
		return fmt.Errorf("present on %v: %w", f.Output, backend.ErrUnknownOutput)
	}
	if h.flipping {
		return output.ErrRetry
	}

	mode := f.Output.Mode()
	if (int(h.current.HDisplay) != mode.Size.X) || (int(h.current.VDisplay) != mode.Size.Y) || (h.current.Refresh() != mode.Refresh) {
		if err := b.modeset(h, mode); err != nil {
			return err
		}
	}

	back := h.bufs[1-h.front]
	fb := &shmimage.ARGB8888{
		Pix:    back.Pix,
		Stride: back.Pitch,
		Rect:   image.Rect(0, 0, back.Width, back.Height),
	}

	frame := *f
	frame.Damage = f.Damage.Clone()
	frame.Damage.Union(h.prev)
	b.renderer.Render(fb, &frame)
	h.prev = f.Damage.Clone()

	err := b.card.PageFlip(h.crtc, back.FB, f.Seq)
	switch {
	case err == nil:
		h.flipping = true
		return output.ErrPending
	case errors.Is(err, unix.EBUSY):
		return output.ErrRetry
	default:
		return err
	}
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
	if b.watcher != nil {
		b.watcher.Close()
	}

	b.m.Lock()
	devices := slices.Collect(maps.Values(b.devices))
	b.devices = make(map[string]*device)
	heads := b.heads
	b.heads = make(map[output.ID]*head)
	b.sink = nil
	b.m.Unlock()

	for _, d := range devices {
		d.close()
	}

	var errs []error
	if b.card != nil {
		for _, h := range heads {
			h.destroyBuffers()
		}
		b.card.DropMaster()
		// Closing the card unblocks readFlips.
		errs = append(errs, b.config.Session.Close(b.card.File()))
	}

	b.wg.Wait()
	return errors.Join(errs...)
}
