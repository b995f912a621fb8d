package client_test

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"slices"
	"testing"
	"time"

	"deedles.dev/wlcomp/backend/headless"
	"deedles.dev/wlcomp/client"
	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type env struct {
	display *client.Display
	comp    *compositor.Compositor
	backend *headless.Backend
}

func fileConn(t *testing.T, fd int, name string) *wire.Conn {
	file := os.NewFile(uintptr(fd), name)
	defer file.Close()
	c, err := wire.FileConn(file)
	require.NoError(t, err)
	return c
}

func start(t *testing.T) *env {
	log := logrus.New()
	log.SetOutput(io.Discard)

	b := headless.New(headless.Config{Outputs: 1, Size: image.Pt(320, 240)}, log)
	comp, err := compositor.New(compositor.Config{Backend: b}, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- comp.Run(ctx, nil) }()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	comp.AddClient(ctx, fileConn(t, fds[1], "compositor"))

	display := client.Connect(fileConn(t, fds[0], "client"))
	t.Cleanup(func() {
		display.Close()
		cancel()
		<-done
	})

	return &env{display: display, comp: comp, backend: b}
}

// until round trips until cond is true.
func (e *env) until(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return (e.display.RoundTrip() == nil) && cond()
	}, 5*time.Second, 10*time.Millisecond)
}

func (e *env) global(t *testing.T, in *protocol.Interface) uint32 {
	t.Helper()
	registry := e.display.Registry()

	var name uint32
	e.until(t, func() bool {
		for n, g := range registry.Globals() {
			if g.Is(in) {
				name = n
				return true
			}
		}
		return false
	})
	return name
}

func TestGlobals(t *testing.T) {
	e := start(t)
	registry := e.display.Registry()

	e.until(t, func() bool {
		var names []string
		for _, g := range registry.Globals() {
			names = append(names, g.Name)
		}
		return slices.Contains(names, "wl_output")
	})

	var names []string
	for _, g := range registry.Globals() {
		names = append(names, g.Name)
	}
	for _, want := range []string{"wl_compositor", "wl_subcompositor", "wl_shm", "wl_seat", "xdg_wm_base", "zwlr_layer_shell_v1"} {
		assert.Contains(t, names, want)
	}
}

func TestOutputDescription(t *testing.T) {
	e := start(t)
	out := client.BindOutput(e.display, e.global(t, &protocol.Output))

	var size image.Point
	var done bool
	out.Mode = func(flags uint32, w, h, refresh int32) {
		size = image.Pt(int(w), int(h))
	}
	out.Done = func() { done = true }

	e.until(t, func() bool { return done })
	assert.Equal(t, image.Pt(320, 240), size)
}

func TestToplevelIsPresented(t *testing.T) {
	e := start(t)
	comp := client.BindCompositor(e.display, e.global(t, &protocol.Compositor))
	shm := client.BindShm(e.display, e.global(t, &protocol.SHM))
	wm := client.BindWmBase(e.display, e.global(t, &protocol.WmBase))

	s := comp.CreateSurface()
	xs := wm.GetXdgSurface(s)
	var serial uint32
	xs.Configure = func(v uint32) { serial = v }
	top := xs.GetToplevel()
	top.SetTitle("test")
	s.Commit()

	e.until(t, func() bool { return serial != 0 })
	xs.AckConfigure(serial)

	buf, err := client.NewImageBuffer(shm, 64, 48)
	require.NoError(t, err)
	defer buf.Destroy()
	draw.Draw(buf.Image(), buf.Bounds(), image.NewUniform(color.RGBA{R: 0xFF, A: 0xFF}), image.Point{}, draw.Src)

	var framed bool
	s.Attach(buf.Buffer(), 0, 0)
	s.Damage(buf.Bounds())
	s.Frame().Then(func(uint32) { framed = true })
	s.Commit()

	e.until(t, func() bool { return framed })

	snap, err := e.comp.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Clients)
	assert.Equal(t, 1, snap.Surfaces)
	require.Len(t, snap.Outputs, 1)
	assert.NotZero(t, snap.Outputs[0].Counters.Presented)
}

func TestProtocolErrorDisconnects(t *testing.T) {
	e := start(t)
	comp := client.BindCompositor(e.display, e.global(t, &protocol.Compositor))
	shm := client.BindShm(e.display, e.global(t, &protocol.SHM))
	wm := client.BindWmBase(e.display, e.global(t, &protocol.WmBase))

	var code uint32
	var failed bool
	e.display.Error = func(id, c uint32, msg string) {
		code, failed = c, true
	}

	s := comp.CreateSurface()
	wm.GetXdgSurface(s).GetToplevel()

	buf, err := client.NewImageBuffer(shm, 16, 16)
	require.NoError(t, err)
	defer buf.Destroy()
	s.Attach(buf.Buffer(), 0, 0)
	s.Commit()

	require.Eventually(t, func() bool {
		return e.display.RoundTrip() != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, failed)
	assert.EqualValues(t, protocol.XdgSurfaceErrorUnconfiguredBuffer, code)
}
