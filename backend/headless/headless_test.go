package headless_test

import (
	"context"
	"errors"
	"image"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/backend/headless"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type events struct {
	m   sync.Mutex
	evs []backend.Event
}

func (e *events) sink(ev backend.Event) {
	e.m.Lock()
	defer e.m.Unlock()
	e.evs = append(e.evs, ev)
}

func (e *events) take() []backend.Event {
	e.m.Lock()
	defer e.m.Unlock()
	evs := e.evs
	e.evs = nil
	return evs
}

func start(t *testing.T, config headless.Config) (*headless.Backend, *events) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	config.Manual = true
	b := headless.New(config, log)
	var evs events
	require.NoError(t, b.Start(context.Background(), evs.sink))
	t.Cleanup(func() { b.Close() })
	return b, &evs
}

func TestStartAnnouncesOutputs(t *testing.T) {
	b, evs := start(t, headless.Config{Outputs: 2, Size: image.Pt(64, 48)})

	got := evs.take()
	require.Len(t, got, 2)
	for i, ev := range got {
		added, ok := ev.(backend.OutputAdded)
		require.True(t, ok)
		assert.Equal(t, output.ID(i+1), added.Output.ID)
		assert.Equal(t, image.Pt(64, 48), added.Output.Mode().Size)
	}
	assert.Len(t, b.Outputs(), 2)
}

func TestPresent(t *testing.T) {
	b, evs := start(t, headless.Config{Outputs: 1, Size: image.Pt(8, 8)})
	out := b.Outputs()[0]
	evs.take()

	f := &output.Frame{Output: out, Seq: 1, Damage: region.New(image.Rect(0, 0, 8, 8))}
	require.NoError(t, b.Present(f))
	assert.Equal(t, 1, b.Frames(out.ID))

	img, ok := b.Snapshot(out.ID)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 8, 8), img.Rect)
	assert.Equal(t, byte(0xFF), img.Pix[3], "background is opaque")

	now := time.Now()
	b.Tick(now)
	assert.Equal(t, []backend.Event{backend.Vsync{Output: out.ID, At: now}}, evs.take())
}

func TestAsyncPresentConfirmsOnTick(t *testing.T) {
	b, evs := start(t, headless.Config{Outputs: 1, Async: true})
	out := b.Outputs()[0]
	evs.take()

	f := &output.Frame{Output: out, Seq: 7}
	require.ErrorIs(t, b.Present(f), output.ErrPending)

	now := time.Now()
	b.Tick(now)
	assert.Equal(t, []backend.Event{
		backend.Presented{Output: out.ID, Seq: 7, At: now},
		backend.Vsync{Output: out.ID, At: now},
	}, evs.take())
}

func TestFailNext(t *testing.T) {
	b, _ := start(t, headless.Config{Outputs: 1})
	out := b.Outputs()[0]

	boom := errors.New("boom")
	b.FailNext(out.ID, output.ErrRetry, boom)

	f := &output.Frame{Output: out, Seq: 1}
	assert.ErrorIs(t, b.Present(f), output.ErrRetry)
	assert.ErrorIs(t, b.Present(f), boom)
	assert.NoError(t, b.Present(f))
	assert.Equal(t, 1, b.Frames(out.ID))
}

func TestPlugUnplug(t *testing.T) {
	b, evs := start(t, headless.Config{})
	assert.Empty(t, b.Outputs())

	out := b.Plug(output.Mode{Size: image.Pt(100, 100), Refresh: 30000})
	b.Unplug(out.ID)
	b.Unplug(out.ID)

	assert.Equal(t, []backend.Event{
		backend.OutputAdded{Output: out},
		backend.OutputRemoved{Output: out.ID},
	}, evs.take())

	err := b.Present(&output.Frame{Output: out})
	assert.ErrorIs(t, err, backend.ErrUnknownOutput)
}

func TestInput(t *testing.T) {
	b, evs := start(t, headless.Config{})

	b.InjectInput(
		&input.Key{Code: input.KeyEsc, State: input.KeyPressed},
		&input.Key{Code: input.KeyEsc, State: input.KeyReleased},
	)
	b.InjectInput(&input.PointerFrame{})
	assert.Equal(t, []backend.Event{backend.InputReady{}}, evs.take(), "only notified when the queue was empty")

	var got []input.Event
	for ev := range b.PollInput() {
		got = append(got, ev)
		if len(got) == 1 {
			break
		}
	}
	got = append(got, slices.Collect(b.PollInput())...)
	assert.Len(t, got, 3)
	assert.Empty(t, slices.Collect(b.PollInput()))
}
