package drm

import (
	"errors"
	"os"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/pointer"
	evdev "github.com/gvalkov/golang-evdev"
	"github.com/sirupsen/logrus"
)

// Wheel detents are reported as this many logical pixels.
const wheelStep = 15

type device struct {
	id   input.DeviceID
	path string
	dev  *evdev.InputDevice
	caps input.Capabilities
}

// classify returns the capabilities of an evdev device that the
// compositor knows how to use.
func classify(dev *evdev.InputDevice) input.Capabilities {
	var caps input.Capabilities
	for typ, codes := range dev.Capabilities {
		for _, code := range codes {
			switch typ.Type {
			case evdev.EV_KEY:
				switch {
				case (code.Code >= evdev.BTN_LEFT) && (code.Code <= evdev.BTN_TASK):
					caps |= input.CapPointer
				case (code.Code >= evdev.KEY_ESC) && (code.Code <= evdev.KEY_Z):
					caps |= input.CapKeyboard
				}
			case evdev.EV_REL:
				if (code.Code == evdev.REL_X) || (code.Code == evdev.REL_Y) {
					caps |= input.CapPointer
				}
			}
		}
	}
	return caps
}

// translator turns evdev event frames into input events.
type translator struct {
	id     input.DeviceID
	queue  *backend.InputQueue
	dx, dy float64
	out    []input.Event
	ptr    bool
}

func (t *translator) header(ev *evdev.InputEvent) input.Header {
	sec, nsec := ev.Time.Unix()
	return input.Header{
		At:     t.queue.At(time.Unix(sec, nsec)),
		Source: t.id,
	}
}

func (t *translator) translate(ev *evdev.InputEvent) {
	switch ev.Type {
	case evdev.EV_REL:
		switch ev.Code {
		case evdev.REL_X:
			t.dx += float64(ev.Value)
		case evdev.REL_Y:
			t.dy += float64(ev.Value)
		case evdev.REL_WHEEL:
			t.axis(ev, pointer.AxisVertical, -ev.Value)
		case evdev.REL_HWHEEL:
			t.axis(ev, pointer.AxisHorizontal, ev.Value)
		}

	case evdev.EV_KEY:
		if ev.Value > 1 {
			// Autorepeat is the client's job.
			return
		}
		if (ev.Code >= evdev.BTN_LEFT) && (ev.Code <= evdev.BTN_TASK) {
			state := pointer.Released
			if ev.Value != 0 {
				state = pointer.Pressed
			}
			t.out = append(t.out, &input.PointerButton{
				Header: t.header(ev),
				Button: pointer.Button(ev.Code),
				State:  state,
			})
			t.ptr = true
			return
		}
		state := input.KeyReleased
		if ev.Value != 0 {
			state = input.KeyPressed
		}
		t.out = append(t.out, &input.Key{
			Header: t.header(ev),
			Code:   uint32(ev.Code),
			State:  state,
		})

	case evdev.EV_SYN:
		if ev.Code == evdev.SYN_REPORT {
			t.flush(ev)
		}
	}
}

func (t *translator) axis(ev *evdev.InputEvent, axis pointer.Axis, detents int32) {
	t.out = append(t.out, &input.PointerAxis{
		Header:   t.header(ev),
		Axis:     axis,
		Source:   pointer.SourceWheel,
		Value:    float64(detents * wheelStep),
		Discrete: detents,
	})
	t.ptr = true
}

func (t *translator) flush(ev *evdev.InputEvent) {
	if (t.dx != 0) || (t.dy != 0) {
		// Motion goes first so that buttons in the same frame act at
		// the new position.
		t.out = append([]input.Event{&input.PointerMotion{
			Header: t.header(ev),
			DX:     t.dx,
			DY:     t.dy,
		}}, t.out...)
		t.dx, t.dy = 0, 0
		t.ptr = true
	}
	if t.ptr {
		t.out = append(t.out, &input.PointerFrame{Header: t.header(ev)})
		t.ptr = false
	}

	t.queue.Push(t.out...)
	t.out = t.out[:0]
}

// read pumps events from a device until it fails or is closed.
func (d *device) read(queue *backend.InputQueue, log logrus.FieldLogger) error {
	t := translator{id: d.id, queue: queue}
	for {
		events, err := d.dev.Read()
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return nil
			}
			log.WithError(err).WithField("device", d.path).Warn("input device failed")
			return err
		}
		for i := range events {
			t.translate(&events[i])
		}
	}
}

func (d *device) close() error {
	return d.dev.File.Close()
}
