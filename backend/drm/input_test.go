package drm

import (
	"slices"
	"testing"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/pointer"
	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	caps := func(typ int, codes ...int) map[evdev.CapabilityType][]evdev.CapabilityCode {
		cc := make([]evdev.CapabilityCode, 0, len(codes))
		for _, c := range codes {
			cc = append(cc, evdev.CapabilityCode{Code: c})
		}
		return map[evdev.CapabilityType][]evdev.CapabilityCode{{Type: typ}: cc}
	}

	mouse := &evdev.InputDevice{Capabilities: caps(evdev.EV_REL, evdev.REL_X, evdev.REL_Y)}
	assert.Equal(t, input.CapPointer, classify(mouse))

	kbd := &evdev.InputDevice{Capabilities: caps(evdev.EV_KEY, evdev.KEY_A, evdev.KEY_Z)}
	assert.Equal(t, input.CapKeyboard, classify(kbd))

	power := &evdev.InputDevice{Capabilities: caps(evdev.EV_KEY, evdev.KEY_POWER)}
	assert.Equal(t, input.Capabilities(0), classify(power))
}

func TestTranslate(t *testing.T) {
	queue := backend.NewInputQueue(nil)
	tr := translator{id: 3, queue: queue}

	for _, ev := range []evdev.InputEvent{
		{Type: evdev.EV_REL, Code: evdev.REL_X, Value: 4},
		{Type: evdev.EV_KEY, Code: evdev.BTN_LEFT, Value: 1},
		{Type: evdev.EV_REL, Code: evdev.REL_Y, Value: -2},
		{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT},
		{Type: evdev.EV_KEY, Code: evdev.KEY_A, Value: 1},
		{Type: evdev.EV_KEY, Code: evdev.KEY_A, Value: 2},
		{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT},
		{Type: evdev.EV_REL, Code: evdev.REL_WHEEL, Value: 1},
		{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT},
	} {
		tr.translate(&ev)
	}

	got := slices.Collect(queue.Drain())
	require.Len(t, got, 6)

	motion := got[0].(*input.PointerMotion)
	assert.Equal(t, 4.0, motion.DX)
	assert.Equal(t, -2.0, motion.DY)
	assert.Equal(t, input.DeviceID(3), motion.Device())

	button := got[1].(*input.PointerButton)
	assert.Equal(t, pointer.ButtonLeft, button.Button)
	assert.Equal(t, pointer.Pressed, button.State)
	assert.IsType(t, &input.PointerFrame{}, got[2])

	key := got[3].(*input.Key)
	assert.Equal(t, uint32(evdev.KEY_A), key.Code)
	assert.Equal(t, input.KeyPressed, key.State)

	axis := got[4].(*input.PointerAxis)
	assert.Equal(t, pointer.AxisVertical, axis.Axis)
	assert.Equal(t, int32(-1), axis.Discrete)
	assert.Equal(t, -15.0, axis.Value)
	assert.IsType(t, &input.PointerFrame{}, got[5])
}
