package x11

import (
	"testing"

	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateKey(t *testing.T) {
	ev := translateKey(5, 9, true).(*input.Key)
	assert.Equal(t, uint32(input.KeyEsc), ev.Code)
	assert.Equal(t, input.KeyPressed, ev.State)

	ev = translateKey(6, 22, false).(*input.Key)
	assert.Equal(t, uint32(input.KeyBackspace), ev.Code)
	assert.Equal(t, input.KeyReleased, ev.State)
}

func TestTranslateButton(t *testing.T) {
	evs := translateButton(0, 3, true)
	require.Len(t, evs, 2)
	button := evs[0].(*input.PointerButton)
	assert.Equal(t, pointer.ButtonRight, button.Button)
	assert.Equal(t, pointer.Pressed, button.State)
	assert.IsType(t, &input.PointerFrame{}, evs[1])

	evs = translateButton(0, 4, true)
	require.Len(t, evs, 2)
	axis := evs[0].(*input.PointerAxis)
	assert.Equal(t, pointer.AxisVertical, axis.Axis)
	assert.Equal(t, int32(-1), axis.Discrete)

	evs = translateButton(0, 7, true)
	axis = evs[0].(*input.PointerAxis)
	assert.Equal(t, pointer.AxisHorizontal, axis.Axis)
	assert.Equal(t, int32(1), axis.Discrete)

	assert.Empty(t, translateButton(0, 5, false), "wheel releases are dropped")
	assert.Empty(t, translateButton(0, 12, true))
}
