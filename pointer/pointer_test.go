package pointer_test

import (
	"testing"

	"deedles.dev/wlcomp/pointer"
	"github.com/stretchr/testify/assert"
)

func TestButtons(t *testing.T) {
	var b pointer.Buttons
	assert.True(t, b.Press(pointer.ButtonLeft))
	assert.False(t, b.Press(pointer.ButtonLeft))
	assert.True(t, b.Press(pointer.ButtonRight))
	assert.Equal(t, 2, b.Count())

	assert.True(t, b.Release(pointer.ButtonLeft))
	assert.False(t, b.Release(pointer.ButtonLeft))
	assert.True(t, b.Held(pointer.ButtonRight))
	assert.Equal(t, 1, b.Count())
}

func TestButtonString(t *testing.T) {
	assert.Equal(t, "middle", pointer.ButtonMiddle.String())
	assert.Equal(t, "unknown", pointer.Button(1).String())
}
