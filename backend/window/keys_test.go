package window

import (
	"testing"

	"deedles.dev/wlcomp/input"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/stretchr/testify/assert"
)

func TestKeycodes(t *testing.T) {
	assert.EqualValues(t, input.KeyEsc, keycodes[ebiten.KeyEscape])
	assert.EqualValues(t, input.KeyBackspace, keycodes[ebiten.KeyBackspace])
	assert.EqualValues(t, input.KeyLeftCtrl, keycodes[ebiten.KeyControlLeft])
	assert.EqualValues(t, input.KeyLeftAlt, keycodes[ebiten.KeyAltLeft])
	assert.EqualValues(t, 30, keycodes[ebiten.KeyA])

	seen := make(map[uint32]ebiten.Key)
	for k, code := range keycodes {
		if prev, ok := seen[code]; ok {
			t.Errorf("%v and %v both map to %v", prev, k, code)
		}
		seen[code] = k
	}
}
