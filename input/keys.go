package input

// Evdev key codes the compositor itself cares about. The rest pass
// through to clients untouched.
const (
	KeyEsc        = 1
	KeyBackspace  = 14
	KeyTab        = 15
	KeyEnter      = 28
	KeyLeftCtrl   = 29
	KeyLeftShift  = 42
	KeyRightShift = 54
	KeyLeftAlt    = 56
	KeySpace      = 57
	KeyCapsLock   = 58
	KeyF1         = 59
	KeyF2         = 60
	KeyF3         = 61
	KeyF4         = 62
	KeyF5         = 63
	KeyF6         = 64
	KeyF7         = 65
	KeyF8         = 66
	KeyF9         = 67
	KeyF10        = 68
	KeyNumLock    = 69
	KeyF11        = 87
	KeyF12        = 88
	KeyRightCtrl  = 97
	KeyRightAlt   = 100
	KeyLeftMeta   = 125
	KeyRightMeta  = 126
)

// FunctionKeys are F1 through F12 in order.
var FunctionKeys = [...]uint32{
	KeyF1, KeyF2, KeyF3, KeyF4, KeyF5, KeyF6,
	KeyF7, KeyF8, KeyF9, KeyF10, KeyF11, KeyF12,
}

func (s KeyState) String() string {
	if s == KeyPressed {
		return "pressed"
	}
	return "released"
}
