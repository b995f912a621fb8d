package drm

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructSizes(t *testing.T) {
	assert.EqualValues(t, 68, unsafe.Sizeof(ModeInfo{}))
	assert.EqualValues(t, 64, unsafe.Sizeof(cardRes{}))
	assert.EqualValues(t, 104, unsafe.Sizeof(modeCrtc{}))
	assert.EqualValues(t, 20, unsafe.Sizeof(getEncoder{}))
	assert.EqualValues(t, 80, unsafe.Sizeof(getConnector{}))
	assert.EqualValues(t, 28, unsafe.Sizeof(fbCmd{}))
	assert.EqualValues(t, 24, unsafe.Sizeof(crtcPageFlip{}))
	assert.EqualValues(t, 32, unsafe.Sizeof(createDumb{}))
	assert.EqualValues(t, 16, unsafe.Sizeof(mapDumb{}))
}

func TestIoctlNumbers(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"SET_MASTER", ioctlSetMaster, 0x641e},
		{"DROP_MASTER", ioctlDropMaster, 0x641f},
		{"MODE_GETRESOURCES", ioctlModeGetResources, 0xC04064A0},
		{"MODE_SETCRTC", ioctlModeSetCrtc, 0xC06864A2},
		{"MODE_GETCONNECTOR", ioctlModeGetConnector, 0xC05064A7},
		{"MODE_ADDFB", ioctlModeAddFB, 0xC01C64AE},
		{"MODE_RMFB", ioctlModeRmFB, 0xC00464AF},
		{"MODE_PAGE_FLIP", ioctlModePageFlip, 0xC01864B0},
		{"MODE_CREATE_DUMB", ioctlModeCreateDumb, 0xC02064B2},
		{"MODE_MAP_DUMB", ioctlModeMapDumb, 0xC01064B3},
		{"MODE_DESTROY_DUMB", ioctlModeDestroyDumb, 0xC00464B4},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.got, test.name)
	}
}

func TestModeRefresh(t *testing.T) {
	m := ModeInfo{Clock: 148500, HTotal: 2200, VTotal: 1125, VRefresh: 60}
	assert.Equal(t, 60000, m.Refresh())

	m = ModeInfo{VRefresh: 75}
	assert.Equal(t, 75000, m.Refresh())

	copy(m.Name[:], "1920x1080")
	assert.Equal(t, "1920x1080", m.String())
}

func TestConnectorName(t *testing.T) {
	assert.Equal(t, "HDMI-A-1", (&Connector{Type: 11, TypeID: 1}).Name())
	assert.Equal(t, "eDP-2", (&Connector{Type: 14, TypeID: 2}).Name())
	assert.Equal(t, "Unknown-3", (&Connector{Type: 99, TypeID: 3}).Name())
}

func TestParseEvents(t *testing.T) {
	event := func(typ uint32, length int, user uint64, crtc uint32) []byte {
		buf := make([]byte, length)
		binary.NativeEndian.PutUint32(buf[0:], typ)
		binary.NativeEndian.PutUint32(buf[4:], uint32(length))
		if length >= vblankSize {
			binary.NativeEndian.PutUint64(buf[8:], user)
			binary.NativeEndian.PutUint32(buf[16:], 10)
			binary.NativeEndian.PutUint32(buf[20:], 500)
			binary.NativeEndian.PutUint32(buf[24:], 3)
			binary.NativeEndian.PutUint32(buf[28:], crtc)
		}
		return buf
	}

	var data []byte
	data = append(data, event(EventFlipComplete, vblankSize, 42, 7)...)
	data = append(data, event(0x80000000, 12, 0, 0)...)
	data = append(data, event(EventVblank, vblankSize, 43, 8)...)

	events, err := ParseEvents(data)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(42), events[0].UserData)
	assert.Equal(t, uint32(7), events[0].CRTC)
	assert.Equal(t, uint32(3), events[0].Sequence)
	assert.Equal(t, int64(10), events[0].Time.Unix())
	assert.Equal(t, uint64(43), events[1].UserData)

	_, err = ParseEvents(data[:vblankSize+4])
	assert.ErrorIs(t, err, ErrShortEvent)
}
