package drm

import (
	"encoding/binary"
	"errors"
	"time"
)

var ErrShortEvent = errors.New("truncated drm event")

// FlipComplete is a page flip or vblank completion read from a card.
type FlipComplete struct {
	Type     uint32
	UserData uint64
	// Time is on the monotonic clock, not the wall clock.
	Time     time.Time
	Sequence uint32
	CRTC     uint32
}

const (
	eventHeaderSize = 8
	vblankSize      = 32
)

// ReadEvents reads pending events from the card. It blocks if there are
// none.
func (c *Card) ReadEvents(buf []byte) ([]FlipComplete, error) {
	n, err := c.file.Read(buf)
	if err != nil {
		return nil, err
	}
	return ParseEvents(buf[:n])
}

// ParseEvents decodes a buffer of drm events. Events other than vblank
// and flip completions are skipped.
func ParseEvents(data []byte) ([]FlipComplete, error) {
	var events []FlipComplete
	for len(data) > 0 {
		if len(data) < eventHeaderSize {
			return events, ErrShortEvent
		}
		typ := binary.NativeEndian.Uint32(data[0:])
		length := int(binary.NativeEndian.Uint32(data[4:]))
		if (length < eventHeaderSize) || (length > len(data)) {
			return events, ErrShortEvent
		}

		if ((typ == EventVblank) || (typ == EventFlipComplete)) && (length >= vblankSize) {
			sec := binary.NativeEndian.Uint32(data[16:])
			usec := binary.NativeEndian.Uint32(data[20:])
			events = append(events, FlipComplete{
				Type:     typ,
				UserData: binary.NativeEndian.Uint64(data[8:]),
				Time:     time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)),
				Sequence: binary.NativeEndian.Uint32(data[24:]),
				CRTC:     binary.NativeEndian.Uint32(data[28:]),
			})
		}

		data = data[length:]
	}
	return events, nil
}
