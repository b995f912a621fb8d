// Package wire implements the Wayland wire protocol: message framing,
// argument encoding, file descriptor passing, and socket discovery.
package wire

import (
	"fmt"
	"math"
)

// HeaderSize is the size of a message header: the sender's object ID
// followed by the message size and opcode.
const HeaderSize = 8

// MaxMessageSize is the largest message the protocol can express.
const MaxMessageSize = math.MaxUint16

// NewID is an untyped new_id argument, as used by wl_registry.bind.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}

func (id NewID) String() string {
	return fmt.Sprintf("new id %v@%v (v%v)", id.Interface, id.ID, id.Version)
}

func padding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
