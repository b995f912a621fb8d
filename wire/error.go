package wire

import (
	"errors"
	"fmt"
)

var (
	ErrShortMessage  = errors.New("message shorter than its header")
	ErrMessageSize   = errors.New("message too large")
	ErrNoFD          = errors.New("no more file descriptors")
	ErrNotTerminated = errors.New("string is not null-terminated")
	ErrTrailingData  = errors.New("unused message data")
)

// UnknownOpError is returned when dispatching a message with an
// opcode that its interface doesn't define.
type UnknownOpError struct {
	Interface string
	Op        uint16
}

func (err UnknownOpError) Error() string {
	return fmt.Sprintf("unknown opcode for %v: %v", err.Interface, err.Op)
}
