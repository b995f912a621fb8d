package wire

import (
	"errors"
	"fmt"
	"os"

	"deedles.dev/wlcomp/internal/bin"
	"golang.org/x/sys/unix"
)

// MessageBuilder is a message that is under construction.
type MessageBuilder struct {
	// Interface and Method name the message. They are included purely
	// for tracing.
	Interface string
	Method    string

	sender uint32
	op     uint16
	data   []byte
	fds    []int
	args   []any
	err    error
}

func NewMessage(sender uint32, op uint16) *MessageBuilder {
	return &MessageBuilder{
		sender: sender,
		op:     op,
	}
}

func (mb *MessageBuilder) Sender() uint32 {
	return mb.sender
}

func (mb *MessageBuilder) Op() uint16 {
	return mb.op
}

func (mb *MessageBuilder) WriteInt(v int32) {
	mb.data = bin.Append(mb.data, v)
	mb.args = append(mb.args, v)
}

func (mb *MessageBuilder) WriteUint(v uint32) {
	mb.data = bin.Append(mb.data, v)
	mb.args = append(mb.args, v)
}

// WriteObject writes an object ID. Zero means null.
func (mb *MessageBuilder) WriteObject(id uint32) {
	mb.WriteUint(id)
}

func (mb *MessageBuilder) WriteNewID(v NewID) {
	mb.WriteString(v.Interface)
	mb.WriteUint(v.Version)
	mb.WriteUint(v.ID)
}

func (mb *MessageBuilder) WriteFixed(v Fixed) {
	mb.data = bin.Append(mb.data, v)
	mb.args = append(mb.args, v)
}

func (mb *MessageBuilder) WriteString(v string) {
	length := uint32(len(v) + 1)
	mb.data = bin.Append(mb.data, length)
	mb.data = append(mb.data, v...)
	mb.data = append(mb.data, 0)
	for range padding(length) {
		mb.data = append(mb.data, 0)
	}
	mb.args = append(mb.args, v)
}

func (mb *MessageBuilder) WriteArray(v []byte) {
	length := uint32(len(v))
	mb.data = bin.Append(mb.data, length)
	mb.data = append(mb.data, v...)
	for range padding(length) {
		mb.data = append(mb.data, 0)
	}
	mb.args = append(mb.args, v)
}

// WriteFile duplicates the file's descriptor to be sent with the
// message. The caller keeps ownership of v.
func (mb *MessageBuilder) WriteFile(v *os.File) {
	if mb.err != nil {
		return
	}

	fd, err := unix.FcntlInt(v.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		mb.err = fmt.Errorf("dup fd: %w", err)
		return
	}
	mb.fds = append(mb.fds, fd)
	mb.args = append(mb.args, v)
}

// Encode returns the finished message and the file descriptors to
// send with it. The descriptors belong to the builder until Close is
// called.
func (mb *MessageBuilder) Encode() ([]byte, []int, error) {
	if mb.err != nil {
		return nil, nil, mb.err
	}

	length := HeaderSize + len(mb.data)
	if length > MaxMessageSize {
		return nil, nil, fmt.Errorf("%v bytes: %w", length, ErrMessageSize)
	}

	msg := make([]byte, 0, length)
	msg = bin.Append(msg, mb.sender)
	msg = bin.Append(msg, uint32(length)<<16|uint32(mb.op))
	msg = append(msg, mb.data...)
	return msg, mb.fds, nil
}

// Close closes the builder's duplicated file descriptors.
func (mb *MessageBuilder) Close() error {
	errs := make([]error, 0, len(mb.fds))
	for _, fd := range mb.fds {
		errs = append(errs, unix.Close(fd))
	}
	mb.fds = nil
	return errors.Join(errs...)
}

func (mb *MessageBuilder) String() string {
	iface := mb.Interface
	if iface == "" {
		iface = "object"
	}
	method := mb.Method
	if method == "" {
		method = fmt.Sprintf("op%v", mb.op)
	}
	return formatCall(iface, mb.sender, method, mb.args)
}
