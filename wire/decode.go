package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"deedles.dev/wlcomp/internal/bin"
)

// fdSource hands out received file descriptors in the order they
// arrived.
type fdSource interface {
	popFD() (int, bool)
}

type fdList []int

func (l *fdList) popFD() (int, bool) {
	if len(*l) == 0 {
		return -1, false
	}
	fd := (*l)[0]
	*l = (*l)[1:]
	return fd, true
}

// MessageBuffer holds message data that has been read from the socket
// but not yet decoded. Errors are sticky: once a read fails, every
// later read returns a zero value and Err reports the first failure.
type MessageBuffer struct {
	sender uint32
	op     uint16
	size   uint16
	data   bytes.Reader
	fds    fdSource
	err    error
	args   []any
}

// ParseMessage decodes a single message from data, which must contain
// exactly one message including its header. File descriptors for the
// message are taken from fds in order.
func ParseMessage(data []byte, fds []int) (*MessageBuffer, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortMessage
	}
	sender := bin.Value[uint32]([4]byte(data[0:4]))
	so := bin.Value[uint32]([4]byte(data[4:8]))
	size := int(so >> 16)
	if size != len(data) {
		return nil, fmt.Errorf("header says %v bytes, got %v: %w", size, len(data), ErrShortMessage)
	}

	list := fdList(fds)
	return newMessageBuffer(sender, so, data[HeaderSize:], &list), nil
}

func newMessageBuffer(sender, so uint32, body []byte, fds fdSource) *MessageBuffer {
	mb := MessageBuffer{
		sender: sender,
		op:     uint16(so & 0xFFFF),
		size:   uint16(so >> 16),
		fds:    fds,
	}
	mb.data.Reset(body)
	return &mb
}

// Sender is the object ID of the sender of the message.
func (r *MessageBuffer) Sender() uint32 {
	return r.sender
}

// Op is the opcode of the message.
func (r *MessageBuffer) Op() uint16 {
	return r.op
}

// Size is the total size of the message, including the header.
func (r *MessageBuffer) Size() uint16 {
	return r.size
}

// Err returns the first error encountered while decoding.
func (r *MessageBuffer) Err() error {
	if errors.Is(r.err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return r.err
}

// Done reports an error if decoding failed or if any of the message's
// data was left unread.
func (r *MessageBuffer) Done() error {
	if err := r.Err(); err != nil {
		return err
	}
	if r.data.Len() > 0 {
		return fmt.Errorf("%v bytes: %w", r.data.Len(), ErrTrailingData)
	}
	return nil
}

func (r *MessageBuffer) ReadInt() (v int32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[int32](&r.data)
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadUint() (v uint32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[uint32](&r.data)
	r.args = append(r.args, v)
	return v
}

// ReadObject reads an object ID. Zero means null.
func (r *MessageBuffer) ReadObject() uint32 {
	return r.ReadUint()
}

func (r *MessageBuffer) ReadNewID() NewID {
	return NewID{
		Interface: r.ReadString(),
		Version:   r.ReadUint(),
		ID:        r.ReadUint(),
	}
}

func (r *MessageBuffer) ReadFixed() (v Fixed) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[Fixed](&r.data)
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadString() string {
	if r.err != nil {
		return ""
	}

	length, err := bin.Read[uint32](&r.data)
	if err != nil {
		r.err = err
		return ""
	}
	if length == 0 {
		r.args = append(r.args, "")
		return ""
	}
	if int(length) > r.data.Len() {
		r.err = io.ErrUnexpectedEOF
		return ""
	}

	buf := make([]byte, length+padding(length))
	_, r.err = io.ReadFull(&r.data, buf)
	if r.err != nil {
		return ""
	}
	if buf[length-1] != 0 {
		r.err = ErrNotTerminated
		return ""
	}

	v := string(buf[:length-1])
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadArray() []byte {
	if r.err != nil {
		return nil
	}

	length, err := bin.Read[uint32](&r.data)
	if err != nil {
		r.err = err
		return nil
	}
	if int(length) > r.data.Len() {
		r.err = io.ErrUnexpectedEOF
		return nil
	}

	buf := make([]byte, length+padding(length))
	_, r.err = io.ReadFull(&r.data, buf)
	if r.err != nil {
		return nil
	}

	r.args = append(r.args, buf[:length])
	return buf[:length]
}

// ReadFile takes the next file descriptor received on the connection.
// The caller owns the returned file.
func (r *MessageBuffer) ReadFile() *os.File {
	if r.err != nil {
		return nil
	}

	fd, ok := r.fds.popFD()
	if !ok {
		r.err = ErrNoFD
		return nil
	}

	f := os.NewFile(uintptr(fd), "wayland-fd")
	r.args = append(r.args, f)
	return f
}

// Debug formats the decoded message for tracing.
func (r *MessageBuffer) Debug(iface, method string) string {
	return formatCall(iface, r.sender, method, r.args)
}

func formatCall(iface string, id uint32, method string, args []any) string {
	strs := make([]string, 0, len(args))
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			strs = append(strs, strconv.Quote(arg))
		case *os.File:
			strs = append(strs, "fd "+strconv.FormatUint(uint64(arg.Fd()), 10))
		case []byte:
			strs = append(strs, fmt.Sprintf("array[%v]", len(arg)))
		default:
			strs = append(strs, fmt.Sprint(arg))
		}
	}
	return fmt.Sprintf("%v@%v.%v(%v)", iface, id, method, strings.Join(strs, ", "))
}
