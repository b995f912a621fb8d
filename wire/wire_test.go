package wire_test

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deedles.dev/wlcomp/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFixed(t *testing.T) {
	tests := []struct {
		in   float64
		int  int
		frac int
	}{
		{1.5, 1, 128},
		{-1.5, -2, 128},
		{0.25, 0, 64},
		{100, 100, 0},
	}
	for _, test := range tests {
		f := wire.FixedFloat(test.in)
		assert.Equal(t, test.int, f.Int(), "%v", test.in)
		assert.Equal(t, test.frac, f.Frac(), "%v", test.in)
		assert.Equal(t, test.in, f.Float())
	}
	assert.Equal(t, 3.0, wire.FixedInt(3).Float())
	assert.Equal(t, "-1.5", wire.FixedFloat(-1.5).String())
}

func TestParseMessage(t *testing.T) {
	mb := wire.NewMessage(3, 2)
	mb.WriteInt(-4)
	mb.WriteUint(9)
	mb.WriteString("wl_compositor")
	mb.WriteFixed(wire.FixedFloat(2.5))
	mb.WriteArray([]byte{1, 2, 3})
	mb.WriteNewID(wire.NewID{Interface: "wl_seat", Version: 7, ID: 12})
	mb.WriteString("")

	data, fds, err := mb.Encode()
	require.NoError(t, err)
	assert.Empty(t, fds)
	assert.Zero(t, len(data)%4)

	msg, err := wire.ParseMessage(data, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), msg.Sender())
	assert.Equal(t, uint16(2), msg.Op())
	assert.Equal(t, uint16(len(data)), msg.Size())

	assert.Equal(t, int32(-4), msg.ReadInt())
	assert.Equal(t, uint32(9), msg.ReadUint())
	assert.Equal(t, "wl_compositor", msg.ReadString())
	assert.Equal(t, 2.5, msg.ReadFixed().Float())
	assert.Equal(t, []byte{1, 2, 3}, msg.ReadArray())
	assert.Equal(t, wire.NewID{Interface: "wl_seat", Version: 7, ID: 12}, msg.ReadNewID())
	assert.Equal(t, "", msg.ReadString())
	assert.NoError(t, msg.Done())

	assert.Zero(t, msg.ReadUint())
	assert.ErrorIs(t, msg.Err(), io.ErrUnexpectedEOF)
}

func TestParseMessageTrailing(t *testing.T) {
	mb := wire.NewMessage(1, 0)
	mb.WriteUint(1)
	mb.WriteUint(2)
	data, _, err := mb.Encode()
	require.NoError(t, err)

	msg, err := wire.ParseMessage(data, nil)
	require.NoError(t, err)
	msg.ReadUint()
	assert.ErrorIs(t, msg.Done(), wire.ErrTrailingData)

	_, err = wire.ParseMessage(data[:6], nil)
	assert.ErrorIs(t, err, wire.ErrShortMessage)
}

func TestMissingFD(t *testing.T) {
	mb := wire.NewMessage(1, 0)
	data, _, err := mb.Encode()
	require.NoError(t, err)

	msg, err := wire.ParseMessage(data, nil)
	require.NoError(t, err)
	assert.Nil(t, msg.ReadFile())
	assert.ErrorIs(t, msg.Err(), wire.ErrNoFD)
}

func pair(t *testing.T) (*wire.Conn, *wire.Conn) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	conns := make([]*wire.Conn, 2)
	for i, fd := range fds {
		file := os.NewFile(uintptr(fd), "pair")
		c, err := wire.FileConn(file)
		file.Close()
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		conns[i] = c
	}
	return conns[0], conns[1]
}

func TestConnRoundTrip(t *testing.T) {
	a, b := pair(t)

	file, err := os.CreateTemp(t.TempDir(), "fd")
	require.NoError(t, err)
	defer file.Close()
	_, err = file.WriteString("hello")
	require.NoError(t, err)

	first := wire.NewMessage(5, 1)
	first.WriteString("first")
	first.WriteFile(file)
	require.NoError(t, a.WriteMessage(first))

	second := wire.NewMessage(6, 0)
	second.WriteUint(42)
	require.NoError(t, a.WriteMessage(second))

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), msg.Sender())
	assert.Equal(t, "first", msg.ReadString())
	got := msg.ReadFile()
	require.NoError(t, msg.Done())
	require.NotNil(t, got)
	defer got.Close()

	buf := make([]byte, 5)
	_, err = got.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	msg, err = b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), msg.Sender())
	assert.Equal(t, uint32(42), msg.ReadUint())

	require.NoError(t, a.Close())
	_, err = b.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseWhileReading(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])
	file := os.NewFile(uintptr(fds[0]), "pair")
	a, err := wire.FileConn(file)
	file.Close()
	require.NoError(t, err)

	// Half a header, so the read blocks with data already buffered.
	_, err = unix.Write(fds[1], []byte{1, 0})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		_, err := a.ReadMessage()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "panic")
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after close")
	}
}

func TestLargeMessage(t *testing.T) {
	a, b := pair(t)

	big := make([]byte, 10000)
	for i := range big {
		big[i] = byte(i)
	}
	mb := wire.NewMessage(1, 0)
	mb.WriteArray(big)

	done := make(chan error, 1)
	go func() { done <- a.WriteMessage(mb) }()

	msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, big, msg.ReadArray())
	require.NoError(t, <-done)
}

func TestNewSocketPath(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"wayland-0", "wayland-0.lock", "wayland-1.lock", "other"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	path, err := wire.NewSocketPath(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "wayland-2"), path)
}

func TestListen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayland-test")
	lis, err := wire.Listen(path)
	require.NoError(t, err)

	_, err = wire.Listen(path)
	assert.Error(t, err, "name is locked")

	c, err := net.Dial("unix", path)
	require.NoError(t, err)
	c.Close()

	require.NoError(t, lis.Close())
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".lock")
}
