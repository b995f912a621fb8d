package server_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/server"
	"deedles.dev/wlcomp/wire"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type handler struct {
	m          sync.Mutex
	connected  []*server.Conn
	messages   []uint32
	disconnect chan error
	reply      bool
}

func (h *handler) Connect(c *server.Conn) {
	h.m.Lock()
	defer h.m.Unlock()
	h.connected = append(h.connected, c)
}

func (h *handler) Dispatch(c *server.Conn, msg *wire.MessageBuffer) error {
	v := msg.ReadUint()
	h.m.Lock()
	h.messages = append(h.messages, v)
	h.m.Unlock()

	if h.reply {
		mb := wire.NewMessage(1, 0)
		mb.WriteUint(v * 2)
		return c.Send(mb)
	}
	return nil
}

func (h *handler) Disconnect(c *server.Conn, err error) {
	h.disconnect <- err
}

func (h *handler) received() []uint32 {
	h.m.Lock()
	defer h.m.Unlock()
	return append([]uint32(nil), h.messages...)
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
		conns[i] = c
	}
	return conns[0], conns[1]
}

func setup(t *testing.T, h *handler, config server.Config) (context.Context, *server.Server) {
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	loop := ev.NewLoop(log)
	go loop.Run(ctx)

	s := server.New(loop.Post, h, log, config)
	t.Cleanup(s.Close)
	return ctx, s
}

func send(t *testing.T, c *wire.Conn, v uint32) {
	mb := wire.NewMessage(1, 0)
	mb.WriteUint(v)
	require.NoError(t, c.WriteMessage(mb))
}

func TestDispatchAndReply(t *testing.T) {
	h := &handler{disconnect: make(chan error, 1), reply: true}
	ctx, s := setup(t, h, server.Config{})

	local, remote := pair(t)
	s.Add(ctx, local)

	for i := range uint32(3) {
		send(t, remote, i+1)
	}
	for i := range uint32(3) {
		msg, err := remote.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, (i+1)*2, msg.ReadUint())
	}
	assert.Equal(t, []uint32{1, 2, 3}, h.received())
	assert.Equal(t, 1, s.Len())

	require.NoError(t, remote.Close())
	select {
	case err := <-h.disconnect:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("no disconnect")
	}
	assert.Zero(t, s.Len())
}

func TestCloseFlushes(t *testing.T) {
	h := &handler{disconnect: make(chan error, 1)}
	ctx, s := setup(t, h, server.Config{})

	local, remote := pair(t)
	defer remote.Close()
	c := s.Add(ctx, local)

	mb := wire.NewMessage(1, 0)
	mb.WriteString("goodbye")
	require.NoError(t, c.Send(mb))
	c.Close(assert.AnError)

	msg, err := remote.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "goodbye", msg.ReadString())

	select {
	case err := <-h.disconnect:
		assert.ErrorIs(t, err, assert.AnError)
	case <-ctx.Done():
		t.Fatal("no disconnect")
	}
	<-c.Done()

	assert.ErrorIs(t, c.Send(wire.NewMessage(1, 0)), server.ErrClosed)
}

func TestQueueOverflow(t *testing.T) {
	h := &handler{disconnect: make(chan error, 1)}
	ctx, s := setup(t, h, server.Config{QueueSize: 1})

	local, remote := pair(t)
	defer remote.Close()
	c := s.Add(ctx, local)

	// The remote never reads, so eventually both the socket buffer and
	// the queue fill up.
	big := make([]byte, 64*1024)
	var err error
	for range 1000 {
		mb := wire.NewMessage(1, 0)
		mb.WriteArray(big[:wire.MaxMessageSize-16])
		err = c.Send(mb)
		if err != nil {
			break
		}
	}
	require.Error(t, err)

	select {
	case err := <-h.disconnect:
		assert.ErrorIs(t, err, server.ErrQueueFull)
	case <-ctx.Done():
		t.Fatal("no disconnect")
	}
}
