package ipc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deedles.dev/wlcomp/stats"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

type source struct {
	snap stats.Snapshot
	err  error
}

func (s source) Snapshot(ctx context.Context) (stats.Snapshot, error) {
	return s.snap, s.err
}

func serve(t *testing.T, src Source) (string, context.CancelFunc, <-chan error) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "wayland-test.ipc")
	s, err := Listen(path, src, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		errc <- s.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return path, cancel, errc
}

func dial(t *testing.T, path string) *Client {
	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

var sample = stats.Snapshot{
	Uptime:   time.Minute,
	Clients:  2,
	Surfaces: 5,
	Outputs: []stats.Output{
		{ID: 1, Name: "HEADLESS-1", Width: 640, Height: 480, State: "idle", Counters: stats.Counters{Presented: 10}},
	},
}

func TestRequests(t *testing.T) {
	path, _, _ := serve(t, source{snap: sample})
	c := dial(t, path)

	outputs, err := c.Outputs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample.Outputs, outputs)

	snap, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample, snap)
}

func TestSourceError(t *testing.T) {
	path, _, _ := serve(t, source{err: errors.New("compositor stopped")})
	c := dial(t, path)

	_, err := c.Stats(context.Background())
	assert.EqualError(t, err, "compositor stopped")
}

func TestUnknownRequest(t *testing.T) {
	path, _, _ := serve(t, source{snap: sample})
	c := dial(t, path)

	_, err := c.do(context.Background(), Request{Type: 99})
	assert.ErrorContains(t, err, "unknown request type")

	// The connection stays usable.
	_, err = c.Stats(context.Background())
	assert.NoError(t, err)
}

func TestWireFormat(t *testing.T) {
	path, _, _ := serve(t, source{snap: sample})
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// Request{type: REQUEST_TYPE_STATS}, encoded by hand.
	req := protowire.AppendTag(nil, 1, protowire.VarintType)
	req = protowire.AppendVarint(req, uint64(RequestStats))
	msg := binary.BigEndian.AppendUint32(nil, uint32(len(req)))
	_, err = conn.Write(append(msg, req...))
	require.NoError(t, err)

	var length uint32
	require.NoError(t, binary.Read(conn, binary.BigEndian, &length))
	data := make([]byte, length)
	_, err = io.ReadFull(conn, data)
	require.NoError(t, err)

	num, typ, n := protowire.ConsumeTag(data)
	require.Positive(t, n)
	assert.Equal(t, protowire.Number(3), num, "stats response")
	assert.Equal(t, protowire.BytesType, typ)

	m := dynamicpb.NewMessage(schema.response)
	require.NoError(t, proto.Unmarshal(data, m))
	resp := responseFrom(m)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, sample, resp.Stats.Snapshot)
}

func TestRequestTypeString(t *testing.T) {
	assert.Equal(t, "REQUEST_TYPE_OUTPUTS", RequestOutputs.String())
	assert.Equal(t, "RequestType(99)", RequestType(99).String())
}

func TestOversizedMessage(t *testing.T) {
	path, _, _ := serve(t, source{snap: sample})
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, binary.Write(conn, binary.BigEndian, uint32(maxMessageSize+1)))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "the server hangs up")
}

func TestShutdownRemovesSocket(t *testing.T) {
	path, cancel, done := serve(t, source{snap: sample})
	dial(t, path)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
