package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"deedles.dev/wlcomp/stats"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Client talks to a running compositor's control socket.
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %v: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := writeMessage(c.conn, req.message()); err != nil {
		return Response{}, err
	}

	m := dynamicpb.NewMessage(schema.response)
	if err := readMessage(c.conn, m); err != nil {
		return Response{}, err
	}
	resp := responseFrom(m)
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// Outputs returns the compositor's outputs.
func (c *Client) Outputs(ctx context.Context) ([]stats.Output, error) {
	resp, err := c.do(ctx, Request{Type: RequestOutputs})
	if err != nil {
		return nil, err
	}
	if resp.Outputs == nil {
		return nil, errors.New("response has no outputs")
	}
	return resp.Outputs.Outputs, nil
}

// Stats returns a snapshot of the compositor's statistics.
func (c *Client) Stats(ctx context.Context) (stats.Snapshot, error) {
	resp, err := c.do(ctx, Request{Type: RequestStats})
	if err != nil {
		return stats.Snapshot{}, err
	}
	if resp.Stats == nil {
		return stats.Snapshot{}, errors.New("response has no statistics")
	}
	return resp.Stats.Snapshot, nil
}
