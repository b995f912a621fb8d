package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/wire"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = errors.New("outgoing message queue full")
	ErrClosed    = errors.New("connection closed")
)

// Conn is one client connection.
type Conn struct {
	server *Server
	id     uint64
	wc     *wire.Conn
	log    logrus.FieldLogger

	out     chan *wire.MessageBuilder
	closing chan struct{}
	aborted chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	abortOnce sync.Once

	m   sync.Mutex
	err error
}

func newConn(s *Server, id uint64, wc *wire.Conn) *Conn {
	return &Conn{
		server:  s,
		id:      id,
		wc:      wc,
		log:     s.log.WithField("conn", id),
		out:     make(chan *wire.MessageBuilder, s.config.QueueSize),
		closing: make(chan struct{}),
		aborted: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() uint64 {
	return c.id
}

// Err returns the reason the connection was closed, if it was closed
// by the compositor.
func (c *Conn) Err() error {
	c.m.Lock()
	defer c.m.Unlock()
	return c.err
}

// Done is closed once both of the connection's goroutines have
// exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send queues a message without blocking. If the queue is full, the
// client is not keeping up and the connection is aborted.
func (c *Conn) Send(mb *wire.MessageBuilder) error {
	select {
	case <-c.closing:
		mb.Close()
		return ErrClosed
	default:
	}

	select {
	case c.out <- mb:
		return nil
	default:
		mb.Close()
		c.log.Warn("client is not reading its messages")
		c.setErr(ErrQueueFull)
		c.Abort()
		return ErrQueueFull
	}
}

func (c *Conn) setErr(err error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Close closes the connection after every message already queued has
// been written. It is used after sending a fatal protocol error.
func (c *Conn) Close(err error) {
	c.setErr(err)
	c.closeOnce.Do(func() { close(c.closing) })
}

// Abort closes the connection immediately, dropping queued messages.
func (c *Conn) Abort() {
	c.closeOnce.Do(func() { close(c.closing) })
	c.abortOnce.Do(func() {
		close(c.aborted)
		c.wc.Close()
	})
}

func (c *Conn) write() {
	defer c.server.wg.Done()
	defer c.Abort()

	for {
		select {
		case <-c.aborted:
			c.drop()
			return
		case mb := <-c.out:
			if !c.send(mb) {
				return
			}
		case <-c.closing:
			for {
				select {
				case mb := <-c.out:
					if !c.send(mb) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) send(mb *wire.MessageBuilder) bool {
	debug.Printf("[%v] -> %v", c.id, mb)
	err := c.wc.WriteMessage(mb)
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			c.log.WithError(err).Debug("write failed")
		}
		c.drop()
		return false
	}
	return true
}

func (c *Conn) drop() {
	for {
		select {
		case mb := <-c.out:
			mb.Close()
		default:
			return
		}
	}
}

func (c *Conn) read(ctx context.Context) {
	defer c.server.wg.Done()

	var readErr error
	defer func() {
		c.Abort()
		c.server.remove(c)
		c.server.post(context.WithoutCancel(ctx), func() error {
			err := c.Err()
			if err == nil {
				err = readErr
			}
			c.server.handler.Disconnect(c, err)
			c.log.WithError(err).Info("client disconnected")
			return nil
		})
		close(c.done)
	}()

	c.server.post(ctx, func() error {
		c.server.handler.Connect(c)
		return nil
	})

	for {
		msg, err := c.wc.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				readErr = err
			}
			return
		}

		ok := c.server.post(ctx, func() error {
			select {
			case <-c.closing:
				// Messages already read from a connection that is
				// going away are ignored.
				return nil
			default:
			}
			err := c.server.handler.Dispatch(c, msg)
			if err != nil {
				c.log.WithError(err).Debug("dispatch failed")
			}
			return nil
		})
		if !ok {
			return
		}
	}
}
