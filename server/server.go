// Package server accepts Wayland client connections and moves their
// messages between the socket and the compositor's event loop. Each
// connection gets a reader goroutine, which posts decoded messages to
// the loop, and a writer goroutine, which drains a bounded queue of
// outgoing messages so that the loop never blocks on a slow client.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"deedles.dev/wlcomp/internal/set"
	"deedles.dev/wlcomp/wire"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the default number of outgoing messages that
// may wait for a connection's writer.
const DefaultQueueSize = 4096

// Poster runs a function on the event loop. It reports false if the
// loop is gone.
type Poster func(ctx context.Context, f func() error) bool

// Handler is the compositor side of every connection. All of its
// methods are called on the event loop.
type Handler interface {
	Connect(c *Conn)
	Dispatch(c *Conn, msg *wire.MessageBuffer) error
	// Disconnect is called exactly once per connection, after which
	// no more messages from it are dispatched.
	Disconnect(c *Conn, err error)
}

type Config struct {
	QueueSize int
}

type Server struct {
	post    Poster
	handler Handler
	log     logrus.FieldLogger
	config  Config

	nextID atomic.Uint64
	wg     sync.WaitGroup

	m     sync.Mutex
	conns set.Set[*Conn]
}

func New(post Poster, handler Handler, log logrus.FieldLogger, config Config) *Server {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	return &Server{
		post:    post,
		handler: handler,
		log:     log,
		config:  config,
		conns:   make(set.Set[*Conn]),
	}
}

// Serve accepts connections until ctx is canceled or lis fails. It
// closes lis before returning.
func (s *Server) Serve(ctx context.Context, lis *net.UnixListener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		c, err := lis.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return err
		}

		s.Add(ctx, wire.NewConn(c))
	}
}

// Add starts serving an already-connected client, such as one end of
// a socketpair given to a child process.
func (s *Server) Add(ctx context.Context, wc *wire.Conn) *Conn {
	c := newConn(s, s.nextID.Add(1), wc)

	s.m.Lock()
	s.conns.Add(c)
	s.m.Unlock()

	s.log.WithField("conn", c.id).Info("client connected")

	s.wg.Add(2)
	go c.write()
	go c.read(ctx)
	return c
}

func (s *Server) remove(c *Conn) {
	s.m.Lock()
	defer s.m.Unlock()
	s.conns.Remove(c)
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.conns)
}

// Close closes every connection and waits for their goroutines.
func (s *Server) Close() {
	s.m.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.m.Unlock()

	for _, c := range conns {
		c.Abort()
	}
	s.wg.Wait()
}
