package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"deedles.dev/wlcomp/stats"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Source provides the data that the server reports. The compositor
// implements it.
type Source interface {
	Snapshot(ctx context.Context) (stats.Snapshot, error)
}

// Server answers requests on the control socket.
type Server struct {
	path   string
	lis    *net.UnixListener
	source Source
	log    logrus.FieldLogger

	wg    sync.WaitGroup
	close sync.Once
}

// Listen creates the control socket at path, replacing a stale one.
func Listen(path string, source Source, log logrus.FieldLogger) (*Server, error) {
	if err := os.Remove(path); (err != nil) && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove old socket: %w", err)
	}

	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}

	return &Server{
		path:   path,
		lis:    lis,
		source: source,
		log:    log.WithField("component", "ipc"),
	}, nil
}

// Path returns the path of the socket.
func (s *Server) Path() string {
	return s.path
}

// Serve accepts connections until ctx is canceled or the server is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.log.WithField("path", s.path).Info("control socket listening")
	for {
		conn, err := s.lis.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

// Close stops accepting connections and removes the socket.
func (s *Server) Close() error {
	var err error
	s.close.Do(func() {
		err = s.lis.Close()
		os.Remove(s.path)
	})
	return err
}

func (s *Server) handle(ctx context.Context, conn *net.UnixConn) {
	defer s.wg.Done()
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		m := dynamicpb.NewMessage(schema.request)
		if err := readMessage(conn, m); err != nil {
			s.log.WithError(err).Debug("connection closed")
			return
		}

		resp := s.respond(ctx, requestFrom(m))
		if err := writeMessage(conn, resp.message()); err != nil {
			s.log.WithError(err).Warn("send response")
			return
		}
	}
}

func (s *Server) respond(ctx context.Context, req Request) Response {
	switch req.Type {
	case RequestOutputs, RequestStats:
		snap, err := s.source.Snapshot(ctx)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if req.Type == RequestOutputs {
			return Response{Outputs: &OutputResponse{Outputs: snap.Outputs}}
		}
		return Response{Stats: &StatsResponse{Snapshot: snap}}

	default:
		return Response{Error: fmt.Sprintf("unknown request type %v", req.Type)}
	}
}
