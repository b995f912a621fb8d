package xwm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var ErrNoDisplay = errors.New("no free X display")

const maxDisplay = 32

type ServerConfig struct {
	// Path is the Xwayland binary. It defaults to "Xwayland" in PATH.
	Path string
	// SocketDir is where X sockets go. It defaults to /tmp/.X11-unix.
	SocketDir string
	// LockDir is where display lock files go. It defaults to /tmp.
	LockDir string
}

// Server is a running Xwayland process.
type Server struct {
	Display int

	log        logrus.FieldLogger
	cmd        *exec.Cmd
	lockPath   string
	socketPath string
	listener   *net.UnixListener

	wm    net.Conn
	wl    *os.File
	ready chan error

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// Spawn starts Xwayland on the first free display. The returned
// server's WaylandFile must be added to the compositor as a client
// before Xwayland can become ready.
func Spawn(config ServerConfig, log logrus.FieldLogger) (*Server, error) {
	if config.Path == "" {
		config.Path = "Xwayland"
	}
	if config.SocketDir == "" {
		config.SocketDir = "/tmp/.X11-unix"
	}
	if config.LockDir == "" {
		config.LockDir = "/tmp"
	}

	s := Server{
		log:    log.WithField("component", "xwayland"),
		ready:  make(chan error, 1),
		exited: make(chan struct{}),
	}
	err := s.claimDisplay(config)
	if err != nil {
		return nil, err
	}

	err = s.start(config)
	if err != nil {
		s.cleanup()
		return nil, err
	}
	return &s, nil
}

func (s *Server) claimDisplay(config ServerConfig) error {
	err := os.MkdirAll(config.SocketDir, 0o1777)
	if err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	for d := range maxDisplay {
		lock := filepath.Join(config.LockDir, fmt.Sprintf(".X%d-lock", d))
		file, err := os.OpenFile(lock, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return fmt.Errorf("create lock file: %w", err)
		}
		_, err = fmt.Fprintf(file, "%10d\n", os.Getpid())
		file.Close()
		if err != nil {
			os.Remove(lock)
			return fmt.Errorf("write lock file: %w", err)
		}

		path := filepath.Join(config.SocketDir, fmt.Sprintf("X%d", d))
		os.Remove(path)
		lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
		if err != nil {
			os.Remove(lock)
			s.log.WithError(err).WithField("display", d).Debug("display socket unavailable")
			continue
		}
		lis.SetUnlinkOnClose(true)

		s.Display = d
		s.lockPath = lock
		s.socketPath = path
		s.listener = lis
		return nil
	}
	return ErrNoDisplay
}

func socketpair() (local, remote *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "local"), os.NewFile(uintptr(fds[1]), "remote"), nil
}

func (s *Server) start(config ServerConfig) error {
	wmLocal, wmRemote, err := socketpair()
	if err != nil {
		return err
	}
	defer wmRemote.Close()

	wlLocal, wlRemote, err := socketpair()
	if err != nil {
		wmLocal.Close()
		return err
	}
	defer wlRemote.Close()

	displayR, displayW, err := os.Pipe()
	if err != nil {
		wmLocal.Close()
		wlLocal.Close()
		return fmt.Errorf("create display pipe: %w", err)
	}
	defer displayW.Close()

	lisFile, err := s.listener.File()
	if err != nil {
		wmLocal.Close()
		wlLocal.Close()
		displayR.Close()
		return fmt.Errorf("get listener file: %w", err)
	}
	defer lisFile.Close()

	s.cmd = exec.Command(
		config.Path,
		":"+strconv.Itoa(s.Display),
		"-rootless",
		"-terminate",
		"-core",
		"-listenfd", "3",
		"-wm", "4",
		"-displayfd", "6",
	)
	s.cmd.ExtraFiles = []*os.File{lisFile, wmRemote, wlRemote, displayW}
	s.cmd.Env = append(os.Environ(), "WAYLAND_SOCKET=5")
	s.cmd.Stdout = s.log.WithField("stream", "stdout").Writer()
	s.cmd.Stderr = s.log.WithField("stream", "stderr").Writer()

	err = s.cmd.Start()
	if err != nil {
		wmLocal.Close()
		wlLocal.Close()
		displayR.Close()
		return fmt.Errorf("start %v: %w", config.Path, err)
	}

	wm, err := net.FileConn(wmLocal)
	wmLocal.Close()
	if err != nil {
		wlLocal.Close()
		displayR.Close()
		s.cmd.Process.Kill()
		return fmt.Errorf("wrap WM socket: %w", err)
	}
	s.wm = wm
	s.wl = wlLocal

	go s.awaitReady(displayR)
	go func() {
		s.waitErr = s.cmd.Wait()
		close(s.exited)
	}()

	s.log.WithFields(logrus.Fields{
		"display": s.Display,
		"pid":     s.cmd.Process.Pid,
	}).Info("started Xwayland")
	return nil
}

// awaitReady waits for Xwayland to write its display number, which it
// does once it is ready for clients.
func (s *Server) awaitReady(r *os.File) {
	defer r.Close()

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		s.ready <- fmt.Errorf("Xwayland exited before becoming ready: %w", err)
		return
	}
	d, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		s.ready <- fmt.Errorf("bad display number %q: %w", line, err)
		return
	}
	if d != s.Display {
		s.log.WithField("display", d).Warn("Xwayland reported an unexpected display")
	}
	s.ready <- nil
}

// WaylandFile returns the compositor's end of Xwayland's Wayland
// connection. Ownership passes to the caller.
func (s *Server) WaylandFile() *os.File {
	return s.wl
}

// DisplayName returns the value DISPLAY should have for X clients.
func (s *Server) DisplayName() string {
	return ":" + strconv.Itoa(s.Display)
}

// Ready waits until Xwayland can accept X clients.
func (s *Server) Ready(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.exited:
		return fmt.Errorf("Xwayland exited: %w", s.waitErr)
	case err := <-s.ready:
		return err
	}
}

// WM connects the window manager to the server. Call it only after
// Ready has returned successfully.
func (s *Server) WM(log logrus.FieldLogger) (*Conn, error) {
	return Dial(s.wm, log)
}

// Exited is closed when the Xwayland process exits.
func (s *Server) Exited() <-chan struct{} {
	return s.exited
}

func (s *Server) cleanup() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.lockPath != "" {
		os.Remove(s.lockPath)
	}
}

// Close stops Xwayland and releases its display.
func (s *Server) Close() error {
	var err error
	s.waitOnce.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			select {
			case <-s.exited:
			default:
				err = s.cmd.Process.Signal(os.Interrupt)
				<-s.exited
			}
		}
		if s.wm != nil {
			s.wm.Close()
		}
		s.cleanup()
	})
	return err
}
