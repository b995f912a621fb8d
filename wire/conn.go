package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"deedles.dev/wlcomp/internal/bin"
	"deedles.dev/wlcomp/internal/set"
	"golang.org/x/sys/unix"
)

// maxFDsPerRead bounds the number of descriptors accepted in a single
// read. libwayland sends at most 28 per message.
const maxFDsPerRead = 28

func xdgRuntimeDir() string {
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if ok {
		return dir
	}
	return fmt.Sprintf("/run/user/%v", os.Getuid())
}

// SocketPath determines the path to the Wayland Unix domain socket
// based on the contents of the $WAYLAND_DISPLAY environment variable.
// It does not attempt to determine if the value corresponds to an
// actual socket.
func SocketPath() string {
	v, ok := os.LookupEnv("WAYLAND_DISPLAY")
	if !ok {
		v = "wayland-0"
	}
	if filepath.IsAbs(v) {
		return v
	}

	return filepath.Join(xdgRuntimeDir(), v)
}

// NewSocketPath generates a path in dir that no other server is using.
// If dir is empty, $XDG_RUNTIME_DIR is used.
func NewSocketPath(dir string) (string, error) {
	if dir == "" {
		dir = xdgRuntimeDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	names := make(set.Set[int], len(entries))
	for _, ent := range entries {
		after, ok := strings.CutPrefix(ent.Name(), "wayland-")
		if !ok {
			continue
		}
		after = strings.TrimSuffix(after, ".lock")
		n, err := strconv.ParseInt(after, 10, 0)
		if err != nil {
			continue
		}
		names.Add(int(n))
	}

	var num int
	for names.Has(num) {
		num++
	}

	return filepath.Join(dir, fmt.Sprintf("wayland-%v", num)), nil
}

// Listener is a listening Wayland socket and the lock file that
// claims its name.
type Listener struct {
	*net.UnixListener
	Path string
	lock *os.File
}

// Listen creates a socket at path, or at a fresh path in
// $XDG_RUNTIME_DIR if path is empty. The name is claimed by holding
// an exclusive lock on path+".lock", which also allows a stale socket
// left behind by a dead server to be replaced.
func Listen(path string) (*Listener, error) {
	if path == "" {
		p, err := NewSocketPath("")
		if err != nil {
			return nil, fmt.Errorf("find socket path: %w", err)
		}
		path = p
	}

	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o660)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	err = unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("lock %v: %w", path, err)
	}

	os.Remove(path)
	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		lock.Close()
		return nil, err
	}
	lis.SetUnlinkOnClose(true)

	return &Listener{UnixListener: lis, Path: path, lock: lock}, nil
}

// Close stops listening and releases the socket's name.
func (lis *Listener) Close() error {
	err := lis.UnixListener.Close()
	os.Remove(lis.lock.Name())
	return errors.Join(err, lis.lock.Close())
}

// Conn is a low-level Wayland connection. Reads and writes may happen
// concurrently with each other, but not with themselves.
type Conn struct {
	conn *net.UnixConn

	buf  []byte
	oob  []byte
	data []byte

	m   sync.Mutex
	fds []int
}

// NewConn creates a new Conn that wraps c. After this is called, use
// the provided Close method to close c instead of calling its own
// Close method.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		conn: c,
		buf:  make([]byte, 4096),
		oob:  make([]byte, unix.CmsgSpace(maxFDsPerRead*4)),
	}
}

// Dial opens a connection to the Wayland socket based on the current
// environment. It follows the procedure outlined at
// https://wayland-book.com/protocol-design/wire-protocol.html#transports
func Dial() (*Conn, error) {
	if v, ok := os.LookupEnv("WAYLAND_SOCKET"); ok {
		fd, err := strconv.ParseInt(v, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("parse WAYLAND_SOCKET fd: %w", err)
		}
		file := os.NewFile(uintptr(fd), "WAYLAND_SOCKET")
		defer file.Close()

		c, err := FileConn(file)
		if err != nil {
			return nil, fmt.Errorf("open WAYLAND_SOCKET connection: %w", err)
		}
		return c, nil
	}

	s, err := net.Dial("unix", SocketPath())
	if err != nil {
		return nil, err
	}
	return NewConn(s.(*net.UnixConn)), nil
}

// FileConn wraps an already-connected socket, such as one end of a
// socketpair. The file may be closed afterwards.
func FileConn(file *os.File) (*Conn, error) {
	c, err := net.FileConn(file)
	if err != nil {
		return nil, err
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%v is not a unix socket", file.Name())
	}
	return NewConn(uc), nil
}

// Close closes the underlying connection and any received file
// descriptors that were never claimed.
func (c *Conn) Close() error {
	c.m.Lock()
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	c.m.Unlock()

	return c.conn.Close()
}

func (c *Conn) popFD() (int, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

func (c *Conn) pushFDs(oob []byte) error {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("parse socket control messages: %w", err)
	}

	c.m.Lock()
	defer c.m.Unlock()

	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				continue
			}
			return fmt.Errorf("parse unix control message: %w", err)
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
		}
		c.fds = append(c.fds, fds...)
	}
	return nil
}

// fill reads until at least n bytes are buffered.
func (c *Conn) fill(n int) error {
	for len(c.data) < n {
		if cap(c.buf) < n {
			c.buf = make([]byte, n)
		}
		c.buf = c.buf[:cap(c.buf)]
		m := copy(c.buf, c.data)

		rn, oobn, _, _, err := c.conn.ReadMsgUnix(c.buf[m:], c.oob)
		if oobn > 0 {
			if ferr := c.pushFDs(c.oob[:oobn]); ferr != nil {
				return ferr
			}
		}
		if rn > 0 {
			m += rn
		}
		c.data = c.buf[:m]
		if err != nil {
			return err
		}
		if rn == 0 {
			return io.EOF
		}
	}
	return nil
}

// ReadMessage reads the next message. File descriptors that arrived
// with it are kept in an ordered queue and handed out as the message,
// and those after it, are decoded, so decoding must happen in the
// order that messages were read.
func (c *Conn) ReadMessage() (*MessageBuffer, error) {
	err := c.fill(HeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) && (len(c.data) == 0) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read message header: %w", err)
	}

	sender := bin.Value[uint32]([4]byte(c.data[0:4]))
	so := bin.Value[uint32]([4]byte(c.data[4:8]))
	size := int(so >> 16)
	if size < HeaderSize {
		return nil, fmt.Errorf("size %v: %w", size, ErrShortMessage)
	}

	err = c.fill(size)
	if err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}

	body := make([]byte, size-HeaderSize)
	copy(body, c.data[HeaderSize:size])
	c.data = c.data[size:]

	return newMessageBuffer(sender, so, body, c), nil
}

// WriteMessage sends a message and its file descriptors, which are
// closed afterwards.
func (c *Conn) WriteMessage(mb *MessageBuilder) error {
	defer mb.Close()

	data, fds, err := mb.Encode()
	if err != nil {
		return err
	}

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	n, _, err := c.conn.WriteMsgUnix(data, oob, nil)
	if err != nil {
		return err
	}
	if n < len(data) {
		_, err = c.conn.Write(data[n:])
	}
	return err
}
