package drm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrInvalidVT is returned for virtual terminal numbers outside of
// 1 through 63.
var ErrInvalidVT = errors.New("invalid virtual terminal")

const (
	defaultTTY = "/dev/tty0"
	maxVT      = 63

	// vtActivate is VT_ACTIVATE from linux/vt.h.
	vtActivate = 0x5606
)

// Session grants access to the devices a compositor needs. A session
// manager such as logind would hand out file descriptors instead of
// opening the nodes itself.
type Session interface {
	Open(path string) (*os.File, error)
	Close(file *os.File) error
	// SwitchVT makes another virtual terminal the active one.
	SwitchVT(vt int) error
}

// DirectSession opens devices directly. The process needs read and
// write access to the device nodes.
type DirectSession struct {
	// TTY is the terminal device that VT switches go through. If
	// empty, /dev/tty0 is used.
	TTY string
}

func (DirectSession) Open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
}

func (DirectSession) Close(file *os.File) error {
	return file.Close()
}

func (s DirectSession) SwitchVT(vt int) error {
	if (vt < 1) || (vt > maxVT) {
		return fmt.Errorf("switch to %v: %w", vt, ErrInvalidVT)
	}

	path := s.TTY
	if path == "" {
		path = defaultTTY
	}
	tty, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("open %v: %w", path, err)
	}
	defer tty.Close()

	err = unix.IoctlSetInt(int(tty.Fd()), vtActivate, vt)
	if err != nil {
		return fmt.Errorf("switch to VT %v: %w", vt, err)
	}
	return nil
}
