// Package shm provides helpers for dealing with shared memory: the
// compositor's read-only view of client pools, and anonymous files for
// the client side and for keymaps.
package shm

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var (
	ErrShrink     = errors.New("pool size may not decrease")
	ErrOutOfRange = errors.New("range outside of pool")
	ErrDestroyed  = errors.New("pool destroyed")
)

// Create creates an anonymous, memory-backed file.
func Create(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// CreateSealed creates an anonymous file holding data that can no
// longer be resized or written to.
func CreateSealed(name string, data []byte) (*os.File, error) {
	file, err := Create(name)
	if err != nil {
		return nil, err
	}

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("write %v: %w", name, err)
	}

	const seals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL
	_, err = unix.FcntlInt(file.Fd(), unix.F_ADD_SEALS, seals)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("seal %v: %w", name, err)
	}
	return file, nil
}

type Mmap []byte

func Map(file *os.File, size int, prot int) (mmap Mmap, err error) {
	sc, err := file.SyscallConn()
	if err != nil {
		return nil, err
	}

	cerr := sc.Control(func(fd uintptr) {
		m, merr := unix.Mmap(int(fd), 0, size, prot, unix.MAP_SHARED)
		mmap, err = Mmap(m), merr
	})
	if cerr != nil {
		return nil, cerr
	}

	return mmap, err
}

func (mmap Mmap) Unmap() error {
	if len(mmap) == 0 {
		return nil
	}
	return unix.Munmap(mmap)
}

// Pool is the compositor's read-only mapping of a client's shared
// memory pool. It is reference counted by the buffers created from
// it, and stays mapped until it has been destroyed and its last
// buffer is gone.
type Pool struct {
	file      *os.File
	data      Mmap
	refs      int
	destroyed bool
}

// NewPool maps size bytes of file. The Pool takes ownership of file.
func NewPool(file *os.File, size int) (*Pool, error) {
	if size <= 0 {
		file.Close()
		return nil, fmt.Errorf("invalid pool size %v", size)
	}

	data, err := Map(file, size, unix.PROT_READ)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap pool: %w", err)
	}

	return &Pool{
		file: file,
		data: data,
	}, nil
}

// Size returns the currently mapped size of the pool.
func (p *Pool) Size() int {
	return len(p.data)
}

// Resize remaps the pool with a new size, which may not be smaller
// than the current one.
func (p *Pool) Resize(size int) error {
	if size < len(p.data) {
		return ErrShrink
	}
	if size == len(p.data) {
		return nil
	}

	data, err := Map(p.file, size, unix.PROT_READ)
	if err != nil {
		return fmt.Errorf("remap pool: %w", err)
	}
	old := p.data
	p.data = data
	return old.Unmap()
}

// Bytes returns length bytes of the pool starting at offset.
func (p *Pool) Bytes(offset, length int) ([]byte, error) {
	if p.data == nil {
		return nil, ErrDestroyed
	}
	if (offset < 0) || (length < 0) || (offset+length > len(p.data)) {
		return nil, ErrOutOfRange
	}
	return p.data[offset : offset+length : offset+length], nil
}

func (p *Pool) Ref() {
	p.refs++
}

func (p *Pool) Unref() {
	p.refs--
	p.maybeFree()
}

// Destroy marks the pool as no longer usable for creating buffers.
func (p *Pool) Destroy() {
	p.destroyed = true
	p.maybeFree()
}

func (p *Pool) maybeFree() {
	if !p.destroyed || (p.refs > 0) || (p.data == nil) {
		return
	}
	p.data.Unmap()
	p.data = nil
	p.file.Close()
}
