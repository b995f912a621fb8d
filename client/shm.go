package client

import (
	"os"

	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

// ShmFormat is a wl_shm pixel format.
type ShmFormat uint32

const (
	ShmFormatArgb8888 ShmFormat = 0
	ShmFormatXrgb8888 ShmFormat = 1
)

type Shm struct {
	proxy

	Format func(ShmFormat)
}

func BindShm(display *Display, name uint32) *Shm {
	var shm Shm
	shm.proxy = display.newProxy(&shm)
	display.Registry().bind(name, &protocol.SHM, shm.id)
	return &shm
}

// CreatePool shares size bytes of file with the compositor. The file
// may be closed once the request has been flushed.
func (shm *Shm) CreatePool(file *os.File, size int32) *ShmPool {
	var pool ShmPool
	pool.proxy = shm.display.newProxy(&pool)
	mb := shm.request(&protocol.SHM, protocol.SHMCreatePool)
	mb.WriteUint(pool.id)
	mb.WriteFile(file)
	mb.WriteInt(size)
	shm.display.send(mb)
	return &pool
}

func (shm *Shm) iface() *protocol.Interface {
	return &protocol.SHM
}

func (shm *Shm) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() != protocol.SHMFormat {
		return wire.UnknownOpError{Interface: protocol.SHM.Name, Op: msg.Op()}
	}
	format := ShmFormat(msg.ReadUint())
	if shm.Format != nil {
		shm.Format(format)
	}
	return nil
}

type ShmPool struct {
	proxy
}

func (pool *ShmPool) CreateBuffer(offset, width, height, stride int32, format ShmFormat) *Buffer {
	var buf Buffer
	buf.proxy = pool.display.newProxy(&buf)
	mb := pool.request(&protocol.SHMPool, protocol.SHMPoolCreateBuffer)
	mb.WriteUint(buf.id)
	mb.WriteInt(offset)
	mb.WriteInt(width)
	mb.WriteInt(height)
	mb.WriteInt(stride)
	mb.WriteUint(uint32(format))
	pool.display.send(mb)
	return &buf
}

func (pool *ShmPool) Resize(size int32) {
	mb := pool.request(&protocol.SHMPool, protocol.SHMPoolResize)
	mb.WriteInt(size)
	pool.display.send(mb)
}

func (pool *ShmPool) Destroy() {
	pool.display.send(pool.request(&protocol.SHMPool, protocol.SHMPoolDestroy))
}

func (pool *ShmPool) iface() *protocol.Interface {
	return &protocol.SHMPool
}

func (pool *ShmPool) dispatch(msg *wire.MessageBuffer) error {
	return wire.UnknownOpError{Interface: protocol.SHMPool.Name, Op: msg.Op()}
}

type Buffer struct {
	proxy

	// Release is called when the compositor no longer reads from the
	// buffer.
	Release func()
}

func (buf *Buffer) Destroy() {
	buf.display.send(buf.request(&protocol.Buffer, protocol.BufferDestroy))
}

func (buf *Buffer) iface() *protocol.Interface {
	return &protocol.Buffer
}

func (buf *Buffer) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() != protocol.BufferRelease {
		return wire.UnknownOpError{Interface: protocol.Buffer.Name, Op: msg.Op()}
	}
	if buf.Release != nil {
		buf.Release()
	}
	return nil
}
