package compositor

import (
	"errors"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/internal/objstore"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/wire"
)

func bindSHM(c *Client, id, version uint32) error {
	r := shmRes{object: c.newObject(id, &protocol.SHM, version)}
	if err := c.register(&r); err != nil {
		return err
	}
	for _, f := range []buffer.Format{buffer.FormatARGB8888, buffer.FormatXRGB8888} {
		mb := r.event(protocol.SHMFormat)
		mb.WriteUint(uint32(f))
		r.send(mb)
	}
	return nil
}

type shmRes struct {
	object
}

func (r *shmRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.SHMCreatePool:
		id := msg.ReadUint()
		file := msg.ReadFile()
		size := msg.ReadInt()
		if err := r.args(msg); err != nil {
			closeFile(file)
			return err
		}
		if file == nil {
			return protocolError(r.id, protocol.SHMErrorInvalidFD, ErrProtocol, nil, "create_pool without a file descriptor")
		}
		if size <= 0 {
			file.Close()
			return protocolError(r.id, protocol.SHMErrorInvalidStride, ErrProtocol, nil, "invalid pool size %v", size)
		}

		pool, err := shm.NewPool(file, int(size))
		if err != nil {
			return protocolError(r.id, protocol.SHMErrorInvalidFD, ErrProtocol, err, "create_pool")
		}
		res := poolRes{object: r.client.newObject(id, &protocol.SHMPool, r.version), pool: pool}
		if err := r.client.register(&res); err != nil {
			pool.Destroy()
			return err
		}

	case protocol.SHMRelease:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)
	}
	return nil
}

type poolRes struct {
	object
	pool *shm.Pool
}

// Destroy lets the pool go once its buffers are gone.
func (r *poolRes) Destroy() {
	r.pool.Destroy()
	r.object.Destroy()
}

func (r *poolRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.SHMPoolCreateBuffer:
		id := msg.ReadUint()
		offset, width, height, stride := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		format := buffer.Format(msg.ReadUint())
		if err := r.args(msg); err != nil {
			return err
		}

		res := bufferRes{object: r.client.newObject(id, &protocol.Buffer, 1)}
		if err := r.client.register(&res); err != nil {
			return err
		}

		b, err := buffer.NewSHM(r.client.owner(), id, r.pool, int(offset), int(width), int(height), int(stride), format)
		switch {
		case errors.Is(err, buffer.ErrUnsupportedFormat):
			// The object exists so that the client can destroy it,
			// but it can never be attached.
			res.placeholder = true
			return &ResourceError{Object: id, Err: err}
		case err != nil:
			return protocolError(r.id, protocol.SHMErrorInvalidStride, ErrProtocol, err, "create_buffer")
		}
		res.buf = r.comp().table.Insert(b)

	case protocol.SHMPoolDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.SHMPoolResize:
		size := msg.ReadInt()
		if err := r.args(msg); err != nil {
			return err
		}
		err := r.pool.Resize(int(size))
		if err != nil {
			return protocolError(r.id, protocol.SHMErrorInvalidStride, ErrProtocol, err, "resize to %v", size)
		}
	}
	return nil
}

// bufferRes is a wl_buffer, of either kind.
type bufferRes struct {
	object
	buf         buffer.ID
	placeholder bool
}

func (r *bufferRes) Destroy() {
	if r.buf != 0 {
		r.comp().table.Destroy(r.buf)
	}
	r.object.Destroy()
}

func (r *bufferRes) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() == protocol.BufferDestroy {
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)
	}
	return nil
}

// releaseBuffer is called by the buffer table when the compositor no
// longer reads from a buffer.
func (comp *Compositor) releaseBuffer(b *buffer.Buffer) {
	if b.Owner == 0 {
		return
	}
	c, ok := comp.clients[uint64(b.Owner)]
	if !ok || c.closed {
		return
	}
	r, err := objstore.Get[*bufferRes](c.objects, b.Object)
	if (err != nil) || (r.buf != b.ID()) {
		return
	}
	r.send(r.event(protocol.BufferRelease))
}
