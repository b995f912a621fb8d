package compositor

import (
	"errors"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

const maxPlanes = 4

func bindDMABuf(c *Client, id, version uint32) error {
	r := dmabufRes{object: c.newObject(id, &protocol.LinuxDMABuf, version)}
	if err := c.register(&r); err != nil {
		return err
	}
	for _, f := range []buffer.Format{buffer.FormatARGB8888, buffer.FormatXRGB8888} {
		mb := r.event(protocol.LinuxDMABufFormat)
		mb.WriteUint(f.Fourcc())
		r.send(mb)

		if version >= 3 {
			mb := r.event(protocol.LinuxDMABufModifier)
			mb.WriteUint(f.Fourcc())
			mb.WriteUint(uint32(uint64(buffer.LinearModifier) >> 32))
			mb.WriteUint(uint32(buffer.LinearModifier))
			r.send(mb)
		}
	}
	return nil
}

type dmabufRes struct {
	object
}

func (r *dmabufRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.LinuxDMABufDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.LinuxDMABufCreateParams:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		return r.client.register(&paramsRes{object: r.client.newObject(id, &protocol.BufferParams, r.version)})
	}
	return nil
}

// paramsRes collects the planes of a DMA-BUF before it becomes a
// wl_buffer. It can only be used once.
type paramsRes struct {
	object
	planes   [maxPlanes]buffer.Plane
	modifier uint64
	used     bool
}

func (r *paramsRes) Destroy() {
	r.closePlanes()
	r.object.Destroy()
}

func (r *paramsRes) closePlanes() {
	for i := range r.planes {
		closeFile(r.planes[i].File)
		r.planes[i].File = nil
	}
}

// take hands the collected planes over to the caller.
func (r *paramsRes) take() []buffer.Plane {
	n := 0
	for i, p := range r.planes {
		if p.File != nil {
			n = i + 1
		}
	}
	planes := make([]buffer.Plane, n)
	copy(planes, r.planes[:n])
	clear(r.planes[:])
	return planes
}

func (r *paramsRes) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.BufferParamsDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case protocol.BufferParamsAdd:
		file := msg.ReadFile()
		idx := msg.ReadUint()
		offset, stride := msg.ReadUint(), msg.ReadUint()
		hi, lo := msg.ReadUint(), msg.ReadUint()
		if err := r.args(msg); err != nil {
			closeFile(file)
			return err
		}
		if file == nil {
			return invalidMethod(r.id, nil, "add without a file descriptor")
		}
		switch {
		case r.used:
			file.Close()
			return protocolError(r.id, protocol.BufferParamsErrorAlreadyUsed, ErrProtocol, nil, "params already used")
		case idx >= maxPlanes:
			file.Close()
			return protocolError(r.id, protocol.BufferParamsErrorPlaneIdx, ErrProtocol, nil, "plane index %v", idx)
		case r.planes[idx].File != nil:
			file.Close()
			return protocolError(r.id, protocol.BufferParamsErrorPlaneSet, ErrProtocol, nil, "plane %v already set", idx)
		}
		r.planes[idx] = buffer.Plane{File: file, Offset: offset, Stride: stride}
		r.modifier = uint64(hi)<<32 | uint64(lo)

	case protocol.BufferParamsCreate:
		width, height := msg.ReadInt(), msg.ReadInt()
		format := msg.ReadUint()
		msg.ReadUint() // flags
		if err := r.args(msg); err != nil {
			return err
		}
		if r.used {
			return protocolError(r.id, protocol.BufferParamsErrorAlreadyUsed, ErrProtocol, nil, "params already used")
		}
		r.used = true

		res := bufferRes{object: r.client.newObject(0, &protocol.Buffer, 1)}
		b, err := r.build(&res, width, height, format)
		if err != nil {
			r.client.log.WithError(err).Debug("dmabuf import failed")
			r.send(r.event(protocol.BufferParamsFailed))
			return nil
		}
		id := r.client.registerServer(&res)
		b.Object = id
		res.buf = r.comp().table.Insert(b)

		mb := r.event(protocol.BufferParamsCreated)
		mb.WriteUint(id)
		r.send(mb)

	case protocol.BufferParamsCreateImmed:
		id := msg.ReadUint()
		width, height := msg.ReadInt(), msg.ReadInt()
		format := msg.ReadUint()
		msg.ReadUint() // flags
		if err := r.args(msg); err != nil {
			return err
		}
		if r.used {
			return protocolError(r.id, protocol.BufferParamsErrorAlreadyUsed, ErrProtocol, nil, "params already used")
		}
		r.used = true

		res := bufferRes{object: r.client.newObject(id, &protocol.Buffer, 1)}
		if err := r.client.register(&res); err != nil {
			r.closePlanes()
			return err
		}
		b, err := r.build(&res, width, height, format)
		if err != nil {
			res.placeholder = true
			return &ResourceError{Object: id, Err: err}
		}
		res.buf = r.comp().table.Insert(b)
	}
	return nil
}

func (r *paramsRes) build(res *bufferRes, width, height int32, fourcc uint32) (*buffer.Buffer, error) {
	format := buffer.FormatFromFourcc(fourcc)
	if !format.Supported() {
		r.closePlanes()
		return nil, protocolError(r.id, protocol.BufferParamsErrorInvalidFormat, ErrProtocol, buffer.ErrUnsupportedFormat, "format %#x", fourcc)
	}

	b, err := buffer.NewDMABuf(r.client.owner(), res.id, int(width), int(height), format, r.modifier, r.take())
	if err != nil {
		code := uint32(protocol.BufferParamsErrorOutOfBounds)
		switch {
		case errors.Is(err, buffer.ErrIncomplete):
			code = protocol.BufferParamsErrorIncomplete
		case errors.Is(err, buffer.ErrInvalidSize):
			code = protocol.BufferParamsErrorInvalidDimensions
		}
		return nil, protocolError(r.id, code, ErrProtocol, err, "%vx%v %v", width, height, format)
	}
	return b, nil
}
