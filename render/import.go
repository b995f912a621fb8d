package render

import (
	"fmt"
	"image"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/shm/shmimage"
	"golang.org/x/sys/unix"
)

// dmabufTexture is a read-only CPU mapping of a linear DMA-BUF.
type dmabufTexture struct {
	mmap shm.Mmap
	img  image.Image
}

func (t *dmabufTexture) Close() error {
	return t.mmap.Unmap()
}

// Import returns a read-only image of a buffer's contents. Shared
// memory buffers are viewed in place; linear DMA-BUFs are mapped once
// and the mapping is cached on the buffer.
func Import(b *buffer.Buffer) (image.Image, error) {
	if !b.Format.Supported() {
		return nil, fmt.Errorf("import %v: %w", b.Format, buffer.ErrUnsupportedFormat)
	}

	switch b.Kind {
	case buffer.KindSHM:
		pix, err := b.Pixels()
		if err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		return view(b.Format, pix, b.Stride, b.Width, b.Height), nil

	case buffer.KindDMABuf:
		if tex, ok := b.Texture().(*dmabufTexture); ok {
			return tex.img, nil
		}
		return importDMABuf(b)

	default:
		return nil, fmt.Errorf("import %v buffer: %w", b.Kind, buffer.ErrUnsupportedFormat)
	}
}

func importDMABuf(b *buffer.Buffer) (image.Image, error) {
	if (b.DMABuf.Modifier != buffer.LinearModifier) || (len(b.DMABuf.Planes) != 1) {
		return nil, fmt.Errorf("import dmabuf with modifier %#x and %v planes: %w", b.DMABuf.Modifier, len(b.DMABuf.Planes), buffer.ErrUnsupportedFormat)
	}

	plane := b.DMABuf.Planes[0]
	size := int(plane.Offset) + int(plane.Stride)*b.Height
	mmap, err := shm.Map(plane.File, size, unix.PROT_READ)
	if err != nil {
		return nil, fmt.Errorf("map dmabuf: %w", err)
	}

	tex := dmabufTexture{
		mmap: mmap,
		img:  view(b.Format, mmap[plane.Offset:], int(plane.Stride), b.Width, b.Height),
	}
	b.SetTexture(&tex)
	return tex.img, nil
}

func view(format buffer.Format, pix []byte, stride, w, h int) image.Image {
	rect := image.Rect(0, 0, w, h)
	if format.Opaque() {
		return &shmimage.XRGB8888{Pix: pix, Stride: stride, Rect: rect}
	}
	return &shmimage.ARGB8888{Pix: pix, Stride: stride, Rect: rect}
}
