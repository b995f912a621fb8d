package client

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"deedles.dev/wlcomp/shm"
	"deedles.dev/ximage"
	"golang.org/x/sys/unix"
)

// ImageBuffer is an ARGB8888 buffer in a pool of its own that can be
// drawn to as an image.
type ImageBuffer struct {
	w, h int32
	shm  *Shm
	pool *ShmPool
	buf  *Buffer
	file *os.File
	mmap shm.Mmap
}

func NewImageBuffer(s *Shm, w, h int32) (buf *ImageBuffer, err error) {
	buf = &ImageBuffer{
		w:   w,
		h:   h,
		shm: s,
	}
	defer func() {
		if err != nil {
			buf.Destroy()
		}
	}()

	file, err := shm.Create("wlcomp-client-buffer")
	if err != nil {
		return buf, fmt.Errorf("create SHM file: %w", err)
	}
	buf.file = file

	err = file.Truncate(int64(buf.Len()))
	if err != nil {
		return buf, fmt.Errorf("size SHM file: %w", err)
	}

	mmap, err := shm.Map(file, int(buf.Len()), unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return buf, fmt.Errorf("mmap SHM file: %w", err)
	}
	buf.mmap = mmap

	buf.pool = buf.shm.CreatePool(file, buf.Len())
	buf.buf = buf.pool.CreateBuffer(0, w, h, buf.Stride(), ShmFormatArgb8888)

	return buf, nil
}

// Destroy destroys the buffer and its pool and unmaps the memory.
func (s *ImageBuffer) Destroy() {
	if s.mmap != nil {
		s.mmap.Unmap()
		s.mmap = nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
	if s.pool != nil {
		s.pool.Destroy()
		s.pool = nil
	}
}

func (s *ImageBuffer) Buffer() *Buffer {
	return s.buf
}

func (s *ImageBuffer) Stride() int32 {
	return s.w * 4
}

func (s *ImageBuffer) Len() int32 {
	return s.Stride() * s.h
}

func (s *ImageBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(s.w), int(s.h))
}

// Resize changes the size of the buffer. The old wl_buffer is
// destroyed and a new one created, so the result of Buffer changes.
// Pools can only grow, so the file is only remapped if the new size
// needs more memory.
func (s *ImageBuffer) Resize(w, h int32) error {
	if (w == s.w) && (h == s.h) {
		return nil
	}

	s.w = w
	s.h = h
	if int(s.Len()) > len(s.mmap) {
		err := s.file.Truncate(int64(s.Len()))
		if err != nil {
			return fmt.Errorf("truncate: %w", err)
		}

		err = s.mmap.Unmap()
		if err != nil {
			return fmt.Errorf("unmap: %w", err)
		}
		s.mmap = nil
		mmap, err := shm.Map(s.file, int(s.Len()), unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return fmt.Errorf("mmap: %w", err)
		}
		s.mmap = mmap
		s.pool.Resize(s.Len())
	}

	s.buf.Destroy()
	s.buf = s.pool.CreateBuffer(0, s.w, s.h, s.Stride(), ShmFormatArgb8888)
	return nil
}

func (s *ImageBuffer) Image() draw.Image {
	return &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   s.Bounds(),
		Pix:    s.mmap[:s.Len()],
	}
}
