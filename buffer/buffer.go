// Package buffer tracks client pixel buffers shared read-only with the
// compositor and decides when each one can be handed back to its
// client.
package buffer

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"deedles.dev/wlcomp/shm"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported buffer format")
	ErrInvalidStride     = errors.New("invalid buffer stride")
	ErrInvalidSize       = errors.New("invalid buffer size")
	ErrIncomplete        = errors.New("missing dmabuf planes")
)

type Kind uint8

const (
	KindSHM Kind = iota
	KindDMABuf
)

func (k Kind) String() string {
	switch k {
	case KindSHM:
		return "shm"
	case KindDMABuf:
		return "dmabuf"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Format is a pixel format in wl_shm numbering. The two mandatory
// formats are 0 and 1; every other format shares its value with the
// DRM fourcc code.
type Format uint32

const (
	FormatARGB8888 Format = 0
	FormatXRGB8888 Format = 1
)

const (
	fourccARGB8888 = 0x34325241
	fourccXRGB8888 = 0x34325258
)

// FormatFromFourcc converts a DRM fourcc code to a Format.
func FormatFromFourcc(code uint32) Format {
	switch code {
	case fourccARGB8888:
		return FormatARGB8888
	case fourccXRGB8888:
		return FormatXRGB8888
	default:
		return Format(code)
	}
}

// Fourcc returns the DRM fourcc code for f.
func (f Format) Fourcc() uint32 {
	switch f {
	case FormatARGB8888:
		return fourccARGB8888
	case FormatXRGB8888:
		return fourccXRGB8888
	default:
		return uint32(f)
	}
}

// Supported reports whether the compositor can read buffers of this
// format.
func (f Format) Supported() bool {
	return (f == FormatARGB8888) || (f == FormatXRGB8888)
}

// Opaque reports whether the format has no alpha channel.
func (f Format) Opaque() bool {
	return f == FormatXRGB8888
}

func (f Format) String() string {
	switch f {
	case FormatARGB8888:
		return "argb8888"
	case FormatXRGB8888:
		return "xrgb8888"
	default:
		return fmt.Sprintf("%q", string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}))
	}
}

// Owner identifies the connection a buffer belongs to.
type Owner uint64

// SHM is the backing of a shared-memory buffer.
type SHM struct {
	Pool   *shm.Pool
	Offset int
}

// Plane is one plane of a DMA-BUF.
type Plane struct {
	File   *os.File
	Offset uint32
	Stride uint32
}

// DMABuf is the backing of a hardware buffer.
type DMABuf struct {
	Planes   []Plane
	Modifier uint64
}

// LinearModifier is the DRM format modifier for a plain row-major
// layout.
const LinearModifier = 0

// Buffer is a client-owned block of pixel memory. Exactly one of SHM
// and DMABuf is set. The compositor never writes to a buffer's memory.
type Buffer struct {
	id     ID
	Owner  Owner
	Object uint32

	Kind   Kind
	Format Format
	Width  int
	Height int
	Stride int

	SHM    *SHM
	DMABuf *DMABuf

	refs      int
	destroyed bool
	orphaned  bool
	texture   any
}

// NewSHM validates and creates a shared-memory buffer. It takes a
// reference to pool.
func NewSHM(owner Owner, object uint32, pool *shm.Pool, offset, width, height, stride int, format Format) (*Buffer, error) {
	if (width <= 0) || (height <= 0) {
		return nil, fmt.Errorf("%vx%v: %w", width, height, ErrInvalidSize)
	}
	if (stride < width*4) || (stride%4 != 0) {
		return nil, fmt.Errorf("stride %v for width %v: %w", stride, width, ErrInvalidStride)
	}
	if (offset < 0) || (offset+stride*height > pool.Size()) {
		return nil, fmt.Errorf("offset %v + %v bytes exceeds pool of %v: %w", offset, stride*height, pool.Size(), ErrInvalidSize)
	}
	if !format.Supported() {
		return nil, fmt.Errorf("%v: %w", format, ErrUnsupportedFormat)
	}

	pool.Ref()
	return &Buffer{
		Owner:  owner,
		Object: object,
		Kind:   KindSHM,
		Format: format,
		Width:  width,
		Height: height,
		Stride: stride,
		SHM:    &SHM{Pool: pool, Offset: offset},
	}, nil
}

// NewDMABuf validates and creates a hardware buffer. It takes
// ownership of the plane files.
func NewDMABuf(owner Owner, object uint32, width, height int, format Format, modifier uint64, planes []Plane) (*Buffer, error) {
	closeAll := func() {
		for _, p := range planes {
			if p.File != nil {
				p.File.Close()
			}
		}
	}

	if (width <= 0) || (height <= 0) {
		closeAll()
		return nil, fmt.Errorf("%vx%v: %w", width, height, ErrInvalidSize)
	}
	if (len(planes) == 0) || (planes[0].File == nil) {
		closeAll()
		return nil, ErrIncomplete
	}
	if int(planes[0].Stride) < width*4 {
		closeAll()
		return nil, fmt.Errorf("stride %v for width %v: %w", planes[0].Stride, width, ErrInvalidStride)
	}

	return &Buffer{
		Owner:  owner,
		Object: object,
		Kind:   KindDMABuf,
		Format: format,
		Width:  width,
		Height: height,
		Stride: int(planes[0].Stride),
		DMABuf: &DMABuf{Planes: planes, Modifier: modifier},
	}, nil
}

func (b *Buffer) ID() ID {
	return b.id
}

func (b *Buffer) Size() image.Point {
	return image.Pt(b.Width, b.Height)
}

// Destroyed reports whether the client has destroyed the buffer. A
// destroyed buffer may still be held by an in-flight frame.
func (b *Buffer) Destroyed() bool {
	return b.destroyed
}

// Pixels returns the raw pixel memory of a shared-memory buffer.
func (b *Buffer) Pixels() ([]byte, error) {
	if b.SHM == nil {
		return nil, fmt.Errorf("%v buffer has no shared memory: %w", b.Kind, ErrUnsupportedFormat)
	}
	return b.SHM.Pool.Bytes(b.SHM.Offset, b.Stride*b.Height)
}

// Texture returns the backend-specific import cached by SetTexture.
func (b *Buffer) Texture() any {
	return b.texture
}

// SetTexture caches a backend import of the buffer. If tex implements
// io.Closer, it is closed when the buffer is freed.
func (b *Buffer) SetTexture(tex any) {
	b.texture = tex
}

func (b *Buffer) free() {
	if c, ok := b.texture.(io.Closer); ok {
		c.Close()
	}
	b.texture = nil

	if b.SHM != nil {
		b.SHM.Pool.Unref()
	}
	if b.DMABuf != nil {
		for _, p := range b.DMABuf.Planes {
			if p.File != nil {
				p.File.Close()
			}
		}
	}
}
