package drm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Dumb is a CPU-mapped scanout buffer with a framebuffer attached.
type Dumb struct {
	card   *Card
	Handle uint32
	FB     uint32
	Width  int
	Height int
	Pitch  int
	Pix    []byte
}

// CreateDumb allocates and maps a 32 bpp XRGB8888 buffer.
func (c *Card) CreateDumb(width, height int) (*Dumb, error) {
	create := createDumb{
		width:  uint32(width),
		height: uint32(height),
		bpp:    32,
	}
	if err := ioctl(c.fd, ioctlModeCreateDumb, unsafe.Pointer(&create)); err != nil {
		return nil, fmt.Errorf("create dumb %vx%v: %w", width, height, err)
	}

	d := Dumb{
		card:   c,
		Handle: create.handle,
		Width:  width,
		Height: height,
		Pitch:  int(create.pitch),
	}

	fb, err := c.AddFB(uint32(width), uint32(height), 24, 32, create.pitch, create.handle)
	if err != nil {
		c.destroyDumb(create.handle)
		return nil, err
	}
	d.FB = fb

	m := mapDumb{handle: create.handle}
	if err := ioctl(c.fd, ioctlModeMapDumb, unsafe.Pointer(&m)); err != nil {
		c.RemoveFB(fb)
		c.destroyDumb(create.handle)
		return nil, fmt.Errorf("map dumb: %w", err)
	}

	pix, err := unix.Mmap(c.fd, int64(m.offset), int(create.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		c.RemoveFB(fb)
		c.destroyDumb(create.handle)
		return nil, fmt.Errorf("mmap dumb: %w", err)
	}
	d.Pix = pix

	return &d, nil
}

func (c *Card) destroyDumb(handle uint32) error {
	d := destroyDumb{handle: handle}
	return ioctl(c.fd, ioctlModeDestroyDumb, unsafe.Pointer(&d))
}

// Destroy unmaps and frees the buffer.
func (d *Dumb) Destroy() error {
	var errs []error
	if d.Pix != nil {
		if err := unix.Munmap(d.Pix); err != nil {
			errs = append(errs, err)
		}
		d.Pix = nil
	}
	if err := d.card.RemoveFB(d.FB); err != nil {
		errs = append(errs, err)
	}
	if err := d.card.destroyDumb(d.Handle); err != nil {
		errs = append(errs, fmt.Errorf("destroy dumb: %w", err))
	}
	return errors.Join(errs...)
}
