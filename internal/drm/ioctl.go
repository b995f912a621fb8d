package drm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	drmBase = 'd'
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (size << iocSizeShift) | (typ << iocTypeShift) | (nr << iocNRShift)
}

func io(nr uintptr) uintptr {
	return ioc(iocNone, drmBase, nr, 0)
}

func iowr(nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, drmBase, nr, size)
}

var (
	ioctlSetMaster        = io(0x1e)
	ioctlDropMaster       = io(0x1f)
	ioctlModeGetResources = iowr(0xA0, unsafe.Sizeof(cardRes{}))
	ioctlModeGetCrtc      = iowr(0xA1, unsafe.Sizeof(modeCrtc{}))
	ioctlModeSetCrtc      = iowr(0xA2, unsafe.Sizeof(modeCrtc{}))
	ioctlModeGetEncoder   = iowr(0xA6, unsafe.Sizeof(getEncoder{}))
	ioctlModeGetConnector = iowr(0xA7, unsafe.Sizeof(getConnector{}))
	ioctlModeAddFB        = iowr(0xAE, unsafe.Sizeof(fbCmd{}))
	ioctlModeRmFB         = iowr(0xAF, unsafe.Sizeof(uint32(0)))
	ioctlModePageFlip     = iowr(0xB0, unsafe.Sizeof(crtcPageFlip{}))
	ioctlModeCreateDumb   = iowr(0xB2, unsafe.Sizeof(createDumb{}))
	ioctlModeMapDumb      = iowr(0xB3, unsafe.Sizeof(mapDumb{}))
	ioctlModeDestroyDumb  = iowr(0xB4, unsafe.Sizeof(destroyDumb{}))
)

// ioctl retries on EINTR and EAGAIN, the same as libdrm.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

type cardRes struct {
	fbIDPtr         uint64
	crtcIDPtr       uint64
	connectorIDPtr  uint64
	encoderIDPtr    uint64
	countFbs        uint32
	countCrtcs      uint32
	countConnectors uint32
	countEncoders   uint32
	minWidth        uint32
	maxWidth        uint32
	minHeight       uint32
	maxHeight       uint32
}

type modeCrtc struct {
	setConnectorsPtr uint64
	countConnectors  uint32
	crtcID           uint32
	fbID             uint32
	x, y             uint32
	gammaSize        uint32
	modeValid        uint32
	mode             ModeInfo
}

type getEncoder struct {
	encoderID      uint32
	encoderType    uint32
	crtcID         uint32
	possibleCrtcs  uint32
	possibleClones uint32
}

type getConnector struct {
	encodersPtr     uint64
	modesPtr        uint64
	propsPtr        uint64
	propValuesPtr   uint64
	countModes      uint32
	countProps      uint32
	countEncoders   uint32
	encoderID       uint32
	connectorID     uint32
	connectorType   uint32
	connectorTypeID uint32
	connection      uint32
	mmWidth         uint32
	mmHeight        uint32
	subpixel        uint32
	pad             uint32
}

type fbCmd struct {
	fbID   uint32
	width  uint32
	height uint32
	pitch  uint32
	bpp    uint32
	depth  uint32
	handle uint32
}

type crtcPageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

type createDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

type mapDumb struct {
	handle uint32
	pad    uint32
	offset uint64
}

type destroyDumb struct {
	handle uint32
}
