// Package drm is a minimal binding to the kernel mode-setting
// interface: enough to light up connectors with dumb buffers and flip
// between them.
package drm

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Connection states.
const (
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

const (
	ModeTypePreferred = 1 << 3

	PageFlipEvent = 0x01

	EventVblank       = 0x01
	EventFlipComplete = 0x02
)

var connectorTypes = [...]string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO",
	"LVDS", "Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP",
	"Virtual", "DSI", "DPI", "Writeback", "SPI", "USB",
}

// ModeInfo is struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock      uint32
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

// Refresh returns the mode's refresh rate in millihertz.
func (m *ModeInfo) Refresh() int {
	if (m.HTotal == 0) || (m.VTotal == 0) {
		return int(m.VRefresh) * 1000
	}
	return int((uint64(m.Clock)*1000000/uint64(m.HTotal) + uint64(m.VTotal)/2) / uint64(m.VTotal))
}

func (m *ModeInfo) Preferred() bool {
	return m.Type&ModeTypePreferred != 0
}

func (m *ModeInfo) String() string {
	name, _, _ := bytes.Cut(m.Name[:], []byte{0})
	return string(name)
}

type Resources struct {
	FBs        []uint32
	CRTCs      []uint32
	Connectors []uint32
	Encoders   []uint32
}

type Connector struct {
	ID         uint32
	Type       uint32
	TypeID     uint32
	Connection uint32
	EncoderID  uint32
	Encoders   []uint32
	Modes      []ModeInfo
	MMWidth    uint32
	MMHeight   uint32
}

// Name returns the conventional name of the connector, such as
// "HDMI-A-1".
func (c *Connector) Name() string {
	typ := "Unknown"
	if int(c.Type) < len(connectorTypes) {
		typ = connectorTypes[c.Type]
	}
	return fmt.Sprintf("%v-%v", typ, c.TypeID)
}

type Encoder struct {
	ID            uint32
	Type          uint32
	CRTCID        uint32
	PossibleCRTCs uint32
}

type CRTC struct {
	ID        uint32
	FBID      uint32
	X, Y      uint32
	ModeValid bool
	Mode      ModeInfo
}

// Card is an open DRM device node.
type Card struct {
	file *os.File
	fd   int
}

// Open opens a card such as /dev/dri/card0.
func Open(path string) (*Card, error) {
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return NewCard(file), nil
}

// NewCard wraps an already open device node, such as one handed over
// by a session manager.
func NewCard(file *os.File) *Card {
	return &Card{file: file, fd: int(file.Fd())}
}

func (c *Card) File() *os.File {
	return c.file
}

func (c *Card) Fd() int {
	return c.fd
}

func (c *Card) Close() error {
	return c.file.Close()
}

func (c *Card) SetMaster() error {
	if err := ioctl(c.fd, ioctlSetMaster, nil); err != nil {
		return fmt.Errorf("set master: %w", err)
	}
	return nil
}

func (c *Card) DropMaster() error {
	if err := ioctl(c.fd, ioctlDropMaster, nil); err != nil {
		return fmt.Errorf("drop master: %w", err)
	}
	return nil
}

func (c *Card) Resources() (*Resources, error) {
	var res cardRes
	if err := ioctl(c.fd, ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}

	r := Resources{
		FBs:        make([]uint32, res.countFbs),
		CRTCs:      make([]uint32, res.countCrtcs),
		Connectors: make([]uint32, res.countConnectors),
		Encoders:   make([]uint32, res.countEncoders),
	}
	res.fbIDPtr = ptr(r.FBs)
	res.crtcIDPtr = ptr(r.CRTCs)
	res.connectorIDPtr = ptr(r.Connectors)
	res.encoderIDPtr = ptr(r.Encoders)
	err := ioctl(c.fd, ioctlModeGetResources, unsafe.Pointer(&res))
	runtime.KeepAlive(&r)
	if err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}

	// Hot-plug between the two calls can shrink the lists.
	r.FBs = r.FBs[:min(len(r.FBs), int(res.countFbs))]
	r.CRTCs = r.CRTCs[:min(len(r.CRTCs), int(res.countCrtcs))]
	r.Connectors = r.Connectors[:min(len(r.Connectors), int(res.countConnectors))]
	r.Encoders = r.Encoders[:min(len(r.Encoders), int(res.countEncoders))]
	return &r, nil
}

func (c *Card) Connector(id uint32) (*Connector, error) {
	conn := getConnector{connectorID: id}
	if err := ioctl(c.fd, ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return nil, fmt.Errorf("get connector %v: %w", id, err)
	}

	modes := make([]ModeInfo, conn.countModes)
	encoders := make([]uint32, conn.countEncoders)
	conn.modesPtr = ptr(modes)
	conn.encodersPtr = ptr(encoders)
	conn.countProps = 0
	err := ioctl(c.fd, ioctlModeGetConnector, unsafe.Pointer(&conn))
	runtime.KeepAlive(modes)
	runtime.KeepAlive(encoders)
	if err != nil {
		return nil, fmt.Errorf("get connector %v: %w", id, err)
	}

	return &Connector{
		ID:         conn.connectorID,
		Type:       conn.connectorType,
		TypeID:     conn.connectorTypeID,
		Connection: conn.connection,
		EncoderID:  conn.encoderID,
		Encoders:   encoders[:min(len(encoders), int(conn.countEncoders))],
		Modes:      modes[:min(len(modes), int(conn.countModes))],
		MMWidth:    conn.mmWidth,
		MMHeight:   conn.mmHeight,
	}, nil
}

func (c *Card) Encoder(id uint32) (*Encoder, error) {
	enc := getEncoder{encoderID: id}
	if err := ioctl(c.fd, ioctlModeGetEncoder, unsafe.Pointer(&enc)); err != nil {
		return nil, fmt.Errorf("get encoder %v: %w", id, err)
	}
	return &Encoder{
		ID:            enc.encoderID,
		Type:          enc.encoderType,
		CRTCID:        enc.crtcID,
		PossibleCRTCs: enc.possibleCrtcs,
	}, nil
}

func (c *Card) CRTC(id uint32) (*CRTC, error) {
	crtc := modeCrtc{crtcID: id}
	if err := ioctl(c.fd, ioctlModeGetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return nil, fmt.Errorf("get crtc %v: %w", id, err)
	}
	return &CRTC{
		ID:        crtc.crtcID,
		FBID:      crtc.fbID,
		X:         crtc.x,
		Y:         crtc.y,
		ModeValid: crtc.modeValid != 0,
		Mode:      crtc.mode,
	}, nil
}

// SetCRTC scans out fb on a CRTC driving the given connectors. A nil
// mode disables the CRTC.
func (c *Card) SetCRTC(crtcID, fbID uint32, connectors []uint32, mode *ModeInfo) error {
	crtc := modeCrtc{
		setConnectorsPtr: ptr(connectors),
		countConnectors:  uint32(len(connectors)),
		crtcID:           crtcID,
		fbID:             fbID,
	}
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}
	err := ioctl(c.fd, ioctlModeSetCrtc, unsafe.Pointer(&crtc))
	runtime.KeepAlive(connectors)
	if err != nil {
		return fmt.Errorf("set crtc %v: %w", crtcID, err)
	}
	return nil
}

// PageFlip schedules fb to be shown on the next vblank. A flip
// completion event carrying userData can then be read from the card.
func (c *Card) PageFlip(crtcID, fbID uint32, userData uint64) error {
	flip := crtcPageFlip{
		crtcID:   crtcID,
		fbID:     fbID,
		flags:    PageFlipEvent,
		userData: userData,
	}
	if err := ioctl(c.fd, ioctlModePageFlip, unsafe.Pointer(&flip)); err != nil {
		return fmt.Errorf("page flip on crtc %v: %w", crtcID, err)
	}
	return nil
}

func (c *Card) AddFB(width, height, depth, bpp, pitch, handle uint32) (uint32, error) {
	cmd := fbCmd{
		width:  width,
		height: height,
		pitch:  pitch,
		bpp:    bpp,
		depth:  depth,
		handle: handle,
	}
	if err := ioctl(c.fd, ioctlModeAddFB, unsafe.Pointer(&cmd)); err != nil {
		return 0, fmt.Errorf("add fb: %w", err)
	}
	return cmd.fbID, nil
}

func (c *Card) RemoveFB(id uint32) error {
	if err := ioctl(c.fd, ioctlModeRmFB, unsafe.Pointer(&id)); err != nil {
		return fmt.Errorf("remove fb %v: %w", id, err)
	}
	return nil
}
