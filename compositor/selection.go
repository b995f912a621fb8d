package compositor

import (
	"os"
	"slices"

	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
	"deedles.dev/wlcomp/xwm"
	"github.com/sirupsen/logrus"
)

// selectionKind tells the clipboard apart from the primary selection.
// The values match xwm.Selection.
type selectionKind uint8

const (
	clipboard selectionKind = iota
	primary
)

func (k selectionKind) String() string {
	if k == primary {
		return "primary"
	}
	return "clipboard"
}

// selectionProtocol is what differs between wl_data_device and the
// primary selection protocol, which otherwise work the same way for
// selections.
type selectionProtocol struct {
	source, device, offer *protocol.Interface

	managerCreateSource, managerGetDevice  uint16
	sourceOffer, sourceDestroy             uint16
	sourceSend, sourceCancelled            uint16
	deviceSetSelection, deviceRelease      uint16
	deviceDataOffer, deviceSelection       uint16
	offerOffer, offerReceive, offerDestroy uint16
}

var selectionProtocols = [...]selectionProtocol{
	clipboard: {
		source: &protocol.DataSource,
		device: &protocol.DataDevice,
		offer:  &protocol.DataOffer,

		managerCreateSource: protocol.DataDeviceManagerCreateDataSource,
		managerGetDevice:    protocol.DataDeviceManagerGetDataDevice,
		sourceOffer:         protocol.DataSourceOffer,
		sourceDestroy:       protocol.DataSourceDestroy,
		sourceSend:          protocol.DataSourceSend,
		sourceCancelled:     protocol.DataSourceCancelled,
		deviceSetSelection:  protocol.DataDeviceSetSelection,
		deviceRelease:       protocol.DataDeviceRelease,
		deviceDataOffer:     protocol.DataDeviceDataOffer,
		deviceSelection:     protocol.DataDeviceSelection,
		offerOffer:          protocol.DataOfferOffer,
		offerReceive:        protocol.DataOfferReceive,
		offerDestroy:        protocol.DataOfferDestroy,
	},
	primary: {
		source: &protocol.PrimarySelectionSource,
		device: &protocol.PrimarySelectionDevice,
		offer:  &protocol.PrimarySelectionOffer,

		managerCreateSource: protocol.PrimaryManagerCreateSource,
		managerGetDevice:    protocol.PrimaryManagerGetDevice,
		sourceOffer:         protocol.PrimarySourceOffer,
		sourceDestroy:       protocol.PrimarySourceDestroy,
		sourceSend:          protocol.PrimarySourceSend,
		sourceCancelled:     protocol.PrimarySourceCancelled,
		deviceSetSelection:  protocol.PrimaryDeviceSetSelection,
		deviceRelease:       protocol.PrimaryDeviceDestroy,
		deviceDataOffer:     protocol.PrimaryDeviceDataOffer,
		deviceSelection:     protocol.PrimaryDeviceSelection,
		offerOffer:          protocol.PrimaryOfferOffer,
		offerReceive:        protocol.PrimaryOfferReceive,
		offerDestroy:        protocol.PrimaryOfferDestroy,
	},
}

// selectionSource is whatever currently provides a selection's
// contents: a Wayland client's source or an X client via the window
// manager.
type selectionSource interface {
	mimeTypes() []string
	// transfer asks for the contents in the given MIME type to be
	// written to fd. It takes ownership of fd.
	transfer(mime string, fd *os.File)
	// cancel tells the source that it has been replaced.
	cancel()
}

// setSelection replaces a selection, cancelling the previous source.
// A nil src clears it.
func (comp *Compositor) setSelection(kind selectionKind, src selectionSource) {
	old := comp.selection[kind]
	if old == src {
		return
	}
	comp.selection[kind] = src
	if old != nil {
		old.cancel()
	}
	comp.selectionChanged(kind)
}

// selectionChanged offers the current selection to the client with
// keyboard focus and to X clients.
func (comp *Compositor) selectionChanged(kind selectionKind) {
	src := comp.selection[kind]

	log := comp.log.WithField("selection", kind)
	if src != nil {
		log = log.WithField("mimes", src.mimeTypes())
	}
	log.Debug("selection changed")

	if focus := comp.seat.KeyboardFocus(); focus != nil {
		if c, ok := comp.clientOf(focus); ok {
			c.offerSelection(kind)
		}
	}
	comp.exportSelection(kind)
}

// exportSelection hands a Wayland selection to the X window manager.
// Selections that came from X are left alone.
func (comp *Compositor) exportSelection(kind selectionKind) {
	if comp.wm == nil {
		return
	}
	src := comp.selection[kind]
	if _, ok := src.(*xSelection); ok {
		return
	}

	var mimes []string
	if src != nil {
		mimes = append([]string{}, src.mimeTypes()...)
	}
	comp.wm.SetSelection(xwm.Selection(kind), mimes)
}

// offerSelection sends the current selection to all of a client's
// devices of the given kind.
func (c *Client) offerSelection(kind selectionKind) {
	src := c.comp.selection[kind]
	for _, d := range c.dataDevices[kind] {
		d.offer(src)
	}
}

func (c *Client) hasKeyboardFocus() bool {
	focus := c.comp.seat.KeyboardFocus()
	return (focus != nil) && (uint64(focus.Owner()) == c.ID())
}

func bindDataDeviceManager(c *Client, id, version uint32) error {
	return c.register(&selectionManagerRes{
		object: c.newObject(id, &protocol.DataDeviceManager, version),
		kind:   clipboard,
	})
}

func bindPrimarySelectionManager(c *Client, id, version uint32) error {
	return c.register(&selectionManagerRes{
		object: c.newObject(id, &protocol.PrimarySelectionManager, version),
		kind:   primary,
	})
}

type selectionManagerRes struct {
	object
	kind selectionKind
}

func (r *selectionManagerRes) dispatch(msg *wire.MessageBuffer) error {
	c := r.client
	ops := &selectionProtocols[r.kind]

	switch op := msg.Op(); {
	case op == ops.managerCreateSource:
		id := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		return c.register(&dataSourceRes{
			object: c.newObject(id, ops.source, r.version),
			kind:   r.kind,
		})

	case op == ops.managerGetDevice:
		id := msg.ReadUint()
		seatID := msg.ReadObject()
		if err := r.args(msg); err != nil {
			return err
		}
		if _, err := lookup[*seatRes](c, r.id, seatID); err != nil {
			return err
		}
		d := dataDeviceRes{object: c.newObject(id, ops.device, r.version), kind: r.kind}
		if err := c.register(&d); err != nil {
			return err
		}
		c.dataDevices[r.kind] = append(c.dataDevices[r.kind], &d)
		if c.hasKeyboardFocus() {
			d.offer(c.comp.selection[r.kind])
		}

	case (r.kind == primary) && (op == protocol.PrimaryManagerDestroy):
		if err := r.args(msg); err != nil {
			return err
		}
		c.destroy(r.id)
	}
	return nil
}

// dataSourceRes is a selection offered by a Wayland client.
type dataSourceRes struct {
	object
	kind  selectionKind
	mimes []string
	// dnd is set once the source has been given drag-and-drop
	// actions, after which it cannot be used for the selection.
	dnd bool
}

func (r *dataSourceRes) Destroy() {
	comp := r.comp()
	if comp.selection[r.kind] == selectionSource(r) {
		comp.selection[r.kind] = nil
		comp.selectionChanged(r.kind)
	}
	r.object.Destroy()
}

func (r *dataSourceRes) mimeTypes() []string {
	return r.mimes
}

func (r *dataSourceRes) transfer(mime string, fd *os.File) {
	defer fd.Close()

	mb := r.event(selectionProtocols[r.kind].sourceSend)
	mb.WriteString(mime)
	mb.WriteFile(fd)
	r.send(mb)
}

func (r *dataSourceRes) cancel() {
	r.send(r.event(selectionProtocols[r.kind].sourceCancelled))
}

func (r *dataSourceRes) dispatch(msg *wire.MessageBuffer) error {
	ops := &selectionProtocols[r.kind]

	switch op := msg.Op(); {
	case op == ops.sourceOffer:
		mime := msg.ReadString()
		if err := r.args(msg); err != nil {
			return err
		}
		if !slices.Contains(r.mimes, mime) {
			r.mimes = append(r.mimes, mime)
		}

	case op == ops.sourceDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case (r.kind == clipboard) && (op == protocol.DataSourceSetActions):
		actions := msg.ReadUint()
		if err := r.args(msg); err != nil {
			return err
		}
		const all = protocol.DataDeviceManagerDndActionCopy | protocol.DataDeviceManagerDndActionMove | protocol.DataDeviceManagerDndActionAsk
		if actions&^all != 0 {
			return protocolError(r.id, protocol.DataSourceErrorInvalidActionMask, ErrProtocol, nil, "invalid actions %#x", actions)
		}
		r.dnd = true
	}
	return nil
}

type dataDeviceRes struct {
	object
	kind selectionKind
}

func (r *dataDeviceRes) Destroy() {
	c := r.client
	c.dataDevices[r.kind] = slices.DeleteFunc(c.dataDevices[r.kind], func(d *dataDeviceRes) bool { return d == r })
	r.object.Destroy()
}

func (r *dataDeviceRes) dispatch(msg *wire.MessageBuffer) error {
	c := r.client
	ops := &selectionProtocols[r.kind]

	switch op := msg.Op(); {
	case op == ops.deviceSetSelection:
		sid := msg.ReadObject()
		msg.ReadUint() // serial
		if err := r.args(msg); err != nil {
			return err
		}
		return r.setSelection(sid)

	case op == ops.deviceRelease:
		if err := r.args(msg); err != nil {
			return err
		}
		c.destroy(r.id)

	case (r.kind == clipboard) && (op == protocol.DataDeviceStartDrag):
		sid := msg.ReadObject()
		msg.ReadObject() // origin
		msg.ReadObject() // icon
		msg.ReadUint()   // serial
		if err := r.args(msg); err != nil {
			return err
		}
		c.log.Debug("drag and drop is not supported")
		if sid == 0 {
			return nil
		}
		src, err := lookup[*dataSourceRes](c, r.id, sid)
		if err != nil {
			return err
		}
		src.cancel()
	}
	return nil
}

func (r *dataDeviceRes) setSelection(sid uint32) error {
	c := r.client

	var src selectionSource
	if sid != 0 {
		s, err := lookup[*dataSourceRes](c, r.id, sid)
		if err != nil {
			return err
		}
		if s.kind != r.kind {
			return protocolError(r.id, protocol.DisplayErrorInvalidObject, ErrProtocol, nil, "%v is not a %v", sid, selectionProtocols[r.kind].source.Name)
		}
		if s.dnd {
			return protocolError(s.id, protocol.DataSourceErrorInvalidSource, ErrProtocol, nil, "drag and drop source used for the selection")
		}
		src = s
	}

	if !c.hasKeyboardFocus() {
		c.log.WithField("selection", r.kind).Debug("selection set without keyboard focus")
		if src != nil {
			src.cancel()
		}
		return nil
	}
	c.comp.setSelection(r.kind, src)
	return nil
}

// offer sends a new offer for src to the client, or clears its
// selection if src is nil.
func (r *dataDeviceRes) offer(src selectionSource) {
	ops := &selectionProtocols[r.kind]

	if src == nil {
		mb := r.event(ops.deviceSelection)
		mb.WriteObject(0)
		r.send(mb)
		return
	}

	o := dataOfferRes{
		object: r.client.newObject(0, ops.offer, r.version),
		kind:   r.kind,
		src:    src,
	}
	id := r.client.registerServer(&o)

	mb := r.event(ops.deviceDataOffer)
	mb.WriteUint(id)
	r.send(mb)

	for _, mime := range src.mimeTypes() {
		mb := o.event(ops.offerOffer)
		mb.WriteString(mime)
		o.send(mb)
	}

	mb = r.event(ops.deviceSelection)
	mb.WriteObject(id)
	r.send(mb)
}

// dataOfferRes is a client's handle on a selection. It goes stale
// once the selection changes.
type dataOfferRes struct {
	object
	kind selectionKind
	src  selectionSource
}

func (r *dataOfferRes) dispatch(msg *wire.MessageBuffer) error {
	ops := &selectionProtocols[r.kind]

	switch op := msg.Op(); {
	case op == ops.offerReceive:
		mime := msg.ReadString()
		fd := msg.ReadFile()
		if err := r.args(msg); err != nil {
			closeFile(fd)
			return err
		}
		if r.comp().selection[r.kind] != r.src {
			r.client.log.WithField("mime", mime).Debug("receive from stale offer")
			fd.Close()
			return nil
		}
		r.client.log.WithFields(logrus.Fields{
			"selection": r.kind,
			"mime":      mime,
		}).Debug("selection transfer")
		r.src.transfer(mime, fd)

	case op == ops.offerDestroy:
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)

	case (r.kind == clipboard) && (op == protocol.DataOfferFinish):
		return protocolError(r.id, protocol.DataOfferErrorInvalidFinish, ErrProtocol, nil, "finish on a selection offer")
	}
	// accept and set_actions only matter to drag and drop.
	return nil
}

// xSelection is a selection owned by an X client.
type xSelection struct {
	comp  *Compositor
	kind  selectionKind
	mimes []string
}

func (s *xSelection) mimeTypes() []string {
	return s.mimes
}

func (s *xSelection) transfer(mime string, fd *os.File) {
	if s.comp.wm == nil {
		fd.Close()
		return
	}
	s.comp.wm.ReceiveSelection(xwm.Selection(s.kind), mime, fd)
}

func (s *xSelection) cancel() {}
