package compositor

import (
	"errors"
	"os"

	"deedles.dev/wlcomp/buffer"
	"deedles.dev/wlcomp/internal/bin"
	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/internal/objstore"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/server"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
	"github.com/sirupsen/logrus"
)

// Conn is the compositor's view of a client connection.
type Conn interface {
	ID() uint64
	// Send queues a message. It must not block.
	Send(mb *wire.MessageBuilder) error
	// Close closes the connection once queued messages are written.
	Close(err error)
}

var _ Conn = (*server.Conn)(nil)

// Connect implements server.Handler.
func (comp *Compositor) Connect(c *server.Conn) {
	defer comp.guard()
	comp.connect(c)
}

// Dispatch implements server.Handler.
func (comp *Compositor) Dispatch(c *server.Conn, msg *wire.MessageBuffer) error {
	defer comp.guard()

	client, ok := comp.clients[c.ID()]
	if !ok {
		closeFDs(msg)
		return nil
	}
	return client.dispatch(msg)
}

// Disconnect implements server.Handler.
func (comp *Compositor) Disconnect(c *server.Conn, err error) {
	defer comp.guard()

	client, ok := comp.clients[c.ID()]
	if !ok {
		return
	}
	if c.ID() == comp.xwaylandConn {
		comp.log.WithError(err).Warn("XWayland disconnected")
	}
	comp.teardown(client, err)
}

// Client is one connection's view of the compositor: its object table
// and the per-client state that events are routed through.
type Client struct {
	comp    *Compositor
	conn    Conn
	objects *objstore.Store
	log     logrus.FieldLogger
	closed  bool

	registries []*registryRes
	pointers   []*pointerRes
	keyboards  []*keyboardRes
	touches    []*touchRes
	outputs    map[output.ID][]*outputRes

	// dataDevices holds the client's wl_data_device and primary
	// selection devices, indexed by selectionKind.
	dataDevices [2][]*dataDeviceRes

	// enterSerial is the serial of the most recent pointer enter,
	// which set_cursor must quote.
	enterSerial uint32
	cursor      clientCursor
}

func (comp *Compositor) connect(conn Conn) *Client {
	c := Client{
		comp:    comp,
		conn:    conn,
		objects: objstore.New(),
		log:     comp.log.WithField("conn", conn.ID()),
		outputs: make(map[output.ID][]*outputRes),
	}
	d := displayRes{object: c.newObject(1, &protocol.Display, 1)}
	c.objects.Create(1, protocol.Display.Name, 1, &d)

	comp.clients[conn.ID()] = &c
	comp.emit(ClientConnected{Client: conn.ID()})
	return &c
}

// teardown destroys every object of a client. Buffers are orphaned
// first so that no release events are attempted while its surfaces
// are destroyed.
func (comp *Compositor) teardown(c *Client, err error) {
	if c.closed {
		return
	}
	c.closed = true

	comp.table.Orphan(c.owner())
	c.objects.Clear()
	c.registries = nil
	c.pointers = nil
	c.keyboards = nil
	c.touches = nil
	c.dataDevices = [2][]*dataDeviceRes{}
	clear(c.outputs)

	delete(comp.clients, c.conn.ID())
	comp.emit(ClientDisconnected{Client: c.conn.ID(), Err: err})
	comp.updateCursor()
}

func (c *Client) ID() uint64 {
	return c.conn.ID()
}

func (c *Client) owner() buffer.Owner {
	return buffer.Owner(c.conn.ID())
}

func (c *Client) send(mb *wire.MessageBuilder) {
	if c.closed {
		mb.Close()
		return
	}
	err := c.conn.Send(mb)
	if err != nil {
		c.log.WithError(err).Debug("send failed")
	}
}

func (c *Client) dispatch(msg *wire.MessageBuffer) error {
	if c.closed {
		closeFDs(msg)
		return nil
	}

	e, err := c.objects.Resolve(msg.Sender())
	if err != nil {
		if iface, ok := c.objects.Tombstone(msg.Sender()); ok {
			// Requests racing with the destruction of their object
			// are dropped.
			skipFDs(msg, iface)
			return nil
		}
		closeFDs(msg)
		return c.fail(unknownObject(msg.Sender()))
	}

	iface := protocol.Interfaces[e.Interface]
	if int(msg.Op()) >= len(iface.Requests) {
		closeFDs(msg)
		return c.fail(invalidMethod(e.ID, nil, "%v has no request %v", iface.Name, msg.Op()))
	}

	r := e.Value.(resource)
	err = r.dispatch(msg)
	debug.Printf("[%v] <- %v", c.conn.ID(), msg.Debug(iface.Name, iface.RequestName(msg.Op())))
	if err != nil {
		return c.fail(err)
	}
	return nil
}

// fail handles an error from a request. Errors that only fail the
// request are logged and dropped. Anything else is sent to the client
// as a protocol error and ends the connection.
func (c *Client) fail(err error) error {
	var rerr *ResourceError
	if errors.As(err, &rerr) {
		c.log.WithError(err).WithField("object", rerr.Object).Warn("request failed")
		return err
	}

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		perr = implementationError(err)
	}
	log := c.log.WithError(perr).WithFields(logrus.Fields{
		"object": perr.Object,
		"code":   perr.Code,
	})
	if !perr.Fatal() {
		log.Warn("request on destroyed object")
		return perr
	}
	log.Warn("protocol violation")

	mb := wire.NewMessage(1, protocol.DisplayError)
	mb.Interface, mb.Method = protocol.Display.Name, "error"
	mb.WriteObject(perr.Object)
	mb.WriteUint(perr.Code)
	mb.WriteString(perr.Message)
	c.send(mb)

	c.comp.teardown(c, perr)
	c.conn.Close(perr)
	return perr
}

// newObject prepares the base of a resource. The resource still has to
// be registered.
func (c *Client) newObject(id uint32, iface *protocol.Interface, version uint32) object {
	return object{client: c, id: id, version: version, iface: iface}
}

// register adds a resource to the object table under its ID.
func (c *Client) register(r resource) error {
	o := r.base()
	if (o.id == 0) || (o.id >= objstore.ServerIDStart) {
		return protocolError(1, protocol.DisplayErrorInvalidObject, ErrProtocol, nil, "invalid new id %v for %v", o.id, o.iface.Name)
	}
	_, err := c.objects.Create(o.id, o.iface.Name, o.version, r)
	if err != nil {
		return protocolError(1, protocol.DisplayErrorInvalidObject, ErrDuplicateID, err, "%v@%v", o.iface.Name, o.id)
	}
	return nil
}

// registerServer adds a resource whose ID is allocated by the
// compositor.
func (c *Client) registerServer(r resource) uint32 {
	o := r.base()
	e, err := c.objects.Create(0, o.iface.Name, o.version, r)
	if err != nil {
		// The server range is never handed out twice.
		panic(err)
	}
	o.id = e.ID
	return e.ID
}

// destroy destroys an object along with anything linked to it.
func (c *Client) destroy(id uint32) {
	c.objects.Destroy(id)
}

func (c *Client) deleteID(id uint32) {
	if c.closed || (id >= objstore.ServerIDStart) {
		return
	}
	mb := wire.NewMessage(1, protocol.DisplayDeleteID)
	mb.Interface, mb.Method = protocol.Display.Name, "delete_id"
	mb.WriteUint(id)
	c.send(mb)
}

// lookup resolves a reference to an object of type T. References to
// destroyed objects fail without ending the connection.
func lookup[T resource](c *Client, from, id uint32) (T, error) {
	v, err := objstore.Get[T](c.objects, id)
	if err != nil {
		if errors.Is(err, objstore.ErrUnknownObject) {
			var z T
			return z, unknownObject(id)
		}
		var z T
		return z, protocolError(from, protocol.DisplayErrorInvalidObject, ErrInvalidReference, err, "bad reference to %v", id)
	}
	return v, nil
}

// lookupSurface finds a surface of the client by its object ID.
func (c *Client) lookupSurface(from, id uint32) (*surfaceRes, error) {
	return lookup[*surfaceRes](c, from, id)
}

func (c *Client) callbackDone(id, data uint32) {
	cb, err := objstore.Get[*callbackRes](c.objects, id)
	if err != nil {
		return
	}
	mb := cb.event(protocol.CallbackDone)
	mb.WriteUint(data)
	c.send(mb)
	c.destroy(id)
}

// clientOf returns the client that owns a surface, if it is still
// connected.
func (comp *Compositor) clientOf(s *surface.Surface) (*Client, bool) {
	c, ok := comp.clients[uint64(s.Owner())]
	if !ok || c.closed {
		return nil, false
	}
	return c, true
}

// resourceOf returns the wl_surface resource of a client surface.
func (comp *Compositor) resourceOf(s *surface.Surface) (*surfaceRes, bool) {
	r, ok := comp.surfaces[s.ID()]
	if !ok || r.client.closed {
		return nil, false
	}
	return r, true
}

// skipFDs closes the file descriptors of a request that won't be
// decoded, so that they aren't mistaken for those of later requests.
func skipFDs(msg *wire.MessageBuffer, iface string) {
	i, ok := protocol.Interfaces[iface]
	if !ok {
		return
	}
	for range i.RequestFDs(msg.Op()) {
		if f := msg.ReadFile(); f != nil {
			f.Close()
		}
	}
}

func closeFDs(msg *wire.MessageBuffer) {
	for {
		f := msg.ReadFile()
		if f == nil {
			return
		}
		f.Close()
	}
}

// uintArray encodes values as a wire array.
func uintArray(vals []uint32) []byte {
	buf := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		buf = bin.Append(buf, v)
	}
	return buf
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}
