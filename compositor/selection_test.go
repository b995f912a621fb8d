package compositor

import (
	"errors"
	"image"
	"io"
	"os"
	"testing"

	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/xwm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const utf8Mime = "text/plain;charset=utf-8"

// dataDevice binds a selection manager and creates a device for the
// client's seat.
func (tc *testClient) dataDevice(manager string, getDevice uint16) (mgr, dev uint32) {
	tc.t.Helper()
	seatID := tc.bind("wl_seat")
	mgr = tc.bind(manager)
	dev = tc.newID()
	tc.must(mgr, getDevice, dev, seatID)
	return mgr, dev
}

func (tc *testClient) source(mgr uint32, create, offer uint16, mimes ...string) uint32 {
	tc.t.Helper()
	id := tc.newID()
	tc.must(mgr, create, id)
	for _, mime := range mimes {
		tc.must(id, offer, mime)
	}
	return id
}

// focusedToplevel maps a toplevel, which takes keyboard focus.
func (tc *testClient) focusedToplevel() uint32 {
	tc.t.Helper()
	surf, _, _, _ := tc.toplevel(50, 50)
	tc.must(surf, protocol.SurfaceCommit)
	return surf
}

// lastSelection returns the offer named by the last selection event of
// a device and the MIME types it was announced with.
func lastSelection(t *testing.T, evs []event, device, offer string) (id uint32, mimes []string) {
	t.Helper()

	var sel *event
	for i := range evs {
		if (evs[i].Interface == device) && (evs[i].Method == "selection") {
			sel = &evs[i]
		}
	}
	require.NotNil(t, sel, "no %v.selection", device)

	id = sel.msg.ReadObject()
	for _, ev := range evs {
		if (ev.Interface == offer) && (ev.Method == "offer") && (ev.Sender == id) {
			mimes = append(mimes, ev.msg.ReadString())
		}
	}
	return id, mimes
}

func TestClipboardSelection(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(), f.connect()

	mgrA, devA := a.dataDevice("wl_data_device_manager", protocol.DataDeviceManagerGetDataDevice)
	mgrB, devB := b.dataDevice("wl_data_device_manager", protocol.DataDeviceManagerGetDataDevice)

	a.focusedToplevel()
	id, _ := lastSelection(t, a.take(), "wl_data_device", "wl_data_offer")
	assert.Zero(t, id, "empty selection on focus")

	srcA := a.source(mgrA, protocol.DataDeviceManagerCreateDataSource, protocol.DataSourceOffer, utf8Mime, "text/plain")
	a.must(devA, protocol.DataDeviceSetSelection, srcA, 0)
	_, mimes := lastSelection(t, a.take(), "wl_data_device", "wl_data_offer")
	assert.Equal(t, []string{utf8Mime, "text/plain"}, mimes)

	// b is offered the selection when it gains focus.
	b.focusedToplevel()
	offer, mimes := lastSelection(t, b.take(), "wl_data_device", "wl_data_offer")
	require.NotZero(t, offer)
	assert.Equal(t, []string{utf8Mime, "text/plain"}, mimes)

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	b.must(offer, protocol.DataOfferReceive, "text/plain", pw)
	pw.Close()
	ev, ok := find(a.take(), "wl_data_source", "send")
	require.True(t, ok)
	assert.Equal(t, srcA, ev.Sender)
	assert.Equal(t, "text/plain", ev.msg.ReadString())

	srcB := b.source(mgrB, protocol.DataDeviceManagerCreateDataSource, protocol.DataSourceOffer, "text/html")
	b.must(devB, protocol.DataDeviceSetSelection, srcB, 0)
	ev, ok = find(a.take(), "wl_data_source", "cancelled")
	require.True(t, ok, "replaced source is cancelled")
	assert.Equal(t, srcA, ev.Sender)
	_, mimes = lastSelection(t, b.take(), "wl_data_device", "wl_data_offer")
	assert.Equal(t, []string{"text/html"}, mimes)

	// The first offer went stale with its source.
	pr2, pw2, err := os.Pipe()
	require.NoError(t, err)
	defer pr2.Close()
	b.must(offer, protocol.DataOfferReceive, "text/plain", pw2)
	pw2.Close()
	data, err := io.ReadAll(pr2)
	require.NoError(t, err)
	assert.Empty(t, data)
	_, ok = find(a.take(), "wl_data_source", "send")
	assert.False(t, ok)

	// a has lost focus, so its selection is refused.
	srcA2 := a.source(mgrA, protocol.DataDeviceManagerCreateDataSource, protocol.DataSourceOffer, "text/plain")
	a.must(devA, protocol.DataDeviceSetSelection, srcA2, 0)
	ev, ok = find(a.take(), "wl_data_source", "cancelled")
	require.True(t, ok)
	assert.Equal(t, srcA2, ev.Sender)
	cur, ok := f.comp.selection[clipboard].(*dataSourceRes)
	require.True(t, ok)
	assert.Equal(t, srcB, cur.id)

	b.must(srcB, protocol.DataSourceDestroy)
	id, _ = lastSelection(t, b.take(), "wl_data_device", "wl_data_offer")
	assert.Zero(t, id, "destroying the source clears the selection")
	assert.Nil(t, f.comp.selection[clipboard])
}

func TestPrimarySelection(t *testing.T) {
	f := newFixture(t)
	tc := f.connect()

	mgr, dev := tc.dataDevice("zwp_primary_selection_device_manager_v1", protocol.PrimaryManagerGetDevice)
	tc.focusedToplevel()
	tc.take()

	src := tc.source(mgr, protocol.PrimaryManagerCreateSource, protocol.PrimarySourceOffer, "text/plain")
	tc.must(dev, protocol.PrimaryDeviceSetSelection, src, 0)
	offer, mimes := lastSelection(t, tc.take(), "zwp_primary_selection_device_v1", "zwp_primary_selection_offer_v1")
	require.NotZero(t, offer)
	assert.Equal(t, []string{"text/plain"}, mimes)
	assert.Nil(t, f.comp.selection[clipboard], "the clipboard is separate")

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	tc.must(offer, protocol.PrimaryOfferReceive, "text/plain", pw)
	pw.Close()
	ev, ok := find(tc.take(), "zwp_primary_selection_source_v1", "send")
	require.True(t, ok)
	assert.Equal(t, src, ev.Sender)
	assert.Equal(t, "text/plain", ev.msg.ReadString())

	tc.must(offer, protocol.PrimaryOfferDestroy)
	tc.must(dev, protocol.PrimaryDeviceDestroy)
	assert.Empty(t, tc.c.dataDevices[primary])
	tc.must(mgr, protocol.PrimaryManagerDestroy)
	assert.False(t, tc.conn.closed)
}

func TestDragSources(t *testing.T) {
	f := newFixture(t)
	tc := f.connect()

	mgr, dev := tc.dataDevice("wl_data_device_manager", protocol.DataDeviceManagerGetDataDevice)
	surf := tc.focusedToplevel()
	tc.take()

	// Drags are refused by cancelling the source.
	drag := tc.source(mgr, protocol.DataDeviceManagerCreateDataSource, protocol.DataSourceOffer, "text/plain")
	tc.must(drag, protocol.DataSourceSetActions, protocol.DataDeviceManagerDndActionCopy)
	tc.must(dev, protocol.DataDeviceStartDrag, drag, surf, 0, 0)
	ev, ok := find(tc.take(), "wl_data_source", "cancelled")
	require.True(t, ok)
	assert.Equal(t, drag, ev.Sender)

	err := tc.send(dev, protocol.DataDeviceSetSelection, drag, 0)
	assert.ErrorIs(t, err, ErrProtocol)
	object, code := tc.protocolError(tc.take())
	assert.Equal(t, drag, object)
	assert.Equal(t, uint32(protocol.DataSourceErrorInvalidSource), code)
}

type fakeXConn struct {
	owners    [2]bool
	converted []string
}

func (c *fakeXConn) NextEvent() (xwm.Event, error)  { return nil, errors.New("closed") }
func (c *fakeXConn) MapWindow(w xwm.Window) error   { return nil }
func (c *fakeXConn) UnmapWindow(w xwm.Window) error { return nil }
func (c *fakeXConn) SetInputFocus(w xwm.Window) error {
	return nil
}

func (c *fakeXConn) ConfigureWindow(w xwm.Window, geometry image.Rectangle, sibling xwm.Window, mode *xwm.StackMode) error {
	return nil
}

func (c *fakeXConn) SetSelectionOwner(sel xwm.Selection, own bool) error {
	c.owners[sel] = own
	return nil
}

func (c *fakeXConn) ConvertSelection(sel xwm.Selection, target string) error {
	c.converted = append(c.converted, target)
	return nil
}

func (c *fakeXConn) SendSelection(req xwm.SelectionRequest, reply *xwm.SelectionReply) error {
	return nil
}

func (c *fakeXConn) Close() error { return nil }

func TestSelectionBridgedToX(t *testing.T) {
	f := newFixture(t)
	xc := &fakeXConn{}
	f.comp.wm = xwm.New(xc, f.comp.scene, xwmHost{f.comp}, f.comp.log)

	tc := f.connect()
	mgr, dev := tc.dataDevice("wl_data_device_manager", protocol.DataDeviceManagerGetDataDevice)
	tc.focusedToplevel()

	src := tc.source(mgr, protocol.DataDeviceManagerCreateDataSource, protocol.DataSourceOffer, "text/plain")
	tc.must(dev, protocol.DataDeviceSetSelection, src, 0)
	assert.True(t, xc.owners[xwm.Clipboard], "Wayland selection is exported to X")
	assert.False(t, xc.owners[xwm.Primary])
	tc.take()

	// An X client takes the clipboard.
	f.comp.wm.Handle(xwm.SelectionOwner{Selection: xwm.Clipboard, Owned: true})
	assert.Equal(t, []string{"TARGETS"}, xc.converted)
	f.comp.wm.Handle(xwm.SelectionNotify{
		Selection: xwm.Clipboard,
		Target:    "TARGETS",
		Targets:   []string{"TARGETS", "UTF8_STRING"},
	})

	evs := tc.take()
	ev, ok := find(evs, "wl_data_source", "cancelled")
	require.True(t, ok)
	assert.Equal(t, src, ev.Sender)
	offer, mimes := lastSelection(t, evs, "wl_data_device", "wl_data_offer")
	require.NotZero(t, offer)
	assert.Equal(t, []string{utf8Mime}, mimes)

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	tc.must(offer, protocol.DataOfferReceive, utf8Mime, pw)
	pw.Close()
	assert.Equal(t, []string{"TARGETS", "UTF8_STRING"}, xc.converted)

	f.comp.wm.Handle(xwm.SelectionNotify{Selection: xwm.Clipboard, Target: "UTF8_STRING", Data: []byte("from X")})
	data, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "from X", string(data))

	f.comp.wm.Handle(xwm.SelectionOwner{Selection: xwm.Clipboard, Owned: false})
	id, _ := lastSelection(t, tc.take(), "wl_data_device", "wl_data_offer")
	assert.Zero(t, id)
	assert.Nil(t, f.comp.selection[clipboard])
}
