package xwm_test

import (
	"io"
	"os"
	"testing"
	"time"

	"deedles.dev/wlcomp/xwm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const utf8Mime = "text/plain;charset=utf-8"

func TestWaylandSelectionToX(t *testing.T) {
	e := setup(t)
	e.host.contents = "hello"

	e.wm.SetSelection(xwm.Clipboard, []string{utf8Mime, "image/png"})
	assert.True(t, e.conn.owner(xwm.Clipboard))
	assert.False(t, e.conn.owner(xwm.Primary))

	e.wm.Handle(xwm.SelectionRequest{Selection: xwm.Clipboard, Target: "TARGETS", Requestor: 5, Property: 9})
	require.Equal(t, 1, e.conn.replyCount())
	r := e.conn.reply(0)
	require.NotNil(t, r.reply)
	assert.Equal(t, []string{"TARGETS", "UTF8_STRING", utf8Mime, "image/png"}, r.reply.Targets)
	assert.Equal(t, xwm.Window(5), r.req.Requestor)

	e.wm.Handle(xwm.SelectionRequest{Selection: xwm.Clipboard, Target: "UTF8_STRING", Requestor: 5, Property: 9})
	assert.Equal(t, []string{utf8Mime}, e.host.sent)
	require.Eventually(t, func() bool { return e.conn.replyCount() == 2 }, time.Second, time.Millisecond)
	r = e.conn.reply(1)
	require.NotNil(t, r.reply)
	assert.Equal(t, []byte("hello"), r.reply.Data)
	assert.Equal(t, "UTF8_STRING", r.req.Target)

	e.wm.Handle(xwm.SelectionRequest{Selection: xwm.Clipboard, Target: "video/mp4", Requestor: 5, Property: 9})
	require.Equal(t, 3, e.conn.replyCount())
	assert.Nil(t, e.conn.reply(2).reply, "unsupported targets are refused")

	e.wm.SetSelection(xwm.Clipboard, nil)
	assert.False(t, e.conn.owner(xwm.Clipboard))

	e.wm.Handle(xwm.SelectionRequest{Selection: xwm.Clipboard, Target: "TARGETS", Requestor: 5, Property: 9})
	require.Equal(t, 4, e.conn.replyCount())
	assert.Nil(t, e.conn.reply(3).reply, "requests after release are refused")
}

func TestXSelectionToWayland(t *testing.T) {
	e := setup(t)

	e.wm.Handle(xwm.SelectionOwner{Selection: xwm.Primary, Owned: true})
	require.Len(t, e.conn.converted, 1)
	assert.Equal(t, xwm.Primary, e.conn.converted[0].sel)
	assert.Equal(t, "TARGETS", e.conn.converted[0].target)
	assert.Empty(t, e.host.offers, "nothing offered before the targets arrive")

	e.wm.Handle(xwm.SelectionNotify{
		Selection: xwm.Primary,
		Target:    "TARGETS",
		Targets:   []string{"TARGETS", "TIMESTAMP", "UTF8_STRING", "STRING", "TEXT"},
	})
	require.Len(t, e.host.offers, 1)
	assert.Equal(t, []string{utf8Mime, "text/plain"}, e.host.offers[0])

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	e.wm.ReceiveSelection(xwm.Primary, utf8Mime, pw)
	require.Len(t, e.conn.converted, 2)
	assert.Equal(t, "UTF8_STRING", e.conn.converted[1].target)

	e.wm.Handle(xwm.SelectionNotify{Selection: xwm.Primary, Target: "UTF8_STRING", Data: []byte("from X")})
	data, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "from X", string(data))

	e.wm.Handle(xwm.SelectionOwner{Selection: xwm.Primary, Owned: false})
	require.Len(t, e.host.offers, 2)
	assert.Nil(t, e.host.offers[1])
}

func TestReceiveSelectionRefused(t *testing.T) {
	e := setup(t)

	// No X owner: the pipe is closed straight away.
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	e.wm.ReceiveSelection(xwm.Clipboard, utf8Mime, pw)
	data, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Empty(t, data)
	pr.Close()
	assert.Empty(t, e.conn.converted)

	e.wm.Handle(xwm.SelectionOwner{Selection: xwm.Clipboard, Owned: true})
	pr, pw, err = os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	e.wm.ReceiveSelection(xwm.Clipboard, "text/plain", pw)
	assert.Equal(t, "STRING", e.conn.converted[len(e.conn.converted)-1].target)

	e.wm.Handle(xwm.SelectionNotify{Selection: xwm.Clipboard, Target: "STRING"})
	data, err = io.ReadAll(pr)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestWaylandSelectionReplacesX(t *testing.T) {
	e := setup(t)

	e.wm.Handle(xwm.SelectionOwner{Selection: xwm.Clipboard, Owned: true})
	e.wm.SetSelection(xwm.Clipboard, []string{"text/plain"})
	assert.True(t, e.conn.owner(xwm.Clipboard))

	// The stale targets reply for the X owner is dropped.
	e.wm.Handle(xwm.SelectionNotify{Selection: xwm.Clipboard, Target: "TARGETS", Targets: []string{"STRING"}})
	assert.Empty(t, e.host.offers)

	e.wm.Handle(xwm.SelectionRequest{Selection: xwm.Clipboard, Target: "TARGETS", Requestor: 3, Property: 4})
	require.Equal(t, 1, e.conn.replyCount())
	assert.Equal(t, []string{"TARGETS", "STRING", "TEXT", "text/plain"}, e.conn.reply(0).reply.Targets)
}
