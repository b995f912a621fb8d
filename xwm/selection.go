package xwm

import (
	"io"
	"os"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// Selection is an X selection that is bridged to Wayland.
type Selection uint8

const (
	// Clipboard is CLIPBOARD, bridged to wl_data_device.
	Clipboard Selection = iota
	// Primary is PRIMARY, bridged to the primary selection protocol.
	Primary
)

func (s Selection) String() string {
	switch s {
	case Clipboard:
		return "CLIPBOARD"
	case Primary:
		return "PRIMARY"
	default:
		return "unknown selection"
	}
}

// maxSelectionSize bounds a single transfer. Bigger transfers would
// need the INCR protocol.
const maxSelectionSize = 1 << 22

const (
	targetTargets = "TARGETS"
	targetUTF8    = "UTF8_STRING"
	targetString  = "STRING"
	targetText    = "TEXT"

	mimeUTF8 = "text/plain;charset=utf-8"
	mimeText = "text/plain"
)

// SelectionOwner reports that an X client took a selection, or that
// its owner went away. Changes made by the window manager itself are
// not reported.
type SelectionOwner struct {
	Selection Selection
	Owned     bool
}

// SelectionRequest asks the window manager, as owner of a selection,
// for its contents as Target.
type SelectionRequest struct {
	Selection Selection
	Target    string
	Requestor Window
	// Property is the atom the requestor wants the data stored in.
	Property uint32
	Time     uint32
}

// SelectionNotify answers ConvertSelection. Data is nil if the owner
// refused. Targets is set instead of Data when Target is TARGETS.
type SelectionNotify struct {
	Selection Selection
	Target    string
	Data      []byte
	Targets   []string
}

// SelectionReply answers a SelectionRequest with either a list of
// targets or data.
type SelectionReply struct {
	Targets []string
	Data    []byte
}

func (SelectionOwner) xevent()   {}
func (SelectionRequest) xevent() {}
func (SelectionNotify) xevent()  {}

type transfer struct {
	target string
	w      *os.File
}

type selectionState struct {
	// offered is the MIME types of the Wayland selection while the
	// window manager owns the X selection on its behalf.
	offered []string
	owned   bool
	// xOwned is set while an X client owns the selection.
	xOwned  bool
	pending []transfer
}

func (st *selectionState) drop() {
	for _, t := range st.pending {
		if t.w != nil {
			t.w.Close()
		}
	}
	st.pending = nil
}

// SetSelection offers a Wayland selection to X clients. A nil mimes
// withdraws it.
func (wm *WM) SetSelection(sel Selection, mimes []string) {
	st := &wm.sel[sel]
	log := wm.log.WithField("selection", sel)

	if mimes == nil {
		if !st.owned {
			return
		}
		st.owned = false
		st.offered = nil
		if err := wm.conn.SetSelectionOwner(sel, false); err != nil {
			log.WithError(err).Warn("release selection")
		}
		return
	}

	st.xOwned = false
	st.drop()
	st.owned = true
	st.offered = slices.Clone(mimes)
	if err := wm.conn.SetSelectionOwner(sel, true); err != nil {
		log.WithError(err).Warn("take selection")
		st.owned = false
		st.offered = nil
	}
}

// ReceiveSelection writes the contents of an X client's selection to
// w in the given MIME type. w is closed when the transfer ends.
func (wm *WM) ReceiveSelection(sel Selection, mime string, w *os.File) {
	st := &wm.sel[sel]
	if !st.xOwned {
		w.Close()
		return
	}

	target := targetFor(mime)
	if err := wm.conn.ConvertSelection(sel, target); err != nil {
		wm.log.WithError(err).WithField("selection", sel).Warn("convert selection")
		w.Close()
		return
	}
	st.pending = append(st.pending, transfer{target: target, w: w})
}

func (wm *WM) selectionOwner(ev SelectionOwner) {
	st := &wm.sel[ev.Selection]
	log := wm.log.WithField("selection", ev.Selection)

	if !ev.Owned {
		if !st.xOwned {
			return
		}
		st.xOwned = false
		st.drop()
		log.Debug("X selection cleared")
		wm.host.XSelection(ev.Selection, nil)
		return
	}

	st.owned = false
	st.offered = nil
	st.xOwned = true
	st.drop()
	if err := wm.conn.ConvertSelection(ev.Selection, targetTargets); err != nil {
		log.WithError(err).Warn("request selection targets")
		return
	}
	st.pending = append(st.pending, transfer{target: targetTargets})
}

func (wm *WM) selectionNotify(ev SelectionNotify) {
	st := &wm.sel[ev.Selection]
	i := slices.IndexFunc(st.pending, func(t transfer) bool { return t.target == ev.Target })
	if i < 0 {
		wm.log.WithField("target", ev.Target).Debug("unexpected selection notify")
		return
	}
	t := st.pending[i]
	st.pending = slices.Delete(st.pending, i, i+1)

	if t.target == targetTargets {
		if !st.xOwned {
			return
		}
		mimes := mimesFor(ev.Targets)
		wm.log.WithFields(logrus.Fields{
			"selection": ev.Selection,
			"mimes":     mimes,
		}).Debug("X selection offered")
		wm.host.XSelection(ev.Selection, mimes)
		return
	}

	if ev.Data == nil {
		t.w.Close()
		return
	}
	go func() {
		defer t.w.Close()
		if _, err := t.w.Write(ev.Data); err != nil {
			wm.log.WithError(err).Debug("write selection")
		}
	}()
}

func (wm *WM) selectionRequest(ev SelectionRequest) {
	st := &wm.sel[ev.Selection]
	log := wm.log.WithFields(logrus.Fields{
		"selection": ev.Selection,
		"target":    ev.Target,
	})
	refuse := func() {
		if err := wm.conn.SendSelection(ev, nil); err != nil {
			log.WithError(err).Debug("refuse selection request")
		}
	}

	if !st.owned {
		refuse()
		return
	}
	if ev.Target == targetTargets {
		err := wm.conn.SendSelection(ev, &SelectionReply{Targets: targetsFor(st.offered)})
		if err != nil {
			log.WithError(err).Debug("send targets")
		}
		return
	}

	mime, ok := mimeFor(st.offered, ev.Target)
	if !ok {
		refuse()
		return
	}
	r, w, err := os.Pipe()
	if err != nil {
		log.WithError(err).Warn("create selection pipe")
		refuse()
		return
	}
	wm.host.SendSelection(ev.Selection, mime, w)

	conn := wm.conn
	go func() {
		defer r.Close()
		data, err := io.ReadAll(io.LimitReader(r, maxSelectionSize+1))
		if (err != nil) || (len(data) > maxSelectionSize) {
			log.WithError(err).WithField("size", len(data)).Debug("read selection")
			conn.SendSelection(ev, nil)
			return
		}
		if err := conn.SendSelection(ev, &SelectionReply{Data: data}); err != nil {
			log.WithError(err).Debug("send selection")
		}
	}()
}

// targetFor is the X target to convert a selection to for a MIME
// type.
func targetFor(mime string) string {
	switch mime {
	case mimeUTF8:
		return targetUTF8
	case mimeText:
		return targetString
	default:
		return mime
	}
}

// mimeFor picks the offered MIME type that best matches an X target.
func mimeFor(offered []string, target string) (string, bool) {
	want := []string{target}
	switch target {
	case targetUTF8:
		want = []string{mimeUTF8, targetUTF8, mimeText}
	case targetString, targetText:
		want = []string{mimeText, mimeUTF8}
	}
	for _, m := range want {
		if slices.Contains(offered, m) {
			return m, true
		}
	}
	return "", false
}

// targetsFor lists the X targets that a Wayland selection can be
// converted to.
func targetsFor(offered []string) []string {
	targets := []string{targetTargets}
	add := func(t string) {
		if !slices.Contains(targets, t) {
			targets = append(targets, t)
		}
	}
	for _, m := range offered {
		switch m {
		case mimeUTF8:
			add(targetUTF8)
		case mimeText:
			add(targetString)
			add(targetText)
		}
		add(m)
	}
	return targets
}

// mimesFor lists the MIME types under which an X selection with the
// given targets is offered to Wayland clients.
func mimesFor(targets []string) []string {
	mimes := []string{}
	add := func(m string) {
		if !slices.Contains(mimes, m) {
			mimes = append(mimes, m)
		}
	}
	for _, t := range targets {
		switch {
		case t == targetUTF8:
			add(mimeUTF8)
		case (t == targetString) || (t == targetText):
			add(mimeText)
		case strings.Contains(t, "/"):
			add(t)
		}
	}
	return mimes
}
