package xwm

import (
	"errors"
	"fmt"
	"image"
	"net"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"
	"github.com/sirupsen/logrus"
)

var ErrConnClosed = errors.New("X connection closed")

var _ XConn = (*Conn)(nil)

// Conn is an XConn on top of a real X server connection.
type Conn struct {
	x    *xgb.Conn
	root xproto.Window
	log  logrus.FieldLogger

	atomSurfaceID xproto.Atom
	atomNetWMName xproto.Atom
	atomUTF8      xproto.Atom
	atomClipboard xproto.Atom
	atomTargets   xproto.Atom
	atomIncr      xproto.Atom
	// atomTransfer is the property of the window manager's window that
	// converted selections are stored in.
	atomTransfer xproto.Atom

	// win owns selections on behalf of Wayland clients.
	win xproto.Window

	m     sync.Mutex
	atoms map[string]xproto.Atom
	names map[xproto.Atom]string
}

// Dial connects to the X server over c and takes on the window
// manager role for its first screen.
func Dial(c net.Conn, log logrus.FieldLogger) (*Conn, error) {
	x, err := xgb.NewConnNet(c)
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}

	conn, err := newConn(x, log)
	if err != nil {
		x.Close()
		return nil, err
	}
	return conn, nil
}

func newConn(x *xgb.Conn, log logrus.FieldLogger) (*Conn, error) {
	setup := xproto.Setup(x)
	if len(setup.Roots) == 0 {
		return nil, errors.New("X server has no screens")
	}

	conn := Conn{
		x:     x,
		root:  setup.Roots[0].Root,
		log:   log.WithField("component", "xwm"),
		atoms: make(map[string]xproto.Atom),
		names: make(map[xproto.Atom]string),
	}

	err := xproto.ChangeWindowAttributesChecked(
		x,
		conn.root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify | xproto.EventMaskPropertyChange},
	).Check()
	if err != nil {
		return nil, fmt.Errorf("become window manager: %w", err)
	}

	atoms := []struct {
		name string
		dst  *xproto.Atom
	}{
		{"WL_SURFACE_ID", &conn.atomSurfaceID},
		{"_NET_WM_NAME", &conn.atomNetWMName},
		{"UTF8_STRING", &conn.atomUTF8},
		{"CLIPBOARD", &conn.atomClipboard},
		{"TARGETS", &conn.atomTargets},
		{"INCR", &conn.atomIncr},
		{"_WLCOMP_SELECTION", &conn.atomTransfer},
	}
	for _, a := range atoms {
		atom, err := conn.atom(a.name)
		if err != nil {
			return nil, err
		}
		*a.dst = atom
	}

	if err := conn.initSelections(); err != nil {
		return nil, err
	}

	return &conn, nil
}

// initSelections creates the window that owns selections and asks
// XFIXES to report selection owner changes.
func (c *Conn) initSelections() error {
	win, err := xproto.NewWindowId(c.x)
	if err != nil {
		return fmt.Errorf("allocate selection window: %w", err)
	}
	err = xproto.CreateWindowChecked(
		c.x,
		0,
		win,
		c.root,
		0, 0, 1, 1, 0,
		xproto.WindowClassInputOnly,
		0,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check()
	if err != nil {
		return fmt.Errorf("create selection window: %w", err)
	}
	c.win = win

	if err := xfixes.Init(c.x); err != nil {
		return fmt.Errorf("XFIXES: %w", err)
	}
	if _, err := xfixes.QueryVersion(c.x, 5, 0).Reply(); err != nil {
		return fmt.Errorf("XFIXES version: %w", err)
	}

	mask := uint32(xfixes.SelectionEventMaskSetSelectionOwner |
		xfixes.SelectionEventMaskSelectionWindowDestroy |
		xfixes.SelectionEventMaskSelectionClientClose)
	for _, sel := range []xproto.Atom{c.atomClipboard, xproto.AtomPrimary} {
		err := xfixes.SelectSelectionInputChecked(c.x, c.win, sel, mask).Check()
		if err != nil {
			return fmt.Errorf("select selection input: %w", err)
		}
	}
	return nil
}

// atom interns name, caching the result.
func (c *Conn) atom(name string) (xproto.Atom, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if a, ok := c.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(c.x, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern %v: %w", name, err)
	}
	c.atoms[name] = reply.Atom
	c.names[reply.Atom] = name
	return reply.Atom, nil
}

func (c *Conn) atomName(a xproto.Atom) (string, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if n, ok := c.names[a]; ok {
		return n, nil
	}
	reply, err := xproto.GetAtomName(c.x, a).Reply()
	if err != nil {
		return "", fmt.Errorf("atom name %v: %w", a, err)
	}
	c.atoms[reply.Name] = a
	c.names[a] = reply.Name
	return reply.Name, nil
}

func (c *Conn) NextEvent() (Event, error) {
	for {
		ev, xerr := c.x.WaitForEvent()
		if (ev == nil) && (xerr == nil) {
			return nil, ErrConnClosed
		}
		if xerr != nil {
			c.log.WithError(xerr).Debug("X error")
			continue
		}

		if out, ok := c.translate(ev); ok {
			return out, nil
		}
	}
}

func rect(x, y int16, w, h uint16) image.Rectangle {
	return image.Rect(int(x), int(y), int(x)+int(w), int(y)+int(h))
}

func (c *Conn) translate(ev xgb.Event) (Event, bool) {
	switch ev := ev.(type) {
	case xproto.CreateNotifyEvent:
		if (ev.Parent != c.root) || (ev.Window == c.win) {
			return nil, false
		}
		err := xproto.ChangeWindowAttributesChecked(
			c.x,
			ev.Window,
			xproto.CwEventMask,
			[]uint32{xproto.EventMaskPropertyChange},
		).Check()
		if err != nil {
			c.log.WithError(err).WithField("window", ev.Window).Debug("select window events")
		}
		return CreateNotify{
			Window:           Window(ev.Window),
			Geometry:         rect(ev.X, ev.Y, ev.Width, ev.Height),
			OverrideRedirect: ev.OverrideRedirect,
		}, true

	case xproto.DestroyNotifyEvent:
		return DestroyNotify{Window: Window(ev.Window)}, true

	case xproto.MapRequestEvent:
		return MapRequest{Window: Window(ev.Window)}, true

	case xproto.MapNotifyEvent:
		return MapNotify{Window: Window(ev.Window)}, true

	case xproto.UnmapNotifyEvent:
		return UnmapNotify{Window: Window(ev.Window)}, true

	case xproto.ConfigureRequestEvent:
		return ConfigureRequest{
			Window:    Window(ev.Window),
			Geometry:  rect(ev.X, ev.Y, ev.Width, ev.Height),
			Mask:      ConfigMask(ev.ValueMask),
			Sibling:   Window(ev.Sibling),
			StackMode: StackMode(ev.StackMode),
		}, true

	case xproto.ConfigureNotifyEvent:
		if ev.Event != c.root {
			return nil, false
		}
		return ConfigureNotify{
			Window:           Window(ev.Window),
			Geometry:         rect(ev.X, ev.Y, ev.Width, ev.Height),
			Above:            Window(ev.AboveSibling),
			OverrideRedirect: ev.OverrideRedirect,
		}, true

	case xproto.ClientMessageEvent:
		if (ev.Type != c.atomSurfaceID) || (ev.Format != 32) {
			return nil, false
		}
		return SurfaceID{
			Window:  Window(ev.Window),
			Surface: ev.Data.Data32[0],
		}, true

	case xproto.PropertyNotifyEvent:
		if (ev.Atom != c.atomNetWMName) && (ev.Atom != xproto.AtomWmName) {
			return nil, false
		}
		title, err := c.title(ev.Window)
		if err != nil {
			c.log.WithError(err).WithField("window", ev.Window).Debug("get title")
			return nil, false
		}
		return TitleChanged{Window: Window(ev.Window), Title: title}, true

	case xfixes.SelectionNotifyEvent:
		sel, ok := c.selection(ev.Selection)
		if !ok || (ev.Owner == c.win) {
			return nil, false
		}
		return SelectionOwner{Selection: sel, Owned: ev.Owner != 0}, true

	case xproto.SelectionRequestEvent:
		return c.selectionRequest(ev)

	case xproto.SelectionNotifyEvent:
		return c.selectionNotify(ev)

	default:
		return nil, false
	}
}

func (c *Conn) selection(a xproto.Atom) (Selection, bool) {
	switch a {
	case c.atomClipboard:
		return Clipboard, true
	case xproto.AtomPrimary:
		return Primary, true
	default:
		return 0, false
	}
}

func (c *Conn) selectionAtom(sel Selection) xproto.Atom {
	if sel == Primary {
		return xproto.AtomPrimary
	}
	return c.atomClipboard
}

func (c *Conn) selectionRequest(ev xproto.SelectionRequestEvent) (Event, bool) {
	sel, ok := c.selection(ev.Selection)
	if !ok {
		return nil, false
	}
	target, err := c.atomName(ev.Target)
	if err != nil {
		c.log.WithError(err).Debug("selection request target")
		return nil, false
	}
	prop := ev.Property
	if prop == 0 {
		// Obsolete requestors leave the property to the owner.
		prop = ev.Target
	}
	return SelectionRequest{
		Selection: sel,
		Target:    target,
		Requestor: Window(ev.Requestor),
		Property:  uint32(prop),
		Time:      uint32(ev.Time),
	}, true
}

func (c *Conn) selectionNotify(ev xproto.SelectionNotifyEvent) (Event, bool) {
	sel, ok := c.selection(ev.Selection)
	if !ok || (ev.Requestor != c.win) {
		return nil, false
	}
	target, err := c.atomName(ev.Target)
	if err != nil {
		c.log.WithError(err).Debug("selection notify target")
		return nil, false
	}
	out := SelectionNotify{Selection: sel, Target: target}
	if ev.Property == 0 {
		return out, true
	}

	reply, err := xproto.GetProperty(c.x, true, c.win, ev.Property, xproto.GetPropertyTypeAny, 0, maxSelectionSize/4).Reply()
	if err != nil {
		c.log.WithError(err).Debug("get selection")
		return out, true
	}
	if reply.Type == c.atomIncr {
		c.log.WithField("target", target).Debug("incremental selection transfers are not supported")
		return out, true
	}

	if ev.Target != c.atomTargets {
		out.Data = reply.Value
		if out.Data == nil {
			out.Data = []byte{}
		}
		return out, true
	}

	out.Targets = []string{}
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		name, err := c.atomName(xproto.Atom(xgb.Get32(reply.Value[i:])))
		if err != nil {
			continue
		}
		out.Targets = append(out.Targets, name)
	}
	return out, true
}

func (c *Conn) SetSelectionOwner(sel Selection, own bool) error {
	owner := xproto.Window(0)
	if own {
		owner = c.win
	}
	return xproto.SetSelectionOwnerChecked(c.x, owner, c.selectionAtom(sel), xproto.TimeCurrentTime).Check()
}

func (c *Conn) ConvertSelection(sel Selection, target string) error {
	atom, err := c.atom(target)
	if err != nil {
		return err
	}
	return xproto.ConvertSelectionChecked(
		c.x,
		c.win,
		c.selectionAtom(sel),
		atom,
		c.atomTransfer,
		xproto.TimeCurrentTime,
	).Check()
}

func (c *Conn) SendSelection(req SelectionRequest, reply *SelectionReply) error {
	target, err := c.atom(req.Target)
	if err != nil {
		return err
	}
	prop := xproto.Atom(req.Property)

	switch {
	case reply == nil:
		prop = 0

	case reply.Targets != nil:
		data := make([]byte, 4*len(reply.Targets))
		for i, t := range reply.Targets {
			atom, err := c.atom(t)
			if err != nil {
				return err
			}
			xgb.Put32(data[4*i:], uint32(atom))
		}
		err := xproto.ChangePropertyChecked(
			c.x,
			xproto.PropModeReplace,
			xproto.Window(req.Requestor),
			prop,
			xproto.AtomAtom,
			32,
			uint32(len(reply.Targets)),
			data,
		).Check()
		if err != nil {
			return fmt.Errorf("store targets: %w", err)
		}

	default:
		err := xproto.ChangePropertyChecked(
			c.x,
			xproto.PropModeReplace,
			xproto.Window(req.Requestor),
			prop,
			target,
			8,
			uint32(len(reply.Data)),
			reply.Data,
		).Check()
		if err != nil {
			return fmt.Errorf("store selection: %w", err)
		}
	}

	ev := xproto.SelectionNotifyEvent{
		Time:      xproto.Timestamp(req.Time),
		Requestor: xproto.Window(req.Requestor),
		Selection: c.selectionAtom(req.Selection),
		Target:    target,
		Property:  prop,
	}
	return xproto.SendEventChecked(
		c.x,
		false,
		xproto.Window(req.Requestor),
		xproto.EventMaskNoEvent,
		string(ev.Bytes()),
	).Check()
}

func (c *Conn) title(w xproto.Window) (string, error) {
	reply, err := xproto.GetProperty(c.x, false, w, c.atomNetWMName, c.atomUTF8, 0, 256).Reply()
	if err != nil {
		return "", err
	}
	if len(reply.Value) > 0 {
		return string(reply.Value), nil
	}

	reply, err = xproto.GetProperty(c.x, false, w, xproto.AtomWmName, xproto.AtomString, 0, 256).Reply()
	if err != nil {
		return "", err
	}
	return string(reply.Value), nil
}

func (c *Conn) MapWindow(w Window) error {
	return xproto.MapWindowChecked(c.x, xproto.Window(w)).Check()
}

func (c *Conn) UnmapWindow(w Window) error {
	return xproto.UnmapWindowChecked(c.x, xproto.Window(w)).Check()
}

func (c *Conn) ConfigureWindow(w Window, geometry image.Rectangle, sibling Window, mode *StackMode) error {
	mask := uint16(xproto.ConfigWindowX | xproto.ConfigWindowY | xproto.ConfigWindowWidth | xproto.ConfigWindowHeight)
	values := []uint32{
		uint32(int32(geometry.Min.X)),
		uint32(int32(geometry.Min.Y)),
		uint32(max(geometry.Dx(), 1)),
		uint32(max(geometry.Dy(), 1)),
	}
	if mode != nil {
		if sibling != 0 {
			mask |= xproto.ConfigWindowSibling
			values = append(values, uint32(sibling))
		}
		mask |= xproto.ConfigWindowStackMode
		switch *mode {
		case Below:
			values = append(values, xproto.StackModeBelow)
		default:
			values = append(values, xproto.StackModeAbove)
		}
	}

	return xproto.ConfigureWindowChecked(c.x, xproto.Window(w), mask, values).Check()
}

func (c *Conn) SetInputFocus(w Window) error {
	return xproto.SetInputFocusChecked(
		c.x,
		xproto.InputFocusPointerRoot,
		xproto.Window(w),
		xproto.TimeCurrentTime,
	).Check()
}

func (c *Conn) Close() error {
	c.x.Close()
	return nil
}
