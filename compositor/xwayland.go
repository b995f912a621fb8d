package compositor

import (
	"context"
	"errors"
	"os"

	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
	"deedles.dev/wlcomp/xwm"
	"github.com/sirupsen/logrus"
)

// startXWayland spawns Xwayland, connects it as a client and, once it
// is ready, starts the window manager. Failing to start it is logged
// and the compositor carries on without it.
func (comp *Compositor) startXWayland(ctx context.Context) {
	log := comp.log.WithField("component", "xwayland")

	srv, err := xwm.Spawn(*comp.config.XWayland, log)
	if err != nil {
		log.WithError(err).Error("start Xwayland")
		return
	}
	comp.xwayland = srv

	file := srv.WaylandFile()
	wc, err := wire.FileConn(file)
	file.Close()
	if err != nil {
		log.WithError(err).Error("connect Xwayland")
		return
	}
	conn := comp.server.Add(ctx, wc)
	comp.xwaylandConn = conn.ID()

	display := srv.DisplayName()
	os.Setenv("DISPLAY", display)
	log.WithField("display", display).Info("Xwayland started")

	go func() {
		err := srv.Ready(ctx)
		if err != nil {
			log.WithError(err).Error("Xwayland did not become ready")
			return
		}
		xc, err := srv.WM(log)
		if err != nil {
			log.WithError(err).Error("connect window manager")
			return
		}

		wm := xwm.New(xc, comp.scene, xwmHost{comp}, log)
		ok := comp.loop.Post(ctx, func() error {
			comp.wm = wm
			comp.exportSelection(clipboard)
			comp.exportSelection(primary)
			for _, r := range comp.surfaces {
				if r.client.ID() == comp.xwaylandConn {
					wm.SurfaceCreated(r.surface)
				}
			}
			log.Info("window manager running")
			return nil
		})
		if !ok {
			xc.Close()
			return
		}

		err = wm.Pump(ctx, func(f func() error) bool {
			return comp.loop.Post(ctx, func() error {
				defer comp.guard()
				return f()
			})
		})
		if (err != nil) && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("window manager stopped")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-srv.Exited():
			comp.loop.Post(ctx, func() error {
				comp.xwaylandExited()
				return nil
			})
		}
	}()
}

// xwaylandExited drops the window manager after Xwayland goes away.
// Its windows go with its client connection.
func (comp *Compositor) xwaylandExited() {
	comp.log.Warn("Xwayland exited")
	if comp.wm != nil {
		comp.wm.Close()
		comp.wm = nil
	}
	comp.xwaylandConn = 0
	os.Unsetenv("DISPLAY")
}

// xwmHost is the compositor as seen by the X window manager.
type xwmHost struct {
	comp *Compositor
}

func (h xwmHost) LookupSurface(object uint32) (*surface.Surface, bool) {
	c, ok := h.comp.clients[h.comp.xwaylandConn]
	if !ok {
		return nil, false
	}
	r, err := lookup[*surfaceRes](c, 1, object)
	if err != nil {
		return nil, false
	}
	return r.surface, true
}

func (h xwmHost) WindowMapped(xw *xwm.XWindow) {
	comp := h.comp
	s := xw.Surface
	if n, ok := comp.scene.Node(s.ID()); ok {
		comp.bounds[s.ID()] = n.Bounds()
	}

	comp.log.WithFields(logrus.Fields{
		"window":  xw.ID,
		"surface": s.ID(),
		"title":   xw.Title,
	}).Debug("X window mapped")

	if xw.OverrideRedirect {
		return
	}
	w := window{ss: xw.Shell, x11: xw}
	comp.windows = append(comp.windows, &w)
	comp.focusWindow(&w)
}

func (h xwmHost) XSelection(sel xwm.Selection, mimes []string) {
	kind := selectionKind(sel)
	if mimes == nil {
		if _, ok := h.comp.selection[kind].(*xSelection); ok {
			h.comp.setSelection(kind, nil)
		}
		return
	}
	h.comp.setSelection(kind, &xSelection{comp: h.comp, kind: kind, mimes: mimes})
}

func (h xwmHost) SendSelection(sel xwm.Selection, mime string, w *os.File) {
	src := h.comp.selection[selectionKind(sel)]
	if src == nil {
		w.Close()
		return
	}
	src.transfer(mime, w)
}

func (h xwmHost) WindowUnmapped(xw *xwm.XWindow) {
	comp := h.comp
	for _, w := range comp.windows {
		if w.x11 == xw {
			s := w.surface()
			delete(comp.bounds, s.ID())
			comp.removeWindow(s)
			return
		}
	}
}
