package compositor

import (
	"deedles.dev/wlcomp/input"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/seat"
)

// handleInput routes one raw input event to the seat.
func (comp *Compositor) handleInput(ev input.Event) {
	t := input.Millis(ev)

	switch ev := ev.(type) {
	case *input.DeviceAdded:
		comp.log.WithField("device", ev.Name).WithField("caps", ev.Caps).Info("input device added")
	case *input.DeviceRemoved:
		comp.log.WithField("device", ev.Device()).Info("input device removed")

	case *input.PointerMotion:
		comp.seat.MotionBy(t, ev.DX, ev.DY)
	case *input.PointerMotionAbsolute:
		p, ok := comp.fromFramebuffer(output.ID(ev.Output), ev.X, ev.Y)
		if ok {
			comp.seat.MotionTo(t, p)
		}
	case *input.PointerButton:
		comp.seat.Button(t, ev.Button, ev.State)
	case *input.PointerAxis:
		comp.seat.Axis(t, ev.Axis, ev.Source, ev.Value, ev.Discrete)
	case *input.PointerFrame:
		comp.seat.Frame()

	case *input.Key:
		comp.seat.Key(t, ev.Code, ev.State == input.KeyPressed)

	case *input.TouchDown:
		oid := output.ID(ev.Output)
		p, ok := comp.fromFramebuffer(oid, ev.X, ev.Y)
		if !ok {
			return
		}
		comp.touchOutputs[ev.Slot] = oid
		comp.seat.TouchDown(t, ev.Slot, p)
	case *input.TouchMotion:
		oid, ok := comp.touchOutputs[ev.Slot]
		if !ok {
			return
		}
		p, ok := comp.fromFramebuffer(oid, ev.X, ev.Y)
		if ok {
			comp.seat.TouchMotion(t, ev.Slot, p)
		}
	case *input.TouchUp:
		delete(comp.touchOutputs, ev.Slot)
		comp.seat.TouchUp(t, ev.Slot)
	case *input.TouchFrame:
		comp.seat.TouchFrame()
	case *input.TouchCancel:
		clear(comp.touchOutputs)
		comp.seat.TouchCancel()
	}
}

// fromFramebuffer converts a position on one output to the global
// layout.
func (comp *Compositor) fromFramebuffer(id output.ID, x, y float64) (seat.Point, bool) {
	st, ok := comp.outputs[id]
	if !ok || st.faulted {
		return seat.Point{}, false
	}
	gx, gy := st.out.FromFramebuffer(x, y)
	return seat.Point{X: gx, Y: gy}, true
}
