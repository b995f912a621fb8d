package compositor

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"time"

	"deedles.dev/wlcomp/backend"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/seat"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
	"github.com/sirupsen/logrus"
)

type outputState struct {
	out     *output.Output
	sched   *output.Scheduler
	global  *global
	faulted bool
}

func (comp *Compositor) addOutput(out *output.Output) {
	if _, ok := comp.outputs[out.ID]; ok {
		return
	}

	x := 0
	for _, id := range comp.outputOrder {
		x = max(x, comp.outputs[id].out.Layout().Max.X)
	}
	out.SetPos(image.Pt(x, 0))

	st := outputState{out: out}
	st.sched = output.NewScheduler(out, comp.scene, comp.table, comp.backend, frameListener{comp}, comp.log, comp.config.Render)
	comp.outputs[out.ID] = &st
	comp.outputOrder = append(comp.outputOrder, out.ID)

	oid := out.ID
	st.global = comp.addGlobal(&protocol.Output, protocol.Output.Version, func(c *Client, id, version uint32) error {
		return bindOutput(c, id, version, oid)
	})
	st.global.output = oid

	comp.usable[oid] = out.Layout()
	comp.updateLayout()

	comp.log.WithFields(logrus.Fields{
		"output": out.Name,
		"mode":   out.Mode(),
		"pos":    out.Pos(),
	}).Info("output added")
	comp.emit(OutputAdded{Output: oid, Name: out.Name})
}

// removeOutput removes an output. cause is nil if the output was
// simply unplugged.
func (comp *Compositor) removeOutput(id output.ID, cause error) {
	st, ok := comp.outputs[id]
	if !ok {
		return
	}

	st.sched.Close()
	comp.removeGlobal(st.global)
	for _, l := range slices.Clone(comp.layers[id]) {
		l.close()
	}
	delete(comp.layers, id)
	delete(comp.usable, id)

	delete(comp.outputs, id)
	comp.outputOrder = slices.DeleteFunc(comp.outputOrder, func(o output.ID) bool { return o == id })
	for _, c := range comp.clients {
		delete(c.outputs, id)
	}
	comp.updateLayout()

	log := comp.log.WithField("output", st.out.Name)
	comp.emit(OutputLost{Output: id, Err: cause})
	if cause == nil {
		log.Info("output removed")
		return
	}

	log.WithError(cause).Error("output lost")
	if !comp.anyOutputs() {
		comp.stop(fmt.Errorf("no usable outputs left: %w", cause))
	}
}

func (comp *Compositor) anyOutputs() bool {
	for _, st := range comp.outputs {
		if !st.faulted {
			return true
		}
	}
	return false
}

func (comp *Compositor) changeModes(ev backend.OutputModeChanged) {
	st, ok := comp.outputs[ev.Output]
	if !ok {
		return
	}
	err := st.out.ReplaceModes(ev.Modes, ev.Current)
	if err != nil {
		comp.log.WithError(err).WithField("output", st.out.Name).Warn("ignoring mode change")
		return
	}
	comp.log.WithFields(logrus.Fields{
		"output": st.out.Name,
		"mode":   st.out.Mode(),
	}).Info("output mode changed")

	for _, c := range comp.clients {
		for _, r := range c.outputs[ev.Output] {
			r.sendInfo(st.out)
		}
	}
	comp.updateLayout()
	comp.arrangeLayers(ev.Output)
	st.sched.DamageAll()
}

// updateLayout tells the seat where the outputs are.
func (comp *Compositor) updateLayout() {
	layout := make([]image.Rectangle, 0, len(comp.outputOrder))
	for _, id := range comp.outputOrder {
		st := comp.outputs[id]
		if !st.faulted {
			layout = append(layout, st.out.Layout())
		}
	}
	comp.seat.SetLayout(layout)
}

// outputAt returns the output containing p, or the first output if
// none does.
func (comp *Compositor) outputAt(p seat.Point) (*outputState, bool) {
	var first *outputState
	for _, id := range comp.outputOrder {
		st := comp.outputs[id]
		if st.faulted {
			continue
		}
		if p.Floor().In(st.out.Layout()) {
			return st, true
		}
		if first == nil {
			first = st
		}
	}
	return first, first != nil
}

func bindOutput(c *Client, id, version uint32, oid output.ID) error {
	r := outputRes{object: c.newObject(id, &protocol.Output, version), output: oid}
	if err := c.register(&r); err != nil {
		return err
	}

	st, ok := c.comp.outputs[oid]
	if !ok {
		return nil
	}
	c.outputs[oid] = append(c.outputs[oid], &r)
	r.sendInfo(st.out)

	for _, sr := range c.comp.surfaces {
		if (sr.client == c) && slices.Contains(sr.surface.Outputs(), uint64(oid)) {
			sr.enter(&r)
		}
	}
	return nil
}

type outputRes struct {
	object
	output output.ID
}

func (r *outputRes) Destroy() {
	list := r.client.outputs[r.output]
	r.client.outputs[r.output] = slices.DeleteFunc(list, func(o *outputRes) bool { return o == r })
	r.object.Destroy()
}

func (r *outputRes) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() == protocol.OutputRelease {
		if err := r.args(msg); err != nil {
			return err
		}
		r.client.destroy(r.id)
	}
	return nil
}

func (r *outputRes) sendInfo(out *output.Output) {
	mb := r.event(protocol.OutputGeometry)
	mb.WriteInt(int32(out.Pos().X))
	mb.WriteInt(int32(out.Pos().Y))
	mb.WriteInt(int32(out.PhysicalSize.X))
	mb.WriteInt(int32(out.PhysicalSize.Y))
	mb.WriteInt(protocol.OutputSubpixelUnknown)
	mb.WriteString(out.Make)
	mb.WriteString(out.Model)
	mb.WriteInt(int32(out.Transform()))
	r.send(mb)

	current := out.Mode()
	for _, m := range out.Modes() {
		var flags uint32
		if (m.Size == current.Size) && (m.Refresh == current.Refresh) {
			flags |= protocol.OutputModeCurrent
		}
		if m.Preferred {
			flags |= protocol.OutputModePreferred
		}
		mb := r.event(protocol.OutputMode)
		mb.WriteUint(flags)
		mb.WriteInt(int32(m.Size.X))
		mb.WriteInt(int32(m.Size.Y))
		mb.WriteInt(int32(m.Refresh))
		r.send(mb)
	}

	if r.version >= 2 {
		mb := r.event(protocol.OutputScale)
		mb.WriteInt(int32(out.Scale()))
		r.send(mb)
	}
	if r.version >= 4 {
		mb := r.event(protocol.OutputName)
		mb.WriteString(out.Name)
		r.send(mb)

		mb = r.event(protocol.OutputDescription)
		mb.WriteString(out.String())
		r.send(mb)
	}
	if r.version >= 2 {
		r.send(r.event(protocol.OutputDone))
	}
}

// enter sends wl_surface.enter for one wl_output.
func (r *surfaceRes) enter(o *outputRes) {
	mb := r.event(protocol.SurfaceEnter)
	mb.WriteObject(o.id)
	r.send(mb)

	if r.version >= 6 {
		if st, ok := r.comp().outputs[o.output]; ok {
			mb := r.event(protocol.SurfacePreferredBufferScale)
			mb.WriteInt(int32(st.out.Scale()))
			r.send(mb)
		}
	}
}

// frameListener connects output schedulers to clients.
type frameListener struct {
	comp *Compositor
}

func (l frameListener) FrameDone(o *output.Output, f *output.Frame, at time.Time) {
	ms := uint32(at.UnixMilli())
	for _, cbs := range f.Callbacks {
		for _, cb := range cbs.Callbacks {
			c, ok := l.comp.clients[uint64(cb.Owner)]
			if !ok {
				continue
			}
			c.callbackDone(cb.ID, ms)
		}
	}
}

func (l frameListener) Enter(o *output.Output, s *surface.Surface) {
	r, ok := l.comp.resourceOf(s)
	if !ok {
		return
	}
	for _, or := range r.client.outputs[o.ID] {
		r.enter(or)
	}
}

func (l frameListener) Leave(o *output.Output, s *surface.Surface) {
	r, ok := l.comp.resourceOf(s)
	if !ok {
		return
	}
	for _, or := range r.client.outputs[o.ID] {
		mb := r.event(protocol.SurfaceLeave)
		mb.WriteObject(or.id)
		r.send(mb)
	}
}

func (l frameListener) Fault(o *output.Output, err error) {
	comp := l.comp
	st, ok := comp.outputs[o.ID]
	if !ok {
		return
	}

	var ferr *output.FaultError
	if !errors.As(err, &ferr) {
		comp.removeOutput(o.ID, err)
		return
	}

	comp.log.WithError(err).WithField("output", o.Name).Error("output faulted")
	st.faulted = true
	comp.removeGlobal(st.global)
	comp.updateLayout()
	comp.emit(OutputFault{Output: o.ID, Err: err})
}
