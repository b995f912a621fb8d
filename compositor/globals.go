package compositor

import (
	"slices"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

// global is an object that clients can bind through the registry.
type global struct {
	name    uint32
	iface   *protocol.Interface
	version uint32
	bind    func(c *Client, id, version uint32) error

	output  output.ID
	removed bool
}

func (comp *Compositor) addGlobals() {
	comp.addGlobal(&protocol.Compositor, protocol.Compositor.Version, bindCompositor)
	comp.addGlobal(&protocol.Subcompositor, protocol.Subcompositor.Version, bindSubcompositor)
	comp.addGlobal(&protocol.SHM, protocol.SHM.Version, bindSHM)
	comp.addGlobal(&protocol.LinuxDMABuf, protocol.LinuxDMABuf.Version, bindDMABuf)
	comp.addGlobal(&protocol.Seat, protocol.Seat.Version, bindSeat)
	comp.addGlobal(&protocol.WmBase, protocol.WmBase.Version, bindWmBase)
	comp.addGlobal(&protocol.LayerShell, protocol.LayerShell.Version, bindLayerShell)
	comp.addGlobal(&protocol.DataDeviceManager, protocol.DataDeviceManager.Version, bindDataDeviceManager)
	comp.addGlobal(&protocol.PrimarySelectionManager, protocol.PrimarySelectionManager.Version, bindPrimarySelectionManager)
}

func (comp *Compositor) addGlobal(iface *protocol.Interface, version uint32, bind func(c *Client, id, version uint32) error) *global {
	comp.nextGlobal++
	g := global{
		name:    comp.nextGlobal,
		iface:   iface,
		version: version,
		bind:    bind,
	}
	comp.globals[g.name] = &g
	comp.globalOrder = append(comp.globalOrder, g.name)

	for _, c := range comp.clients {
		for _, r := range c.registries {
			r.global(&g)
		}
	}
	return &g
}

// removeGlobal withdraws a global. Objects already bound to it stay
// valid.
func (comp *Compositor) removeGlobal(g *global) {
	if g.removed {
		return
	}
	g.removed = true
	delete(comp.globals, g.name)
	comp.globalOrder = slices.DeleteFunc(comp.globalOrder, func(n uint32) bool { return n == g.name })

	for _, c := range comp.clients {
		for _, r := range c.registries {
			mb := r.event(protocol.RegistryGlobalRemove)
			mb.WriteUint(g.name)
			r.send(mb)
		}
	}
}

type registryRes struct {
	object
}

func (r *registryRes) Destroy() {
	r.client.registries = slices.DeleteFunc(r.client.registries, func(c *registryRes) bool { return c == r })
	r.object.Destroy()
}

func (r *registryRes) global(g *global) {
	mb := r.event(protocol.RegistryGlobal)
	mb.WriteUint(g.name)
	mb.WriteString(g.iface.Name)
	mb.WriteUint(g.version)
	r.send(mb)
}

func (r *registryRes) dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() != protocol.RegistryBind {
		return nil
	}

	name := msg.ReadUint()
	id := msg.ReadNewID()
	if err := r.args(msg); err != nil {
		return err
	}

	g, ok := r.comp().globals[name]
	if !ok {
		// The global may have been removed after the client saw it.
		// The bind still has to produce an object.
		iface, ok := protocol.Interfaces[id.Interface]
		if !ok {
			return protocolError(r.id, protocol.DisplayErrorInvalidObject, ErrProtocol, nil, "unknown global %v", name)
		}
		return r.client.register(&inertRes{object: r.client.newObject(id.ID, iface, id.Version)})
	}
	if id.Interface != g.iface.Name {
		return protocolError(r.id, protocol.DisplayErrorInvalidObject, ErrProtocol, nil, "global %v is %v, not %v", name, g.iface.Name, id.Interface)
	}
	if (id.Version == 0) || (id.Version > g.version) {
		return protocolError(r.id, protocol.DisplayErrorInvalidObject, ErrProtocol, nil, "invalid version %v of %v, have %v", id.Version, g.iface.Name, g.version)
	}
	return g.bind(r.client, id.ID, id.Version)
}

// inertRes stands in for an object bound to a global that no longer
// exists. It ignores every request.
type inertRes struct {
	object
}

func (r *inertRes) dispatch(msg *wire.MessageBuffer) error {
	skipFDs(msg, r.iface.Name)
	switch r.iface.RequestName(msg.Op()) {
	case "destroy", "release":
		r.client.destroy(r.id)
	}
	return nil
}
