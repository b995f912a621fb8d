package client

import (
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
	"golang.org/x/exp/maps"
)

// Interface is a global as advertised by the compositor.
type Interface struct {
	Name    string
	Version uint32
}

// Is reports whether i is an implementation of in.
func (i Interface) Is(in *protocol.Interface) bool {
	return i.Name == in.Name
}

type Registry struct {
	proxy

	Global       func(name uint32, inter Interface)
	GlobalRemove func(name uint32)

	globals map[uint32]Interface
}

// Globals returns every global that is currently advertised.
func (registry *Registry) Globals() map[uint32]Interface {
	return maps.Clone(registry.globals)
}

// bind binds the global name to the new object id at the lower of the
// advertised version and the version this package implements.
func (registry *Registry) bind(name uint32, in *protocol.Interface, id uint32) uint32 {
	version := in.Version
	if g, ok := registry.globals[name]; ok {
		version = min(version, g.Version)
	}

	mb := registry.request(&protocol.Registry, protocol.RegistryBind)
	mb.WriteUint(name)
	mb.WriteNewID(wire.NewID{Interface: in.Name, Version: version, ID: id})
	registry.display.send(mb)
	return version
}

func (registry *Registry) iface() *protocol.Interface {
	return &protocol.Registry
}

func (registry *Registry) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.RegistryGlobal:
		name := msg.ReadUint()
		inter := Interface{Name: msg.ReadString(), Version: msg.ReadUint()}
		registry.globals[name] = inter
		if registry.Global != nil {
			registry.Global(name, inter)
		}
		return nil

	case protocol.RegistryGlobalRemove:
		name := msg.ReadUint()
		delete(registry.globals, name)
		if registry.GlobalRemove != nil {
			registry.GlobalRemove(name)
		}
		return nil

	default:
		return wire.UnknownOpError{Interface: protocol.Registry.Name, Op: msg.Op()}
	}
}
