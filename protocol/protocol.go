// Package protocol describes the Wayland interfaces that the
// compositor implements: their names and versions, the opcodes of
// their requests and events, and their enums and error codes.
package protocol

// Interface describes one protocol interface. Requests and Events are
// indexed by opcode.
type Interface struct {
	Name     string
	Version  uint32
	Requests []string
	Events   []string

	// FDs is the number of file descriptors carried by each request
	// that has any.
	FDs map[uint16]int
}

// RequestName returns the name of a request, for tracing.
func (i *Interface) RequestName(op uint16) string {
	if int(op) >= len(i.Requests) {
		return "unknown"
	}
	return i.Requests[op]
}

// RequestFDs returns the number of file descriptors that arrive with a
// request. It is needed to skip requests that are not decoded.
func (i *Interface) RequestFDs(op uint16) int {
	return i.FDs[op]
}

// EventName returns the name of an event, for tracing.
func (i *Interface) EventName(op uint16) string {
	if int(op) >= len(i.Events) {
		return "unknown"
	}
	return i.Events[op]
}

var (
	Display = Interface{
		Name:     "wl_display",
		Version:  1,
		Requests: []string{"sync", "get_registry"},
		Events:   []string{"error", "delete_id"},
	}
	Registry = Interface{
		Name:     "wl_registry",
		Version:  1,
		Requests: []string{"bind"},
		Events:   []string{"global", "global_remove"},
	}
	Callback = Interface{
		Name:    "wl_callback",
		Version: 1,
		Events:  []string{"done"},
	}
	Compositor = Interface{
		Name:     "wl_compositor",
		Version:  6,
		Requests: []string{"create_surface", "create_region"},
	}
	SHMPool = Interface{
		Name:     "wl_shm_pool",
		Version:  2,
		Requests: []string{"create_buffer", "destroy", "resize"},
	}
	SHM = Interface{
		Name:     "wl_shm",
		Version:  2,
		Requests: []string{"create_pool", "release"},
		Events:   []string{"format"},
		FDs:      map[uint16]int{SHMCreatePool: 1},
	}
	Buffer = Interface{
		Name:     "wl_buffer",
		Version:  1,
		Requests: []string{"destroy"},
		Events:   []string{"release"},
	}
	Surface = Interface{
		Name:    "wl_surface",
		Version: 6,
		Requests: []string{
			"destroy", "attach", "damage", "frame", "set_opaque_region",
			"set_input_region", "commit", "set_buffer_transform",
			"set_buffer_scale", "damage_buffer", "offset",
		},
		Events: []string{"enter", "leave", "preferred_buffer_scale", "preferred_buffer_transform"},
	}
	Seat = Interface{
		Name:     "wl_seat",
		Version:  7,
		Requests: []string{"get_pointer", "get_keyboard", "get_touch", "release"},
		Events:   []string{"capabilities", "name"},
	}
	Pointer = Interface{
		Name:     "wl_pointer",
		Version:  7,
		Requests: []string{"set_cursor", "release"},
		Events: []string{
			"enter", "leave", "motion", "button", "axis", "frame",
			"axis_source", "axis_stop", "axis_discrete",
		},
	}
	Keyboard = Interface{
		Name:     "wl_keyboard",
		Version:  7,
		Requests: []string{"release"},
		Events:   []string{"keymap", "enter", "leave", "key", "modifiers", "repeat_info"},
	}
	Touch = Interface{
		Name:     "wl_touch",
		Version:  7,
		Requests: []string{"release"},
		Events:   []string{"down", "up", "motion", "frame", "cancel", "shape", "orientation"},
	}
	Output = Interface{
		Name:     "wl_output",
		Version:  4,
		Requests: []string{"release"},
		Events:   []string{"geometry", "mode", "done", "scale", "name", "description"},
	}
	Region = Interface{
		Name:     "wl_region",
		Version:  1,
		Requests: []string{"destroy", "add", "subtract"},
	}
	Subcompositor = Interface{
		Name:     "wl_subcompositor",
		Version:  1,
		Requests: []string{"destroy", "get_subsurface"},
	}
	Subsurface = Interface{
		Name:    "wl_subsurface",
		Version: 1,
		Requests: []string{
			"destroy", "set_position", "place_above", "place_below",
			"set_sync", "set_desync",
		},
	}
	WmBase = Interface{
		Name:     "xdg_wm_base",
		Version:  5,
		Requests: []string{"destroy", "create_positioner", "get_xdg_surface", "pong"},
		Events:   []string{"ping"},
	}
	Positioner = Interface{
		Name:    "xdg_positioner",
		Version: 5,
		Requests: []string{
			"destroy", "set_size", "set_anchor_rect", "set_anchor",
			"set_gravity", "set_constraint_adjustment", "set_offset",
			"set_reactive", "set_parent_size", "set_parent_configure",
		},
	}
	XdgSurface = Interface{
		Name:     "xdg_surface",
		Version:  5,
		Requests: []string{"destroy", "get_toplevel", "get_popup", "set_window_geometry", "ack_configure"},
		Events:   []string{"configure"},
	}
	Toplevel = Interface{
		Name:    "xdg_toplevel",
		Version: 5,
		Requests: []string{
			"destroy", "set_parent", "set_title", "set_app_id",
			"show_window_menu", "move", "resize", "set_max_size",
			"set_min_size", "set_maximized", "unset_maximized",
			"set_fullscreen", "unset_fullscreen", "set_minimized",
		},
		Events: []string{"configure", "close", "configure_bounds", "wm_capabilities"},
	}
	Popup = Interface{
		Name:     "xdg_popup",
		Version:  5,
		Requests: []string{"destroy", "grab", "reposition"},
		Events:   []string{"configure", "popup_done", "repositioned"},
	}
	LinuxDMABuf = Interface{
		Name:     "zwp_linux_dmabuf_v1",
		Version:  3,
		Requests: []string{"destroy", "create_params"},
		Events:   []string{"format", "modifier"},
	}
	BufferParams = Interface{
		Name:     "zwp_linux_buffer_params_v1",
		Version:  3,
		Requests: []string{"destroy", "add", "create", "create_immed"},
		Events:   []string{"created", "failed"},
		FDs:      map[uint16]int{BufferParamsAdd: 1},
	}
	LayerShell = Interface{
		Name:     "zwlr_layer_shell_v1",
		Version:  4,
		Requests: []string{"get_layer_surface", "destroy"},
	}
	LayerSurface = Interface{
		Name:    "zwlr_layer_surface_v1",
		Version: 4,
		Requests: []string{
			"set_size", "set_anchor", "set_exclusive_zone", "set_margin",
			"set_keyboard_interactivity", "get_popup", "ack_configure",
			"destroy", "set_layer",
		},
		Events: []string{"configure", "closed"},
	}
	DataDeviceManager = Interface{
		Name:     "wl_data_device_manager",
		Version:  3,
		Requests: []string{"create_data_source", "get_data_device"},
	}
	DataSource = Interface{
		Name:     "wl_data_source",
		Version:  3,
		Requests: []string{"offer", "destroy", "set_actions"},
		Events:   []string{"target", "send", "cancelled", "dnd_drop_performed", "dnd_finished", "action"},
	}
	DataDevice = Interface{
		Name:     "wl_data_device",
		Version:  3,
		Requests: []string{"start_drag", "set_selection", "release"},
		Events:   []string{"data_offer", "enter", "leave", "motion", "drop", "selection"},
	}
	DataOffer = Interface{
		Name:     "wl_data_offer",
		Version:  3,
		Requests: []string{"accept", "receive", "destroy", "finish", "set_actions"},
		Events:   []string{"offer", "source_actions", "action"},
		FDs:      map[uint16]int{DataOfferReceive: 1},
	}
	PrimarySelectionManager = Interface{
		Name:     "zwp_primary_selection_device_manager_v1",
		Version:  1,
		Requests: []string{"create_source", "get_device", "destroy"},
	}
	PrimarySelectionDevice = Interface{
		Name:     "zwp_primary_selection_device_v1",
		Version:  1,
		Requests: []string{"set_selection", "destroy"},
		Events:   []string{"data_offer", "selection"},
	}
	PrimarySelectionOffer = Interface{
		Name:     "zwp_primary_selection_offer_v1",
		Version:  1,
		Requests: []string{"receive", "destroy"},
		Events:   []string{"offer"},
		FDs:      map[uint16]int{PrimaryOfferReceive: 1},
	}
	PrimarySelectionSource = Interface{
		Name:     "zwp_primary_selection_source_v1",
		Version:  1,
		Requests: []string{"offer", "destroy"},
		Events:   []string{"send", "cancelled"},
	}
)

// Interfaces lists every interface by name.
var Interfaces = map[string]*Interface{}

func init() {
	for _, i := range []*Interface{
		&Display, &Registry, &Callback, &Compositor, &SHMPool, &SHM,
		&Buffer, &Surface, &Seat, &Pointer, &Keyboard, &Touch, &Output,
		&Region, &Subcompositor, &Subsurface, &WmBase, &Positioner,
		&XdgSurface, &Toplevel, &Popup, &LinuxDMABuf, &BufferParams,
		&LayerShell, &LayerSurface, &DataDeviceManager, &DataSource,
		&DataDevice, &DataOffer, &PrimarySelectionManager,
		&PrimarySelectionDevice, &PrimarySelectionOffer,
		&PrimarySelectionSource,
	} {
		Interfaces[i.Name] = i
	}
}
