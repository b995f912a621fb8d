package protocol

// wl_display
const (
	DisplaySync        = 0
	DisplayGetRegistry = 1

	DisplayError    = 0
	DisplayDeleteID = 1
)

// wl_display.error
const (
	DisplayErrorInvalidObject  = 0
	DisplayErrorInvalidMethod  = 1
	DisplayErrorNoMemory       = 2
	DisplayErrorImplementation = 3
)

// wl_registry
const (
	RegistryBind = 0

	RegistryGlobal       = 0
	RegistryGlobalRemove = 1
)

const CallbackDone = 0

// wl_compositor
const (
	CompositorCreateSurface = 0
	CompositorCreateRegion  = 1
)

// wl_shm_pool
const (
	SHMPoolCreateBuffer = 0
	SHMPoolDestroy      = 1
	SHMPoolResize       = 2
)

// wl_shm
const (
	SHMCreatePool = 0
	SHMRelease    = 1

	SHMFormat = 0

	SHMErrorInvalidFormat = 0
	SHMErrorInvalidStride = 1
	SHMErrorInvalidFD     = 2
)

// wl_buffer
const (
	BufferDestroy = 0

	BufferRelease = 0
)

// wl_surface
const (
	SurfaceDestroy            = 0
	SurfaceAttach             = 1
	SurfaceDamage             = 2
	SurfaceFrame              = 3
	SurfaceSetOpaqueRegion    = 4
	SurfaceSetInputRegion     = 5
	SurfaceCommit             = 6
	SurfaceSetBufferTransform = 7
	SurfaceSetBufferScale     = 8
	SurfaceDamageBuffer       = 9
	SurfaceOffset             = 10

	SurfaceEnter                    = 0
	SurfaceLeave                    = 1
	SurfacePreferredBufferScale     = 2
	SurfacePreferredBufferTransform = 3

	SurfaceErrorInvalidScale      = 0
	SurfaceErrorInvalidTransform  = 1
	SurfaceErrorInvalidSize       = 2
	SurfaceErrorInvalidOffset     = 3
	SurfaceErrorDefunctRoleObject = 4
)

// wl_seat
const (
	SeatGetPointer  = 0
	SeatGetKeyboard = 1
	SeatGetTouch    = 2
	SeatRelease     = 3

	SeatCapabilities = 0
	SeatName         = 1

	SeatCapabilityPointer  = 1
	SeatCapabilityKeyboard = 2
	SeatCapabilityTouch    = 4

	SeatErrorMissingCapability = 0
)

// wl_pointer
const (
	PointerSetCursor = 0
	PointerRelease   = 1

	PointerEnter        = 0
	PointerLeave        = 1
	PointerMotion       = 2
	PointerButton       = 3
	PointerAxis         = 4
	PointerFrame        = 5
	PointerAxisSource   = 6
	PointerAxisStop     = 7
	PointerAxisDiscrete = 8

	PointerErrorRole = 0
)

// wl_keyboard
const (
	KeyboardRelease = 0

	KeyboardKeymap     = 0
	KeyboardEnter      = 1
	KeyboardLeave      = 2
	KeyboardKey        = 3
	KeyboardModifiers  = 4
	KeyboardRepeatInfo = 5
)

// wl_touch
const (
	TouchRelease = 0

	TouchDown   = 0
	TouchUp     = 1
	TouchMotion = 2
	TouchFrame  = 3
	TouchCancel = 4
)

// wl_output
const (
	OutputRelease = 0

	OutputGeometry    = 0
	OutputMode        = 1
	OutputDone        = 2
	OutputScale       = 3
	OutputName        = 4
	OutputDescription = 5

	OutputModeCurrent   = 1
	OutputModePreferred = 2

	OutputSubpixelUnknown = 0
)

// wl_region
const (
	RegionDestroy  = 0
	RegionAdd      = 1
	RegionSubtract = 2
)

// wl_subcompositor
const (
	SubcompositorDestroy       = 0
	SubcompositorGetSubsurface = 1

	SubcompositorErrorBadSurface = 0
	SubcompositorErrorBadParent  = 1
)

// wl_subsurface
const (
	SubsurfaceDestroy     = 0
	SubsurfaceSetPosition = 1
	SubsurfacePlaceAbove  = 2
	SubsurfacePlaceBelow  = 3
	SubsurfaceSetSync     = 4
	SubsurfaceSetDesync   = 5

	SubsurfaceErrorBadSurface = 0
)

// xdg_wm_base
const (
	WmBaseDestroy          = 0
	WmBaseCreatePositioner = 1
	WmBaseGetXdgSurface    = 2
	WmBasePong             = 3

	WmBasePing = 0

	WmBaseErrorRole                = 0
	WmBaseErrorDefunctSurfaces     = 1
	WmBaseErrorNotTheTopmostPopup  = 2
	WmBaseErrorInvalidPopupParent  = 3
	WmBaseErrorInvalidSurfaceState = 4
	WmBaseErrorInvalidPositioner   = 5
	WmBaseErrorUnresponsive        = 6
)

// xdg_positioner
const (
	PositionerDestroy                 = 0
	PositionerSetSize                 = 1
	PositionerSetAnchorRect           = 2
	PositionerSetAnchor               = 3
	PositionerSetGravity              = 4
	PositionerSetConstraintAdjustment = 5
	PositionerSetOffset               = 6
	PositionerSetReactive             = 7
	PositionerSetParentSize           = 8
	PositionerSetParentConfigure      = 9

	PositionerErrorInvalidInput = 0
)

// xdg_surface
const (
	XdgSurfaceDestroy           = 0
	XdgSurfaceGetToplevel       = 1
	XdgSurfaceGetPopup          = 2
	XdgSurfaceSetWindowGeometry = 3
	XdgSurfaceAckConfigure      = 4

	XdgSurfaceConfigure = 0

	XdgSurfaceErrorNotConstructed     = 1
	XdgSurfaceErrorAlreadyConstructed = 2
	XdgSurfaceErrorUnconfiguredBuffer = 3
	XdgSurfaceErrorInvalidSerial      = 4
	XdgSurfaceErrorInvalidSize        = 5
	XdgSurfaceErrorDefunctRoleObject  = 6
)

// xdg_toplevel
const (
	ToplevelDestroy         = 0
	ToplevelSetParent       = 1
	ToplevelSetTitle        = 2
	ToplevelSetAppID        = 3
	ToplevelShowWindowMenu  = 4
	ToplevelMove            = 5
	ToplevelResize          = 6
	ToplevelSetMaxSize      = 7
	ToplevelSetMinSize      = 8
	ToplevelSetMaximized    = 9
	ToplevelUnsetMaximized  = 10
	ToplevelSetFullscreen   = 11
	ToplevelUnsetFullscreen = 12
	ToplevelSetMinimized    = 13

	ToplevelConfigure       = 0
	ToplevelClose           = 1
	ToplevelConfigureBounds = 2
	ToplevelWmCapabilities  = 3

	ToplevelErrorInvalidResizeEdge = 0
	ToplevelErrorInvalidParent     = 1
	ToplevelErrorInvalidSize       = 2
)

// xdg_toplevel.state
const (
	ToplevelStateMaximized  = 1
	ToplevelStateFullscreen = 2
	ToplevelStateResizing   = 3
	ToplevelStateActivated  = 4
)

// xdg_popup
const (
	PopupDestroy    = 0
	PopupGrab       = 1
	PopupReposition = 2

	PopupConfigure    = 0
	PopupDone         = 1
	PopupRepositioned = 2

	PopupErrorInvalidGrab = 0
)

// zwp_linux_dmabuf_v1
const (
	LinuxDMABufDestroy      = 0
	LinuxDMABufCreateParams = 1

	LinuxDMABufFormat   = 0
	LinuxDMABufModifier = 1
)

// zwp_linux_buffer_params_v1
const (
	BufferParamsDestroy     = 0
	BufferParamsAdd         = 1
	BufferParamsCreate      = 2
	BufferParamsCreateImmed = 3

	BufferParamsCreated = 0
	BufferParamsFailed  = 1

	BufferParamsErrorAlreadyUsed       = 0
	BufferParamsErrorPlaneIdx          = 1
	BufferParamsErrorPlaneSet          = 2
	BufferParamsErrorIncomplete        = 3
	BufferParamsErrorInvalidFormat     = 4
	BufferParamsErrorInvalidDimensions = 5
	BufferParamsErrorOutOfBounds       = 6
	BufferParamsErrorInvalidWlBuffer   = 7
)

// zwlr_layer_shell_v1
const (
	LayerShellGetLayerSurface = 0
	LayerShellDestroy         = 1

	LayerShellErrorRole               = 0
	LayerShellErrorInvalidLayer       = 1
	LayerShellErrorAlreadyConstructed = 2
)

// zwlr_layer_surface_v1
const (
	LayerSurfaceSetSize                  = 0
	LayerSurfaceSetAnchor                = 1
	LayerSurfaceSetExclusiveZone         = 2
	LayerSurfaceSetMargin                = 3
	LayerSurfaceSetKeyboardInteractivity = 4
	LayerSurfaceGetPopup                 = 5
	LayerSurfaceAckConfigure             = 6
	LayerSurfaceDestroy                  = 7
	LayerSurfaceSetLayer                 = 8

	LayerSurfaceConfigure = 0
	LayerSurfaceClosed    = 1

	LayerSurfaceErrorInvalidSurfaceState          = 0
	LayerSurfaceErrorInvalidSize                  = 1
	LayerSurfaceErrorInvalidAnchor                = 2
	LayerSurfaceErrorInvalidKeyboardInteractivity = 3
)

// wl_data_device_manager
const (
	DataDeviceManagerCreateDataSource = 0
	DataDeviceManagerGetDataDevice    = 1

	DataDeviceManagerDndActionNone = 0
	DataDeviceManagerDndActionCopy = 1
	DataDeviceManagerDndActionMove = 2
	DataDeviceManagerDndActionAsk  = 4
)

// wl_data_source
const (
	DataSourceOffer      = 0
	DataSourceDestroy    = 1
	DataSourceSetActions = 2

	DataSourceTarget           = 0
	DataSourceSend             = 1
	DataSourceCancelled        = 2
	DataSourceDndDropPerformed = 3
	DataSourceDndFinished      = 4
	DataSourceAction           = 5

	DataSourceErrorInvalidActionMask = 0
	DataSourceErrorInvalidSource     = 1
)

// wl_data_device
const (
	DataDeviceStartDrag    = 0
	DataDeviceSetSelection = 1
	DataDeviceRelease      = 2

	DataDeviceDataOffer = 0
	DataDeviceEnter     = 1
	DataDeviceLeave     = 2
	DataDeviceMotion    = 3
	DataDeviceDrop      = 4
	DataDeviceSelection = 5

	DataDeviceErrorRole = 0
)

// wl_data_offer
const (
	DataOfferAccept     = 0
	DataOfferReceive    = 1
	DataOfferDestroy    = 2
	DataOfferFinish     = 3
	DataOfferSetActions = 4

	DataOfferOffer         = 0
	DataOfferSourceActions = 1
	DataOfferAction        = 2

	DataOfferErrorInvalidFinish     = 0
	DataOfferErrorInvalidActionMask = 1
	DataOfferErrorInvalidAction     = 2
	DataOfferErrorInvalidOffer      = 3
)

// zwp_primary_selection_device_manager_v1
const (
	PrimaryManagerCreateSource = 0
	PrimaryManagerGetDevice    = 1
	PrimaryManagerDestroy      = 2
)

// zwp_primary_selection_device_v1
const (
	PrimaryDeviceSetSelection = 0
	PrimaryDeviceDestroy      = 1

	PrimaryDeviceDataOffer = 0
	PrimaryDeviceSelection = 1
)

// zwp_primary_selection_offer_v1
const (
	PrimaryOfferReceive = 0
	PrimaryOfferDestroy = 1

	PrimaryOfferOffer = 0
)

// zwp_primary_selection_source_v1
const (
	PrimarySourceOffer   = 0
	PrimarySourceDestroy = 1

	PrimarySourceSend      = 0
	PrimarySourceCancelled = 1
)
