// Package wl holds the protocol constants the compositor speaks: interface
// names, advertised versions, request opcodes, event opcodes and error codes.
package wl

// Interface names
const (
	DisplayInterface           = "wl_display"
	RegistryInterface          = "wl_registry"
	CallbackInterface          = "wl_callback"
	CompositorInterface        = "wl_compositor"
	SurfaceInterface           = "wl_surface"
	RegionInterface            = "wl_region"
	ShmInterface               = "wl_shm"
	ShmPoolInterface           = "wl_shm_pool"
	BufferInterface            = "wl_buffer"
	SeatInterface              = "wl_seat"
	PointerInterface           = "wl_pointer"
	KeyboardInterface          = "wl_keyboard"
	TouchInterface             = "wl_touch"
	OutputInterface            = "wl_output"
	XdgWmBaseInterface         = "xdg_wm_base"
	XdgPositionerInterface     = "xdg_positioner"
	XdgSurfaceInterface        = "xdg_surface"
	XdgToplevelInterface       = "xdg_toplevel"
	XdgPopupInterface          = "xdg_popup"
	ViewporterInterface        = "wp_viewporter"
	ViewportInterface          = "wp_viewport"
	LinuxDmabufInterface       = "zwp_linux_dmabuf_v1"
	LinuxBufferParamsInterface = "zwp_linux_buffer_params_v1"
	DmabufFeedbackInterface    = "zwp_linux_dmabuf_feedback_v1"
)

// Advertised global versions
const (
	CompositorVersion  = 6
	ShmVersion         = 1
	SeatVersion        = 7
	OutputVersion      = 4
	XdgWmBaseVersion   = 5
	ViewporterVersion  = 1
	LinuxDmabufVersion = 4
)

// wl_display
const (
	DisplaySync        = 0
	DisplayGetRegistry = 1

	DisplayEventError    = 0
	DisplayEventDeleteID = 1

	DisplayErrorInvalidObject  = 0
	DisplayErrorInvalidMethod  = 1
	DisplayErrorNoMemory       = 2
	DisplayErrorImplementation = 3
)

// wl_registry
const (
	RegistryBind = 0

	RegistryEventGlobal       = 0
	RegistryEventGlobalRemove = 1
)

// wl_callback
const CallbackEventDone = 0

// wl_compositor
const (
	CompositorCreateSurface = 0
	CompositorCreateRegion  = 1
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

	SurfaceEventEnter                    = 0
	SurfaceEventLeave                    = 1
	SurfaceEventPreferredBufferScale     = 2
	SurfaceEventPreferredBufferTransform = 3

	SurfaceErrorInvalidScale     = 0
	SurfaceErrorInvalidTransform = 1
	SurfaceErrorInvalidSize      = 2
	SurfaceErrorInvalidOffset    = 3
)

// wl_region
const (
	RegionDestroy  = 0
	RegionAdd      = 1
	RegionSubtract = 2
)

// wl_shm, wl_shm_pool, wl_buffer
const (
	ShmCreatePool = 0

	ShmEventFormat = 0

	ShmErrorInvalidFormat = 0
	ShmErrorInvalidStride = 1
	ShmErrorInvalidFD     = 2

	ShmPoolCreateBuffer = 0
	ShmPoolDestroy      = 1
	ShmPoolResize       = 2

	BufferDestroy = 0

	BufferEventRelease = 0
)

// wl_shm pixel formats. The first two are mandatory, the rest are fourcc codes.
const (
	ShmFormatARGB8888 uint32 = 0
	ShmFormatXRGB8888 uint32 = 1
	ShmFormatXBGR8888 uint32 = 0x34324258 // 'XB24'
	ShmFormatABGR8888 uint32 = 0x34324241 // 'AB24'
)

// wl_seat and input devices
const (
	SeatGetPointer  = 0
	SeatGetKeyboard = 1
	SeatGetTouch    = 2
	SeatRelease     = 3

	SeatEventCapabilities = 0
	SeatEventName         = 1

	SeatCapabilityPointer  = 1
	SeatCapabilityKeyboard = 2
	SeatCapabilityTouch    = 4

	PointerSetCursor = 0
	PointerRelease   = 1
	KeyboardRelease  = 0
	TouchRelease     = 0

	PointerErrorRole = 0
)

// wl_output
const (
	OutputRelease = 0

	OutputEventGeometry    = 0
	OutputEventMode        = 1
	OutputEventDone        = 2
	OutputEventScale       = 3
	OutputEventName        = 4
	OutputEventDescription = 5

	OutputSubpixelUnknown = 0
	OutputTransformNormal = 0
	OutputModeCurrent     = 1
	OutputModePreferred   = 2
)

// xdg_wm_base
const (
	XdgWmBaseDestroy          = 0
	XdgWmBaseCreatePositioner = 1
	XdgWmBaseGetXdgSurface    = 2
	XdgWmBasePong             = 3

	XdgWmBaseEventPing = 0

	XdgWmBaseErrorRole              = 0
	XdgWmBaseErrorDefunctSurfaces   = 1
	XdgWmBaseErrorInvalidPositioner = 5
)

// xdg_positioner
const (
	XdgPositionerDestroy                 = 0
	XdgPositionerSetSize                 = 1
	XdgPositionerSetAnchorRect           = 2
	XdgPositionerSetAnchor               = 3
	XdgPositionerSetGravity              = 4
	XdgPositionerSetConstraintAdjustment = 5
	XdgPositionerSetOffset               = 6
	XdgPositionerSetReactive             = 7
	XdgPositionerSetParentSize           = 8
	XdgPositionerSetParentConfigure      = 9

	XdgPositionerErrorInvalidInput = 0
)

// xdg_surface
const (
	XdgSurfaceDestroy           = 0
	XdgSurfaceGetToplevel       = 1
	XdgSurfaceGetPopup          = 2
	XdgSurfaceSetWindowGeometry = 3
	XdgSurfaceAckConfigure      = 4

	XdgSurfaceEventConfigure = 0

	XdgSurfaceErrorNotConstructed     = 1
	XdgSurfaceErrorAlreadyConstructed = 2
	XdgSurfaceErrorUnconfiguredBuffer = 3
	XdgSurfaceErrorInvalidSerial      = 4
	XdgSurfaceErrorInvalidSize        = 5
	XdgSurfaceErrorDefunctRoleObject  = 6
)

// xdg_toplevel
const (
	XdgToplevelDestroy         = 0
	XdgToplevelSetParent       = 1
	XdgToplevelSetTitle        = 2
	XdgToplevelSetAppID        = 3
	XdgToplevelShowWindowMenu  = 4
	XdgToplevelMove            = 5
	XdgToplevelResize          = 6
	XdgToplevelSetMaxSize      = 7
	XdgToplevelSetMinSize      = 8
	XdgToplevelSetMaximized    = 9
	XdgToplevelUnsetMaximized  = 10
	XdgToplevelSetFullscreen   = 11
	XdgToplevelUnsetFullscreen = 12
	XdgToplevelSetMinimized    = 13

	XdgToplevelEventConfigure       = 0
	XdgToplevelEventClose           = 1
	XdgToplevelEventConfigureBounds = 2
	XdgToplevelEventWmCapabilities  = 3

	XdgToplevelErrorInvalidParent = 1
	XdgToplevelErrorInvalidSize   = 2

	XdgToplevelStateMaximized  = 1
	XdgToplevelStateFullscreen = 2
	XdgToplevelStateResizing   = 3
	XdgToplevelStateActivated  = 4
)

// xdg_popup
const (
	XdgPopupDestroy    = 0
	XdgPopupGrab       = 1
	XdgPopupReposition = 2

	XdgPopupEventConfigure    = 0
	XdgPopupEventPopupDone    = 1
	XdgPopupEventRepositioned = 2
)

// wp_viewporter, wp_viewport
const (
	ViewporterDestroy     = 0
	ViewporterGetViewport = 1

	ViewporterErrorViewportExists = 0

	ViewportDestroy        = 0
	ViewportSetSource      = 1
	ViewportSetDestination = 2

	ViewportErrorBadValue    = 0
	ViewportErrorBadSize     = 1
	ViewportErrorOutOfBuffer = 2
	ViewportErrorNoSurface   = 3
)

// zwp_linux_dmabuf_v1
const (
	LinuxDmabufDestroy            = 0
	LinuxDmabufCreateParams       = 1
	LinuxDmabufGetDefaultFeedback = 2
	LinuxDmabufGetSurfaceFeedback = 3

	LinuxDmabufEventFormat   = 0
	LinuxDmabufEventModifier = 1
)

// zwp_linux_buffer_params_v1
const (
	BufferParamsDestroy     = 0
	BufferParamsAdd         = 1
	BufferParamsCreate      = 2
	BufferParamsCreateImmed = 3

	BufferParamsEventCreated = 0
	BufferParamsEventFailed  = 1

	BufferParamsErrorAlreadyUsed = 0
	BufferParamsErrorPlaneIdx    = 1
	BufferParamsErrorPlaneSet    = 2

	BufferParamsFlagsYInvert     = 1
	BufferParamsFlagsInterlaced  = 2
	BufferParamsFlagsBottomFirst = 4
)

// zwp_linux_dmabuf_feedback_v1
const (
	DmabufFeedbackDestroy = 0

	DmabufFeedbackEventDone                = 0
	DmabufFeedbackEventFormatTable         = 1
	DmabufFeedbackEventMainDevice          = 2
	DmabufFeedbackEventTrancheDone         = 3
	DmabufFeedbackEventTrancheTargetDevice = 4
	DmabufFeedbackEventTrancheFormats      = 5
	DmabufFeedbackEventTrancheFlags        = 6

	DmabufFeedbackTrancheFlagsScanout = 1
)

// DRM fourcc codes and modifiers used by the dmabuf path.
const (
	FourccARGB8888 uint32 = 0x34325241 // 'AR24'
	FourccXRGB8888 uint32 = 0x34325258 // 'XR24'
	FourccABGR8888 uint32 = 0x34324241 // 'AB24'
	FourccXBGR8888 uint32 = 0x34324258 // 'XB24'
	FourccRGB565   uint32 = 0x36314752 // 'RG16'
	FourccNV12     uint32 = 0x3231564e // 'NV12'
	FourccNV21     uint32 = 0x3132564e // 'NV21'
	FourccP010     uint32 = 0x30313050 // 'P010'
	FourccYUV420   uint32 = 0x32315559 // 'YU12'

	ModifierLinear  uint64 = 0
	ModifierInvalid uint64 = 0x00ffffffffffffff
)

// MaxPlanes is the number of plane slots a dmabuf import may fill.
const MaxPlanes = 4

// ServerIDStart is the first object id the server allocates on its own.
const ServerIDStart uint32 = 0xff000000
