// Package directoutput defines the Go rendition of the Saitek DirectOutput
// surface: the operation set, handle/GUID/status types, result codes and the
// four callback signatures. Implementations of Driver live elsewhere (native
// USB backends, the Windows vendor DLL); this package also provides Proxy,
// the forwarding layer that owns callback bindings on behalf of any Driver.
package directoutput

// Handle identifies one output device managed by a Driver. Handles are
// opaque; valid handles satisfy 0 < h < 0xFFFF.
type Handle uintptr

// Valid reports whether h is inside the representable handle range. It says
// nothing about whether a device is currently attached.
func (h Handle) Valid() bool {
	return h > 0 && h < 0xFFFF
}

// RequestStatus carries the per-request status block returned by the file
// and server operations. The fields mirror the device's reply verbatim.
type RequestStatus struct {
	HeaderError  uint32
	HeaderInfo   uint32
	RequestError uint32
	RequestInfo  uint32
}

// OK reports whether the request completed without a header or request error.
func (s RequestStatus) OK() bool {
	return s.HeaderError == 0 && s.RequestError == 0
}

// Callback signatures. The fixed arguments before the context match the
// vendor shapes exactly: zero extra for enumeration, one for device and
// soft-button change, two for page change.
type (
	// EnumerateFunc is invoked once per attached device during Enumerate.
	EnumerateFunc func(h Handle, ctx any)

	// DeviceChangeFunc is invoked when a device arrives (added=true) or
	// leaves (added=false).
	DeviceChangeFunc func(h Handle, added bool, ctx any)

	// PageChangeFunc is invoked when a page gains (setActive=true) or
	// loses the display.
	PageChangeFunc func(h Handle, page uint32, setActive bool, ctx any)

	// SoftButtonFunc is invoked with the current button bit mask when the
	// device's soft button state changes.
	SoftButtonFunc func(h Handle, buttons uint32, ctx any)
)

// AddPage flags.
const (
	// FlagSetAsActive makes the new page the active one immediately.
	FlagSetAsActive uint32 = 0x00000001
)

// Soft button bit masks.
const (
	SoftButtonSelect uint32 = 0x00000001
	SoftButtonUp     uint32 = 0x00000002
	SoftButtonDown   uint32 = 0x00000004
	SoftButtonLeft   uint32 = 0x00000008
	SoftButtonRight  uint32 = 0x00000010
	SoftButton1      uint32 = 0x00000020
	SoftButton2      uint32 = 0x00000040
	SoftButton3      uint32 = 0x00000080
	SoftButton4      uint32 = 0x00000100
	SoftButton5      uint32 = 0x00000200
	SoftButton6      uint32 = 0x00000400
)

// ImageSize is the exact byte length of one display image: 320x240 pixels,
// 24 bits per pixel.
const ImageSize = 0x38400

// Display geometry.
const (
	ImageWidth  = 320
	ImageHeight = 240
)

// Driver is the full DirectOutput operation set. The zero Handle is never a
// device; operations taking one fail with E_HANDLE for handles that do not
// resolve to an attached, initialized device.
//
// Drivers invoke registered callbacks with exactly the arguments the event
// produced plus the context given at registration. Passing a nil callback
// to a Register* operation removes the registration.
type Driver interface {
	Initialize(pluginName string) error
	Deinitialize() error

	RegisterDeviceCallback(cb DeviceChangeFunc, ctx any) error
	Enumerate(cb EnumerateFunc, ctx any) error
	RegisterPageCallback(h Handle, cb PageChangeFunc, ctx any) error
	RegisterSoftButtonCallback(h Handle, cb SoftButtonFunc, ctx any) error

	GetDeviceType(h Handle) (GUID, error)
	GetDeviceInstance(h Handle) (GUID, error)
	GetSerialNumber(h Handle) (string, error)

	SetProfile(h Handle, profile string) error
	AddPage(h Handle, page uint32, debugName string, flags uint32) error
	RemovePage(h Handle, page uint32) error

	SetLed(h Handle, page, index, value uint32) error
	SetString(h Handle, page, index uint32, value string) error
	SetImage(h Handle, page, index uint32, data []byte) error
	SetImageFromFile(h Handle, page, index uint32, filename string) error

	StartServer(h Handle, filename string) (serverID uint32, st RequestStatus, err error)
	CloseServer(h Handle, serverID uint32) (RequestStatus, error)
	SendServerMsg(h Handle, serverID, request, page uint32, in, out []byte) (RequestStatus, error)
	SendServerFile(h Handle, serverID, request, page uint32, header []byte, filename string, out []byte) (RequestStatus, error)

	SaveFile(h Handle, page, file uint32, filename string) (RequestStatus, error)
	DisplayFile(h Handle, page, index, file uint32) (RequestStatus, error)
	DeleteFile(h Handle, page, file uint32) (RequestStatus, error)
}
