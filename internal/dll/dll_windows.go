//go:build windows

package dll

import (
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// Driver forwards to one loaded DirectOutput.dll.
type Driver struct {
	procInitialize               *windows.LazyProc
	procDeinitialize             *windows.LazyProc
	procRegisterDeviceCallback   *windows.LazyProc
	procEnumerate                *windows.LazyProc
	procRegisterPageCallback     *windows.LazyProc
	procRegisterSoftButtonCallbk *windows.LazyProc
	procGetDeviceType            *windows.LazyProc
	procGetDeviceInstance        *windows.LazyProc
	procSetProfile               *windows.LazyProc
	procAddPage                  *windows.LazyProc
	procRemovePage               *windows.LazyProc
	procSetLed                   *windows.LazyProc
	procSetString                *windows.LazyProc
	procSetImage                 *windows.LazyProc
	procSetImageFromFile         *windows.LazyProc
	procStartServer              *windows.LazyProc
	procCloseServer              *windows.LazyProc
	procSendServerMsg            *windows.LazyProc
	procSendServerFile           *windows.LazyProc
	procSaveFile                 *windows.LazyProc
	procDisplayFile              *windows.LazyProc
	procDeleteFile               *windows.LazyProc
	procGetSerialNumber          *windows.LazyProc

	mu    sync.Mutex
	slots map[slotKey]uintptr // registration slot -> binding ID
}

// Open loads the named DLL (DefaultDLL when empty).
func Open(name string) (*Driver, error) {
	if name == "" {
		name = DefaultDLL
	}
	lib := windows.NewLazyDLL(name)
	if err := lib.Load(); err != nil {
		return nil, err
	}
	return &Driver{
		procInitialize:               lib.NewProc("DirectOutput_Initialize"),
		procDeinitialize:             lib.NewProc("DirectOutput_Deinitialize"),
		procRegisterDeviceCallback:   lib.NewProc("DirectOutput_RegisterDeviceCallback"),
		procEnumerate:                lib.NewProc("DirectOutput_Enumerate"),
		procRegisterPageCallback:     lib.NewProc("DirectOutput_RegisterPageCallback"),
		procRegisterSoftButtonCallbk: lib.NewProc("DirectOutput_RegisterSoftButtonCallback"),
		procGetDeviceType:            lib.NewProc("DirectOutput_GetDeviceType"),
		procGetDeviceInstance:        lib.NewProc("DirectOutput_GetDeviceInstance"),
		procSetProfile:               lib.NewProc("DirectOutput_SetProfile"),
		procAddPage:                  lib.NewProc("DirectOutput_AddPage"),
		procRemovePage:               lib.NewProc("DirectOutput_RemovePage"),
		procSetLed:                   lib.NewProc("DirectOutput_SetLed"),
		procSetString:                lib.NewProc("DirectOutput_SetString"),
		procSetImage:                 lib.NewProc("DirectOutput_SetImage"),
		procSetImageFromFile:         lib.NewProc("DirectOutput_SetImageFromFile"),
		procStartServer:              lib.NewProc("DirectOutput_StartServer"),
		procCloseServer:              lib.NewProc("DirectOutput_CloseServer"),
		procSendServerMsg:            lib.NewProc("DirectOutput_SendServerMsg"),
		procSendServerFile:           lib.NewProc("DirectOutput_SendServerFile"),
		procSaveFile:                 lib.NewProc("DirectOutput_SaveFile"),
		procDisplayFile:              lib.NewProc("DirectOutput_DisplayFile"),
		procDeleteFile:               lib.NewProc("DirectOutput_DeleteFile"),
		procGetSerialNumber:          lib.NewProc("DirectOutput_GetSerialNumber"),
		slots:                        make(map[slotKey]uintptr),
	}, nil
}

// hresult maps a raw return value: zero is success, anything else carries
// the code through unchanged.
func hresult(r uintptr) error {
	if r == 0 {
		return nil
	}
	return directoutput.Fail(directoutput.Result(uint32(r)))
}

// wide converts a string to a NUL-terminated UTF-16 buffer plus its
// character count excluding the terminator, the way the exported functions
// take (cch, wsz) pairs.
func wide(s string) (*uint16, uintptr, error) {
	buf, err := windows.UTF16FromString(s)
	if err != nil {
		return nil, 0, directoutput.Failf(directoutput.EInvalidArg, "string %q: %v", s, err)
	}
	return &buf[0], uintptr(len(buf) - 1), nil
}

func bytesPtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// Callback marshalling. syscall.NewCallback thunks are process-permanent,
// so exactly one is created per signature shape; dispatch runs through the
// binding registry keyed by the ID smuggled in the context pointer.

type slotKind uint8

const (
	slotDeviceChange slotKind = iota
	slotEnumerate
	slotPageChange
	slotSoftButton
)

type slotKey struct {
	h    directoutput.Handle
	kind slotKind
}

type cBinding struct {
	fn  any
	ctx any
}

var (
	cBindings  sync.Map // uintptr -> *cBinding
	cBindingID atomic.Uintptr
)

func storeBinding(fn, ctx any) uintptr {
	id := cBindingID.Add(1)
	cBindings.Store(id, &cBinding{fn: fn, ctx: ctx})
	return id
}

func loadBinding(id uintptr) (*cBinding, bool) {
	v, ok := cBindings.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*cBinding), true
}

var (
	enumerateThunk = syscall.NewCallback(func(hDevice, ctx uintptr) uintptr {
		if b, ok := loadBinding(ctx); ok {
			b.fn.(directoutput.EnumerateFunc)(directoutput.Handle(hDevice), b.ctx)
		}
		return 0
	})

	deviceChangeThunk = syscall.NewCallback(func(hDevice, added, ctx uintptr) uintptr {
		if b, ok := loadBinding(ctx); ok {
			b.fn.(directoutput.DeviceChangeFunc)(directoutput.Handle(hDevice), added != 0, b.ctx)
		}
		return 0
	})

	pageChangeThunk = syscall.NewCallback(func(hDevice, page, setActive, ctx uintptr) uintptr {
		if b, ok := loadBinding(ctx); ok {
			b.fn.(directoutput.PageChangeFunc)(directoutput.Handle(hDevice), uint32(page), setActive != 0, b.ctx)
		}
		return 0
	})

	softButtonThunk = syscall.NewCallback(func(hDevice, buttons, ctx uintptr) uintptr {
		if b, ok := loadBinding(ctx); ok {
			b.fn.(directoutput.SoftButtonFunc)(directoutput.Handle(hDevice), uint32(buttons), b.ctx)
		}
		return 0
	})
)

// rebind replaces the binding occupying a registration slot and returns the
// new binding ID; a nil fn clears the slot.
func (d *Driver) rebind(key slotKey, fn, ctx any) uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.slots[key]; ok {
		cBindings.Delete(old)
		delete(d.slots, key)
	}
	if fn == nil {
		return 0
	}
	id := storeBinding(fn, ctx)
	d.slots[key] = id
	return id
}

func (d *Driver) clearBindings() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, id := range d.slots {
		cBindings.Delete(id)
		delete(d.slots, key)
	}
}

func (d *Driver) Initialize(pluginName string) error {
	p, _, err := wide(pluginName)
	if err != nil {
		return err
	}
	r, _, _ := d.procInitialize.Call(uintptr(unsafe.Pointer(p)))
	return hresult(r)
}

func (d *Driver) Deinitialize() error {
	r, _, _ := d.procDeinitialize.Call()
	d.clearBindings()
	return hresult(r)
}

func (d *Driver) RegisterDeviceCallback(cb directoutput.DeviceChangeFunc, ctx any) error {
	key := slotKey{kind: slotDeviceChange}
	if cb == nil {
		d.rebind(key, nil, nil)
		r, _, _ := d.procRegisterDeviceCallback.Call(0, 0)
		return hresult(r)
	}
	id := d.rebind(key, cb, ctx)
	r, _, _ := d.procRegisterDeviceCallback.Call(deviceChangeThunk, id)
	if err := hresult(r); err != nil {
		d.rebind(key, nil, nil)
		return err
	}
	return nil
}

func (d *Driver) Enumerate(cb directoutput.EnumerateFunc, ctx any) error {
	if cb == nil {
		r, _, _ := d.procEnumerate.Call(0, 0)
		return hresult(r)
	}
	// One-shot: the binding lives for the synchronous enumeration pass.
	id := storeBinding(cb, ctx)
	defer cBindings.Delete(id)
	r, _, _ := d.procEnumerate.Call(enumerateThunk, id)
	return hresult(r)
}

func (d *Driver) RegisterPageCallback(h directoutput.Handle, cb directoutput.PageChangeFunc, ctx any) error {
	key := slotKey{h: h, kind: slotPageChange}
	if cb == nil {
		d.rebind(key, nil, nil)
		r, _, _ := d.procRegisterPageCallback.Call(uintptr(h), 0, 0)
		return hresult(r)
	}
	id := d.rebind(key, cb, ctx)
	r, _, _ := d.procRegisterPageCallback.Call(uintptr(h), pageChangeThunk, id)
	if err := hresult(r); err != nil {
		d.rebind(key, nil, nil)
		return err
	}
	return nil
}

func (d *Driver) RegisterSoftButtonCallback(h directoutput.Handle, cb directoutput.SoftButtonFunc, ctx any) error {
	key := slotKey{h: h, kind: slotSoftButton}
	if cb == nil {
		d.rebind(key, nil, nil)
		r, _, _ := d.procRegisterSoftButtonCallbk.Call(uintptr(h), 0, 0)
		return hresult(r)
	}
	id := d.rebind(key, cb, ctx)
	r, _, _ := d.procRegisterSoftButtonCallbk.Call(uintptr(h), softButtonThunk, id)
	if err := hresult(r); err != nil {
		d.rebind(key, nil, nil)
		return err
	}
	return nil
}

func (d *Driver) GetDeviceType(h directoutput.Handle) (directoutput.GUID, error) {
	var g directoutput.GUID
	r, _, _ := d.procGetDeviceType.Call(uintptr(h), uintptr(unsafe.Pointer(&g)))
	return g, hresult(r)
}

func (d *Driver) GetDeviceInstance(h directoutput.Handle) (directoutput.GUID, error) {
	var g directoutput.GUID
	r, _, _ := d.procGetDeviceInstance.Call(uintptr(h), uintptr(unsafe.Pointer(&g)))
	return g, hresult(r)
}

func (d *Driver) GetSerialNumber(h directoutput.Handle) (string, error) {
	buf := make([]uint16, 128)
	r, _, _ := d.procGetSerialNumber.Call(uintptr(h),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if err := hresult(r); err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf), nil
}

func (d *Driver) SetProfile(h directoutput.Handle, profile string) error {
	p, cch, err := wide(profile)
	if err != nil {
		return err
	}
	r, _, _ := d.procSetProfile.Call(uintptr(h), cch, uintptr(unsafe.Pointer(p)))
	return hresult(r)
}

func (d *Driver) AddPage(h directoutput.Handle, page uint32, debugName string, flags uint32) error {
	p, _, err := wide(debugName)
	if err != nil {
		return err
	}
	r, _, _ := d.procAddPage.Call(uintptr(h), uintptr(page),
		uintptr(unsafe.Pointer(p)), uintptr(flags))
	return hresult(r)
}

func (d *Driver) RemovePage(h directoutput.Handle, page uint32) error {
	r, _, _ := d.procRemovePage.Call(uintptr(h), uintptr(page))
	return hresult(r)
}

func (d *Driver) SetLed(h directoutput.Handle, page, index, value uint32) error {
	r, _, _ := d.procSetLed.Call(uintptr(h), uintptr(page), uintptr(index), uintptr(value))
	return hresult(r)
}

func (d *Driver) SetString(h directoutput.Handle, page, index uint32, value string) error {
	p, cch, err := wide(value)
	if err != nil {
		return err
	}
	r, _, _ := d.procSetString.Call(uintptr(h), uintptr(page), uintptr(index),
		cch, uintptr(unsafe.Pointer(p)))
	return hresult(r)
}

func (d *Driver) SetImage(h directoutput.Handle, page, index uint32, data []byte) error {
	r, _, _ := d.procSetImage.Call(uintptr(h), uintptr(page), uintptr(index),
		uintptr(len(data)), bytesPtr(data))
	return hresult(r)
}

func (d *Driver) SetImageFromFile(h directoutput.Handle, page, index uint32, filename string) error {
	p, cch, err := wide(filename)
	if err != nil {
		return err
	}
	r, _, _ := d.procSetImageFromFile.Call(uintptr(h), uintptr(page), uintptr(index),
		cch, uintptr(unsafe.Pointer(p)))
	return hresult(r)
}

func (d *Driver) StartServer(h directoutput.Handle, filename string) (uint32, directoutput.RequestStatus, error) {
	p, cch, err := wide(filename)
	if err != nil {
		return 0, directoutput.RequestStatus{}, err
	}
	var serverID uint32
	var st directoutput.RequestStatus
	r, _, _ := d.procStartServer.Call(uintptr(h), cch, uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(&serverID)), uintptr(unsafe.Pointer(&st)))
	return serverID, st, hresult(r)
}

func (d *Driver) CloseServer(h directoutput.Handle, serverID uint32) (directoutput.RequestStatus, error) {
	var st directoutput.RequestStatus
	r, _, _ := d.procCloseServer.Call(uintptr(h), uintptr(serverID),
		uintptr(unsafe.Pointer(&st)))
	return st, hresult(r)
}

func (d *Driver) SendServerMsg(h directoutput.Handle, serverID, request, page uint32, in, out []byte) (directoutput.RequestStatus, error) {
	var st directoutput.RequestStatus
	r, _, _ := d.procSendServerMsg.Call(uintptr(h), uintptr(serverID), uintptr(request),
		uintptr(page), uintptr(len(in)), bytesPtr(in),
		uintptr(len(out)), bytesPtr(out), uintptr(unsafe.Pointer(&st)))
	return st, hresult(r)
}

func (d *Driver) SendServerFile(h directoutput.Handle, serverID, request, page uint32, header []byte, filename string, out []byte) (directoutput.RequestStatus, error) {
	var st directoutput.RequestStatus
	p, cch, err := wide(filename)
	if err != nil {
		return st, err
	}
	r, _, _ := d.procSendServerFile.Call(uintptr(h), uintptr(serverID), uintptr(request),
		uintptr(page), uintptr(len(header)), bytesPtr(header),
		cch, uintptr(unsafe.Pointer(p)),
		uintptr(len(out)), bytesPtr(out), uintptr(unsafe.Pointer(&st)))
	return st, hresult(r)
}

func (d *Driver) SaveFile(h directoutput.Handle, page, file uint32, filename string) (directoutput.RequestStatus, error) {
	var st directoutput.RequestStatus
	p, cch, err := wide(filename)
	if err != nil {
		return st, err
	}
	r, _, _ := d.procSaveFile.Call(uintptr(h), uintptr(page), uintptr(file),
		cch, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&st)))
	return st, hresult(r)
}

func (d *Driver) DisplayFile(h directoutput.Handle, page, index, file uint32) (directoutput.RequestStatus, error) {
	var st directoutput.RequestStatus
	r, _, _ := d.procDisplayFile.Call(uintptr(h), uintptr(page), uintptr(index),
		uintptr(file), uintptr(unsafe.Pointer(&st)))
	return st, hresult(r)
}

func (d *Driver) DeleteFile(h directoutput.Handle, page, file uint32) (directoutput.RequestStatus, error) {
	var st directoutput.RequestStatus
	r, _, _ := d.procDeleteFile.Call(uintptr(h), uintptr(page), uintptr(file),
		uintptr(unsafe.Pointer(&st)))
	return st, hresult(r)
}

var _ directoutput.Driver = (*Driver)(nil)
