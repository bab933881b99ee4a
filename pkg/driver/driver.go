// Package driver implements the DirectOutput operation set natively: device
// discovery and lifetime live in an internal registry fed by the USB and
// HID backends, and every operation resolves its handle there. Wrap the
// Library in a directoutput.Proxy to get registry-owned callback bindings
// on top.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leenr/directoutput-libusb/internal/devices"
	"github.com/leenr/directoutput-libusb/internal/fipusb"
	"github.com/leenr/directoutput-libusb/internal/x52hid"
	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// DefaultRescanInterval is how often the backends are rescanned for
// attached and detached devices when no option overrides it.
const DefaultRescanInterval = time.Second

// Option configures a Library.
type Option func(*Library)

// WithRescanInterval overrides the hotplug rescan interval.
func WithRescanInterval(d time.Duration) Option {
	return func(l *Library) { l.rescanInterval = d }
}

// WithScanners replaces the default USB/HID backends. Tests use this to
// plug in mock devices.
func WithScanners(scanners ...devices.Scanner) Option {
	return func(l *Library) { l.scanners = scanners }
}

// Library is the native Driver. The zero value is usable; Initialize must
// succeed before any other operation.
type Library struct {
	rescanInterval time.Duration
	scanners       []devices.Scanner

	mu     sync.Mutex
	state  *devices.State
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an uninitialized Library.
func New(opts ...Option) *Library {
	l := &Library{rescanInterval: DefaultRescanInterval}
	for _, opt := range opts {
		opt(l)
	}
	if l.scanners == nil {
		l.scanners = []devices.Scanner{fipusb.NewScanner(), x52hid.NewScanner()}
	}
	return l
}

// Initialize builds the device registry and starts the rescan loop. A
// second call on an initialized Library is a no-op, matching the original's
// idempotent initialization.
func (l *Library) Initialize(pluginName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != nil {
		return nil
	}

	slog.Info("library initialized", slog.String("plugin", pluginName))
	state := devices.New(l.scanners...)
	state.Rescan()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		state.Run(ctx, l.rescanInterval)
	}()

	l.state = state
	l.cancel = cancel
	l.done = done
	return nil
}

// Deinitialize stops the rescan loop and closes every device. Like the
// original, deinitializing an uninitialized library succeeds.
func (l *Library) Deinitialize() error {
	l.mu.Lock()
	state, cancel, done := l.state, l.cancel, l.done
	l.state, l.cancel, l.done = nil, nil, nil
	l.mu.Unlock()

	if state == nil {
		return nil
	}
	cancel()
	<-done
	slog.Info("library deinitialized")
	return nil
}

// current returns the registry, or E_HANDLE when the library has not been
// initialized.
func (l *Library) current() (*devices.State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return nil, directoutput.Failf(directoutput.EHandle, "library not initialized")
	}
	return l.state, nil
}

func (l *Library) RegisterDeviceCallback(cb directoutput.DeviceChangeFunc, ctx any) error {
	state, err := l.current()
	if err != nil {
		return err
	}
	if cb == nil {
		state.SetDeviceListener(nil)
		return nil
	}
	state.SetDeviceListener(func(h directoutput.Handle, added bool) {
		cb(h, added, ctx)
	})
	return nil
}

// Enumerate invokes the callback synchronously, once per ready device.
func (l *Library) Enumerate(cb directoutput.EnumerateFunc, ctx any) error {
	state, err := l.current()
	if err != nil {
		return err
	}
	if cb == nil {
		return nil
	}
	for _, h := range state.ReadyHandles() {
		cb(h, ctx)
	}
	return nil
}

func (l *Library) RegisterPageCallback(h directoutput.Handle, cb directoutput.PageChangeFunc, ctx any) error {
	state, err := l.current()
	if err != nil {
		return err
	}
	if cb == nil {
		return state.SetPageListener(h, nil)
	}
	return state.SetPageListener(h, func(page uint32, setActive bool) {
		cb(h, page, setActive, ctx)
	})
}

func (l *Library) RegisterSoftButtonCallback(h directoutput.Handle, cb directoutput.SoftButtonFunc, ctx any) error {
	state, err := l.current()
	if err != nil {
		return err
	}
	if cb == nil {
		return state.SetButtonListener(h, nil)
	}
	return state.SetButtonListener(h, func(buttons uint32) {
		cb(h, buttons, ctx)
	})
}

func (l *Library) display(h directoutput.Handle) (devices.Display, error) {
	state, err := l.current()
	if err != nil {
		return nil, err
	}
	return state.Display(h)
}

func (l *Library) GetDeviceType(h directoutput.Handle) (directoutput.GUID, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.GUID{}, err
	}
	return d.TypeGUID(), nil
}

func (l *Library) GetDeviceInstance(h directoutput.Handle) (directoutput.GUID, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.GUID{}, err
	}
	return d.InstanceGUID(), nil
}

func (l *Library) GetSerialNumber(h directoutput.Handle) (string, error) {
	d, err := l.display(h)
	if err != nil {
		return "", err
	}
	return d.SerialNumber()
}

// SetProfile records the active profile name for the device. Profiles are
// host-side state; nothing is sent to the hardware.
func (l *Library) SetProfile(h directoutput.Handle, profile string) error {
	_, err := l.display(h)
	if err != nil {
		return err
	}
	slog.Debug("profile set", slog.Uint64("handle", uint64(h)), slog.String("profile", profile))
	return nil
}

func (l *Library) AddPage(h directoutput.Handle, page uint32, debugName string, flags uint32) error {
	state, err := l.current()
	if err != nil {
		return err
	}
	return state.AddPage(h, page, debugName, flags)
}

func (l *Library) RemovePage(h directoutput.Handle, page uint32) error {
	state, err := l.current()
	if err != nil {
		return err
	}
	return state.RemovePage(h, page)
}

func (l *Library) SetLed(h directoutput.Handle, page, index, value uint32) error {
	d, err := l.display(h)
	if err != nil {
		return err
	}
	if value > 1 {
		return directoutput.Failf(directoutput.EInvalidArg, "led value %d, want 0 or 1", value)
	}
	return d.SetLed(page, index, value)
}

func (l *Library) SetString(h directoutput.Handle, page, index uint32, value string) error {
	d, err := l.display(h)
	if err != nil {
		return err
	}
	return d.SetString(page, index, value)
}

func (l *Library) SetImage(h directoutput.Handle, page, index uint32, data []byte) error {
	d, err := l.display(h)
	if err != nil {
		return err
	}
	if data == nil {
		return directoutput.Failf(directoutput.EInvalidArg, "nil image data")
	}
	if len(data) != directoutput.ImageSize {
		return directoutput.Failf(directoutput.EBufferTooSmall,
			"image is %d bytes, want %d", len(data), directoutput.ImageSize)
	}
	return d.SetImage(page, data)
}

func (l *Library) SetImageFromFile(h directoutput.Handle, page, index uint32, filename string) error {
	d, err := l.display(h)
	if err != nil {
		return err
	}
	data, err := loadImageFile(filename)
	if err != nil {
		return err
	}
	return d.SetImage(page, data)
}

func (l *Library) StartServer(h directoutput.Handle, filename string) (uint32, directoutput.RequestStatus, error) {
	d, err := l.display(h)
	if err != nil {
		return 0, directoutput.RequestStatus{}, err
	}
	return d.StartServer(filename)
}

func (l *Library) CloseServer(h directoutput.Handle, serverID uint32) (directoutput.RequestStatus, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	return d.CloseServer(serverID)
}

func (l *Library) SendServerMsg(h directoutput.Handle, serverID, request, page uint32, in, out []byte) (directoutput.RequestStatus, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	return d.SendServerMsg(serverID, request, page, in, out)
}

func (l *Library) SendServerFile(h directoutput.Handle, serverID, request, page uint32, header []byte, filename string, out []byte) (directoutput.RequestStatus, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	return d.SendServerFile(serverID, request, page, header, filename, out)
}

func (l *Library) SaveFile(h directoutput.Handle, page, file uint32, filename string) (directoutput.RequestStatus, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	data, err := readFile(filename)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	return d.SaveFile(page, file, data)
}

func (l *Library) DisplayFile(h directoutput.Handle, page, index, file uint32) (directoutput.RequestStatus, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	return d.DisplayFile(page, index, file)
}

func (l *Library) DeleteFile(h directoutput.Handle, page, file uint32) (directoutput.RequestStatus, error) {
	d, err := l.display(h)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	return d.DeleteFile(page, file)
}

var _ directoutput.Driver = (*Library)(nil)

// Open is the common composition: a fresh initialized Library behind a
// callback proxy.
func Open(pluginName string, opts ...Option) (*directoutput.Proxy, error) {
	p := directoutput.Wrap(New(opts...))
	if err := p.Initialize(pluginName); err != nil {
		return nil, err
	}
	return p, nil
}
