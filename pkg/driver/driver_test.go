package driver

import (
	"testing"
	"time"

	"github.com/leenr/directoutput-libusb/internal/devices"
	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// newTestLibrary returns an initialized Library over one mock display and
// the display's handle.
func newTestLibrary(t *testing.T) (*Library, *devices.MockScanner, *devices.MockDisplay, directoutput.Handle) {
	t.Helper()
	scanner := devices.NewMockScanner()
	display := devices.NewMockDisplay("MZ0123")
	scanner.Attach("mock:1", display)

	l := New(WithScanners(scanner), WithRescanInterval(time.Hour))
	if err := l.Initialize("test"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { l.Deinitialize() })

	var h directoutput.Handle
	err := l.Enumerate(func(dev directoutput.Handle, _ any) { h = dev }, nil)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if h == 0 {
		t.Fatalf("mock display not enumerated")
	}
	return l, scanner, display, h
}

func lastMockCall(t *testing.T, d *devices.MockDisplay) devices.MockCall {
	t.Helper()
	calls := d.Calls()
	if len(calls) == 0 {
		t.Fatalf("no hardware calls recorded")
	}
	return calls[len(calls)-1]
}

func TestUninitializedLibrary(t *testing.T) {
	l := New()
	if err := l.Enumerate(func(directoutput.Handle, any) {}, nil); !directoutput.IsResult(err, directoutput.EHandle) {
		t.Fatalf("Enumerate before Initialize = %v, want E_HANDLE", err)
	}
	if err := l.SetLed(1, 0, 0, 1); !directoutput.IsResult(err, directoutput.EHandle) {
		t.Fatalf("SetLed before Initialize = %v, want E_HANDLE", err)
	}
	if err := l.Deinitialize(); err != nil {
		t.Fatalf("Deinitialize before Initialize = %v, want nil", err)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	scanner := devices.NewMockScanner()
	l := New(WithScanners(scanner), WithRescanInterval(time.Hour))
	if err := l.Initialize("a"); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	defer l.Deinitialize()
	if err := l.Initialize("b"); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
}

func TestDeinitializeClosesDevices(t *testing.T) {
	l, _, display, _ := newTestLibrary(t)
	if err := l.Deinitialize(); err != nil {
		t.Fatalf("Deinitialize: %v", err)
	}

	closed := false
	for _, c := range display.Calls() {
		if c.Op == "Close" {
			closed = true
		}
	}
	if !closed {
		t.Fatalf("display not closed on Deinitialize")
	}

	if err := l.SetLed(1, 0, 0, 1); !directoutput.IsResult(err, directoutput.EHandle) {
		t.Fatalf("SetLed after Deinitialize = %v, want E_HANDLE", err)
	}
}

func TestDeviceIdentity(t *testing.T) {
	l, _, _, h := newTestLibrary(t)

	typ, err := l.GetDeviceType(h)
	if err != nil || typ != directoutput.DeviceTypeFip {
		t.Fatalf("GetDeviceType = (%v, %v)", typ, err)
	}
	inst, err := l.GetDeviceInstance(h)
	if err != nil || inst.IsZero() {
		t.Fatalf("GetDeviceInstance = (%v, %v)", inst, err)
	}
	serial, err := l.GetSerialNumber(h)
	if err != nil || serial != "MZ0123" {
		t.Fatalf("GetSerialNumber = (%q, %v)", serial, err)
	}
}

func TestSetLedValidation(t *testing.T) {
	l, _, display, h := newTestLibrary(t)

	if err := l.SetLed(h, 0, 3, 2); !directoutput.IsResult(err, directoutput.EInvalidArg) {
		t.Fatalf("SetLed(value=2) = %v, want E_INVALIDARG", err)
	}
	if err := l.SetLed(h, 0, 3, 1); err != nil {
		t.Fatalf("SetLed: %v", err)
	}
	call := lastMockCall(t, display)
	if call.Op != "SetLed" {
		t.Fatalf("hardware saw %q", call.Op)
	}
}

func TestSetImageValidation(t *testing.T) {
	l, _, display, h := newTestLibrary(t)

	if err := l.SetImage(h, 0, 0, nil); !directoutput.IsResult(err, directoutput.EInvalidArg) {
		t.Fatalf("SetImage(nil) = %v, want E_INVALIDARG", err)
	}
	if err := l.SetImage(h, 0, 0, make([]byte, 16)); !directoutput.IsResult(err, directoutput.EBufferTooSmall) {
		t.Fatalf("SetImage(short) = %v, want E_BUFFERTOOSMALL", err)
	}
	if err := l.SetImage(h, 0, 0, make([]byte, directoutput.ImageSize)); err != nil {
		t.Fatalf("SetImage: %v", err)
	}
	call := lastMockCall(t, display)
	if call.Op != "SetImage" {
		t.Fatalf("hardware saw %q", call.Op)
	}
}

func TestBadHandleOperations(t *testing.T) {
	l, _, _, _ := newTestLibrary(t)

	const bogus = directoutput.Handle(0x7777)
	if _, err := l.GetSerialNumber(bogus); !directoutput.IsResult(err, directoutput.EHandle) {
		t.Fatalf("GetSerialNumber(bogus) = %v", err)
	}
	if err := l.AddPage(bogus, 0, "p", 0); !directoutput.IsResult(err, directoutput.EHandle) {
		t.Fatalf("AddPage(bogus) = %v", err)
	}
	if _, _, err := l.StartServer(bogus, "f"); !directoutput.IsResult(err, directoutput.EHandle) {
		t.Fatalf("StartServer(bogus) = %v", err)
	}
}

func TestDeviceCallbackOnHotplug(t *testing.T) {
	l, scanner, _, h := newTestLibrary(t)

	events := make(chan bool, 2)
	err := l.RegisterDeviceCallback(func(dev directoutput.Handle, added bool, _ any) {
		if dev == h {
			events <- added
		}
	}, nil)
	if err != nil {
		t.Fatalf("RegisterDeviceCallback: %v", err)
	}

	scanner.Detach("mock:1")
	state, err := l.current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	state.Rescan()

	select {
	case added := <-events:
		if added {
			t.Fatalf("got attach event, want detach")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("detach event never delivered")
	}
}

func TestSoftButtonCallback(t *testing.T) {
	l, _, display, h := newTestLibrary(t)

	ctx := "button-ctx"
	got := make(chan uint32, 1)
	err := l.RegisterSoftButtonCallback(h, func(dev directoutput.Handle, buttons uint32, c any) {
		if dev != h || c != any(ctx) {
			t.Errorf("callback args = (%#x, %v)", uintptr(dev), c)
		}
		got <- buttons
	}, ctx)
	if err != nil {
		t.Fatalf("RegisterSoftButtonCallback: %v", err)
	}

	display.EmitButtons(directoutput.SoftButtonRight)
	select {
	case mask := <-got:
		if mask != directoutput.SoftButtonRight {
			t.Fatalf("mask = %#x", mask)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("button callback never fired")
	}
}

func TestPageCallbackThroughAddPage(t *testing.T) {
	l, _, _, h := newTestLibrary(t)

	type event struct {
		page   uint32
		active bool
	}
	var events []event
	err := l.RegisterPageCallback(h, func(_ directoutput.Handle, page uint32, setActive bool, _ any) {
		events = append(events, event{page, setActive})
	}, nil)
	if err != nil {
		t.Fatalf("RegisterPageCallback: %v", err)
	}

	if err := l.AddPage(h, 1, "first", directoutput.FlagSetAsActive); err != nil {
		t.Fatalf("AddPage: %v", err)
	}
	if err := l.RemovePage(h, 1); err != nil {
		t.Fatalf("RemovePage: %v", err)
	}

	want := []event{{1, true}, {1, false}}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("page events = %v, want %v", events, want)
	}
}

func TestOpenComposition(t *testing.T) {
	scanner := devices.NewMockScanner()
	scanner.Attach("mock:1", devices.NewMockDisplay("A"))

	p, err := Open("test", WithScanners(scanner), WithRescanInterval(time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Deinitialize()

	n := 0
	if err := p.Enumerate(func(directoutput.Handle, any) { n++ }, nil); err != nil {
		t.Fatalf("Enumerate through proxy: %v", err)
	}
	if n != 1 {
		t.Fatalf("enumerated %d devices", n)
	}
}
