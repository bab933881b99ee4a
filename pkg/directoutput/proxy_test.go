package directoutput

import (
	"sync"
	"testing"
)

// fakeDriver records every call and lets tests fire events through whatever
// callback/context pair the proxy registered with it.
type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	initErr error
	lastErr error

	deviceCb DeviceChangeFunc
	deviceCx any
	pageCbs  map[Handle]PageChangeFunc
	pageCxs  map[Handle]any
	btnCbs   map[Handle]SoftButtonFunc
	btnCxs   map[Handle]any

	enumerateHandles []Handle
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pageCbs: make(map[Handle]PageChangeFunc),
		pageCxs: make(map[Handle]any),
		btnCbs:  make(map[Handle]SoftButtonFunc),
		btnCxs:  make(map[Handle]any),
	}
}

func (f *fakeDriver) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDriver) Initialize(name string) error {
	f.record("Initialize:" + name)
	return f.initErr
}

func (f *fakeDriver) Deinitialize() error {
	f.record("Deinitialize")
	return nil
}

func (f *fakeDriver) RegisterDeviceCallback(cb DeviceChangeFunc, ctx any) error {
	f.record("RegisterDeviceCallback")
	f.mu.Lock()
	f.deviceCb, f.deviceCx = cb, ctx
	f.mu.Unlock()
	return f.lastErr
}

func (f *fakeDriver) Enumerate(cb EnumerateFunc, ctx any) error {
	f.record("Enumerate")
	if cb != nil {
		for _, h := range f.enumerateHandles {
			cb(h, ctx)
		}
	}
	return f.lastErr
}

func (f *fakeDriver) RegisterPageCallback(h Handle, cb PageChangeFunc, ctx any) error {
	f.record("RegisterPageCallback")
	f.mu.Lock()
	f.pageCbs[h], f.pageCxs[h] = cb, ctx
	f.mu.Unlock()
	return f.lastErr
}

func (f *fakeDriver) RegisterSoftButtonCallback(h Handle, cb SoftButtonFunc, ctx any) error {
	f.record("RegisterSoftButtonCallback")
	f.mu.Lock()
	f.btnCbs[h], f.btnCxs[h] = cb, ctx
	f.mu.Unlock()
	return f.lastErr
}

// fireButtons invokes whatever the proxy registered for h, the way the
// device backend would.
func (f *fakeDriver) fireButtons(h Handle, buttons uint32) {
	f.mu.Lock()
	cb, ctx := f.btnCbs[h], f.btnCxs[h]
	f.mu.Unlock()
	if cb != nil {
		cb(h, buttons, ctx)
	}
}

func (f *fakeDriver) firePage(h Handle, page uint32, active bool) {
	f.mu.Lock()
	cb, ctx := f.pageCbs[h], f.pageCxs[h]
	f.mu.Unlock()
	if cb != nil {
		cb(h, page, active, ctx)
	}
}

func (f *fakeDriver) fireDevice(h Handle, added bool) {
	f.mu.Lock()
	cb, ctx := f.deviceCb, f.deviceCx
	f.mu.Unlock()
	if cb != nil {
		cb(h, added, ctx)
	}
}

func (f *fakeDriver) GetDeviceType(h Handle) (GUID, error) {
	f.record("GetDeviceType")
	return DeviceTypeFip, f.lastErr
}

func (f *fakeDriver) GetDeviceInstance(h Handle) (GUID, error) {
	f.record("GetDeviceInstance")
	return GUID{}, f.lastErr
}

func (f *fakeDriver) GetSerialNumber(h Handle) (string, error) {
	f.record("GetSerialNumber")
	return "MZ0123", f.lastErr
}

func (f *fakeDriver) SetProfile(h Handle, profile string) error {
	f.record("SetProfile:" + profile)
	return f.lastErr
}

func (f *fakeDriver) AddPage(h Handle, page uint32, name string, flags uint32) error {
	f.record("AddPage:" + name)
	return f.lastErr
}

func (f *fakeDriver) RemovePage(h Handle, page uint32) error {
	f.record("RemovePage")
	return f.lastErr
}

func (f *fakeDriver) SetLed(h Handle, page, index, value uint32) error {
	f.record("SetLed")
	return f.lastErr
}

func (f *fakeDriver) SetString(h Handle, page, index uint32, value string) error {
	f.record("SetString:" + value)
	return f.lastErr
}

func (f *fakeDriver) SetImage(h Handle, page, index uint32, data []byte) error {
	f.record("SetImage")
	return f.lastErr
}

func (f *fakeDriver) SetImageFromFile(h Handle, page, index uint32, filename string) error {
	f.record("SetImageFromFile:" + filename)
	return f.lastErr
}

func (f *fakeDriver) StartServer(h Handle, filename string) (uint32, RequestStatus, error) {
	f.record("StartServer:" + filename)
	return 7, RequestStatus{RequestInfo: 3}, f.lastErr
}

func (f *fakeDriver) CloseServer(h Handle, serverID uint32) (RequestStatus, error) {
	f.record("CloseServer")
	return RequestStatus{}, f.lastErr
}

func (f *fakeDriver) SendServerMsg(h Handle, serverID, request, page uint32, in, out []byte) (RequestStatus, error) {
	f.record("SendServerMsg")
	return RequestStatus{}, f.lastErr
}

func (f *fakeDriver) SendServerFile(h Handle, serverID, request, page uint32, header []byte, filename string, out []byte) (RequestStatus, error) {
	f.record("SendServerFile:" + filename)
	return RequestStatus{}, f.lastErr
}

func (f *fakeDriver) SaveFile(h Handle, page, file uint32, filename string) (RequestStatus, error) {
	f.record("SaveFile:" + filename)
	return RequestStatus{}, f.lastErr
}

func (f *fakeDriver) DisplayFile(h Handle, page, index, file uint32) (RequestStatus, error) {
	f.record("DisplayFile")
	return RequestStatus{}, f.lastErr
}

func (f *fakeDriver) DeleteFile(h Handle, page, file uint32) (RequestStatus, error) {
	f.record("DeleteFile")
	return RequestStatus{}, f.lastErr
}

func lastCall(t *testing.T, f *fakeDriver) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatalf("no calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

func TestProxyForwardsUnchanged(t *testing.T) {
	inner := newFakeDriver()
	inner.lastErr = Fail(EPageNotActive)
	p := Wrap(inner)

	if err := p.SetLed(3, 1, 2, 1); !IsResult(err, EPageNotActive) {
		t.Fatalf("SetLed result = %v, want E_PAGENOTACTIVE", err)
	}
	if got := lastCall(t, inner); got != "SetLed" {
		t.Fatalf("inner saw %q", got)
	}

	if err := p.SetString(3, 0, 1, "hello"); !IsResult(err, EPageNotActive) {
		t.Fatalf("SetString result = %v", err)
	}
	if got := lastCall(t, inner); got != "SetString:hello" {
		t.Fatalf("inner saw %q, argument not forwarded", got)
	}

	inner.lastErr = nil
	id, st, err := p.StartServer(3, "srv.bin")
	if err != nil || id != 7 || st.RequestInfo != 3 {
		t.Fatalf("StartServer = (%d, %+v, %v), want inner results unchanged", id, st, err)
	}

	serial, err := p.GetSerialNumber(3)
	if err != nil || serial != "MZ0123" {
		t.Fatalf("GetSerialNumber = (%q, %v)", serial, err)
	}
}

func TestProxySoftButtonRoundTrip(t *testing.T) {
	inner := newFakeDriver()
	p := Wrap(inner)

	type hit struct {
		h       Handle
		buttons uint32
		ctx     any
	}
	var got []hit
	ctx := &struct{ name string }{"caller-context"}

	err := p.RegisterSoftButtonCallback(5, func(h Handle, buttons uint32, c any) {
		got = append(got, hit{h, buttons, c})
	}, ctx)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	inner.fireButtons(5, 0x3)

	if len(got) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(got))
	}
	if got[0].h != 5 || got[0].buttons != 0x3 || got[0].ctx != any(ctx) {
		t.Fatalf("callback got %+v, want (5, 0x3, original ctx)", got[0])
	}
}

func TestProxyEnumerateContext(t *testing.T) {
	inner := newFakeDriver()
	inner.enumerateHandles = []Handle{1, 2, 3}
	p := Wrap(inner)

	var handles []Handle
	ctx := "enum-ctx"
	err := p.Enumerate(func(h Handle, c any) {
		if c != any(ctx) {
			t.Fatalf("enumerate ctx = %v, want original", c)
		}
		handles = append(handles, h)
	}, ctx)
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(handles) != 3 || handles[0] != 1 || handles[2] != 3 {
		t.Fatalf("handles = %v", handles)
	}
}

func TestProxyEnumeratePassesIndependent(t *testing.T) {
	inner := newFakeDriver()
	inner.enumerateHandles = []Handle{1, 2}
	p := Wrap(inner)

	// A second pass starting from inside the first one's callback must not
	// disturb the outer pass's binding.
	var outer, nested []Handle
	err := p.Enumerate(func(h Handle, _ any) {
		outer = append(outer, h)
		if len(nested) == 0 {
			if err := p.Enumerate(func(h Handle, _ any) {
				nested = append(nested, h)
			}, nil); err != nil {
				t.Errorf("nested enumerate: %v", err)
			}
		}
	}, nil)
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}

	if len(outer) != 2 || outer[0] != 1 || outer[1] != 2 {
		t.Fatalf("outer pass delivered %v, want [1 2]", outer)
	}
	if len(nested) != 2 || nested[0] != 1 || nested[1] != 2 {
		t.Fatalf("nested pass delivered %v, want [1 2]", nested)
	}
}

func TestProxyDeviceChangeArgs(t *testing.T) {
	inner := newFakeDriver()
	p := Wrap(inner)

	var gotH Handle
	var gotAdded bool
	if err := p.RegisterDeviceCallback(func(h Handle, added bool, _ any) {
		gotH, gotAdded = h, added
	}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	inner.fireDevice(9, true)
	if gotH != 9 || !gotAdded {
		t.Fatalf("device callback got (%d, %v)", gotH, gotAdded)
	}
	inner.fireDevice(9, false)
	if gotAdded {
		t.Fatalf("removal not delivered")
	}
}

func TestProxyPageChangeArgs(t *testing.T) {
	inner := newFakeDriver()
	p := Wrap(inner)

	type hit struct {
		page   uint32
		active bool
	}
	var got []hit
	if err := p.RegisterPageCallback(4, func(_ Handle, page uint32, active bool, _ any) {
		got = append(got, hit{page, active})
	}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	inner.firePage(4, 2, true)
	inner.firePage(4, 2, false)
	if len(got) != 2 || got[0] != (hit{2, true}) || got[1] != (hit{2, false}) {
		t.Fatalf("page events = %v", got)
	}
}

func TestProxyLateEventAfterDeinitialize(t *testing.T) {
	inner := newFakeDriver()
	p := Wrap(inner)

	fired := 0
	if err := p.RegisterSoftButtonCallback(5, func(Handle, uint32, any) {
		fired++
	}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Deinitialize(); err != nil {
		t.Fatalf("deinitialize: %v", err)
	}

	// The inner driver still holds the trampoline; a late event must be
	// dropped, not dispatched through the dead binding.
	inner.fireButtons(5, 0x1)
	if fired != 0 {
		t.Fatalf("callback fired %d times after deinitialize", fired)
	}
}

func TestProxyLateEventAfterDeregistration(t *testing.T) {
	inner := newFakeDriver()
	p := Wrap(inner)

	fired := 0
	cb := func(Handle, uint32, any) { fired++ }
	if err := p.RegisterSoftButtonCallback(5, cb, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Capture the trampoline the inner driver holds, then deregister.
	inner.mu.Lock()
	tramp, tctx := inner.btnCbs[5], inner.btnCxs[5]
	inner.mu.Unlock()

	if err := p.RegisterSoftButtonCallback(5, nil, nil); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if inner.btnCbs[5] != nil {
		t.Fatalf("nil registration not forwarded to inner driver")
	}

	tramp(5, 0x2, tctx)
	if fired != 0 {
		t.Fatalf("stale binding dispatched after deregistration")
	}
}

func TestProxyReregistrationReplaces(t *testing.T) {
	inner := newFakeDriver()
	p := Wrap(inner)

	var first, second int
	if err := p.RegisterSoftButtonCallback(5, func(Handle, uint32, any) { first++ }, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Keep the superseded trampoline around, as a slow event source would.
	inner.mu.Lock()
	oldTramp, oldCtx := inner.btnCbs[5], inner.btnCxs[5]
	inner.mu.Unlock()

	if err := p.RegisterSoftButtonCallback(5, func(Handle, uint32, any) { second++ }, nil); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	inner.fireButtons(5, 0x1)
	oldTramp(5, 0x1, oldCtx)

	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d, want replaced binding only", first, second)
	}
}

func TestProxyBindingsPerHandle(t *testing.T) {
	inner := newFakeDriver()
	p := Wrap(inner)

	counts := make(map[Handle]int)
	var mu sync.Mutex
	register := func(h Handle) {
		if err := p.RegisterSoftButtonCallback(h, func(h Handle, _ uint32, _ any) {
			mu.Lock()
			counts[h]++
			mu.Unlock()
		}, nil); err != nil {
			t.Errorf("register %d: %v", h, err)
		}
	}

	var wg sync.WaitGroup
	for h := Handle(1); h <= 8; h++ {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			register(h)
		}()
	}
	wg.Wait()

	for h := Handle(1); h <= 8; h++ {
		inner.fireButtons(h, uint32(h))
	}
	for h := Handle(1); h <= 8; h++ {
		if counts[h] != 1 {
			t.Fatalf("handle %d fired %d times", h, counts[h])
		}
	}
}

func TestProxyImplementsDriver(t *testing.T) {
	var _ Driver = Wrap(newFakeDriver())
}
