package directoutput

import "sync"

// Proxy forwards every Driver operation to an inner Driver unchanged, while
// interposing on the four callback-bearing operations: the caller's
// (callback, context) pair is stored in a registry owned by the proxy, and
// the inner driver is handed a trampoline plus the stored binding as its
// context. When the event fires, the trampoline resolves the binding and
// invokes the original callback with the original context. From the
// caller's point of view the callback fires exactly as if it had been
// registered directly.
//
// Bindings live for the whole active lifetime of their registration: they
// are replaced on re-registration, removed when a nil callback is
// registered, and cleared by Deinitialize. A trampoline hit on a removed
// binding is dropped, so an event racing a deregistration can never invoke
// a stale record. Enumerate is the exception: its pass is synchronous, so
// each call carries a private binding on its own frame instead of a
// registry entry.
type Proxy struct {
	inner Driver

	mu       sync.Mutex
	bindings map[bindingKey]anyBinding
}

type callbackKind uint8

const (
	kindDeviceChange callbackKind = iota
	kindPageChange
	kindSoftButton
)

// The device-change registration keys on the zero handle; per-device
// registrations key on their handle. Enumerate bindings are per call and
// never enter the registry.
type bindingKey struct {
	h    Handle
	kind callbackKind
}

// binding pairs one registered callback with its caller context. A binding
// is handed to the inner driver as the registration context and recovered
// by the matching trampoline.
type binding[F any] struct {
	owner *Proxy
	key   bindingKey
	fn    F
	ctx   any
}

// anyBinding lets the registry hold bindings of any shape.
type anyBinding interface{ boundKey() bindingKey }

func (b *binding[F]) boundKey() bindingKey { return b.key }

// Wrap returns a Proxy forwarding to inner.
func Wrap(inner Driver) *Proxy {
	return &Proxy{
		inner:    inner,
		bindings: make(map[bindingKey]anyBinding),
	}
}

// bind stores a fresh binding for key, replacing any previous one, and
// returns it. A nil stored binding (fn == nil) is expressed by removing the
// key entirely.
func bind[F any](p *Proxy, key bindingKey, fn F, ctx any) *binding[F] {
	b := &binding[F]{owner: p, key: key, fn: fn, ctx: ctx}
	p.mu.Lock()
	p.bindings[key] = b
	p.mu.Unlock()
	return b
}

func (p *Proxy) unbind(key bindingKey) {
	p.mu.Lock()
	delete(p.bindings, key)
	p.mu.Unlock()
}

// live reports whether b is still the current binding for its key. Events
// delivered after deregistration or Deinitialize fail this check and are
// dropped.
func live[F any](b *binding[F]) bool {
	b.owner.mu.Lock()
	cur, ok := b.owner.bindings[b.key]
	b.owner.mu.Unlock()
	return ok && cur == anyBinding(b)
}

// Trampolines, one per callback shape. Each recovers the binding passed as
// the registration context and re-invokes the original callback with the
// original context in its place.

// enumerateTrampoline has no liveness check: its binding belongs to exactly
// one synchronous pass and is unreachable once that pass returns.
func enumerateTrampoline(h Handle, ctx any) {
	if b, ok := ctx.(*binding[EnumerateFunc]); ok {
		b.fn(h, b.ctx)
	}
}

func deviceChangeTrampoline(h Handle, added bool, ctx any) {
	if b, ok := ctx.(*binding[DeviceChangeFunc]); ok && live(b) {
		b.fn(h, added, b.ctx)
	}
}

func pageChangeTrampoline(h Handle, page uint32, setActive bool, ctx any) {
	if b, ok := ctx.(*binding[PageChangeFunc]); ok && live(b) {
		b.fn(h, page, setActive, b.ctx)
	}
}

func softButtonTrampoline(h Handle, buttons uint32, ctx any) {
	if b, ok := ctx.(*binding[SoftButtonFunc]); ok && live(b) {
		b.fn(h, buttons, b.ctx)
	}
}

func (p *Proxy) Initialize(pluginName string) error {
	return p.inner.Initialize(pluginName)
}

// Deinitialize forwards to the inner driver and then drops every binding;
// events that were in flight resolve against an empty registry.
func (p *Proxy) Deinitialize() error {
	err := p.inner.Deinitialize()
	p.mu.Lock()
	p.bindings = make(map[bindingKey]anyBinding)
	p.mu.Unlock()
	return err
}

func (p *Proxy) RegisterDeviceCallback(cb DeviceChangeFunc, ctx any) error {
	key := bindingKey{kind: kindDeviceChange}
	if cb == nil {
		p.unbind(key)
		return p.inner.RegisterDeviceCallback(nil, nil)
	}
	b := bind(p, key, cb, ctx)
	err := p.inner.RegisterDeviceCallback(deviceChangeTrampoline, b)
	if err != nil {
		p.unbind(key)
	}
	return err
}

// Enumerate is synchronous and one-shot: the binding lives on this call
// frame for the duration of the pass, so overlapping or re-entrant passes
// each carry their own binding and never disturb one another.
func (p *Proxy) Enumerate(cb EnumerateFunc, ctx any) error {
	if cb == nil {
		return p.inner.Enumerate(nil, nil)
	}
	b := &binding[EnumerateFunc]{fn: cb, ctx: ctx}
	return p.inner.Enumerate(enumerateTrampoline, b)
}

func (p *Proxy) RegisterPageCallback(h Handle, cb PageChangeFunc, ctx any) error {
	key := bindingKey{h: h, kind: kindPageChange}
	if cb == nil {
		p.unbind(key)
		return p.inner.RegisterPageCallback(h, nil, nil)
	}
	b := bind(p, key, cb, ctx)
	err := p.inner.RegisterPageCallback(h, pageChangeTrampoline, b)
	if err != nil {
		p.unbind(key)
	}
	return err
}

func (p *Proxy) RegisterSoftButtonCallback(h Handle, cb SoftButtonFunc, ctx any) error {
	key := bindingKey{h: h, kind: kindSoftButton}
	if cb == nil {
		p.unbind(key)
		return p.inner.RegisterSoftButtonCallback(h, nil, nil)
	}
	b := bind(p, key, cb, ctx)
	err := p.inner.RegisterSoftButtonCallback(h, softButtonTrampoline, b)
	if err != nil {
		p.unbind(key)
	}
	return err
}

// The remaining operations are pure forwarders: same arguments, same order,
// inner result returned unmodified.

func (p *Proxy) GetDeviceType(h Handle) (GUID, error) {
	return p.inner.GetDeviceType(h)
}

func (p *Proxy) GetDeviceInstance(h Handle) (GUID, error) {
	return p.inner.GetDeviceInstance(h)
}

func (p *Proxy) GetSerialNumber(h Handle) (string, error) {
	return p.inner.GetSerialNumber(h)
}

func (p *Proxy) SetProfile(h Handle, profile string) error {
	return p.inner.SetProfile(h, profile)
}

func (p *Proxy) AddPage(h Handle, page uint32, debugName string, flags uint32) error {
	return p.inner.AddPage(h, page, debugName, flags)
}

func (p *Proxy) RemovePage(h Handle, page uint32) error {
	return p.inner.RemovePage(h, page)
}

func (p *Proxy) SetLed(h Handle, page, index, value uint32) error {
	return p.inner.SetLed(h, page, index, value)
}

func (p *Proxy) SetString(h Handle, page, index uint32, value string) error {
	return p.inner.SetString(h, page, index, value)
}

func (p *Proxy) SetImage(h Handle, page, index uint32, data []byte) error {
	return p.inner.SetImage(h, page, index, data)
}

func (p *Proxy) SetImageFromFile(h Handle, page, index uint32, filename string) error {
	return p.inner.SetImageFromFile(h, page, index, filename)
}

func (p *Proxy) StartServer(h Handle, filename string) (uint32, RequestStatus, error) {
	return p.inner.StartServer(h, filename)
}

func (p *Proxy) CloseServer(h Handle, serverID uint32) (RequestStatus, error) {
	return p.inner.CloseServer(h, serverID)
}

func (p *Proxy) SendServerMsg(h Handle, serverID, request, page uint32, in, out []byte) (RequestStatus, error) {
	return p.inner.SendServerMsg(h, serverID, request, page, in, out)
}

func (p *Proxy) SendServerFile(h Handle, serverID, request, page uint32, header []byte, filename string, out []byte) (RequestStatus, error) {
	return p.inner.SendServerFile(h, serverID, request, page, header, filename, out)
}

func (p *Proxy) SaveFile(h Handle, page, file uint32, filename string) (RequestStatus, error) {
	return p.inner.SaveFile(h, page, file, filename)
}

func (p *Proxy) DisplayFile(h Handle, page, index, file uint32) (RequestStatus, error) {
	return p.inner.DisplayFile(h, page, index, file)
}

func (p *Proxy) DeleteFile(h Handle, page, file uint32) (RequestStatus, error) {
	return p.inner.DeleteFile(h, page, file)
}

var _ Driver = (*Proxy)(nil)
