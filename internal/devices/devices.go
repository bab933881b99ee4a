// Package devices keeps the registry of attached output displays: handle
// allocation, periodic rescans standing in for USB hotplug, and fan-out of
// device, page and soft-button events to the registered listeners.
package devices

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// Display is one attached output device as seen by the registry. Page
// bookkeeping lives in the registry; a Display only carries the hardware
// operations. Operations a given panel cannot perform return E_NOTIMPL.
type Display interface {
	// Ready reports whether device initialization has completed. Displays
	// that are attached but still initializing are skipped by enumeration
	// and rejected elsewhere.
	Ready() bool

	SerialNumber() (string, error)
	TypeGUID() directoutput.GUID
	InstanceGUID() directoutput.GUID

	SetLed(page, index, value uint32) error
	SetString(page, index uint32, value string) error
	SetImage(page uint32, data []byte) error
	ClearImage(page uint32) error

	SaveFile(page, file uint32, data []byte) (directoutput.RequestStatus, error)
	DisplayFile(page, index, file uint32) (directoutput.RequestStatus, error)
	DeleteFile(page, file uint32) (directoutput.RequestStatus, error)

	StartServer(filename string) (uint32, directoutput.RequestStatus, error)
	CloseServer(serverID uint32) (directoutput.RequestStatus, error)
	SendServerMsg(serverID, request, page uint32, in, out []byte) (directoutput.RequestStatus, error)
	SendServerFile(serverID, request, page uint32, header []byte, filename string, out []byte) (directoutput.RequestStatus, error)

	// Buttons delivers soft-button state masks as the device reports them.
	// The channel is closed when the display is closed.
	Buttons() <-chan uint32

	Close() error
}

// Candidate is one device address a Scanner currently sees, plus the way to
// open it. Open is only invoked for addresses that are not yet registered.
type Candidate struct {
	Addr string
	Open func() (Display, error)
}

// Scanner reports the devices one backend currently sees.
type Scanner interface {
	Scan() ([]Candidate, error)
}

type entry struct {
	h       directoutput.Handle
	addr    string
	display Display

	mu         sync.Mutex
	pages      map[uint32]string // page -> debug name
	activePage uint32
	hasActive  bool
	onPage     func(page uint32, setActive bool)
	onButtons  func(buttons uint32)

	pumpDone chan struct{}
}

// State owns every attached display. One State exists per initialized
// library instance.
type State struct {
	scanners []Scanner

	mu         sync.RWMutex
	byAddr     map[string]*entry
	byHandle   map[directoutput.Handle]*entry
	nextHandle uint32
	onDevice   func(h directoutput.Handle, added bool)
}

// New builds an empty registry over the given backends.
func New(scanners ...Scanner) *State {
	return &State{
		scanners:   scanners,
		byAddr:     make(map[string]*entry),
		byHandle:   make(map[directoutput.Handle]*entry),
		nextHandle: 1,
	}
}

// Run rescans the backends at the given interval until ctx is cancelled,
// then closes every remaining display. An immediate first scan runs before
// the ticker starts so Enumerate right after initialization sees devices.
func (s *State) Run(ctx context.Context, interval time.Duration) {
	s.rescan()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.rescan()
		}
	}
}

// Rescan performs one synchronous scan pass. Initialization uses it so
// devices are visible before the background loop takes over.
func (s *State) Rescan() { s.rescan() }

func (s *State) rescan() {
	seen := make(map[string]Candidate)
	for _, sc := range s.scanners {
		cands, err := sc.Scan()
		if err != nil {
			slog.Warn("device scan failed", slog.Any("error", err))
			continue
		}
		for _, c := range cands {
			seen[c.Addr] = c
		}
	}

	// Opening a device can block on I/O, so it runs outside the registry
	// lock; lookups and operations on already-attached devices keep going
	// while an arrival initializes.
	s.mu.RLock()
	var arrivals []Candidate
	for addr, c := range seen {
		if _, ok := s.byAddr[addr]; !ok {
			arrivals = append(arrivals, c)
		}
	}
	s.mu.RUnlock()

	type openedDisplay struct {
		addr    string
		display Display
	}
	var opened []openedDisplay
	for _, c := range arrivals {
		display, err := c.Open()
		if err != nil {
			slog.Warn("cannot open device", slog.String("addr", c.Addr), slog.Any("error", err))
			continue
		}
		opened = append(opened, openedDisplay{addr: c.Addr, display: display})
	}

	var added, removed []*entry

	s.mu.Lock()
	for _, o := range opened {
		if _, ok := s.byAddr[o.addr]; ok {
			// Another scan pass registered this address meanwhile.
			o.display.Close()
			continue
		}
		h, ok := s.allocHandleLocked()
		if !ok {
			slog.Error("handle space exhausted", slog.String("addr", o.addr))
			o.display.Close()
			continue
		}
		e := &entry{
			h:        h,
			addr:     o.addr,
			display:  o.display,
			pages:    make(map[uint32]string),
			pumpDone: make(chan struct{}),
		}
		s.byAddr[o.addr] = e
		s.byHandle[h] = e
		go s.pumpButtons(e)
		added = append(added, e)
	}
	for addr, e := range s.byAddr {
		if _, ok := seen[addr]; ok {
			continue
		}
		delete(s.byAddr, addr)
		delete(s.byHandle, e.h)
		removed = append(removed, e)
	}
	onDevice := s.onDevice
	s.mu.Unlock()

	for _, e := range added {
		slog.Info("device attached", slog.String("addr", e.addr), slog.Uint64("handle", uint64(e.h)))
		if onDevice != nil {
			onDevice(e.h, true)
		}
	}
	for _, e := range removed {
		slog.Info("device detached", slog.String("addr", e.addr), slog.Uint64("handle", uint64(e.h)))
		e.display.Close()
		if onDevice != nil {
			onDevice(e.h, false)
		}
	}
}

// allocHandleLocked hands out the next free handle in 1..0xFFFE.
func (s *State) allocHandleLocked() (directoutput.Handle, bool) {
	for i := 0; i < 0xFFFE; i++ {
		h := directoutput.Handle(s.nextHandle)
		s.nextHandle++
		if s.nextHandle >= 0xFFFF {
			s.nextHandle = 1
		}
		if _, taken := s.byHandle[h]; !taken {
			return h, true
		}
	}
	return 0, false
}

// pumpButtons forwards one display's button stream to the listener slot for
// its handle. The goroutine ends when the display closes its channel.
func (s *State) pumpButtons(e *entry) {
	defer close(e.pumpDone)
	for buttons := range e.display.Buttons() {
		e.mu.Lock()
		fn := e.onButtons
		e.mu.Unlock()
		if fn != nil {
			fn(buttons)
		}
	}
}

func (s *State) closeAll() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.byAddr))
	for _, e := range s.byAddr {
		entries = append(entries, e)
	}
	s.byAddr = make(map[string]*entry)
	s.byHandle = make(map[directoutput.Handle]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.display.Close()
		<-e.pumpDone
	}
}

// SetDeviceListener installs the single device add/remove listener slot.
// A nil fn clears it.
func (s *State) SetDeviceListener(fn func(h directoutput.Handle, added bool)) {
	s.mu.Lock()
	s.onDevice = fn
	s.mu.Unlock()
}

// ReadyHandles returns the handles of every ready display in ascending
// order, matching the stable enumeration order of the address-keyed map the
// original kept.
func (s *State) ReadyHandles() []directoutput.Handle {
	s.mu.RLock()
	handles := make([]directoutput.Handle, 0, len(s.byHandle))
	for h, e := range s.byHandle {
		if e.display.Ready() {
			handles = append(handles, h)
		}
	}
	s.mu.RUnlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// lookup resolves a handle to its entry. An unknown handle or one whose
// display has not finished initializing resolves to E_HANDLE.
func (s *State) lookup(h directoutput.Handle) (*entry, error) {
	if !h.Valid() {
		return nil, directoutput.Failf(directoutput.EHandle, "invalid handle %#x", uintptr(h))
	}
	s.mu.RLock()
	e, ok := s.byHandle[h]
	s.mu.RUnlock()
	if !ok {
		return nil, directoutput.Failf(directoutput.EHandle, "no device for handle %#x", uintptr(h))
	}
	if !e.display.Ready() {
		return nil, directoutput.Failf(directoutput.EHandle, "device %s not initialized", e.addr)
	}
	return e, nil
}

// Display resolves a handle to its ready display.
func (s *State) Display(h directoutput.Handle) (Display, error) {
	e, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.display, nil
}

// SetPageListener installs (or clears, with nil) the page-change listener
// for one device.
func (s *State) SetPageListener(h directoutput.Handle, fn func(page uint32, setActive bool)) error {
	e, err := s.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.onPage = fn
	e.mu.Unlock()
	return nil
}

// SetButtonListener installs (or clears, with nil) the soft-button listener
// for one device.
func (s *State) SetButtonListener(h directoutput.Handle, fn func(buttons uint32)) error {
	e, err := s.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.onButtons = fn
	e.mu.Unlock()
	return nil
}

// AddPage records a page for the device. With FlagSetAsActive the page
// takes the display immediately: the previously active page gets a
// deactivation event, then the new page an activation event.
func (s *State) AddPage(h directoutput.Handle, page uint32, debugName string, flags uint32) error {
	e, err := s.lookup(h)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pages[page] = debugName
	var events []pageEvent
	if flags&directoutput.FlagSetAsActive != 0 && (!e.hasActive || e.activePage != page) {
		if e.hasActive {
			events = append(events, pageEvent{e.activePage, false})
		}
		e.activePage = page
		e.hasActive = true
		events = append(events, pageEvent{page, true})
	}
	fn := e.onPage
	e.mu.Unlock()

	firePageEvents(fn, events)
	return nil
}

// RemovePage drops a page. Removing the active page deactivates it first.
func (s *State) RemovePage(h directoutput.Handle, page uint32) error {
	e, err := s.lookup(h)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, ok := e.pages[page]; !ok {
		e.mu.Unlock()
		return directoutput.Failf(directoutput.EInvalidArg, "page %d not added", page)
	}
	delete(e.pages, page)
	var events []pageEvent
	if e.hasActive && e.activePage == page {
		e.hasActive = false
		events = append(events, pageEvent{page, false})
	}
	fn := e.onPage
	e.mu.Unlock()

	firePageEvents(fn, events)
	return nil
}

type pageEvent struct {
	page      uint32
	setActive bool
}

func firePageEvents(fn func(page uint32, setActive bool), events []pageEvent) {
	if fn == nil {
		return
	}
	for _, ev := range events {
		fn(ev.page, ev.setActive)
	}
}

// ActivePage reports the device's active page, if any.
func (s *State) ActivePage(h directoutput.Handle) (uint32, bool, error) {
	e, err := s.lookup(h)
	if err != nil {
		return 0, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activePage, e.hasActive, nil
}
