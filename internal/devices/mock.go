package devices

import (
	"sync"

	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// MockDisplay is an in-memory Display for tests. Every operation records
// its arguments; EmitButtons injects soft-button events.
type MockDisplay struct {
	Serial   string
	Type     directoutput.GUID
	NotReady bool
	Err      error // returned by every hardware operation when set

	mu    sync.Mutex
	calls []MockCall

	buttons   chan uint32
	closeOnce sync.Once
}

// MockCall records one hardware operation.
type MockCall struct {
	Op   string
	Args []any
}

func NewMockDisplay(serial string) *MockDisplay {
	return &MockDisplay{
		Serial:  serial,
		Type:    directoutput.DeviceTypeFip,
		buttons: make(chan uint32, 8),
	}
}

func (m *MockDisplay) record(op string, args ...any) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Op: op, Args: args})
	m.mu.Unlock()
}

// Calls returns a copy of the recorded operations.
func (m *MockDisplay) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// EmitButtons injects one soft-button state event.
func (m *MockDisplay) EmitButtons(mask uint32) {
	m.buttons <- mask
}

func (m *MockDisplay) Ready() bool { return !m.NotReady }

func (m *MockDisplay) SerialNumber() (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Serial, nil
}

func (m *MockDisplay) TypeGUID() directoutput.GUID { return m.Type }

func (m *MockDisplay) InstanceGUID() directoutput.GUID {
	return directoutput.InstanceGUID(m.Type, m.Serial)
}

func (m *MockDisplay) SetLed(page, index, value uint32) error {
	m.record("SetLed", page, index, value)
	return m.Err
}

func (m *MockDisplay) SetString(page, index uint32, value string) error {
	m.record("SetString", page, index, value)
	return m.Err
}

func (m *MockDisplay) SetImage(page uint32, data []byte) error {
	m.record("SetImage", page, len(data))
	return m.Err
}

func (m *MockDisplay) ClearImage(page uint32) error {
	m.record("ClearImage", page)
	return m.Err
}

func (m *MockDisplay) SaveFile(page, file uint32, data []byte) (directoutput.RequestStatus, error) {
	m.record("SaveFile", page, file, len(data))
	return directoutput.RequestStatus{}, m.Err
}

func (m *MockDisplay) DisplayFile(page, index, file uint32) (directoutput.RequestStatus, error) {
	m.record("DisplayFile", page, index, file)
	return directoutput.RequestStatus{}, m.Err
}

func (m *MockDisplay) DeleteFile(page, file uint32) (directoutput.RequestStatus, error) {
	m.record("DeleteFile", page, file)
	return directoutput.RequestStatus{}, m.Err
}

func (m *MockDisplay) StartServer(filename string) (uint32, directoutput.RequestStatus, error) {
	m.record("StartServer", filename)
	return 1, directoutput.RequestStatus{}, m.Err
}

func (m *MockDisplay) CloseServer(serverID uint32) (directoutput.RequestStatus, error) {
	m.record("CloseServer", serverID)
	return directoutput.RequestStatus{}, m.Err
}

func (m *MockDisplay) SendServerMsg(serverID, request, page uint32, in, out []byte) (directoutput.RequestStatus, error) {
	m.record("SendServerMsg", serverID, request, page, len(in), len(out))
	return directoutput.RequestStatus{}, m.Err
}

func (m *MockDisplay) SendServerFile(serverID, request, page uint32, header []byte, filename string, out []byte) (directoutput.RequestStatus, error) {
	m.record("SendServerFile", serverID, request, page, len(header), filename, len(out))
	return directoutput.RequestStatus{}, m.Err
}

func (m *MockDisplay) Buttons() <-chan uint32 { return m.buttons }

func (m *MockDisplay) Close() error {
	m.record("Close")
	m.closeOnce.Do(func() { close(m.buttons) })
	return nil
}

// MockScanner serves a fixed, mutable set of candidates.
type MockScanner struct {
	mu       sync.Mutex
	displays map[string]*MockDisplay
}

func NewMockScanner() *MockScanner {
	return &MockScanner{displays: make(map[string]*MockDisplay)}
}

// Attach makes a display visible to the next scan.
func (s *MockScanner) Attach(addr string, d *MockDisplay) {
	s.mu.Lock()
	s.displays[addr] = d
	s.mu.Unlock()
}

// Detach hides a display from the next scan.
func (s *MockScanner) Detach(addr string) {
	s.mu.Lock()
	delete(s.displays, addr)
	s.mu.Unlock()
}

func (s *MockScanner) Scan() ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Candidate, 0, len(s.displays))
	for addr, d := range s.displays {
		d := d
		out = append(out, Candidate{
			Addr: addr,
			Open: func() (Display, error) { return d, nil },
		})
	}
	return out, nil
}
