// Package x52hid drives the Saitek X52 Pro multi-function display over HID.
// Unlike the instrument panel it has no image surface; it offers LEDs and
// three 16-character text lines, and reports its buttons on the input
// report.
package x52hid

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	usbhid "rafaelmartins.com/p/usbhid"

	"github.com/leenr/directoutput-libusb/internal/devices"
	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

const (
	VendorSaitek  uint16 = 0x06A3
	ProductX52Pro uint16 = 0x0762
)

const (
	// MfdLineLen is the character width of one text line.
	MfdLineLen = 16
	// MfdLines is the number of addressable text lines.
	MfdLines = 3
)

// Feature report IDs of the vendor interface.
const (
	reportLed     byte = 0x03
	reportMfdLine byte = 0x04
)

// Scanner lists attached X52 Pro units.
type Scanner struct{}

func NewScanner() *Scanner { return &Scanner{} }

func (s *Scanner) Scan() ([]devices.Candidate, error) {
	devs, err := usbhid.Enumerate(nil)
	if err != nil {
		return nil, fmt.Errorf("x52 enumerate: %w", err)
	}
	var out []devices.Candidate
	for _, dev := range devs {
		if dev.VendorId() != VendorSaitek || dev.ProductId() != ProductX52Pro {
			continue
		}
		path := dev.Path()
		out = append(out, devices.Candidate{
			Addr: "x52:" + path,
			Open: func() (devices.Display, error) {
				return Open(path)
			},
		})
	}
	return out, nil
}

// Display is one opened X52 Pro.
type Display struct {
	addr   string
	serial string

	mu  sync.Mutex
	dev *usbhid.Device

	closed    atomic.Bool
	buttons   chan uint32
	closeOnce sync.Once
}

// Open claims the device at the given HID path.
func Open(path string) (*Display, error) {
	dev, err := usbhid.Get(func(d *usbhid.Device) bool {
		return d.Path() == path
	}, true, false)
	if err != nil {
		return nil, fmt.Errorf("x52 open %s: %w", path, err)
	}

	d := &Display{
		addr:    "x52:" + path,
		serial:  dev.SerialNumber(),
		dev:     dev,
		buttons: make(chan uint32, 8),
	}
	slog.Info("x52 initialized", slog.String("addr", d.addr), slog.String("serial", d.serial))
	go d.readLoop()
	return d, nil
}

// readLoop polls the input report and publishes the button mask from its
// leading bytes.
func (d *Display) readLoop() {
	defer close(d.buttons)
	var last uint32
	var have bool
	for {
		_, data, err := d.dev.GetInputReport()
		if err != nil {
			if !d.closed.Load() {
				slog.Warn("x52 read failed", slog.String("addr", d.addr), slog.Any("error", err))
			}
			return
		}
		if len(data) < 4 {
			continue
		}
		mask := binary.LittleEndian.Uint32(data[:4])
		if have && mask == last {
			continue
		}
		last, have = mask, true
		select {
		case d.buttons <- mask:
		default:
			slog.Warn("button event dropped", slog.String("addr", d.addr))
		}
	}
}

func (d *Display) Ready() bool { return !d.closed.Load() }

func (d *Display) SerialNumber() (string, error) {
	if d.serial == "" {
		return "", directoutput.Failf(directoutput.EFail, "x52 %s reported no serial number", d.addr)
	}
	return d.serial, nil
}

func (d *Display) TypeGUID() directoutput.GUID {
	return directoutput.DeviceTypeX52Pro
}

func (d *Display) InstanceGUID() directoutput.GUID {
	return directoutput.InstanceGUID(directoutput.DeviceTypeX52Pro, d.serial)
}

func (d *Display) SetLed(page, index, value uint32) error {
	if index > 0xFF {
		return directoutput.Failf(directoutput.EInvalidArg, "led index %d out of range", index)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.SetFeatureReport(reportLed, []byte{byte(index), byte(value)}); err != nil {
		return directoutput.Failf(directoutput.EFail, "set led: %v", err)
	}
	return nil
}

// formatMfdLine builds the output report payload for one text line: the
// line index followed by exactly MfdLineLen characters. Shorter values are
// space padded, longer ones truncated, non-printable runes replaced.
func formatMfdLine(index uint32, value string) []byte {
	line := make([]byte, 1+MfdLineLen)
	line[0] = byte(index)
	for i := 0; i < MfdLineLen; i++ {
		line[1+i] = ' '
	}
	pos := 0
	for _, r := range value {
		if pos >= MfdLineLen {
			break
		}
		if r < 0x20 || r > 0x7E {
			r = '?'
		}
		line[1+pos] = byte(r)
		pos++
	}
	return line
}

// SetString writes one MFD text line.
func (d *Display) SetString(page, index uint32, value string) error {
	if index >= MfdLines {
		return directoutput.Failf(directoutput.EInvalidArg, "mfd line %d out of range", index)
	}
	line := formatMfdLine(index, value)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.SetOutputReport(reportMfdLine, line); err != nil {
		return directoutput.Failf(directoutput.EFail, "set mfd line: %v", err)
	}
	return nil
}

// No image surface on this device.

func (d *Display) SetImage(page uint32, data []byte) error {
	return directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) ClearImage(page uint32) error {
	return directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) SaveFile(page, file uint32, data []byte) (directoutput.RequestStatus, error) {
	return directoutput.RequestStatus{}, directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) DisplayFile(page, index, file uint32) (directoutput.RequestStatus, error) {
	return directoutput.RequestStatus{}, directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) DeleteFile(page, file uint32) (directoutput.RequestStatus, error) {
	return directoutput.RequestStatus{}, directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) StartServer(filename string) (uint32, directoutput.RequestStatus, error) {
	return 0, directoutput.RequestStatus{}, directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) CloseServer(serverID uint32) (directoutput.RequestStatus, error) {
	return directoutput.RequestStatus{}, directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) SendServerMsg(serverID, request, page uint32, in, out []byte) (directoutput.RequestStatus, error) {
	return directoutput.RequestStatus{}, directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) SendServerFile(serverID, request, page uint32, header []byte, filename string, out []byte) (directoutput.RequestStatus, error) {
	return directoutput.RequestStatus{}, directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) Buttons() <-chan uint32 { return d.buttons }

func (d *Display) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.mu.Lock()
		d.dev.Close()
		d.mu.Unlock()
	})
	return nil
}
