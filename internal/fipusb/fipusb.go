// Package fipusb drives the Saitek Flight Instrument Panel over its vendor
// bulk interface: 44-byte control packets, optionally followed by a data
// payload, written to the OUT endpoint and answered on the IN endpoint. The
// panel also pushes unsolicited packets on the IN endpoint when its soft
// button state changes.
package fipusb

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karalabe/usb"

	"github.com/leenr/directoutput-libusb/internal/devices"
	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

const (
	VendorSaitek uint16 = 0x06A3
	ProductFip   uint16 = 0xA2AE
)

const replyTimeout = 5 * time.Second

// noPending marks the reader's "no transaction outstanding" state.
const noPending int64 = -1

type reply struct {
	pkt  controlPacket
	data []byte
}

// Display is one attached panel. Initialization runs on a background
// goroutine; Ready reports false until the device answered the factory-mode
// probe and the reader is up.
type Display struct {
	addr   string
	serial string
	open   func() (io.ReadWriteCloser, error)

	// mu serializes transactions: one control packet in flight at a time.
	mu  sync.Mutex
	dev io.ReadWriteCloser

	ready      atomic.Bool
	pendingReq atomic.Int64
	replies    chan reply
	buttons    chan uint32
	closed     chan struct{}
	closeOnce  sync.Once
}

// Scanner lists attached panels via USB enumeration.
type Scanner struct{}

func NewScanner() *Scanner { return &Scanner{} }

func (s *Scanner) Scan() ([]devices.Candidate, error) {
	infos, err := usb.Enumerate(VendorSaitek, ProductFip)
	if err != nil {
		return nil, fmt.Errorf("fip enumerate: %w", err)
	}
	out := make([]devices.Candidate, 0, len(infos))
	for _, info := range infos {
		info := info
		out = append(out, devices.Candidate{
			Addr: "fip:" + info.Path,
			Open: func() (devices.Display, error) {
				return Open(info), nil
			},
		})
	}
	return out, nil
}

// Open returns a Display for the enumerated device and starts its
// initialization in the background.
func Open(info usb.DeviceInfo) *Display {
	return newDisplay("fip:"+info.Path, info.Serial, func() (io.ReadWriteCloser, error) {
		return info.Open()
	})
}

func newDisplay(addr, serial string, open func() (io.ReadWriteCloser, error)) *Display {
	d := &Display{
		addr:    addr,
		serial:  serial,
		open:    open,
		replies: make(chan reply),
		buttons: make(chan uint32, 8),
		closed:  make(chan struct{}),
	}
	d.pendingReq.Store(noPending)
	go d.init()
	return d
}

// init opens the device and runs the factory-mode probe. A panel in factory
// mode answers the probe without an error and is left alone; a working
// panel rejects it, which is the signal it is in normal operation.
func (d *Display) init() {
	dev, err := d.open()
	if err != nil {
		slog.Warn("cannot open panel", slog.String("addr", d.addr), slog.Any("error", err))
		close(d.buttons)
		return
	}

	probe := newPacket(requestFactoryProbe)
	resp, _, err := rawTransact(dev, probe, nil)
	if err != nil {
		slog.Warn("panel probe failed", slog.String("addr", d.addr), slog.Any("error", err))
		dev.Close()
		close(d.buttons)
		return
	}
	if !resp.hasError() {
		slog.Warn("panel is in factory mode, skipping it", slog.String("addr", d.addr))
		dev.Close()
		close(d.buttons)
		return
	}

	d.mu.Lock()
	d.dev = dev
	d.mu.Unlock()

	select {
	case <-d.closed:
		// Closed while initializing.
		dev.Close()
		close(d.buttons)
		return
	default:
	}

	d.ready.Store(true)
	slog.Info("panel initialized",
		slog.String("addr", d.addr), slog.String("serial", d.serial))
	go d.readLoop(dev)
}

// rawTransact is the pre-reader transaction path used only during
// initialization, when nothing else can touch the device.
func rawTransact(dev io.ReadWriter, pkt controlPacket, payload []byte) (controlPacket, []byte, error) {
	if err := writePacket(dev, pkt, payload); err != nil {
		return controlPacket{}, nil, err
	}
	return readPacket(dev)
}

func writePacket(w io.Writer, pkt controlPacket, payload []byte) error {
	if len(payload) != int(pkt.DataSize) {
		return fmt.Errorf("payload length %d does not match packet data size %d", len(payload), pkt.DataSize)
	}
	if _, err := w.Write(pkt.encode()); err != nil {
		return fmt.Errorf("write control packet: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

func readPacket(r io.Reader) (controlPacket, []byte, error) {
	buf := make([]byte, packetSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return controlPacket{}, nil, fmt.Errorf("read control packet: %w", err)
	}
	pkt, err := decodePacket(buf)
	if err != nil {
		return controlPacket{}, nil, err
	}
	if pkt.DataSize == 0 {
		return pkt, nil, nil
	}
	if pkt.DataSize >= 512*1024 {
		return controlPacket{}, nil, fmt.Errorf("oversized reply payload: %d bytes", pkt.DataSize)
	}
	data := make([]byte, pkt.DataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return controlPacket{}, nil, fmt.Errorf("read reply payload: %w", err)
	}
	return pkt, data, nil
}

// readLoop owns the IN endpoint. Replies to the outstanding transaction are
// matched by request code and handed to the waiting caller; everything else
// is the panel talking on its own, which is the soft-button state. The
// state mask rides the third parameter, the same slot the LED write uses
// for its value.
func (d *Display) readLoop(dev io.Reader) {
	defer close(d.buttons)
	for {
		pkt, data, err := readPacket(dev)
		if err != nil {
			select {
			case <-d.closed:
			default:
				slog.Warn("panel read failed", slog.String("addr", d.addr), slog.Any("error", err))
				d.ready.Store(false)
			}
			return
		}
		slog.Debug("panel packet",
			slog.String("addr", d.addr),
			slog.Uint64("request", uint64(pkt.Request)),
			slog.Uint64("dataSize", uint64(pkt.DataSize)))

		if int64(pkt.Request) == d.pendingReq.Load() {
			select {
			case d.replies <- reply{pkt: pkt, data: data}:
			case <-d.closed:
				return
			case <-time.After(replyTimeout):
				// The waiter gave up; drop the reply.
			}
			continue
		}

		select {
		case d.buttons <- pkt.Param3:
		default:
			slog.Warn("button event dropped", slog.String("addr", d.addr))
		}
	}
}

// transact writes one control packet (plus payload) and waits for the
// panel's reply to that request code.
func (d *Display) transact(pkt controlPacket, payload []byte) (controlPacket, []byte, error) {
	if !d.ready.Load() {
		return controlPacket{}, nil, directoutput.Failf(directoutput.EHandle, "panel %s not initialized", d.addr)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.dev

	d.pendingReq.Store(int64(pkt.Request))
	defer d.pendingReq.Store(noPending)

	if err := writePacket(dev, pkt, payload); err != nil {
		return controlPacket{}, nil, err
	}
	select {
	case r := <-d.replies:
		return r.pkt, r.data, nil
	case <-d.closed:
		return controlPacket{}, nil, fmt.Errorf("panel %s closed", d.addr)
	case <-time.After(replyTimeout):
		return controlPacket{}, nil, fmt.Errorf("panel %s reply timeout", d.addr)
	}
}

// request runs a transaction and turns a device-reported error into a
// failed result carrying the reply's status block.
func (d *Display) request(pkt controlPacket, payload []byte) (controlPacket, []byte, error) {
	resp, data, err := d.transact(pkt, payload)
	if err != nil {
		return controlPacket{}, nil, err
	}
	if resp.hasError() {
		return resp, data, directoutput.Failf(directoutput.EFail,
			"panel rejected request %#x: header %#x request %#x",
			pkt.Request, resp.HeaderError, resp.RequestError)
	}
	return resp, data, nil
}

func (d *Display) Ready() bool { return d.ready.Load() }

func (d *Display) SerialNumber() (string, error) {
	if d.serial == "" {
		return "", directoutput.Failf(directoutput.EFail, "panel %s reported no serial number", d.addr)
	}
	return d.serial, nil
}

func (d *Display) TypeGUID() directoutput.GUID {
	return directoutput.DeviceTypeFip
}

func (d *Display) InstanceGUID() directoutput.GUID {
	return directoutput.InstanceGUID(directoutput.DeviceTypeFip, d.serial)
}

func (d *Display) SetLed(page, index, value uint32) error {
	pkt := newPacket(requestSetLed)
	pkt.Param1 = page
	pkt.Param2 = index
	pkt.Param3 = value
	_, _, err := d.request(pkt, nil)
	return err
}

// SetString: the panel has no text surface.
func (d *Display) SetString(page, index uint32, value string) error {
	return directoutput.Fail(directoutput.ENotImpl)
}

func (d *Display) SetImage(page uint32, data []byte) error {
	pkt := newPacket(requestSetImage)
	pkt.Page = page
	pkt.DataSize = uint32(len(data))
	_, _, err := d.request(pkt, data)
	return err
}

func (d *Display) ClearImage(page uint32) error {
	pkt := newPacket(requestClearImage)
	pkt.Page = page
	_, _, err := d.request(pkt, nil)
	return err
}

func (d *Display) SaveFile(page, file uint32, data []byte) (directoutput.RequestStatus, error) {
	pkt := newPacket(requestSaveFile)
	pkt.Param1 = page
	pkt.Param3 = file
	pkt.DataSize = uint32(len(data))
	resp, _, err := d.request(pkt, data)
	return resp.status(), err
}

func (d *Display) DisplayFile(page, index, file uint32) (directoutput.RequestStatus, error) {
	pkt := newPacket(requestSetImageFile)
	pkt.Param1 = page
	pkt.Param2 = index
	pkt.Param3 = file
	resp, _, err := d.request(pkt, nil)
	return resp.status(), err
}

func (d *Display) DeleteFile(page, file uint32) (directoutput.RequestStatus, error) {
	pkt := newPacket(requestDeleteFile)
	pkt.Param1 = page
	pkt.Param3 = file
	resp, _, err := d.request(pkt, nil)
	return resp.status(), err
}

func (d *Display) StartServer(filename string) (uint32, directoutput.RequestStatus, error) {
	pkt := newPacket(requestStartServer)
	payload := []byte(filename)
	pkt.DataSize = uint32(len(payload))
	resp, _, err := d.request(pkt, payload)
	return resp.ServerID, resp.status(), err
}

func (d *Display) CloseServer(serverID uint32) (directoutput.RequestStatus, error) {
	pkt := newPacket(requestFolderRemoved)
	pkt.ServerID = serverID
	resp, _, err := d.request(pkt, nil)
	return resp.status(), err
}

func (d *Display) SendServerMsg(serverID, request, page uint32, in, out []byte) (directoutput.RequestStatus, error) {
	pkt := newPacket(request)
	pkt.ServerID = serverID
	pkt.Page = page
	pkt.DataSize = uint32(len(in))
	resp, data, err := d.transact(pkt, in)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	copy(out, data)
	return resp.status(), nil
}

func (d *Display) SendServerFile(serverID, request, page uint32, header []byte, filename string, out []byte) (directoutput.RequestStatus, error) {
	pkt := newPacket(request)
	pkt.ServerID = serverID
	pkt.Page = page
	pkt.Param1 = uint32(len(header))
	payload := append(append([]byte(nil), header...), []byte(filename)...)
	pkt.DataSize = uint32(len(payload))
	resp, data, err := d.transact(pkt, payload)
	if err != nil {
		return directoutput.RequestStatus{}, err
	}
	copy(out, data)
	return resp.status(), nil
}

func (d *Display) Buttons() <-chan uint32 { return d.buttons }

func (d *Display) Close() error {
	d.closeOnce.Do(func() {
		d.ready.Store(false)
		close(d.closed)
		d.mu.Lock()
		if d.dev != nil {
			d.dev.Close()
		}
		d.mu.Unlock()
	})
	return nil
}
