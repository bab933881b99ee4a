package fipusb

import (
	"encoding/binary"
	"fmt"

	"github.com/leenr/directoutput-libusb/pkg/directoutput"
)

// Vendor request codes carried in the control packet's request field.
const (
	requestFolderRemoved uint32 = 0x02
	requestSaveFile      uint32 = 0x03
	requestSetImageFile  uint32 = 0x04 // also selects a stored file for display
	requestSetImage      uint32 = 0x06
	requestDeleteFile    uint32 = 0x07
	requestStartServer   uint32 = 0x09
	requestFactoryProbe  uint32 = 0x0A
	requestClearImage    uint32 = 0x13
	requestSetLed        uint32 = 0x18
)

// packetSize is the fixed length of the control packet: eleven big-endian
// 32-bit fields.
const packetSize = 44

// controlPacket is the framing the panel speaks on its vendor bulk
// endpoints. Every transaction writes one, optionally followed by a data
// payload of DataSize bytes, and reads one back the same way.
type controlPacket struct {
	ServerID     uint32
	Page         uint32
	DataSize     uint32
	HeaderError  uint32
	HeaderInfo   uint32
	Request      uint32
	Param1       uint32
	Param2       uint32
	Param3       uint32
	RequestError uint32
	RequestInfo  uint32
}

func (p *controlPacket) encode() []byte {
	buf := make([]byte, packetSize)
	be := binary.BigEndian
	be.PutUint32(buf[0:], p.ServerID)
	be.PutUint32(buf[4:], p.Page)
	be.PutUint32(buf[8:], p.DataSize)
	be.PutUint32(buf[12:], p.HeaderError)
	be.PutUint32(buf[16:], p.HeaderInfo)
	be.PutUint32(buf[20:], p.Request)
	be.PutUint32(buf[24:], p.Param1)
	be.PutUint32(buf[28:], p.Param2)
	be.PutUint32(buf[32:], p.Param3)
	be.PutUint32(buf[36:], p.RequestError)
	be.PutUint32(buf[40:], p.RequestInfo)
	return buf
}

func decodePacket(buf []byte) (controlPacket, error) {
	if len(buf) < packetSize {
		return controlPacket{}, fmt.Errorf("short control packet: %d bytes", len(buf))
	}
	be := binary.BigEndian
	return controlPacket{
		ServerID:     be.Uint32(buf[0:]),
		Page:         be.Uint32(buf[4:]),
		DataSize:     be.Uint32(buf[8:]),
		HeaderError:  be.Uint32(buf[12:]),
		HeaderInfo:   be.Uint32(buf[16:]),
		Request:      be.Uint32(buf[20:]),
		Param1:       be.Uint32(buf[24:]),
		Param2:       be.Uint32(buf[28:]),
		Param3:       be.Uint32(buf[32:]),
		RequestError: be.Uint32(buf[36:]),
		RequestInfo:  be.Uint32(buf[40:]),
	}, nil
}

func (p *controlPacket) hasError() bool {
	return p.HeaderError != 0 || p.RequestError != 0
}

func (p *controlPacket) status() directoutput.RequestStatus {
	return directoutput.RequestStatus{
		HeaderError:  p.HeaderError,
		HeaderInfo:   p.HeaderInfo,
		RequestError: p.RequestError,
		RequestInfo:  p.RequestInfo,
	}
}

func newPacket(request uint32) controlPacket {
	return controlPacket{Request: request}
}
