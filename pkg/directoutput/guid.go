package directoutput

import (
	"fmt"

	"github.com/google/uuid"
)

// GUID uses the Windows field layout: the first three groups are native
// integers, the trailing eight bytes are stored as-is.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// Device type GUIDs reported by GetDeviceType.
var (
	// DeviceTypeFip identifies the Flight Instrument Panel. The panel has
	// no way to report its type; the value is fixed by the vendor SDK.
	DeviceTypeFip = MustParseGUID("3E083CD8-6A37-4A58-80A8-3D6A2C07513E")

	// DeviceTypeX52Pro identifies the X52 Pro multi-function display.
	DeviceTypeX52Pro = MustParseGUID("29DAD506-F93B-4F20-85FA-1E02C04FAC17")
)

// instance GUID namespace, used to derive stable per-unit GUIDs from serial
// numbers for devices that do not carry an instance GUID of their own.
var instanceNamespace = uuid.MustParse("8C7C9F14-33C4-4A5E-96F1-1A6F0E1C6D2B")

// ParseGUID parses the canonical textual form.
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, fmt.Errorf("parse guid: %w", err)
	}
	return guidFromUUID(u), nil
}

// MustParseGUID is ParseGUID for compile-time constants; it panics on
// malformed input.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// InstanceGUID derives a stable GUID for one physical unit from its device
// type and serial number.
func InstanceGUID(deviceType GUID, serial string) GUID {
	return guidFromUUID(uuid.NewSHA1(instanceNamespace, []byte(deviceType.String()+"/"+serial)))
}

func guidFromUUID(u uuid.UUID) GUID {
	var g GUID
	g.Data1 = uint32(u[0])<<24 | uint32(u[1])<<16 | uint32(u[2])<<8 | uint32(u[3])
	g.Data2 = uint16(u[4])<<8 | uint16(u[5])
	g.Data3 = uint16(u[6])<<8 | uint16(u[7])
	copy(g.Data4[:], u[8:])
	return g
}

func (g GUID) String() string {
	return fmt.Sprintf("%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		g.Data1, g.Data2, g.Data3,
		g.Data4[0], g.Data4[1],
		g.Data4[2], g.Data4[3], g.Data4[4], g.Data4[5], g.Data4[6], g.Data4[7])
}

// IsZero reports whether g is the all-zero GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}
