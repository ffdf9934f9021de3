package device

import "fmt"

// Attribute handle and L2CAP parameter limits
const (
	MinHandle uint16 = 0x0001
	MaxHandle uint16 = 0xFFFF

	NoConnection       uint16 = 0x0000
	MinConnHandle      uint16 = 0x0001
	MaxConnHandle      uint16 = 0x0EFF
	DefaultATTMTU      uint16 = 23
	MaxATTMTU          uint16 = 517
	MinPSM             uint16 = 0x0001
	MaxPSM             uint16 = 0x00FF
	MinCocMTU          uint16 = 23
	MaxCocMTU          uint16 = 512
	MinSDUSize                = 23
	MaxSDUSize                = 65535
	ClientConfigUUID16        = 0x2902
)

// ClientConfigUUID is the Client Characteristic Configuration descriptor
var ClientConfigUUID = UUID16(ClientConfigUUID16)

// HandleRange is an inclusive attribute handle range
type HandleRange struct {
	Start uint16
	End   uint16
}

// Valid reports whether the range is well-formed (Start <= End, no null handle)
func (r HandleRange) Valid() bool {
	return r.Start >= MinHandle && r.Start <= r.End
}

// Empty reports whether the range holds only its first handle
func (r HandleRange) Empty() bool {
	return r.End <= r.Start
}

// Contains reports whether h lies within the range
func (r HandleRange) Contains(h uint16) bool {
	return h >= r.Start && h <= r.End
}

func (r HandleRange) String() string {
	return fmt.Sprintf("0x%04x..0x%04x", r.Start, r.End)
}

// InRange reports whether lo <= v <= hi
func InRange[T ~int | ~uint16 | ~uint32](v, lo, hi T) bool {
	return v >= lo && v <= hi
}

// ValidateConnHandle checks a connection handle against the controller range
func ValidateConnHandle(h uint16) error {
	if !InRange(h, MinConnHandle, MaxConnHandle) {
		return InvalidArgf("conn handle 0x%04x outside [0x%04x,0x%04x]", h, MinConnHandle, MaxConnHandle)
	}
	return nil
}

// ValidatePSM checks an LE PSM against the dynamic/fixed LE range
func ValidatePSM(psm uint16) error {
	if !InRange(psm, MinPSM, MaxPSM) {
		return InvalidArgf("psm 0x%04x outside [0x%04x,0x%04x]", psm, MinPSM, MaxPSM)
	}
	return nil
}

// ValidateCocMTU checks a CoC MTU
func ValidateCocMTU(mtu uint16) error {
	if !InRange(mtu, MinCocMTU, MaxCocMTU) {
		return InvalidArgf("mtu %d outside [%d,%d]", mtu, MinCocMTU, MaxCocMTU)
	}
	return nil
}

// ValidateSDUSize checks a CoC SDU size
func ValidateSDUSize(size int) error {
	if !InRange(size, MinSDUSize, MaxSDUSize) {
		return InvalidArgf("sdu size %d outside [%d,%d]", size, MinSDUSize, MaxSDUSize)
	}
	return nil
}
