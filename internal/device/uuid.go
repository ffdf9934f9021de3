package device

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
)

// UUIDKind tags the width of a Bluetooth UUID
type UUIDKind uint8

const (
	UUIDInvalid UUIDKind = 0
	UUIDKind16  UUIDKind = 16
	UUIDKind32  UUIDKind = 32
	UUIDKind128 UUIDKind = 128
)

// sigBase is the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb
var sigBase = [16]byte{0, 0, 0, 0, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb}

// UUID is a type-tagged Bluetooth UUID (16, 32 or 128 bits).
// Two UUIDs are equal only when both the kind and the value match: a 16-bit
// UUID never equals its 128-bit SIG-base expansion.
type UUID struct {
	kind UUIDKind
	v32  uint32   // 16 and 32-bit values
	v128 [16]byte // big-endian, as printed
}

// UUID16 returns a 16-bit UUID
func UUID16(v uint16) UUID {
	return UUID{kind: UUIDKind16, v32: uint32(v)}
}

// UUID32 returns a 32-bit UUID
func UUID32(v uint32) UUID {
	return UUID{kind: UUIDKind32, v32: v}
}

// UUID128 returns a 128-bit UUID from its big-endian bytes
func UUID128(b [16]byte) UUID {
	return UUID{kind: UUIDKind128, v128: b}
}

// Kind returns the UUID width tag
func (u UUID) Kind() UUIDKind {
	return u.kind
}

// IsValid reports whether u was constructed (zero value is invalid)
func (u UUID) IsValid() bool {
	return u.kind != UUIDInvalid
}

// Equal matches same-kind pairs only
func (u UUID) Equal(o UUID) bool {
	if u.kind != o.kind {
		return false
	}
	switch u.kind {
	case UUIDKind16, UUIDKind32:
		return u.v32 == o.v32
	case UUIDKind128:
		return u.v128 == o.v128
	default:
		return true
	}
}

// Uint16 returns the value of a 16-bit UUID
func (u UUID) Uint16() (uint16, bool) {
	if u.kind != UUIDKind16 {
		return 0, false
	}
	return uint16(u.v32), true
}

// Expand returns the 128-bit form of u (SIG base for 16/32-bit UUIDs)
func (u UUID) Expand() [16]byte {
	if u.kind == UUIDKind128 {
		return u.v128
	}
	b := sigBase
	binary.BigEndian.PutUint32(b[0:4], u.v32)
	return b
}

// String returns the normalized form: 4 hex digits for 16-bit, 8 for 32-bit
// and the dashed lowercase form for 128-bit UUIDs.
func (u UUID) String() string {
	switch u.kind {
	case UUIDKind16:
		return fmt.Sprintf("%04x", u.v32)
	case UUIDKind32:
		return fmt.Sprintf("%08x", u.v32)
	case UUIDKind128:
		return uuid.UUID(u.v128).String()
	default:
		return "<invalid>"
	}
}

// Key returns a string that is unique per (kind, value) pair, suitable as a map key
func (u UUID) Key() string {
	return strconv.Itoa(int(u.kind)) + ":" + u.String()
}

// BLE converts u into the go-ble representation (little-endian bytes)
func (u UUID) BLE() ble.UUID {
	switch u.kind {
	case UUIDKind16:
		return ble.UUID16(uint16(u.v32))
	case UUIDKind32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, u.v32)
		return ble.UUID(b)
	case UUIDKind128:
		b := make([]byte, 16)
		for i := range u.v128 {
			b[15-i] = u.v128[i]
		}
		return ble.UUID(b)
	default:
		return nil
	}
}

// FromBLE converts a go-ble UUID, keeping its width
func FromBLE(b ble.UUID) (UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return UUID32(binary.LittleEndian.Uint32(b)), nil
	case 16:
		var v [16]byte
		for i := range v {
			v[i] = b[15-i]
		}
		return UUID128(v), nil
	default:
		return UUID{}, InvalidArgf("uuid of %d bytes", len(b))
	}
}

// ParseUUID parses "abf1", "0xABF1", "0000abcd" or a dashed/undashed 128-bit UUID.
// A 128-bit UUID built on the SIG base is shortened to its 16 or 32-bit form.
func ParseUUID(s string) (UUID, error) {
	str := strings.ToLower(strings.TrimSpace(s))
	str = strings.TrimPrefix(str, "0x")
	if str == "" {
		return UUID{}, InvalidArgf("empty uuid")
	}

	switch len(str) {
	case 4:
		v, err := strconv.ParseUint(str, 16, 16)
		if err != nil {
			return UUID{}, InvalidArgf("invalid 16-bit uuid %q", s)
		}
		return UUID16(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(str, 16, 32)
		if err != nil {
			return UUID{}, InvalidArgf("invalid 32-bit uuid %q", s)
		}
		return UUID32(uint32(v)), nil
	}

	parsed, err := uuid.Parse(str)
	if err != nil {
		return UUID{}, InvalidArgf("invalid uuid %q", s)
	}
	v := [16]byte(parsed)
	if [12]byte(v[4:]) == [12]byte(sigBase[4:]) {
		short := binary.BigEndian.Uint32(v[0:4])
		if short <= 0xFFFF {
			return UUID16(uint16(short)), nil
		}
		return UUID32(short), nil
	}
	return UUID128(v), nil
}

// MustParseUUID is ParseUUID that panics on error
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(u UUID) string {
	s := u.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
