package device

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Property is a characteristic property/permission bitmask. The low byte
// carries the GATT property bits (same values as ble.Property); the high
// byte carries access permissions for locally served characteristics.
type Property uint16

const (
	PropBroadcast   = Property(ble.CharBroadcast)
	PropRead        = Property(ble.CharRead)
	PropWriteNoRsp  = Property(ble.CharWriteNR)
	PropWrite       = Property(ble.CharWrite)
	PropNotify      = Property(ble.CharNotify)
	PropIndicate    = Property(ble.CharIndicate)
	PropSignedWrite = Property(ble.CharSignedWrite)
	PropExtended    = Property(ble.CharExtended)

	PermReadEncrypted  Property = 0x0100
	PermReadAuthen     Property = 0x0200
	PermWriteEncrypted Property = 0x0400
	PermWriteAuthen    Property = 0x0800
	propertyMask       Property = 0x00FF
	permissionMask     Property = 0x0F00
)

var propertyNames = []struct {
	bit  Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteNoRsp, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signed-write"},
	{PropExtended, "extended"},
	{PermReadEncrypted, "read-encrypted"},
	{PermReadAuthen, "read-authenticated"},
	{PermWriteEncrypted, "write-encrypted"},
	{PermWriteAuthen, "write-authenticated"},
}

// Has reports whether every bit of flag is set
func (p Property) Has(flag Property) bool {
	return p&flag == flag
}

// CanSubscribe reports whether the characteristic notifies or indicates
func (p Property) CanSubscribe() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// BLE returns the GATT property byte in go-ble form
func (p Property) BLE() ble.Property {
	return ble.Property(p & propertyMask)
}

// Permissions returns only the permission bits
func (p Property) Permissions() Property {
	return p & permissionMask
}

// String renders the property as a comma-separated list, e.g. "read,write,notify"
func (p Property) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma-separated property list ("read,write,notify")
func ParseProperties(s string) (Property, error) {
	var p Property
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if name == "write-nr" || name == "writenr" {
			name = "write-without-response"
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == name {
				p |= pn.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown property %q: %w", name, ErrInvalidArgument)
		}
	}
	return p, nil
}
