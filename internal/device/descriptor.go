package device

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Well-known GATT descriptor UUIDs
var (
	ExtendedPropertiesUUID = UUID16(0x2900)
	UserDescriptionUUID    = UUID16(0x2901)
	ServerConfigUUID       = UUID16(0x2903)
	PresentationFormatUUID = UUID16(0x2904)
	ValidRangeUUID         = UUID16(0x2906)
)

// ExtendedProperties is the Characteristic Extended Properties descriptor (0x2900)
type ExtendedProperties struct {
	ReliableWrite       bool `json:"reliable_write"`
	WritableAuxiliaries bool `json:"writable_auxiliaries"`
}

// ClientConfig is the Client Characteristic Configuration descriptor (0x2902)
type ClientConfig struct {
	Notifications bool `json:"notifications"`
	Indications   bool `json:"indications"`
}

// Bytes encodes the configuration as the 2-byte little-endian CCCD value
func (c ClientConfig) Bytes() []byte {
	var v uint16
	if c.Notifications {
		v |= 0x0001
	}
	if c.Indications {
		v |= 0x0002
	}
	return binary.LittleEndian.AppendUint16(nil, v)
}

// ServerConfig is the Server Characteristic Configuration descriptor (0x2903)
type ServerConfig struct {
	Broadcasts bool `json:"broadcasts"`
}

// PresentationFormat is the Characteristic Presentation Format descriptor (0x2904)
type PresentationFormat struct {
	Format      uint8  `json:"format"`
	Exponent    int8   `json:"exponent"` // value = raw * 10^Exponent
	Unit        uint16 `json:"unit"`
	Namespace   uint8  `json:"namespace"`
	Description uint16 `json:"description"`
}

// ValidRange is the Valid Range descriptor (0x2906). The value format
// follows the characteristic, so the bytes are split evenly.
type ValidRange struct {
	MinValue []byte `json:"min"`
	MaxValue []byte `json:"max"`
}

func flags16(name string, data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, InvalidArgf("%s: expected 2 bytes, got %d", name, len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

// ParseClientConfig decodes a CCCD value: bit 0 notifications, bit 1 indications
func ParseClientConfig(data []byte) (ClientConfig, error) {
	v, err := flags16("client config", data)
	if err != nil {
		return ClientConfig{}, err
	}
	return ClientConfig{Notifications: v&0x0001 != 0, Indications: v&0x0002 != 0}, nil
}

// ParseUserDescription decodes a UTF-8, possibly NUL-terminated, description
func ParseUserDescription(data []byte) (string, error) {
	str := strings.TrimRight(string(data), "\x00")
	if !utf8.ValidString(str) {
		return "", InvalidArgf("user description is not valid UTF-8")
	}
	return str, nil
}

// ParsePresentationFormat decodes Format(1) Exponent(1) Unit(2) Namespace(1) Description(2)
func ParsePresentationFormat(data []byte) (PresentationFormat, error) {
	if len(data) != 7 {
		return PresentationFormat{}, InvalidArgf("presentation format: expected 7 bytes, got %d", len(data))
	}
	return PresentationFormat{
		Format:      data[0],
		Exponent:    int8(data[1]),
		Unit:        binary.LittleEndian.Uint16(data[2:4]),
		Namespace:   data[4],
		Description: binary.LittleEndian.Uint16(data[5:7]),
	}, nil
}

// DecodeDescriptor decodes a well-known descriptor value. Unknown UUIDs and
// empty values come back as the raw bytes.
func DecodeDescriptor(u UUID, data []byte) (any, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch {
	case u.Equal(ExtendedPropertiesUUID):
		v, err := flags16("extended properties", data)
		if err != nil {
			return nil, err
		}
		return ExtendedProperties{ReliableWrite: v&0x0001 != 0, WritableAuxiliaries: v&0x0002 != 0}, nil
	case u.Equal(UserDescriptionUUID):
		return ParseUserDescription(data)
	case u.Equal(ClientConfigUUID):
		return ParseClientConfig(data)
	case u.Equal(ServerConfigUUID):
		v, err := flags16("server config", data)
		if err != nil {
			return nil, err
		}
		return ServerConfig{Broadcasts: v&0x0001 != 0}, nil
	case u.Equal(PresentationFormatUUID):
		return ParsePresentationFormat(data)
	case u.Equal(ValidRangeUUID):
		if len(data) < 2 {
			return nil, InvalidArgf("valid range: expected at least 2 bytes, got %d", len(data))
		}
		mid := len(data) / 2
		return ValidRange{
			MinValue: append([]byte(nil), data[:mid]...),
			MaxValue: append([]byte(nil), data[mid:]...),
		}, nil
	default:
		return data, nil
	}
}

// DescribeDescriptor renders a decoded descriptor value for display
func DescribeDescriptor(u UUID, data []byte) string {
	v, err := DecodeDescriptor(u, data)
	if err != nil {
		return fmt.Sprintf("% x (%v)", data, err)
	}
	switch d := v.(type) {
	case []byte:
		return fmt.Sprintf("% x", d)
	case string:
		return fmt.Sprintf("%q", d)
	default:
		return fmt.Sprintf("%+v", d)
	}
}
