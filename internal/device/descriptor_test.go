package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDescriptor(t *testing.T) {
	tests := []struct {
		name     string
		uuid     UUID
		data     []byte
		expected any
		wantErr  bool
	}{
		{name: "cccd notify", uuid: ClientConfigUUID, data: []byte{0x01, 0x00}, expected: ClientConfig{Notifications: true}},
		{name: "cccd both", uuid: ClientConfigUUID, data: []byte{0x03, 0x00}, expected: ClientConfig{Notifications: true, Indications: true}},
		{name: "cccd short", uuid: ClientConfigUUID, data: []byte{0x01}, wantErr: true},
		{name: "extended properties", uuid: ExtendedPropertiesUUID, data: []byte{0x02, 0x00}, expected: ExtendedProperties{WritableAuxiliaries: true}},
		{name: "server config", uuid: ServerConfigUUID, data: []byte{0x01, 0x00}, expected: ServerConfig{Broadcasts: true}},
		{name: "user description", uuid: UserDescriptionUUID, data: []byte("Battery\x00"), expected: "Battery"},
		{name: "invalid utf-8", uuid: UserDescriptionUUID, data: []byte{0xff, 0xfe}, wantErr: true},
		{
			name:     "presentation format",
			uuid:     PresentationFormatUUID,
			data:     []byte{0x04, 0xFE, 0xAD, 0x27, 0x01, 0x00, 0x00},
			expected: PresentationFormat{Format: 0x04, Exponent: -2, Unit: 0x27AD, Namespace: 1},
		},
		{name: "valid range", uuid: ValidRangeUUID, data: []byte{0, 100}, expected: ValidRange{MinValue: []byte{0}, MaxValue: []byte{100}}},
		{name: "unknown stays raw", uuid: UUID16(0x2999), data: []byte{1, 2}, expected: []byte{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeDescriptor(tt.uuid, tt.data)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestClientConfigBytes(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x00}, ClientConfig{}.Bytes())
	assert.Equal(t, []byte{0x02, 0x00}, ClientConfig{Indications: true}.Bytes())

	cfg, err := ParseClientConfig(ClientConfig{Notifications: true}.Bytes())
	require.NoError(t, err)
	assert.True(t, cfg.Notifications)
}

func TestDescribeDescriptor(t *testing.T) {
	assert.Equal(t, `"Level"`, DescribeDescriptor(UserDescriptionUUID, []byte("Level")))
	assert.Equal(t, "{Notifications:true Indications:false}", DescribeDescriptor(ClientConfigUUID, []byte{1, 0}))
	assert.Equal(t, "01 02", DescribeDescriptor(UUID16(0x2999), []byte{1, 2}))
}
