package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "blecm", cfg.DeviceName)
	assert.Equal(t, device.RolePeripheral, cfg.Role)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
	assert.Equal(t, uint16(247), cfg.PreferredMTU)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 8, cfg.LinkQueueSize)
	assert.Equal(t, "no_input_no_output", cfg.Security.IOCapability)
	assert.True(t, cfg.Security.SecureConnections)
	assert.True(t, cfg.L2CAP.Enabled)
	assert.Equal(t, 16, cfg.L2CAP.PoolSize)
	assert.Equal(t, 512, cfg.L2CAP.SDUBufferSize)
	assert.NoError(t, cfg.Validate(), "defaults MUST validate")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "error level", logLevel: "error", want: logrus.ErrorLevel},
		{name: "unparsable falls back to info", logLevel: "chatty", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.Level)

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok, "Logger MUST use TextFormatter")
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "overrides keep remaining defaults",
			yaml: "device_name: sensor\nrole: central\nrequest_timeout: 250ms\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sensor", cfg.DeviceName)
				assert.Equal(t, device.RoleCentral, cfg.Role)
				assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
				assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
			},
		},
		{
			name: "services with defaulted properties",
			yaml: `
services:
  - uuid: "abf0"
    characteristics:
      - name: data
        uuid: "abf1"
        properties: "read,write,notify"
        value: "01 02"
      - uuid: "abf2"
`,
			check: func(t *testing.T, cfg *Config) {
				defs, err := cfg.LocalServices()
				require.NoError(t, err)
				require.Len(t, defs, 1)
				require.Len(t, defs[0].Characteristics, 2)

				data := defs[0].Characteristics[0]
				assert.True(t, data.UUID.Equal(device.UUID16(0xABF1)))
				assert.True(t, data.Properties.Has(device.PropNotify))
				assert.Equal(t, []byte{1, 2}, data.Value)

				assert.Equal(t, device.PropRead, defs[0].Characteristics[1].Properties,
					"omitted properties MUST default to read")
			},
		},
		{name: "unknown role", yaml: "role: observer\n", wantErr: true},
		{name: "mtu below minimum", yaml: "preferred_mtu: 22\n", wantErr: true},
		{name: "mtu above maximum", yaml: "preferred_mtu: 518\n", wantErr: true},
		{name: "zero link queue", yaml: "link_queue_size: 0\n", wantErr: true},
		{name: "bad io capability", yaml: "security:\n  io_capability: telepathy\n", wantErr: true},
		{name: "bad l2cap sdu size", yaml: "l2cap:\n  sdu_buffer_size: 10\n", wantErr: true},
		{name: "disabled l2cap skips limits", yaml: "l2cap:\n  enabled: false\n  sdu_buffer_size: 10\n"},
		{name: "bad service uuid", yaml: "services:\n  - uuid: \"xyz\"\n", wantErr: true},
		{name: "bad hex value", yaml: "services:\n  - uuid: \"abf0\"\n    characteristics:\n      - uuid: \"abf1\"\n        value: \"zz\"\n", wantErr: true},
		{name: "malformed yaml", yaml: "role: [\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestParse_ValidationErrorsAreInvalidArgument(t *testing.T) {
	_, err := Parse([]byte("preferred_mtu: 1000\n"))
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blecm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
