package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/session"
	"github.com/srg/blecm/internal/svcindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "boom"},
		{"timeout", fmt.Errorf("read: %w", device.ErrTimeout), "read: timeout (the peer did not answer in time; check that it is in range and powered)"},
		{"connection lost", ErrConnectionLost, "connection lost (the peer went away; try again)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}

	notFound := &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"2a37"}}
	assert.Contains(t, FormatUserError(notFound), "blecm discover", "not found MUST hint at discover")
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func(level string) *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().String("log-level", "", "")
		if level != "" {
			require.NoError(t, cmd.Flags().Set("log-level", level))
		}
		return cmd
	}

	logger, err := configureLogger(newCmd(""), "")
	require.NoError(t, err)
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel(), "no level MUST keep the logger silent")

	logger, err = configureLogger(newCmd(""), "warn")
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel(), "config level MUST apply without the flag")

	logger, err = configureLogger(newCmd("debug"), "warn")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel(), "flag MUST win over the config")

	_, err = configureLogger(newCmd("loud"), "")
	assert.ErrorContains(t, err, "invalid log level: loud")
}

func TestProgressPrinterSilentOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, "Reading", "Connecting")
	p.Start()
	p.SetPhase("Reading")
	p.Stop()
	p.Stop()
	assert.Empty(t, buf.String(), "non-terminal writers MUST get no progress output")

	// Stop before Start must not block
	NewProgressPrinter(&buf, "x", "y").Stop()
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "hello", formatValue([]byte("hello"), false))
	assert.Equal(t, "68656c6c6f", formatValue([]byte("hello"), true))
	assert.Equal(t, "0064", formatValue([]byte{0x00, 0x64}, false), "unprintable bytes MUST fall back to hex")
	assert.Equal(t, "", formatValue(nil, false))
}

func TestParseValue(t *testing.T) {
	data, err := parseValue("01 0a ff", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x0a, 0xff}, data)

	data, err = parseValue("01 0a", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("01 0a"), data)

	_, err = parseValue("0g", true)
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
}

func TestResolveTargetWithoutDescriptor(t *testing.T) {
	key, err := resolveTarget(nil, "0x001A", "", "")
	require.NoError(t, err)
	assert.Equal(t, session.HandleKey(0x1a), key)

	key, err = resolveTarget(nil, "2a19", "180f", "")
	require.NoError(t, err)
	assert.Equal(t, session.ServiceKey(device.UUID16(0x180F), device.UUID16(0x2A19)), key)

	key, err = resolveTarget(nil, "2a19", "", "")
	require.NoError(t, err)
	assert.Equal(t, session.UUIDKey(device.UUID16(0x2A19)), key)

	_, err = resolveTarget(nil, "0x0000", "", "")
	assert.ErrorIs(t, err, device.ErrInvalidArgument, "handle 0 MUST be rejected")

	_, err = resolveTarget(nil, "0x0003", "", "2902")
	assert.ErrorIs(t, err, device.ErrInvalidArgument, "--desc with a handle MUST be rejected")
}

func TestFindDescriptor(t *testing.T) {
	services := []svcindex.ServiceInfo{
		{UUID: "180f", Characteristics: []svcindex.CharacteristicInfo{
			{UUID: "2a19", Descriptors: []svcindex.DescriptorInfo{{UUID: "2902", Handle: 4}, {UUID: "2901", Handle: 5}}},
		}},
		{UUID: "ffe0", Characteristics: []svcindex.CharacteristicInfo{
			{UUID: "2a19", Descriptors: []svcindex.DescriptorInfo{{UUID: "2902", Handle: 9}}},
		}},
	}

	h, ok := findDescriptor(services, device.UUID{}, device.UUID16(0x2A19), device.UUID16(0x2901))
	assert.True(t, ok)
	assert.Equal(t, uint16(5), h)

	h, ok = findDescriptor(services, device.UUID16(0xFFE0), device.UUID16(0x2A19), device.ClientConfigUUID)
	assert.True(t, ok)
	assert.Equal(t, uint16(9), h, "service scope MUST select the second characteristic")

	_, ok = findDescriptor(services, device.UUID16(0xFFE0), device.UUID16(0x2A19), device.UUID16(0x2901))
	assert.False(t, ok)
}
