package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blecm/internal/device"
)

// Host statuses reported for failures go-ble does not express as ATT errors
const (
	statusInvalidHandle = int(ble.ErrInvalidHandle)
	statusAttrNotFound  = int(ble.ErrAttrNotFound)
	statusUnlikely      = int(ble.ErrUnlikely)
	statusConnectFailed = 0x3E
	bluetoothOffMessage = "central manager has invalid state: have=4 want=5: is Bluetooth turned on?"
)

// ErrBluetoothOff is returned when the adapter is powered down
var ErrBluetoothOff = fmt.Errorf("bluetooth is turned off: %w", device.ErrNotSupported)

// NormalizeError maps known go-ble error strings onto the device error
// taxonomy. It keeps the original message so logs stay useful.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == bluetoothOffMessage, containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", device.ErrNotInitialized, err)
	default:
		return device.NormalizeError(err)
	}
}

// statusOf turns a go-ble error into a host status: the ATT error code when
// there is one, "unlikely error" otherwise
func statusOf(err error) int {
	if err == nil {
		return 0
	}
	var att ble.ATTError
	if errors.As(err, &att) && att != 0 {
		return int(att)
	}
	return statusUnlikely
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
