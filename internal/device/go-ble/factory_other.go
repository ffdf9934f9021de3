//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/blecm/internal/device"
)

// DeviceFactory reports that the platform has no go-ble backend
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("no BLE backend for %s: %w", runtime.GOOS, device.ErrNotSupported)
}
