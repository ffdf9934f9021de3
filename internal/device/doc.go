// Package device defines the vocabulary shared by the session layer and the
// BLE host stack it drives.
//
// This package provides:
//   - Type-tagged Bluetooth UUIDs (16/32/128-bit) with go-ble conversion
//   - Attribute handle ranges and L2CAP parameter validation
//   - Characteristic property/permission bitmasks
//   - The Host boundary (GAP, GATT client/server, L2CAP CoC) and its events
//   - The error taxonomy used by every other package
package device
