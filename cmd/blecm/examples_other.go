//go:build !darwin

package main

const (
	exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"
	deviceAddressNote    = "Device address format: MAC address, e.g. AA:BB:CC:DD:EE:FF\n  Use --simulate to try commands without hardware"
)
