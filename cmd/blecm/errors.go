package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecm/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost means the link dropped while a command was using it.
	// device.ErrNotConnected is for links that were never up.
	ErrConnectionLost = errors.New("connection lost")
)

var userHints = []struct {
	target error
	hint   string
}{
	{device.ErrTimeout, "the peer did not answer in time; check that it is in range and powered"},
	{device.ErrNotFound, "run 'blecm discover' to list what the peer offers"},
	{device.ErrNotSupported, "the host or the peer does not support this operation"},
	{device.ErrNotConnected, "the peer is not connected"},
	{ErrConnectionLost, "the peer went away; try again"},
}

// FormatUserError renders err with a hint for the common failure classes
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	for _, h := range userHints {
		if errors.Is(err, h.target) {
			return fmt.Sprintf("%v (%s)", err, h.hint)
		}
	}
	return err.Error()
}
