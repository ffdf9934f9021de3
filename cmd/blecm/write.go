package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <uuid|0xHANDLE> <value>",
	Short: "Write a characteristic or descriptor value",
	Long: fmt.Sprintf(`Writes a value to a connected peer, with response.

Examples:
  # Write text
  blecm write %s ffe1 "hello"

  # Write hex bytes
  blecm write %s ffe1 "01 02 0a" --hex

  # Enable notifications by writing the CCCD directly
  blecm write %s 2a19 0100 --desc 2902 --hex

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeDescUUID    string
	writeHex         bool
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	writeCmd.Flags().StringVar(&writeDescUUID, "desc", "", "Descriptor UUID (writes descriptor instead of characteristic)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Value is hex encoded (spaces allowed)")
}

// parseValue decodes a command-line value
func parseValue(s string, isHex bool) ([]byte, error) {
	if !isHex {
		return []byte(s), nil
	}
	data, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, device.InvalidArgf("value %q is not hex", s)
	}
	return data, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, target := args[0], args[1]
	value, err := parseValue(args[2], writeHex)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Writing %s on %s", target, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	rt, err := startRuntime(cmd, device.RoleCentral, address, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	if err := rt.session.Connect(ctx, address); err != nil {
		return err
	}
	key, err := resolveTarget(rt.session, target, writeServiceUUID, writeDescUUID)
	if err != nil {
		return err
	}
	if err := rt.session.Write(ctx, key, value); err != nil {
		return err
	}
	progress.Stop()

	newPrinter(cmd.OutOrStdout()).Printf("Wrote %d bytes to %s\n", len(value), key)
	return nil
}
