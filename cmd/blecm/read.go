package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <uuid|0xHANDLE>",
	Short: "Read a characteristic or descriptor value",
	Long: fmt.Sprintf(`Reads a value from a connected peer.

Examples:
  # Read Battery Level
  blecm read %s 2a19

  # Read with service disambiguation, as hex
  blecm read %s 2a19 --service 180f --hex

  # Read the User Description descriptor of Battery Level
  blecm read %s 2a19 --desc 2901

  # Poll every 500ms, five times
  blecm read %s 2a19 --watch 500ms --count 5

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readDescUUID    string
	readHex         bool
	readWatch       time.Duration
	readCount       int
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	readCmd.Flags().StringVar(&readDescUUID, "desc", "", "Descriptor UUID (reads descriptor instead of characteristic)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Always output hex; printable values are shown as text by default")
	readCmd.Flags().DurationVar(&readWatch, "watch", 0, "Read repeatedly at this interval until interrupted")
	readCmd.Flags().IntVar(&readCount, "count", 0, "Stop watching after this many reads (0: until interrupted)")
}

func runRead(cmd *cobra.Command, args []string) error {
	address, target := args[0], args[1]
	if readWatch < 0 || readCount < 0 {
		return device.InvalidArgf("--watch and --count must not be negative")
	}
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Reading %s from %s", target, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	rt, err := startRuntime(cmd, device.RoleCentral, address, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := rt.session.Connect(ctx, address); err != nil {
		return err
	}
	key, err := resolveTarget(rt.session, target, readServiceUUID, readDescUUID)
	if err != nil {
		return err
	}
	progress.Stop()

	out := newPrinter(cmd.OutOrStdout())
	readOnce := func() error {
		data, err := rt.session.Read(ctx, key)
		if err != nil {
			return err
		}
		out.Printf("%s\n", formatValue(data, readHex))
		return nil
	}

	if readWatch == 0 {
		return readOnce()
	}

	ticker := time.NewTicker(readWatch)
	defer ticker.Stop()
	for n := 1; ; n++ {
		if err := readOnce(); err != nil {
			return err
		}
		if readCount > 0 && n >= readCount {
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
		}
	}
}
