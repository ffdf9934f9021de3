package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/eventbus"
	"github.com/srg/blecm/internal/session"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <uuid>",
	Short: "Print notifications or indications of a characteristic",
	Long: fmt.Sprintf(`Enables notifications (or indications) on a characteristic and prints
every value the peer pushes until interrupted.

Examples:
  # Follow Battery Level
  blecm subscribe %s 2a19

  # Use indications, stop after ten seconds
  blecm subscribe %s 2a19 --indicate --duration 10s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

var (
	subscribeServiceUUID string
	subscribeIndicate    bool
	subscribeDuration    time.Duration
)

func init() {
	subscribeCmd.Flags().StringVar(&subscribeServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	subscribeCmd.Flags().BoolVar(&subscribeIndicate, "indicate", false, "Ask for indications instead of notifications")
	subscribeCmd.Flags().DurationVar(&subscribeDuration, "duration", 0, "Stop after this long (0: until interrupted)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address, target := args[0], args[1]
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Subscribing to %s on %s", target, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	rt, err := startRuntime(cmd, device.RoleCentral, address, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if subscribeDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, subscribeDuration)
		defer cancel()
	}

	if err := rt.session.Connect(ctx, address); err != nil {
		return err
	}
	key, err := resolveTarget(rt.session, target, subscribeServiceUUID, "")
	if err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout())
	lost := make(chan struct{})
	var lostOnce sync.Once
	defer rt.bus.Subscribe(session.TopicDataReceive, out.Event)()
	defer rt.bus.Subscribe(session.TopicDisconnected, func(eventbus.Event) {
		lostOnce.Do(func() { close(lost) })
	})()

	var cccd []byte
	if subscribeIndicate {
		cccd = device.ClientConfig{Indications: true}.Bytes()
	}
	if err := rt.session.Subscribe(ctx, key, cccd); err != nil {
		return err
	}
	progress.Stop()

	select {
	case <-lost:
		return ErrConnectionLost
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return context.Canceled
	}
}
