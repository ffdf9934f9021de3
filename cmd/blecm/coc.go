package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/l2cap"
)

// cocCmd represents the coc command
var cocCmd = &cobra.Command{
	Use:   "coc <device-address>",
	Short: "Exchange SDUs with a peer over an L2CAP CoC channel",
	Long: fmt.Sprintf(`Connects to a peer, opens an L2CAP connection-oriented channel and
sends every stdin line as one SDU. Received SDUs are printed as hex.
The channel closes at end of input.

Examples:
  # Talk to PSM 0x80
  echo hello | blecm coc %s --psm 0x80

  # Against the simulated peer
  printf 'ping\npong\n' | blecm coc %s --simulate

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runCoc,
}

var (
	cocPSM  uint16
	cocMTU  uint16
	cocWait time.Duration
)

const cocEventQueue = 32

func init() {
	cocCmd.Flags().Uint16Var(&cocPSM, "psm", simCocPSM, "Protocol/service multiplexer of the peer's server")
	cocCmd.Flags().Uint16Var(&cocMTU, "mtu", 512, "Local channel MTU")
	cocCmd.Flags().DurationVar(&cocWait, "wait", time.Second, "How long to wait for channel setup and teardown")
}

func runCoc(cmd *cobra.Command, args []string) error {
	address := args[0]
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Opening psm 0x%02x on %s", cocPSM, address), "Connecting")
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
	conn, err := rt.session.ConnHandle()
	if err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout())
	mgr := rt.session.L2CAP()
	sduSize := rt.cfg.L2CAP.SDUBufferSize

	// callbacks run on the host goroutine and must not block
	events := make(chan l2cap.Event, cocEventQueue)
	cb := func(ev *l2cap.Event) error {
		if ev.Type == device.CocDataReceived {
			out.Printf("<- %s\n", hex.EncodeToString(ev.SDU))
			if err := mgr.RecvReady(ev.Chan, sduSize); err != nil {
				rt.logger.WithError(err).Warn("CoC receive buffer not posted")
			}
			return nil
		}
		select {
		case events <- *ev:
		default:
			rt.logger.WithField("event", ev.Type.String()).Warn("CoC event dropped")
		}
		return nil
	}

	if err := mgr.Connect(conn, cocPSM, cocMTU, sduSize, cb, nil); err != nil {
		return err
	}
	ev, err := waitCocEvent(ctx, events, device.CocConnected)
	if err != nil {
		return err
	}
	if ev.Status != 0 {
		return device.StatusError(fmt.Sprintf("coc connect psm 0x%02x", cocPSM), ev.Status)
	}
	ch := ev.Chan
	progress.Stop()
	out.Printf("Channel open psm=0x%02x mtu=%d\n", ch.PSM(), ch.MTU())

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if err := sendSDU(ctx, mgr, ch, events, scanner.Bytes()); err != nil {
			return err
		}
		out.Printf("-> %d bytes\n", len(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	if err := mgr.Disconnect(ch); err != nil {
		return err
	}
	if _, err := waitCocEvent(ctx, events, device.CocDisconnected); err != nil {
		rt.logger.WithError(err).Debug("CoC disconnect not confirmed")
	}
	out.Printf("Channel closed\n")
	return nil
}

// sendSDU sends one SDU, waiting out a credit stall
func sendSDU(ctx context.Context, mgr *l2cap.Manager, ch *l2cap.Channel, events <-chan l2cap.Event, sdu []byte) error {
	for {
		err := mgr.Send(ch, sdu)
		if !errors.Is(err, device.ErrNotFinished) {
			return err
		}
		if _, err := waitCocEvent(ctx, events, device.CocTxUnstalled); err != nil {
			return fmt.Errorf("channel stalled: %w", err)
		}
	}
}

// waitCocEvent returns the next event of type want. A disconnect while
// waiting for anything else means the channel is gone.
func waitCocEvent(ctx context.Context, events <-chan l2cap.Event, want device.CocEventType) (l2cap.Event, error) {
	timer := time.NewTimer(cocWait)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev, nil
			}
			if ev.Type == device.CocDisconnected {
				return ev, ErrConnectionLost
			}
		case <-timer.C:
			return l2cap.Event{}, fmt.Errorf("coc %s after %s: %w", want, cocWait, device.ErrTimeout)
		case <-ctx.Done():
			return l2cap.Event{}, context.Canceled
		}
	}
}
