package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/groutine"
	"github.com/srg/blecm/internal/l2cap"
	"github.com/srg/blecm/internal/session"
	"github.com/srg/blecm/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advertise and serve the configured GATT services",
	Long: `Runs as a peripheral: registers the services from --config, advertises,
and prints every connection, write and subscription until interrupted.
Without configured services a Battery service is served.

Examples:
  # Serve services from a file
  blecm serve --config device.yaml

  # Re-send current values to subscribers every second
  blecm serve --heartbeat 1s

  # Echo L2CAP CoC traffic on PSM 0x80
  blecm serve --coc-psm 0x80

  # Watch a simulated client connect and subscribe
  blecm serve --simulate --duration 2s`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveName      string
	serveDuration  time.Duration
	serveHeartbeat time.Duration
	serveCocPSM    uint16
	serveCocMTU    uint16
)

func init() {
	serveCmd.Flags().StringVar(&serveName, "name", "", "Advertised device name (overrides device_name)")
	serveCmd.Flags().DurationVar(&serveDuration, "duration", 0, "Stop after this long (0: until interrupted)")
	serveCmd.Flags().DurationVar(&serveHeartbeat, "heartbeat", 0, "Re-send current values to subscribers at this interval")
	serveCmd.Flags().Uint16Var(&serveCocPSM, "coc-psm", 0, "Run an L2CAP CoC echo server on this PSM")
	serveCmd.Flags().Uint16Var(&serveCocMTU, "coc-mtu", 512, "MTU of the CoC echo server")
}

// defaultServices is served when the configuration has none
func defaultServices() []config.ServiceConfig {
	return []config.ServiceConfig{{
		UUID: "180f",
		Characteristics: []config.CharacteristicConfig{
			{Name: "battery_level", UUID: "2a19", Properties: "read,notify", Value: "64"},
		},
	}}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveDuration < 0 || serveHeartbeat < 0 {
		return device.InvalidArgf("--duration and --heartbeat must not be negative")
	}
	cmd.SilenceUsage = true

	rt, err := openRuntime(cmd, device.RolePeripheral, "", func(cfg *config.Config) {
		if serveName != "" {
			cfg.DeviceName = serveName
		}
		if len(cfg.Services) == 0 {
			cfg.Services = defaultServices()
		}
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	// released by rt.Close after the stopped event is printed
	out := newPrinter(cmd.OutOrStdout())
	rt.bus.SubscribeAll(out.Event)
	if err := rt.Start(); err != nil {
		return err
	}

	if serveCocPSM != 0 {
		if err := startEchoServer(rt, out); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if serveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, serveDuration)
		defer cancel()
	}

	if serveHeartbeat > 0 {
		done := make(chan struct{})
		groutine.Go(ctx, "heartbeat", func(ctx context.Context) {
			defer close(done)
			heartbeat(ctx, rt, serveHeartbeat)
		})
		defer func() { <-done }()
	}

	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return context.Canceled
}

// heartbeat re-sends the current value of every notifying characteristic.
// Characteristics nobody subscribed to are skipped quietly.
func heartbeat(ctx context.Context, rt *runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		defs, err := rt.session.LocalServices()
		if err != nil {
			return
		}
		for _, svc := range defs {
			for _, c := range svc.Characteristics {
				if !c.Properties.CanSubscribe() {
					continue
				}
				key := session.ServiceKey(svc.UUID, c.UUID)
				value, err := rt.session.Read(ctx, key)
				if err != nil {
					continue
				}
				err = rt.session.Notify(ctx, key, value)
				switch {
				case err == nil, ctx.Err() != nil:
				case errors.Is(err, device.ErrInvalidState), errors.Is(err, device.ErrNotConnected):
				default:
					rt.logger.WithError(err).WithField("uuid", c.UUID.String()).Warn("Heartbeat notification failed")
				}
			}
		}
	}
}

// startEchoServer accepts CoC channels on --coc-psm and sends every SDU back
func startEchoServer(rt *runtime, out *printer) error {
	mgr := rt.session.L2CAP()
	sduSize := rt.cfg.L2CAP.SDUBufferSize

	cb := func(ev *l2cap.Event) error {
		log := rt.logger.WithFields(logrus.Fields{"event": ev.Type.String(), "conn": ev.ConnHandle})
		switch ev.Type {
		case device.CocAccept:
			out.Printf("[coc] accept psm=0x%02x\n", ev.Chan.PSM())
			return mgr.Accept(ev.Chan, sduSize)
		case device.CocDataReceived:
			out.Printf("[coc] rx %d bytes\n", len(ev.SDU))
			if err := mgr.Send(ev.Chan, ev.SDU); err != nil {
				log.WithError(err).Warn("CoC echo failed")
			} else {
				out.Printf("[coc] echo %d bytes\n", len(ev.SDU))
			}
			if err := mgr.RecvReady(ev.Chan, sduSize); err != nil {
				log.WithError(err).Warn("CoC receive buffer not posted")
			}
		case device.CocDisconnected:
			out.Printf("[coc] disconnected\n")
		}
		return nil
	}
	if err := mgr.CreateServer(serveCocPSM, serveCocMTU, cb, nil); err != nil {
		return fmt.Errorf("failed to start CoC server on psm 0x%02x: %w", serveCocPSM, err)
	}
	return nil
}
