package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/session"
)

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover <device-address>",
	Short: "Connect to a peer and print its GATT database",
	Long: fmt.Sprintf(`Connects to a peer, discovers every service, characteristic and
descriptor in handle order, and prints the database.

Examples:
  # Print the database with decoded descriptor values
  blecm discover %s

  # Print the raw database as JSON
  blecm discover %s --json

  # Try it against the simulated peer
  blecm discover %s --simulate

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

var (
	discoverJSON        bool
	discoverDescriptors bool
)

func init() {
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Output the database as JSON")
	discoverCmd.Flags().BoolVar(&discoverDescriptors, "descriptors", true, "Read and decode descriptor values")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	address := args[0]
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Discovering "+address, "Connecting")
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
	services, err := rt.session.Services()
	if err != nil {
		return err
	}

	values := DescriptorValues{}
	if discoverDescriptors && !discoverJSON {
		progress.SetPhase("Reading descriptors")
		for _, svc := range services {
			for _, c := range svc.Characteristics {
				for _, d := range c.Descriptors {
					data, err := rt.session.Read(ctx, session.HandleKey(d.Handle))
					if err != nil {
						rt.logger.WithError(err).WithField("handle", d.Handle).Debug("Descriptor read failed")
						continue
					}
					values[d.Handle] = data
				}
			}
		}
	}
	progress.Stop()

	if discoverJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(services)
	}
	newPrinter(cmd.OutOrStdout()).Services(services, values)
	return nil
}
