package main

import (
	"bytes"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/testutils"
	"github.com/srg/blecm/pkg/config"
	"github.com/stretchr/testify/suite"
)

// TestDeviceAddress is the simulated peer used by command tests
const TestDeviceAddress = "AA:BB:CC:DD:EE:FF"

// CommandTestSuite runs commands against the simulated host. Every suite in
// cmd/blecm embeds it.
type CommandTestSuite struct {
	suite.Suite

	// Sim is the simulation behind the last command, kept after it exits
	Sim *simulation

	origHostStack func(bool, device.Role, string, *config.Config, *logrus.Logger) (*hostStack, error)
	origTick      time.Duration
}

// SetupTest resets flags left over from earlier commands and records the
// simulation each command builds
func (s *CommandTestSuite) SetupTest() {
	resetFlags(rootCmd)
	s.Sim = nil
	s.origHostStack = newHostStack
	s.origTick = simTickInterval
	simTickInterval = 10 * time.Millisecond

	newHostStack = func(_ bool, role device.Role, addr string, _ *config.Config, logger *logrus.Logger) (*hostStack, error) {
		sim := newSimulation(role, addr, logger)
		s.Sim = sim
		return &hostStack{host: sim.host, close: sim.Close}, nil
	}
}

// TearDownTest restores the host factory
func (s *CommandTestSuite) TearDownTest() {
	newHostStack = s.origHostStack
	simTickInterval = s.origTick
	rootCmd.SetIn(nil)
}

// ExecuteCommand runs blecm with args and returns what it printed
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteWithInput("", args...)
}

// ExecuteWithInput runs blecm with args and input on stdin
func (s *CommandTestSuite) ExecuteWithInput(input string, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// AssertText compares command output with expected, ignoring surrounding space
func (s *CommandTestSuite) AssertText(actual, expected string) {
	testutils.NewTextAsserter(s.T()).Assert(actual, expected)
}

// resetFlags puts every flag of cmd and its subcommands back to its default
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
