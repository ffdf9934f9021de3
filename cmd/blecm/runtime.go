package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecm/internal/device"
	goble "github.com/srg/blecm/internal/device/go-ble"
	"github.com/srg/blecm/internal/eventbus"
	"github.com/srg/blecm/internal/session"
	"github.com/srg/blecm/pkg/config"
)

const busQueueSize = 128

// hostStack is a host plus the function that releases it
type hostStack struct {
	host  device.Host
	close func()
}

// newHostStack builds the host for a command; tests replace it
var newHostStack = func(simulate bool, role device.Role, peerAddr string, cfg *config.Config, logger *logrus.Logger) (*hostStack, error) {
	if simulate {
		sim := newSimulation(role, peerAddr, logger)
		return &hostStack{host: sim.host, close: sim.Close}, nil
	}
	h, err := goble.NewDefault(logger, goble.WithDialTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, err
	}
	return &hostStack{host: h, close: func() {
		if err := h.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close BLE host")
		}
	}}, nil
}

// runtime is a started session with its event bus and host
type runtime struct {
	cfg     *config.Config
	logger  *logrus.Logger
	bus     *eventbus.Bus
	session *session.Session
	stack   *hostStack
}

// loadConfig reads --config over the defaults
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// openRuntime loads the configuration, lets adjust tailor it for the
// command, then initializes a session in role. Call Start once event
// subscriptions are in place.
func openRuntime(cmd *cobra.Command, role device.Role, peerAddr string, adjust func(*config.Config)) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Role = role
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fromConfig := ""
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		fromConfig = cfg.LogLevel
	}
	logger, err := configureLogger(cmd, fromConfig)
	if err != nil {
		return nil, err
	}

	simulate, _ := cmd.Flags().GetBool("simulate")
	stack, err := newHostStack(simulate, role, peerAddr, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE host: %w", err)
	}

	bus := eventbus.New(busQueueSize, logger)
	sess, err := session.Init(cfg, stack.host, bus, logger)
	if err != nil {
		bus.Close()
		stack.close()
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, bus: bus, session: sess, stack: stack}, nil
}

// Start starts the session
func (rt *runtime) Start() error {
	return rt.session.Start()
}

// startRuntime is openRuntime followed by Start
func startRuntime(cmd *cobra.Command, role device.Role, peerAddr string, adjust func(*config.Config)) (*runtime, error) {
	rt, err := openRuntime(cmd, role, peerAddr, adjust)
	if err != nil {
		return nil, err
	}
	if err := rt.Start(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close stops and releases everything; queued events are printed first
func (rt *runtime) Close() {
	if err := rt.session.Stop(); err != nil {
		rt.logger.WithError(err).Debug("Session stop")
	}
	if err := rt.session.Deinit(); err != nil {
		rt.logger.WithError(err).Warn("Session deinit failed")
	}
	rt.bus.Close()
	rt.stack.close()
}
