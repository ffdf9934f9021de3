package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/l2cap"
	"github.com/srg/blecm/internal/registry"
	"gopkg.in/yaml.v3"
)

// CharacteristicConfig describes a locally served characteristic
type CharacteristicConfig struct {
	Name       string `yaml:"name"`
	UUID       string `yaml:"uuid"`
	Properties string `yaml:"properties" default:"read"`
	// Value is the initial value, hex encoded
	Value string `yaml:"value"`
}

// ServiceConfig describes a locally served primary service
type ServiceConfig struct {
	UUID            string                 `yaml:"uuid"`
	Characteristics []CharacteristicConfig `yaml:"characteristics"`
}

// Config holds application configuration
type Config struct {
	DeviceName     string          `yaml:"device_name" default:"blecm"`
	Role           device.Role     `yaml:"role" default:"peripheral"`
	LogLevel       string          `yaml:"log_level" default:"info"`
	PreferredMTU   uint16          `yaml:"preferred_mtu" default:"247"`
	RequestTimeout time.Duration   `yaml:"request_timeout" default:"5s"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout" default:"10s"`
	LinkQueueSize  int             `yaml:"link_queue_size" default:"8"`
	Security       device.Security `yaml:"security"`
	L2CAP          l2cap.Config    `yaml:"l2cap"`
	Services       []ServiceConfig `yaml:"services"`
}

var ioCapabilities = map[string]struct{}{
	"display_only":       {},
	"display_yes_no":     {},
	"keyboard_only":      {},
	"no_input_no_output": {},
	"keyboard_display":   {},
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i := range cfg.Services {
		for j := range cfg.Services[i].Characteristics {
			defaults.SetDefaults(&cfg.Services[i].Characteristics[j])
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level returns the parsed log level, info when unparsable
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Validate checks value ranges; every failure wraps device.ErrInvalidArgument
func (c *Config) Validate() error {
	switch c.Role {
	case device.RolePeripheral, device.RoleCentral, device.RoleDual:
	default:
		return device.InvalidArgf("role %q must be peripheral, central or dual", c.Role)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return device.InvalidArgf("log_level %q", c.LogLevel)
	}
	if !device.InRange(c.PreferredMTU, device.DefaultATTMTU, device.MaxATTMTU) {
		return device.InvalidArgf("preferred_mtu %d outside [%d,%d]", c.PreferredMTU, device.DefaultATTMTU, device.MaxATTMTU)
	}
	if c.RequestTimeout <= 0 || c.ConnectTimeout <= 0 {
		return device.InvalidArgf("timeouts must be positive")
	}
	if c.LinkQueueSize <= 0 {
		return device.InvalidArgf("link_queue_size must be positive")
	}
	if _, ok := ioCapabilities[c.Security.IOCapability]; !ok {
		return device.InvalidArgf("security.io_capability %q", c.Security.IOCapability)
	}
	if c.L2CAP.Enabled {
		if c.L2CAP.PoolSize <= 0 || c.L2CAP.MaxServers <= 0 || c.L2CAP.MaxChannels <= 0 {
			return device.InvalidArgf("l2cap pool_size, max_servers and max_channels must be positive")
		}
		if err := device.ValidateSDUSize(c.L2CAP.SDUBufferSize); err != nil {
			return fmt.Errorf("l2cap.sdu_buffer_size: %w", err)
		}
	}
	if _, err := c.LocalServices(); err != nil {
		return err
	}
	return nil
}

// LocalServices converts the configured services into registry definitions
func (c *Config) LocalServices() ([]registry.ServiceDef, error) {
	out := make([]registry.ServiceDef, 0, len(c.Services))
	for _, sc := range c.Services {
		su, err := device.ParseUUID(sc.UUID)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", sc.UUID, err)
		}
		def := registry.ServiceDef{UUID: su}
		for _, cc := range sc.Characteristics {
			cu, err := device.ParseUUID(cc.UUID)
			if err != nil {
				return nil, fmt.Errorf("characteristic %q: %w", cc.UUID, err)
			}
			props, err := device.ParseProperties(cc.Properties)
			if err != nil {
				return nil, fmt.Errorf("characteristic %q: %w", cc.UUID, err)
			}
			value, err := hex.DecodeString(strings.ReplaceAll(cc.Value, " ", ""))
			if err != nil {
				return nil, device.InvalidArgf("characteristic %q value %q is not hex", cc.UUID, cc.Value)
			}
			def.Characteristics = append(def.Characteristics, registry.CharacteristicDef{
				Name:       cc.Name,
				UUID:       cu,
				Properties: props,
				Value:      value,
			})
		}
		out = append(out, def)
	}
	return out, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
