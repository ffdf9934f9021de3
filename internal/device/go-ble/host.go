// Package goble implements device.Host on top of github.com/go-ble/ble.
//
// go-ble is a blocking, goroutine-per-operation library. The adapter turns
// it into the event-driven host the session expects: every call returns
// immediately, GATT client operations run in order on one worker, and every
// result comes back as a device.Event on a single host goroutine.
package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/groutine"
)

// ----------------------------
// Configuration Constants
// ----------------------------

const (
	// DefaultDialTimeout bounds a connection attempt started by Connect
	DefaultDialTimeout = 10 * time.Second

	// DefaultQueueSize is the capacity of the event and job queues
	DefaultQueueSize = 256

	// HCI reasons reported in DisconnectedEvent
	reasonSupervisionTimeout = 0x08
	reasonUserTerminated     = 0x13
)

// ----------------------------
// Host
// ----------------------------

// Host adapts a ble.Device to device.Host
type Host struct {
	dev    ble.Device
	logger *logrus.Logger

	dialTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	jobs   chan func()

	mu       sync.Mutex
	handler  device.HostHandler
	security device.Security

	advCancel  context.CancelFunc
	scanCancel context.CancelFunc

	// central side
	client       ble.Client
	conn         uint16
	nextConn     uint16
	closeReason  int
	services     []*ble.Service
	chars        map[uint16]*ble.Characteristic // by value handle
	descriptors  map[uint16]*ble.Descriptor
	cccdOwner    map[uint16]*ble.Characteristic // CCCD handle to characteristic
	peripheralBy map[ble.Conn]uint16

	// peripheral side
	local     map[uint16]*ble.Characteristic // by registry value handle
	notifiers map[uint16]*notifier
}

// Option configures a Host
type Option func(*Host)

// WithDialTimeout overrides DefaultDialTimeout
func WithDialTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.dialTimeout = d
		}
	}
}

// New creates a host over dev and starts its event and job goroutines
func New(dev ble.Device, logger *logrus.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		dev:          dev,
		logger:       logger,
		dialTimeout:  DefaultDialTimeout,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan func(), DefaultQueueSize),
		jobs:         make(chan func(), DefaultQueueSize),
		nextConn:     device.MinConnHandle,
		chars:        make(map[uint16]*ble.Characteristic),
		descriptors:  make(map[uint16]*ble.Descriptor),
		cccdOwner:    make(map[uint16]*ble.Characteristic),
		peripheralBy: make(map[ble.Conn]uint16),
		local:        make(map[uint16]*ble.Characteristic),
		notifiers:    make(map[uint16]*notifier),
	}
	for _, opt := range opts {
		opt(h)
	}

	groutine.Go(ctx, "host-events", func(ctx context.Context) { h.drain(ctx, h.events) })
	groutine.Go(ctx, "gatt-client", func(ctx context.Context) { h.drain(ctx, h.jobs) })
	return h
}

// NewDefault creates a host over the platform's default HCI device
func NewDefault(logger *logrus.Logger, opts ...Option) (*Host, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return New(dev, logger, opts...), nil
}

func (h *Host) drain(ctx context.Context, q chan func()) {
	h.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Host worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-q:
			fn()
		}
	}
}

// emit delivers ev to the handler on the host goroutine
func (h *Host) emit(ev device.Event) {
	h.post(func() {
		h.mu.Lock()
		handler := h.handler
		h.mu.Unlock()
		if handler != nil {
			handler.HandleEvent(ev)
		}
	})
}

func (h *Host) post(fn func()) {
	select {
	case h.events <- fn:
	case <-h.ctx.Done():
	}
}

// enqueue runs fn on the GATT client worker, after every earlier job
func (h *Host) enqueue(fn func()) {
	select {
	case h.jobs <- fn:
	case <-h.ctx.Done():
	}
}

// SetHandler installs the event receiver; nil detaches it
func (h *Host) SetHandler(handler device.HostHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Features reports no CoC support: go-ble exposes no L2CAP channel API
func (h *Host) Features() device.Features {
	return device.Features{}
}

// SetSecurity records the pairing capabilities. go-ble pairs with its
// built-in defaults, so the values are only logged.
func (h *Host) SetSecurity(sec device.Security) error {
	h.mu.Lock()
	h.security = sec
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"io_capability":      sec.IOCapability,
		"bonding":            sec.Bonding,
		"mitm":               sec.MITM,
		"secure_connections": sec.SecureConnections,
	}).Debug("Security settings recorded")
	return nil
}

// Stop halts advertising, scanning and the active link
func (h *Host) Stop() error {
	h.mu.Lock()
	if h.advCancel != nil {
		h.advCancel()
		h.advCancel = nil
	}
	if h.scanCancel != nil {
		h.scanCancel()
		h.scanCancel = nil
	}
	client := h.client
	if client != nil {
		h.closeReason = reasonUserTerminated
	}
	peers := make([]ble.Conn, 0, len(h.peripheralBy))
	for c := range h.peripheralBy {
		peers = append(peers, c)
	}
	h.mu.Unlock()

	var firstErr error
	if client != nil {
		if err := client.CancelConnection(); err != nil {
			firstErr = NormalizeError(err)
		}
	}
	for _, c := range peers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = NormalizeError(err)
		}
	}
	return firstErr
}

// Close stops the host and releases the HCI device
func (h *Host) Close() error {
	err := h.Stop()
	if derr := h.dev.Stop(); derr != nil && err == nil {
		err = NormalizeError(derr)
	}
	h.cancel()
	return err
}
