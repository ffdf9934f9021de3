// Package hostsim is an in-memory BLE host. It plays both the local host
// stack and a single remote peer, delivering every event on one host
// goroutine the way a real controller-backed stack does.
package hostsim

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/groutine"
)

const (
	// ReasonRemoteUserTerminated is the HCI reason used for local disconnects
	ReasonRemoteUserTerminated = 0x13
	// ReasonLocalHostTerminated is reported when the peer ends the link
	ReasonLocalHostTerminated = 0x16

	statusUnknownConnection = 0x02
	statusAttrNotFound      = 0x0A
	statusPSMNotSupported   = 0x02
)

const ownAddress = "C0:FF:EE:00:00:01"

// Host is a simulated device.Host
type Host struct {
	logger *logrus.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	closed   bool
	handler  device.HostHandler
	features device.Features

	peer        *Peer
	conn        uint16
	nextConn    uint16
	advertising bool
	scanning    bool
	security    device.Security

	local         []*ble.Service
	notifications []Notification
	failures      map[string]int

	coc cocState
}

// Notification is a value the local GATT server pushed to the peer
type Notification struct {
	ConnHandle uint16
	Handle     uint16
	Data       []byte
	Indicate   bool
}

// New creates a simulated host talking to peer (nil: a peer without services
// that can only connect to the local device)
func New(peer *Peer, logger *logrus.Logger) *Host {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Host{
		logger:   logger,
		features: device.Features{Coc: true},
		peer:     peer,
		nextConn: device.MinConnHandle,
		failures: make(map[string]int),
	}
	h.cond = sync.NewCond(&h.mu)
	h.coc = newCocState()
	if h.peer == nil {
		h.peer = &Peer{}
	}
	h.peer.assignHandles()

	groutine.Go(context.Background(), "host-events", h.loop)
	return h
}

// WithFeatures overrides the reported host features
func (h *Host) WithFeatures(f device.Features) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.features = f
	return h
}

// Peer returns the simulated remote peer
func (h *Host) Peer() *Peer {
	return h.peer
}

func (h *Host) loop(ctx context.Context) {
	h.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Host event loop started")
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.closed {
			h.cond.Wait()
		}
		if len(h.queue) == 0 && h.closed {
			h.mu.Unlock()
			return
		}
		task := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.mu.Unlock()

		task()
	}
}

// post schedules fn on the host goroutine; caller may hold h.mu
func (h *Host) postLocked(fn func()) {
	if h.closed {
		return
	}
	h.queue = append(h.queue, fn)
	h.cond.Signal()
}

func (h *Host) post(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postLocked(fn)
}

// emitLocked queues ev for the handler; caller holds h.mu
func (h *Host) emitLocked(ev device.Event) {
	h.postLocked(func() {
		h.mu.Lock()
		handler := h.handler
		h.mu.Unlock()
		if handler != nil {
			handler.HandleEvent(ev)
		}
	})
}

// Inject delivers an arbitrary event, e.g. periodic advertising reports
func (h *Host) Inject(ev device.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(ev)
}

// Flush waits until every event queued so far was handled
func (h *Host) Flush() {
	done := make(chan struct{})
	h.post(func() { close(done) })
	<-done
}

// Close stops the host goroutine
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
}

// FailNext makes the next call of op (e.g. "discover_characteristics",
// "read", "write", "connect") complete with status
func (h *Host) FailNext(op string, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[op] = status
}

// takeFailureLocked consumes an injected failure; caller holds h.mu
func (h *Host) takeFailureLocked(op string) int {
	status, ok := h.failures[op]
	if ok {
		delete(h.failures, op)
	}
	return status
}

// SetHandler installs the event receiver
func (h *Host) SetHandler(handler device.HostHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Features reports the simulated capabilities
func (h *Host) Features() device.Features {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.features
}

// Stop halts advertising, scanning and the active link
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advertising = false
	h.scanning = false
	if h.conn != device.NoConnection {
		h.dropLinkLocked(ReasonRemoteUserTerminated)
	}
	return nil
}

// Advertise starts advertising name
func (h *Host) Advertise(name string, services []device.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advertising = true
	h.logger.WithFields(logrus.Fields{"name": name, "services": len(services)}).Debug("Simulated advertising started")
	return nil
}

// StopAdvertising stops advertising
func (h *Host) StopAdvertising() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advertising = false
	return nil
}

// Advertising reports whether the host advertises
func (h *Host) Advertising() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.advertising
}

// Scan reports the peer once when it matches filter
func (h *Host) Scan(filter []device.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scanning = true
	if h.peer.Address != "" && h.peer.matches(filter) {
		h.emitLocked(device.AdvReportEvent{Addr: h.peer.Address, Name: h.peer.Name, RSSI: h.peer.RSSI})
	}
	return nil
}

// StopScan stops scanning
func (h *Host) StopScan() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scanning = false
	return nil
}

// Connect opens the link to the peer if addr matches
func (h *Host) Connect(addr string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != device.NoConnection {
		return fmt.Errorf("link 0x%04x already open: %w", h.conn, device.ErrAlreadyConnected)
	}
	if status := h.takeFailureLocked("connect"); status != 0 {
		h.emitLocked(device.ConnectedEvent{Status: status, PeerAddr: addr, OwnAddr: ownAddress})
		return nil
	}
	if h.peer.Address == "" || h.peer.Address != addr {
		h.emitLocked(device.ConnectedEvent{Status: statusUnknownConnection, PeerAddr: addr, OwnAddr: ownAddress})
		return nil
	}
	h.openLinkLocked()
	return nil
}

// PeerConnect simulates the peer connecting to the advertising local device
func (h *Host) PeerConnect() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != device.NoConnection {
		return h.conn
	}
	h.advertising = false
	return h.openLinkLocked()
}

func (h *Host) openLinkLocked() uint16 {
	h.conn = h.nextConn
	h.nextConn++
	if h.nextConn > device.MaxConnHandle {
		h.nextConn = device.MinConnHandle
	}
	h.emitLocked(device.ConnectedEvent{ConnHandle: h.conn, PeerAddr: h.peer.Address, OwnAddr: ownAddress})
	return h.conn
}

// Disconnect terminates the link
func (h *Host) Disconnect(conn uint16, reason uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn == device.NoConnection || conn != h.conn {
		return fmt.Errorf("link 0x%04x: %w", conn, device.ErrNotConnected)
	}
	h.dropLinkLocked(int(reason))
	return nil
}

// PeerDisconnect simulates the peer dropping the link
func (h *Host) PeerDisconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != device.NoConnection {
		h.dropLinkLocked(ReasonLocalHostTerminated)
	}
}

func (h *Host) dropLinkLocked(reason int) {
	conn := h.conn
	h.conn = device.NoConnection
	h.coc.dropLink(h, conn)
	h.emitLocked(device.DisconnectedEvent{ConnHandle: conn, Reason: reason})
}

// ExchangeMTU negotiates min(mtu, peer MTU)
func (h *Host) ExchangeMTU(conn uint16, mtu uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	peerMTU := uint16(device.DefaultATTMTU)
	if h.peer.MTU != 0 {
		peerMTU = h.peer.MTU
	}
	if mtu > peerMTU {
		mtu = peerMTU
	}
	h.emitLocked(device.MTUEvent{ConnHandle: conn, MTU: mtu})
	return nil
}

// SetSecurity records the capability flags
func (h *Host) SetSecurity(sec device.Security) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.security = sec
	return nil
}

// Security returns the recorded capability flags
func (h *Host) Security() device.Security {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.security
}

func (h *Host) checkConnLocked(conn uint16) error {
	if conn == device.NoConnection || conn != h.conn {
		return fmt.Errorf("link 0x%04x: %w", conn, device.ErrNotConnected)
	}
	return nil
}

// ConnHandle returns the active link, or device.NoConnection
func (h *Host) ConnHandle() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}
