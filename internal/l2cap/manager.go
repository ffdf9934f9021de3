// Package l2cap manages LE connection-oriented channels: servers per PSM,
// outgoing and accepted channels, an SDU buffer pool and credit stalls.
package l2cap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
)

// Config bounds the CoC resources
type Config struct {
	Enabled       bool `yaml:"enabled" default:"true"`
	PoolSize      int  `yaml:"pool_size" default:"16"`
	SDUBufferSize int  `yaml:"sdu_buffer_size" default:"512"`
	MaxServers    int  `yaml:"max_servers" default:"4"`
	MaxChannels   int  `yaml:"max_channels" default:"8"`
}

// Event is delivered to a channel or server callback on the host goroutine.
// SDU is borrowed and only valid until the callback returns.
type Event struct {
	Type        device.CocEventType
	Status      int
	ConnHandle  uint16
	Chan        *Channel
	PeerSDUSize int
	SDU         []byte
	Arg         any
}

// Callback handles channel events. For Accept events a non-nil error rejects
// the channel.
type Callback func(ev *Event) error

type server struct {
	psm uint16
	mtu uint16
	cb  Callback
	arg any
}

// Channel is the shadow state of a CoC channel
type Channel struct {
	handle     device.ChanHandle
	connHandle uint16
	psm        uint16
	mtu        uint16
	sduSize    int

	cb  Callback
	arg any

	connected atomic.Bool
	stalled   atomic.Bool
	txGen     uint64 // bumped by TxUnstalled, guarded by Manager.mu
	rx        []byte
}

// Handle returns the host channel handle
func (c *Channel) Handle() device.ChanHandle { return c.handle }

// ConnHandle returns the owning link
func (c *Channel) ConnHandle() uint16 { return c.connHandle }

// PSM returns the channel's protocol/service multiplexer
func (c *Channel) PSM() uint16 { return c.psm }

// MTU returns the local CoC MTU
func (c *Channel) MTU() uint16 { return c.mtu }

// Connected reports whether the channel is open
func (c *Channel) Connected() bool { return c.connected.Load() }

// Stalled reports whether the last send ran out of credit and no
// TxUnstalled has arrived since. It is informational: Send always asks the host.
func (c *Channel) Stalled() bool { return c.stalled.Load() }

// Manager owns CoC servers and channels
type Manager struct {
	cfg      Config
	host     device.CocHost
	features device.Features
	logger   *logrus.Logger

	mu       sync.Mutex
	inited   bool
	pool     *Pool
	servers  map[uint16]*server
	channels map[device.ChanHandle]*Channel
	pending  map[uint64]*Channel
	token    uint64
}

// NewManager creates a manager over the host's CoC primitives
func NewManager(cfg Config, host device.CocHost, features device.Features, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		cfg:      cfg,
		host:     host,
		features: features,
		logger:   logger,
		servers:  make(map[uint16]*server),
		channels: make(map[device.ChanHandle]*Channel),
		pending:  make(map[uint64]*Channel),
	}
}

func (m *Manager) supported() error {
	if !m.cfg.Enabled {
		return fmt.Errorf("l2cap coc disabled by configuration: %w", device.ErrNotSupported)
	}
	if !m.features.Coc {
		return fmt.Errorf("host has no l2cap coc support: %w", device.ErrNotSupported)
	}
	return nil
}

// MemInit allocates the SDU pool; calling it again is a no-op
func (m *Manager) MemInit() error {
	if err := m.supported(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inited {
		return nil
	}

	pool, err := NewPool(m.cfg.PoolSize, m.cfg.SDUBufferSize)
	if err != nil {
		return err
	}
	m.pool = pool
	m.inited = true
	m.logger.WithFields(logrus.Fields{
		"pool_size":       m.cfg.PoolSize,
		"sdu_buffer_size": m.cfg.SDUBufferSize,
	}).Debug("L2CAP CoC memory initialized")
	return nil
}

// MemRelease frees the SDU pool. It fails while servers or channels exist.
func (m *Manager) MemRelease() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inited {
		return nil
	}
	if n := len(m.servers) + len(m.channels) + len(m.pending); n > 0 {
		return fmt.Errorf("%d coc servers/channels active: %w", n, device.ErrResourcesActive)
	}
	m.pool = nil
	m.inited = false
	m.logger.Debug("L2CAP CoC memory released")
	return nil
}

// CreateServer listens on psm for incoming channels
func (m *Manager) CreateServer(psm, mtu uint16, cb Callback, arg any) error {
	if err := device.ValidatePSM(psm); err != nil {
		return err
	}
	if err := device.ValidateCocMTU(mtu); err != nil {
		return err
	}
	if cb == nil {
		return device.InvalidArgf("coc server 0x%02x: callback is nil", psm)
	}
	if err := m.supported(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inited {
		return fmt.Errorf("coc memory: %w", device.ErrNotInitialized)
	}
	if _, dup := m.servers[psm]; dup {
		return device.InvalidArgf("coc server for psm 0x%02x already exists", psm)
	}
	if len(m.servers) >= m.cfg.MaxServers {
		return fmt.Errorf("coc server limit %d reached: %w", m.cfg.MaxServers, device.ErrNoMemory)
	}
	if err := m.host.CocCreateServer(psm, mtu); err != nil {
		return err
	}

	m.servers[psm] = &server{psm: psm, mtu: mtu, cb: cb, arg: arg}
	m.logger.WithFields(logrus.Fields{"psm": psm, "mtu": mtu}).Info("L2CAP CoC server created")
	return nil
}

// Connect opens a channel to psm on conn. The outcome arrives as a Connected
// event on cb; a failed connect releases the channel context.
func (m *Manager) Connect(conn, psm, mtu uint16, sduSize int, cb Callback, arg any) error {
	if err := device.ValidateConnHandle(conn); err != nil {
		return err
	}
	if err := device.ValidatePSM(psm); err != nil {
		return err
	}
	if err := device.ValidateCocMTU(mtu); err != nil {
		return err
	}
	if err := device.ValidateSDUSize(sduSize); err != nil {
		return err
	}
	if cb == nil {
		return device.InvalidArgf("coc connect psm 0x%02x: callback is nil", psm)
	}
	if err := m.supported(); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.inited {
		m.mu.Unlock()
		return fmt.Errorf("coc memory: %w", device.ErrNotInitialized)
	}
	if len(m.channels)+len(m.pending) >= m.cfg.MaxChannels {
		m.mu.Unlock()
		return fmt.Errorf("coc channel limit %d reached: %w", m.cfg.MaxChannels, device.ErrNoMemory)
	}
	rx, err := m.pool.Get()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.token++
	token := m.token
	ch := &Channel{connHandle: conn, psm: psm, mtu: mtu, sduSize: sduSize, cb: cb, arg: arg, rx: rx}
	m.pending[token] = ch
	m.mu.Unlock()

	if err := m.host.CocConnect(conn, psm, mtu, sduSize, token); err != nil {
		m.mu.Lock()
		delete(m.pending, token)
		m.releaseRx(ch)
		m.mu.Unlock()
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"conn_handle": conn,
		"psm":         psm,
		"mtu":         mtu,
	}).Debug("L2CAP CoC connect requested")
	return nil
}

// Accept answers an Accept event; call it from inside the Accept callback
func (m *Manager) Accept(ch *Channel, sduSize int) error {
	if ch == nil {
		return device.InvalidArgf("coc accept: channel is nil")
	}
	if err := device.ValidateSDUSize(sduSize); err != nil {
		return err
	}
	if err := m.host.CocAccept(ch.handle, ch.mtu, sduSize); err != nil {
		return err
	}
	return m.RecvReady(ch, sduSize)
}

// Send queues sdu on ch without blocking. ErrNotFinished means the channel
// is out of credit until a TxUnstalled event; ErrNoMemory means no SDU
// buffer is free right now.
func (m *Manager) Send(ch *Channel, sdu []byte) error {
	if ch == nil || sdu == nil {
		return device.InvalidArgf("coc send: nil channel or sdu")
	}
	if !ch.Connected() {
		return fmt.Errorf("coc channel %d: %w", ch.handle, device.ErrNotConnected)
	}

	pool := m.currentPool()
	if pool == nil {
		return fmt.Errorf("coc memory: %w", device.ErrNotInitialized)
	}
	if len(sdu) > pool.BufSize() {
		return device.InvalidArgf("sdu of %d bytes exceeds buffer size %d", len(sdu), pool.BufSize())
	}
	buf, err := pool.Get()
	if err != nil {
		return err
	}
	defer m.putBuf(pool, buf)
	n := copy(buf, sdu)

	m.mu.Lock()
	gen := ch.txGen
	m.mu.Unlock()

	err = m.host.CocSend(ch.handle, buf[:n])
	if errors.Is(err, device.ErrNotFinished) {
		// a TxUnstalled processed meanwhile supersedes this stall
		m.mu.Lock()
		if ch.txGen == gen {
			ch.stalled.Store(true)
		}
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"chan": ch.handle,
			"len":  n,
		}).Debug("L2CAP CoC channel stalled")
	}
	return err
}

// RecvReady hands the host a receive buffer for the next SDU on ch. Call it
// once per consumed SDU.
func (m *Manager) RecvReady(ch *Channel, sduSize int) error {
	if ch == nil {
		return device.InvalidArgf("coc recv ready: channel is nil")
	}
	if err := device.ValidateSDUSize(sduSize); err != nil {
		return err
	}

	m.mu.Lock()
	if m.pool == nil {
		m.mu.Unlock()
		return fmt.Errorf("coc memory: %w", device.ErrNotInitialized)
	}
	if ch.rx == nil {
		rx, err := m.pool.Get()
		if err != nil {
			m.mu.Unlock()
			return err
		}
		ch.rx = rx
	}
	ch.sduSize = sduSize
	m.mu.Unlock()

	return m.host.CocRecvReady(ch.handle, sduSize)
}

// Disconnect closes ch; the Disconnected event follows
func (m *Manager) Disconnect(ch *Channel) error {
	if ch == nil {
		return device.InvalidArgf("coc disconnect: channel is nil")
	}
	return m.host.CocDisconnect(ch.handle)
}

// ChanInfo returns the host's view of ch
func (m *Manager) ChanInfo(ch *Channel) (device.ChanInfo, error) {
	if ch == nil {
		return device.ChanInfo{}, device.InvalidArgf("coc chan info: channel is nil")
	}
	if !ch.Connected() {
		return device.ChanInfo{}, fmt.Errorf("coc channel %d: %w", ch.handle, device.ErrNotConnected)
	}
	return m.host.CocChanInfo(ch.handle)
}

// Reconfigure requests a new MTU for chans
func (m *Manager) Reconfigure(chans []*Channel, mtu uint16) error {
	if len(chans) == 0 {
		return device.InvalidArgf("coc reconfigure: no channels")
	}
	if err := device.ValidateCocMTU(mtu); err != nil {
		return err
	}
	handles := make([]device.ChanHandle, 0, len(chans))
	for _, ch := range chans {
		if ch == nil || !ch.Connected() {
			return fmt.Errorf("coc reconfigure: %w", device.ErrNotConnected)
		}
		handles = append(handles, ch.handle)
	}
	return m.host.CocReconfigure(handles, mtu)
}

// Servers returns the number of registered servers
func (m *Manager) Servers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.servers)
}

// Channels returns the number of open or pending channels
func (m *Manager) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels) + len(m.pending)
}

// RemoveServers drops every server registration
func (m *Manager) RemoveServers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = make(map[uint16]*server)
}

func (m *Manager) currentPool() *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool
}

func (m *Manager) putBuf(pool *Pool, buf []byte) {
	if err := pool.Put(buf); err != nil {
		m.logger.WithError(err).Warn("SDU buffer not returned to pool")
	}
}

// releaseRx returns ch's receive buffer; caller holds m.mu
func (m *Manager) releaseRx(ch *Channel) {
	if ch.rx != nil && m.pool != nil {
		m.putBuf(m.pool, ch.rx)
	}
	ch.rx = nil
}
