// Package session is the connection and discovery manager that sits between
// an application and a BLE host stack. It owns the lifecycle, the link, the
// discovered peer database, the local attribute registry and the attribute
// value caches, and turns asynchronous host completions into blocking calls.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/attrcache"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/discovery"
	"github.com/srg/blecm/internal/iobridge"
	"github.com/srg/blecm/internal/l2cap"
	"github.com/srg/blecm/internal/registry"
	"github.com/srg/blecm/internal/ringchan"
	"github.com/srg/blecm/internal/svcindex"
	"github.com/srg/blecm/pkg/config"
)

type lifecycle int32

const (
	stateInitialized lifecycle = iota + 1
	stateStarted
	stateStopped
	stateDeinitialized
)

func (l lifecycle) String() string {
	switch l {
	case stateInitialized:
		return "initialized"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	case stateDeinitialized:
		return "deinitialized"
	default:
		return "unknown"
	}
}

// HCI reason used when the session drops the link itself
const reasonUserTerminated uint8 = 0x13

// live enforces one session per process
var live atomic.Bool

type cccdState struct {
	notify   bool
	indicate bool
}

type pendingWrite struct {
	handle uint16
	uuid   device.UUID
	data   []byte
}

// Session is the single live connection manager of the process
type Session struct {
	cfg    *config.Config
	host   device.Host
	pub    Publisher
	logger *logrus.Logger

	// opMu serializes lifecycle operations; mu guards the fields below it
	opMu       sync.Mutex
	mu         sync.RWMutex
	state      lifecycle
	conn       uint16
	mtu        uint16
	peerAddr   string
	ownAddr    string
	lastReason int
	cccd       map[uint16]cccdState

	index    *svcindex.Index
	disc     *discovery.Machine
	registry *registry.Registry
	local    *attrcache.Cache
	remote   *attrcache.Cache
	// one mutex per local attribute handle
	attrLocks *hashmap.Map[uint16, *sync.Mutex]
	tracker   *iobridge.Tracker
	writes    *hashmap.Map[device.ReqID, pendingWrite]
	links     *ringchan.RingChannel[LinkEvent]
	coc       *l2cap.Manager
}

// Init creates the session, registers the configured local services and
// installs itself as the host's event handler.
func Init(cfg *config.Config, host device.Host, pub Publisher, logger *logrus.Logger) (*Session, error) {
	if cfg == nil || host == nil {
		return nil, device.InvalidArgf("config and host are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	defs, err := cfg.LocalServices()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	if pub == nil {
		pub = nopPublisher{}
	}

	if !live.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("a session is already live: %w", device.ErrAlreadyInitialized)
	}

	s := &Session{
		cfg:       cfg,
		host:      host,
		pub:       pub,
		logger:    logger,
		state:     stateInitialized,
		mtu:       device.DefaultATTMTU,
		cccd:      make(map[uint16]cccdState),
		index:     svcindex.New(),
		registry:  registry.New(logger),
		local:     attrcache.New(logger),
		remote:    attrcache.New(logger),
		attrLocks: hashmap.New[uint16, *sync.Mutex](),
		tracker:   iobridge.NewTracker(cfg.RequestTimeout, logger),
		writes:    hashmap.New[device.ReqID, pendingWrite](),
		links:     ringchan.New[LinkEvent](cfg.LinkQueueSize),
		coc:       l2cap.NewManager(cfg.L2CAP, host, host.Features(), logger),
	}
	s.disc = discovery.New(s.index, host, logger, s.onDiscoveryComplete, s.onDiscoveryAbort)

	for _, def := range defs {
		if err := s.registry.AddService(def); err != nil {
			live.Store(false)
			return nil, err
		}
	}
	if err := host.SetSecurity(cfg.Security); err != nil {
		live.Store(false)
		return nil, fmt.Errorf("failed to apply security settings: %w", device.NormalizeError(err))
	}
	host.SetHandler(s)

	logger.WithFields(logrus.Fields{
		"device_name": cfg.DeviceName,
		"role":        cfg.Role,
		"services":    len(defs),
	}).Info("Session initialized")
	return s, nil
}

func (s *Session) currentState() lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(l lifecycle) {
	s.mu.Lock()
	old := s.state
	s.state = l
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"from": old.String(),
		"to":   l.String(),
	}).Debug("Session state transition")
}

func (s *Session) requireAlive() error {
	if s.currentState() == stateDeinitialized {
		return fmt.Errorf("session deinitialized: %w", device.ErrNotInitialized)
	}
	return nil
}

func (s *Session) requireStarted() error {
	switch s.currentState() {
	case stateStarted:
		return nil
	case stateDeinitialized:
		return fmt.Errorf("session deinitialized: %w", device.ErrNotInitialized)
	default:
		return fmt.Errorf("session not started: %w", device.ErrNotStarted)
	}
}

// Start brings the session up: peripheral roles build and register the
// local attribute database and advertise, central roles scan.
func (s *Session) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.currentState() {
	case stateStarted:
		return fmt.Errorf("session already started: %w", device.ErrBusy)
	case stateDeinitialized:
		return fmt.Errorf("session deinitialized: %w", device.ErrNotInitialized)
	}

	role := s.cfg.Role
	if role.IsPeripheral() {
		if err := s.serve(); err != nil {
			return err
		}
	}
	if role.IsCentral() {
		if err := s.host.Scan(nil); err != nil {
			return fmt.Errorf("failed to start scanning: %w", device.NormalizeError(err))
		}
	}
	if s.cfg.L2CAP.Enabled && s.host.Features().Coc {
		if err := s.coc.MemInit(); err != nil {
			return err
		}
	}

	s.setState(stateStarted)
	s.logger.WithFields(logrus.Fields{
		"device_name": s.cfg.DeviceName,
		"role":        role,
	}).Info("Session started")
	s.pub.Publish(TopicStarted, LifecyclePayload{DeviceName: s.cfg.DeviceName, Role: string(role)})
	return nil
}

// serve builds the local database, hands it to the host and advertises.
// Cached values survive a restart unless the registry changed.
func (s *Session) serve() error {
	unchanged := s.registry.Built()
	svcs, err := s.registry.BuildDatabase(s.HandleAccess)
	if err != nil {
		return err
	}
	if !unchanged {
		s.local.Reset()
		for _, attr := range s.registry.Attributes() {
			if attr.Kind == registry.AttrValue && len(attr.Def.Value) > 0 {
				s.local.Set(attr.Handle, attr.Def.UUID, attr.Def.Value)
			}
		}
	}
	if err := s.host.RegisterServices(svcs); err != nil {
		return fmt.Errorf("failed to register services: %w", device.NormalizeError(err))
	}
	return s.advertise()
}

func (s *Session) advertise() error {
	defs := s.registry.Services()
	uuids := make([]device.UUID, 0, len(defs))
	for _, d := range defs {
		uuids = append(uuids, d.UUID)
	}
	if err := s.host.Advertise(s.cfg.DeviceName, uuids); err != nil {
		return fmt.Errorf("failed to advertise: %w", device.NormalizeError(err))
	}
	return nil
}

// Stop halts advertising, scanning and host networking. Registry and
// service index contents are kept.
func (s *Session) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.requireStarted(); err != nil {
		return err
	}
	// stopped before the host drops the link, so the disconnect does not re-advertise
	s.setState(stateStopped)

	role := s.cfg.Role
	if role.IsPeripheral() {
		if err := s.host.StopAdvertising(); err != nil {
			s.logger.WithError(err).Warn("Failed to stop advertising")
		}
	}
	if role.IsCentral() {
		if err := s.host.StopScan(); err != nil {
			s.logger.WithError(err).Warn("Failed to stop scanning")
		}
	}
	if err := s.host.Stop(); err != nil {
		s.logger.WithError(err).Warn("Host stop failed")
	}
	if n := s.tracker.FailAll(fmt.Errorf("session stopped: %w", device.ErrNotStarted)); n > 0 {
		s.logger.WithField("requests", n).Debug("Pending requests failed on stop")
	}

	s.logger.Info("Session stopped")
	s.pub.Publish(TopicStopped, LifecyclePayload{DeviceName: s.cfg.DeviceName, Role: string(role)})
	return nil
}

// Deinit releases every resource. The session must not be started.
func (s *Session) Deinit() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.currentState() {
	case stateStarted:
		return fmt.Errorf("stop the session first: %w", device.ErrNotStopped)
	case stateDeinitialized:
		return fmt.Errorf("session deinitialized: %w", device.ErrNotInitialized)
	}

	s.host.SetHandler(nil)
	s.coc.RemoveServers()
	if err := s.coc.MemRelease(); err != nil {
		s.logger.WithError(err).Warn("CoC resources still active at deinit")
	}
	s.index.Reset()
	s.local.Reset()
	s.remote.Reset()
	s.registry.Reset()
	s.links.Drain()

	s.mu.Lock()
	s.cccd = make(map[uint16]cccdState)
	s.conn = device.NoConnection
	s.mu.Unlock()

	s.setState(stateDeinitialized)
	live.Store(false)
	s.logger.Info("Session deinitialized")
	return nil
}

// AddService registers a local service; allowed only while not started
func (s *Session) AddService(def registry.ServiceDef) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.currentState() {
	case stateStarted:
		return fmt.Errorf("cannot change services while started: %w", device.ErrBusy)
	case stateDeinitialized:
		return fmt.Errorf("session deinitialized: %w", device.ErrNotInitialized)
	}
	return s.registry.AddService(def)
}

// RemoveService drops a local service; allowed only while not started
func (s *Session) RemoveService(uuid device.UUID) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.currentState() {
	case stateStarted:
		return fmt.Errorf("cannot change services while started: %w", device.ErrBusy)
	case stateDeinitialized:
		return fmt.Errorf("session deinitialized: %w", device.ErrNotInitialized)
	}
	return s.registry.RemoveService(uuid)
}

// LocalServices returns the registered local services in registration order
func (s *Session) LocalServices() ([]registry.ServiceDef, error) {
	if err := s.requireAlive(); err != nil {
		return nil, err
	}
	return s.registry.Services(), nil
}

// MTU returns the negotiated ATT MTU of the current link
func (s *Session) MTU() (uint16, error) {
	if err := s.requireAlive(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mtu, nil
}

// ConnHandle returns the current link handle, device.NoConnection when idle
func (s *Session) ConnHandle() (uint16, error) {
	if err := s.requireAlive(); err != nil {
		return 0, err
	}
	return s.connHandle(), nil
}

func (s *Session) connHandle() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// PeerAddress returns the address of the connected peer
func (s *Session) PeerAddress() (string, error) {
	if err := s.requireAlive(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerAddr, nil
}

// LastDisconnectReason returns the HCI reason of the last link loss
func (s *Session) LastDisconnectReason() (int, error) {
	if err := s.requireAlive(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReason, nil
}

// DiscoveryState returns the state of peer database discovery
func (s *Session) DiscoveryState() (discovery.State, error) {
	if err := s.requireAlive(); err != nil {
		return discovery.Idle, err
	}
	return s.disc.State(), nil
}

// Services returns a snapshot of the discovered peer database
func (s *Session) Services() ([]svcindex.ServiceInfo, error) {
	if err := s.requireAlive(); err != nil {
		return nil, err
	}
	return s.index.Snapshot(), nil
}

// L2CAP returns the CoC manager bound to this session's host
func (s *Session) L2CAP() *l2cap.Manager {
	return s.coc
}
