// Package discovery drives sequential service → characteristic → descriptor
// discovery of a peer's GATT database into a svcindex.Index.
//
// After every completed request the machine rescans the index from the
// beginning for the next record to work on.
package discovery

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/svcindex"
)

// State is a discovery phase
type State int32

const (
	Idle State = iota
	DiscoveringServices
	DiscoveringCharacteristics
	DiscoveringDescriptors
	Complete
	Error
)

var stateNames = [...]string{"idle", "discovering_services", "discovering_characteristics", "discovering_descriptors", "complete", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Requester issues discovery requests to the host; a subset of device.GATTClient
type Requester interface {
	DiscoverServices(conn uint16) error
	DiscoverCharacteristics(conn uint16, r device.HandleRange) error
	DiscoverDescriptors(conn uint16, r device.HandleRange) error
}

// Machine is the discovery state machine. All methods except State are
// called from the host goroutine.
type Machine struct {
	index  *svcindex.Index
	req    Requester
	logger *logrus.Logger

	onComplete func()
	onAbort    func(err error)

	state  atomic.Int32
	conn   uint16
	curSvc *svcindex.Service
	curChr *svcindex.Characteristic
}

// New creates a machine over index. onComplete fires once when discovery
// reaches Complete; onAbort fires once when it reaches Error.
func New(index *svcindex.Index, req Requester, logger *logrus.Logger, onComplete func(), onAbort func(error)) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Machine{
		index:      index,
		req:        req,
		logger:     logger,
		onComplete: onComplete,
		onAbort:    onAbort,
	}
}

// State returns the current phase; safe from any goroutine
func (m *Machine) State() State {
	return State(m.state.Load())
}

func (m *Machine) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	m.logger.WithFields(logrus.Fields{
		"conn_handle": m.conn,
		"from":        old.String(),
		"to":          s.String(),
	}).Debug("Discovery state transition")
}

// Start clears the index and requests primary service discovery on conn
func (m *Machine) Start(conn uint16) error {
	switch m.State() {
	case DiscoveringServices, DiscoveringCharacteristics, DiscoveringDescriptors:
		return fmt.Errorf("discovery already running: %w", device.ErrBusy)
	}

	m.index.Reset()
	m.conn = conn
	m.curSvc, m.curChr = nil, nil
	m.setState(DiscoveringServices)

	if err := m.req.DiscoverServices(conn); err != nil {
		m.fail(fmt.Errorf("service discovery request: %w", err))
		return err
	}
	return nil
}

// Reset returns the machine to Idle without touching the index
func (m *Machine) Reset() {
	m.curSvc, m.curChr = nil, nil
	m.setState(Idle)
}

// HandleEvent consumes discovery events; it reports false for any other event
func (m *Machine) HandleEvent(ev device.Event) bool {
	switch e := ev.(type) {
	case device.ServiceFoundEvent:
		if m.expect(DiscoveringServices, e.ConnHandle) {
			if _, err := m.index.InsertService(e.UUID, e.Range); err != nil {
				m.fail(err)
			}
		}
	case device.ServicesDoneEvent:
		if m.expect(DiscoveringServices, e.ConnHandle) {
			m.servicesDone(e.Status)
		}
	case device.CharacteristicFoundEvent:
		if m.expect(DiscoveringCharacteristics, e.ConnHandle) {
			_, err := m.index.InsertCharacteristic(m.curSvc, svcindex.Characteristic{
				UUID:        e.UUID,
				DefHandle:   e.DefHandle,
				ValueHandle: e.ValueHandle,
				Properties:  e.Properties,
			})
			if err != nil {
				m.fail(err)
			}
		}
	case device.CharacteristicsDoneEvent:
		if m.expect(DiscoveringCharacteristics, e.ConnHandle) {
			m.characteristicsDone(e.Status)
		}
	case device.DescriptorFoundEvent:
		if m.expect(DiscoveringDescriptors, e.ConnHandle) {
			err := m.index.InsertDescriptor(m.curSvc, m.curChr, svcindex.Descriptor{UUID: e.UUID, Handle: e.Handle})
			if err != nil {
				m.fail(err)
			}
		}
	case device.DescriptorsDoneEvent:
		if m.expect(DiscoveringDescriptors, e.ConnHandle) {
			m.descriptorsDone(e.Status)
		}
	default:
		return false
	}
	return true
}

// expect filters events that do not belong to the running phase
func (m *Machine) expect(phase State, conn uint16) bool {
	state := m.State()
	if state == phase && conn == m.conn {
		return true
	}
	if state == Error {
		// late events of an aborted sequence
		return false
	}
	m.fail(fmt.Errorf("unexpected discovery event for phase %s in state %s (conn 0x%04x): %w",
		phase, state, conn, device.ErrInternal))
	return false
}

func (m *Machine) servicesDone(status int) {
	if err := device.StatusError("service discovery", status); err != nil {
		m.fail(err)
		return
	}

	m.logger.WithFields(logrus.Fields{
		"conn_handle": m.conn,
		"services":    m.index.Len(),
	}).Debug("Services discovered")

	if !m.index.HasNonEmptyService() {
		m.complete()
		return
	}
	m.setState(DiscoveringCharacteristics)
	m.nextCharacteristics()
}

func (m *Machine) nextCharacteristics() {
	svc := m.index.NextServiceForCharacteristics()
	if svc == nil {
		m.curSvc = nil
		m.setState(DiscoveringDescriptors)
		m.nextDescriptors()
		return
	}

	m.curSvc = svc
	m.logger.WithFields(logrus.Fields{
		"conn_handle": m.conn,
		"uuid":        svc.UUID.String(),
		"range":       svc.Range.String(),
	}).Debug("Discovering characteristics")
	if err := m.req.DiscoverCharacteristics(m.conn, svc.Range); err != nil {
		m.fail(fmt.Errorf("characteristic discovery request: %w", err))
	}
}

func (m *Machine) characteristicsDone(status int) {
	if err := device.StatusError("characteristic discovery", status); err != nil {
		m.fail(err)
		return
	}
	m.index.MarkCharacteristicsDiscovered(m.curSvc)
	m.nextCharacteristics()
}

func (m *Machine) nextDescriptors() {
	svc, chr, r, ok := m.index.NextCharacteristicForDescriptors()
	if !ok {
		m.curSvc, m.curChr = nil, nil
		m.complete()
		return
	}

	m.curSvc, m.curChr = svc, chr
	m.logger.WithFields(logrus.Fields{
		"conn_handle": m.conn,
		"uuid":        chr.UUID.String(),
		"range":       r.String(),
	}).Debug("Discovering descriptors")
	if err := m.req.DiscoverDescriptors(m.conn, r); err != nil {
		m.fail(fmt.Errorf("descriptor discovery request: %w", err))
	}
}

func (m *Machine) descriptorsDone(status int) {
	if err := device.StatusError("descriptor discovery", status); err != nil {
		m.fail(err)
		return
	}
	m.index.MarkDescriptorsDiscovered(m.curChr)
	m.nextDescriptors()
}

func (m *Machine) complete() {
	m.setState(Complete)
	m.logger.WithFields(logrus.Fields{
		"conn_handle": m.conn,
		"services":    m.index.Len(),
	}).Info("GATT discovery complete")
	if m.onComplete != nil {
		m.onComplete()
	}
}

func (m *Machine) fail(err error) {
	if m.State() == Error {
		return
	}
	m.setState(Error)
	m.logger.WithFields(logrus.Fields{
		"conn_handle": m.conn,
		"error":       err,
	}).Warn("GATT discovery aborted")
	if m.onAbort != nil {
		m.onAbort(err)
	}
}
