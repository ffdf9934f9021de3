package hostsim

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blecm/internal/device"
)

// PeerDescriptor is a descriptor of the simulated peer
type PeerDescriptor struct {
	UUID   device.UUID
	Handle uint16
	Value  []byte
}

// PeerCharacteristic is a characteristic of the simulated peer
type PeerCharacteristic struct {
	UUID        device.UUID
	Properties  device.Property
	Value       []byte
	Descriptors []PeerDescriptor

	DefHandle   uint16
	ValueHandle uint16
}

// PeerService is a primary service of the simulated peer
type PeerService struct {
	UUID            device.UUID
	Characteristics []*PeerCharacteristic

	Start uint16
	End   uint16
	// Padding reserves extra handles after the last attribute
	Padding uint16
}

// Peer is the simulated remote device
type Peer struct {
	Address  string
	Name     string
	RSSI     int
	MTU      uint16
	Services []*PeerService
	// FirstHandle is where handle assignment starts (default 1)
	FirstHandle uint16
}

// assignHandles lays out the peer database sequentially: service declaration,
// then per characteristic its declaration, value and descriptors.
func (p *Peer) assignHandles() {
	next := p.FirstHandle
	if next == 0 {
		next = device.MinHandle
	}
	for _, svc := range p.Services {
		svc.Start = next
		next++
		for _, c := range svc.Characteristics {
			c.DefHandle = next
			c.ValueHandle = next + 1
			next += 2
			for i := range c.Descriptors {
				c.Descriptors[i].Handle = next
				next++
			}
		}
		next += svc.Padding
		svc.End = next - 1
	}
}

func (p *Peer) matches(filter []device.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		for _, svc := range p.Services {
			if svc.UUID.Equal(f) {
				return true
			}
		}
	}
	return false
}

func (p *Peer) attribute(handle uint16) (*PeerCharacteristic, *PeerDescriptor) {
	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			if c.ValueHandle == handle {
				return c, nil
			}
			for i := range c.Descriptors {
				if c.Descriptors[i].Handle == handle {
					return c, &c.Descriptors[i]
				}
			}
		}
	}
	return nil, nil
}

// Characteristic returns the peer characteristic with uuid
func (p *Peer) Characteristic(uuid device.UUID) *PeerCharacteristic {
	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(uuid) {
				return c
			}
		}
	}
	return nil
}

// DiscoverServices reports every peer service, then completion
func (h *Host) DiscoverServices(conn uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	if status := h.takeFailureLocked("discover_services"); status != 0 {
		h.emitLocked(device.ServicesDoneEvent{ConnHandle: conn, Status: status})
		return nil
	}
	for _, svc := range h.peer.Services {
		h.emitLocked(device.ServiceFoundEvent{
			ConnHandle: conn,
			UUID:       svc.UUID,
			Range:      device.HandleRange{Start: svc.Start, End: svc.End},
		})
	}
	h.emitLocked(device.ServicesDoneEvent{ConnHandle: conn})
	return nil
}

// DiscoverCharacteristics reports peer characteristics declared within r
func (h *Host) DiscoverCharacteristics(conn uint16, r device.HandleRange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	if status := h.takeFailureLocked("discover_characteristics"); status != 0 {
		h.emitLocked(device.CharacteristicsDoneEvent{ConnHandle: conn, Status: status})
		return nil
	}
	for _, svc := range h.peer.Services {
		for _, c := range svc.Characteristics {
			if r.Contains(c.DefHandle) {
				h.emitLocked(device.CharacteristicFoundEvent{
					ConnHandle:  conn,
					UUID:        c.UUID,
					DefHandle:   c.DefHandle,
					ValueHandle: c.ValueHandle,
					Properties:  c.Properties,
				})
			}
		}
	}
	h.emitLocked(device.CharacteristicsDoneEvent{ConnHandle: conn})
	return nil
}

// DiscoverDescriptors reports peer descriptors within r
func (h *Host) DiscoverDescriptors(conn uint16, r device.HandleRange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	if status := h.takeFailureLocked("discover_descriptors"); status != 0 {
		h.emitLocked(device.DescriptorsDoneEvent{ConnHandle: conn, Status: status})
		return nil
	}
	for _, svc := range h.peer.Services {
		for _, c := range svc.Characteristics {
			for _, d := range c.Descriptors {
				if r.Contains(d.Handle) {
					h.emitLocked(device.DescriptorFoundEvent{ConnHandle: conn, UUID: d.UUID, Handle: d.Handle})
				}
			}
		}
	}
	h.emitLocked(device.DescriptorsDoneEvent{ConnHandle: conn})
	return nil
}

// Read reads a peer attribute value
func (h *Host) Read(conn, handle uint16, id device.ReqID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	ev := device.ReadCompleteEvent{ID: id, ConnHandle: conn, Handle: handle}
	if status := h.takeFailureLocked("read"); status != 0 {
		ev.Status = status
	} else if c, d := h.peer.attribute(handle); c == nil {
		ev.Status = statusAttrNotFound
	} else if d != nil {
		ev.Data = append([]byte(nil), d.Value...)
	} else {
		ev.Data = append([]byte(nil), c.Value...)
	}
	h.emitLocked(ev)
	return nil
}

// Write writes a peer attribute or descriptor value
func (h *Host) Write(conn, handle uint16, data []byte, id device.ReqID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	ev := device.WriteCompleteEvent{ID: id, ConnHandle: conn, Handle: handle}
	if status := h.takeFailureLocked("write"); status != 0 {
		ev.Status = status
	} else if c, d := h.peer.attribute(handle); c == nil {
		ev.Status = statusAttrNotFound
	} else if d != nil {
		d.Value = append([]byte(nil), data...)
	} else {
		c.Value = append([]byte(nil), data...)
	}
	h.emitLocked(ev)
	return nil
}

// PeerNotify simulates the peer notifying the characteristic at valueHandle
func (h *Host) PeerNotify(valueHandle uint16, data []byte, indicate bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == device.NoConnection {
		return fmt.Errorf("peer notify: %w", device.ErrNotConnected)
	}
	h.emitLocked(device.NotificationEvent{
		ConnHandle: h.conn,
		Handle:     valueHandle,
		Data:       append([]byte(nil), data...),
		Indication: indicate,
	})
	return nil
}

// RegisterServices installs the local attribute database
func (h *Host) RegisterServices(svcs []*ble.Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.local = svcs
	return nil
}

// LocalServices returns the registered local database
func (h *Host) LocalServices() []*ble.Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.local
}

// Notify records a value pushed to the peer and confirms it
func (h *Host) Notify(conn, handle uint16, data []byte, indicate bool, id device.ReqID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	h.notifications = append(h.notifications, Notification{
		ConnHandle: conn,
		Handle:     handle,
		Data:       append([]byte(nil), data...),
		Indicate:   indicate,
	})
	h.emitLocked(device.TxCompleteEvent{ID: id, ConnHandle: conn, Handle: handle, Status: h.takeFailureLocked("notify")})
	return nil
}

// Notifications returns every value pushed to the peer
func (h *Host) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.notifications))
	copy(out, h.notifications)
	return out
}

// PeerSubscribe simulates the peer writing the local CCCD of valueHandle
func (h *Host) PeerSubscribe(valueHandle uint16, notify, indicate bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(device.SubscribeEvent{ConnHandle: h.conn, Handle: valueHandle, Notify: notify, Indicate: indicate})
}

// PeerAccess simulates a peer read or write of a local attribute. It runs
// the access on the host goroutine and waits for the result.
func (h *Host) PeerAccess(op device.AccessOp, handle uint16, data []byte) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("host closed: %w", device.ErrNotStarted)
	}
	acc := &device.Access{Op: op, ConnHandle: h.conn, Handle: handle, Data: append([]byte(nil), data...)}
	if c := h.localCharacteristic(handle); c != nil {
		if u, err := device.FromBLE(c.UUID); err == nil {
			acc.UUID = u
		}
	}
	h.postLocked(func() {
		h.mu.Lock()
		handler := h.handler
		h.mu.Unlock()
		if handler == nil {
			done <- result{err: fmt.Errorf("no handler: %w", device.ErrNotInitialized)}
			return
		}
		out, err := handler.HandleAccess(acc)
		done <- result{data: out, err: err}
	})
	h.mu.Unlock()

	r := <-done
	return r.data, r.err
}

// localCharacteristic finds the local characteristic owning valueHandle; caller holds h.mu
func (h *Host) localCharacteristic(valueHandle uint16) *ble.Characteristic {
	for _, svc := range h.local {
		for _, c := range svc.Characteristics {
			if c.ValueHandle == valueHandle {
				return c
			}
		}
	}
	return nil
}
