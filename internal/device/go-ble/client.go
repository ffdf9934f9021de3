package goble

import (
	"bytes"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
)

// DiscoverServices reports every primary service of the peer
func (h *Host) DiscoverServices(conn uint16) error {
	client, err := h.clientFor(conn)
	if err != nil {
		return err
	}
	h.enqueue(func() {
		svcs, err := client.DiscoverServices(nil)
		if err != nil {
			h.emit(device.ServicesDoneEvent{ConnHandle: conn, Status: statusOf(err)})
			return
		}
		h.mu.Lock()
		h.services = svcs
		h.mu.Unlock()

		for _, s := range svcs {
			u, err := device.FromBLE(s.UUID)
			if err != nil {
				h.logger.WithField("uuid", s.UUID.String()).Warn("Skipping service with malformed UUID")
				continue
			}
			h.emit(device.ServiceFoundEvent{
				ConnHandle: conn,
				UUID:       u,
				Range:      device.HandleRange{Start: s.Handle, End: s.EndHandle},
			})
		}
		h.emit(device.ServicesDoneEvent{ConnHandle: conn})
	})
	return nil
}

// DiscoverCharacteristics reports the characteristics declared within r
func (h *Host) DiscoverCharacteristics(conn uint16, r device.HandleRange) error {
	client, err := h.clientFor(conn)
	if err != nil {
		return err
	}
	h.enqueue(func() {
		svc := h.serviceAt(r.Start)
		if svc == nil {
			h.emit(device.CharacteristicsDoneEvent{ConnHandle: conn, Status: statusAttrNotFound})
			return
		}
		chars, err := client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			h.emit(device.CharacteristicsDoneEvent{ConnHandle: conn, Status: statusOf(err)})
			return
		}
		for _, c := range chars {
			if !r.Contains(c.Handle) {
				continue
			}
			u, err := device.FromBLE(c.UUID)
			if err != nil {
				continue
			}
			h.mu.Lock()
			h.chars[c.ValueHandle] = c
			h.mu.Unlock()
			h.emit(device.CharacteristicFoundEvent{
				ConnHandle:  conn,
				UUID:        u,
				DefHandle:   c.Handle,
				ValueHandle: c.ValueHandle,
				Properties:  device.Property(c.Property),
			})
		}
		h.emit(device.CharacteristicsDoneEvent{ConnHandle: conn})
	})
	return nil
}

// DiscoverDescriptors reports the descriptors within r, which follows a
// characteristic value handle
func (h *Host) DiscoverDescriptors(conn uint16, r device.HandleRange) error {
	client, err := h.clientFor(conn)
	if err != nil {
		return err
	}
	h.enqueue(func() {
		h.mu.Lock()
		owner := h.chars[r.Start-1]
		h.mu.Unlock()
		if owner == nil {
			h.emit(device.DescriptorsDoneEvent{ConnHandle: conn})
			return
		}
		descs, err := client.DiscoverDescriptors(nil, owner)
		if err != nil {
			h.emit(device.DescriptorsDoneEvent{ConnHandle: conn, Status: statusOf(err)})
			return
		}
		for _, d := range descs {
			if !r.Contains(d.Handle) {
				continue
			}
			u, err := device.FromBLE(d.UUID)
			if err != nil {
				continue
			}
			h.mu.Lock()
			h.descriptors[d.Handle] = d
			if u.Equal(device.ClientConfigUUID) {
				h.cccdOwner[d.Handle] = owner
			}
			h.mu.Unlock()
			h.emit(device.DescriptorFoundEvent{ConnHandle: conn, UUID: u, Handle: d.Handle})
		}
		h.emit(device.DescriptorsDoneEvent{ConnHandle: conn})
	})
	return nil
}

func (h *Host) serviceAt(handle uint16) *ble.Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.services {
		if s.Handle <= handle && handle <= s.EndHandle {
			return s
		}
	}
	return nil
}

// Read reads a characteristic value or descriptor of the peer
func (h *Host) Read(conn, handle uint16, id device.ReqID) error {
	client, err := h.clientFor(conn)
	if err != nil {
		return err
	}
	h.enqueue(func() {
		ev := device.ReadCompleteEvent{ID: id, ConnHandle: conn, Handle: handle}
		h.mu.Lock()
		c, d := h.chars[handle], h.descriptors[handle]
		h.mu.Unlock()

		var (
			data []byte
			err  error
		)
		switch {
		case c != nil:
			data, err = client.ReadCharacteristic(c)
		case d != nil:
			data, err = client.ReadDescriptor(d)
		default:
			ev.Status = statusInvalidHandle
		}
		if err != nil {
			ev.Status = statusOf(err)
		}
		ev.Data = data
		h.emit(ev)
	})
	return nil
}

// Write writes a characteristic value or descriptor of the peer. Writes to a
// client configuration descriptor go through go-ble's subscription API so
// that notifications are routed back as NotificationEvent.
func (h *Host) Write(conn, handle uint16, data []byte, id device.ReqID) error {
	client, err := h.clientFor(conn)
	if err != nil {
		return err
	}
	data = bytes.Clone(data)
	h.enqueue(func() {
		ev := device.WriteCompleteEvent{ID: id, ConnHandle: conn, Handle: handle}
		h.mu.Lock()
		c, d, owner := h.chars[handle], h.descriptors[handle], h.cccdOwner[handle]
		h.mu.Unlock()

		var err error
		switch {
		case owner != nil:
			err = h.configure(client, conn, owner, data)
		case c != nil:
			err = client.WriteCharacteristic(c, data, false)
		case d != nil:
			err = client.WriteDescriptor(d, data)
		default:
			ev.Status = statusInvalidHandle
		}
		if err != nil {
			ev.Status = statusOf(err)
		}
		h.emit(ev)
	})
	return nil
}

// configure applies a CCCD value: bit 0 notifications, bit 1 indications
func (h *Host) configure(client ble.Client, conn uint16, c *ble.Characteristic, value []byte) error {
	if len(value) != 2 {
		return ble.ErrInvalAttrValueLen
	}
	notify, indicate := value[0]&0x01 != 0, value[0]&0x02 != 0

	log := h.logger.WithFields(logrus.Fields{"handle": c.ValueHandle, "notify": notify, "indicate": indicate})
	if !notify && !indicate {
		log.Debug("Unsubscribing")
		if err := client.Unsubscribe(c, false); err != nil {
			return err
		}
		if c.Property&ble.CharIndicate != 0 {
			return client.Unsubscribe(c, true)
		}
		return nil
	}

	handler := func(ind bool) ble.NotificationHandler {
		return func(data []byte) {
			h.emit(device.NotificationEvent{
				ConnHandle: conn,
				Handle:     c.ValueHandle,
				Data:       bytes.Clone(data),
				Indication: ind,
			})
		}
	}
	if notify {
		if err := client.Subscribe(c, false, handler(false)); err != nil {
			return err
		}
	}
	if indicate {
		if err := client.Subscribe(c, true, handler(true)); err != nil {
			return err
		}
	}
	log.Debug("Subscribed")
	return nil
}
