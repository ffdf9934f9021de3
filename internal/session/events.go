package session

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/registry"
)

// HandleEvent routes one host event. It runs on the host goroutine.
func (s *Session) HandleEvent(ev device.Event) {
	if s.disc.HandleEvent(ev) {
		return
	}

	switch e := ev.(type) {
	case device.ConnectedEvent:
		s.onConnected(e)
	case device.DisconnectedEvent:
		s.onDisconnected(e)
	case device.MTUEvent:
		s.onMTU(e)
	case device.AdvReportEvent:
		s.logger.WithFields(logrus.Fields{
			"addr": e.Addr,
			"name": e.Name,
			"rssi": e.RSSI,
		}).Debug("Advertiser found")
		s.pub.Publish(TopicAdvReport, e)
	case device.ReadCompleteEvent:
		if e.Status == 0 {
			s.remote.Set(e.Handle, s.remoteUUID(e.Handle), e.Data)
		}
		s.tracker.Complete(e.ID, completion("read", e.Status, e.Data))
	case device.WriteCompleteEvent:
		if w, ok := s.writes.Get(e.ID); ok {
			s.writes.Del(e.ID)
			if e.Status == 0 {
				s.remote.Set(w.handle, w.uuid, w.data)
			}
		}
		s.tracker.Complete(e.ID, completion("write", e.Status, nil))
	case device.TxCompleteEvent:
		s.tracker.Complete(e.ID, completion("notify", e.Status, nil))
	case device.NotificationEvent:
		s.onNotification(e)
	case device.SubscribeEvent:
		s.onSubscribe(e)
	case device.PeriodicSyncEvent:
		s.pub.Publish(TopicPeriodicSync, e)
	case device.PeriodicReportEvent:
		e.Data = append([]byte(nil), e.Data...)
		s.pub.Publish(TopicPeriodicReport, e)
	case device.PeriodicSyncLostEvent:
		s.pub.Publish(TopicPeriodicSyncLost, e)
	case device.CocEvent:
		s.coc.HandleEvent(e)
	default:
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unhandled host event")
	}
}

func (s *Session) onConnected(e device.ConnectedEvent) {
	if e.Status != 0 {
		s.logger.WithFields(logrus.Fields{
			"addr":   e.PeerAddr,
			"status": e.Status,
		}).Warn("Connection attempt failed")
		s.postLink(LinkEvent{Kind: LinkUp, Status: e.Status})
		return
	}

	s.mu.Lock()
	s.conn = e.ConnHandle
	s.mtu = device.DefaultATTMTU
	s.peerAddr = e.PeerAddr
	s.ownAddr = e.OwnAddr
	s.cccd = make(map[uint16]cccdState)
	s.mu.Unlock()
	s.remote.Reset()
	s.writes.Range(func(id device.ReqID, _ pendingWrite) bool {
		s.writes.Del(id)
		return true
	})

	s.logger.WithFields(logrus.Fields{
		"conn_handle": e.ConnHandle,
		"peer":        e.PeerAddr,
	}).Info("Connected")
	s.postLink(LinkEvent{Kind: LinkUp, ConnHandle: e.ConnHandle})
	s.pub.Publish(TopicConnected, ConnectedPayload{
		ConnHandle: e.ConnHandle,
		PeerAddr:   e.PeerAddr,
		OwnAddr:    e.OwnAddr,
		MTU:        device.DefaultATTMTU,
	})

	if s.cfg.PreferredMTU > device.DefaultATTMTU {
		if err := s.host.ExchangeMTU(e.ConnHandle, s.cfg.PreferredMTU); err != nil {
			s.logger.WithError(err).Warn("MTU exchange request failed")
		}
	}
	if s.cfg.Role.IsCentral() {
		// a failed request aborts through onDiscoveryAbort
		if err := s.disc.Start(e.ConnHandle); err != nil {
			s.logger.WithError(err).Debug("Discovery did not start")
		}
	}
}

func (s *Session) onDisconnected(e device.DisconnectedEvent) {
	s.mu.Lock()
	if s.conn == device.NoConnection || s.conn != e.ConnHandle {
		s.mu.Unlock()
		s.logger.WithField("conn_handle", e.ConnHandle).Debug("Disconnect for a foreign link ignored")
		return
	}
	peer := s.peerAddr
	s.conn = device.NoConnection
	s.mtu = device.DefaultATTMTU
	s.lastReason = e.Reason
	s.cccd = make(map[uint16]cccdState)
	started := s.state == stateStarted
	s.mu.Unlock()

	failed := s.tracker.FailAll(fmt.Errorf("link 0x%04x dropped: %w", e.ConnHandle, device.ErrNotConnected))
	s.disc.Reset()

	s.logger.WithFields(logrus.Fields{
		"conn_handle": e.ConnHandle,
		"reason":      fmt.Sprintf("0x%02x", e.Reason),
		"failed":      failed,
	}).Info("Disconnected")
	s.postLink(LinkEvent{Kind: LinkDown, ConnHandle: e.ConnHandle, Status: e.Reason})
	s.pub.Publish(TopicDisconnected, DisconnectedPayload{ConnHandle: e.ConnHandle, PeerAddr: peer, Reason: e.Reason})

	if started && s.cfg.Role.IsPeripheral() {
		if err := s.advertise(); err != nil {
			s.logger.WithError(err).Warn("Failed to resume advertising")
		}
	}
}

func (s *Session) onMTU(e device.MTUEvent) {
	s.mu.Lock()
	if s.conn != e.ConnHandle {
		s.mu.Unlock()
		return
	}
	s.mtu = e.MTU
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"conn_handle": e.ConnHandle,
		"mtu":         e.MTU,
	}).Debug("MTU updated")
	s.postLink(LinkEvent{Kind: LinkMTU, ConnHandle: e.ConnHandle, MTU: e.MTU})
}

func (s *Session) onNotification(e device.NotificationEvent) {
	uuid := s.remoteUUID(e.Handle)
	s.remote.Set(e.Handle, uuid, e.Data)

	p := DataPayload{
		ConnHandle: e.ConnHandle,
		Handle:     e.Handle,
		Data:       append([]byte(nil), e.Data...),
		Indication: e.Indication,
	}
	if uuid.IsValid() {
		p.UUID = uuid.String()
	}
	s.pub.Publish(TopicDataReceive, p)
}

func (s *Session) onSubscribe(e device.SubscribeEvent) {
	attr, err := s.registry.Attribute(e.Handle)
	if err != nil || attr.Kind != registry.AttrValue || !attr.Def.Properties.CanSubscribe() {
		s.logger.WithField("handle", e.Handle).Warn("Subscription to an unknown characteristic ignored")
		return
	}

	s.mu.Lock()
	s.cccd[e.Handle] = cccdState{notify: e.Notify, indicate: e.Indicate}
	s.mu.Unlock()

	if h, ok := s.registry.CCCDHandle(e.Handle); ok {
		s.local.Set(h, device.UUID{}, cccdValue(e.Notify, e.Indicate))
	}

	s.logger.WithFields(logrus.Fields{
		"handle":   e.Handle,
		"uuid":     attr.Def.UUID.String(),
		"notify":   e.Notify,
		"indicate": e.Indicate,
	}).Debug("Client configuration updated")
	s.pub.Publish(TopicCccdUpdate, CccdPayload{
		ConnHandle: e.ConnHandle,
		Handle:     e.Handle,
		UUID:       attr.Def.UUID.String(),
		Notify:     e.Notify,
		Indicate:   e.Indicate,
	})
}

func cccdValue(notify, indicate bool) []byte {
	return device.ClientConfig{Notifications: notify, Indications: indicate}.Bytes()
}

// HandleAccess serves a peer read or write of a local attribute. It runs on
// the host goroutine while the host waits for the result.
func (s *Session) HandleAccess(acc *device.Access) ([]byte, error) {
	attr, err := s.registry.Attribute(acc.Handle)
	if err != nil {
		return nil, err
	}

	if attr.Kind == registry.AttrCCCD {
		return s.accessCCCD(acc, attr)
	}

	switch acc.Op {
	case device.AccessRead:
		if !attr.Def.Properties.Has(device.PropRead) {
			return nil, fmt.Errorf("characteristic %s is not readable: %w", attr.Def.UUID, device.ErrNotSupported)
		}
		return s.readLocal(attr)
	case device.AccessWrite:
		if !attr.Def.Properties.Has(device.PropWrite) && !attr.Def.Properties.Has(device.PropWriteNoRsp) {
			return nil, fmt.Errorf("characteristic %s is not writable: %w", attr.Def.UUID, device.ErrNotSupported)
		}
		if err := s.writeLocal(attr, acc.Data); err != nil {
			return nil, err
		}
		s.pub.Publish(TopicDataReceive, DataPayload{
			ConnHandle: acc.ConnHandle,
			Handle:     attr.Handle,
			UUID:       attr.Def.UUID.String(),
			Data:       append([]byte(nil), acc.Data...),
			Local:      true,
		})
		return nil, nil
	default:
		return nil, fmt.Errorf("access op %d: %w", acc.Op, device.ErrNotSupported)
	}
}

func (s *Session) accessCCCD(acc *device.Access, attr *registry.Attribute) ([]byte, error) {
	if acc.Op == device.AccessRead {
		if v, ok := s.local.Get(attr.Handle); ok {
			return v, nil
		}
		return cccdValue(false, false), nil
	}
	cfg, err := device.ParseClientConfig(acc.Data)
	if err != nil {
		return nil, err
	}
	s.onSubscribe(device.SubscribeEvent{
		ConnHandle: acc.ConnHandle,
		Handle:     attr.ValueHandle,
		Notify:     cfg.Notifications,
		Indicate:   cfg.Indications,
	})
	return nil, nil
}

func (s *Session) onDiscoveryComplete() {
	conn := s.connHandle()
	s.postLink(LinkEvent{Kind: LinkDiscovered, ConnHandle: conn})
	s.pub.Publish(TopicDiscoveryComplete, DiscoveryPayload{ConnHandle: conn, Services: s.index.Snapshot()})
}

// onDiscoveryAbort drops the link; the application only sees Disconnected
func (s *Session) onDiscoveryAbort(err error) {
	conn := s.connHandle()
	s.postLink(LinkEvent{Kind: LinkDiscoveryFailed, ConnHandle: conn, Err: err})
	if conn == device.NoConnection {
		return
	}
	if derr := s.host.Disconnect(conn, reasonUserTerminated); derr != nil {
		s.logger.WithError(derr).Error("Failed to drop link after discovery abort")
	}
}
