package l2cap

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
)

// HandleEvent processes a host CoC event. It runs on the host goroutine and
// invokes channel callbacks without holding the manager lock.
func (m *Manager) HandleEvent(ev device.CocEvent) {
	log := m.logger.WithFields(logrus.Fields{
		"event":       ev.Type.String(),
		"conn_handle": ev.ConnHandle,
		"chan":        ev.Chan,
		"status":      ev.Status,
	})
	log.Debug("L2CAP CoC event")

	switch ev.Type {
	case device.CocConnected:
		m.onConnected(ev, log)
	case device.CocAccept:
		m.onAccept(ev, log)
	case device.CocDataReceived:
		m.onData(ev, log)
	case device.CocTxUnstalled:
		if ch := m.unstall(ev.Chan); ch != nil {
			m.deliver(ch, &Event{Type: ev.Type, Status: ev.Status, ConnHandle: ev.ConnHandle, Chan: ch})
		}
	case device.CocDisconnected:
		m.onDisconnected(ev, log)
	case device.CocReconfigCompleted, device.CocPeerReconfigured:
		if ch := m.channel(ev.Chan); ch != nil {
			m.deliver(ch, &Event{Type: ev.Type, Status: ev.Status, ConnHandle: ev.ConnHandle, Chan: ch})
		}
	default:
		log.Warn("Unknown L2CAP CoC event")
	}
}

func (m *Manager) onConnected(ev device.CocEvent, log *logrus.Entry) {
	m.mu.Lock()
	var ch *Channel
	if ev.Token != 0 {
		ch = m.pending[ev.Token]
		delete(m.pending, ev.Token)
		if ch != nil && ev.Status == 0 {
			ch.handle = ev.Chan
			m.channels[ev.Chan] = ch
		}
	} else {
		ch = m.channels[ev.Chan]
	}
	if ch == nil {
		m.mu.Unlock()
		log.Warn("Connected event for unknown CoC channel")
		return
	}
	if ev.Status != 0 {
		delete(m.channels, ev.Chan)
		m.releaseRx(ch)
	}
	m.mu.Unlock()

	if ev.Status == 0 {
		ch.connected.Store(true)
		log.WithField("psm", ch.psm).Info("L2CAP CoC channel connected")
	} else {
		log.WithField("psm", ch.psm).Warn("L2CAP CoC channel connect failed")
	}
	m.deliver(ch, &Event{Type: ev.Type, Status: ev.Status, ConnHandle: ev.ConnHandle, Chan: ch})
}

func (m *Manager) onAccept(ev device.CocEvent, log *logrus.Entry) {
	m.mu.Lock()
	srv := m.servers[ev.PSM]
	if srv == nil {
		m.mu.Unlock()
		log.WithField("psm", ev.PSM).Warn("Accept for PSM without server")
		_ = m.host.CocDisconnect(ev.Chan)
		return
	}
	if len(m.channels)+len(m.pending) >= m.cfg.MaxChannels {
		m.mu.Unlock()
		log.Warn("CoC channel limit reached, rejecting")
		_ = m.host.CocDisconnect(ev.Chan)
		return
	}
	ch := &Channel{handle: ev.Chan, connHandle: ev.ConnHandle, psm: srv.psm, mtu: srv.mtu, cb: srv.cb, arg: srv.arg}
	m.channels[ev.Chan] = ch
	m.mu.Unlock()

	err := ch.cb(&Event{Type: ev.Type, ConnHandle: ev.ConnHandle, Chan: ch, PeerSDUSize: ev.PeerSDUSize, Arg: ch.arg})
	if err != nil {
		log.WithError(err).Info("CoC channel rejected by server callback")
		m.mu.Lock()
		delete(m.channels, ev.Chan)
		m.releaseRx(ch)
		m.mu.Unlock()
		_ = m.host.CocDisconnect(ev.Chan)
	}
}

func (m *Manager) onData(ev device.CocEvent, log *logrus.Entry) {
	ch := m.channel(ev.Chan)
	if ch == nil {
		log.Warn("Data for unknown CoC channel")
		return
	}

	m.mu.Lock()
	rx := ch.rx
	ch.rx = nil
	m.mu.Unlock()

	if rx == nil {
		log.Warn("CoC SDU received without a receive buffer")
		return
	}
	n := copy(rx, ev.SDU)
	if n < len(ev.SDU) {
		log.WithField("len", len(ev.SDU)).Warn("CoC SDU truncated to receive buffer")
	}

	m.deliver(ch, &Event{Type: ev.Type, ConnHandle: ev.ConnHandle, Chan: ch, SDU: rx[:n]})

	// the SDU was borrowed for the callback only
	m.mu.Lock()
	if m.pool != nil {
		m.putBuf(m.pool, rx)
	}
	m.mu.Unlock()
}

func (m *Manager) onDisconnected(ev device.CocEvent, log *logrus.Entry) {
	m.mu.Lock()
	ch := m.channels[ev.Chan]
	delete(m.channels, ev.Chan)
	m.mu.Unlock()

	if ch == nil {
		log.Debug("Disconnected event for unknown CoC channel")
		return
	}
	ch.connected.Store(false)
	ch.stalled.Store(false)
	m.deliver(ch, &Event{Type: ev.Type, Status: ev.Status, ConnHandle: ev.ConnHandle, Chan: ch})

	m.mu.Lock()
	m.releaseRx(ch)
	m.mu.Unlock()
	log.Info("L2CAP CoC channel disconnected")
}

// unstall clears the stall flag and invalidates stalls recorded by sends
// that were in flight when credit came back
func (m *Manager) unstall(h device.ChanHandle) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.channels[h]
	if ch != nil {
		ch.txGen++
		ch.stalled.Store(false)
	}
	return ch
}

func (m *Manager) channel(h device.ChanHandle) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[h]
}

func (m *Manager) deliver(ch *Channel, ev *Event) {
	ev.Arg = ch.arg
	if err := ch.cb(ev); err != nil {
		m.logger.WithFields(logrus.Fields{
			"chan":  ch.handle,
			"event": ev.Type.String(),
			"error": err,
		}).Debug("CoC callback returned error")
	}
}
