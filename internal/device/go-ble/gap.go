package goble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/groutine"
)

// Advertise starts connectable advertising of name and the service UUIDs
func (h *Host) Advertise(name string, services []device.UUID) error {
	h.mu.Lock()
	if h.advCancel != nil {
		h.mu.Unlock()
		return fmt.Errorf("already advertising: %w", device.ErrBusy)
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.advCancel = cancel
	h.mu.Unlock()

	uuids := make([]ble.UUID, 0, len(services))
	for _, u := range services {
		uuids = append(uuids, u.BLE())
	}

	groutine.Go(ctx, "advertiser", func(ctx context.Context) {
		err := h.dev.AdvertiseNameAndServices(ctx, name, uuids...)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.WithError(NormalizeError(err)).Warn("Advertising stopped")
		}
		h.mu.Lock()
		if ctx.Err() == nil {
			h.advCancel = nil
		}
		h.mu.Unlock()
	})
	h.logger.WithFields(logrus.Fields{"name": name, "services": len(uuids)}).Debug("Advertising started")
	return nil
}

// StopAdvertising cancels advertising; it is a no-op when idle
func (h *Host) StopAdvertising() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.advCancel != nil {
		h.advCancel()
		h.advCancel = nil
	}
	return nil
}

// Scan reports advertisers as AdvReportEvent. A non-empty filter keeps only
// advertisers listing at least one of the UUIDs.
func (h *Host) Scan(filter []device.UUID) error {
	h.mu.Lock()
	if h.scanCancel != nil {
		h.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.scanCancel = cancel
	h.mu.Unlock()

	handler := func(adv ble.Advertisement) {
		if !advertises(adv, filter) {
			return
		}
		h.emit(device.AdvReportEvent{Addr: adv.Addr().String(), Name: adv.LocalName(), RSSI: adv.RSSI()})
	}

	groutine.Go(ctx, "scanner", func(ctx context.Context) {
		err := h.dev.Scan(ctx, false, handler)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.WithError(NormalizeError(err)).Warn("Scan stopped")
		}
	})
	return nil
}

func advertises(adv ble.Advertisement, filter []device.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range adv.Services() {
		u, err := device.FromBLE(s)
		if err != nil {
			continue
		}
		for _, f := range filter {
			if u.Equal(f) {
				return true
			}
		}
	}
	return false
}

// StopScan cancels scanning; it is a no-op when idle
func (h *Host) StopScan() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scanCancel != nil {
		h.scanCancel()
		h.scanCancel = nil
	}
	return nil
}

// Connect dials addr. The outcome arrives as ConnectedEvent; a failed dial
// carries statusConnectFailed.
func (h *Host) Connect(addr string) error {
	h.mu.Lock()
	if h.client != nil {
		conn := h.conn
		h.mu.Unlock()
		return fmt.Errorf("link 0x%04x already open: %w", conn, device.ErrAlreadyConnected)
	}
	h.mu.Unlock()

	groutine.Go(h.ctx, "dialer", func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, h.dialTimeout)
		defer cancel()

		h.logger.WithField("address", addr).Debug("Dialing BLE device...")
		client, err := h.dev.Dial(dialCtx, ble.NewAddr(addr))
		if err != nil {
			h.logger.WithFields(logrus.Fields{"address": addr, "error": err}).Warn("Failed to dial BLE device")
			h.emit(device.ConnectedEvent{Status: statusConnectFailed, PeerAddr: addr})
			return
		}

		h.mu.Lock()
		conn := h.allocConnLocked()
		h.client = client
		h.conn = conn
		h.closeReason = reasonSupervisionTimeout
		h.services = nil
		clear(h.chars)
		clear(h.descriptors)
		clear(h.cccdOwner)
		h.mu.Unlock()

		own := ""
		if c := client.Conn(); c != nil {
			own = c.LocalAddr().String()
		}
		h.emit(device.ConnectedEvent{ConnHandle: conn, PeerAddr: client.Addr().String(), OwnAddr: own})
		groutine.Go(ctx, "link-watch", func(context.Context) { h.watchClient(client, conn) })
	})
	return nil
}

func (h *Host) allocConnLocked() uint16 {
	conn := h.nextConn
	h.nextConn++
	if h.nextConn > device.MaxConnHandle {
		h.nextConn = device.MinConnHandle
	}
	return conn
}

// watchClient reports the end of a central link
func (h *Host) watchClient(client ble.Client, conn uint16) {
	select {
	case <-client.Disconnected():
	case <-h.ctx.Done():
		return
	}

	h.mu.Lock()
	reason := h.closeReason
	if h.client == client {
		h.client = nil
		h.conn = device.NoConnection
	}
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{"conn": conn, "reason": reason}).Info("Link closed")
	h.emit(device.DisconnectedEvent{ConnHandle: conn, Reason: reason})
}

// Disconnect terminates conn, either the central link or a peer link
func (h *Host) Disconnect(conn uint16, reason uint8) error {
	h.mu.Lock()
	if h.client != nil && h.conn == conn {
		client := h.client
		h.closeReason = int(reason)
		h.mu.Unlock()
		return NormalizeError(client.CancelConnection())
	}
	for c, handle := range h.peripheralBy {
		if handle == conn {
			h.mu.Unlock()
			return NormalizeError(c.Close())
		}
	}
	h.mu.Unlock()
	return fmt.Errorf("link 0x%04x: %w", conn, device.ErrNotConnected)
}

// ExchangeMTU negotiates the ATT MTU of the central link
func (h *Host) ExchangeMTU(conn uint16, mtu uint16) error {
	client, err := h.clientFor(conn)
	if err != nil {
		// peer links negotiate on their own; report what the stack agreed
		if c := h.peripheralConn(conn); c != nil {
			h.emit(device.MTUEvent{ConnHandle: conn, MTU: uint16(c.TxMTU())})
			return nil
		}
		return err
	}
	h.enqueue(func() {
		tx, err := client.ExchangeMTU(int(mtu))
		if err != nil {
			h.logger.WithError(err).Warn("MTU exchange failed")
			return
		}
		h.emit(device.MTUEvent{ConnHandle: conn, MTU: uint16(tx)})
	})
	return nil
}

func (h *Host) clientFor(conn uint16) (ble.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil || h.conn != conn {
		return nil, fmt.Errorf("link 0x%04x: %w", conn, device.ErrNotConnected)
	}
	return h.client, nil
}
