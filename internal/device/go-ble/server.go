package goble

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/groutine"
)

// notifier tracks the open notify and indicate streams of one local characteristic
type notifier struct {
	mu       sync.Mutex
	conn     uint16
	notify   ble.Notifier
	indicate ble.Notifier
}

func (n *notifier) state() (notify, indicate bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notify != nil, n.indicate != nil
}

// RegisterServices installs the local database. go-ble lays out its own
// handles, so the read and write handlers are wrapped to run on the host
// goroutine and value handles stay those of the caller's table.
func (h *Host) RegisterServices(svcs []*ble.Service) error {
	h.mu.Lock()
	clear(h.local)
	clear(h.notifiers)
	for _, svc := range svcs {
		for _, c := range svc.Characteristics {
			handle := c.ValueHandle
			h.local[handle] = c
			h.wrapHandlers(c)

			prop := device.Property(c.Property)
			if !prop.CanSubscribe() {
				continue
			}
			n := &notifier{}
			h.notifiers[handle] = n
			if prop.Has(device.PropNotify) {
				c.HandleNotify(h.notifyHandler(handle, n, false))
			}
			if prop.Has(device.PropIndicate) {
				c.HandleIndicate(h.notifyHandler(handle, n, true))
			}
		}
	}
	h.mu.Unlock()

	if err := h.dev.SetServices(svcs); err != nil {
		return fmt.Errorf("failed to register services: %w", NormalizeError(err))
	}
	h.logger.WithField("services", len(svcs)).Debug("Local services registered")
	return nil
}

// wrapHandlers moves read and write handling onto the host goroutine
func (h *Host) wrapHandlers(c *ble.Characteristic) {
	if rh := c.ReadHandler; rh != nil {
		c.ReadHandler = ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			h.trackPeer(req.Conn())
			h.call(func() { rh.ServeRead(req, rsp) })
		})
	}
	if wh := c.WriteHandler; wh != nil {
		c.WriteHandler = ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			h.trackPeer(req.Conn())
			h.call(func() { wh.ServeWrite(req, rsp) })
		})
	}
}

// call runs fn on the host goroutine and waits for it
func (h *Host) call(fn func()) {
	done := make(chan struct{})
	h.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-h.ctx.Done():
	}
}

// notifyHandler keeps the stream go-ble opens when the peer enables the
// CCCD and reports the change as SubscribeEvent
func (h *Host) notifyHandler(handle uint16, n *notifier, indicate bool) ble.NotifyHandler {
	return ble.NotifyHandlerFunc(func(req ble.Request, stream ble.Notifier) {
		conn := h.trackPeer(req.Conn())

		n.mu.Lock()
		n.conn = conn
		if indicate {
			n.indicate = stream
		} else {
			n.notify = stream
		}
		n.mu.Unlock()
		h.emitSubscription(conn, handle, n)

		<-stream.Context().Done()

		n.mu.Lock()
		if indicate && n.indicate == stream {
			n.indicate = nil
		} else if !indicate && n.notify == stream {
			n.notify = nil
		}
		n.mu.Unlock()
		h.emitSubscription(conn, handle, n)
	})
}

func (h *Host) emitSubscription(conn, handle uint16, n *notifier) {
	notify, indicate := n.state()
	h.emit(device.SubscribeEvent{ConnHandle: conn, Handle: handle, Notify: notify, Indicate: indicate})
}

// trackPeer assigns a connection handle to a peer link the first time the
// server sees it and reports it as ConnectedEvent
func (h *Host) trackPeer(c ble.Conn) uint16 {
	if c == nil {
		return device.NoConnection
	}
	h.mu.Lock()
	if conn, ok := h.peripheralBy[c]; ok {
		h.mu.Unlock()
		return conn
	}
	conn := h.allocConnLocked()
	h.peripheralBy[c] = conn
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{"conn": conn, "peer": c.RemoteAddr().String()}).Info("Peer connected")
	h.emit(device.ConnectedEvent{ConnHandle: conn, PeerAddr: c.RemoteAddr().String(), OwnAddr: c.LocalAddr().String()})
	groutine.Go(h.ctx, "peer-watch", func(ctx context.Context) {
		select {
		case <-c.Disconnected():
		case <-ctx.Done():
			return
		}
		h.mu.Lock()
		delete(h.peripheralBy, c)
		h.mu.Unlock()
		h.emit(device.DisconnectedEvent{ConnHandle: conn, Reason: reasonSupervisionTimeout})
	})
	return conn
}

func (h *Host) peripheralConn(conn uint16) ble.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, handle := range h.peripheralBy {
		if handle == conn {
			return c
		}
	}
	return nil
}

// Notify writes data to the peer's notify or indicate stream of handle
func (h *Host) Notify(conn, handle uint16, data []byte, indicate bool, id device.ReqID) error {
	h.mu.Lock()
	n := h.notifiers[handle]
	h.mu.Unlock()
	if n == nil {
		return &device.NotFoundError{Resource: "handle", UUIDs: []string{fmt.Sprintf("0x%04x", handle)}}
	}

	n.mu.Lock()
	stream := n.notify
	if indicate {
		stream = n.indicate
	}
	n.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("peer has no open stream on 0x%04x: %w", handle, device.ErrInvalidState)
	}

	data = bytes.Clone(data)
	h.enqueue(func() {
		ev := device.TxCompleteEvent{ID: id, ConnHandle: conn, Handle: handle}
		if _, err := stream.Write(data); err != nil {
			ev.Status = statusOf(err)
		}
		h.emit(ev)
	})
	return nil
}
