package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
)

// LinkKind tells link notifications apart
type LinkKind int

const (
	LinkUp LinkKind = iota
	LinkDown
	LinkMTU
	LinkDiscovered
	LinkDiscoveryFailed
)

func (k LinkKind) String() string {
	switch k {
	case LinkUp:
		return "up"
	case LinkDown:
		return "down"
	case LinkMTU:
		return "mtu"
	case LinkDiscovered:
		return "discovered"
	case LinkDiscoveryFailed:
		return "discovery_failed"
	default:
		return "unknown"
	}
}

// LinkEvent is posted by the host goroutine to the bounded link queue that
// Connect and Disconnect wait on. Status carries the connect status for
// LinkUp and the HCI reason for LinkDown.
type LinkEvent struct {
	Kind       LinkKind
	ConnHandle uint16
	Status     int
	MTU        uint16
	Err        error
}

// Connect opens a link to addr and returns once the peer database is
// discovered. Central roles only.
func (s *Session) Connect(ctx context.Context, addr string) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	if !s.cfg.Role.IsCentral() {
		return fmt.Errorf("connect in %s role: %w", s.cfg.Role, device.ErrNotSupported)
	}
	if addr == "" {
		return device.InvalidArgf("peer address is empty")
	}
	if conn := s.connHandle(); conn != device.NoConnection {
		return fmt.Errorf("link 0x%04x is open: %w", conn, device.ErrAlreadyConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.links.Drain()
	if err := s.host.StopScan(); err != nil {
		s.logger.WithError(err).Debug("Stop scan before connect failed")
	}

	s.logger.WithField("addr", addr).Info("Connecting...")
	if err := s.host.Connect(addr); err != nil {
		return device.NormalizeError(err)
	}

	for {
		ev, err := s.links.Receive(ctx)
		if err != nil {
			return s.waitError("connect to "+addr, err)
		}
		switch ev.Kind {
		case LinkUp:
			if ev.Status != 0 {
				return device.StatusError("connect", ev.Status)
			}
		case LinkDiscovered:
			return nil
		case LinkDiscoveryFailed:
			return fmt.Errorf("peer discovery: %w", ev.Err)
		case LinkDown:
			return fmt.Errorf("link dropped during connect (reason 0x%02x): %w", ev.Status, device.ErrNotConnected)
		}
	}
}

// Disconnect terminates the current link and waits for the host to confirm
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	conn := s.connHandle()
	if conn == device.NoConnection {
		return fmt.Errorf("disconnect: %w", device.ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.links.Drain()
	if err := s.host.Disconnect(conn, reasonUserTerminated); err != nil {
		return device.NormalizeError(err)
	}
	for {
		ev, err := s.links.Receive(ctx)
		if err != nil {
			return s.waitError("disconnect", err)
		}
		if ev.Kind == LinkDown {
			return nil
		}
	}
}

// WaitLink blocks until the next link notification, e.g. a peer connecting
// to the advertising device
func (s *Session) WaitLink(ctx context.Context) (LinkEvent, error) {
	if err := s.requireAlive(); err != nil {
		return LinkEvent{}, err
	}
	return s.links.Receive(ctx)
}

func (s *Session) waitError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s after %s: %w", op, s.cfg.ConnectTimeout, device.ErrTimeout)
	}
	return err
}

func (s *Session) postLink(ev LinkEvent) {
	if s.links.Send(ev) {
		s.logger.WithFields(logrus.Fields{
			"kind":        ev.Kind.String(),
			"conn_handle": ev.ConnHandle,
		}).Debug("Link queue full, oldest notification dropped")
	}
}
