package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/groutine"
	"github.com/srg/blecm/internal/hostsim"
)

const (
	simPeerName       = "blecm-sim"
	simDefaultAddress = "AA:BB:CC:DD:EE:FF"
	simCocPSM         = 0x0080
	simCocMTU         = 512
)

var simTickInterval = 50 * time.Millisecond

// simulatedPeer is the device behind --simulate: battery, device
// information and a writable custom characteristic
func simulatedPeer(addr string) *hostsim.Peer {
	if addr == "" {
		addr = simDefaultAddress
	}
	return &hostsim.Peer{
		Address: addr,
		Name:    simPeerName,
		RSSI:    -42,
		MTU:     185,
		Services: []*hostsim.PeerService{
			{
				UUID: device.UUID16(0x180F),
				Characteristics: []*hostsim.PeerCharacteristic{{
					UUID:       device.UUID16(0x2A19),
					Properties: device.PropRead | device.PropNotify,
					Value:      []byte{100},
					Descriptors: []hostsim.PeerDescriptor{
						{UUID: device.ClientConfigUUID, Value: []byte{0x00, 0x00}},
						{UUID: device.UserDescriptionUUID, Value: []byte("Battery Level")},
						{UUID: device.PresentationFormatUUID, Value: []byte{0x04, 0x00, 0xAD, 0x27, 0x01, 0x00, 0x00}},
					},
				}},
			},
			{
				UUID: device.UUID16(0x180A),
				Characteristics: []*hostsim.PeerCharacteristic{
					{UUID: device.UUID16(0x2A29), Properties: device.PropRead, Value: []byte(simPeerName)},
					{UUID: device.UUID16(0x2A24), Properties: device.PropRead, Value: []byte("SIM-1")},
				},
			},
			{
				UUID: device.UUID16(0xFFE0),
				Characteristics: []*hostsim.PeerCharacteristic{{
					UUID:       device.UUID16(0xFFE1),
					Properties: device.PropRead | device.PropWrite | device.PropNotify,
					Value:      []byte("hello"),
					Descriptors: []hostsim.PeerDescriptor{
						{UUID: device.ClientConfigUUID, Value: []byte{0x00, 0x00}},
					},
				}},
			},
		},
	}
}

// simulation drives the simulated peer. As a peripheral's client it
// connects to the advertising session and subscribes to everything that
// notifies; as a central's peer it streams a draining battery level.
type simulation struct {
	host    *hostsim.Host
	role    device.Role
	logger  *logrus.Logger
	battery uint16

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSimulation(role device.Role, peerAddr string, logger *logrus.Logger) *simulation {
	peer := simulatedPeer(peerAddr)
	host := hostsim.New(peer, logger)
	host.PeerCocListen(simCocPSM, simCocMTU)

	sim := &simulation{host: host, role: role, logger: logger}
	if c := peer.Characteristic(device.UUID16(0x2A19)); c != nil {
		sim.battery = c.ValueHandle
	}

	ctx, cancel := context.WithCancel(context.Background())
	sim.cancel = cancel
	sim.wg.Add(1)
	groutine.Go(ctx, "sim-peer", func(ctx context.Context) {
		defer sim.wg.Done()
		sim.run(ctx)
	})
	return sim
}

func (s *simulation) run(ctx context.Context) {
	ticker := time.NewTicker(simTickInterval)
	defer ticker.Stop()

	level := byte(100)
	joined, cocOpen := false, false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.role.IsPeripheral() {
			if !joined && s.host.Advertising() {
				joined = true
				s.joinLocal()
			}
			if joined && !cocOpen {
				cocOpen = s.pingLocalCoc()
			}
			continue
		}
		if s.host.ConnHandle() == device.NoConnection || s.battery == 0 {
			continue
		}
		if level--; level == 0 {
			level = 100
		}
		if err := s.host.PeerNotify(s.battery, []byte{level}, false); err != nil {
			s.logger.WithError(err).Debug("Simulated notification dropped")
		}
	}
}

// joinLocal connects to the local GATT server and enables every CCCD
func (s *simulation) joinLocal() {
	conn := s.host.PeerConnect()
	s.logger.WithField("conn", conn).Debug("Simulated peer connected")
	for _, svc := range s.host.LocalServices() {
		for _, c := range svc.Characteristics {
			if device.Property(c.Property).CanSubscribe() {
				s.host.PeerSubscribe(c.ValueHandle, true, false)
			}
		}
	}
}

// pingLocalCoc opens a channel to a local CoC server on simCocPSM and sends
// one SDU; false means no server is listening yet
func (s *simulation) pingLocalCoc() bool {
	ch, err := s.host.PeerCocConnect(simCocPSM, simCocMTU, simCocMTU)
	if err != nil {
		return false
	}
	if err := s.host.PeerCocSend(ch, []byte("ping")); err != nil {
		s.logger.WithError(err).Debug("Simulated CoC send failed")
	}
	return true
}

func (s *simulation) Close() {
	s.cancel()
	s.wg.Wait()
	s.host.Close()
}
