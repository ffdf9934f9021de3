//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/hostsim"
	"github.com/srg/blecm/internal/l2cap"
	"github.com/srg/blecm/internal/registry"
	"github.com/srg/blecm/internal/session"
	"github.com/srg/blecm/internal/testutils"
	"github.com/srg/blecm/pkg/config"
	"github.com/srgg/testify/depend"
)

const peerAddr = "AA:BB:CC:DD:EE:FF"

var (
	customSvc  = device.UUID16(0xABF0)
	customChr  = device.UUID16(0xABF1)
	batterySvc = device.UUID16(0x180F)
	batteryLvl = device.UUID16(0x2A19)
	configSvc  = device.UUID16(0xABCD)
	configChr  = device.UUID16(0xABCE)
)

// SessionTestSuite drives the session against the simulated host
type SessionTestSuite struct {
	testutils.HostSimSuite
}

func (s *SessionTestSuite) SetupTest() {
	s.Peer = &hostsim.Peer{
		Address: peerAddr,
		Name:    "sim-sensor",
		MTU:     185,
		Services: []*hostsim.PeerService{
			{
				UUID: batterySvc,
				Characteristics: []*hostsim.PeerCharacteristic{{
					UUID:        batteryLvl,
					Properties:  device.PropRead | device.PropNotify,
					Value:       []byte{85},
					Descriptors: []hostsim.PeerDescriptor{{UUID: device.ClientConfigUUID, Value: []byte{0, 0}}},
				}},
			},
			{
				UUID: configSvc,
				Characteristics: []*hostsim.PeerCharacteristic{{
					UUID:       configChr,
					Properties: device.PropRead | device.PropWrite,
					Value:      []byte{0},
				}},
			},
		},
	}
	s.HostSimSuite.SetupTest()
}

func (s *SessionTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	s.T().Cleanup(cancel)
	return ctx
}

// customService is 0xABF0 with one READ|WRITE|NOTIFY characteristic whose
// access callback counts invocations
func customService(calls *atomic.Int32) registry.ServiceDef {
	return registry.ServiceDef{
		UUID: customSvc,
		Characteristics: []registry.CharacteristicDef{{
			Name:       "data",
			UUID:       customChr,
			Properties: device.PropRead | device.PropWrite | device.PropNotify,
			Access: func(op device.AccessOp, in []byte) ([]byte, error) {
				calls.Add(1)
				if op == device.AccessRead {
					return []byte{0xEE}, nil
				}
				return nil, nil
			},
		}},
	}
}

func (s *SessionTestSuite) startPeripheral(calls *atomic.Int32) *session.Session {
	sess := s.InitSession()
	s.Require().NoError(sess.AddService(customService(calls)))
	s.Require().NoError(sess.Start(), "session MUST start")
	return sess
}

func (s *SessionTestSuite) peerConnect() uint16 {
	conn := s.Host.PeerConnect()
	s.Require().True(s.Events.WaitFor(session.TopicConnected, 1, s.Timeout), "Connected MUST be published")
	return conn
}

func (s *SessionTestSuite) connectCentral() *session.Session {
	s.Config.Role = device.RoleCentral
	sess := s.StartSession()
	s.Require().NoError(sess.Connect(s.ctx(), peerAddr), "connect MUST succeed")
	return sess
}

func (s *SessionTestSuite) TestEndToEndLocalWriteThenRead() {
	// GOAL: Verify a local write lands in the cache and a later read is served from it
	//
	// TEST SCENARIO: 0xABF0/0xABF1 READ|WRITE|NOTIFY → Start → peer connects
	//   → Write([1,2]) → cache holds [1,2] → Read returns [1,2] without a second callback

	var calls atomic.Int32
	sess := s.startPeripheral(&calls)
	s.peerConnect()

	s.Require().NoError(sess.Write(s.ctx(), session.UUIDKey(customChr), []byte{1, 2}), "write MUST succeed")
	s.Equal(int32(1), calls.Load(), "write MUST pass through the access callback once")

	// the peer sees the cached value, so the cache holds it
	cached, err := s.Host.PeerAccess(device.AccessRead, 3, nil)
	s.Require().NoError(err)
	s.Equal([]byte{1, 2}, cached, "cache MUST hold the written value")

	data, err := sess.Read(s.ctx(), session.UUIDKey(customChr))
	s.Require().NoError(err, "read MUST succeed")
	s.Equal([]byte{1, 2}, data)
	s.Equal(int32(1), calls.Load(), "read MUST NOT invoke the access callback again")
}

func (s *SessionTestSuite) TestLocalReadMissPopulatesCache() {
	var calls atomic.Int32
	sess := s.startPeripheral(&calls)

	for i := 0; i < 3; i++ {
		data, err := sess.Read(s.ctx(), session.ServiceKey(customSvc, customChr))
		s.Require().NoError(err)
		s.Equal([]byte{0xEE}, data)
	}
	s.Equal(int32(1), calls.Load(), "only the first read MAY reach the access callback")
}

func (s *SessionTestSuite) TestLifecycle() {
	s.Run("second init is rejected", func() {
		s.InitSession()
		_, err := session.Init(s.Config, s.Host, nil, s.Logger)
		s.ErrorIs(err, device.ErrInvalidState)
		s.True(device.IsLifecycleState(err, device.AlreadyInitialized))
	})

	s.Run("ordering is enforced", func() {
		sess := s.Session
		s.ErrorIs(sess.Stop(), device.ErrNotStarted, "stop before start MUST fail")
		_, err := sess.Read(s.ctx(), session.UUIDKey(customChr))
		s.ErrorIs(err, device.ErrNotStarted)

		s.Require().NoError(sess.Start())
		s.ErrorIs(sess.Start(), device.ErrBusy, "double start MUST fail")
		s.ErrorIs(sess.Deinit(), device.ErrNotStopped, "deinit while started MUST fail")
		s.ErrorIs(sess.AddService(customService(new(atomic.Int32))), device.ErrBusy)

		s.Require().NoError(sess.Stop())
		s.Require().NoError(sess.Start(), "restart after stop MUST succeed")
		s.Require().NoError(sess.Stop())
		s.Require().NoError(sess.Deinit())
	})

	s.Run("deinitialized session rejects accessors", func() {
		sess := s.Session
		_, err := sess.MTU()
		s.ErrorIs(err, device.ErrInvalidState)
		_, err = sess.Services()
		s.ErrorIs(err, device.ErrInvalidState)
		_, err = sess.DiscoveryState()
		s.ErrorIs(err, device.ErrInvalidState)
		s.ErrorIs(sess.Start(), device.ErrInvalidState)
		s.ErrorIs(sess.Deinit(), device.ErrInvalidState)
		s.Session = nil
	})

	s.Run("a new session may follow", func() {
		s.InitSession()
	})

	s.Equal([]string{session.TopicStarted, session.TopicStopped, session.TopicStarted, session.TopicStopped},
		s.Events.Topics())
}

func (s *SessionTestSuite) TestInitValidation() {
	// GOAL: Verify Init rejects a hand-built config that Load would have refused
	//
	// TEST SCENARIO: zero link queue / mtu 5 / zero request timeout / nil config
	//   → ErrInvalidArgument each, no session claimed → valid config → Init succeeds

	base := *s.Config
	invalid := map[string]func(c *config.Config){
		"zero link queue":      func(c *config.Config) { c.LinkQueueSize = 0 },
		"mtu below minimum":    func(c *config.Config) { c.PreferredMTU = 5 },
		"mtu above maximum":    func(c *config.Config) { c.PreferredMTU = 600 },
		"zero request timeout": func(c *config.Config) { c.RequestTimeout = 0 },
	}
	for name, mutate := range invalid {
		s.Run(name, func() {
			cfg := base
			mutate(&cfg)
			_, err := session.Init(&cfg, s.Host, nil, s.Logger)
			s.ErrorIs(err, device.ErrInvalidArgument, "invalid config MUST be rejected by Init")
		})
	}

	_, err := session.Init(nil, s.Host, nil, s.Logger)
	s.ErrorIs(err, device.ErrInvalidArgument)

	s.InitSession()
}

func (s *SessionTestSuite) TestPeerWriteDuringLocalReadMiss() {
	// GOAL: Verify a peer write that lands while a local read is populating the
	//   cache is not overwritten by the read callback's older value
	//
	// TEST SCENARIO: local Read misses the cache → read callback blocks → peer writes [9]
	//   → peer write waits for the callback → callback returns 0xEE → peer write applies
	//   → later Read returns [9]

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sess := s.InitSession()
	s.Require().NoError(sess.AddService(registry.ServiceDef{
		UUID: customSvc,
		Characteristics: []registry.CharacteristicDef{{
			Name:       "slow",
			UUID:       customChr,
			Properties: device.PropRead | device.PropWrite,
			Access: func(op device.AccessOp, in []byte) ([]byte, error) {
				if op != device.AccessRead {
					return nil, nil
				}
				once.Do(func() { close(entered) })
				<-release
				return []byte{0xEE}, nil
			},
		}},
	}))
	s.Require().NoError(sess.Start())
	s.peerConnect()

	type readResult struct {
		data []byte
		err  error
	}
	readDone := make(chan readResult, 1)
	go func() {
		data, err := sess.Read(s.ctx(), session.UUIDKey(customChr))
		readDone <- readResult{data, err}
	}()
	select {
	case <-entered:
	case <-time.After(s.Timeout):
		s.FailNow("read callback was never invoked")
	}

	writeDone := make(chan error, 1)
	go func() {
		_, err := s.Host.PeerAccess(device.AccessWrite, 3, []byte{9})
		writeDone <- err
	}()
	select {
	case err := <-writeDone:
		s.Failf("peer write MUST wait for the in-flight read callback", "completed early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	r := <-readDone
	s.Require().NoError(r.err)
	s.Equal([]byte{0xEE}, r.data, "read that started first MUST see the callback value")
	s.Require().NoError(<-writeDone)

	got, err := sess.Read(s.ctx(), session.UUIDKey(customChr))
	s.Require().NoError(err)
	s.Equal([]byte{9}, got, "peer write MUST not be lost")

	cached, err := s.Host.PeerAccess(device.AccessRead, 3, nil)
	s.Require().NoError(err)
	s.Equal([]byte{9}, cached)
}

func (s *SessionTestSuite) TestConcurrentLocalAndPeerWrites() {
	// GOAL: Verify concurrent application and peer writes to one local attribute
	//   leave the cache holding the last value applied
	//
	// TEST SCENARIO: 50 local writes [1,i] and 50 peer writes [2,i] in parallel
	//   → every write succeeds → final value is the last write of one writer

	var calls atomic.Int32
	sess := s.startPeripheral(&calls)
	s.peerConnect()

	var wg sync.WaitGroup
	const n = 50
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			v := []byte{1, byte(i)}
			s.NoError(sess.Write(context.Background(), session.UUIDKey(customChr), v))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			v := []byte{2, byte(i)}
			_, err := s.Host.PeerAccess(device.AccessWrite, 3, v)
			s.NoError(err)
		}
	}()
	wg.Wait()

	got, err := sess.Read(s.ctx(), session.UUIDKey(customChr))
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Contains([]byte{1, 2}, got[0])
	s.Equal(byte(n-1), got[1], "final value MUST be the last write of one of the writers")
}

func (s *SessionTestSuite) TestPeripheralServesPeer() {
	var calls atomic.Int32
	sess := s.startPeripheral(&calls)

	s.True(s.Host.Advertising(), "peripheral MUST advertise after start")
	s.Require().Len(s.Host.LocalServices(), 1)
	s.Equal(device.UUID16(0xABF0).BLE().String(), s.Host.LocalServices()[0].UUID.String())

	conn := s.peerConnect()
	got, err := sess.ConnHandle()
	s.Require().NoError(err)
	s.Equal(conn, got)

	s.Run("peer write is cached and published", func() {
		_, err := s.Host.PeerAccess(device.AccessWrite, 3, []byte{0x10, 0x20})
		s.Require().NoError(err)

		last, ok := s.Events.Last(session.TopicDataReceive)
		s.Require().True(ok, "DataReceive MUST be published for a peer write")
		p := last.Payload.(session.DataPayload)
		s.True(p.Local)
		s.Equal([]byte{0x10, 0x20}, p.Data)

		data, err := sess.Read(s.ctx(), session.HandleKey(3))
		s.Require().NoError(err)
		s.Equal([]byte{0x10, 0x20}, data)
	})

	s.Run("unknown handle", func() {
		_, err := s.Host.PeerAccess(device.AccessRead, 0x0042, nil)
		s.ErrorIs(err, device.ErrNotFound)
	})

	s.Run("peer drop resumes advertising", func() {
		s.Host.PeerDisconnect()
		s.Require().True(s.Events.WaitFor(session.TopicDisconnected, 1, s.Timeout))
		s.Host.Flush()
		s.True(s.Host.Advertising(), "advertising MUST resume after link loss")

		reason, err := sess.LastDisconnectReason()
		s.Require().NoError(err)
		s.Equal(hostsim.ReasonLocalHostTerminated, reason)
	})
}

func (s *SessionTestSuite) TestNotifyRequiresSubscription() {
	// GOAL: Verify notifications are gated by the peer's client configuration
	//
	// TEST SCENARIO: notify before subscribe → ErrInvalidState → peer writes CCCD
	//   → CccdUpdate published → notify succeeds and reaches the peer

	var calls atomic.Int32
	sess := s.startPeripheral(&calls)
	key := session.UUIDKey(customChr)

	s.ErrorIs(sess.Notify(s.ctx(), key, []byte{1}), device.ErrNotConnected)

	s.peerConnect()
	s.ErrorIs(sess.Notify(s.ctx(), key, []byte{1}), device.ErrInvalidState, "unsubscribed notify MUST fail")

	// value handle 3, CCCD 4
	_, err := s.Host.PeerAccess(device.AccessWrite, 4, []byte{0x01, 0x00})
	s.Require().NoError(err)
	s.Require().Equal(1, s.Events.Count(session.TopicCccdUpdate))

	cccd, err := s.Host.PeerAccess(device.AccessRead, 4, nil)
	s.Require().NoError(err)
	s.Equal([]byte{0x01, 0x00}, cccd)

	s.Require().NoError(sess.Notify(s.ctx(), key, []byte{7, 7}), "subscribed notify MUST succeed")
	sent := s.Host.Notifications()
	s.Require().Len(sent, 1)
	s.Equal(uint16(3), sent[0].Handle)
	s.Equal([]byte{7, 7}, sent[0].Data)
	s.False(sent[0].Indicate)

	s.Run("indication only", func() {
		s.Host.PeerSubscribe(3, false, true)
		s.Host.Flush()
		s.Require().NoError(sess.Notify(s.ctx(), key, []byte{8}))
		sent := s.Host.Notifications()
		s.True(sent[len(sent)-1].Indicate, "an indication-only subscriber MUST get an indication")
	})

	s.Run("host failure surfaces", func() {
		s.Host.FailNext("notify", 0x0E)
		err := sess.Notify(s.ctx(), key, []byte{9})
		s.ErrorIs(err, device.ErrCommunication)
	})

	s.ErrorIs(sess.Notify(s.ctx(), key, nil), device.ErrInvalidArgument)
}

func (s *SessionTestSuite) TestCentralDiscovery() {
	// GOAL: Verify Connect returns with the peer database discovered
	//
	// TEST SCENARIO: connect → MTU exchanged → services, characteristics and
	//   descriptors discovered → one DiscoveryComplete → snapshot matches the peer

	sess := s.connectCentral()

	state, err := sess.DiscoveryState()
	s.Require().NoError(err)
	s.Equal("complete", state.String())
	s.Equal(1, s.Events.Count(session.TopicDiscoveryComplete), "DiscoveryComplete MUST be published once")

	mtu, err := sess.MTU()
	s.Require().NoError(err)
	s.Equal(uint16(185), mtu, "MTU MUST be the lower of preferred and peer MTU")

	addr, err := sess.PeerAddress()
	s.Require().NoError(err)
	s.Equal(peerAddr, addr)

	services, err := sess.Services()
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).AssertValue(services, `[
		{"uuid": "180f", "start_handle": 1, "end_handle": 4, "characteristics": [
			{"uuid": "2a19", "def_handle": 2, "value_handle": 3, "end_handle": 4, "properties": "read,notify",
			 "descriptors": [{"uuid": "2902", "handle": 4}]}
		]},
		{"uuid": "abcd", "start_handle": 5, "end_handle": 7, "characteristics": [
			{"uuid": "abce", "def_handle": 6, "value_handle": 7, "end_handle": 7, "properties": "read,write", "descriptors": []}
		]}
	]`)

	s.ErrorIs(sess.Connect(s.ctx(), peerAddr), device.ErrAlreadyConnected)
}

func (s *SessionTestSuite) TestCentralReadWriteSubscribe() {
	sess := s.connectCentral()

	s.Run("read", func() {
		data, err := sess.Read(s.ctx(), session.ServiceKey(batterySvc, batteryLvl))
		s.Require().NoError(err)
		s.Equal([]byte{85}, data)
	})

	s.Run("write then read back", func() {
		s.Require().NoError(sess.Write(s.ctx(), session.UUIDKey(configChr), []byte{7}))
		s.Equal([]byte{7}, s.Peer.Characteristic(configChr).Value, "peer MUST receive the write")

		data, err := sess.Read(s.ctx(), session.HandleKey(7))
		s.Require().NoError(err)
		s.Equal([]byte{7}, data)
	})

	s.Run("write to read-only characteristic", func() {
		err := sess.Write(s.ctx(), session.UUIDKey(batteryLvl), []byte{1})
		s.ErrorIs(err, device.ErrNotSupported)
	})

	s.Run("host status", func() {
		s.Host.FailNext("read", 0x05)
		_, err := sess.Read(s.ctx(), session.UUIDKey(batteryLvl))
		s.ErrorIs(err, device.ErrCommunication)
		var herr *device.HostError
		s.Require().ErrorAs(err, &herr)
		s.Equal(0x05, herr.Status)
	})

	s.Run("unknown characteristic", func() {
		_, err := sess.Read(s.ctx(), session.UUIDKey(device.UUID16(0xDEAD)))
		s.ErrorIs(err, device.ErrNotFound)
	})

	s.Run("invalid keys and values", func() {
		_, err := sess.Read(s.ctx(), session.Key{})
		s.ErrorIs(err, device.ErrInvalidArgument)
		s.ErrorIs(sess.Write(s.ctx(), session.UUIDKey(configChr), nil), device.ErrInvalidArgument)
	})

	s.Run("subscribe and receive", func() {
		s.Require().NoError(sess.Subscribe(s.ctx(), session.UUIDKey(batteryLvl), nil))
		s.Equal([]byte{0x01, 0x00}, s.Peer.Characteristic(batteryLvl).Descriptors[0].Value,
			"subscribe MUST enable notifications in the peer CCCD")

		s.Require().NoError(s.Host.PeerNotify(3, []byte{42}, false))
		s.Require().True(s.Events.WaitFor(session.TopicDataReceive, 1, s.Timeout))
		last, _ := s.Events.Last(session.TopicDataReceive)
		testutils.NewJSONAsserter(s.T()).AssertValue(last.Payload, `{"handle": 3, "uuid": "2a19", "data": "Kg=="}`)

		s.ErrorIs(sess.Subscribe(s.ctx(), session.UUIDKey(configChr), nil), device.ErrNotSupported)
		s.ErrorIs(sess.Subscribe(s.ctx(), session.UUIDKey(batteryLvl), []byte{1}), device.ErrInvalidArgument)
	})

	s.Run("disconnect", func() {
		s.Require().NoError(sess.Disconnect(s.ctx()))
		conn, err := sess.ConnHandle()
		s.Require().NoError(err)
		s.Equal(device.NoConnection, conn)

		reason, err := sess.LastDisconnectReason()
		s.Require().NoError(err)
		s.Equal(0x13, reason)
		s.ErrorIs(sess.Disconnect(s.ctx()), device.ErrNotConnected)
	})
}

func (s *SessionTestSuite) TestConnectFailures() {
	s.Config.Role = device.RoleCentral
	sess := s.StartSession()

	s.Run("unknown address", func() {
		err := sess.Connect(s.ctx(), "11:22:33:44:55:66")
		s.ErrorIs(err, device.ErrCommunication)
	})

	s.Run("empty address", func() {
		s.ErrorIs(sess.Connect(s.ctx(), ""), device.ErrInvalidArgument)
	})

	s.Run("discovery abort drops the link", func() {
		// GOAL: Verify a failed discovery phase aborts and forces a disconnect
		//
		// TEST SCENARIO: characteristic discovery fails with 0x0E → Connect fails
		//   → Disconnected published → no DiscoveryComplete → link closed

		s.Host.FailNext("discover_characteristics", 0x0E)
		err := sess.Connect(s.ctx(), peerAddr)
		s.ErrorIs(err, device.ErrCommunication)

		s.Require().True(s.Events.WaitFor(session.TopicDisconnected, 1, s.Timeout), "abort MUST force a disconnect")
		s.Zero(s.Events.Count(session.TopicDiscoveryComplete))

		state, err := sess.DiscoveryState()
		s.Require().NoError(err)
		s.Equal("idle", state.String())
		s.Equal(device.NoConnection, s.Host.ConnHandle())
	})

	s.Run("retry succeeds", func() {
		s.Require().NoError(sess.Connect(s.ctx(), peerAddr))
	})
}

func (s *SessionTestSuite) TestConnectNotSupportedForPeripheral() {
	sess := s.StartSession()
	s.ErrorIs(sess.Connect(s.ctx(), peerAddr), device.ErrNotSupported)
	s.ErrorIs(sess.Subscribe(s.ctx(), session.UUIDKey(batteryLvl), nil), device.ErrNotConnected)
}

// silentReadHost never completes reads
type silentReadHost struct {
	*hostsim.Host
}

func (silentReadHost) Read(uint16, uint16, device.ReqID) error { return nil }

func (s *SessionTestSuite) TestReadTimeoutLeavesSessionUsable() {
	// GOAL: Verify a timed out request returns ErrTimeout and the session stays usable
	//
	// TEST SCENARIO: host swallows reads → Read returns ErrTimeout → Write still works

	s.Config.Role = device.RoleCentral
	sess, err := session.Init(s.Config, silentReadHost{s.Host}, s.Events, s.Logger)
	s.Require().NoError(err)
	s.Session = sess
	s.Require().NoError(sess.Start())
	s.Require().NoError(sess.Connect(s.ctx(), peerAddr))

	_, err = sess.Read(s.ctx(), session.UUIDKey(configChr))
	s.ErrorIs(err, device.ErrTimeout)

	s.Require().NoError(sess.Write(s.ctx(), session.UUIDKey(configChr), []byte{3}), "session MUST stay usable after a timeout")
	conn, err := sess.ConnHandle()
	s.Require().NoError(err)
	s.NotEqual(device.NoConnection, conn)
}

func (s *SessionTestSuite) TestPeriodicEventsRepublished() {
	s.StartSession()

	s.Host.Inject(device.PeriodicSyncEvent{SyncHandle: 1, Addr: peerAddr, SID: 2})
	s.Host.Inject(device.PeriodicReportEvent{SyncHandle: 1, RSSI: -60, Data: []byte{1, 2, 3}})
	s.Host.Inject(device.PeriodicSyncLostEvent{SyncHandle: 1, Reason: 0x08})
	s.Host.Flush()

	s.Equal(1, s.Events.Count(session.TopicPeriodicSync))
	s.Equal(1, s.Events.Count(session.TopicPeriodicReport))
	s.Equal(1, s.Events.Count(session.TopicPeriodicSyncLost))
}

func (s *SessionTestSuite) TestL2CAPReadyAfterStart() {
	sess := s.StartSession()
	s.Require().NoError(sess.L2CAP().CreateServer(0x80, 128, func(*l2cap.Event) error { return nil }, nil))
	s.Equal(1, sess.L2CAP().Servers())
}

func TestSessionTestSuite(t *testing.T) {
	depend.RunSuite(t, new(SessionTestSuite))
}
