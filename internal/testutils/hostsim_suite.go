package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/hostsim"
	"github.com/srg/blecm/internal/session"
	"github.com/srg/blecm/pkg/config"
	"github.com/stretchr/testify/suite"
)

// NewTestLogger returns a debug logger so test output traces the event flow
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// HostSimSuite is a base suite wiring a session to the simulated host.
//
// Suites configure Peer and Config in their own SetupTest and call the
// parent last:
//
//	func (s *MySuite) SetupTest() {
//	    s.Peer = &hostsim.Peer{Address: "AA:BB:CC:DD:EE:FF"}
//	    s.HostSimSuite.SetupTest()
//	    s.Config.Role = device.RoleCentral
//	}
//
// TearDownTest stops and deinitializes the session so the next test can
// create its own.
type HostSimSuite struct {
	suite.Suite

	Logger  *logrus.Logger
	Timeout time.Duration

	// Peer is the simulated remote device; nil means a bare peer
	Peer   *hostsim.Peer
	Config *config.Config

	Host    *hostsim.Host
	Events  *Recorder
	Session *session.Session
}

// SetupSuite creates the logger and default timeout
func (s *HostSimSuite) SetupSuite() {
	s.Logger = NewTestLogger()
	s.Timeout = 2 * time.Second
}

// SetupTest creates the host, the recorder and a default config
func (s *HostSimSuite) SetupTest() {
	if s.Config == nil {
		s.Config = config.DefaultConfig()
		s.Config.RequestTimeout = 500 * time.Millisecond
		s.Config.ConnectTimeout = s.Timeout
	}
	s.Host = hostsim.New(s.Peer, s.Logger)
	s.Events = NewRecorder()
}

// TearDownTest releases the session and the host
func (s *HostSimSuite) TearDownTest() {
	if s.Session != nil {
		_ = s.Session.Stop()
		_ = s.Session.Deinit()
		s.Session = nil
	}
	if s.Host != nil {
		s.Host.Close()
		s.Host = nil
	}
	s.Config = nil
	s.Peer = nil
}

// InitSession creates the session over the simulated host
func (s *HostSimSuite) InitSession() *session.Session {
	sess, err := session.Init(s.Config, s.Host, s.Events, s.Logger)
	s.Require().NoError(err, "session MUST initialize")
	s.Session = sess
	return sess
}

// StartSession creates and starts the session
func (s *HostSimSuite) StartSession() *session.Session {
	sess := s.InitSession()
	s.Require().NoError(sess.Start(), "session MUST start")
	return sess
}
