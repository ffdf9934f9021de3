package iobridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/iobridge"
	"github.com/stretchr/testify/suite"
)

type TrackerTestSuite struct {
	suite.Suite
	tracker *iobridge.Tracker
}

func (s *TrackerTestSuite) SetupTest() {
	s.tracker = iobridge.NewTracker(100*time.Millisecond, logrus.New())
}

func (s *TrackerTestSuite) TestCompletionWakesOwner() {
	req := s.tracker.Start("read", 3)
	go s.tracker.Complete(req.ID, iobridge.Response{Data: []byte{1, 2}})

	data, err := s.tracker.Wait(context.Background(), req)
	s.Require().NoError(err)
	s.Equal([]byte{1, 2}, data)
	s.Zero(s.tracker.Pending())
}

func (s *TrackerTestSuite) TestLateCompletionWakesNobody() {
	// GOAL: Verify a completion arriving after its caller timed out never wakes a later request
	//
	// TEST SCENARIO: req1 times out → req2 starts → late completion of req1 → req2 still waiting
	//   → req2 completes with its own data

	first := s.tracker.Start("write", 3)
	_, err := s.tracker.Wait(context.Background(), first)
	s.ErrorIs(err, device.ErrTimeout)

	second := s.tracker.Start("write", 3)
	s.NotEqual(first.ID, second.ID, "request IDs MUST be unique")

	s.False(s.tracker.Complete(first.ID, iobridge.Response{Data: []byte{0xEE}}), "late completion MUST be dropped")
	s.Equal(1, s.tracker.Pending())

	s.True(s.tracker.Complete(second.ID, iobridge.Response{Data: []byte{0x01}}))
	data, err := s.tracker.Wait(context.Background(), second)
	s.Require().NoError(err)
	s.Equal([]byte{0x01}, data, "second request MUST receive its own completion")
}

func (s *TrackerTestSuite) TestHostErrorPropagates() {
	req := s.tracker.Start("read", 9)
	s.tracker.Complete(req.ID, iobridge.Response{Err: device.StatusError("read", 0x0A)})

	_, err := s.tracker.Wait(context.Background(), req)
	s.ErrorIs(err, device.ErrCommunication)
}

func (s *TrackerTestSuite) TestFailAllAndCancel() {
	a := s.tracker.Start("read", 1)
	b := s.tracker.Start("read", 2)
	s.Equal(2, s.tracker.FailAll(device.ErrNotConnected))

	_, err := s.tracker.Wait(context.Background(), a)
	s.ErrorIs(err, device.ErrInvalidState)
	_, err = s.tracker.Wait(context.Background(), b)
	s.ErrorIs(err, device.ErrNotConnected)

	c := s.tracker.Start("read", 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.tracker.Wait(ctx, c)
	s.ErrorIs(err, context.Canceled)
	s.Zero(s.tracker.Pending())
}

func TestTrackerTestSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}
