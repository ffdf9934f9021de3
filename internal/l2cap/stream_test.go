package l2cap_test

import (
	"context"
	"io"
	"time"

	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/hostsim"
	"github.com/srg/blecm/internal/l2cap"
)

func (s *ManagerTestSuite) openStream(credits int) *l2cap.Stream {
	s.host.SetInitialCredits(credits)
	s.host.PeerCocListen(0x80, 64)
	s.Require().NoError(s.mgr.MemInit())

	st := l2cap.NewStream(s.mgr, 256, 64)
	st.WriteTimeout = 2 * time.Second
	s.Require().NoError(s.mgr.Connect(s.conn, 0x80, 64, 64, st.HandleEvent, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(st.WaitConnected(ctx))
	return st
}

func (s *ManagerTestSuite) TestStreamCopiesReceivedSDUs() {
	// GOAL: Verify the stream retains SDU bytes past the borrowed callback window
	//
	// TEST SCENARIO: peer sends "abc" then "def" → Read returns "abcdef" in order

	st := s.openStream(hostsim.DefaultCredits)
	ch := st.Channel()

	s.Require().NoError(s.host.PeerCocSend(ch.Handle(), []byte("abc")))
	s.Require().NoError(s.host.PeerCocSend(ch.Handle(), []byte("def")))

	buf := make([]byte, 6)
	_, err := io.ReadFull(st, buf)
	s.Require().NoError(err)
	s.Equal("abcdef", string(buf))
}

func (s *ManagerTestSuite) TestStreamWriteWaitsForCredit() {
	// GOAL: Verify Write splits by MTU and resumes after TxUnstalled
	//
	// TEST SCENARIO: 1 credit, 100-byte write with mtu 64 → first SDU sent → stall
	//   → peer grants credit → second SDU sent → Write returns 100

	st := s.openStream(1)
	ch := st.Channel()

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = s.host.GrantCredits(ch.Handle(), 1)
	}()

	n, err := st.Write(payload)
	s.Require().NoError(err)
	s.Equal(100, n)

	sent := s.host.SentSDUs(ch.Handle())
	s.Require().Len(sent, 2)
	s.Len(sent[0], 64)
	s.Len(sent[1], 36)
	s.Equal(payload, append(sent[0], sent[1]...))
}

func (s *ManagerTestSuite) TestStreamEOFOnDisconnect() {
	st := s.openStream(hostsim.DefaultCredits)

	s.Require().NoError(s.host.PeerCocSend(st.Channel().Handle(), []byte("x")))
	s.Require().NoError(s.host.PeerCocDisconnect(st.Channel().Handle()))

	data, err := io.ReadAll(st)
	s.Require().NoError(err)
	s.Equal("x", string(data), "buffered bytes MUST be readable after disconnect")

	_, err = st.Write([]byte{1})
	s.ErrorIs(err, device.ErrNotConnected)
}
