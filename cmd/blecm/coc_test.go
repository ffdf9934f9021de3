//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package main

import (
	"testing"

	"github.com/srg/blecm/internal/device"
	"github.com/srgg/testify/depend"
)

type CocTestSuite struct {
	CommandTestSuite
}

func (s *CocTestSuite) TestCocSendsLines() {
	// GOAL: Verify each stdin line goes out as one SDU and the channel closes at EOF
	//
	// TEST SCENARIO: two lines on psm 0x80 → open, two sends, closed

	out, err := s.ExecuteWithInput("ping\nhello\n", "coc", TestDeviceAddress, "--simulate")
	s.Require().NoError(err, "coc MUST succeed against the simulated peer")

	s.AssertText(out, `
Channel open psm=0x80 mtu=512
-> 4 bytes
-> 5 bytes
Channel closed
`)
}

func (s *CocTestSuite) TestCocUnknownPSM() {
	// GOAL: Verify a PSM the peer does not listen on fails with the host status
	//
	// TEST SCENARIO: --psm 0x81 → HostError

	_, err := s.ExecuteWithInput("", "coc", TestDeviceAddress, "--psm", "0x81", "--simulate")
	s.Require().Error(err, "connect to an unknown psm MUST fail")

	var hostErr *device.HostError
	s.ErrorAs(err, &hostErr, "failure MUST carry the host status")
}

func (s *CocTestSuite) TestCocInvalidMTU() {
	// GOAL: Verify an out-of-range MTU is rejected by the channel manager
	//
	// TEST SCENARIO: --mtu 10 → ErrInvalidArgument

	_, err := s.ExecuteWithInput("", "coc", TestDeviceAddress, "--mtu", "10", "--simulate")
	s.Require().Error(err, "tiny mtu MUST fail")
	s.ErrorIs(err, device.ErrInvalidArgument, "error MUST be an invalid argument")
}

func TestCocTestSuite(t *testing.T) {
	depend.RunSuite(t, new(CocTestSuite))
}
