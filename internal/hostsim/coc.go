package hostsim

import (
	"fmt"

	"github.com/srg/blecm/internal/device"
)

// DefaultCredits is the number of SDUs the simulated peer accepts before
// it has to grant more
const DefaultCredits = 8

type simChan struct {
	handle  device.ChanHandle
	conn    uint16
	psm     uint16
	token   uint64
	ourMTU  uint16
	peerMTU uint16
	scid    uint16
	dcid    uint16

	credits   int
	stalled   bool
	rxReady   bool
	pendingRx [][]byte
	sent      [][]byte
}

type cocState struct {
	servers     map[uint16]uint16
	peerServers map[uint16]uint16
	chans       map[device.ChanHandle]*simChan
	next        device.ChanHandle
	credits     int
}

func newCocState() cocState {
	return cocState{
		servers:     make(map[uint16]uint16),
		peerServers: make(map[uint16]uint16),
		chans:       make(map[device.ChanHandle]*simChan),
		credits:     DefaultCredits,
	}
}

func (c *cocState) open(conn, psm, ourMTU, peerMTU uint16) *simChan {
	c.next++
	ch := &simChan{
		handle:  c.next,
		conn:    conn,
		psm:     psm,
		ourMTU:  ourMTU,
		peerMTU: peerMTU,
		scid:    0x0040 + uint16(c.next),
		dcid:    0x0080 + uint16(c.next),
		credits: c.credits,
	}
	c.chans[ch.handle] = ch
	return ch
}

// dropLink disconnects every channel of conn; caller holds h.mu
func (c *cocState) dropLink(h *Host, conn uint16) {
	for hnd, ch := range c.chans {
		if ch.conn == conn {
			delete(c.chans, hnd)
			h.emitLocked(device.CocEvent{Type: device.CocDisconnected, ConnHandle: conn, Chan: hnd})
		}
	}
}

func (h *Host) cocChanLocked(ch device.ChanHandle) (*simChan, error) {
	sc, ok := h.coc.chans[ch]
	if !ok {
		return nil, fmt.Errorf("coc channel %d: %w", ch, device.ErrNotConnected)
	}
	return sc, nil
}

// SetInitialCredits sets the credits granted to new channels
func (h *Host) SetInitialCredits(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.coc.credits = n
}

// CocCreateServer registers a local CoC server
func (h *Host) CocCreateServer(psm, mtu uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.coc.servers[psm]; dup {
		return device.InvalidArgf("psm 0x%02x already registered", psm)
	}
	h.coc.servers[psm] = mtu
	return nil
}

// CocConnect opens a channel to a PSM the peer listens on
func (h *Host) CocConnect(conn, psm, mtu uint16, sduSize int, token uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkConnLocked(conn); err != nil {
		return err
	}
	peerMTU, ok := h.coc.peerServers[psm]
	if !ok {
		h.emitLocked(device.CocEvent{Type: device.CocConnected, Status: statusPSMNotSupported, ConnHandle: conn, PSM: psm, Token: token})
		return nil
	}
	ch := h.coc.open(conn, psm, mtu, peerMTU)
	ch.token = token
	ch.rxReady = true
	h.emitLocked(device.CocEvent{Type: device.CocConnected, ConnHandle: conn, Chan: ch.handle, PSM: psm, Token: token})
	return nil
}

// CocAccept completes an incoming channel
func (h *Host) CocAccept(ch device.ChanHandle, mtu uint16, sduSize int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return err
	}
	sc.ourMTU = mtu
	h.emitLocked(device.CocEvent{Type: device.CocConnected, ConnHandle: sc.conn, Chan: ch, PSM: sc.psm})
	return nil
}

// CocSend consumes one credit per SDU; without credit the channel stalls
func (h *Host) CocSend(ch device.ChanHandle, sdu []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return err
	}
	if len(sdu) > int(sc.peerMTU) {
		return device.InvalidArgf("sdu of %d bytes exceeds peer mtu %d", len(sdu), sc.peerMTU)
	}
	if sc.credits == 0 {
		sc.stalled = true
		return fmt.Errorf("coc channel %d out of credit: %w", ch, device.ErrNotFinished)
	}
	sc.credits--
	sc.sent = append(sc.sent, append([]byte(nil), sdu...))
	return nil
}

// CocRecvReady allows delivery of the next SDU
func (h *Host) CocRecvReady(ch device.ChanHandle, sduSize int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return err
	}
	sc.rxReady = true
	h.deliverRxLocked(sc)
	return nil
}

func (h *Host) deliverRxLocked(sc *simChan) {
	if !sc.rxReady || len(sc.pendingRx) == 0 {
		return
	}
	sdu := sc.pendingRx[0]
	sc.pendingRx = sc.pendingRx[1:]
	sc.rxReady = false
	h.emitLocked(device.CocEvent{Type: device.CocDataReceived, ConnHandle: sc.conn, Chan: sc.handle, SDU: sdu})
}

// CocDisconnect closes a channel
func (h *Host) CocDisconnect(ch device.ChanHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return err
	}
	delete(h.coc.chans, ch)
	h.emitLocked(device.CocEvent{Type: device.CocDisconnected, ConnHandle: sc.conn, Chan: ch})
	return nil
}

// CocChanInfo reports channel parameters
func (h *Host) CocChanInfo(ch device.ChanHandle) (device.ChanInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return device.ChanInfo{}, err
	}
	return device.ChanInfo{
		SCID:         sc.scid,
		DCID:         sc.dcid,
		OurL2capMTU:  sc.ourMTU + 2,
		PeerL2capMTU: sc.peerMTU + 2,
		OurCocMTU:    sc.ourMTU,
		PeerCocMTU:   sc.peerMTU,
		PSM:          sc.psm,
	}, nil
}

// CocReconfigure applies mtu to chans and confirms each
func (h *Host) CocReconfigure(chans []device.ChanHandle, mtu uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range chans {
		sc, err := h.cocChanLocked(ch)
		if err != nil {
			return err
		}
		if mtu < sc.ourMTU {
			return device.InvalidArgf("reconfigure cannot shrink mtu %d to %d", sc.ourMTU, mtu)
		}
	}
	for _, ch := range chans {
		sc := h.coc.chans[ch]
		sc.ourMTU = mtu
		h.emitLocked(device.CocEvent{Type: device.CocReconfigCompleted, ConnHandle: sc.conn, Chan: ch})
	}
	return nil
}

// PeerCocListen makes the peer accept channels on psm
func (h *Host) PeerCocListen(psm, mtu uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.coc.peerServers[psm] = mtu
}

// PeerCocConnect simulates the peer opening a channel to a local server
func (h *Host) PeerCocConnect(psm, mtu uint16, sduSize int) (device.ChanHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == device.NoConnection {
		return 0, fmt.Errorf("peer coc connect: %w", device.ErrNotConnected)
	}
	if _, ok := h.coc.servers[psm]; !ok {
		return 0, &device.NotFoundError{Resource: "psm", UUIDs: []string{fmt.Sprintf("0x%02x", psm)}}
	}
	ch := h.coc.open(h.conn, psm, 0, mtu)
	h.emitLocked(device.CocEvent{Type: device.CocAccept, ConnHandle: h.conn, Chan: ch.handle, PSM: psm, PeerSDUSize: sduSize})
	return ch.handle, nil
}

// PeerCocSend queues an SDU from the peer; it is delivered once the local
// side has posted a receive buffer
func (h *Host) PeerCocSend(ch device.ChanHandle, sdu []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return err
	}
	sc.pendingRx = append(sc.pendingRx, append([]byte(nil), sdu...))
	h.deliverRxLocked(sc)
	return nil
}

// GrantCredits gives the local side n more credits, unstalling the channel
func (h *Host) GrantCredits(ch device.ChanHandle, n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return err
	}
	sc.credits += n
	if sc.stalled && sc.credits > 0 {
		sc.stalled = false
		h.emitLocked(device.CocEvent{Type: device.CocTxUnstalled, ConnHandle: sc.conn, Chan: ch})
	}
	return nil
}

// PeerCocDisconnect simulates the peer closing a channel
func (h *Host) PeerCocDisconnect(ch device.ChanHandle) error {
	return h.CocDisconnect(ch)
}

// PeerReconfigure simulates the peer raising its MTU on ch
func (h *Host) PeerReconfigure(ch device.ChanHandle, mtu uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, err := h.cocChanLocked(ch)
	if err != nil {
		return err
	}
	sc.peerMTU = mtu
	h.emitLocked(device.CocEvent{Type: device.CocPeerReconfigured, ConnHandle: sc.conn, Chan: ch})
	return nil
}

// SentSDUs returns what the local side sent on ch
func (h *Host) SentSDUs(ch device.ChanHandle) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, ok := h.coc.chans[ch]
	if !ok {
		return nil
	}
	out := make([][]byte, len(sc.sent))
	copy(out, sc.sent)
	return out
}
