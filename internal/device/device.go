package device

import (
	"github.com/go-ble/ble"
)

// ReqID identifies one outstanding GATT request. The host echoes it back in
// the matching completion event.
type ReqID uint64

// ChanHandle is the host's opaque handle for an L2CAP CoC channel
type ChanHandle uint32

// Role selects which GAP roles a session plays
type Role string

const (
	RolePeripheral Role = "peripheral"
	RoleCentral    Role = "central"
	RoleDual       Role = "dual"
)

// IsPeripheral reports whether the role serves a local attribute database
func (r Role) IsPeripheral() bool {
	return r == RolePeripheral || r == RoleDual
}

// IsCentral reports whether the role scans and discovers remote databases
func (r Role) IsCentral() bool {
	return r == RoleCentral || r == RoleDual
}

// Security carries the capability flags handed to the host's security manager
type Security struct {
	IOCapability      string `yaml:"io_capability" default:"no_input_no_output"`
	Bonding           bool   `yaml:"bonding"`
	MITM              bool   `yaml:"mitm"`
	SecureConnections bool   `yaml:"secure_connections" default:"true"`
}

// Features reports optional host capabilities
type Features struct {
	Coc bool
}

// GAP covers advertising, scanning and link management
type GAP interface {
	Advertise(name string, services []UUID) error
	StopAdvertising() error
	Scan(filter []UUID) error
	StopScan() error
	// Connect starts a link to addr; completion arrives as ConnectedEvent.
	Connect(addr string) error
	// Disconnect terminates a link; completion arrives as DisconnectedEvent.
	Disconnect(conn uint16, reason uint8) error
	ExchangeMTU(conn uint16, mtu uint16) error
	SetSecurity(sec Security) error
}

// GATTServer is the peripheral-role half of the host
type GATTServer interface {
	// RegisterServices hands the built attribute database to the host.
	RegisterServices(svcs []*ble.Service) error
	// Notify pushes a value to a subscribed peer; completion arrives as TxCompleteEvent.
	Notify(conn, handle uint16, data []byte, indicate bool, id ReqID) error
}

// GATTClient is the central-role half of the host
type GATTClient interface {
	DiscoverServices(conn uint16) error
	DiscoverCharacteristics(conn uint16, r HandleRange) error
	DiscoverDescriptors(conn uint16, r HandleRange) error
	Read(conn, handle uint16, id ReqID) error
	Write(conn, handle uint16, data []byte, id ReqID) error
}

// CocHost is the L2CAP connection-oriented channel half of the host
type CocHost interface {
	CocCreateServer(psm, mtu uint16) error
	// CocConnect opens a channel; the ConnectedEvent carries token back.
	CocConnect(conn, psm, mtu uint16, sduSize int, token uint64) error
	CocAccept(ch ChanHandle, mtu uint16, sduSize int) error
	// CocSend returns ErrNotFinished when the channel has no credit and
	// ErrNoMemory when the host cannot buffer the SDU.
	CocSend(ch ChanHandle, sdu []byte) error
	CocRecvReady(ch ChanHandle, sduSize int) error
	CocDisconnect(ch ChanHandle) error
	CocChanInfo(ch ChanHandle) (ChanInfo, error)
	CocReconfigure(chans []ChanHandle, mtu uint16) error
}

// ChanInfo is the host's view of a CoC channel
type ChanInfo struct {
	SCID         uint16 `json:"scid"`
	DCID         uint16 `json:"dcid"`
	OurL2capMTU  uint16 `json:"our_l2cap_mtu"`
	PeerL2capMTU uint16 `json:"peer_l2cap_mtu"`
	OurCocMTU    uint16 `json:"our_coc_mtu"`
	PeerCocMTU   uint16 `json:"peer_coc_mtu"`
	PSM          uint16 `json:"psm"`
}

// Host is the BLE host stack boundary. All events are delivered on a single
// host goroutine to the handler installed with SetHandler.
type Host interface {
	GAP
	GATTServer
	GATTClient
	CocHost

	SetHandler(h HostHandler)
	Features() Features
	// Stop halts host networking (advertising, scanning, links).
	Stop() error
}

// HostHandler receives host events. HandleAccess is synchronous: the host
// waits for the returned value (reads) or status (writes).
type HostHandler interface {
	HandleEvent(ev Event)
	HandleAccess(acc *Access) ([]byte, error)
}

// AccessOp distinguishes server-side reads and writes
type AccessOp int

const (
	AccessRead AccessOp = iota
	AccessWrite
)

func (op AccessOp) String() string {
	if op == AccessWrite {
		return "write"
	}
	return "read"
}

// Access is a peer access to a locally served attribute
type Access struct {
	Op         AccessOp
	ConnHandle uint16
	Handle     uint16
	UUID       UUID
	Data       []byte
}
