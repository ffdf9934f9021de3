package device

// Event is a host-stack event. Concrete types are distinguished with a type switch.
type Event interface {
	hostEvent()
}

// ConnectedEvent reports a link establishment attempt; Status != 0 means it failed
type ConnectedEvent struct {
	ConnHandle uint16
	Status     int
	PeerAddr   string
	OwnAddr    string
}

// DisconnectedEvent reports a link termination
type DisconnectedEvent struct {
	ConnHandle uint16
	Reason     int
}

// MTUEvent reports a negotiated ATT MTU
type MTUEvent struct {
	ConnHandle uint16
	MTU        uint16
}

// AdvReportEvent reports a scanned advertiser
type AdvReportEvent struct {
	Addr string
	Name string
	RSSI int
}

// ServiceFoundEvent reports one primary service of the peer
type ServiceFoundEvent struct {
	ConnHandle uint16
	UUID       UUID
	Range      HandleRange
}

// ServicesDoneEvent terminates service discovery
type ServicesDoneEvent struct {
	ConnHandle uint16
	Status     int
}

// CharacteristicFoundEvent reports one characteristic within the requested range
type CharacteristicFoundEvent struct {
	ConnHandle  uint16
	UUID        UUID
	DefHandle   uint16
	ValueHandle uint16
	Properties  Property
}

// CharacteristicsDoneEvent terminates characteristic discovery for one range
type CharacteristicsDoneEvent struct {
	ConnHandle uint16
	Status     int
}

// DescriptorFoundEvent reports one descriptor within the requested range
type DescriptorFoundEvent struct {
	ConnHandle uint16
	UUID       UUID
	Handle     uint16
}

// DescriptorsDoneEvent terminates descriptor discovery for one range
type DescriptorsDoneEvent struct {
	ConnHandle uint16
	Status     int
}

// ReadCompleteEvent completes a GATT read
type ReadCompleteEvent struct {
	ID         ReqID
	ConnHandle uint16
	Handle     uint16
	Status     int
	Data       []byte
}

// WriteCompleteEvent completes a GATT write
type WriteCompleteEvent struct {
	ID         ReqID
	ConnHandle uint16
	Handle     uint16
	Status     int
}

// TxCompleteEvent completes a notification or indication
type TxCompleteEvent struct {
	ID         ReqID
	ConnHandle uint16
	Handle     uint16
	Status     int
}

// NotificationEvent carries a value pushed by the peer
type NotificationEvent struct {
	ConnHandle uint16
	Handle     uint16
	Data       []byte
	Indication bool
}

// SubscribeEvent reports a peer write to the CCCD of a local characteristic
type SubscribeEvent struct {
	ConnHandle uint16
	Handle     uint16 // characteristic value handle
	Notify     bool
	Indicate   bool
}

// PeriodicSyncEvent reports an established periodic advertising sync
type PeriodicSyncEvent struct {
	SyncHandle uint16
	Status     int
	Addr       string
	SID        uint8
}

// PeriodicReportEvent carries periodic advertising data
type PeriodicReportEvent struct {
	SyncHandle uint16
	RSSI       int
	TxPower    int
	Data       []byte
}

// PeriodicSyncLostEvent reports a lost periodic advertising sync
type PeriodicSyncLostEvent struct {
	SyncHandle uint16
	Reason     int
}

// CocEventType enumerates L2CAP CoC events
type CocEventType int

const (
	CocConnected CocEventType = iota
	CocDisconnected
	CocAccept
	CocDataReceived
	CocTxUnstalled
	CocReconfigCompleted
	CocPeerReconfigured
)

var cocEventNames = [...]string{
	"connected", "disconnected", "accept", "data_received", "tx_unstalled", "reconfig_completed", "peer_reconfigured",
}

func (t CocEventType) String() string {
	if int(t) < len(cocEventNames) {
		return cocEventNames[t]
	}
	return "unknown"
}

// CocEvent is an L2CAP CoC event. SDU is only valid during delivery.
type CocEvent struct {
	Type        CocEventType
	Status      int
	ConnHandle  uint16
	Chan        ChanHandle
	PSM         uint16
	Token       uint64 // echoes CocConnect's token for outgoing channels
	PeerSDUSize int
	SDU         []byte
}

func (ConnectedEvent) hostEvent()           {}
func (DisconnectedEvent) hostEvent()        {}
func (MTUEvent) hostEvent()                 {}
func (AdvReportEvent) hostEvent()           {}
func (ServiceFoundEvent) hostEvent()        {}
func (ServicesDoneEvent) hostEvent()        {}
func (CharacteristicFoundEvent) hostEvent() {}
func (CharacteristicsDoneEvent) hostEvent() {}
func (DescriptorFoundEvent) hostEvent()     {}
func (DescriptorsDoneEvent) hostEvent()     {}
func (ReadCompleteEvent) hostEvent()        {}
func (WriteCompleteEvent) hostEvent()       {}
func (TxCompleteEvent) hostEvent()          {}
func (NotificationEvent) hostEvent()        {}
func (SubscribeEvent) hostEvent()           {}
func (PeriodicSyncEvent) hostEvent()        {}
func (PeriodicReportEvent) hostEvent()      {}
func (PeriodicSyncLostEvent) hostEvent()    {}
func (CocEvent) hostEvent()                 {}
