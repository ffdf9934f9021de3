package session

import (
	"github.com/srg/blecm/internal/svcindex"
)

// Topics published by the session
const (
	TopicStarted           = "started"
	TopicStopped           = "stopped"
	TopicConnected         = "connected"
	TopicDisconnected      = "disconnected"
	TopicDataReceive       = "data_receive"
	TopicDiscoveryComplete = "discovery_complete"
	TopicPeriodicSync      = "periodic_sync"
	TopicPeriodicReport    = "periodic_report"
	TopicPeriodicSyncLost  = "periodic_sync_lost"
	TopicCccdUpdate        = "cccd_update"
	TopicAdvReport         = "adv_report"
)

// Publisher receives session events. Publish is called on the host goroutine
// and must not block.
type Publisher interface {
	Publish(topic string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// LifecyclePayload accompanies Started and Stopped
type LifecyclePayload struct {
	DeviceName string `json:"device_name"`
	Role       string `json:"role"`
}

// ConnectedPayload accompanies Connected
type ConnectedPayload struct {
	ConnHandle uint16 `json:"conn_handle"`
	PeerAddr   string `json:"peer_addr"`
	OwnAddr    string `json:"own_addr"`
	MTU        uint16 `json:"mtu"`
}

// DisconnectedPayload accompanies Disconnected
type DisconnectedPayload struct {
	ConnHandle uint16 `json:"conn_handle"`
	PeerAddr   string `json:"peer_addr"`
	Reason     int    `json:"reason"`
}

// DataPayload accompanies DataReceive. Local is set for peer writes to a
// locally served characteristic, unset for notifications from the peer.
type DataPayload struct {
	ConnHandle uint16 `json:"conn_handle"`
	Handle     uint16 `json:"handle"`
	UUID       string `json:"uuid,omitempty"`
	Data       []byte `json:"data"`
	Indication bool   `json:"indication,omitempty"`
	Local      bool   `json:"local,omitempty"`
}

// DiscoveryPayload accompanies DiscoveryComplete
type DiscoveryPayload struct {
	ConnHandle uint16                 `json:"conn_handle"`
	Services   []svcindex.ServiceInfo `json:"services"`
}

// CccdPayload accompanies CccdUpdate
type CccdPayload struct {
	ConnHandle uint16 `json:"conn_handle"`
	Handle     uint16 `json:"handle"`
	UUID       string `json:"uuid"`
	Notify     bool   `json:"notify"`
	Indicate   bool   `json:"indicate"`
}
