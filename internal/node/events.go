package node

import (
	"time"

	"github.com/meshnet/node/internal/codec"
	"github.com/meshnet/node/internal/identity"
)

// Event is the closed union of everything the orchestrator emits to a
// UI or FFI layer.
type Event interface{ isEvent() }

type EventStarted struct{ NodeID identity.NodeID }

type EventPeerConnected struct {
	NodeID      identity.NodeID
	DisplayName string
}

type EventPeerDisconnected struct{ NodeID identity.NodeID }

type EventMessageReceived struct {
	Sender  identity.NodeID
	Content string
}

type EventPublicBroadcast struct {
	Sender  identity.NodeID
	Content string
}

type EventSOSReceived struct {
	Sender    identity.NodeID
	Text      string
	HasCoords bool
	Lat, Lon  float64
}

type EventProfileUpdated struct {
	NodeID      identity.NodeID
	DisplayName string
	Bio         string
}

type EventFileOffered struct {
	Sender identity.NodeID
	Meta   codec.FileOfferPayload
}

type EventFileProgress struct {
	FileID  [16]byte
	Percent float64
}

type EventFileComplete struct {
	FileID [16]byte
	Path   string
}

type EventVoiceReceived struct {
	Sender     identity.NodeID
	DurationMs uint32
	Data       []byte
}

type EventIncomingCall struct{ Peer identity.NodeID }

type EventAudioFrame struct {
	Peer identity.NodeID
	Data []byte
}

type EventCallEnded struct{ Peer identity.NodeID }

type EventGatewayFound struct{ NodeID identity.NodeID }

type EventGatewayLost struct{ NodeID identity.NodeID }

type EventStats struct{ Snapshot AdminSnapshot }

type EventPeerList struct{ Peers []AdminPeerInfo }

type EventTypingStarted struct{ Sender identity.NodeID }
type EventTypingStopped struct{ Sender identity.NodeID }

type EventGroupMessageReceived struct {
	Sender  identity.NodeID
	Group   string
	Content string
}
type EventGroupJoined struct{ Group string }
type EventGroupLeft struct{ Group string }

type EventTriageReceived struct {
	Sender  identity.NodeID
	Payload string
}
type EventResourceRequestReceived struct {
	Sender  identity.NodeID
	Payload string
}
type EventCheckInReceived struct {
	Sender  identity.NodeID
	Payload string
}
type EventDisappearingReceived struct {
	Sender     identity.NodeID
	Content    string
	TTLSeconds uint32
}

type EventHistoryLoaded struct{ Count int }
type EventNuked struct{}
type EventStopped struct{}

func (EventStarted) isEvent()                 {}
func (EventPeerConnected) isEvent()            {}
func (EventPeerDisconnected) isEvent()         {}
func (EventMessageReceived) isEvent()          {}
func (EventPublicBroadcast) isEvent()          {}
func (EventSOSReceived) isEvent()              {}
func (EventProfileUpdated) isEvent()           {}
func (EventFileOffered) isEvent()              {}
func (EventFileProgress) isEvent()             {}
func (EventFileComplete) isEvent()             {}
func (EventVoiceReceived) isEvent()            {}
func (EventIncomingCall) isEvent()             {}
func (EventAudioFrame) isEvent()               {}
func (EventCallEnded) isEvent()                {}
func (EventGatewayFound) isEvent()             {}
func (EventGatewayLost) isEvent()              {}
func (EventStats) isEvent()                    {}
func (EventPeerList) isEvent()                 {}
func (EventTypingStarted) isEvent()            {}
func (EventTypingStopped) isEvent()            {}
func (EventGroupMessageReceived) isEvent()     {}
func (EventGroupJoined) isEvent()              {}
func (EventGroupLeft) isEvent()                {}
func (EventTriageReceived) isEvent()           {}
func (EventResourceRequestReceived) isEvent()  {}
func (EventCheckInReceived) isEvent()          {}
func (EventDisappearingReceived) isEvent()     {}
func (EventHistoryLoaded) isEvent()            {}
func (EventNuked) isEvent()                    {}
func (EventStopped) isEvent()                  {}

// AdminPeerInfo is one row of a GetPeers/PeerList snapshot.
type AdminPeerInfo struct {
	NodeID      identity.NodeID
	DisplayName string
	RemoteAddr  string
	LastSeen    time.Time
	Gateway     bool
}

// AdminSnapshot is the result of GetStats, exported for both the
// command catalog and the diagnostic TUI.
type AdminSnapshot struct {
	TotalPeers       int
	MessagesRelayed  uint64
	MessagesReceived uint64
	UniqueNodesSeen  int
	AverageHops      float64
}
