package codec

// Type is the one-byte wire tag identifying a MeshMessage's kind. The
// catalog is closed: adding a new type requires a coordinated upgrade of
// every node on the mesh, never opportunistic extension.
type Type uint8

const (
	TypeDiscovery Type = 0x01
	TypePing      Type = 0x02
	TypePong      Type = 0x03

	TypeText             Type = 0x10
	TypePublicBroadcast  Type = 0x11
	TypeSOS              Type = 0x12
	TypeReadReceipt      Type = 0x13
	TypeTypingStart      Type = 0x14
	TypeTypingStop       Type = 0x15
	TypeGroupMessage     Type = 0x16
	TypeGroupJoin        Type = 0x17
	TypeGroupLeave       Type = 0x18
	TypeCheckIn          Type = 0x19
	TypeTriage           Type = 0x1A
	TypeResourceRequest  Type = 0x1B
	TypeDisappearing     Type = 0x1C

	TypeFileChunk  Type = 0x20
	TypeFileOffer  Type = 0x21
	TypeFileAccept Type = 0x22

	TypeVoiceNote   Type = 0x30
	TypeVoiceStream Type = 0x31
	TypeCallStart   Type = 0x32
	TypeCallEnd     Type = 0x33

	TypePeerExchange Type = 0x40
	TypeKeyExchange  Type = 0x50
	TypeProfileUpdate Type = 0x60
)

// RoutingClass describes whether a message type is meant for a single
// destination or for the whole mesh.
type RoutingClass int

const (
	// RoutingDirect messages require a destination NodeId.
	RoutingDirect RoutingClass = iota
	// RoutingBroadcast messages have no destination and flood the mesh.
	RoutingBroadcast
	// RoutingEither may be sent either way, per the caller's choice.
	RoutingEither
)

// catalogEntry describes the fixed properties of one message type.
type catalogEntry struct {
	initialTTL uint8
	class      RoutingClass
	// forwarded is false for types that are never handed to the router's
	// forward path regardless of TTL/dedup outcome (Discovery is
	// UDP-only; Ping/Pong/KeyExchange are single-hop liveness/handshake
	// traffic).
	forwarded bool
}

var catalog = map[Type]catalogEntry{
	TypeDiscovery: {initialTTL: 1, class: RoutingBroadcast, forwarded: false},
	TypePing:      {initialTTL: 1, class: RoutingDirect, forwarded: false},
	TypePong:      {initialTTL: 1, class: RoutingDirect, forwarded: false},

	TypeText:            {initialTTL: 10, class: RoutingEither, forwarded: true},
	TypePublicBroadcast: {initialTTL: 50, class: RoutingBroadcast, forwarded: true},
	TypeSOS:             {initialTTL: 255, class: RoutingBroadcast, forwarded: true},
	TypeReadReceipt:     {initialTTL: 10, class: RoutingDirect, forwarded: true},
	TypeTypingStart:     {initialTTL: 1, class: RoutingEither, forwarded: true},
	TypeTypingStop:      {initialTTL: 1, class: RoutingEither, forwarded: true},
	TypeGroupMessage:    {initialTTL: 10, class: RoutingBroadcast, forwarded: true},
	TypeGroupJoin:       {initialTTL: 10, class: RoutingBroadcast, forwarded: true},
	TypeGroupLeave:      {initialTTL: 10, class: RoutingBroadcast, forwarded: true},
	TypeCheckIn:         {initialTTL: 50, class: RoutingBroadcast, forwarded: true},
	TypeTriage:          {initialTTL: 50, class: RoutingBroadcast, forwarded: true},
	TypeResourceRequest: {initialTTL: 50, class: RoutingBroadcast, forwarded: true},
	TypeDisappearing:    {initialTTL: 10, class: RoutingEither, forwarded: true},

	TypeFileChunk:  {initialTTL: 10, class: RoutingDirect, forwarded: true},
	TypeFileOffer:  {initialTTL: 10, class: RoutingDirect, forwarded: true},
	TypeFileAccept: {initialTTL: 10, class: RoutingDirect, forwarded: true},

	TypeVoiceNote:   {initialTTL: 10, class: RoutingEither, forwarded: true},
	TypeVoiceStream: {initialTTL: 2, class: RoutingDirect, forwarded: true},
	TypeCallStart:   {initialTTL: 2, class: RoutingDirect, forwarded: true},
	TypeCallEnd:     {initialTTL: 2, class: RoutingDirect, forwarded: true},

	TypePeerExchange:  {initialTTL: 2, class: RoutingDirect, forwarded: true},
	TypeKeyExchange:   {initialTTL: 1, class: RoutingDirect, forwarded: false},
	TypeProfileUpdate: {initialTTL: 3, class: RoutingBroadcast, forwarded: true},
}

// InitialTTL returns the recommended starting hop budget for t, or 0 if t
// is not in the catalog.
func InitialTTL(t Type) uint8 {
	return catalog[t].initialTTL
}

// Class reports the routing class for t.
func Class(t Type) RoutingClass {
	return catalog[t].class
}

// IsForwardable reports whether messages of type t are ever handed to the
// router's forward path.
func IsForwardable(t Type) bool {
	return catalog[t].forwarded
}

// Known reports whether t is a recognized catalog entry.
func Known(t Type) bool {
	_, ok := catalog[t]
	return ok
}

func (t Type) String() string {
	switch t {
	case TypeDiscovery:
		return "Discovery"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeText:
		return "Text"
	case TypePublicBroadcast:
		return "PublicBroadcast"
	case TypeSOS:
		return "SOS"
	case TypeReadReceipt:
		return "ReadReceipt"
	case TypeTypingStart:
		return "TypingStart"
	case TypeTypingStop:
		return "TypingStop"
	case TypeGroupMessage:
		return "GroupMessage"
	case TypeGroupJoin:
		return "GroupJoin"
	case TypeGroupLeave:
		return "GroupLeave"
	case TypeCheckIn:
		return "CheckIn"
	case TypeTriage:
		return "Triage"
	case TypeResourceRequest:
		return "ResourceRequest"
	case TypeDisappearing:
		return "Disappearing"
	case TypeFileChunk:
		return "FileChunk"
	case TypeFileOffer:
		return "FileOffer"
	case TypeFileAccept:
		return "FileAccept"
	case TypeVoiceNote:
		return "VoiceNote"
	case TypeVoiceStream:
		return "VoiceStream"
	case TypeCallStart:
		return "CallStart"
	case TypeCallEnd:
		return "CallEnd"
	case TypePeerExchange:
		return "PeerExchange"
	case TypeKeyExchange:
		return "KeyExchange"
	case TypeProfileUpdate:
		return "ProfileUpdate"
	default:
		return "Unknown"
	}
}
