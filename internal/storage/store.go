// Package storage defines the mesh's persistence contract and ships a
// reference JSON-file-backed implementation, grounded on the teacher's
// message.MessageManager and user.UserMgr: in-memory maps guarded by a
// mutex, mirrored to disk as indented JSON via atomic-ish whole-file
// rewrite.
package storage

import (
	"time"

	"github.com/meshnet/node/internal/codec"
	"github.com/meshnet/node/internal/identity"
)

// Direction distinguishes sent from received messages in a history log.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// MessageRecord is one persisted message, independent of the wire
// MeshMessage that carried it.
type MessageRecord struct {
	ID          int64            `json:"id"`
	MessageID   codec.MessageID  `json:"message_id"`
	Sender      identity.NodeID  `json:"sender"`
	SenderName  string           `json:"sender_name"`
	Content     string           `json:"content"`
	Type        codec.Type       `json:"type"`
	Group       string           `json:"group,omitempty"`
	Destination *identity.NodeID `json:"destination,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Direction   Direction        `json:"direction"`
	Read        bool             `json:"read"`
	Delivered   bool             `json:"delivered"`
	ExpireAt    *time.Time       `json:"expire_at,omitempty"`
	Extra       map[string]any   `json:"extra,omitempty"`
}

// Contact is a remembered peer, independent of live connection state.
type Contact struct {
	NodeID   identity.NodeID `json:"node_id"`
	Nickname string          `json:"nickname"`
	AddedAt  time.Time       `json:"added_at"`
}

// Group is a persisted named group membership.
type Group struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Store is the persistence contract the orchestrator writes into with
// direct calls from its Run goroutine. Its implementation and schema are otherwise
// unspecified: any conforming implementation may back the node.
type Store interface {
	SaveMessage(record MessageRecord) (int64, error)
	GetMessages(limit int, beforeID *int64) ([]MessageRecord, error)
	GetDMHistory(peer identity.NodeID, limit int) ([]MessageRecord, error)
	GetGroupHistory(group string, limit int) ([]MessageRecord, error)
	MarkRead(id int64) error
	MarkDelivered(id int64) error
	DeleteExpired(now time.Time) (int, error)

	SaveContact(c Contact) error
	GetContacts() ([]Contact, error)
	SetNickname(peer identity.NodeID, nickname string) error
	GetContact(peer identity.NodeID) (Contact, bool, error)

	JoinGroup(name string) error
	LeaveGroup(name string) error
	GetGroups() ([]Group, error)
	IsInGroup(name string) (bool, error)
}
