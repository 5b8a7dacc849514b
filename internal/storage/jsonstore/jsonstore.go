// Package jsonstore is the reference storage.Store implementation: an
// in-memory index mirrored to a JSON file on disk, grounded on the
// teacher's message.MessageManager and user.UserMgr (load-whole-file
// on start, hold everything in a mutex-guarded map, rewrite the whole
// file on every mutation).
package jsonstore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/meshnet/node/internal/identity"
	"github.com/meshnet/node/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type document struct {
	Messages  []storage.MessageRecord `json:"messages"`
	Contacts  []storage.Contact       `json:"contacts"`
	Groups    []storage.Group         `json:"groups"`
	NextMsgID int64                   `json:"next_message_id"`
}

// Store is a JSON-file-backed storage.Store.
type Store struct {
	path string

	mu       sync.RWMutex
	messages []storage.MessageRecord
	contacts map[identity.NodeID]storage.Contact
	groups   map[string]storage.Group
	nextID   int64
}

// Open loads path if it exists, or starts with an empty store if it
// doesn't.
func Open(path string) (*Store, error) {
	s := &Store{
		path:     path,
		contacts: make(map[identity.NodeID]storage.Contact),
		groups:   make(map[string]storage.Group),
		nextID:   1,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("INFO: jsonstore: %s not found, starting with an empty store", path)
			return s, nil
		}
		return nil, fmt.Errorf("jsonstore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jsonstore: parse %s: %w", path, err)
	}

	s.messages = doc.Messages
	s.nextID = doc.NextMsgID
	if s.nextID == 0 {
		s.nextID = 1
	}
	for _, c := range doc.Contacts {
		s.contacts[c.NodeID] = c
	}
	for _, g := range doc.Groups {
		s.groups[g.Name] = g
	}

	log.Printf("INFO: jsonstore: loaded %d messages, %d contacts, %d groups from %s",
		len(s.messages), len(s.contacts), len(s.groups), path)
	return s, nil
}

func (s *Store) saveLocked() error {
	doc := document{
		Messages:  s.messages,
		Contacts:  make([]storage.Contact, 0, len(s.contacts)),
		Groups:    make([]storage.Group, 0, len(s.groups)),
		NextMsgID: s.nextID,
	}
	for _, c := range s.contacts {
		doc.Contacts = append(doc.Contacts, c)
	}
	for _, g := range s.groups {
		doc.Groups = append(doc.Groups, g)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonstore: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("jsonstore: write %s: %w", s.path, err)
	}
	return nil
}

// SaveMessage appends record, assigns it a local row id, and persists.
func (s *Store) SaveMessage(record storage.MessageRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.ID = s.nextID
	s.nextID++
	s.messages = append(s.messages, record)

	if err := s.saveLocked(); err != nil {
		return 0, err
	}
	return record.ID, nil
}

// GetMessages returns up to limit messages in reverse-chronological
// insertion order, optionally only those before beforeID.
func (s *Store) GetMessages(limit int, beforeID *int64) ([]storage.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.MessageRecord
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if beforeID != nil && m.ID >= *beforeID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetDMHistory returns up to limit direct messages to/from peer.
func (s *Store) GetDMHistory(peer identity.NodeID, limit int) ([]storage.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.MessageRecord
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.Destination != nil && (m.Sender == peer || *m.Destination == peer) {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetGroupHistory returns up to limit messages for a named group.
func (s *Store) GetGroupHistory(group string, limit int) ([]storage.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.MessageRecord
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].Group == group {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

// MarkRead sets the Read flag on the message with the given row id.
func (s *Store) MarkRead(id int64) error {
	return s.updateMessage(id, func(m *storage.MessageRecord) { m.Read = true })
}

// MarkDelivered sets the Delivered flag on the message with the given
// row id.
func (s *Store) MarkDelivered(id int64) error {
	return s.updateMessage(id, func(m *storage.MessageRecord) { m.Delivered = true })
}

func (s *Store) updateMessage(id int64, mutate func(*storage.MessageRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			mutate(&s.messages[i])
			return s.saveLocked()
		}
	}
	return fmt.Errorf("jsonstore: no message with id %d", id)
}

// DeleteExpired purges messages whose ExpireAt is at or before now and
// returns the count removed.
func (s *Store) DeleteExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	removed := 0
	for _, m := range s.messages {
		if m.ExpireAt != nil && !m.ExpireAt.After(now) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept

	if removed > 0 {
		if err := s.saveLocked(); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// SaveContact inserts or overwrites a contact record.
func (s *Store) SaveContact(c storage.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.NodeID] = c
	return s.saveLocked()
}

// GetContacts returns every stored contact.
func (s *Store) GetContacts() ([]storage.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	return out, nil
}

// SetNickname updates just the nickname field of an existing or new
// contact record for peer.
func (s *Store) SetNickname(peer identity.NodeID, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[peer]
	if !ok {
		c = storage.Contact{NodeID: peer, AddedAt: time.Now()}
	}
	c.Nickname = nickname
	s.contacts[peer] = c
	return s.saveLocked()
}

// GetContact looks up a single contact by NodeId.
func (s *Store) GetContact(peer identity.NodeID) (storage.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[peer]
	return c, ok, nil
}

// JoinGroup records membership in a named group.
func (s *Store) JoinGroup(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[name] = storage.Group{Name: name, JoinedAt: time.Now()}
	return s.saveLocked()
}

// LeaveGroup removes membership in a named group.
func (s *Store) LeaveGroup(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, name)
	return s.saveLocked()
}

// GetGroups returns every joined group.
func (s *Store) GetGroups() ([]storage.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}

// IsInGroup reports whether the store has a membership record for name.
func (s *Store) IsInGroup(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[name]
	return ok, nil
}
