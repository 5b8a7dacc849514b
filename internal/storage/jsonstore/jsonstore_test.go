package jsonstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/meshnet/node/internal/identity"
	"github.com/meshnet/node/internal/storage"
)

func TestSaveAndGetMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var sender identity.NodeID
	sender[0] = 1

	id, err := s.SaveMessage(storage.MessageRecord{Sender: sender, Content: "hi", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if id != 1 {
		t.Errorf("first row id = %d, want 1", id)
	}

	msgs, err := s.GetMessages(10, nil)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("GetMessages = %+v, want one message with content %q", msgs, "hi")
	}
}

func TestReopenLoadsPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var peer identity.NodeID
	peer[0] = 9
	if err := s1.SaveContact(storage.Contact{NodeID: peer, Nickname: "scout"}); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	contacts, err := s2.GetContacts()
	if err != nil {
		t.Fatalf("GetContacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Nickname != "scout" {
		t.Errorf("GetContacts after reopen = %+v, want one contact named scout", contacts)
	}
}

func TestDeleteExpiredPurgesOnlyPastExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	s.SaveMessage(storage.MessageRecord{Content: "expired", ExpireAt: &past})
	s.SaveMessage(storage.MessageRecord{Content: "still valid", ExpireAt: &future})
	s.SaveMessage(storage.MessageRecord{Content: "no expiry"})

	removed, err := s.DeleteExpired(time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	msgs, _ := s.GetMessages(10, nil)
	if len(msgs) != 2 {
		t.Errorf("remaining messages = %d, want 2", len(msgs))
	}
}

func TestGroupMembership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if in, _ := s.IsInGroup("survivors"); in {
		t.Fatal("IsInGroup before join = true, want false")
	}
	if err := s.JoinGroup("survivors"); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if in, _ := s.IsInGroup("survivors"); !in {
		t.Error("IsInGroup after join = false, want true")
	}
	if err := s.LeaveGroup("survivors"); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}
	if in, _ := s.IsInGroup("survivors"); in {
		t.Error("IsInGroup after leave = true, want false")
	}
}

func TestSetNicknameCreatesContactIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var peer identity.NodeID
	peer[0] = 3
	if err := s.SetNickname(peer, "rover"); err != nil {
		t.Fatalf("SetNickname: %v", err)
	}

	c, ok, err := s.GetContact(peer)
	if err != nil || !ok || c.Nickname != "rover" {
		t.Errorf("GetContact = %+v, %v, %v; want nickname rover", c, ok, err)
	}
}
