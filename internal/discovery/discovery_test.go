package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/meshnet/node/internal/identity"
)

func TestDiscoveryEmitsPeerFromOtherNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var selfA, selfB identity.NodeID
	selfA[0] = 1
	selfB[0] = 2

	a, err := Start(ctx, Self{NodeID: selfA, DisplayName: "node-a", ListenPort: 9001})
	if err != nil {
		t.Fatalf("Start(a): %v", err)
	}
	defer a.Stop()

	b, err := Start(ctx, Self{NodeID: selfB, DisplayName: "node-b", ListenPort: 9002})
	if err != nil {
		t.Fatalf("Start(b): %v", err)
	}
	defer b.Stop()

	select {
	case peer := <-a.Discovered:
		if peer.NodeID != selfB {
			t.Errorf("discovered NodeID = %v, want %v", peer.NodeID, selfB)
		}
		if peer.ListenPort != 9002 {
			t.Errorf("discovered ListenPort = %d, want 9002", peer.ListenPort)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for discovered peer")
	}
}

func TestDiscoveryNeverEmitsSelf(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var self identity.NodeID
	self[0] = 9

	svc, err := Start(ctx, Self{NodeID: self, DisplayName: "solo", ListenPort: 9003})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	select {
	case peer := <-svc.Discovered:
		t.Fatalf("unexpected self-discovery: %+v", peer)
	case <-time.After(2 * AnnounceInterval):
	}
}
