package node

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshnet/node/internal/codec"
	"github.com/meshnet/node/internal/crypto"
	"github.com/meshnet/node/internal/discovery"
	"github.com/meshnet/node/internal/filetransfer"
	"github.com/meshnet/node/internal/identity"
	"github.com/meshnet/node/internal/registry"
	"github.com/meshnet/node/internal/router"
	"github.com/meshnet/node/internal/storage/jsonstore"
	"github.com/meshnet/node/internal/transport"
)

// newTestOrchestrator builds an Orchestrator with no listener or
// discovery service, for exercising pure command/message logic without
// touching the network.
func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	id, err := identity.Generate("tester")
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	ephemeral, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	broadcastKey, err := crypto.DeriveBroadcastKey([]byte("test-passphrase"), nil)
	if err != nil {
		t.Fatalf("DeriveBroadcastKey: %v", err)
	}
	store, err := jsonstore.Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("jsonstore.Open: %v", err)
	}

	return &Orchestrator{
		self:          id,
		ephemeral:     ephemeral,
		broadcastKey:  broadcastKey,
		identityPath:  filepath.Join(t.TempDir(), "identity.key"),
		registry:      registry.New(),
		router:        router.New(id.NodeID),
		files:         filetransfer.New(t.TempDir()),
		store:         store,
		commands:      make(chan Command, 16),
		events:        make(chan Event, 16),
		inboundFrames: make(chan inboundFrame, 16),
		pending:       make(map[string]*transport.Conn),
		dialing:       make(map[string]struct{}),
	}
}

func newID(b byte) identity.NodeID {
	var id identity.NodeID
	id[0] = b
	return id
}

func mustEvent(t *testing.T, o *Orchestrator) Event {
	t.Helper()
	select {
	case e := <-o.events:
		return e
	default:
		t.Fatal("expected an event, got none")
		return nil
	}
}

func expectNoEvent(t *testing.T, o *Orchestrator) {
	t.Helper()
	select {
	case e := <-o.events:
		t.Errorf("unexpected event %T", e)
	default:
	}
}

// mustEventWithin waits up to timeout for an event, for assertions that
// race against goroutines outside the caller's control (dialing,
// accepting, a reader loop tearing down).
func mustEventWithin(t *testing.T, o *Orchestrator, timeout time.Duration) Event {
	t.Helper()
	select {
	case e := <-o.events:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// pumpInboundFrames drains o.inboundFrames into handleInbound until stop
// is closed, standing in for the matching case in Run's select loop.
func pumpInboundFrames(o *Orchestrator, stop <-chan struct{}) {
	for {
		select {
		case frame := <-o.inboundFrames:
			o.handleInbound(frame)
		case <-stop:
			return
		}
	}
}

func TestSealForSendBroadcastRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)

	sealed, err := o.sealForSend(codec.TypePublicBroadcast, nil, []byte("to the whole mesh"))
	if err != nil {
		t.Fatalf("sealForSend: %v", err)
	}
	if string(sealed) == "to the whole mesh" {
		t.Error("sealForSend did not encrypt a PublicBroadcast payload")
	}

	msg := &codec.MeshMessage{Type: codec.TypePublicBroadcast, Sender: newID(9), Payload: sealed}
	pt := o.openPayload(msg)
	if string(pt) != "to the whole mesh" {
		t.Errorf("openPayload round trip = %q, want %q", pt, "to the whole mesh")
	}
}

func TestOpenPayloadRejectsTamperedBroadcast(t *testing.T) {
	o := newTestOrchestrator(t)

	sealed, err := o.sealForSend(codec.TypeSOS, nil, []byte("help"))
	if err != nil {
		t.Fatalf("sealForSend: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	msg := &codec.MeshMessage{Type: codec.TypeSOS, Sender: newID(9), Payload: sealed}
	if pt := o.openPayload(msg); pt != nil {
		t.Errorf("openPayload accepted a tampered SOS payload: %q", pt)
	}
}

func TestSealForSendSessionKeyRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)

	peerID := newID(7)
	var sessionKey [32]byte
	sessionKey[0] = 0x42
	peer := &registry.Peer{NodeID: peerID, SessionKey: sessionKey, HasSessionKey: true}
	o.registry.Add(peer)

	sealed, err := o.sealForSend(codec.TypeText, &peerID, []byte("private"))
	if err != nil {
		t.Fatalf("sealForSend: %v", err)
	}

	// Simulate the same payload arriving from peerID: openPayload looks
	// up the session key by msg.Sender, which is the same shared key.
	msg := &codec.MeshMessage{Type: codec.TypeText, Sender: peerID, Destination: &o.self.NodeID, Payload: sealed}
	pt := o.openPayload(msg)
	if string(pt) != "private" {
		t.Errorf("openPayload round trip = %q, want %q", pt, "private")
	}
}

func TestSealForSendPlaintextWithoutSessionKey(t *testing.T) {
	o := newTestOrchestrator(t)
	dest := newID(3)

	sealed, err := o.sealForSend(codec.TypeText, &dest, []byte("no pairing yet"))
	if err != nil {
		t.Fatalf("sealForSend: %v", err)
	}
	if string(sealed) != "no pairing yet" {
		t.Errorf("sealForSend with no session key = %q, want plaintext passthrough", sealed)
	}
}

func TestDispatchForUsTextEmitsMessageReceived(t *testing.T) {
	o := newTestOrchestrator(t)
	sender := newID(4)

	msg := &codec.MeshMessage{
		Type:    codec.TypeText,
		Sender:  sender,
		Payload: codec.EncodeTextPayload("hello mesh"),
	}
	o.dispatchForUs(msg)

	e, ok := mustEvent(t, o).(EventMessageReceived)
	if !ok {
		t.Fatalf("event = %T, want EventMessageReceived", e)
	}
	if e.Sender != sender || e.Content != "hello mesh" {
		t.Errorf("event = %+v, want sender %v content %q", e, sender, "hello mesh")
	}
}

func TestDispatchForUsSOSEmitsCoords(t *testing.T) {
	o := newTestOrchestrator(t)
	sender := newID(5)

	payload := codec.EncodeSOSPayload(codec.SOSPayload{Text: "trapped", HasCoords: true, Lat: 1.5, Lon: -2.5})
	sealed, err := crypto.Encrypt(o.broadcastKey, payload)
	if err != nil {
		t.Fatalf("crypto.Encrypt: %v", err)
	}

	o.dispatchForUs(&codec.MeshMessage{Type: codec.TypeSOS, Sender: sender, Payload: sealed})

	e, ok := mustEvent(t, o).(EventSOSReceived)
	if !ok {
		t.Fatalf("event = %T, want EventSOSReceived", e)
	}
	if !e.HasCoords || e.Lat != 1.5 || e.Lon != -2.5 || e.Text != "trapped" {
		t.Errorf("event = %+v, want trapped @ (1.5,-2.5)", e)
	}
}

func TestHandleInboundDedupesRepeatedMessageID(t *testing.T) {
	o := newTestOrchestrator(t)
	sender := newID(6)

	id, err := codec.NewMessageID()
	if err != nil {
		t.Fatalf("NewMessageID: %v", err)
	}
	msg := &codec.MeshMessage{
		Type:    codec.TypeText,
		Sender:  sender,
		ID:      id,
		TTL:     5,
		Payload: codec.EncodeTextPayload("once only"),
	}

	o.handleInbound(inboundFrame{msg: msg, conn: nil})
	if _, ok := mustEvent(t, o).(EventMessageReceived); !ok {
		t.Fatal("expected EventMessageReceived on first delivery")
	}

	o.handleInbound(inboundFrame{msg: msg, conn: nil})
	expectNoEvent(t, o)
}

func TestHandleInboundRejectsOwnMessages(t *testing.T) {
	o := newTestOrchestrator(t)

	id, err := codec.NewMessageID()
	if err != nil {
		t.Fatalf("NewMessageID: %v", err)
	}
	msg := &codec.MeshMessage{
		Type:    codec.TypeText,
		Sender:  o.self.NodeID,
		ID:      id,
		TTL:     5,
		Payload: codec.EncodeTextPayload("echo"),
	}
	o.handleInbound(inboundFrame{msg: msg, conn: nil})
	expectNoEvent(t, o)
}

func TestHandleCommandShutdownTerminates(t *testing.T) {
	o := newTestOrchestrator(t)
	if !o.handleCommand(CmdShutdown{}) {
		t.Error("handleCommand(CmdShutdown{}) = false, want true")
	}
}

func TestHandleCommandNukeTerminatesAndEmits(t *testing.T) {
	o := newTestOrchestrator(t)
	if !o.handleCommand(CmdNuke{}) {
		t.Error("handleCommand(CmdNuke{}) = false, want true")
	}
	if _, ok := mustEvent(t, o).(EventNuked); !ok {
		t.Error("expected EventNuked to be emitted")
	}
}

func TestHandleCommandJoinLeaveGroup(t *testing.T) {
	o := newTestOrchestrator(t)

	o.handleCommand(CmdJoinGroup{Name: "survivors"})
	if _, ok := mustEvent(t, o).(EventGroupJoined); !ok {
		t.Fatal("expected EventGroupJoined")
	}
	inGroup, err := o.store.IsInGroup("survivors")
	if err != nil || !inGroup {
		t.Errorf("IsInGroup(survivors) = %v, %v; want true, nil", inGroup, err)
	}

	o.handleCommand(CmdLeaveGroup{Name: "survivors"})
	if _, ok := mustEvent(t, o).(EventGroupLeft); !ok {
		t.Fatal("expected EventGroupLeft")
	}
	inGroup, err = o.store.IsInGroup("survivors")
	if err != nil || inGroup {
		t.Errorf("IsInGroup(survivors) after leave = %v, %v; want false, nil", inGroup, err)
	}
}

func TestHandleCommandSendBroadcastPersists(t *testing.T) {
	o := newTestOrchestrator(t)
	o.handleCommand(CmdSendBroadcast{Text: "anyone there?"})

	records, err := o.store.GetMessages(10, nil)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(records) != 1 || records[0].Content != "anyone there?" {
		t.Errorf("stored records = %+v, want one record with that content", records)
	}
}

func TestHandleCommandGetStatsEmitsSnapshot(t *testing.T) {
	o := newTestOrchestrator(t)
	o.registry.Add(&registry.Peer{NodeID: newID(1)})
	o.registry.Add(&registry.Peer{NodeID: newID(2)})

	o.handleCommand(CmdGetStats{})
	e, ok := mustEvent(t, o).(EventStats)
	if !ok {
		t.Fatalf("event = %T, want EventStats", e)
	}
	if e.Snapshot.TotalPeers != 2 {
		t.Errorf("TotalPeers = %d, want 2", e.Snapshot.TotalPeers)
	}
}

func TestHandleCommandGetPeersEmitsEveryPeer(t *testing.T) {
	o := newTestOrchestrator(t)
	o.registry.Add(&registry.Peer{NodeID: newID(1), DisplayName: "alice"})

	o.handleCommand(CmdGetPeers{})
	e, ok := mustEvent(t, o).(EventPeerList)
	if !ok {
		t.Fatalf("event = %T, want EventPeerList", e)
	}
	if len(e.Peers) != 1 || e.Peers[0].DisplayName != "alice" {
		t.Errorf("peers = %+v, want one peer named alice", e.Peers)
	}
}

func TestHandleCommandStartAndEndVoiceCall(t *testing.T) {
	o := newTestOrchestrator(t)
	peer := newID(8)

	o.handleCommand(CmdStartVoiceCall{Peer: peer})
	if o.call == nil || o.call.peer != peer {
		t.Fatalf("call = %+v, want active call with peer %v", o.call, peer)
	}

	o.handleCommand(CmdEndVoiceCall{})
	if o.call != nil {
		t.Error("call still active after CmdEndVoiceCall")
	}
	e, ok := mustEvent(t, o).(EventCallEnded)
	if !ok || e.Peer != peer {
		t.Errorf("event = %+v, want EventCallEnded{Peer: %v}", e, peer)
	}
}

func TestDispatchForUsIncomingCallTracksPeer(t *testing.T) {
	o := newTestOrchestrator(t)
	caller := newID(11)

	o.dispatchForUs(&codec.MeshMessage{Type: codec.TypeCallStart, Sender: caller})
	if o.call == nil || o.call.peer != caller {
		t.Fatalf("call = %+v, want active call from %v", o.call, caller)
	}
	if _, ok := mustEvent(t, o).(EventIncomingCall); !ok {
		t.Error("expected EventIncomingCall")
	}

	o.dispatchForUs(&codec.MeshMessage{Type: codec.TypeCallEnd, Sender: caller})
	if o.call != nil {
		t.Error("call still active after remote CallEnd")
	}
	if _, ok := mustEvent(t, o).(EventCallEnded); !ok {
		t.Error("expected EventCallEnded")
	}
}

func TestFileTransferReceiveFlow(t *testing.T) {
	o := newTestOrchestrator(t)
	sender := newID(13)

	content := []byte("the quick brown fox jumps over the lazy dog")
	hash := sha256.Sum256(content)
	fileID := filetransfer.NewFileID()

	offer := codec.FileOfferPayload{
		FileID:      fileID,
		Filename:    "fox.txt",
		TotalBytes:  uint64(len(content)),
		ChunkCount:  1,
		ContentHash: hash,
	}
	o.dispatchForUs(&codec.MeshMessage{
		Type:    codec.TypeFileOffer,
		Sender:  sender,
		Payload: codec.EncodeFileOfferPayload(offer),
	})
	if _, ok := mustEvent(t, o).(EventFileOffered); !ok {
		t.Fatal("expected EventFileOffered")
	}

	o.handleCommand(CmdAcceptFile{FileID: fileID})

	o.dispatchForUs(&codec.MeshMessage{
		Type:   codec.TypeFileChunk,
		Sender: sender,
		Payload: codec.EncodeFileChunkPayload(codec.FileChunkPayload{
			FileID:   fileID,
			Sequence: 0,
			Data:     content,
		}),
	})

	// Receiving the single expected chunk reports 100% progress before
	// the completion event fires.
	progress, ok := mustEvent(t, o).(EventFileProgress)
	if !ok {
		t.Fatalf("event = %T, want EventFileProgress", progress)
	}
	if progress.Percent != 100 {
		t.Errorf("Percent = %v, want 100", progress.Percent)
	}

	e, ok := mustEvent(t, o).(EventFileComplete)
	if !ok {
		t.Fatalf("event = %T, want EventFileComplete", e)
	}
	got, err := os.ReadFile(e.Path)
	if err != nil {
		t.Fatalf("read finalized file: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("finalized content = %q, want %q", got, content)
	}
}

// TestConnectionLifecycleDialAcceptKeyExchange dials two orchestrators
// over a real transport.Listener/Dial pair and drives them through
// discovery, accept, key exchange, and eviction, exercising
// acceptConn, dialPeer, handleDiscovered and handleKeyExchange end to
// end instead of only their downstream effects.
func TestConnectionLifecycleDialAcceptKeyExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestOrchestrator(t)
	ln, err := transport.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("transport.Listen: %v", err)
	}
	defer ln.Close()
	a.listener = ln

	b := newTestOrchestrator(t)

	stopA := make(chan struct{})
	stopB := make(chan struct{})
	defer close(stopA)
	defer close(stopB)
	go pumpInboundFrames(a, stopA)
	go pumpInboundFrames(b, stopB)

	go func() {
		for ic := range a.listener.Accepted {
			a.acceptConn(ic)
		}
	}()

	// b discovers a over the LAN and dials it, mirroring what the
	// orchestrator's Run loop does with a discovery.Service event.
	b.handleDiscovered(discovery.DiscoveredPeer{
		NodeID:  a.self.NodeID,
		Address: a.listener.Addr(),
	})

	aConnected, ok := mustEventWithin(t, a, 2*time.Second).(EventPeerConnected)
	if !ok {
		t.Fatal("a: expected EventPeerConnected")
	}
	if aConnected.NodeID != b.self.NodeID {
		t.Errorf("a: connected peer = %s, want %s", aConnected.NodeID, b.self.NodeID)
	}

	bConnected, ok := mustEventWithin(t, b, 2*time.Second).(EventPeerConnected)
	if !ok {
		t.Fatal("b: expected EventPeerConnected")
	}
	if bConnected.NodeID != a.self.NodeID {
		t.Errorf("b: connected peer = %s, want %s", bConnected.NodeID, a.self.NodeID)
	}

	peerOnA, ok := a.registry.Get(b.self.NodeID)
	if !ok {
		t.Fatal("a: peer not registered after key exchange")
	}
	conn := peerOnA.Conn()
	if conn == nil {
		t.Fatal("a: peer registered without a connection attached")
	}

	evicted := a.registry.PruneStale(0)
	if len(evicted) != 1 || evicted[0] != b.self.NodeID {
		t.Fatalf("PruneStale evicted = %v, want [%s]", evicted, b.self.NodeID)
	}
	if a.registry.Contains(b.self.NodeID) {
		t.Error("evicted peer should no longer be registered")
	}

	select {
	case _, open := <-conn.Inbound():
		if open {
			t.Error("expected the evicted peer's connection to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for evicted connection to tear down")
	}
}
