// Package node implements the orchestrator: the single goroutine that
// owns every piece of per-process mesh state (identity, registry,
// router, file transfers) and drives it from one select loop over
// commands, accepted connections, discovered peers, inbound frames and
// two maintenance tickers. Grounded on the teacher's chat.ChatRoom for
// the bounded-channel fan-out shape and tosser.Tosser.Start for the
// ticker-driven background loop.
package node

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meshnet/node/internal/codec"
	"github.com/meshnet/node/internal/crypto"
	"github.com/meshnet/node/internal/discovery"
	"github.com/meshnet/node/internal/filetransfer"
	"github.com/meshnet/node/internal/gateway"
	"github.com/meshnet/node/internal/identity"
	"github.com/meshnet/node/internal/registry"
	"github.com/meshnet/node/internal/router"
	"github.com/meshnet/node/internal/storage"
	"github.com/meshnet/node/internal/transport"
)

// heartbeatInterval drives peer liveness pings and stale-peer pruning.
const heartbeatInterval = 10 * time.Second

// gatewayProbeInterval drives the internet-reachability re-check that
// feeds the advertised gateway flag.
const gatewayProbeInterval = 30 * time.Second

// Config supplies everything the orchestrator needs to start: an
// already-loaded identity, network and crypto settings, and a
// persistence backend.
type Config struct {
	Identity       *identity.Identity
	ListenPort     uint16
	ProfileBio     string
	Capabilities   []string
	MeshPassphrase string
	SaveDir        string
	IdentityPath   string
	Store          storage.Store
}

type inboundFrame struct {
	msg  *codec.MeshMessage
	conn *transport.Conn
}

type activeCall struct {
	peer      identity.NodeID
	startedAt time.Time
}

// Orchestrator is the node's single-threaded control loop. Every field
// it mutates directly (self.DisplayName, profileBio, gatewayAdv, call)
// is touched only from the Run goroutine; registry and file-transfer
// state are separately synchronized so that accept/dial/pump
// goroutines can reach them without going through the command channel.
type Orchestrator struct {
	self         *identity.Identity
	ephemeral    crypto.EphemeralKeyPair
	broadcastKey [32]byte
	listenPort   uint16
	capabilities []string
	profileBio   string
	gatewayAdv   bool

	listener     *transport.Listener
	discoverySvc *discovery.Service
	registry     *registry.Registry
	router       *router.Router
	files        *filetransfer.Manager
	store        storage.Store
	identityPath string

	commands      chan Command
	events        chan Event
	inboundFrames chan inboundFrame

	pendingMu sync.Mutex
	pending   map[string]*transport.Conn
	dialing   map[string]struct{}

	call *activeCall

	cancel context.CancelFunc
}

// New wires a listener, a discovery service and every supporting
// package described by cfg, but does not yet run the control loop;
// call Run to start it.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	ephemeral, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, fmt.Errorf("node: generate ephemeral keypair: %w", err)
	}

	broadcastKey, err := crypto.DeriveBroadcastKey([]byte(cfg.MeshPassphrase), nil)
	if err != nil {
		return nil, fmt.Errorf("node: derive broadcast key: %w", err)
	}

	listener, err := transport.Listen(ctx, fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("node: listen on :%d: %w", cfg.ListenPort, err)
	}

	gatewayAdv := gateway.Probe()
	disc, err := discovery.Start(ctx, discovery.Self{
		NodeID:       cfg.Identity.NodeID,
		DisplayName:  cfg.Identity.DisplayName,
		ListenPort:   cfg.ListenPort,
		Capabilities: cfg.Capabilities,
		Gateway:      gatewayAdv,
	})
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("node: start discovery: %w", err)
	}

	return &Orchestrator{
		self:         cfg.Identity,
		ephemeral:    ephemeral,
		broadcastKey: broadcastKey,
		listenPort:   cfg.ListenPort,
		capabilities: cfg.Capabilities,
		profileBio:   cfg.ProfileBio,
		gatewayAdv:   gatewayAdv,

		listener:     listener,
		discoverySvc: disc,
		registry:     registry.New(),
		router:       router.New(cfg.Identity.NodeID),
		files:        filetransfer.New(cfg.SaveDir),
		store:        cfg.Store,
		identityPath: cfg.IdentityPath,

		commands:      make(chan Command, 256),
		events:        make(chan Event, 256),
		inboundFrames: make(chan inboundFrame, 256),

		pending: make(map[string]*transport.Conn),
		dialing: make(map[string]struct{}),
	}, nil
}

// NodeID returns this node's identity.
func (o *Orchestrator) NodeID() identity.NodeID { return o.self.NodeID }

// CleanupRouter purges expired router seen-cache entries. It is safe to
// call from outside the Run goroutine (e.g. a periodic maintenance
// job); the router guards its own state with a mutex.
func (o *Orchestrator) CleanupRouter() {
	o.router.Cleanup()
}

// Submit enqueues cmd for processing by Run, dropping it if the
// command queue is full.
func (o *Orchestrator) Submit(cmd Command) {
	select {
	case o.commands <- cmd:
	default:
		log.Printf("WARN: node: dropping command %T, queue full", cmd)
	}
}

// Events returns the channel Run publishes application events to.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Stop cancels the context Run is driving on, causing it to shut down
// and return. Safe to call before Run starts or more than once.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
		log.Printf("WARN: node: dropping event %T, queue full", e)
	}
}

// Run drives the orchestrator's control loop until ctx is cancelled or
// a CmdShutdown/CmdNuke command is processed. It owns every mutation
// of registry, router and file-transfer state reached through this
// loop; callers only ever interact through Submit and Events.
func (o *Orchestrator) Run(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	o.emit(EventStarted{NodeID: o.self.NodeID})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	gatewayProbe := time.NewTicker(gatewayProbeInterval)
	defer gatewayProbe.Stop()

	accepted := o.listener.Accepted
	discovered := o.discoverySvc.Discovered

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return

		case cmd := <-o.commands:
			if o.handleCommand(cmd) {
				o.shutdown()
				return
			}

		case ic, ok := <-accepted:
			if !ok {
				accepted = nil
				continue
			}
			o.acceptConn(ic)

		case d, ok := <-discovered:
			if !ok {
				discovered = nil
				continue
			}
			o.handleDiscovered(d)

		case frame := <-o.inboundFrames:
			o.handleInbound(frame)

		case <-heartbeat.C:
			o.runHeartbeat()

		case <-gatewayProbe.C:
			o.runGatewayProbe()
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.listener.Close()
	o.discoverySvc.Stop()
	o.emit(EventStopped{})
}

// --- connection lifecycle ---------------------------------------------------

func (o *Orchestrator) acceptConn(ic transport.InboundConnection) {
	o.pendingMu.Lock()
	o.pending[ic.RemoteAddr] = ic.Conn
	o.pendingMu.Unlock()

	go o.pumpInbound(ic.Conn)
	o.sendKeyExchange(ic.Conn)
}

// pumpInbound forwards decoded frames from conn onto inboundFrames
// until conn's reader goroutine exits. It runs outside the control
// loop, so it touches only concurrency-safe structures: the bounded
// inboundFrames channel and the mutex-guarded pending map.
func (o *Orchestrator) pumpInbound(conn *transport.Conn) {
	for msg := range conn.Inbound() {
		select {
		case o.inboundFrames <- inboundFrame{msg: msg, conn: conn}:
		default:
			log.Printf("WARN: node: dropping inbound frame from %s, queue full", conn.RemoteAddr())
		}
	}

	o.pendingMu.Lock()
	delete(o.pending, conn.RemoteAddr())
	o.pendingMu.Unlock()
}

func (o *Orchestrator) handleDiscovered(d discovery.DiscoveredPeer) {
	if d.NodeID == o.self.NodeID {
		return
	}

	if peer, ok := o.registry.Get(d.NodeID); ok {
		wasGateway := peer.Gateway
		peer.DisplayName = d.DisplayName
		peer.RemoteAddr = d.Address
		peer.Gateway = d.Gateway
		peer.Touch()

		switch {
		case d.Gateway && !wasGateway:
			o.emit(EventGatewayFound{NodeID: d.NodeID})
		case !d.Gateway && wasGateway:
			o.emit(EventGatewayLost{NodeID: d.NodeID})
		}
		return
	}

	o.dialIfNotAlready(d.Address)
}

func (o *Orchestrator) dialIfNotAlready(addr string) {
	o.pendingMu.Lock()
	_, already := o.dialing[addr]
	if !already {
		o.dialing[addr] = struct{}{}
	}
	o.pendingMu.Unlock()
	if already {
		return
	}
	go o.dialPeer(addr)
}

// dialPeer runs on its own goroutine since dialing is a blocking
// network call; it only touches the mutex-guarded pending/dialing maps
// and the bounded inboundFrames channel, never registry or router
// state directly.
func (o *Orchestrator) dialPeer(addr string) {
	defer func() {
		o.pendingMu.Lock()
		delete(o.dialing, addr)
		o.pendingMu.Unlock()
	}()

	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(dialCtx, addr)
	if err != nil {
		log.Printf("WARN: node: dial %s failed: %v", addr, err)
		return
	}

	o.pendingMu.Lock()
	o.pending[conn.RemoteAddr()] = conn
	o.pendingMu.Unlock()

	go o.pumpInbound(conn)
	o.sendKeyExchange(conn)
}

// --- inbound frame dispatch --------------------------------------------------

func (o *Orchestrator) handleInbound(frame inboundFrame) {
	msg := frame.msg

	switch msg.Type {
	case codec.TypeKeyExchange:
		o.handleKeyExchange(frame.conn, msg)
		return
	case codec.TypePing:
		o.handlePing(frame.conn, msg)
		return
	case codec.TypePong:
		o.handlePong(frame.conn, msg)
		return
	}

	if !o.router.ShouldProcess(msg) {
		return
	}
	if peer, ok := o.registry.Get(msg.Sender); ok {
		peer.Touch()
	}

	if neighbor, ok := o.registry.NodeIDByConn(frame.conn); ok {
		if initial := codec.InitialTTL(msg.Type); initial >= msg.TTL {
			o.router.UpdateNextHop(msg.Sender, neighbor, initial-msg.TTL)
		}
	}

	if msg.IsForUs(o.self.NodeID) {
		o.dispatchForUs(msg)
	}

	if o.router.ShouldForward(msg) {
		if fwd := o.router.PrepareForward(msg); fwd != nil {
			o.floodExcept(fwd, frame.conn)
		}
	}
}

func (o *Orchestrator) handleKeyExchange(conn *transport.Conn, msg *codec.MeshMessage) {
	kp, err := codec.DecodeKeyExchangePayload(msg.Payload)
	if err != nil {
		log.Printf("WARN: node: malformed key exchange from %s: %v", conn.RemoteAddr(), err)
		return
	}
	sessionKey, err := crypto.DeriveSession(o.ephemeral.Secret, kp.EphemeralPublic)
	if err != nil {
		log.Printf("ERROR: node: derive session key with %s: %v", msg.Sender.ShortString(), err)
		return
	}

	o.pendingMu.Lock()
	delete(o.pending, conn.RemoteAddr())
	o.pendingMu.Unlock()

	peer, existed := o.registry.Get(msg.Sender)
	if !existed {
		peer = &registry.Peer{NodeID: msg.Sender, RemoteAddr: conn.RemoteAddr()}
		o.registry.Add(peer)
	}
	peer.SetConn(conn)
	peer.SessionKey = sessionKey
	peer.HasSessionKey = true
	peer.SetState(registry.StatePaired)
	peer.Touch()

	if !existed {
		o.emit(EventPeerConnected{NodeID: msg.Sender, DisplayName: peer.DisplayName})
	}
}

func (o *Orchestrator) handlePing(conn *transport.Conn, msg *codec.MeshMessage) {
	if peer, ok := o.registry.Get(msg.Sender); ok {
		peer.Touch()
	}
	conn.Send(o.newMessage(codec.TypePong, nil, nil))
}

func (o *Orchestrator) handlePong(_ *transport.Conn, msg *codec.MeshMessage) {
	if peer, ok := o.registry.Get(msg.Sender); ok {
		peer.Touch()
	}
}

// dispatchForUs handles one message addressed to this node (broadcast
// or direct), after the router has already admitted it.
func (o *Orchestrator) dispatchForUs(msg *codec.MeshMessage) {
	switch msg.Type {
	case codec.TypeText:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		tp, err := codec.DecodeTextPayload(pt)
		if err != nil {
			log.Printf("WARN: node: decode text from %s: %v", msg.Sender.ShortString(), err)
			return
		}
		o.emit(EventMessageReceived{Sender: msg.Sender, Content: tp.Text})
		o.persistIncoming(msg, tp.Text, "")

	case codec.TypePublicBroadcast:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		tp, err := codec.DecodeTextPayload(pt)
		if err != nil {
			log.Printf("WARN: node: decode public broadcast from %s: %v", msg.Sender.ShortString(), err)
			return
		}
		o.emit(EventPublicBroadcast{Sender: msg.Sender, Content: tp.Text})
		o.persistIncoming(msg, tp.Text, "")

	case codec.TypeSOS:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		sp, err := codec.DecodeSOSPayload(pt)
		if err != nil {
			log.Printf("WARN: node: decode SOS from %s: %v", msg.Sender.ShortString(), err)
			return
		}
		o.emit(EventSOSReceived{Sender: msg.Sender, Text: sp.Text, HasCoords: sp.HasCoords, Lat: sp.Lat, Lon: sp.Lon})
		o.persistIncoming(msg, sp.Text, "")

	case codec.TypeTypingStart:
		o.emit(EventTypingStarted{Sender: msg.Sender})

	case codec.TypeTypingStop:
		o.emit(EventTypingStopped{Sender: msg.Sender})

	case codec.TypeGroupMessage:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		gp, err := codec.DecodeGroupPayload(pt)
		if err != nil {
			log.Printf("WARN: node: decode group message from %s: %v", msg.Sender.ShortString(), err)
			return
		}
		o.emit(EventGroupMessageReceived{Sender: msg.Sender, Group: gp.Group, Content: gp.Text})
		o.persistIncoming(msg, gp.Text, gp.Group)

	case codec.TypeGroupJoin, codec.TypeGroupLeave, codec.TypeReadReceipt:
		// Remote group membership and delivery receipts are routed and
		// deduplicated like any other message but are not surfaced as
		// events in this revision.

	case codec.TypeCheckIn:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		tp, err := codec.DecodeTextPayload(pt)
		if err != nil {
			return
		}
		o.emit(EventCheckInReceived{Sender: msg.Sender, Payload: tp.Text})

	case codec.TypeTriage:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		tp, err := codec.DecodeTextPayload(pt)
		if err != nil {
			return
		}
		o.emit(EventTriageReceived{Sender: msg.Sender, Payload: tp.Text})

	case codec.TypeResourceRequest:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		tp, err := codec.DecodeTextPayload(pt)
		if err != nil {
			return
		}
		o.emit(EventResourceRequestReceived{Sender: msg.Sender, Payload: tp.Text})

	case codec.TypeDisappearing:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		dp, err := codec.DecodeDisappearingPayload(pt)
		if err != nil {
			return
		}
		o.emit(EventDisappearingReceived{Sender: msg.Sender, Content: dp.Text, TTLSeconds: dp.TTLSeconds})
		o.persistIncomingExpiring(msg, dp.Text, time.Now().Add(time.Duration(dp.TTLSeconds)*time.Second))

	case codec.TypeFileOffer:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		fp, err := codec.DecodeFileOfferPayload(pt)
		if err != nil {
			log.Printf("WARN: node: decode file offer from %s: %v", msg.Sender.ShortString(), err)
			return
		}
		o.files.RegisterIncoming(filetransfer.Metadata{
			FileID:      fp.FileID,
			Filename:    fp.Filename,
			TotalBytes:  fp.TotalBytes,
			ChunkCount:  fp.ChunkCount,
			ContentHash: fp.ContentHash,
		}, msg.Sender)
		o.emit(EventFileOffered{Sender: msg.Sender, Meta: fp})

	case codec.TypeFileAccept:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		fa, err := codec.DecodeFileAcceptPayload(pt)
		if err != nil {
			return
		}
		fileID := filetransfer.FileID(fa.FileID)
		if err := o.files.MarkAccepted(fileID); err != nil {
			log.Printf("WARN: node: file accept for unknown transfer from %s: %v", msg.Sender.ShortString(), err)
			return
		}
		o.sendFileChunks(fileID, msg.Sender)

	case codec.TypeFileChunk:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		fc, err := codec.DecodeFileChunkPayload(pt)
		if err != nil {
			return
		}
		fileID := filetransfer.FileID(fc.FileID)
		percent, ok := o.files.ReceiveChunk(fileID, fc.Sequence, fc.Data)
		if !ok {
			return
		}
		o.emit(EventFileProgress{FileID: fc.FileID, Percent: percent})
		if o.files.IsIncomingComplete(fileID) {
			path, err := o.files.FinalizeIncoming(fileID)
			if err != nil {
				log.Printf("ERROR: node: finalize file %s: %v", fileID, err)
				return
			}
			o.emit(EventFileComplete{FileID: fc.FileID, Path: path})
		}

	case codec.TypeVoiceNote:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		vp, err := codec.DecodeVoicePayload(pt)
		if err != nil {
			return
		}
		o.emit(EventVoiceReceived{Sender: msg.Sender, DurationMs: vp.DurationMs, Data: vp.Data})

	case codec.TypeVoiceStream:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		vp, err := codec.DecodeVoicePayload(pt)
		if err != nil {
			return
		}
		o.emit(EventAudioFrame{Peer: msg.Sender, Data: vp.Data})

	case codec.TypeCallStart:
		o.call = &activeCall{peer: msg.Sender, startedAt: time.Now()}
		o.emit(EventIncomingCall{Peer: msg.Sender})

	case codec.TypeCallEnd:
		if o.call != nil && o.call.peer == msg.Sender {
			o.call = nil
		}
		o.emit(EventCallEnded{Peer: msg.Sender})

	case codec.TypePeerExchange:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		pep, err := codec.DecodePeerExchangePayload(pt)
		if err != nil {
			return
		}
		for _, entry := range pep.Peers {
			if entry.NodeID == o.self.NodeID || o.registry.Contains(entry.NodeID) {
				continue
			}
			o.dialIfNotAlready(entry.Address)
		}

	case codec.TypeProfileUpdate:
		pt := o.openPayload(msg)
		if pt == nil {
			return
		}
		pu, err := codec.DecodeProfileUpdatePayload(pt)
		if err != nil {
			return
		}
		if peer, ok := o.registry.Get(msg.Sender); ok {
			peer.DisplayName = pu.DisplayName
			peer.Bio = pu.Bio
		}
		o.emit(EventProfileUpdated{NodeID: msg.Sender, DisplayName: pu.DisplayName, Bio: pu.Bio})

	default:
		if !codec.Known(msg.Type) {
			log.Printf("WARN: node: unknown message type 0x%02x from %s", byte(msg.Type), msg.Sender.ShortString())
		}
	}
}

// --- maintenance tickers -----------------------------------------------------

func (o *Orchestrator) runHeartbeat() {
	for _, p := range o.registry.All() {
		if conn := p.Conn(); conn != nil {
			conn.Send(o.newMessage(codec.TypePing, nil, nil))
		}
	}

	for _, id := range o.registry.PruneStale(registry.PeerTimeout) {
		o.emit(EventPeerDisconnected{NodeID: id})
		if o.call != nil && o.call.peer == id {
			o.call = nil
			o.emit(EventCallEnded{Peer: id})
		}
	}
}

func (o *Orchestrator) runGatewayProbe() {
	reachable := gateway.Probe()
	if reachable == o.gatewayAdv {
		return
	}
	o.gatewayAdv = reachable
	o.discoverySvc.UpdateSelf(discovery.Self{
		NodeID:       o.self.NodeID,
		DisplayName:  o.self.DisplayName,
		ListenPort:   o.listenPort,
		Capabilities: o.capabilities,
		Gateway:      reachable,
	})
}

// --- outbound helpers --------------------------------------------------------

func (o *Orchestrator) newMessage(t codec.Type, dest *identity.NodeID, payload []byte) *codec.MeshMessage {
	id, err := codec.NewMessageID()
	if err != nil {
		log.Printf("ERROR: node: generate message id: %v", err)
		return nil
	}
	return &codec.MeshMessage{
		Type:        t,
		Sender:      o.self.NodeID,
		ID:          id,
		TTL:         codec.InitialTTL(t),
		Destination: dest,
		Payload:     payload,
	}
}

func (o *Orchestrator) sendKeyExchange(conn *transport.Conn) {
	payload := codec.EncodeKeyExchangePayload(codec.KeyExchangePayload{EphemeralPublic: o.ephemeral.Public})
	msg := o.newMessage(codec.TypeKeyExchange, nil, payload)
	if msg == nil {
		return
	}
	conn.Send(msg)
}

// sealForSend applies the mesh's crypto envelope policy: PublicBroadcast
// and SOS always use the shared broadcast key, other destination-bound
// types use the pairwise session key once one has been negotiated, and
// everything else travels as written.
func (o *Orchestrator) sealForSend(t codec.Type, dest *identity.NodeID, plaintext []byte) ([]byte, error) {
	switch t {
	case codec.TypePublicBroadcast, codec.TypeSOS:
		return crypto.Encrypt(o.broadcastKey, plaintext)
	}
	if dest != nil {
		if peer, ok := o.registry.Get(*dest); ok && peer.HasSessionKey {
			return crypto.Encrypt(peer.SessionKey, plaintext)
		}
	}
	return plaintext, nil
}

// openPayload reverses sealForSend's policy, returning nil (and logging)
// on an authentication failure.
func (o *Orchestrator) openPayload(msg *codec.MeshMessage) []byte {
	switch msg.Type {
	case codec.TypePublicBroadcast, codec.TypeSOS:
		pt, err := crypto.Decrypt(o.broadcastKey, msg.Payload)
		if err != nil {
			log.Printf("WARN: node: broadcast payload rejected from %s: %v", msg.Sender.ShortString(), err)
			return nil
		}
		return pt
	}
	if msg.Destination != nil {
		if peer, ok := o.registry.Get(msg.Sender); ok && peer.HasSessionKey {
			pt, err := crypto.Decrypt(peer.SessionKey, msg.Payload)
			if err != nil {
				log.Printf("WARN: node: session payload rejected from %s: %v", msg.Sender.ShortString(), err)
				return nil
			}
			return pt
		}
	}
	return msg.Payload
}

func (o *Orchestrator) floodToAll(msg *codec.MeshMessage) {
	if msg == nil {
		return
	}
	for _, target := range o.registry.BroadcastSenders() {
		if target.Conn == nil {
			continue
		}
		target.Conn.Send(msg)
	}
}

func (o *Orchestrator) floodExcept(msg *codec.MeshMessage, except *transport.Conn) {
	if msg == nil {
		return
	}
	for _, target := range o.registry.BroadcastSenders() {
		if target.Conn == nil || target.Conn == except {
			continue
		}
		target.Conn.Send(msg)
	}
}

func (o *Orchestrator) sendFileChunks(fileID filetransfer.FileID, dest identity.NodeID) {
	for {
		seq, data, ok := o.files.NextChunk(fileID)
		if !ok {
			return
		}
		payload := codec.EncodeFileChunkPayload(codec.FileChunkPayload{FileID: [16]byte(fileID), Sequence: seq, Data: data})
		sealed, err := o.sealForSend(codec.TypeFileChunk, &dest, payload)
		if err != nil {
			log.Printf("ERROR: node: seal file chunk %d of %s: %v", seq, fileID, err)
			continue
		}
		o.floodToAll(o.newMessage(codec.TypeFileChunk, &dest, sealed))
	}
}

// --- persistence --------------------------------------------------------

func (o *Orchestrator) persistRecord(msg *codec.MeshMessage, content, group string, dir storage.Direction, expireAt *time.Time) {
	if o.store == nil {
		return
	}

	sender := o.self.NodeID
	senderName := o.self.DisplayName
	if dir == storage.DirectionIncoming {
		sender = msg.Sender
		senderName = ""
		if peer, ok := o.registry.Get(msg.Sender); ok {
			senderName = peer.DisplayName
		}
	}

	rec := storage.MessageRecord{
		MessageID:   msg.ID,
		Sender:      sender,
		SenderName:  senderName,
		Content:     content,
		Type:        msg.Type,
		Group:       group,
		Destination: msg.Destination,
		Timestamp:   time.Now(),
		Direction:   dir,
		ExpireAt:    expireAt,
	}
	if _, err := o.store.SaveMessage(rec); err != nil {
		log.Printf("ERROR: node: persist message: %v", err)
	}
}

func (o *Orchestrator) persistOutgoing(msg *codec.MeshMessage, content, group string) {
	o.persistRecord(msg, content, group, storage.DirectionOutgoing, nil)
}

func (o *Orchestrator) persistOutgoingExpiring(msg *codec.MeshMessage, content string, expireAt time.Time) {
	o.persistRecord(msg, content, "", storage.DirectionOutgoing, &expireAt)
}

func (o *Orchestrator) persistIncoming(msg *codec.MeshMessage, content, group string) {
	o.persistRecord(msg, content, group, storage.DirectionIncoming, nil)
}

func (o *Orchestrator) persistIncomingExpiring(msg *codec.MeshMessage, content string, expireAt time.Time) {
	o.persistRecord(msg, content, "", storage.DirectionIncoming, &expireAt)
}

// --- command handling --------------------------------------------------------

// handleCommand applies one submitted command, returning true if the
// orchestrator should stop after this command.
func (o *Orchestrator) handleCommand(cmd Command) (terminate bool) {
	switch c := cmd.(type) {
	case CmdSendBroadcast:
		o.sendText(nil, c.Text)
	case CmdSendDirect:
		o.sendText(&c.Dest, c.Text)
	case CmdSendFile:
		o.startFileSend(c.Dest, c.Path)
	case CmdAcceptFile:
		o.acceptFile(c.FileID)
	case CmdSendVoice:
		o.sendVoice(c.Dest, c.Data, c.DurationMs)
	case CmdStartVoiceCall:
		o.startCall(c.Peer)
	case CmdEndVoiceCall:
		o.endCall()
	case CmdSendAudioFrame:
		o.sendAudioFrame(c.Peer, c.Data)
	case CmdUpdateProfile:
		o.updateProfile(c.Name, c.Bio, c.Capabilities)
	case CmdSendPublicBroadcast:
		o.sendPublicBroadcast(c.Text)
	case CmdSendSOS:
		o.sendSOS(c)
	case CmdSendTriage:
		o.sendPlainBroadcast(codec.TypeTriage, c.Payload)
	case CmdSendResourceRequest:
		o.sendPlainBroadcast(codec.TypeResourceRequest, c.Payload)
	case CmdSendCheckIn:
		o.sendPlainBroadcast(codec.TypeCheckIn, c.Payload)
	case CmdSendDisappearing:
		o.sendDisappearing(c)
	case CmdSendGroupMessage:
		o.sendGroupMessage(c.Group, c.Text)
	case CmdJoinGroup:
		o.joinGroup(c.Name)
	case CmdLeaveGroup:
		o.leaveGroup(c.Name)
	case CmdNuke:
		o.nuke()
		return true
	case CmdShutdown:
		return true
	case CmdGetStats:
		o.sendStats()
	case CmdGetPeers:
		o.sendPeerList()
	default:
		log.Printf("WARN: node: unhandled command %T", cmd)
	}
	return false
}

func (o *Orchestrator) sendText(dest *identity.NodeID, text string) {
	sealed, err := o.sealForSend(codec.TypeText, dest, codec.EncodeTextPayload(text))
	if err != nil {
		log.Printf("ERROR: node: seal text message: %v", err)
		return
	}
	msg := o.newMessage(codec.TypeText, dest, sealed)
	o.floodToAll(msg)
	o.persistOutgoing(msg, text, "")
}

func (o *Orchestrator) startFileSend(dest identity.NodeID, path string) {
	meta, err := o.files.PrepareSend(path)
	if err != nil {
		log.Printf("ERROR: node: prepare file send %s: %v", path, err)
		return
	}
	payload := codec.EncodeFileOfferPayload(codec.FileOfferPayload{
		FileID:      meta.FileID,
		Filename:    meta.Filename,
		TotalBytes:  meta.TotalBytes,
		ChunkCount:  meta.ChunkCount,
		ContentHash: meta.ContentHash,
	})
	sealed, err := o.sealForSend(codec.TypeFileOffer, &dest, payload)
	if err != nil {
		log.Printf("ERROR: node: seal file offer: %v", err)
		return
	}
	o.floodToAll(o.newMessage(codec.TypeFileOffer, &dest, sealed))
}

func (o *Orchestrator) acceptFile(fileID [16]byte) {
	sender, err := o.files.AcceptIncoming(filetransfer.FileID(fileID))
	if err != nil {
		log.Printf("WARN: node: accept unknown file %x: %v", fileID, err)
		return
	}
	sealed, err := o.sealForSend(codec.TypeFileAccept, &sender, codec.EncodeFileAcceptPayload(codec.FileAcceptPayload{FileID: fileID}))
	if err != nil {
		log.Printf("ERROR: node: seal file accept: %v", err)
		return
	}
	o.floodToAll(o.newMessage(codec.TypeFileAccept, &sender, sealed))
}

func (o *Orchestrator) sendVoice(dest *identity.NodeID, data []byte, durationMs uint32) {
	payload := codec.EncodeVoicePayload(codec.VoicePayload{Data: data, DurationMs: durationMs})
	sealed, err := o.sealForSend(codec.TypeVoiceNote, dest, payload)
	if err != nil {
		log.Printf("ERROR: node: seal voice note: %v", err)
		return
	}
	o.floodToAll(o.newMessage(codec.TypeVoiceNote, dest, sealed))
}

func (o *Orchestrator) startCall(peer identity.NodeID) {
	sealed, err := o.sealForSend(codec.TypeCallStart, &peer, nil)
	if err != nil {
		log.Printf("ERROR: node: seal call start: %v", err)
		return
	}
	o.floodToAll(o.newMessage(codec.TypeCallStart, &peer, sealed))
	o.call = &activeCall{peer: peer, startedAt: time.Now()}
}

func (o *Orchestrator) endCall() {
	if o.call == nil {
		return
	}
	peer := o.call.peer
	sealed, err := o.sealForSend(codec.TypeCallEnd, &peer, nil)
	if err != nil {
		log.Printf("ERROR: node: seal call end: %v", err)
	} else {
		o.floodToAll(o.newMessage(codec.TypeCallEnd, &peer, sealed))
	}
	o.call = nil
	o.emit(EventCallEnded{Peer: peer})
}

func (o *Orchestrator) sendAudioFrame(peer identity.NodeID, data []byte) {
	sealed, err := o.sealForSend(codec.TypeVoiceStream, &peer, codec.EncodeVoicePayload(codec.VoicePayload{Data: data}))
	if err != nil {
		log.Printf("ERROR: node: seal audio frame: %v", err)
		return
	}
	o.floodToAll(o.newMessage(codec.TypeVoiceStream, &peer, sealed))
}

func (o *Orchestrator) updateProfile(name, bio string, capabilities []string) {
	o.self.DisplayName = name
	o.profileBio = bio
	if capabilities != nil {
		o.capabilities = capabilities
	}

	o.discoverySvc.UpdateSelf(discovery.Self{
		NodeID:       o.self.NodeID,
		DisplayName:  name,
		ListenPort:   o.listenPort,
		Capabilities: o.capabilities,
		Gateway:      o.gatewayAdv,
	})

	msg := o.newMessage(codec.TypeProfileUpdate, nil, codec.EncodeProfileUpdatePayload(codec.ProfileUpdatePayload{DisplayName: name, Bio: bio}))
	o.floodToAll(msg)
	o.emit(EventProfileUpdated{NodeID: o.self.NodeID, DisplayName: name, Bio: bio})
}

func (o *Orchestrator) sendPublicBroadcast(text string) {
	sealed, err := o.sealForSend(codec.TypePublicBroadcast, nil, codec.EncodeTextPayload(text))
	if err != nil {
		log.Printf("ERROR: node: seal public broadcast: %v", err)
		return
	}
	msg := o.newMessage(codec.TypePublicBroadcast, nil, sealed)
	o.floodToAll(msg)
	o.persistOutgoing(msg, text, "")
}

func (o *Orchestrator) sendSOS(c CmdSendSOS) {
	payload := codec.EncodeSOSPayload(codec.SOSPayload{Text: c.Text, HasCoords: c.HasCoords, Lat: c.Lat, Lon: c.Lon})
	sealed, err := o.sealForSend(codec.TypeSOS, nil, payload)
	if err != nil {
		log.Printf("ERROR: node: seal SOS: %v", err)
		return
	}
	msg := o.newMessage(codec.TypeSOS, nil, sealed)
	o.floodToAll(msg)
	o.persistOutgoing(msg, c.Text, "")
}

func (o *Orchestrator) sendPlainBroadcast(t codec.Type, text string) {
	msg := o.newMessage(t, nil, codec.EncodeTextPayload(text))
	o.floodToAll(msg)
	o.persistOutgoing(msg, text, "")
}

func (o *Orchestrator) sendDisappearing(c CmdSendDisappearing) {
	payload := codec.EncodeDisappearingPayload(codec.DisappearingPayload{Text: c.Text, TTLSeconds: c.TTLSeconds})
	sealed, err := o.sealForSend(codec.TypeDisappearing, c.Dest, payload)
	if err != nil {
		log.Printf("ERROR: node: seal disappearing message: %v", err)
		return
	}
	msg := o.newMessage(codec.TypeDisappearing, c.Dest, sealed)
	o.floodToAll(msg)
	o.persistOutgoingExpiring(msg, c.Text, time.Now().Add(time.Duration(c.TTLSeconds)*time.Second))
}

func (o *Orchestrator) sendGroupMessage(group, text string) {
	msg := o.newMessage(codec.TypeGroupMessage, nil, codec.EncodeGroupPayload(codec.GroupPayload{Group: group, Text: text}))
	o.floodToAll(msg)
	o.persistOutgoing(msg, text, group)
}

func (o *Orchestrator) joinGroup(name string) {
	if o.store != nil {
		if err := o.store.JoinGroup(name); err != nil {
			log.Printf("ERROR: node: join group %q: %v", name, err)
		}
	}
	msg := o.newMessage(codec.TypeGroupJoin, nil, codec.EncodeGroupPayload(codec.GroupPayload{Group: name}))
	o.floodToAll(msg)
	o.emit(EventGroupJoined{Group: name})
}

func (o *Orchestrator) leaveGroup(name string) {
	if o.store != nil {
		if err := o.store.LeaveGroup(name); err != nil {
			log.Printf("ERROR: node: leave group %q: %v", name, err)
		}
	}
	msg := o.newMessage(codec.TypeGroupLeave, nil, codec.EncodeGroupPayload(codec.GroupPayload{Group: name}))
	o.floodToAll(msg)
	o.emit(EventGroupLeft{Group: name})
}

func (o *Orchestrator) nuke() {
	o.emit(EventNuked{})
	if err := identity.SecureDelete(o.identityPath); err != nil {
		log.Printf("ERROR: node: secure delete identity: %v", err)
	}
}

func (o *Orchestrator) sendStats() {
	stats := o.router.Stats()
	o.emit(EventStats{Snapshot: AdminSnapshot{
		TotalPeers:       o.registry.Count(),
		MessagesRelayed:  stats.MessagesRelayed,
		MessagesReceived: stats.MessagesReceived,
		UniqueNodesSeen:  stats.UniqueNodesSeen,
		AverageHops:      stats.AverageHops(),
	}})
}

func (o *Orchestrator) sendPeerList() {
	peers := o.registry.All()
	out := make([]AdminPeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, AdminPeerInfo{
			NodeID:      p.NodeID,
			DisplayName: p.DisplayName,
			RemoteAddr:  p.RemoteAddr,
			LastSeen:    p.LastSeen(),
			Gateway:     p.Gateway,
		})
	}
	o.emit(EventPeerList{Peers: out})
}
