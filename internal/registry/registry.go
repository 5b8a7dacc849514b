// Package registry tracks connected peers: one record per NodeId, a
// bounded outbound queue per peer, and last-seen-driven pruning.
// Grounded directly on the teacher's chat.ChatRoom: a mutex-guarded
// map, a bounded per-subscriber channel, and a lock-free snapshot for
// fan-out iteration.
package registry

import (
	"sync"
	"time"

	"github.com/meshnet/node/internal/identity"
	"github.com/meshnet/node/internal/transport"
)

// PeerTimeout is the default staleness threshold: a peer whose
// last-seen exceeds this is evicted by the pruner.
const PeerTimeout = 30 * time.Second

// PeerState is the peer lifecycle stage: discover -> connect ->
// key-exchange -> heartbeat -> prune.
type PeerState int

const (
	StateConnecting PeerState = iota
	StatePaired
	StateStale
	StateRemoved
)

func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePaired:
		return "paired"
	case StateStale:
		return "stale"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Peer is one connected node's record.
type Peer struct {
	NodeID      identity.NodeID
	DisplayName string
	RemoteAddr  string
	Bio         string
	Capability  []string
	Gateway     bool

	SessionKey    [32]byte
	HasSessionKey bool

	mu       sync.Mutex
	lastSeen time.Time
	conn     *transport.Conn
	state    PeerState
}

// State returns the peer's current lifecycle stage.
func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState transitions the peer to state.
func (p *Peer) SetState(state PeerState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// Touch refreshes the peer's last-seen timestamp to now. Any traffic
// pulls a STALE peer back to PAIRED; it never resurrects a REMOVED one.
func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	if p.state != StateRemoved {
		p.state = StatePaired
	}
	p.mu.Unlock()
}

// LastSeen returns the peer's last-seen timestamp.
func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// Conn returns the peer's underlying stream connection, used to enqueue
// outbound frames.
func (p *Peer) Conn() *transport.Conn {
	return p.conn
}

// Registry is a mutex-guarded map of connected peers, keyed by NodeId.
type Registry struct {
	mu    sync.RWMutex
	peers map[identity.NodeID]*Peer
}

// New creates an empty peer registry.
func New() *Registry {
	return &Registry{peers: make(map[identity.NodeID]*Peer)}
}

// Add inserts a new peer record. At most one record may exist per
// NodeId; Add overwrites any prior record for the same id.
func (r *Registry) Add(p *Peer) {
	p.mu.Lock()
	if p.lastSeen.IsZero() {
		p.lastSeen = time.Now()
	}
	p.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.NodeID] = p
}

// Remove deletes the peer record for id, if present.
func (r *Registry) Remove(id identity.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// Get returns the peer record for id.
func (r *Registry) Get(id identity.NodeID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Contains reports whether id has a peer record.
func (r *Registry) Contains(id identity.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

// Count returns the number of registered peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// All returns a snapshot slice of every registered peer.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// PruneStale evicts every peer whose last-seen exceeds threshold,
// closing its connection so the reader/writer goroutine pair and
// underlying socket are torn down, and returns the evicted NodeIds.
func (r *Registry) PruneStale(threshold time.Duration) []identity.NodeID {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []identity.NodeID
	for id, p := range r.peers {
		if now.Sub(p.LastSeen()) > threshold {
			p.SetState(StateRemoved)
			if conn := p.Conn(); conn != nil {
				conn.Close()
			}
			evicted = append(evicted, id)
			delete(r.peers, id)
		}
	}
	return evicted
}

// NodeIDByConn returns the NodeId of the registered peer whose
// connection is conn, used to resolve the immediate neighbor a frame
// arrived over into a next-hop candidate.
func (r *Registry) NodeIDByConn(conn *transport.Conn) (identity.NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.peers {
		if p.conn == conn {
			return id, true
		}
	}
	return identity.NodeID{}, false
}

// BroadcastTarget pairs a peer's NodeId with its connection, for
// fan-out iteration that doesn't hold the registry lock.
type BroadcastTarget struct {
	NodeID identity.NodeID
	Conn   *transport.Conn
}

// BroadcastSenders returns a snapshot of (NodeId, connection) pairs.
// The snapshot is taken under the lock and then iterated lock-free;
// peers added after the snapshot simply miss this round of fan-out.
func (r *Registry) BroadcastSenders() []BroadcastTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BroadcastTarget, 0, len(r.peers))
	for id, p := range r.peers {
		out = append(out, BroadcastTarget{NodeID: id, Conn: p.conn})
	}
	return out
}

// SetConn attaches conn to the peer record.
func (p *Peer) SetConn(conn *transport.Conn) {
	p.conn = conn
}
