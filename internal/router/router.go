// Package router implements dedup/TTL flood-routing over the mesh: a
// time-expiring seen-cache (grounded on the teacher's
// tosser.DupeDB, generalized here to an in-memory, non-persistent
// cache since session and routing state are not meant to survive a
// restart), hop-count statistics, and an optional advisory next-hop
// table.
package router

import (
	"log"
	"sync"
	"time"

	"github.com/meshnet/node/internal/codec"
	"github.com/meshnet/node/internal/identity"
)

// SeenExpiry is how long a MessageId is remembered before it can be
// re-processed.
const SeenExpiry = 300 * time.Second

// SeenSoftCap bounds the seen-cache; once full, only an SOS message may
// displace a non-SOS entry to make room.
const SeenSoftCap = 10_000

// NextHopExpiry is how long an advisory next-hop entry stays valid.
const NextHopExpiry = 120 * time.Second

type seenEntry struct {
	firstSeen time.Time
	isSOS     bool
}

// NextHop describes the best known path to a destination, updated
// opportunistically and consulted only as a hint; the baseline forward
// path is flood, not next-hop routing.
type NextHop struct {
	NextHop     identity.NodeID
	HopCount    uint8
	LastUpdated time.Time
}

// Stats accumulates the router's running counters.
type Stats struct {
	MessagesRelayed  uint64
	MessagesReceived uint64
	UniqueNodesSeen  int
	hopSamples       []uint8
}

// AverageHops returns the mean hop-count across all recorded samples,
// or 0 if none have been recorded yet.
func (s *Stats) AverageHops() float64 {
	if len(s.hopSamples) == 0 {
		return 0
	}
	var sum int
	for _, h := range s.hopSamples {
		sum += int(h)
	}
	return float64(sum) / float64(len(s.hopSamples))
}

// Router tracks seen messages and exposes the should_process /
// should_forward / prepare_forward decisions the orchestrator drives
// every inbound message through.
type Router struct {
	self identity.NodeID

	mu       sync.Mutex
	seen     map[codec.MessageID]seenEntry
	nextHops map[identity.NodeID]NextHop
	nodes    map[identity.NodeID]struct{}
	stats    Stats
}

// New creates a Router for the given self NodeId.
func New(self identity.NodeID) *Router {
	return &Router{
		self:     self,
		seen:     make(map[codec.MessageID]seenEntry),
		nextHops: make(map[identity.NodeID]NextHop),
		nodes:    make(map[identity.NodeID]struct{}),
	}
}

// ShouldProcess reports whether msg should be handled by this node at
// all: the sender isn't self and the MessageId hasn't already been
// seen. A message arriving with TTL already at 0 is still processed
// here — it is simply never forwarded again, per the permissive
// TTL-1-to-0 reading (see ShouldForward). On a true result it records
// the MessageId as seen, samples the hop count, counts the sender as a
// unique node, and — if msg is addressed to us — increments
// MessagesReceived.
func (r *Router) ShouldProcess(msg *codec.MeshMessage) bool {
	if msg.Sender == r.self {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[msg.ID]; dup {
		return false
	}

	if !r.admitLocked(msg) {
		return false
	}

	if _, known := r.nodes[msg.Sender]; !known {
		r.nodes[msg.Sender] = struct{}{}
		r.stats.UniqueNodesSeen++
	}

	initial := codec.InitialTTL(msg.Type)
	if initial >= msg.TTL {
		r.stats.hopSamples = append(r.stats.hopSamples, initial-msg.TTL)
	}

	if msg.IsForUs(r.self) {
		r.stats.MessagesReceived++
	}

	return true
}

// admitLocked inserts msg's MessageId into the seen-cache, evicting a
// non-SOS entry to make room for an SOS message if the cache is at its
// soft cap and has no expired entries to reclaim. Caller holds r.mu.
func (r *Router) admitLocked(msg *codec.MeshMessage) bool {
	isSOS := msg.Type == codec.TypeSOS

	if len(r.seen) >= SeenSoftCap {
		r.purgeExpiredLocked()
	}

	if len(r.seen) >= SeenSoftCap {
		if !isSOS {
			return false
		}
		if !r.evictNonSOSLocked() {
			return false
		}
	}

	r.seen[msg.ID] = seenEntry{firstSeen: time.Now(), isSOS: isSOS}
	return true
}

func (r *Router) purgeExpiredLocked() {
	cutoff := time.Now().Add(-SeenExpiry)
	for id, e := range r.seen {
		if e.firstSeen.Before(cutoff) {
			delete(r.seen, id)
		}
	}
}

func (r *Router) evictNonSOSLocked() bool {
	for id, e := range r.seen {
		if !e.isSOS {
			delete(r.seen, id)
			return true
		}
	}
	return false
}

// ShouldForward reports whether msg is eligible to be handed to
// prepare_forward: its type is forwardable and its TTL has budget.
func (r *Router) ShouldForward(msg *codec.MeshMessage) bool {
	return codec.IsForwardable(msg.Type) && msg.TTL > 0
}

// PrepareForward returns a copy of msg with its TTL decremented by one,
// or nil if msg's TTL is already 0 (decrementing would underflow). A
// message decremented from 1 to 0 is still returned: the spec's
// permissive TTL rule forwards it once more before the next hop drops
// it. On a non-nil result, increments MessagesRelayed.
func (r *Router) PrepareForward(msg *codec.MeshMessage) *codec.MeshMessage {
	if msg.TTL == 0 {
		return nil
	}

	fwd := *msg
	fwd.TTL = msg.TTL - 1

	r.mu.Lock()
	r.stats.MessagesRelayed++
	r.mu.Unlock()

	return &fwd
}

// Cleanup drops seen-cache entries older than SeenExpiry. Intended to
// be driven by a periodic scheduler job, not called per-message.
func (r *Router) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.seen)
	r.purgeExpiredLocked()
	if after := len(r.seen); after != before {
		log.Printf("DEBUG: router: cleanup purged %d expired seen-cache entries (%d remain)", before-after, after)
	}
}

// Stats returns a copy of the current statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	samples := make([]uint8, len(r.stats.hopSamples))
	copy(samples, r.stats.hopSamples)
	s := r.stats
	s.hopSamples = samples
	return s
}

// UpdateNextHop records or refreshes an advisory next-hop entry for
// origin, reached via nextHop in hopCount hops. An existing entry is
// only overwritten if the new path is shorter or the existing entry
// has expired.
func (r *Router) UpdateNextHop(origin, nextHop identity.NodeID, hopCount uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.nextHops[origin]
	if ok && time.Since(existing.LastUpdated) < NextHopExpiry && existing.HopCount <= hopCount {
		return
	}

	r.nextHops[origin] = NextHop{
		NextHop:     nextHop,
		HopCount:    hopCount,
		LastUpdated: time.Now(),
	}
}

// LookupNextHop returns the advisory next hop toward destination, or
// false if none is known or the entry has expired.
func (r *Router) LookupNextHop(destination identity.NodeID) (NextHop, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.nextHops[destination]
	if !ok || time.Since(entry.LastUpdated) >= NextHopExpiry {
		return NextHop{}, false
	}
	return entry, true
}
