// Package discovery implements the mesh's UDP broadcast announce/listen
// loop. Discovery is lossy by design: multiple announcements per peer
// are expected, and the caller is responsible for deduplicating by
// NodeId.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/meshnet/node/internal/codec"
	"github.com/meshnet/node/internal/identity"
)

// Port is the fixed UDP port discovery binds and broadcasts to.
const Port = 7331

// AnnounceInterval is how often this node re-announces itself.
const AnnounceInterval = 5 * time.Second

// maxDatagramSize matches the spec's 4 KiB receive-buffer truncation
// allowance; senders keep announcements well under this.
const maxDatagramSize = 4096

// DiscoveredPeer is emitted whenever a Discovery datagram from a
// different NodeId than self arrives.
type DiscoveredPeer struct {
	NodeID      identity.NodeID
	DisplayName string
	// Address is the observed source address rewritten to use the
	// advertised listen port, since the UDP source port is ephemeral
	// and unrelated to the stream transport's listen port.
	Address    string
	ListenPort uint16
	Gateway    bool
}

// Self describes the identity and capabilities this node advertises.
type Self struct {
	NodeID       identity.NodeID
	DisplayName  string
	ListenPort   uint16
	Capabilities []string
	Gateway      bool
}

// Service owns the UDP socket and runs the announce/listen loops.
type Service struct {
	selfMu sync.RWMutex
	self   Self

	conn *net.UDPConn

	Discovered chan DiscoveredPeer
}

// Start binds the discovery UDP socket, begins broadcasting self every
// AnnounceInterval, and begins listening for peers. The caller must
// call Stop (or cancel ctx) to release the socket.
func Start(ctx context.Context, self Self) (*Service, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				if e := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); e != nil {
					setErr = e
					return
				}
				setErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, fmt.Errorf("discovery: bind udp :%d: %w", Port, err)
	}
	conn := pc.(*net.UDPConn)

	s := &Service{
		self:       self,
		conn:       conn,
		Discovered: make(chan DiscoveredPeer, 32),
	}

	go s.announceLoop(ctx)
	go s.listenLoop(ctx)
	return s, nil
}

// Stop releases the UDP socket, ending both loops.
func (s *Service) Stop() error {
	return s.conn.Close()
}

// UpdateSelf replaces the advertised self snapshot used by future
// announcements, e.g. after a profile update changes the display name.
func (s *Service) UpdateSelf(self Self) {
	s.selfMu.Lock()
	s.self = self
	s.selfMu.Unlock()
}

func (s *Service) currentSelf() Self {
	s.selfMu.RLock()
	defer s.selfMu.RUnlock()
	return s.self
}

func (s *Service) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()

	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}

	announce := func() {
		self := s.currentSelf()
		payload := codec.EncodeDiscoveryPayload(codec.DiscoveryPayload{
			NodeID:       self.NodeID,
			DisplayName:  norm.NFC.String(self.DisplayName),
			ListenPort:   self.ListenPort,
			Capabilities: self.Capabilities,
			Gateway:      self.Gateway,
		})

		id, err := codec.NewMessageID()
		if err != nil {
			log.Printf("ERROR: discovery: generate message id: %v", err)
			return
		}
		msg := &codec.MeshMessage{
			Type:    codec.TypeDiscovery,
			Sender:  self.NodeID,
			ID:      id,
			TTL:     codec.InitialTTL(codec.TypeDiscovery),
			Payload: payload,
		}
		data, err := msg.Encode()
		if err != nil {
			log.Printf("ERROR: discovery: encode announcement: %v", err)
			return
		}
		if _, err := s.conn.WriteTo(data, broadcastAddr); err != nil {
			log.Printf("WARN: discovery: broadcast failed: %v", err)
		}
	}

	announce()
	for {
		select {
		case <-ticker.C:
			announce()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) listenLoop(ctx context.Context) {
	defer close(s.Discovered)
	buf := make([]byte, maxDatagramSize)

	for {
		n, srcAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("INFO: discovery: listen loop exiting: %v", err)
				return
			}
		}

		msg, err := codec.Decode(buf[:n])
		if err != nil {
			log.Printf("WARN: discovery: malformed datagram from %s: %v", srcAddr, err)
			continue
		}
		if msg.Type != codec.TypeDiscovery {
			continue
		}
		if msg.Sender == s.currentSelf().NodeID {
			continue
		}

		payload, err := codec.DecodeDiscoveryPayload(msg.Payload)
		if err != nil {
			log.Printf("WARN: discovery: malformed discovery payload from %s: %v", srcAddr, err)
			continue
		}

		peer := DiscoveredPeer{
			NodeID:      payload.NodeID,
			DisplayName: payload.DisplayName,
			Address:     fmt.Sprintf("%s:%d", srcAddr.IP.String(), payload.ListenPort),
			ListenPort:  payload.ListenPort,
			Gateway:     payload.Gateway,
		}

		select {
		case s.Discovered <- peer:
		default:
			log.Printf("WARN: discovery: dropping DiscoveredPeer for %s, channel full", peer.NodeID.ShortString())
		}
	}
}
