// Package transport runs the mesh's stream-socket listener: one accept
// loop, and per connection a reader goroutine and a writer goroutine
// draining a bounded outbound queue, grounded on the teacher's
// telnetserver accept loop and chat.ChatRoom's bounded-channel fan-out.
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"

	"github.com/meshnet/node/internal/codec"
)

// outboundQueueSize bounds the per-connection writer channel. While a
// slow or stalled peer's queue is full, each newly sent message is
// dropped rather than blocking the orchestrator.
const outboundQueueSize = 64

// InboundConnection announces a freshly accepted connection to the
// orchestrator, which owns all further protocol decisions for it.
type InboundConnection struct {
	Conn       *Conn
	RemoteAddr string
}

// Conn wraps one accepted or dialed stream connection with a bounded
// outbound queue and a channel of decoded inbound messages.
type Conn struct {
	raw     net.Conn
	out     chan *codec.MeshMessage
	in      chan *codec.MeshMessage
	closeCh chan struct{}
	closeOn sync.Once
}

func newConn(raw net.Conn) *Conn {
	return &Conn{
		raw:     raw,
		out:     make(chan *codec.MeshMessage, outboundQueueSize),
		in:      make(chan *codec.MeshMessage, outboundQueueSize),
		closeCh: make(chan struct{}),
	}
}

// RemoteAddr returns the underlying connection's remote address string.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Inbound returns the channel of messages decoded from this connection.
// It is closed when the connection's reader goroutine exits.
func (c *Conn) Inbound() <-chan *codec.MeshMessage {
	return c.in
}

// Send enqueues msg for delivery, dropping it (and logging a warning) if
// the connection's outbound queue is full.
func (c *Conn) Send(msg *codec.MeshMessage) {
	select {
	case c.out <- msg:
	default:
		log.Printf("WARN: transport: dropping outbound message to %s, queue full", c.RemoteAddr())
	}
}

// Close shuts down the connection and stops both goroutines. Safe to
// call more than once.
func (c *Conn) Close() {
	c.closeOn.Do(func() {
		close(c.closeCh)
		c.raw.Close()
	})
}

func (c *Conn) readLoop() {
	defer close(c.in)
	defer c.Close()
	for {
		msg, err := codec.ReadFrame(c.raw)
		if err != nil {
			return
		}
		select {
		case c.in <- msg:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.Close()
	for {
		select {
		case msg := <-c.out:
			if err := codec.WriteFrame(c.raw, msg); err != nil {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// Listener accepts stream connections and announces each on Accepted.
type Listener struct {
	ln       net.Listener
	Accepted chan InboundConnection
}

// Listen binds addr (host:port) with SO_REUSEADDR set, so a restarted
// node can rebind immediately after a crash without waiting out
// TIME_WAIT.
func Listen(ctx context.Context, addr string) (*Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}

	l := &Listener{ln: ln, Accepted: make(chan InboundConnection, 64)}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer close(l.Accepted)
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			log.Printf("INFO: transport: accept loop exiting: %v", err)
			return
		}

		conn := newConn(raw)
		go conn.readLoop()
		go conn.writeLoop()

		l.Accepted <- InboundConnection{Conn: conn, RemoteAddr: conn.RemoteAddr()}
	}
}

// Addr returns the address the listener is bound to, useful when Listen
// was called with a ":0" port and the caller needs the assigned one.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops accepting new connections. Already-accepted connections
// are unaffected and must be closed individually.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial opens an outbound stream connection to addr and starts its
// reader/writer goroutines, mirroring what the accept loop does for
// inbound connections.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	conn := newConn(raw)
	go conn.readLoop()
	go conn.writeLoop()
	return conn, nil
}
