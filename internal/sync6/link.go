// Package sync6 implements the TS6-style server-to-server subsystem:
// handshake negotiation, burst synchronization, CRDT-based steady-state
// propagation with split-horizon, netsplit cleanup, and the SID topology
// graph a multi-hop network routes through.
//
// Grounded on irc/server_peering.go and irc/peering.go's peer-registry/
// sync-on-connect/relay-to-peers shape, regrounded onto text TS6 framing
// over internal/wire instead of the teacher's gRPC/protobuf transport,
// since spec.md §4.8 mandates a line-protocol link, and on
// internal/listener/connection.go's read/write loop pattern for the
// per-link goroutines.
package sync6

import (
	"bufio"
	"log"
	"net"
	"net/textproto"
	"sync"
	"sync/atomic"
	"time"

	"github.com/presbrey/ircd/internal/wire"
)

// linkState is the handshake state machine spec.md §4.8 defines.
type linkState int32

const (
	stateUnconnected linkState = iota
	stateOutboundInitiated
	stateInboundReceived
	stateBursting
	stateSynced
	stateClosed
)

// handshakeDeadline bounds how long a link may sit unauthenticated before
// it is dropped, spec.md §5's "S2S handshake has a wall-clock deadline".
const handshakeDeadline = 60 * time.Second

// LinkConfig is one configured peer link block: the name and SID we
// expect it to present, the passwords for each direction, and (for
// outbound links) the address to dial.
type LinkConfig struct {
	Name           string
	SID            string
	SendPassword   string
	AcceptPassword string
	Addr           string
	TLS            bool
	PinnedFP       string
}

// Link is one server-to-server connection, either outbound (we dialed)
// or inbound (we accepted), progressing through the handshake state
// machine before being promoted to a full peer.
type Link struct {
	conn   net.Conn
	mgr    *Manager
	cfg    LinkConfig
	state  atomic.Int32
	closed atomic.Bool
	once   sync.Once

	outbound chan string

	mu           sync.Mutex
	gotPass      bool
	gotCapab     bool
	gotServer    bool
	gotSVINFO    bool
	remoteSID      string
	remotePassSID  string
	remoteName     string
	remoteDesc     string
	remoteHop      int
	remotePassword string
	remoteCapabs   map[string]bool
}

func newLink(conn net.Conn, mgr *Manager, cfg LinkConfig, st linkState) *Link {
	l := &Link{
		conn:         conn,
		mgr:          mgr,
		cfg:          cfg,
		outbound:     make(chan string, 256),
		remoteCapabs: make(map[string]bool),
	}
	l.state.Store(int32(st))
	return l
}

func (l *Link) getState() linkState { return linkState(l.state.Load()) }
func (l *Link) setState(s linkState) { l.state.Store(int32(s)) }

// sid returns the peer's SID once known (empty before SERVER is received).
func (l *Link) sid() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSID
}

// Send enqueues a raw line for this link, dropping it with a warning if
// the outbound queue is already full rather than blocking the caller.
func (l *Link) Send(line string) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.outbound <- line:
		return true
	default:
		log.Printf("sync6: link %s outbound queue full, dropping line", l.cfg.Name)
		return false
	}
}

// Close ends both loops and the underlying socket, safe to call more than
// once or concurrently with the loops themselves.
func (l *Link) Close() {
	l.once.Do(func() {
		l.closed.Store(true)
		l.setState(stateClosed)
		close(l.outbound)
		l.conn.Close()
	})
}

func (l *Link) writeLoop() {
	w := bufio.NewWriter(l.conn)
	for line := range l.outbound {
		if _, err := w.WriteString(line); err != nil {
			l.Close()
			return
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			l.Close()
			return
		}
		if err := w.Flush(); err != nil {
			l.Close()
			return
		}
	}
}

// readLoop reads CRLF-framed lines and hands each to the manager for
// handshake/burst/steady-state dispatch, exactly mirroring
// listener.Connection's readLoop shape for a second transport.
func (l *Link) readLoop() {
	reader := textproto.NewReader(bufio.NewReader(l.conn))
	l.conn.SetReadDeadline(time.Now().Add(handshakeDeadline))

	for {
		line, err := reader.ReadLine()
		if err != nil {
			break
		}
		if line == "" {
			continue
		}
		if l.getState() < stateSynced {
			l.conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
		} else {
			l.conn.SetReadDeadline(time.Time{})
		}
		msg, err := wire.Parse(line)
		if err != nil {
			log.Printf("sync6: dropping malformed line from peer %s: %v", l.sid(), err)
			continue
		}
		l.mgr.handleLine(l, msg)
		if l.getState() == stateClosed {
			break
		}
	}

	l.Close()
	l.mgr.linkLost(l)
}
