package sync6

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"log"
	"net"
	"sync"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/matrix"
)

// ChannelGetOrCreate resolves (creating if necessary) the live actor for a
// normalized channel name, satisfied by handler.ChannelManager.GetOrCreate's
// method value — the same narrow-interface discipline package services'
// ChannelLookup already follows, to avoid sync6 depending on
// handler.ChannelManager's concrete type.
type ChannelGetOrCreate func(normalizedName string) *chanactor.Actor

// Manager owns every server-to-server link, the SID topology graph, and
// the Matrix observer hook that turns local mutations into TS6
// propagation. It implements chanactor.Router, so it is assigned directly
// to handler.Deps.Router and handler.NewChannelManager's router argument.
//
// Grounded on irc/server_peering.go's peer-registry methods (AddPeer,
// RemovePeer, ForEachPeer, BroadcastClientJoin/Quit) and irc/peering.go's
// connect/sync/relay flow, reimplemented over TS6 text lines instead of
// the teacher's gRPC transport per spec.md §4.8.
type Manager struct {
	localSID  string
	localName string
	localDesc string

	mtx      *matrix.Matrix
	clk      *clock.Clock
	channels ChannelGetOrCreate
	registry *handler.Registry

	topology *topology

	mu          sync.RWMutex
	peersByName map[string]LinkConfig
	peersBySID  map[string]LinkConfig
	links       map[string]*Link // keyed by remote SID
}

var _ chanactor.Router = (*Manager)(nil)

// NewManager constructs a Manager for the local server identified by sid/
// name/desc, with the given set of configured peer link blocks. Call
// SetRegistry once the handler.Registry exists (it in turn needs a
// Deps.Router, which is this Manager, so the two are wired together after
// both are constructed).
func NewManager(sid, name, desc string, mtx *matrix.Matrix, clk *clock.Clock, channels ChannelGetOrCreate, peers []LinkConfig) *Manager {
	m := &Manager{
		localSID:    sid,
		localName:   name,
		localDesc:   desc,
		mtx:         mtx,
		clk:         clk,
		channels:    channels,
		topology:    newTopology(sid, name, desc),
		peersByName: make(map[string]LinkConfig),
		peersBySID:  make(map[string]LinkConfig),
		links:       make(map[string]*Link),
	}
	for _, p := range peers {
		m.peersByName[p.Name] = p
		m.peersBySID[p.SID] = p
	}
	return m
}

// SetRegistry wires the handler.Registry used to dispatch steady-state
// peer commands (UID/NICK/SJOIN/TMODE/TB/QUIT/ACCOUNT/PRIVMSG/NOTICE) and
// to drive netsplit cleanup's per-user quit path.
func (m *Manager) SetRegistry(r *handler.Registry) { m.registry = r }

// LinkCount reports the number of currently-linked peers, exposed for
// internal/admin's Prometheus gauge.
func (m *Manager) LinkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.links)
}

// SendToPeer satisfies chanactor.Router: it resolves the next hop toward
// target and enqueues line on that direct link, dropping it silently
// if no route exists, per spec.md §4.9's get_next_hop.
func (m *Manager) SendToPeer(target, line string) {
	sid, ok := m.topology.nextHop(target)
	if !ok {
		return
	}
	m.mu.RLock()
	l, ok := m.links[sid]
	m.mu.RUnlock()
	if !ok {
		return
	}
	l.Send(line)
}

// Connect dials an outbound link to a configured peer, sending our own
// handshake quartet immediately (spec.md §4.8's OutboundInitiated state).
func (m *Manager) Connect(cfg LinkConfig) error {
	var conn net.Conn
	var err error
	if cfg.TLS {
		conn, err = tls.Dial("tcp", cfg.Addr, &tls.Config{InsecureSkipVerify: cfg.PinnedFP != ""})
	} else {
		conn, err = net.Dial("tcp", cfg.Addr)
	}
	if err != nil {
		return err
	}
	if cfg.TLS && cfg.PinnedFP != "" {
		if fp := peerFingerprint(conn); fp != cfg.PinnedFP {
			conn.Close()
			log.Printf("sync6: peer %s certificate fingerprint mismatch", cfg.Name)
			return nil
		}
	}

	m.mu.Lock()
	m.peersByName[cfg.Name] = cfg
	m.peersBySID[cfg.SID] = cfg
	m.mu.Unlock()

	l := newLink(conn, m, cfg, stateOutboundInitiated)
	go l.writeLoop()
	go l.readLoop()
	m.sendHandshake(l, cfg.SendPassword)
	return nil
}

// Accept takes an already-accepted inbound socket and starts its read/
// write loops in the InboundReceived state, waiting for the peer's own
// handshake quartet.
func (m *Manager) Accept(conn net.Conn) {
	l := newLink(conn, m, LinkConfig{}, stateInboundReceived)
	go l.writeLoop()
	go l.readLoop()
}

// Serve runs an accept loop over ln until it is closed, handing every
// inbound connection to Accept. cmd/ircd runs it in its own goroutine.
func (m *Manager) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		m.Accept(conn)
	}
}

// Shutdown closes every live link, used by package lifecycle's
// ordered shutdown.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.RUnlock()
	for _, l := range links {
		l.Close()
	}
}

// linkLost runs netsplit cleanup once a link's read loop ends: every
// server reachable only through the lost link (including the peer
// itself) has its users removed from the Matrix with a local-only
// "*.net *.split" quit to co-members, per spec.md §4.9.
func (m *Manager) linkLost(l *Link) {
	sid := l.sid()
	if sid == "" {
		return
	}

	m.mu.Lock()
	if m.links[sid] == l {
		delete(m.links, sid)
	}
	m.mu.Unlock()

	gone := m.topology.removeLink(sid)
	if m.registry == nil {
		return
	}
	for _, goneSID := range gone {
		for _, u := range m.mtx.UsersBySID(goneSID) {
			source := goneSID
			m.registry.QuitUser(u.UID(), "*.net *.split", &source)
		}
	}
	log.Printf("sync6: link to %s lost, split %d server(s)", l.cfg.Name, len(gone))
}

// peerFingerprint returns the hex-encoded SHA-256 fingerprint of the
// remote leaf certificate on a freshly-dialed TLS connection, mirroring
// listener.Connection.CertFingerprint for the outbound S2S direction.
func peerFingerprint(conn net.Conn) string {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return ""
	}
	if err := tlsConn.Handshake(); err != nil {
		return ""
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ""
	}
	sum := sha256.Sum256(certs[0].Raw)
	return hex.EncodeToString(sum[:])
}
