package sync6

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/presbrey/ircd/internal/wire"
)

// sendHandshake writes our own PASS/CAPAB/SERVER/SVINFO quartet, spec.md
// §4.8's opening exchange for both the initiating side (at connect time)
// and the responder (once the peer's own quartet has validated).
func (m *Manager) sendHandshake(l *Link, password string) {
	now := m.clk.Tick().Wall / 1000
	l.Send(wire.New("PASS", password, "TS", "6", m.localSID).String())
	l.Send(wire.New("CAPAB", strings.Join(advertisedCapabs, " ")).String())
	l.Send(wire.New("SERVER", m.localName, "1", m.localSID, m.localDesc).String())
	l.Send(wire.New("SVINFO", "6", "6", "0", fmt.Sprintf("%d", now)).String())
}

// advertisedCapabs is the minimum CAPAB set spec.md §4.8 requires.
var advertisedCapabs = []string{
	"QS", "ENCAP", "EX", "IE", "KLN", "UNKLN", "GLN", "HOPS", "CHW", "EOB",
	"KNOCK", "TB", "SERVICES",
}

// handleLine is the single entry point every Link hands its parsed lines
// to. Handshake and burst framing commands (PASS/CAPAB/SERVER/SVINFO/SID/
// EOB) are this package's own responsibility; everything else, once a
// link has authenticated, is handed to the handler package's peer tree.
func (m *Manager) handleLine(l *Link, msg *wire.Message) {
	switch msg.Command {
	case "PASS":
		m.handlePass(l, msg.Params)
	case "CAPAB":
		m.handleCapab(l, msg.Params)
	case "SERVER":
		m.handleServer(l, msg.Params)
	case "SVINFO":
		m.handleSVINFO(l, msg.Params)
	case "SID":
		m.handleSID(l, msg.Params)
	case "EOB":
		m.handleEOB(l)
	case "PING":
		l.Send(wire.New("PONG", m.localName).String())
	case "ERROR":
		l.Close()
	case "SJOIN":
		m.handleBurstSJOIN(l, msg.Params)
	default:
		if l.getState() < stateBursting {
			log.Printf("sync6: %s command %s before handshake completed, dropping", l.cfg.Name, msg.Command)
			return
		}
		m.registry.DispatchPeer(l.sid(), msg)
	}
}

func (m *Manager) handlePass(l *Link, params []string) {
	if len(params) < 4 {
		return
	}
	l.mu.Lock()
	l.gotPass = true
	l.remotePassword = params[0]
	l.remotePassSID = params[3]
	l.mu.Unlock()
	m.checkHandshake(l)
}

func (m *Manager) handleCapab(l *Link, params []string) {
	l.mu.Lock()
	l.gotCapab = true
	for _, c := range params {
		for _, word := range strings.Fields(c) {
			l.remoteCapabs[word] = true
		}
	}
	l.mu.Unlock()
	m.checkHandshake(l)
}

func (m *Manager) handleServer(l *Link, params []string) {
	if len(params) < 4 {
		return
	}
	hop, _ := strconv.Atoi(params[1])
	l.mu.Lock()
	l.gotServer = true
	l.remoteName = params[0]
	l.remoteHop = hop
	l.remoteSID = params[2]
	l.remoteDesc = params[len(params)-1]
	l.mu.Unlock()
	m.checkHandshake(l)
}

func (m *Manager) handleSVINFO(l *Link, params []string) {
	l.mu.Lock()
	l.gotSVINFO = true
	l.mu.Unlock()
	m.checkHandshake(l)
}

// checkHandshake runs after each handshake line, promoting the link to
// Bursting once all four have arrived and validated against the
// configured peer's password and cross-checked PASS/SERVER SIDs.
func (m *Manager) checkHandshake(l *Link) {
	l.mu.Lock()
	ready := l.gotPass && l.gotCapab && l.gotServer && l.gotSVINFO
	remoteSID := l.remoteSID
	passSID := l.remotePassSID
	remoteName := l.remoteName
	remotePassword := l.remotePassword
	l.mu.Unlock()
	if !ready {
		return
	}

	cfg, ok := m.lookupPeer(remoteName, remoteSID)
	if !ok {
		log.Printf("sync6: unknown peer %s (%s), closing link", remoteName, remoteSID)
		l.Send(wire.New("ERROR", "Closing Link: unknown server").String())
		l.Close()
		return
	}
	if passSID != remoteSID {
		log.Printf("sync6: peer %s PASS sid %s does not match SERVER sid %s, closing link", remoteName, passSID, remoteSID)
		l.Send(wire.New("ERROR", "Closing Link: SID mismatch").String())
		l.Close()
		return
	}
	if remotePassword != cfg.AcceptPassword {
		log.Printf("sync6: peer %s presented an invalid password, closing link", remoteName)
		l.Send(wire.New("ERROR", "Closing Link: bad password").String())
		l.Close()
		return
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	switch l.getState() {
	case stateInboundReceived:
		m.sendHandshake(l, cfg.SendPassword)
		m.promoteToBursting(l)
	case stateOutboundInitiated:
		m.promoteToBursting(l)
	}
}

// lookupPeer resolves a configured link block by the name and/or SID the
// peer presented, either of which may be known first depending on which
// handshake line arrived.
func (m *Manager) lookupPeer(name, sid string) (LinkConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sid != "" {
		if cfg, ok := m.peersBySID[sid]; ok {
			return cfg, true
		}
	}
	if name != "" {
		if cfg, ok := m.peersByName[name]; ok {
			return cfg, true
		}
	}
	return LinkConfig{}, false
}

// promoteToBursting registers the link under its now-known SID, records
// it in the topology, and streams the burst.
func (m *Manager) promoteToBursting(l *Link) {
	l.setState(stateBursting)
	sid := l.sid()

	m.mu.Lock()
	m.links[sid] = l
	m.mu.Unlock()

	l.mu.Lock()
	name, desc, hop := l.remoteName, l.remoteDesc, l.remoteHop
	l.mu.Unlock()
	m.topology.addDirect(sid, name, desc, hop)

	m.sendBurst(l)
	l.Send(wire.New("EOB").String())
}

func (m *Manager) handleSID(l *Link, params []string) {
	if len(params) < 4 {
		return
	}
	name := params[0]
	hop, _ := strconv.Atoi(params[1])
	sid := params[2]
	desc := params[len(params)-1]
	if sid == m.localSID || m.topology.has(sid) {
		return
	}
	m.topology.addBehind(sid, name, desc, hop, l.sid())
}

func (m *Manager) handleEOB(l *Link) {
	l.setState(stateSynced)
	log.Printf("sync6: link %s synced", l.cfg.Name)
}
