package sync6

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/modes"
	"github.com/presbrey/ircd/internal/wire"
)

const burstCallTimeout = 5 * time.Second

// sigils maps a member's highest channel privilege to the TS6 burst sigil
// prefixed to their UID in SJOIN's trailing member list.
func sigilFor(p crdt.Privilege) string {
	switch {
	case p.Owner:
		return "~"
	case p.Admin:
		return "&"
	case p.Op:
		return "@"
	case p.Halfop:
		return "%"
	case p.Voice:
		return "+"
	default:
		return ""
	}
}

func sigilToPrivilege(s string) crdt.Privilege {
	switch s {
	case "~":
		return crdt.Privilege{Owner: true}
	case "&":
		return crdt.Privilege{Admin: true}
	case "@":
		return crdt.Privilege{Op: true}
	case "%":
		return crdt.Privilege{Halfop: true}
	case "+":
		return crdt.Privilege{Voice: true}
	default:
		return crdt.Privilege{}
	}
}

// sendBurst streams the full local state to a newly-bursting link: every
// known server, every user, every channel's membership/modes/topic, then
// the caller sends EOB.
func (m *Manager) sendBurst(l *Link) {
	for _, s := range m.topology.knownServers() {
		l.Send(wire.New("SID", s.Name, fmt.Sprintf("%d", s.Hopcount), s.SID, s.Info).String())
	}

	for _, u := range m.mtx.AllUsers() {
		l.Send(renderUID(u).String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), burstCallTimeout)
	defer cancel()
	for _, handle := range m.mtx.Channels() {
		actor, ok := handle.(*chanactor.Actor)
		if !ok {
			continue
		}
		snap, err := actor.Snapshot(ctx)
		if err != nil {
			continue
		}
		m.sendChannelBurst(l, snap)
	}
}

// renderUID renders a full "UID <nick> <hop> <ts> <umodes> <user> <host>
// <ip> <uid> :<realname>" line for u, used both for the burst and for
// propagating a newly-added local user to already-synced peers.
func renderUID(u *matrix.User) *wire.Message {
	ts := u.LastModified()
	snap := u.Snapshot()
	umodes := "+"
	if snap.Modes.Invisible {
		umodes += "i"
	}
	if snap.Modes.Oper {
		umodes += "o"
	}
	if snap.Modes.Registered {
		umodes += "r"
	}
	if snap.Modes.Service {
		umodes += "S"
	}
	if snap.Modes.Bot {
		umodes += "B"
	}
	line := wire.New("UID", snap.Nick, "1", fmt.Sprintf("%d", ts.Wall/1000), umodes,
		snap.Username, snap.RealHost, snap.IP, snap.UID, snap.RealName)
	line.Prefix = u.SID()
	return line
}

// sendChannelBurst renders one channel's SJOIN (+ TB if a topic is set)
// burst lines.
func (m *Manager) sendChannelBurst(l *Link, snap chanactor.Snapshot) {
	ts := fmt.Sprintf("%d", m.clk.Tick().Wall/1000)
	modes := snap.Modes.String()

	members := make([]string, 0, len(snap.Members))
	for _, info := range snap.Members {
		members = append(members, sigilFor(info.Privilege)+info.UID)
	}

	params := append([]string{ts, snap.Name}, strings.Fields(modes)...)
	sjoin := wire.New("SJOIN", params...)
	sjoin.Params = append(sjoin.Params, strings.Join(members, " "))
	l.Send(sjoin.String())

	if snap.Topic.Value.Text != "" {
		l.Send(wire.New("TB", snap.Name, ts, snap.Topic.Value.Setter, snap.Topic.Value.Text).String())
	}
}

// handleBurstSJOIN parses a full incoming SJOIN line (channel-TS, name,
// modes, mode-args, sigil-prefixed member list) and merges it directly
// into the channel actor's CRDT state via Actor.Merge, rather than routing
// through the handler package's minimal peerSJOIN (which only exists to
// create a channel stub for a bare SJOIN reaching the generic peer
// table). Channel-TS conflict resolution (spec.md §4.9) is subsumed by
// the per-field LWW/AWSet merges Actor.Merge already performs: an older
// incoming register timestamp loses to a newer local one and vice versa,
// which is equivalent to the replace/union/keep-local rules for every
// field independently.
func (m *Manager) handleBurstSJOIN(l *Link, params []string) {
	if len(params) < 3 {
		return
	}
	wall, err := strconv.ParseInt(params[0], 10, 64)
	if err != nil {
		return
	}
	ts := m.clk.Merge(clock.Timestamp{Wall: wall * 1000})

	name := modes.NormalizeChannel(params[1])
	flags := params[2]
	memberList := params[len(params)-1]
	var modeArgs []string
	if len(params) > 3 {
		modeArgs = params[3 : len(params)-1]
	}

	modeSet := parseModeFlags(flags, modeArgs, ts)

	var members []chanactor.MemberInfo
	for _, tok := range strings.Fields(memberList) {
		sigil, uid := splitSigil(tok)
		if uid == "" {
			continue
		}
		members = append(members, chanactor.MemberInfo{UID: uid, Privilege: sigilToPrivilege(sigil)})
	}

	actor := m.channels(name)
	if actor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), burstCallTimeout)
	defer cancel()
	actor.Merge(ctx, chanactor.Snapshot{Name: name, Modes: modeSet, Members: members})
}

// splitSigil separates a leading TS6 privilege sigil (if any) from a UID
// token in a member list.
func splitSigil(tok string) (sigil, uid string) {
	if tok == "" {
		return "", ""
	}
	switch tok[0] {
	case '~', '&', '@', '%', '+':
		return tok[:1], tok[1:]
	default:
		return "", tok
	}
}

// parseModeFlags renders a "+xyz" flag string and its positional args
// back into a crdt.ModeSet, the inverse of ModeSet.String, stamping
// every register it actually sets with ts (the channel-TS the SJOIN/TMODE
// line carried, merged through the local clock). Unset boolean modes are
// left at their zero LWW register (never written), which merges as "no
// opinion" rather than explicitly clearing the corresponding local mode.
// Without a real ts here, every burst-received mode would carry the zero
// timestamp and could never win a ModeSet.Merge against a local register
// that has ever been set — see handleBurstSJOIN's caller.
func parseModeFlags(flags string, args []string, ts clock.Timestamp) crdt.ModeSet {
	var ms crdt.ModeSet
	argi := 0
	next := func() string {
		if argi < len(args) {
			v := args[argi]
			argi++
			return v
		}
		return ""
	}
	for _, c := range flags {
		switch c {
		case 'n':
			ms.NoExternal = crdt.NewLWW(true, ts)
		case 't':
			ms.TopicOpsOnly = crdt.NewLWW(true, ts)
		case 'm':
			ms.Moderated = crdt.NewLWW(true, ts)
		case 'i':
			ms.InviteOnly = crdt.NewLWW(true, ts)
		case 's':
			ms.Secret = crdt.NewLWW(true, ts)
		case 'p':
			ms.Private = crdt.NewLWW(true, ts)
		case 'r':
			ms.RegisteredOnly = crdt.NewLWW(true, ts)
		case 'c':
			ms.NoColors = crdt.NewLWW(true, ts)
		case 'C':
			ms.NoCTCP = crdt.NewLWW(true, ts)
		case 'S':
			ms.SSLOnly = crdt.NewLWW(true, ts)
		case 'M':
			ms.ReducedModerate = crdt.NewLWW(true, ts)
		case 'k':
			ms.Key = crdt.NewLWW(next(), ts)
		case 'l':
			if n, err := strconv.Atoi(next()); err == nil {
				ms.Limit = crdt.NewLWW(n, ts)
			}
		}
	}
	return ms
}
