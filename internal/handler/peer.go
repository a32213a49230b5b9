package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/matrix"
)

// registerPeer installs the TS6 commands a linked server's burst and
// steady-state propagation can carry. Full handshake framing (PASS/CAPAB/
// SERVER/SVINFO, split-horizon bookkeeping, next-hop routing) is package
// sync6's responsibility; this tree only applies the state changes a
// command describes once sync6 has already authenticated the link and
// handed the parsed wire.Message to Registry.DispatchPeer.
func (r *Registry) registerPeer() {
	r.peer["UID"] = r.peerUID
	r.peer["NICK"] = r.peerNick
	r.peer["SJOIN"] = r.peerSJOIN
	r.peer["TMODE"] = r.peerTMode
	r.peer["TB"] = r.peerTopicBurst
	r.peer["QUIT"] = r.peerQuit
	r.peer["KILL"] = r.peerKill
	r.peer["PRIVMSG"] = r.peerMessage
	r.peer["NOTICE"] = r.peerMessage
	r.peer["ACCOUNT"] = r.peerAccount
}

// peerUID introduces a remote user arriving in a burst or at connect
// time: "UID <nick> <hopcount> <ts> <umodes> <user> <host> <ip> <uid> :<realname>".
// If the nick is already claimed by a different UID, this is a TS6 nick
// collision (spec.md §4.9) and is resolved by resolveNickCollision rather
// than silently dropping the incoming UID.
func (r *Registry) peerUID(ctx *Context, params []string) {
	if len(params) < 9 {
		return
	}
	nick, tsStr, _, user, host, ip, uid, realname := params[0], params[2], params[3], params[4], params[5], params[6], params[7], params[len(params)-1]
	wall, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return
	}
	incomingTS := clockTimestampFromWall(wall)
	ts := r.deps.Clock.Merge(incomingTS)

	sender := newPeerSender(uid, r.deps)
	u := matrix.NewUser(uid, nick, user, realname, host, ip, sender, ts)

	source := ctx.peerSourcePtr()
	if r.deps.Matrix.AddUser(u, source) {
		return
	}

	existing, ok := r.deps.Matrix.GetUserByNick(nick)
	if !ok || existing.UID() == uid {
		return
	}
	r.resolveNickCollision(existing, u, incomingTS, source)
}

// resolveNickCollision applies spec.md §4.9's TS6 nick-collision rule:
// compare the incoming UID's nick-TS (the raw wall-clock value the UID
// line carried, before this server's own Clock.Merge folds in local
// counter/server discipline — the nearest available proxy for a genuine
// TS6 nick-TS, since this codebase tracks a user's nick-TS only as the
// side effect of its last local HLC merge) against the existing holder's
// LastModified, and KILL the losing side(s):
//   - incoming older: the incoming UID wins the nick; KILL existing.
//   - incoming newer: existing keeps the nick; the incoming UID is known
//     (AddUserNoNick) only long enough to KILL it by UID.
//   - equal: KILL both.
//
// Every KILL is emitted to peers other than peerSource (the link the
// incoming UID arrived on), via Matrix.KillUser's observer hook.
func (r *Registry) resolveNickCollision(existing, incoming *matrix.User, incomingTS clock.Timestamp, peerSource *string) {
	const tieReason = "Nick collision (tied timestamps)"
	switch {
	case incomingTS.Wall < existing.LastModified().Wall:
		r.killUser(existing.UID(), r.deps.Info.SID, "Nick collision (older wins)", peerSource)
		r.deps.Matrix.AddUser(incoming, peerSource)
	case incomingTS.Wall > existing.LastModified().Wall:
		r.deps.Matrix.AddUserNoNick(incoming)
		r.killUser(incoming.UID(), r.deps.Info.SID, "Nick collision (newer loses)", peerSource)
	default:
		r.deps.Matrix.AddUserNoNick(incoming)
		r.killUser(existing.UID(), r.deps.Info.SID, tieReason, peerSource)
		r.killUser(incoming.UID(), r.deps.Info.SID, tieReason, peerSource)
	}
}

// peerKill applies a remote KILL ("KILL <target-uid-or-nick> :<reason>")
// with the killer carried in the message prefix, removing the named user
// and letting killUser's propagation re-broadcast it to every other link
// (never back to the one it arrived on).
func (r *Registry) peerKill(ctx *Context, params []string) {
	if len(params) < 1 {
		return
	}
	target := params[0]
	reason := "Killed"
	if len(params) > 1 {
		reason = params[len(params)-1]
	}
	killer := ctx.Msg.Prefix
	if killer == "" {
		killer = ctx.PeerSource
	}
	r.killUser(target, killer, reason, ctx.peerSourcePtr())
}

// peerNick applies a remote nick change: "NICK <newnick> <ts>" with the
// source UID carried in the message prefix.
func (r *Registry) peerNick(ctx *Context, params []string) {
	if len(params) < 2 || ctx.Msg.Prefix == "" {
		return
	}
	uid := ctx.Msg.Prefix
	wall, err := strconv.ParseInt(params[1], 10, 64)
	if err != nil {
		return
	}
	ts := r.deps.Clock.Merge(clockTimestampFromWall(wall))
	source := ctx.Msg.Prefix
	r.deps.Matrix.RenameUser(uid, params[0], ts, &source)
}

// peerSJOIN merges a burst channel snapshot: sync6 decodes the full
// membership/mode/ban state into chanactor.Snapshot and calls
// Actor.Merge directly today; this entry point exists so a bare SJOIN
// line naming only the channel still resolves to a live (possibly newly
// created) actor for subsequent TMODE/TB lines in the same burst to
// target.
func (r *Registry) peerSJOIN(ctx *Context, params []string) {
	if len(params) < 2 {
		return
	}
	channel := params[1]
	r.deps.Channels.GetOrCreate(channel)
}

func (r *Registry) peerTMode(ctx *Context, params []string) {
	if len(params) < 3 {
		return
	}
	channel := params[1]
	actor, ok := r.deps.Channels.Get(channel)
	if !ok {
		return
	}
	source := ctx.Msg.Prefix
	wall, err := strconv.ParseInt(params[0], 10, 64)
	if err != nil {
		return
	}
	ts := r.deps.Clock.Merge(clockTimestampFromWall(wall))

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()
	actor.ApplyModeChange(cctx, source, fullPrivilege(), params[2], params[3:], &source, ts)
}

func (r *Registry) peerTopicBurst(ctx *Context, params []string) {
	if len(params) < 4 {
		return
	}
	channel := params[0]
	actor, ok := r.deps.Channels.Get(channel)
	if !ok {
		return
	}
	wall, err := strconv.ParseInt(params[1], 10, 64)
	if err != nil {
		return
	}
	ts := r.deps.Clock.Merge(clockTimestampFromWall(wall))
	source := ctx.Msg.Prefix

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()
	actor.SetTopic(cctx, params[len(params)-1], params[2], &source, ts)
}

// peerAccount applies a remote NickServ IDENTIFY/DROP announced by its
// home server: "ACCOUNT <name>" (empty name logs the user out), source
// UID carried in the prefix. Mirrors package services' own
// Matrix.SetAccount call for local logins, so a peer-originated account
// change converges through the identical code path.
func (r *Registry) peerAccount(ctx *Context, params []string) {
	if len(params) < 1 || ctx.Msg.Prefix == "" {
		return
	}
	uid := ctx.Msg.Prefix
	source := uid
	ts := r.deps.Clock.Tick()
	r.deps.Matrix.SetAccount(uid, params[0], ts, &source)
}

// peerQuit removes a remote user that disconnected or split, propagating
// to every local co-member exactly like a local quit.
func (r *Registry) peerQuit(ctx *Context, params []string) {
	if ctx.Msg.Prefix == "" {
		return
	}
	reason := ""
	if len(params) > 0 {
		reason = params[0]
	}
	source := ctx.Msg.Prefix
	r.quitUser(ctx.Msg.Prefix, reason, &source)
}

// peerMessage relays a PRIVMSG/NOTICE whose final hop is a local user or
// channel; sync6's routing layer only hands this Registry messages
// addressed (directly or via channel membership) to this server.
func (r *Registry) peerMessage(ctx *Context, params []string) {
	if len(params) < 2 || ctx.Msg.Prefix == "" {
		return
	}
	target, text := params[0], params[1]
	line := fmt.Sprintf(":%s %s %s :%s", ctx.Msg.Prefix, ctx.Msg.Command, target, text)

	cctx, cancel := context.WithTimeout(context.Background(), actorCallTimeout)
	defer cancel()

	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		if actor, ok := r.deps.Channels.Get(target); ok {
			actor.Broadcast(cctx, line, "", nil)
		}
		return
	}
	if u, ok := r.deps.Matrix.GetUser(target); ok {
		u.Send(line)
	}
}

// clockTimestampFromWall builds a merge candidate out of a bare wall-clock
// value as TS6 carries it on the wire (seconds since epoch), with no
// counter or server id of its own — Clock.Merge folds in this server's
// own counter discipline regardless.
func clockTimestampFromWall(wallSeconds int64) clock.Timestamp {
	return clock.Timestamp{Wall: wallSeconds * 1000}
}

// fullPrivilege grants every privilege bit, used when applying a mode
// change a linked server has already authorized; this server trusts its
// peers' own operator/privilege enforcement rather than re-checking it.
func fullPrivilege() crdt.Privilege {
	return crdt.Privilege{Owner: true, Admin: true, Op: true, Halfop: true, Voice: true}
}

// newPeerSender returns a matrix.Sender that forwards outbound lines for
// a remote-owned user back toward its home server via Router, so a local
// actor's Broadcast/Send calls work identically regardless of where the
// recipient actually lives.
func newPeerSender(uid string, deps *Deps) matrix.Sender {
	return &peerSender{sid: matrix.SIDOf(uid), router: deps.Router}
}

type peerSender struct {
	sid    string
	router chanactor.Router
}

func (p *peerSender) TrySend(line string) bool {
	if p.router == nil {
		return false
	}
	p.router.SendToPeer(p.sid, line)
	return true
}

func (p *peerSender) Closed() bool { return p.router == nil }
