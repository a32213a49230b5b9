package handler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/presbrey/ircd/internal/listener"
	"github.com/presbrey/ircd/internal/wire"
)

// HandlerFunc is one command's implementation. It mutates state through
// ctx.Deps.Matrix / the channel actors only, and queues any client-facing
// output via ctx.Send/Reply/Numeric — never by writing to the connection
// directly, matching spec.md §4.5's "handlers never touch another
// connection's sender directly" invariant (a handler's own connection is
// reached only through ctx's queued output, for labeling consistency).
type HandlerFunc func(ctx *Context, params []string)

// Registry implements listener.Dispatcher, holding the three dispatcher
// trees spec.md §4.5 describes (pre-registration, registered, and peer)
// and the live Session for every connected socket.
type Registry struct {
	deps *Deps

	preReg     map[string]HandlerFunc
	registered map[string]HandlerFunc
	peer       map[string]HandlerFunc

	mu       sync.Mutex
	sessions map[*listener.Connection]*Session
}

var _ listener.Dispatcher = (*Registry)(nil)

// New constructs a Registry with every command table populated.
func New(deps *Deps) *Registry {
	r := &Registry{
		deps:       deps,
		preReg:     make(map[string]HandlerFunc),
		registered: make(map[string]HandlerFunc),
		peer:       make(map[string]HandlerFunc),
		sessions:   make(map[*listener.Connection]*Session),
	}
	r.registerPreRegistration()
	r.registerRegistered()
	r.registerPeer()
	return r
}

func (r *Registry) session(conn *listener.Connection) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[conn]
	if !ok {
		s = NewSession(conn)
		r.sessions[conn] = s
	}
	return s
}

// Dispatch satisfies listener.Dispatcher. It parses one line, selects the
// pre-registration or registered tree according to the session's current
// state, and runs the matching handler (if any), flushing its queued
// output (with label/batch wrapping applied) afterward.
func (r *Registry) Dispatch(conn *listener.Connection, line string) {
	sess := r.session(conn)

	msg, err := wire.Parse(line)
	if err != nil {
		// Malformed line: the client is disconnected with a "Bad request"
		// ERROR; Disconnected then runs from the read loop as usual.
		conn.TrySend("ERROR :Bad request")
		conn.Close()
		return
	}

	sess.mu.Lock()
	if label, ok := msg.Tags.Get("label"); ok {
		sess.label = label
	} else {
		sess.label = ""
	}
	sess.suppressLabeledAck = false
	registered := sess.registered
	shunned := sess.shunned
	sess.mu.Unlock()

	// A shunned connection stays open and keeps getting read, but every
	// command it issues except QUIT/PING/PONG is silently dropped (no
	// reply, no numeric), matching SHUN's "the user never notices" intent.
	if shunned && msg.Command != "QUIT" && msg.Command != "PING" && msg.Command != "PONG" {
		return
	}

	ctx := newContext(r.deps, sess, msg)

	table := r.preReg
	if registered {
		table = r.registered
	}

	h, ok := table[msg.Command]
	if !ok {
		if registered {
			ctx.Numeric(wire.ERR_UNKNOWNCOMMAND, msg.Command, "Unknown command")
		}
		ctx.flush()
		return
	}

	h(ctx, msg.Params)
	ctx.flush()
}

// DispatchPeer runs a TS6 command through the peer tree. It is called by
// package sync6's link-reader loop rather than by the listener, since
// peer connections are framed and authenticated differently than client
// sockets (no Session/labeled-response machinery applies).
func (r *Registry) DispatchPeer(sourceSID string, msg *wire.Message) {
	h, ok := r.peer[msg.Command]
	if !ok {
		log.Printf("handler: no peer handler for %s", msg.Command)
		return
	}
	h(&Context{Deps: r.deps, Msg: msg, PeerSource: sourceSID}, msg.Params)
}

// Disconnected satisfies listener.Dispatcher. It removes the connection's
// Session and, if the user had completed registration, quits them out of
// the Matrix and every channel they were a member of.
func (r *Registry) Disconnected(conn *listener.Connection, reason string) {
	r.mu.Lock()
	sess, ok := r.sessions[conn]
	delete(r.sessions, conn)
	r.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	uid := sess.uid
	registered := sess.registered
	alreadyQuitting := sess.quitting
	sess.quitting = true
	sess.mu.Unlock()

	if !registered || alreadyQuitting || uid == "" {
		return
	}
	r.quitUser(uid, reason, nil)
}

// QuitUser is quitUser exported for package sync6's netsplit cleanup,
// which must remove every user behind a lost link exactly the way a
// normal disconnect or peer QUIT does (co-member notification, empty
// channel destruction, WHOWAS archival).
func (r *Registry) QuitUser(uid, reason string, source *string) {
	r.quitUser(uid, reason, source)
}

// quitUser removes uid from every channel it belongs to and from the
// Matrix, broadcasting a QUIT line to every co-member exactly once per
// channel. source is nil for a locally-originated quit (disconnect, KILL,
// GHOST) and the originating peer SID for a netsplit/peer QUIT.
func (r *Registry) quitUser(uid, reason string, source *string) {
	user, ok := r.deps.Matrix.GetUser(uid)
	if !ok {
		return
	}
	ts := r.deps.Clock.Tick()
	if source != nil {
		ts = r.deps.Clock.Merge(ts)
	}

	quitLine := wire.New("QUIT", reason)
	quitLine.Prefix = wire.FormatHostmask(user.Nick(), user.Username(), user.VisibleHost())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, chName := range user.Channels() {
		actor, ok := r.deps.Channels.Get(chName)
		if !ok {
			continue
		}
		actor.Broadcast(ctx, quitLine.String(), uid, nil)
		actor.Quit(ctx, uid, reason, source, ts)
		if members, err := actor.GetMembers(ctx); err == nil && len(members) == 0 {
			r.deps.Channels.Destroy(chName, ts)
		}
	}
	r.deps.Matrix.RemoveUser(uid, reason, source)
}

// killUser removes uid from the Matrix and every channel it belongs to
// exactly like quitUser, but through Matrix.KillUser rather than
// RemoveUser, so package sync6's observer re-emits a wire KILL (naming
// killer) to every peer but source, per spec.md §4.9's "emit the KILL(s)
// to peers other than the source" rule. killer is the prefix the wire
// KILL carries (an oper's own hostmask for a locally-issued KILL, or
// this server's own SID when the kill is a TS6 nick-collision decision).
// source is nil for a locally-decided kill and the originating peer SID
// when resolving a collision introduced by that peer's UID/NICK.
func (r *Registry) killUser(uid, killer, reason string, source *string) {
	user, ok := r.deps.Matrix.GetUser(uid)
	if !ok {
		return
	}
	ts := r.deps.Clock.Tick()
	if source != nil {
		ts = r.deps.Clock.Merge(ts)
	}

	fullReason := fmt.Sprintf("Killed (%s (%s))", killer, reason)
	user.Send(fmt.Sprintf(":%s ERROR :Closing Link: %s", r.deps.Info.Name, fullReason))

	quitLine := wire.New("QUIT", fullReason)
	quitLine.Prefix = wire.FormatHostmask(user.Nick(), user.Username(), user.VisibleHost())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, chName := range user.Channels() {
		actor, ok := r.deps.Channels.Get(chName)
		if !ok {
			continue
		}
		actor.Broadcast(ctx, quitLine.String(), uid, nil)
		actor.Quit(ctx, uid, fullReason, source, ts)
		if members, err := actor.GetMembers(ctx); err == nil && len(members) == 0 {
			r.deps.Channels.Destroy(chName, ts)
		}
	}
	r.deps.Matrix.KillUser(uid, killer, reason, source)
}
