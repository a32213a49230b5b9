package handler

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/presbrey/ircd/internal/wire"
)

// Context is the per-dispatch handle every command handler receives,
// matching spec.md §4.5's handler contract: { uid, matrix, sender, state,
// db, remote_addr, label, suppress_labeled_ack, active_batch_id,
// registry }. It also collects this dispatch's outgoing lines so the
// Registry can apply labeled-response/BATCH wrapping exactly once, after
// the handler returns, rather than each handler reimplementing it.
type Context struct {
	Deps    *Deps
	Session *Session
	Msg     *wire.Message

	// PeerSource is the SID the dispatching link is authenticated as,
	// set only for peer-tree dispatch (DispatchPeer). Handlers use it as
	// the split-horizon exclusion target when a mutation they apply must
	// not be echoed back to the peer it arrived from.
	PeerSource string

	out []string
}

func newContext(deps *Deps, sess *Session, msg *wire.Message) *Context {
	return &Context{Deps: deps, Session: sess, Msg: msg}
}

// peerSourcePtr returns PeerSource as the *string form Matrix mutation
// calls take for split-horizon Source, nil when there is none (a
// client-tree dispatch, or a peer command with no meaningful source
// exclusion).
func (c *Context) peerSourcePtr() *string {
	if c.PeerSource == "" {
		return nil
	}
	s := c.PeerSource
	return &s
}

// prefix returns this server's message prefix.
func (c *Context) prefix() string { return c.Deps.Info.Name }

// clientPrefix returns the nick!user@host prefix the session should be
// addressed by in replies that echo its own identity (e.g. NICK, JOIN).
func (c *Context) clientPrefix() string {
	s := c.Session
	host := s.remoteHost()
	if c.Deps.Cloaker != nil {
		host = c.Deps.Cloaker.Cloak(host)
	}
	return wire.FormatHostmask(s.nick, s.user, host)
}

// Send queues a raw, fully-formed line (no tags added) for delivery.
func (c *Context) Send(line string) { c.out = append(c.out, line) }

// Reply queues ":server COMMAND params..." addressed to the requesting
// client.
func (c *Context) Reply(command string, params ...string) {
	m := wire.New(command, params...)
	m.Prefix = c.prefix()
	c.out = append(c.out, m.String())
}

// Numeric queues a numeric reply. The nickname parameter every numeric
// carries as its first argument is filled in automatically (RFC 2812),
// using "*" before a nickname has been assigned.
func (c *Context) Numeric(code int, rest ...string) {
	nick := c.Session.nick
	if nick == "" {
		nick = "*"
	}
	params := append([]string{nick}, rest...)
	m := wire.New(wire.NumericString(code), params...)
	m.Prefix = c.prefix()
	c.out = append(c.out, m.String())
}

// NeedMoreParams is the ERR_NEEDMOREPARAMS shortcut nearly every handler
// needs for arity checks, mirroring irc/commands.go's repeated pattern.
func (c *Context) NeedMoreParams(command string) {
	c.Numeric(wire.ERR_NEEDMOREPARAMS, command, "Not enough parameters")
}

// NotRegistered is the ERR_NOTREGISTERED shortcut. Nothing in this
// package calls it: the Registry itself gates the registered tree on
// Session.registered, and sends no numeric for other pre-registration
// commands.
func (c *Context) NotRegistered() {
	c.Numeric(wire.ERR_NOTREGISTERED, "You have not registered")
}

// flush applies label/batch wrapping to everything queued via Send/
// Reply/Numeric during this dispatch and writes it to the session's
// connection, per spec.md §4.5's labeled-response rule: a label tags
// every response; multiple responses wrap in a labeled-response BATCH;
// zero responses get a bare ACK unless suppressed.
func (c *Context) flush() {
	label := c.Session.label
	lines := c.out
	c.out = nil

	if label == "" {
		for _, l := range lines {
			c.Session.conn.TrySend(l)
		}
		return
	}

	switch len(lines) {
	case 0:
		if !c.Session.suppressLabeledAck {
			c.Session.conn.TrySend(fmt.Sprintf("@label=%s :%s ACK", label, c.prefix()))
		}
	case 1:
		c.Session.conn.TrySend(fmt.Sprintf("@label=%s %s", label, lines[0]))
	default:
		batchID := uuid.NewString()[:8]
		c.Session.conn.TrySend(fmt.Sprintf("@label=%s :%s BATCH +%s labeled-response", label, c.prefix(), batchID))
		for _, l := range lines {
			c.Session.conn.TrySend(fmt.Sprintf("@batch=%s %s", batchID, l))
		}
		c.Session.conn.TrySend(fmt.Sprintf(":%s BATCH -%s", c.prefix(), batchID))
	}
}
