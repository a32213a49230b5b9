// Package handler implements the two client-facing dispatcher trees and
// the one peer-facing tree spec.md §4.5 describes: pre-registration
// (CAP/PASS/NICK/USER/AUTHENTICATE/WEBIRC/QUIT/PING/PONG only), registered
// (the full client command set), and peer (TS6 commands arriving from a
// linked server, dispatched with different semantics that never emit
// client-side replies).
//
// Grounded on irc/client.go's handleCommand/completeRegistration dispatch
// loop and irc/commands.go's per-command handlers, generalized from the
// teacher's single registered-or-not branch into three trees and from its
// direct map/mutex channel model onto the Matrix and channel actors.
package handler

import (
	"context"
	"sync"
	"time"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/config"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/security"
	"github.com/presbrey/ircd/internal/store"
)

// ServerInfo carries the static identity a registry needs to answer
// MYINFO/VERSION/ADMIN-style queries and to stamp UID SIDs, adapted from
// the teacher's irc/config/config.go ServerName/NetworkName/ServerDesc
// fields.
type ServerInfo struct {
	Name        string
	SID         string
	Network     string
	Description string
	Version     string
	Created     time.Time
	MOTD        []string
}

// Deps bundles every shared dependency a command handler may need. A
// single Deps is constructed once in cmd/ircd and shared by every
// connection's Registry-driven Context.
type Deps struct {
	Info ServerInfo

	Matrix  *matrix.Matrix
	Clock   *clock.Clock
	UIDGen  *matrix.UIDGenerator
	Cloaker *security.Cloaker

	MessageLimiter *security.RateLimiter
	JoinLimiter    *security.RateLimiter

	Channels *ChannelManager

	Accounts AccountStore

	// History backs CHATHISTORY and automatic message logging. Nil
	// disables both: handleChatHistory answers every subcommand with
	// FAIL CHATHISTORY MESSAGE_ERROR, and handleMessage skips
	// persistence entirely.
	History *store.Store

	// StorePrivateMessages mirrors spec.md §6's
	// history.store_private_messages (off by default — private message
	// history is privacy-sensitive and opt-in).
	StorePrivateMessages bool

	// ChatHistoryMax caps how many messages any single CHATHISTORY
	// subcommand may return, regardless of what the client requested.
	ChatHistoryMax int

	// Router delivers propagated lines to linked servers. Nil until
	// package sync6 is wired in by cmd/ircd; channel broadcasts and
	// directed peer traffic silently stay local until then.
	Router chanactor.Router

	ConnPassword string

	// Operators lists this server's configured oper blocks (name,
	// bcrypt hash, optional hostmask, level), consulted by handleOper.
	Operators []config.OperatorBlock

	// DenyList backs DLINE/UNDLINE: an IP or CIDR prefix added here is
	// rejected by package listener's accept-time pipeline automatically,
	// the same instance cmd/ircd wires into the Listener.
	DenyList *security.DenyList

	// HostBans backs KLINE/UNKLINE and GLINE/UNGLINE: hostmask-pattern
	// bans checked once NICK/USER are both known, since (unlike a DLINE)
	// a hostmask isn't resolvable from the bare connecting address alone.
	HostBans *security.BanCache

	// IPBans backs ZLINE/UNZLINE. It is the SAME *security.BanCache
	// instance cmd/ircd wires into the Listener, so a ZLINE takes effect
	// at accept time through the existing checkAccept pipeline with no
	// listener change, exactly like a DLINE does through DenyList.
	IPBans *security.BanCache

	// RealBans backs RLINE/UNRLINE: realname-pattern bans, checked at
	// the same point as HostBans.
	RealBans *security.BanCache

	// ShunBans backs SHUN/UNSHUN: a match doesn't reject the connection,
	// it marks the session shunned so Dispatch silently drops every
	// command but QUIT/PING/PONG from it.
	ShunBans *security.BanCache
}

// AccountStore is the narrow surface the handler package needs from the
// services package's registered-nickname store, for SASL PLAIN/EXTERNAL
// verification and the REGISTER/IDENTIFY NickServ commands. Declared here
// (rather than imported from package services) to avoid a cycle, mirroring
// the chanactor.Router / matrix.ChannelHandle narrow-interface pattern
// used elsewhere in this codebase.
type AccountStore interface {
	Verify(account, password string) bool
	VerifyCertFP(account, certFP string) bool
}

// ChannelManager owns the set of live channel actors, creating and
// starting one the first time it is referenced and registering it with
// the Matrix, matching irc/server.go's lazy channel-creation-on-first-JOIN
// behavior generalized to the actor model.
type ChannelManager struct {
	mu     sync.Mutex
	actors map[string]*chanactor.Actor

	mtx *matrix.Matrix
	clk *clock.Clock
	rtr chanactor.Router

	ctx    context.Context
	cancel context.CancelFunc
}

// NewChannelManager constructs a manager bound to the given Matrix, clock,
// and peer router (which may be nil before sync6 is wired in).
func NewChannelManager(mtx *matrix.Matrix, clk *clock.Clock, rtr chanactor.Router) *ChannelManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChannelManager{
		actors: make(map[string]*chanactor.Actor),
		mtx:    mtx,
		clk:    clk,
		rtr:    rtr,
		ctx:    ctx,
		cancel: cancel,
	}
}

// GetOrCreate returns the live actor for normalizedName, starting a new
// one (and registering it with the Matrix) if none exists yet.
func (cm *ChannelManager) GetOrCreate(normalizedName string) *chanactor.Actor {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if a, ok := cm.actors[normalizedName]; ok {
		return a
	}
	a := chanactor.New(normalizedName, cm.mtx, cm.clk, cm.rtr)
	cm.actors[normalizedName] = a
	cm.mtx.RegisterChannel(a)
	go a.Run(cm.ctx)
	return a
}

// Get returns the live actor for normalizedName, if one exists.
func (cm *ChannelManager) Get(normalizedName string) (*chanactor.Actor, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	a, ok := cm.actors[normalizedName]
	return a, ok
}

// Destroy stops and forgets normalizedName's actor, called once its
// membership has dropped to zero (the caller has already confirmed
// emptiness via Snapshot/MemberCount).
func (cm *ChannelManager) Destroy(normalizedName string, ts clock.Timestamp) {
	cm.mu.Lock()
	a, ok := cm.actors[normalizedName]
	if ok {
		delete(cm.actors, normalizedName)
	}
	cm.mu.Unlock()
	if !ok {
		return
	}
	a.Stop()
	cm.mtx.UnregisterChannel(normalizedName, ts)
}

// Shutdown stops every live channel actor, used by package lifecycle's
// ordered shutdown.
func (cm *ChannelManager) Shutdown() { cm.cancel() }
