// Package matrix implements the shared, concurrent state container
// described by spec.md §4.3: users keyed by UID and by normalized
// nickname, channel handles, WHOWAS history, and the observer hook that
// the sync manager uses to receive every local mutation.
package matrix

import (
	"sync"

	"github.com/presbrey/ircd/internal/clock"
)

// UserModes is the set of per-character user mode flags spec.md §3 lists.
type UserModes struct {
	Invisible  bool
	Oper       bool
	Wallops    bool
	Secure     bool
	Registered bool
	Bot        bool
	Service    bool
	Snomask    uint64 // one bit per server-notice class
}

// Sender is the narrow interface the Matrix uses to deliver bytes to a
// connection's outbound mailbox without knowing whether that connection
// is local (a real socket) or the virtual stand-in for a remote peer's
// client used while relaying. Full sends are backpressure, not error:
// implementations apply spec.md §5's try-send / drop-with-warn policy
// internally and report persistent failure via Closed.
type Sender interface {
	// TrySend enqueues a pre-serialized line (without CRLF). It returns
	// false if the queue was full and the message was dropped.
	TrySend(line string) bool
	// Closed reports whether the sender's connection has gone away.
	Closed() bool
}

// User is one connected (or, for remote users, known-about) client.
type User struct {
	mu sync.RWMutex

	uid      string
	nick     string
	username string
	realname string
	realHost string
	visHost  string
	ip       string
	account  string

	channels map[string]bool // normalized channel name -> member

	modes UserModes

	sessionID     string
	lastModified  clock.Timestamp
	away          string
	awaySet       bool

	sid string // home server id, derived from uid[:3]

	sender Sender
}

// NewUser constructs a User entity. uid must be a valid 9-character UID;
// callers are responsible for generating it (see package matrix's UID
// helpers).
func NewUser(uid, nick, username, realname, host, ip string, sender Sender, ts clock.Timestamp) *User {
	return &User{
		uid:          uid,
		nick:         nick,
		username:     username,
		realname:     realname,
		realHost:     host,
		visHost:      host,
		ip:           ip,
		channels:     make(map[string]bool),
		lastModified: ts,
		sid:          uid[:3],
		sender:       sender,
	}
}

func (u *User) UID() string { return u.uid }
func (u *User) SID() string { return u.sid }

func (u *User) Nick() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.nick
}

func (u *User) Username() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.username
}

func (u *User) RealName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.realname
}

func (u *User) VisibleHost() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.visHost
}

func (u *User) RealHost() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.realHost
}

func (u *User) IP() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ip
}

func (u *User) Account() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.account
}

func (u *User) SetAccount(account string, ts clock.Timestamp) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.account = account
	u.lastModified = ts
}

func (u *User) Modes() UserModes {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.modes
}

func (u *User) SetModes(m UserModes, ts clock.Timestamp) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.modes = m
	u.lastModified = ts
}

func (u *User) SetCloakedHost(host string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.visHost = host
}

func (u *User) Away() (msg string, set bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.away, u.awaySet
}

func (u *User) SetAway(msg string, set bool, ts clock.Timestamp) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.away = msg
	u.awaySet = set
	u.lastModified = ts
}

func (u *User) SetNick(nick string, ts clock.Timestamp) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nick = nick
	u.lastModified = ts
}

func (u *User) LastModified() clock.Timestamp {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastModified
}

func (u *User) SessionID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sessionID
}

func (u *User) SetSessionID(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessionID = id
}

// JoinedChannel records that the user has joined normalized channel name.
func (u *User) JoinedChannel(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.channels[name] = true
}

// PartedChannel records that the user has left normalized channel name.
func (u *User) PartedChannel(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.channels, name)
}

// InChannel reports whether the user's local record has it joined.
func (u *User) InChannel(name string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.channels[name]
}

// Channels returns the normalized names of every channel the user is
// recorded as a member of.
func (u *User) Channels() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.channels))
	for name := range u.channels {
		out = append(out, name)
	}
	return out
}

// Send delivers a line to the user's connection (local) or relay path
// (remote), returning false if the queue was full.
func (u *User) Send(line string) bool {
	u.mu.RLock()
	sender := u.sender
	u.mu.RUnlock()
	if sender == nil {
		return false
	}
	return sender.TrySend(line)
}

// Snapshot is an immutable point-in-time copy of a User's fields, used
// for WHOWAS records and for handlers that want a consistent read
// without holding the lock across further work.
type Snapshot struct {
	UID, Nick, Username, RealName, RealHost, VisibleHost, IP, Account string
	Modes                                                             UserModes
}

func (u *User) Snapshot() Snapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return Snapshot{
		UID: u.uid, Nick: u.nick, Username: u.username, RealName: u.realname,
		RealHost: u.realHost, VisibleHost: u.visHost, IP: u.ip, Account: u.account,
		Modes: u.modes,
	}
}
