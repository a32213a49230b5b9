package matrix

import (
	"sync"
	"time"

	"github.com/presbrey/ircd/hooks"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/modes"
)

// ChannelHandle is the narrow surface the Matrix needs from a live
// channel actor (package chanactor). Keeping it an interface here avoids
// an import cycle: chanactor depends on matrix for user lookups, and
// matrix depends only on this interface, never on the chanactor package
// itself.
type ChannelHandle interface {
	Name() string
	MemberCount() int
}

// Tombstone records a deleted channel's name and deletion time for a
// configurable grace period, preventing a delayed peer merge from
// resurrecting it (spec.md §3).
type Tombstone struct {
	Name      string
	DeletedAt clock.Timestamp
}

// Matrix is the shared, concurrent state container. All mutating entry
// points notify the registered observer with an Event carrying an
// optional Source, per spec.md §4.3.
type Matrix struct {
	users    sync.Map // uid -> *User
	nicks    sync.Map // normalized nick -> uid
	channels sync.Map // normalized name -> ChannelHandle

	tombstoneMu sync.Mutex
	tombstones  map[string]Tombstone
	tombGrace   time.Duration

	whowas *WhowasStore

	Observer *hooks.Registry[Event]
	clk      *clock.Clock
}

// New constructs an empty Matrix. clk is the local server's hybrid
// logical clock, used to stamp mutations performed here (handlers pass
// their own already-ticked timestamps for events that need one derived
// earlier in their processing, e.g. merges).
func New(clk *clock.Clock, tombstoneGrace time.Duration, whowasCapacity int, whowasTTL time.Duration) *Matrix {
	return &Matrix{
		tombstones: make(map[string]Tombstone),
		tombGrace:  tombstoneGrace,
		whowas:     NewWhowasStore(whowasCapacity, whowasTTL),
		Observer:   hooks.NewRegistry[Event](),
		clk:        clk,
	}
}

// Clock returns the Matrix's hybrid logical clock.
func (m *Matrix) Clock() *clock.Clock { return m.clk }

// AddUser inserts u, indexing it by UID and by its current normalized
// nickname. It is an error (returns false) if the nickname is already
// taken by a different UID — on the peer path, package handler runs
// nick-collision resolution after this returns false.
func (m *Matrix) AddUser(u *User, source *string) bool {
	nickKey := modes.NormalizeNick(u.Nick())
	if existingUID, ok := m.nicks.Load(nickKey); ok && existingUID.(string) != u.UID() {
		return false
	}
	m.users.Store(u.UID(), u)
	m.nicks.Store(nickKey, u.UID())
	m.Observer.RunAll(Event{Kind: EventUserAdded, UID: u.UID(), Source: source})
	return true
}

// AddUserNoNick registers u in the UID index only, without claiming its
// nickname. Used by TS6 nick-collision resolution (spec.md §4.9) when a
// losing incoming UID must still resolve by UID (so a same-burst KILL can
// name it) without disturbing the winning side's nick index.
func (m *Matrix) AddUserNoNick(u *User) {
	m.users.Store(u.UID(), u)
}

// GetUser looks up a user by UID.
func (m *Matrix) GetUser(uid string) (*User, bool) {
	v, ok := m.users.Load(uid)
	if !ok {
		return nil, false
	}
	return v.(*User), true
}

// GetUserByNick looks up a user by nickname (case-folded per RFC 1459).
func (m *Matrix) GetUserByNick(nick string) (*User, bool) {
	uid, ok := m.nicks.Load(modes.NormalizeNick(nick))
	if !ok {
		return nil, false
	}
	return m.GetUser(uid.(string))
}

// RenameUser updates the nick index for a NICK change, enforcing
// injectivity (spec.md §3 invariant). It returns false without mutating
// anything if the new nick is already held by a different user.
func (m *Matrix) RenameUser(uid, newNick string, ts clock.Timestamp, source *string) bool {
	user, ok := m.GetUser(uid)
	if !ok {
		return false
	}
	newKey := modes.NormalizeNick(newNick)
	if existing, ok := m.nicks.Load(newKey); ok && existing.(string) != uid {
		return false
	}
	oldNick := user.Nick()
	oldKey := modes.NormalizeNick(oldNick)

	m.nicks.Delete(oldKey)
	m.nicks.Store(newKey, uid)
	user.SetNick(newNick, ts)

	m.Observer.RunAll(Event{Kind: EventNickChanged, UID: uid, OldNick: oldNick, NewNick: newNick, Source: source})
	return true
}

// SetAccount records uid's SASL/NickServ login (or logout, when account
// is "") and notifies the observer, the entry point package services
// uses so an IDENTIFY/DROP propagates to peers exactly like any other
// local mutation instead of reaching into chanactor.Router itself.
func (m *Matrix) SetAccount(uid, account string, ts clock.Timestamp, source *string) bool {
	user, ok := m.GetUser(uid)
	if !ok {
		return false
	}
	user.SetAccount(account, ts)
	m.Observer.RunAll(Event{Kind: EventAccountChanged, UID: uid, Account: account, Source: source})
	return true
}

// RemoveUser deletes uid from the live index, archives it to WHOWAS, and
// notifies the observer. Channel membership cleanup is the caller's
// responsibility (it goes through the relevant channel actors) since the
// Matrix does not enumerate a user's channels authoritatively — the
// User entity's own Channels() does, for exactly this purpose.
func (m *Matrix) RemoveUser(uid, reason string, source *string) {
	user, ok := m.GetUser(uid)
	if !ok {
		return
	}
	m.users.Delete(uid)
	m.releaseNick(uid, user.Nick())
	m.whowas.Insert(user.Snapshot(), time.Now())
	m.Observer.RunAll(Event{Kind: EventUserRemoved, UID: uid, Reason: reason, Source: source})
}

// KillUser removes uid exactly like RemoveUser (WHOWAS archival
// included) but fires EventUserKilled rather than EventUserRemoved, so
// package sync6's observer re-emits a wire KILL (naming killer) instead
// of a QUIT, per spec.md §4.9's collision-resolution and oper KILL
// propagation rules.
func (m *Matrix) KillUser(uid, killer, reason string, source *string) {
	user, ok := m.GetUser(uid)
	if !ok {
		return
	}
	m.users.Delete(uid)
	m.releaseNick(uid, user.Nick())
	m.whowas.Insert(user.Snapshot(), time.Now())
	m.Observer.RunAll(Event{Kind: EventUserKilled, UID: uid, Killer: killer, Reason: reason, Source: source})
}

// releaseNick drops nick's index entry only if it still points at uid,
// so removing a UID that lost a nick-collision (and so was only ever
// added via AddUserNoNick) never disturbs the nick the winning side
// still holds.
func (m *Matrix) releaseNick(uid, nick string) {
	key := modes.NormalizeNick(nick)
	if cur, ok := m.nicks.Load(key); ok && cur.(string) == uid {
		m.nicks.Delete(key)
	}
}

// UsersBySID returns every currently-known user whose home server
// matches sid, used by netsplit cleanup (spec.md §4.9).
func (m *Matrix) UsersBySID(sid string) []*User {
	var out []*User
	m.users.Range(func(_, v any) bool {
		u := v.(*User)
		if u.SID() == sid {
			out = append(out, u)
		}
		return true
	})
	return out
}

// AllUsers returns every currently-known user regardless of home server,
// used by the sync manager to stream the UID burst on a new link.
func (m *Matrix) AllUsers() []*User {
	var out []*User
	m.users.Range(func(_, v any) bool {
		out = append(out, v.(*User))
		return true
	})
	return out
}

// RegisterChannel publishes a live channel handle under its normalized
// name.
func (m *Matrix) RegisterChannel(h ChannelHandle) {
	m.channels.Store(h.Name(), h)
	m.tombstoneMu.Lock()
	delete(m.tombstones, h.Name())
	m.tombstoneMu.Unlock()
}

// UnregisterChannel removes a channel handle and records a tombstone.
func (m *Matrix) UnregisterChannel(name string, ts clock.Timestamp) {
	m.channels.Delete(name)
	m.tombstoneMu.Lock()
	m.tombstones[name] = Tombstone{Name: name, DeletedAt: ts}
	m.tombstoneMu.Unlock()
}

// GetChannel looks up a live channel handle by normalized name.
func (m *Matrix) GetChannel(name string) (ChannelHandle, bool) {
	v, ok := m.channels.Load(modes.NormalizeChannel(name))
	if !ok {
		return nil, false
	}
	return v.(ChannelHandle), true
}

// Channels returns every currently-live channel handle.
func (m *Matrix) Channels() []ChannelHandle {
	var out []ChannelHandle
	m.channels.Range(func(_, v any) bool {
		out = append(out, v.(ChannelHandle))
		return true
	})
	return out
}

// IsTombstoned reports whether name was deleted within the grace window
// and should not yet be resurrected by a delayed merge.
func (m *Matrix) IsTombstoned(name string, now clock.Timestamp) bool {
	m.tombstoneMu.Lock()
	defer m.tombstoneMu.Unlock()
	t, ok := m.tombstones[modes.NormalizeChannel(name)]
	if !ok {
		return false
	}
	return time.Duration(now.Wall-t.DeletedAt.Wall)*time.Millisecond < m.tombGrace
}

// Whowas exposes the WHOWAS store for the WHOWAS handler and the
// lifecycle pruning task.
func (m *Matrix) Whowas() *WhowasStore { return m.whowas }
