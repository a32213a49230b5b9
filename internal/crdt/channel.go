package crdt

import (
	"fmt"
	"strings"

	"github.com/presbrey/ircd/internal/clock"
)

// Privilege is the set of per-member channel roles, stored as one LWW
// register per member so concurrent privilege grants on different
// servers compose the way concurrent mode changes do.
type Privilege struct {
	Owner, Admin, Op, Halfop, Voice bool
}

// Member tracks a channel member's privilege register and join time. Join
// time merges by taking the minimum of the two observed values, since the
// member's true join is whichever server saw them join earliest.
type Member struct {
	Privilege LWW[Privilege]
	JoinTime  int64
}

// Membership is the CRDT backing a channel's member list: presence is an
// add-wins set of UIDs, and per-member privilege/join-time data rides
// alongside it in a plain map keyed by UID (the AWSet already gives
// presence its convergence property; the side map converges because each
// entry is itself an LWW register, merged independently).
type Membership struct {
	present *AWSet[string]
	info    map[string]*Member
}

// NewMembership returns an empty membership CRDT.
func NewMembership() *Membership {
	return &Membership{present: NewAWSet[string](), info: make(map[string]*Member)}
}

// Join adds uid to the membership with the given initial privilege and
// join time, recording ts as the add-timestamp.
func (m *Membership) Join(uid string, priv Privilege, joinTime int64, ts clock.Timestamp) {
	m.present.Add(uid, ts)
	if existing, ok := m.info[uid]; ok {
		existing.Privilege.Set(priv, ts)
		if joinTime < existing.JoinTime {
			existing.JoinTime = joinTime
		}
		return
	}
	m.info[uid] = &Member{Privilege: NewLWW(priv, ts), JoinTime: joinTime}
}

// Part removes uid from the membership, recording ts as the remove-timestamp.
func (m *Membership) Part(uid string, ts clock.Timestamp) {
	m.present.Remove(uid, ts)
}

// SetPrivilege updates uid's privilege register if ts is newer. It is a
// no-op if uid is not currently a member.
func (m *Membership) SetPrivilege(uid string, priv Privilege, ts clock.Timestamp) {
	info, ok := m.info[uid]
	if !ok || !m.present.Contains(uid) {
		return
	}
	info.Privilege.Set(priv, ts)
}

// IsMember reports whether uid is currently present.
func (m *Membership) IsMember(uid string) bool { return m.present.Contains(uid) }

// GetPrivilege returns uid's current privilege register value.
func (m *Membership) GetPrivilege(uid string) Privilege {
	if info, ok := m.info[uid]; ok {
		return info.Privilege.Value
	}
	return Privilege{}
}

// Members returns the UIDs currently present.
func (m *Membership) Members() []string { return m.present.Elements() }

// Merge unions m with other in place.
func (m *Membership) Merge(other *Membership) {
	m.present.Merge(other.present)
	for uid, otherInfo := range other.info {
		info, ok := m.info[uid]
		if !ok {
			cp := *otherInfo
			m.info[uid] = &cp
			continue
		}
		info.Privilege = info.Privilege.Merge(otherInfo.Privilege)
		if otherInfo.JoinTime < info.JoinTime {
			info.JoinTime = otherInfo.JoinTime
		}
	}
}

// ModeSet is the CRDT backing a channel's boolean modes: every mode is
// its own LWW register so concurrent changes to different modes on
// different servers compose without clobbering each other.
type ModeSet struct {
	NoExternal      LWW[bool]
	TopicOpsOnly    LWW[bool]
	Moderated       LWW[bool]
	InviteOnly      LWW[bool]
	Secret          LWW[bool]
	Private         LWW[bool]
	RegisteredOnly  LWW[bool]
	NoColors        LWW[bool]
	NoCTCP          LWW[bool]
	SSLOnly         LWW[bool]
	ReducedModerate LWW[bool]
	Key             LWW[string]
	Limit           LWW[int]
}

// Merge combines every per-mode register independently.
func (m ModeSet) Merge(other ModeSet) ModeSet {
	return ModeSet{
		NoExternal:      m.NoExternal.Merge(other.NoExternal),
		TopicOpsOnly:    m.TopicOpsOnly.Merge(other.TopicOpsOnly),
		Moderated:       m.Moderated.Merge(other.Moderated),
		InviteOnly:      m.InviteOnly.Merge(other.InviteOnly),
		Secret:          m.Secret.Merge(other.Secret),
		Private:         m.Private.Merge(other.Private),
		RegisteredOnly:  m.RegisteredOnly.Merge(other.RegisteredOnly),
		NoColors:        m.NoColors.Merge(other.NoColors),
		NoCTCP:          m.NoCTCP.Merge(other.NoCTCP),
		SSLOnly:         m.SSLOnly.Merge(other.SSLOnly),
		ReducedModerate: m.ReducedModerate.Merge(other.ReducedModerate),
		Key:             m.Key.Merge(other.Key),
		Limit:           m.Limit.Merge(other.Limit),
	}
}

// String renders the set bits as a "+xyz arg..." mode line, in the same
// character order MODE queries and RPL_CHANNELMODEIS use.
func (m ModeSet) String() string {
	var flags strings.Builder
	var args []string
	flags.WriteByte('+')

	add := func(c byte, set bool) {
		if set {
			flags.WriteByte(c)
		}
	}
	add('n', m.NoExternal.Value)
	add('t', m.TopicOpsOnly.Value)
	add('m', m.Moderated.Value)
	add('i', m.InviteOnly.Value)
	add('s', m.Secret.Value)
	add('p', m.Private.Value)
	add('r', m.RegisteredOnly.Value)
	add('c', m.NoColors.Value)
	add('C', m.NoCTCP.Value)
	add('S', m.SSLOnly.Value)
	add('M', m.ReducedModerate.Value)
	if m.Key.Value != "" {
		flags.WriteByte('k')
		args = append(args, m.Key.Value)
	}
	if m.Limit.Value > 0 {
		flags.WriteByte('l')
		args = append(args, fmt.Sprintf("%d", m.Limit.Value))
	}

	if len(args) == 0 {
		return flags.String()
	}
	return flags.String() + " " + strings.Join(args, " ")
}

// Topic is the CRDT backing a channel's topic: text and setter travel
// together under one LWW register so a topic change is atomic.
type TopicValue struct {
	Text   string
	Setter string
}

type Topic = LWW[TopicValue]
