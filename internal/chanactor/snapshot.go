package chanactor

import "github.com/presbrey/ircd/internal/crdt"

// MemberInfo is a point-in-time view of one member, returned by
// GetMembers for NAMES/WHO rendering.
type MemberInfo struct {
	UID       string
	Privilege crdt.Privilege
	JoinTime  int64
}

// Snapshot is an immutable copy of a channel's full CRDT state, used both
// to answer read requests without holding the actor open and as the unit
// sync6 exchanges during TS6 burst (SJOIN/TMODE/TB) and ordinary
// propagation merges.
type Snapshot struct {
	Name    string
	Topic   crdt.Topic
	Modes   crdt.ModeSet
	Members []MemberInfo
	Bans    []string
	Excepts []string
	Invex   []string
}
