package chanactor

import (
	"context"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/wire"
)

// Each exported method below builds one of these unexported request
// structs, sends it to the mailbox, and blocks on its embedded reply
// channel (spec.md §4.4: "Replies flow via oneshot channels" — a
// buffered channel of size 1 is Go's oneshot).

type joinReq struct {
	params JoinParams
	reply  chan error
}

type partReq struct {
	uid, reason string
	source      *string
	ts          clock.Timestamp
	reply       chan error
}

type quitReq struct {
	uid, reason string
	source      *string
	ts          clock.Timestamp
}

type setTopicReq struct {
	text, setter string
	source       *string
	ts           clock.Timestamp
	reply        chan error
}

type getMembersReq struct {
	reply chan []MemberInfo
}

type getMemberModesReq struct {
	uid   string
	reply chan memberModesResult
}

type memberModesResult struct {
	Priv crdt.Privilege
	OK   bool
}

type modeChangeReq struct {
	setterUID    string
	setterPriv   crdt.Privilege
	changeStr    string
	args         []string
	source       *string
	ts           clock.Timestamp
	reply        chan modeChangeResult
}

type modeChangeResult struct {
	Applied []wire.ModeChange
	Lists   map[byte][]string // resolved list-query replies, keyed by mode char
	Err     error
}

type kickReq struct {
	kickerUID, targetUID, reason string
	source                       *string
	ts                           clock.Timestamp
	reply                        chan error
}

type banKind int

const (
	banKindBan banKind = iota
	banKindExcept
	banKindInvex
)

type banAddReq struct {
	kind   banKind
	mask   string
	source *string
	ts     clock.Timestamp
	reply  chan error
}

type banRemoveReq struct {
	kind   banKind
	mask   string
	source *string
	ts     clock.Timestamp
	reply  chan error
}

type inviteReq struct {
	uid   string
	reply chan struct{}
}

// CapFilter reports whether uid has negotiated the capability a
// broadcast is gated on. Handlers supply this from their own
// capability-negotiation state; chanactor never inspects capabilities
// itself.
type CapFilter func(uid string) bool

type broadcastReq struct {
	line      string
	skipUID   string
	capFilter CapFilter
	reply     chan struct{}
}

type mergeReq struct {
	snap  Snapshot
	reply chan error
}

type snapshotReq struct {
	reply chan Snapshot
}

// JoinParams carries the context a JOIN handler has already resolved
// (hostmask for ban/except matching, key if supplied) so the actor can
// enforce invite-only/ban/key/limit atomically against its own state,
// including the INVITE record the actor keeps itself.
type JoinParams struct {
	UID      string
	Hostmask string
	Key      string
	Priv     crdt.Privilege
	JoinTime int64
	Source   *string
	TS       clock.Timestamp // merged timestamp for peer-origin joins; ignored for local ones
}

func (a *Actor) Join(ctx context.Context, p JoinParams) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, joinReq{params: p, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) Part(ctx context.Context, uid, reason string, source *string, ts clock.Timestamp) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, partReq{uid: uid, reason: reason, source: source, ts: ts, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit is fire-and-forget: a user quitting touches N channels
// independently and none of those actors need to block the quit path on
// each other (spec.md §4.4).
func (a *Actor) Quit(ctx context.Context, uid, reason string, source *string, ts clock.Timestamp) error {
	return a.send(ctx, quitReq{uid: uid, reason: reason, source: source, ts: ts})
}

func (a *Actor) SetTopic(ctx context.Context, text, setter string, source *string, ts clock.Timestamp) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, setTopicReq{text: text, setter: setter, source: source, ts: ts, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) GetMembers(ctx context.Context) ([]MemberInfo, error) {
	reply := make(chan []MemberInfo, 1)
	if err := a.send(ctx, getMembersReq{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case members := <-reply:
		return members, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) GetMemberModes(ctx context.Context, uid string) (crdt.Privilege, bool, error) {
	reply := make(chan memberModesResult, 1)
	if err := a.send(ctx, getMemberModesReq{uid: uid, reply: reply}); err != nil {
		return crdt.Privilege{}, false, err
	}
	select {
	case res := <-reply:
		return res.Priv, res.OK, nil
	case <-ctx.Done():
		return crdt.Privilege{}, false, ctx.Err()
	}
}

// ApplyModeChange parses changeStr/args against the channel mode table,
// enforces that setterPriv permits each privilege-mode change, applies
// every change it's able to, and returns the subset actually applied
// (for the handler to re-serialize as the outbound MODE line) along with
// any resolved list-query results.
func (a *Actor) ApplyModeChange(ctx context.Context, setterUID string, setterPriv crdt.Privilege, changeStr string, args []string, source *string, ts clock.Timestamp) ([]wire.ModeChange, map[byte][]string, error) {
	reply := make(chan modeChangeResult, 1)
	req := modeChangeReq{setterUID: setterUID, setterPriv: setterPriv, changeStr: changeStr, args: args, source: source, ts: ts, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return nil, nil, err
	}
	select {
	case res := <-reply:
		return res.Applied, res.Lists, res.Err
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (a *Actor) Kick(ctx context.Context, kickerUID, targetUID, reason string, source *string, ts clock.Timestamp) error {
	reply := make(chan error, 1)
	req := kickReq{kickerUID: kickerUID, targetUID: targetUID, reason: reason, source: source, ts: ts, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) BanAdd(ctx context.Context, mask string, source *string, ts clock.Timestamp) error {
	return a.banMutate(ctx, banAddReq{kind: banKindBan, mask: mask, source: source, ts: ts, reply: make(chan error, 1)})
}

func (a *Actor) ExceptAdd(ctx context.Context, mask string, source *string, ts clock.Timestamp) error {
	return a.banMutate(ctx, banAddReq{kind: banKindExcept, mask: mask, source: source, ts: ts, reply: make(chan error, 1)})
}

func (a *Actor) InvexAdd(ctx context.Context, mask string, source *string, ts clock.Timestamp) error {
	return a.banMutate(ctx, banAddReq{kind: banKindInvex, mask: mask, source: source, ts: ts, reply: make(chan error, 1)})
}

func (a *Actor) banMutate(ctx context.Context, req banAddReq) error {
	if err := a.send(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) BanRemove(ctx context.Context, mask string, source *string, ts clock.Timestamp) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, banRemoveReq{kind: banKindBan, mask: mask, source: source, ts: ts, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invite records uid as bypassing invite-only for this channel's next
// JOIN attempt, mirroring the teacher's ephemeral per-channel invites map
// (irc/channels.go) rather than treating it as replicated CRDT state.
func (a *Actor) Invite(ctx context.Context, uid string) error {
	reply := make(chan struct{}, 1)
	if err := a.send(ctx, inviteReq{uid: uid, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast delivers line to every local member's sender (skipping
// skipUID, typically the originator who already received an echo) and
// enqueues it at most once per remote link via Router, per spec.md §4.4's
// broadcast_to_channel[_with_cap]. It blocks until the broadcast has been
// performed, not until every recipient has drained its mailbox.
func (a *Actor) Broadcast(ctx context.Context, line, skipUID string, capFilter CapFilter) error {
	reply := make(chan struct{}, 1)
	if err := a.send(ctx, broadcastReq{line: line, skipUID: skipUID, capFilter: capFilter, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Merge folds a peer-supplied channel Snapshot into this actor's CRDT
// state (TS6 burst SJOIN/TMODE/TB, or steady-state propagation).
func (a *Actor) Merge(ctx context.Context, snap Snapshot) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, mergeReq{snap: snap, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a full copy of the channel's CRDT state, used by the
// sync manager for TS6 burst and by the store for persistence.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := a.send(ctx, snapshotReq{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
