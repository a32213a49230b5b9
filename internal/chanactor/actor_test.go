package chanactor

import (
	"context"
	"testing"
	"time"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct{ sent []string }

func (f *fakeSender) TrySend(line string) bool { f.sent = append(f.sent, line); return true }
func (f *fakeSender) Closed() bool             { return false }

type fakeRouter struct{ sentTo map[string][]string }

func newFakeRouter() *fakeRouter { return &fakeRouter{sentTo: make(map[string][]string)} }
func (r *fakeRouter) SendToPeer(sid, line string) {
	r.sentTo[sid] = append(r.sentTo[sid], line)
}

func newHarness(t *testing.T) (*Actor, *matrix.Matrix, *fakeRouter) {
	t.Helper()
	clk := clock.New("AAA", func() time.Time { return time.UnixMilli(2_000_000) })
	mtx := matrix.New(clk, time.Minute, 5, time.Hour)
	rtr := newFakeRouter()
	a := New("#test", mtx, clk, rtr)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return a, mtx, rtr
}

func addLocalUser(t *testing.T, mtx *matrix.Matrix, uid, nick string) *matrix.User {
	t.Helper()
	u := matrix.NewUser(uid, nick, "u", "Real Name", "host", "1.1.1.1", &fakeSender{}, mtx.Clock().Tick())
	require.True(t, mtx.AddUser(u, nil))
	return u
}

func TestJoinAndPart(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")

	err := a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", Priv: crdt.Privilege{Owner: true}, JoinTime: 1})
	require.NoError(t, err)

	members, err := a.GetMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "AAAAAAAAA", members[0].UID)
	assert.Equal(t, 1, a.MemberCount())

	require.NoError(t, a.Part(ctx, "AAAAAAAAA", "bye", nil, clock.Timestamp{}))
	members, _ = a.GetMembers(ctx)
	assert.Len(t, members, 0)
}

func TestJoinRejectedWhenBanned(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")

	require.NoError(t, a.BanAdd(ctx, "*!*@host", nil, clock.Timestamp{}))

	err := a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", JoinTime: 1})
	assert.ErrorIs(t, err, ErrBanned)
}

func TestJoinBanBypassedByException(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")

	require.NoError(t, a.BanAdd(ctx, "*!*@host", nil, clock.Timestamp{}))
	require.NoError(t, a.ExceptAdd(ctx, "*!*@host", nil, clock.Timestamp{}))

	err := a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", JoinTime: 1})
	assert.NoError(t, err)
}

func TestJoinInviteOnlyRequiresInviteOrException(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")

	_, _, err := a.ApplyModeChange(ctx, "OP", crdt.Privilege{Op: true}, "+i", nil, nil, clock.Timestamp{})
	require.NoError(t, err)

	err = a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", JoinTime: 1})
	assert.ErrorIs(t, err, ErrInviteOnly)

	require.NoError(t, a.Invite(ctx, "AAAAAAAAA"))
	err = a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", JoinTime: 1})
	assert.NoError(t, err)
}

func TestJoinRespectsKeyAndLimit(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")
	addLocalUser(t, mtx, "AAAAAAAAB", "bob")

	_, _, err := a.ApplyModeChange(ctx, "OP", crdt.Privilege{Op: true}, "+kl", []string{"secret", "1"}, nil, clock.Timestamp{})
	require.NoError(t, err)

	err = a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", Key: "wrong", JoinTime: 1})
	assert.ErrorIs(t, err, ErrBadKey)

	err = a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", Key: "secret", JoinTime: 1})
	require.NoError(t, err)

	err = a.Join(ctx, JoinParams{UID: "AAAAAAAAB", Hostmask: "bob!u@host", Key: "secret", JoinTime: 2})
	assert.ErrorIs(t, err, ErrChannelFull)
}

func TestModeChangePrivilegeEnforcement(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")
	require.NoError(t, a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", JoinTime: 1}))

	// Voice-only setter cannot grant ban (requires op).
	applied, _, err := a.ApplyModeChange(ctx, "AAAAAAAAA", crdt.Privilege{Voice: true}, "+b", []string{"*!*@evil"}, nil, clock.Timestamp{})
	require.NoError(t, err)
	assert.Empty(t, applied, "voice should not be able to set a ban")

	applied, _, err = a.ApplyModeChange(ctx, "AAAAAAAAA", crdt.Privilege{Op: true}, "+b", []string{"*!*@evil"}, nil, clock.Timestamp{})
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

func TestModeChangeListQueryReturnsCurrentList(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")

	_, _, err := a.ApplyModeChange(ctx, "OP", crdt.Privilege{Op: true}, "+b", []string{"*!*@evil"}, nil, clock.Timestamp{})
	require.NoError(t, err)

	_, lists, err := a.ApplyModeChange(ctx, "OP", crdt.Privilege{}, "+b", nil, nil, clock.Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, []string{"*!*@evil"}, lists['b'])
}

func TestBroadcastSkipsUIDAndRoutesRemote(t *testing.T) {
	a, mtx, rtr := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")
	require.NoError(t, a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", JoinTime: 1}))

	remoteUID := "BBBAAAAAA"
	require.NoError(t, a.Join(ctx, JoinParams{UID: remoteUID, Hostmask: "bob!u@host", JoinTime: 2, Source: matrix.PeerSource("BBB"), TS: a.clk.Tick()}))

	require.NoError(t, a.Broadcast(ctx, ":alice!u@host PRIVMSG #test :hi", "AAAAAAAAA", nil))

	assert.Len(t, rtr.sentTo["BBB"], 1)
}

func TestKickRemovesMember(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")
	addLocalUser(t, mtx, "AAAAAAAAB", "bob")
	require.NoError(t, a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", Priv: crdt.Privilege{Op: true}, JoinTime: 1}))
	require.NoError(t, a.Join(ctx, JoinParams{UID: "AAAAAAAAB", Hostmask: "bob!u@host", JoinTime: 2}))

	require.NoError(t, a.Kick(ctx, "AAAAAAAAA", "AAAAAAAAB", "bye", nil, clock.Timestamp{}))

	members, _ := a.GetMembers(ctx)
	assert.Len(t, members, 1)
	assert.Equal(t, "AAAAAAAAA", members[0].UID)
}

func TestMergeConvergesIdempotently(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")
	require.NoError(t, a.Join(ctx, JoinParams{UID: "AAAAAAAAA", Hostmask: "alice!u@host", JoinTime: 1}))

	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Merge(ctx, snap))
	require.NoError(t, a.Merge(ctx, snap))

	members, _ := a.GetMembers(ctx)
	assert.Len(t, members, 1, "merging the same snapshot twice must not duplicate members")
}

func TestSetTopicAndSnapshot(t *testing.T) {
	a, mtx, _ := newHarness(t)
	ctx := context.Background()
	addLocalUser(t, mtx, "AAAAAAAAA", "alice")

	require.NoError(t, a.SetTopic(ctx, "hello world", "alice", nil, clock.Timestamp{}))
	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello world", snap.Topic.Value.Text)
	assert.Equal(t, "alice", snap.Topic.Value.Setter)
}
