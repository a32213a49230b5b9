package services

import (
	"context"
	"testing"
	"time"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) TrySend(line string) bool {
	f.sent = append(f.sent, line)
	return true
}
func (f *fakeSender) Closed() bool { return false }

func newTestMatrix(t *testing.T) (*matrix.Matrix, *clock.Clock) {
	t.Helper()
	clk := clock.New("001", func() time.Time { return time.UnixMilli(1_000_000) })
	return matrix.New(clk, time.Minute, 8, time.Hour), clk
}

// addClient creates and registers a normal (non-service) connected user
// so tests can PRIVMSG a pseudo-client the way a real client would.
func addClient(t *testing.T, mtx *matrix.Matrix, clk *clock.Clock, uid, nick string) (*matrix.User, *fakeSender) {
	t.Helper()
	ts := clk.Tick()
	sender := &fakeSender{}
	u := matrix.NewUser(uid, nick, nick, "Real Name", "host", "1.2.3.4", sender, ts)
	require.True(t, mtx.AddUser(u, nil))
	return u, sender
}

func privmsg(u *matrix.User, from *matrix.User, target, text string) {
	u.Send(":" + from.Nick() + "!" + from.Username() + "@host PRIVMSG " + target + " :" + text)
}

func TestNickServRegisterAndIdentify(t *testing.T) {
	mtx, clk := newTestMatrix(t)
	accounts := NewAccountStore()
	ns := NewNickServ(mtx, clk, accounts)
	ns.Start("001AAAAAA")

	alice, aliceSender := addClient(t, mtx, clk, "001AAAAAB", "alice")

	privmsg(alice, alice, "NickServ", "REGISTER hunter2")
	require.NotEmpty(t, aliceSender.sent)
	assert.Contains(t, aliceSender.sent[len(aliceSender.sent)-1], "is now registered")
	assert.Equal(t, "alice", alice.Account())
	assert.True(t, accounts.Exists("alice"))

	// A different nick has no registration of its own, so IDENTIFY fails
	// against its own (nonexistent) account rather than alice's.
	bob, bobSender := addClient(t, mtx, clk, "001AAAAAC", "bobby")
	privmsg(bob, bob, "NickServ", "IDENTIFY hunter2")
	assert.Contains(t, bobSender.sent[len(bobSender.sent)-1], "Invalid password")
	assert.Empty(t, bob.Account())
}

func TestNickServGhost(t *testing.T) {
	mtx, clk := newTestMatrix(t)
	accounts := NewAccountStore()
	ns := NewNickServ(mtx, clk, accounts)
	ns.Start("001AAAAAA")

	alice, _ := addClient(t, mtx, clk, "001AAAAAB", "alice")
	privmsg(alice, alice, "NickServ", "REGISTER hunter2")

	bystander, bystanderSender := addClient(t, mtx, clk, "001AAAAAD", "bob")
	// bystander hasn't identified to alice's account, so GHOST must refuse.
	privmsg(bystander, bystander, "NickServ", "GHOST alice")
	assert.Contains(t, bystanderSender.sent[len(bystanderSender.sent)-1], "must IDENTIFY")
	_, ok := mtx.GetUser(alice.UID())
	require.True(t, ok, "ghost target should not have been removed without authorization")

	// A second session identified to the same account may ghost the first.
	second, secondSender := addClient(t, mtx, clk, "001AAAAAE", "alice2")
	privmsg(second, second, "NickServ", "IDENTIFY hunter2")
	privmsg(second, second, "NickServ", "GHOST alice")
	assert.Contains(t, secondSender.sent[len(secondSender.sent)-1], "has been ghosted")
	_, ok = mtx.GetUser(alice.UID())
	assert.False(t, ok, "ghosted session should have been removed from the Matrix")
}

func TestNickServDropRequiresIdentify(t *testing.T) {
	mtx, clk := newTestMatrix(t)
	accounts := NewAccountStore()
	ns := NewNickServ(mtx, clk, accounts)
	ns.Start("001AAAAAA")

	alice, aliceSender := addClient(t, mtx, clk, "001AAAAAB", "alice")
	privmsg(alice, alice, "NickServ", "DROP")
	assert.Contains(t, aliceSender.sent[len(aliceSender.sent)-1], "not identified")
}

func TestChanServRegister(t *testing.T) {
	mtx, clk := newTestMatrix(t)
	lookup := func(name string) (*chanactor.Actor, bool) {
		a, ok := mtx.GetChannel(name)
		if !ok {
			return nil, false
		}
		return a.(*chanactor.Actor), true
	}
	cs := NewChanServ(mtx, clk, lookup)
	cs.Start("001AAAAA1")

	actor := chanactor.New("#test", mtx, clk, nil)
	mtx.RegisterChannel(actor)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.Run(ctx)

	alice, aliceSender := addClient(t, mtx, clk, "001AAAAAB", "alice")
	mtx.SetAccount("001AAAAAB", "alice", clk.Tick(), nil)
	bob, bobSender := addClient(t, mtx, clk, "001AAAAAC", "bob")
	mtx.SetAccount("001AAAAAC", "bob", clk.Tick(), nil)

	require.NoError(t, actor.Join(ctx, chanactor.JoinParams{UID: alice.UID(), Hostmask: "alice!a@host", JoinTime: time.Now().Unix(), TS: clk.Tick()}))
	require.NoError(t, actor.Join(ctx, chanactor.JoinParams{UID: bob.UID(), Hostmask: "bob!b@host", JoinTime: time.Now().Unix(), TS: clk.Tick()}))

	// bob is a plain member, not an op, so registration must be refused.
	privmsg(bob, bob, "ChanServ", "REGISTER #test")
	assert.Contains(t, bobSender.sent[len(bobSender.sent)-1], "channel operator")

	// Grant alice ops, then she can register the channel.
	_, _, err := actor.ApplyModeChange(ctx, "SERVER", crdt.Privilege{Owner: true}, "+o", []string{alice.UID()}, nil, clk.Tick())
	require.NoError(t, err)

	privmsg(alice, alice, "ChanServ", "REGISTER #test")
	require.NotEmpty(t, aliceSender.sent)
	assert.Contains(t, aliceSender.sent[len(aliceSender.sent)-1], "is now registered")

	priv, member, err := actor.GetMemberModes(ctx, alice.UID())
	require.NoError(t, err)
	require.True(t, member)
	assert.True(t, priv.Owner, "REGISTER should have granted founder (+q)")
}

func TestEnforcerRenamesStaleUnidentifiedNick(t *testing.T) {
	mtx, clk := newTestMatrix(t)
	accounts := NewAccountStore()
	require.NoError(t, accounts.Register("alice", "hunter2"))

	impostor, impostorSender := addClient(t, mtx, clk, "001AAAAAE", "alice")

	enf := NewEnforcer(mtx, clk, accounts, "001", 0)
	enf.sweep()
	// With zero grace the first sweep's deadline equals now, and
	// "now.Before(deadline)" is false, so it enforces immediately.
	assert.NotEqual(t, "alice", impostor.Nick())
	require.NotEmpty(t, impostorSender.sent)
	assert.Contains(t, impostorSender.sent[len(impostorSender.sent)-1], "renamed")
}
