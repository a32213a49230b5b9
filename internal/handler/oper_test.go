package handler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/config"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/listener"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/security"
)

// newOperTestServer is newTestServer plus a configured operator block and
// live ban caches, used to exercise OPER/KILL/the ban-command family
// end to end through the real Dispatch path.
func newOperTestServer(t *testing.T, addr, operPass string) *testServer {
	t.Helper()
	clk := clock.New("001", nil)
	mtx := matrix.New(clk, time.Minute, 128, time.Hour)
	uidGen, err := matrix.NewUIDGenerator("001")
	require.NoError(t, err)
	channels := handler.NewChannelManager(mtx, clk, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(operPass), bcrypt.MinCost)
	require.NoError(t, err)

	deps := &handler.Deps{
		Info: handler.ServerInfo{
			Name:        "test.ircd",
			SID:         "001",
			Network:     "TestNet",
			Description: "test network",
			Version:     "ircd-test",
			Created:     time.Now(),
		},
		Matrix:    mtx,
		Clock:     clk,
		UIDGen:    uidGen,
		Channels:  channels,
		Operators: []config.OperatorBlock{{Name: "admin", BcryptHash: string(hash)}},
		DenyList:  security.NewDenyList(),
		HostBans:  security.NewBanCache(),
		IPBans:    security.NewBanCache(),
		RealBans:  security.NewBanCache(),
		ShunBans:  security.NewBanCache(),
	}
	reg := handler.New(deps)

	ln := listener.New(listener.Config{TCPAddr: addr, ReadTimeout: 5 * time.Second}, reg, deps.DenyList, deps.IPBans, nil, nil, nil)
	require.NoError(t, ln.ListenAndServe())
	t.Cleanup(ln.Shutdown)
	t.Cleanup(channels.Shutdown)

	return &testServer{addr: addr, ln: ln}
}

func TestOperWithValidPasswordGrantsOper(t *testing.T) {
	newOperTestServer(t, "127.0.0.1:18771", "letmein")
	c := dial(t, "127.0.0.1:18771")
	c.register("op")

	c.send("OPER admin letmein")
	line := c.readUntil(" 381 ", 10)
	require.Contains(t, line, "381")
}

func TestOperWithWrongPasswordFails(t *testing.T) {
	newOperTestServer(t, "127.0.0.1:18772", "letmein")
	c := dial(t, "127.0.0.1:18772")
	c.register("op")

	c.send("OPER admin wrongpass")
	line := c.readUntil(" 464 ", 10)
	require.Contains(t, line, "464")
}

func TestNonOperKillIsRejected(t *testing.T) {
	newOperTestServer(t, "127.0.0.1:18773", "letmein")
	a := dial(t, "127.0.0.1:18773")
	a.register("victim")
	b := dial(t, "127.0.0.1:18773")
	b.register("bystander")

	b.send("KILL victim :nope")
	line := b.readUntil(" 481 ", 10)
	require.Contains(t, line, "481")
}

func TestOperKillClosesTargetConnection(t *testing.T) {
	newOperTestServer(t, "127.0.0.1:18774", "letmein")
	victim := dial(t, "127.0.0.1:18774")
	victim.register("target")

	oper := dial(t, "127.0.0.1:18774")
	oper.register("admin")
	oper.send("OPER admin letmein")
	oper.readUntil(" 381 ", 10)

	oper.send("KILL target :abuse")
	line := victim.readUntil("ERROR", 10)
	require.Contains(t, line, "Closing Link")
}

func TestKlineRejectsMatchingHostOnConnect(t *testing.T) {
	newOperTestServer(t, "127.0.0.1:18775", "letmein")
	oper := dial(t, "127.0.0.1:18775")
	oper.register("admin")
	oper.send("OPER admin letmein")
	oper.readUntil(" 381 ", 10)

	oper.send("KLINE *@127.0.0.1 :banned")
	oper.readUntil("KLINE active", 10)

	banned := dial(t, "127.0.0.1:18775")
	banned.send("NICK evil")
	banned.send("USER evil 0 * :Evil User")
	line := banned.readUntil(" 465 ", 10)
	require.Contains(t, line, "465")
}

func TestShunSilentlyDropsCommandsWithoutReply(t *testing.T) {
	newOperTestServer(t, "127.0.0.1:18776", "letmein")
	oper := dial(t, "127.0.0.1:18776")
	oper.register("admin")
	oper.send("OPER admin letmein")
	oper.readUntil(" 381 ", 10)

	oper.send("SHUN *@127.0.0.1 :quiet down")
	oper.readUntil("SHUN active", 10)

	shunned := dial(t, "127.0.0.1:18776")
	shunned.send("NICK shy")
	shunned.send("USER shy 0 * :Shy User")
	shunned.readUntil(" 001 ", 10)

	shunned.send("JOIN #test")
	shunned.send("PING ping-sentinel")
	line := shunned.readUntil("PONG", 10)
	require.Contains(t, line, "ping-sentinel")
	require.NotContains(t, line, "JOIN")
}
