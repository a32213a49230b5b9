package sync6

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noChannels(string) *chanactor.Actor { return nil }

func newTestManager(t *testing.T, sid, name string, peers []LinkConfig) *Manager {
	t.Helper()
	clk := clock.New(sid, nil)
	mtx := matrix.New(clk, time.Minute, 100, time.Hour)
	return NewManager(sid, name, "test server", mtx, clk, noChannels, peers)
}

func TestTopologyNextHopAndRemoveLink(t *testing.T) {
	topo := newTopology("AAA", "hub.example", "hub")
	topo.addDirect("BBB", "leaf1.example", "leaf one", 1)
	topo.addBehind("CCC", "leaf2.example", "leaf two", 2, "BBB")

	hop, ok := topo.nextHop("CCC")
	require.True(t, ok)
	assert.Equal(t, "BBB", hop)

	hop, ok = topo.nextHop("BBB")
	require.True(t, ok)
	assert.Equal(t, "BBB", hop)

	_, ok = topo.nextHop("ZZZ")
	assert.False(t, ok)

	gone := topo.removeLink("BBB")
	assert.ElementsMatch(t, []string{"BBB", "CCC"}, gone)
	assert.False(t, topo.has("CCC"))
}

// TestHandshakeBurstAndEOB drives a Manager's Accept side over a net.Pipe
// standing in for a peer's socket, sending a full PASS/CAPAB/SERVER/
// SVINFO quartet and asserting the manager replies with its own quartet
// followed by EOB once the (empty) burst completes.
func TestHandshakeBurstAndEOB(t *testing.T) {
	mgr := newTestManager(t, "AAA", "hub.example", []LinkConfig{
		{Name: "leaf.example", SID: "BBB", SendPassword: "outpass", AcceptPassword: "inpass"},
	})

	serverConn, peerConn := net.Pipe()
	mgr.Accept(serverConn)

	peerW := bufio.NewWriter(peerConn)
	peerR := bufio.NewReader(peerConn)

	send := func(line string) {
		peerW.WriteString(line + "\r\n")
		peerW.Flush()
	}
	go func() {
		send("PASS inpass TS 6 :BBB")
		send("CAPAB QS ENCAP EX IE KLN UNKLN GLN HOPS CHW EOB KNOCK TB SERVICES")
		send("SERVER leaf.example 1 BBB :leaf server")
		send("SVINFO 6 6 0 :1700000000")
	}()

	var lines []string
	deadline := time.Now().Add(2 * time.Second)
	for {
		peerConn.SetReadDeadline(deadline)
		line, err := peerR.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if err != nil || strings.HasSuffix(strings.TrimRight(line, "\r\n"), "EOB") {
			break
		}
	}

	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "PASS outpass TS 6 "))
	assert.Equal(t, "EOB", lines[len(lines)-1])

	assert.True(t, mgr.topology.has("BBB"))
}

func TestPropagateSplitHorizonExcludesSourceLink(t *testing.T) {
	mgr := newTestManager(t, "AAA", "hub.example", nil)
	mgr.topology.addDirect("BBB", "peer-b", "", 1)
	mgr.topology.addDirect("CCC", "peer-c", "", 1)

	_, bPipe := net.Pipe()
	_, cPipe := net.Pipe()
	linkB := newLink(bPipe, mgr, LinkConfig{Name: "peer-b", SID: "BBB"}, stateSynced)
	linkC := newLink(cPipe, mgr, LinkConfig{Name: "peer-c", SID: "CCC"}, stateSynced)
	mgr.links["BBB"] = linkB
	mgr.links["CCC"] = linkC

	source := "BBB000001" // a user whose home server is BBB
	mgr.propagate(matrix.Event{Kind: matrix.EventUserRemoved, UID: "BBB000001", Reason: "bye", Source: &source})

	select {
	case line := <-linkB.outbound:
		t.Fatalf("expected no line echoed back to originating link, got %q", line)
	default:
	}

	select {
	case line := <-linkC.outbound:
		assert.Contains(t, line, "QUIT")
		assert.Contains(t, line, "bye")
	case <-time.After(time.Second):
		t.Fatal("expected propagated QUIT on the non-source link")
	}
}

func TestPropagateLocalAccountChangeReachesAllLinks(t *testing.T) {
	mgr := newTestManager(t, "AAA", "hub.example", nil)

	_, bPipe := net.Pipe()
	linkB := newLink(bPipe, mgr, LinkConfig{Name: "peer-b", SID: "BBB"}, stateSynced)
	mgr.links["BBB"] = linkB

	mgr.propagate(matrix.Event{Kind: matrix.EventAccountChanged, UID: "AAA000001", Account: "alice"})

	select {
	case line := <-linkB.outbound:
		assert.Contains(t, line, "ACCOUNT")
		assert.Contains(t, line, "alice")
	case <-time.After(time.Second):
		t.Fatal("expected ACCOUNT propagation to reach the only link")
	}
}

func TestLinkLostTriggersNetsplitCleanup(t *testing.T) {
	mgr := newTestManager(t, "AAA", "hub.example", nil)
	mgr.topology.addDirect("BBB", "peer-b", "", 1)

	uidgen, err := matrix.NewUIDGenerator("AAA")
	require.NoError(t, err)
	channels := handler.NewChannelManager(mgr.mtx, mgr.clk, mgr)
	registry := handler.New(&handler.Deps{
		Info:     handler.ServerInfo{Name: "hub.example", SID: "AAA"},
		Matrix:   mgr.mtx,
		Clock:    mgr.clk,
		UIDGen:   uidgen,
		Channels: channels,
		Router:   mgr,
	})
	mgr.SetRegistry(registry)

	ts := mgr.clk.Tick()
	u := matrix.NewUser("BBB000001", "bob", "bob", "Bob", "host", "0.0.0.0", nil, ts)
	require.True(t, mgr.mtx.AddUser(u, nil))

	serverConn, _ := net.Pipe()
	l := newLink(serverConn, mgr, LinkConfig{Name: "peer-b", SID: "BBB"}, stateSynced)
	mgr.links["BBB"] = l

	mgr.linkLost(l)

	_, ok := mgr.mtx.GetUser("BBB000001")
	assert.False(t, ok, "user behind the lost link should be removed by netsplit cleanup")
	assert.False(t, mgr.topology.has("BBB"))
}

func TestModeFlagRoundTrip(t *testing.T) {
	ts := clock.Timestamp{Wall: 123000, Server: "AAA"}
	ms := parseModeFlags("ntkl", []string{"secret", "10"}, ts)
	assert.True(t, ms.NoExternal.Value)
	assert.True(t, ms.TopicOpsOnly.Value)
	assert.Equal(t, "secret", ms.Key.Value)
	assert.Equal(t, 10, ms.Limit.Value)
	assert.Equal(t, ts, ms.NoExternal.TS, "a burst-received register must carry the channel-TS, not the zero timestamp")
	assert.Equal(t, ts, ms.Key.TS)

	rendered := ms.String()
	assert.Contains(t, rendered, "n")
	assert.Contains(t, rendered, "t")
	assert.Contains(t, rendered, "k secret")
}

// TestHandleBurstSJOINModesOverwriteLocalState exercises parseModeFlags's
// timestamp through the real merge path (Actor.Merge), the gap that let
// the zero-TS bug ship silently: a register that never carries a real
// timestamp can never win a ModeSet.Merge against any local register that
// has ever been set, so burst-received channel modes would be dropped.
func TestHandleBurstSJOINModesOverwriteLocalState(t *testing.T) {
	clk := clock.New("AAA", nil)
	mtx := matrix.New(clk, time.Minute, 100, time.Hour)
	channels := handler.NewChannelManager(mtx, clk, nil)
	mgr := NewManager("AAA", "hub.example", "test server", mtx, clk, channels.GetOrCreate, nil)

	actor := channels.GetOrCreate("#burst")
	ctx := context.Background()
	require.NoError(t, actor.Merge(ctx, chanactor.Snapshot{
		Name:  "#burst",
		Modes: crdt.ModeSet{NoExternal: crdt.NewLWW(true, clk.Tick())},
	}))

	mgr.handleBurstSJOIN(nil, []string{"9999999999", "#burst", "+nt"})

	snap, err := actor.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Modes.NoExternal.Value)
	assert.True(t, snap.Modes.TopicOpsOnly.Value, "burst-received mode must overwrite via a real, later timestamp")
}
