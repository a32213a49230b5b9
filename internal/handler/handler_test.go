package handler_test

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/listener"
	"github.com/presbrey/ircd/internal/matrix"
)

// testServer wires a Registry on top of a real TCP listener, the same way
// cmd/ircd does, so these tests exercise the full Dispatch/flush path
// rather than calling handler functions directly.
type testServer struct {
	addr string
	ln   *listener.Listener
}

func newTestServer(t *testing.T, addr string) *testServer {
	t.Helper()
	clk := clock.New("001", nil)
	mtx := matrix.New(clk, time.Minute, 128, time.Hour)
	uidGen, err := matrix.NewUIDGenerator("001")
	require.NoError(t, err)
	channels := handler.NewChannelManager(mtx, clk, nil)

	deps := &handler.Deps{
		Info: handler.ServerInfo{
			Name:        "test.ircd",
			SID:         "001",
			Network:     "TestNet",
			Description: "test network",
			Version:     "ircd-test",
			Created:     time.Now(),
		},
		Matrix:   mtx,
		Clock:    clk,
		UIDGen:   uidGen,
		Channels: channels,
	}
	reg := handler.New(deps)

	ln := listener.New(listener.Config{TCPAddr: addr, ReadTimeout: 5 * time.Second}, reg, nil, nil, nil, nil, nil)
	require.NoError(t, ln.ListenAndServe())
	t.Cleanup(ln.Shutdown)
	t.Cleanup(channels.Shutdown)

	return &testServer{addr: addr, ln: ln}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return line
}

// readUntil keeps reading lines until one contains want, returning it, or
// fails the test once maxLines is exceeded.
func (c *testClient) readUntil(want string, maxLines int) string {
	c.t.Helper()
	for i := 0; i < maxLines; i++ {
		line := c.readLine()
		if strings.Contains(line, want) {
			return line
		}
	}
	c.t.Fatalf("never saw line containing %q", want)
	return ""
}

func (c *testClient) register(nick string) {
	c.send("NICK " + nick)
	c.send("USER " + nick + " 0 * :Test User")
	c.readUntil(" 001 ", 10)
}

func TestRegistrationSendsWelcome(t *testing.T) {
	newTestServer(t, "127.0.0.1:18761")
	c := dial(t, "127.0.0.1:18761")
	c.register("alice")
}

func TestNickInUseDuringRegistration(t *testing.T) {
	newTestServer(t, "127.0.0.1:18762")
	a := dial(t, "127.0.0.1:18762")
	a.register("bob")

	b := dial(t, "127.0.0.1:18762")
	b.send("NICK bob")
	b.send("USER bob 0 * :Second Bob")
	line := b.readUntil(" 433 ", 10)
	require.Contains(t, line, "433")
}

func TestCapNegotiationBlocksRegistrationUntilEnd(t *testing.T) {
	newTestServer(t, "127.0.0.1:18763")
	c := dial(t, "127.0.0.1:18763")

	c.send("CAP LS 302")
	c.readUntil("CAP * LS", 10)
	c.send("NICK carol")
	c.send("USER carol 0 * :Carol")
	c.send("CAP REQ :server-time")
	ackLine := c.readUntil("CAP * ACK", 10)
	require.Contains(t, ackLine, "server-time")
	c.send("CAP END")
	c.readUntil(" 001 ", 10)
}

func TestJoinAndPrivmsgBetweenTwoClients(t *testing.T) {
	newTestServer(t, "127.0.0.1:18764")
	alice := dial(t, "127.0.0.1:18764")
	alice.register("dave")
	bob := dial(t, "127.0.0.1:18764")
	bob.register("erin")

	alice.send("JOIN #test")
	alice.readUntil("JOIN :#test", 10)
	bob.send("JOIN #test")
	bob.readUntil("JOIN :#test", 10)
	alice.readUntil("JOIN :#test", 10) // erin's join echoed to dave too

	alice.send("PRIVMSG #test :hello there")
	line := bob.readUntil("PRIVMSG #test", 10)
	require.Contains(t, line, "hello there")
}

func TestQuitRemovesUserFromChannel(t *testing.T) {
	newTestServer(t, "127.0.0.1:18765")
	alice := dial(t, "127.0.0.1:18765")
	alice.register("frank")
	bob := dial(t, "127.0.0.1:18765")
	bob.register("gina")

	alice.send("JOIN #quittest")
	alice.readUntil("JOIN :#quittest", 10)
	bob.send("JOIN #quittest")
	bob.readUntil("JOIN :#quittest", 10)
	alice.readUntil("JOIN :#quittest", 10)

	alice.send("QUIT :leaving")
	bob.readUntil("QUIT", 10)
}
