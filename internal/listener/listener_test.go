package listener

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/presbrey/ircd/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	lines []string
	disc  string
}

func (d *recordingDispatcher) Dispatch(conn *Connection, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, line)
	conn.TrySend("ECHO " + line)
}

func (d *recordingDispatcher) Disconnected(conn *Connection, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disc = reason
}

func (d *recordingDispatcher) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

func startTestListener(t *testing.T, l *Listener) (addr string) {
	t.Helper()
	require.NoError(t, l.ListenAndServe())
	t.Cleanup(l.Shutdown)
	return l.tcpLn.Addr().String()
}

func TestAcceptAndDispatchLine(t *testing.T) {
	d := &recordingDispatcher{}
	l := New(Config{TCPAddr: "127.0.0.1:0", ReadTimeout: 2 * time.Second}, d, nil, nil, nil, nil, nil)
	addr := startTestListener(t, l)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("PING :hello\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ECHO PING :hello\r\n", string(buf[:n]))
}

func TestDenyListRejectsBeforeDispatch(t *testing.T) {
	d := &recordingDispatcher{}
	deny := security.NewDenyList()
	deny.Deny("127.0.0.1")

	l := New(Config{TCPAddr: "127.0.0.1:0"}, d, deny, nil, nil, nil, nil)
	addr := startTestListener(t, l)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "ERROR :Closing Link")
	assert.Empty(t, d.Lines())
}

func TestConnectionRateLimitRejects(t *testing.T) {
	limiter := security.NewRateLimiter(security.Limits{ConnPerSecond: 0.0001, ConnBurst: 1, MaxEntries: 10}, nil)
	l := New(Config{}, &recordingDispatcher{}, nil, nil, limiter, nil, nil)

	ok, _ := l.checkAccept("127.0.0.1")
	assert.True(t, ok, "first connection should be allowed")
	ok, reason := l.checkAccept("127.0.0.1")
	assert.False(t, ok)
	assert.Contains(t, reason, "rate")
}

func TestBanCacheRejectsWithReason(t *testing.T) {
	bans := security.NewBanCache()
	bans.Add("127.0.0.1", security.BanRecord{Reason: "abusive behavior"})

	l := New(Config{}, &recordingDispatcher{}, nil, bans, nil, nil, nil)
	ok, reason := l.checkAccept("127.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, "abusive behavior", reason)
}

func TestAddrOfParsesHostPort(t *testing.T) {
	addr, err := AddrOf("10.0.0.5:6697")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), addr)
}

func TestOutboundQueueFullDropsRatherThanBlocks(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newConnection(server, "127.0.0.1:1234", false, false, 512, 1, 0, 0)
	go c.writeLoop()
	t.Cleanup(c.Close)

	// No one is reading from the client side, so once the writeLoop
	// dequeues "first" it blocks on the write itself, leaving the
	// size-1 channel free to buffer exactly one more ("second") before
	// a third TrySend must be dropped rather than block the caller.
	assert.True(t, c.TrySend("first"))
	time.Sleep(50 * time.Millisecond) // let writeLoop dequeue "first" and block on Write
	assert.True(t, c.TrySend("second"))

	done := make(chan bool, 1)
	go func() { done <- c.TrySend("third") }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("TrySend blocked instead of dropping")
	}
}
