package handler

import (
	"net"
	"sync"
	"time"

	"github.com/presbrey/ircd/internal/listener"
)

// Session is the per-connection mutable state a Registry tracks between
// the pre-registration and registered dispatcher trees. It plays the role
// irc/client.go's Client struct plays in the teacher, minus the socket
// plumbing (owned by listener.Connection) and minus channel membership
// (owned by the Matrix/chanactor once the user is registered).
type Session struct {
	mu sync.Mutex

	conn *listener.Connection
	uid  string // assigned once NICK+USER both arrive

	nick     string
	user     string
	realname string
	pass     string

	webircHost string // real host supplied by a trusted WEBIRC gateway
	webircIP   string

	registered bool
	quitting   bool
	shunned    bool // SHUN match at registration: commands silently no-op except QUIT/PING/PONG

	caps Capabilities
	sasl SASLState

	// label/batch bookkeeping for the command currently being processed;
	// reset before every Dispatch call.
	label              string
	suppressLabeledAck bool

	lastPing time.Time
	lastPong time.Time
}

// NewSession constructs the per-connection state for a freshly accepted
// connection.
func NewSession(conn *listener.Connection) *Session {
	return &Session{
		conn: conn,
		caps: NewCapabilities(),
		sasl: SASLState{State: SASLNone},
	}
}

func (s *Session) remoteHost() string {
	if s.webircHost != "" {
		return s.webircHost
	}
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr())
	if err != nil {
		return s.conn.RemoteAddr()
	}
	return host
}

func (s *Session) remoteIP() string {
	if s.webircIP != "" {
		return s.webircIP
	}
	return s.remoteHost()
}
