// Package listener accepts client connections over plain TCP, TLS, and
// WebSocket, runs the accept-time security pipeline (deny list, connection
// rate limit, ban cache) before handing a connection to its read/write
// loops, and implements the bounded try-send outbound mailbox every
// connected user's matrix.User.Send ultimately writes through.
//
// Grounded on irc/server.go's acceptConnections/handleProxyProtocol and
// irc/client.go's handleConnection (textproto line reading, bufio
// writer), generalized to cover TLS/WebSocket transports and the
// accept-time security checks spec.md §4.2 adds.
package listener

import (
	"bufio"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"log"
	"net"
	"net/textproto"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection wraps one accepted client socket (plain, TLS, or WebSocket —
// all satisfy net.Conn) with a line-oriented read loop and a bounded,
// try-send outbound mailbox. It implements matrix.Sender so a
// matrix.User can hold one directly without matrix depending on this
// package.
type Connection struct {
	id         string
	conn       net.Conn
	remoteAddr string
	isTLS      bool
	isWS       bool

	maxLineBytes int
	readTimeout  time.Duration

	outbound  chan string
	closed    atomic.Bool
	closeOnce sync.Once

	heuristicScore float64
}

func newConnection(conn net.Conn, remoteAddr string, isTLS, isWS bool, maxLineBytes, outboundQueueSize int, readTimeout time.Duration, score float64) *Connection {
	return &Connection{
		id:             uuid.NewString(),
		conn:           conn,
		remoteAddr:     remoteAddr,
		isTLS:          isTLS,
		isWS:           isWS,
		maxLineBytes:   maxLineBytes,
		readTimeout:    readTimeout,
		outbound:       make(chan string, outboundQueueSize),
		heuristicScore: score,
	}
}

func (c *Connection) SessionID() string       { return c.id }
func (c *Connection) RemoteAddr() string      { return c.remoteAddr }
func (c *Connection) IsTLS() bool             { return c.isTLS }
func (c *Connection) IsWebSocket() bool       { return c.isWS }
func (c *Connection) HeuristicScore() float64 { return c.heuristicScore }

// CertFingerprint returns the hex-encoded SHA-256 fingerprint of the
// client's leaf certificate, used by SASL EXTERNAL to compare against a
// registered account's pinned fingerprint. Returns "" when the connection
// is not TLS or the client presented no certificate.
func (c *Connection) CertFingerprint() string {
	tlsConn, ok := c.conn.(*tls.Conn)
	if !ok {
		return ""
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return ""
	}
	sum := sha256.Sum256(certs[0].Raw)
	return hex.EncodeToString(sum[:])
}

// TrySend enqueues line (without CRLF) for delivery, satisfying
// matrix.Sender. It reports false and drops the line, with a warning
// logged, when the outbound queue is already full — spec.md §5's
// try-send / drop-with-warn backpressure policy, never a blocking send
// that could stall one slow reader against the rest of the server.
func (c *Connection) TrySend(line string) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.outbound <- line:
		return true
	default:
		log.Printf("[%s] outbound queue full, dropping line", c.remoteAddr)
		return false
	}
}

// Closed satisfies matrix.Sender.
func (c *Connection) Closed() bool { return c.closed.Load() }

// Close ends both the read and write loops and closes the underlying
// socket. Safe to call multiple times or concurrently with the loops.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.outbound)
		c.conn.Close()
	})
}

// writeLoop drains outbound and writes each line, CRLF-terminated, until
// the channel is closed or a write error occurs.
func (c *Connection) writeLoop() {
	w := bufio.NewWriter(c.conn)
	for line := range c.outbound {
		if _, err := w.WriteString(line); err != nil {
			c.Close()
			return
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			c.Close()
			return
		}
		if err := w.Flush(); err != nil {
			c.Close()
			return
		}
	}
}

// readLoop reads CRLF-framed lines and hands each to d.Dispatch, applying
// a rolling read deadline and the configured per-line byte cap. It runs
// until the connection is closed, EOF, or a line exceeds maxLineBytes,
// and always ends by calling d.Disconnected exactly once.
func (c *Connection) readLoop(d Dispatcher) {
	reader := textproto.NewReader(bufio.NewReaderSize(c.conn, c.maxLineBytes+1))
	reason := "connection closed"

	for {
		if c.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		line, err := reader.ReadLine()
		if err != nil {
			reason = err.Error()
			break
		}
		if len(line) > c.maxLineBytes {
			reason = "line too long"
			break
		}
		if line == "" {
			continue
		}
		d.Dispatch(c, line)
	}

	c.Close()
	d.Disconnected(c, reason)
}
