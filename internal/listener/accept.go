package listener

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/presbrey/ircd/internal/security"
)

// proxyConn wraps a net.Conn whose PROXY protocol header has already been
// consumed from its buffered reader, preserving any data read past the
// header. Grounded on irc/server.go's proxyConn/handleProxyProtocol.
type proxyConn struct {
	net.Conn
	reader *bufio.Reader
}

func (pc *proxyConn) Read(b []byte) (int, error) { return pc.reader.Read(b) }

// resolveRemoteAddr peeks for a PROXY protocol v1 header when enabled,
// returning a possibly-wrapped conn and the address that should be
// treated as the client's real origin for every security check below.
func resolveRemoteAddr(conn net.Conn, proxyProtocol bool) (net.Conn, string) {
	fallback := conn.RemoteAddr().String()
	if !proxyProtocol {
		return conn, fallback
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	reader := bufio.NewReader(conn)
	header, err := reader.Peek(5)
	if err != nil || string(header) != "PROXY" {
		return conn, fallback
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		log.Printf("listener: error reading PROXY line from %s: %v", fallback, err)
		return conn, fallback
	}
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) >= 6 && parts[0] == "PROXY" && (parts[1] == "TCP4" || parts[1] == "TCP6") {
		return &proxyConn{Conn: conn, reader: reader}, net.JoinHostPort(parts[2], parts[4])
	}
	log.Printf("listener: malformed PROXY line from %s: %q", fallback, line)
	return conn, fallback
}

// checkAccept runs the synchronous accept-time security pipeline in the
// order spec.md §4.2 specifies: deny list, then connection rate, then
// ban cache. Each stage is nil-safe so a Listener can be constructed
// without wiring every dependency (e.g. in tests).
func (l *Listener) checkAccept(host string) (ok bool, reason string) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return true, ""
	}

	if l.denyList != nil && l.denyList.IsDenied(addr) {
		return false, "you are banned from this server"
	}
	if l.connLimiter != nil && !l.connLimiter.AllowConnection(security.NormalizeIPKey(addr)) {
		return false, "connection rate exceeded, try again later"
	}
	if l.banCache != nil {
		if rec, banned := l.banCache.Check(addr.String()); banned {
			return false, rec.Reason
		}
	}
	return true, ""
}

// rejectConnection writes a single ERROR line before closing, matching
// the teacher's own rejected-connection behavior in acceptConnections.
func rejectConnection(conn net.Conn, remoteAddr, reason string) {
	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "ERROR :Closing Link: %s [%s]\r\n", remoteAddr, reason)
	w.Flush()
	conn.Close()
}

// backgroundRBLCheck runs an asynchronous blocklist lookup after a
// connection has already been accepted (an RBL lookup can take up to its
// configured timeout, so gating the synchronous accept path on it would
// let one slow provider throttle every legitimate connection). A listed
// result closes the connection; an inconclusive or clean one is a no-op.
func (l *Listener) backgroundRBLCheck(conn *Connection, host string) {
	if l.rbl == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		result := l.rbl.Lookup(ctx, host)
		if result.Listed {
			log.Printf("[%s] closing connection: listed by %s", host, result.Provider)
			conn.Close()
		}
	}()
}
