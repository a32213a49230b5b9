package listener

import (
	"crypto/tls"
	"errors"
	"log"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/presbrey/ircd/internal/security"
)

// Config configures every transport a Listener may serve. Any address
// left empty disables that transport, matching the teacher's own
// optional-TLS-bind-address convention in irc/config/config.go.
type Config struct {
	TCPAddr string
	TLSAddr string
	WSAddr  string

	TLSConfig *tls.Config

	ProxyProtocol bool

	ReadTimeout       time.Duration
	MaxLineBytes      int
	OutboundQueueSize int
}

// Listener accepts connections on up to three transports and runs them
// all through the same accept pipeline and Connection read/write loops.
type Listener struct {
	cfg        Config
	dispatcher Dispatcher

	denyList    *security.DenyList
	banCache    *security.BanCache
	connLimiter *security.RateLimiter
	heuristics  *security.HeuristicScore
	rbl         *security.Checker

	tcpLn   net.Listener
	tlsLn   net.Listener
	httpSrv *http.Server

	wg sync.WaitGroup
}

// New constructs a Listener. Any of the *security.* dependencies may be
// nil, in which case the corresponding check is skipped (useful for
// focused tests); a fully wired server supplies all of them from
// cmd/ircd.
func New(cfg Config, dispatcher Dispatcher, denyList *security.DenyList, banCache *security.BanCache, connLimiter *security.RateLimiter, heuristics *security.HeuristicScore, rbl *security.Checker) *Listener {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 8191
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 256
	}
	return &Listener{
		cfg:         cfg,
		dispatcher:  dispatcher,
		denyList:    denyList,
		banCache:    banCache,
		connLimiter: connLimiter,
		heuristics:  heuristics,
		rbl:         rbl,
	}
}

// ListenAndServe starts the plain-TCP transport, if configured.
func (l *Listener) ListenAndServe() error {
	if l.cfg.TCPAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", l.cfg.TCPAddr)
	if err != nil {
		return err
	}
	l.tcpLn = ln
	log.Printf("listener: IRC server listening on %s", ln.Addr())
	l.wg.Add(1)
	go l.acceptLoop(ln, false)
	return nil
}

// ListenAndServeTLS starts the TLS transport, if configured.
func (l *Listener) ListenAndServeTLS() error {
	if l.cfg.TLSAddr == "" {
		return nil
	}
	ln, err := tls.Listen("tcp", l.cfg.TLSAddr, l.cfg.TLSConfig)
	if err != nil {
		return err
	}
	l.tlsLn = ln
	log.Printf("listener: TLS IRC server listening on %s", ln.Addr())
	l.wg.Add(1)
	go l.acceptLoop(ln, true)
	return nil
}

// ListenAndServeWS starts the WebSocket transport, if configured. Each
// WebSocket connection's handler goroutine IS its read loop — the HTTP
// server already gives us one goroutine per connection, so unlike the
// TCP/TLS accept loops below, accept() here runs synchronously rather
// than being dispatched with go.
func (l *Listener) ListenAndServeWS() error {
	if l.cfg.WSAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/", websocket.Handler(func(ws *websocket.Conn) {
		ws.PayloadType = websocket.TextFrame
		l.accept(ws, false, true)
	}))
	l.httpSrv = &http.Server{Addr: l.cfg.WSAddr, Handler: mux}
	log.Printf("listener: WebSocket IRC server listening on %s", l.cfg.WSAddr)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("listener: websocket server error: %v", err)
		}
	}()
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener, isTLS bool) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return
			}
			log.Printf("listener: accept error: %v", err)
			continue
		}
		go l.accept(conn, isTLS, false)
	}
}

// accept runs the full pipeline for one freshly-dialed connection: PROXY
// header resolution, deny-list/rate/ban checks, Connection construction,
// and loop startup. For non-WebSocket transports the caller has already
// dispatched this onto its own goroutine; accept blocks on the read loop
// either way.
func (l *Listener) accept(rawConn net.Conn, isTLS, isWS bool) {
	conn, remoteAddr := resolveRemoteAddr(rawConn, l.cfg.ProxyProtocol && !isWS)
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	if ok, reason := l.checkAccept(host); !ok {
		log.Printf("listener: rejecting connection from %s: %s", remoteAddr, reason)
		rejectConnection(conn, remoteAddr, reason)
		return
	}

	score := 0.0
	if l.heuristics != nil {
		score = l.heuristics.Score(host, "", hasClientCert(conn), isTLS)
	}

	c := newConnection(conn, remoteAddr, isTLS, isWS, l.cfg.MaxLineBytes, l.cfg.OutboundQueueSize, l.cfg.ReadTimeout, score)
	l.backgroundRBLCheck(c, host)

	go c.writeLoop()
	c.readLoop(l.dispatcher)
}

func hasClientCert(conn net.Conn) bool {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return false
	}
	return len(tlsConn.ConnectionState().PeerCertificates) > 0
}

// Shutdown closes every listening socket. In-flight connections are left
// to drain naturally; package lifecycle calls this first in its ordered
// shutdown and sends connected clients no notice beforehand.
func (l *Listener) Shutdown() {
	if l.tcpLn != nil {
		l.tcpLn.Close()
	}
	if l.tlsLn != nil {
		l.tlsLn.Close()
	}
	if l.httpSrv != nil {
		l.httpSrv.Close()
	}
	l.wg.Wait()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// AddrOf returns a normalized netip.Addr for a remote address string
// ("host:port" or a bare host), used by callers that need to run further
// security checks against an already-accepted connection's address.
func AddrOf(remoteAddr string) (netip.Addr, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return netip.ParseAddr(host)
}
