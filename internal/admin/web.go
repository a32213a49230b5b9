package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// Inspector is the narrow read surface the web admin UI renders,
// satisfied by a small adapter cmd/ircd builds over *matrix.Matrix,
// *handler.ChannelManager, and *sync6.Manager.
type Inspector interface {
	Sampler
	ClientSummaries() []ClientSummary
	ChannelSummaries() []ChannelSummary
	PeerSummaries() []PeerSummary
}

// ClientSummary is one row of the /clients admin view.
type ClientSummary struct {
	UID      string `json:"uid"`
	Nick     string `json:"nick"`
	Username string `json:"username"`
	Host     string `json:"host"`
	Account  string `json:"account,omitempty"`
	SID      string `json:"sid"`
}

// ChannelSummary is one row of the /channels admin view.
type ChannelSummary struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// PeerSummary is one row of the admin view's peer link table.
type PeerSummary struct {
	SID  string `json:"sid"`
	Name string `json:"name"`
}

// WebServer is the gorilla/mux-routed admin console, grounded on
// irc/admind/server.go's route table (home/stats/channels/clients),
// with the teacher's OIDC session auth replaced by the same bearer-token
// scheme irc/server/botapi.go already uses elsewhere in the same
// codebase — spec.md names no OIDC/SSO requirement, and go-oidc/go-jose
// are explicitly unwired teacher dependencies (see DESIGN.md), so this
// reuses the simpler mechanism the pack already demonstrates rather than
// inventing session-cookie auth from nothing.
type WebServer struct {
	inspector Inspector
	token     string
	srv       *http.Server
}

// NewWebServer builds the admin console's handler, bound to addr.
// bearerToken authorizes every route except the unauthenticated
// liveness check; an empty token disables auth entirely, useful for
// local development.
func NewWebServer(addr string, inspector Inspector, bearerToken string) *WebServer {
	w := &WebServer{inspector: inspector, token: bearerToken}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", w.handleHealthz).Methods(http.MethodGet)
	r.Handle("/stats", w.authed(w.handleStats)).Methods(http.MethodGet)
	r.Handle("/channels", w.authed(w.handleChannels)).Methods(http.MethodGet)
	r.Handle("/clients", w.authed(w.handleClients)).Methods(http.MethodGet)
	r.Handle("/peers", w.authed(w.handlePeers)).Methods(http.MethodGet)

	w.srv = &http.Server{Addr: addr, Handler: r}
	return w
}

// ListenAndServe blocks serving the admin console, matching
// irc/admind/server.go's StartAdminServer goroutine shape (the caller
// runs this in its own goroutine from cmd/ircd).
func (w *WebServer) ListenAndServe() error {
	err := w.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the admin console, used by package lifecycle.
func (w *WebServer) Shutdown() { w.srv.Close() }

func (w *WebServer) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if w.token == "" {
			next(rw, r)
			return
		}
		auth := r.Header.Get("Authorization")
		presented := strings.TrimPrefix(auth, "Bearer ")
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(w.token)) != 1 {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	})
}

func (w *WebServer) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("ok"))
}

func (w *WebServer) handleStats(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, map[string]any{
		"clients":    w.inspector.ClientCount(),
		"channels":   w.inspector.ChannelCount(),
		"peer_links": w.inspector.PeerLinkCount(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (w *WebServer) handleChannels(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, w.inspector.ChannelSummaries())
}

func (w *WebServer) handleClients(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, w.inspector.ClientSummaries())
}

func (w *WebServer) handlePeers(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, w.inspector.PeerSummaries())
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(v)
}
