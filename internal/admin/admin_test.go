package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/matrix"
)

type fakeSampler struct {
	clients, channels, peers int
}

func (f fakeSampler) ClientCount() int   { return f.clients }
func (f fakeSampler) ChannelCount() int  { return f.channels }
func (f fakeSampler) PeerLinkCount() int { return f.peers }

func TestNewMetricsRegistersGaugesAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sampler := fakeSampler{clients: 3, channels: 2, peers: 1}
	m := NewMetrics(reg, sampler)
	require.NotNil(t, m.MessagesTotal)
	require.NotNil(t, m.ConnectionsTotal)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ircd_clients"])
	assert.True(t, names["ircd_channels"])
	assert.True(t, names["ircd_peer_links"])
	assert.True(t, names["ircd_messages_total"])
	assert.True(t, names["ircd_connections_total"])
}

type fakeInspector struct {
	fakeSampler
	clients  []ClientSummary
	channels []ChannelSummary
	peers    []PeerSummary
}

func (f fakeInspector) ClientSummaries() []ClientSummary   { return f.clients }
func (f fakeInspector) ChannelSummaries() []ChannelSummary { return f.channels }
func (f fakeInspector) PeerSummaries() []PeerSummary       { return f.peers }

func TestWebServerRoutesRequireBearerToken(t *testing.T) {
	inspector := fakeInspector{
		fakeSampler: fakeSampler{clients: 1, channels: 1, peers: 0},
		clients:     []ClientSummary{{UID: "001AAAAAA", Nick: "alice"}},
	}
	w := NewWebServer("127.0.0.1:0", inspector, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rw := httptest.NewRecorder()
	w.srv.Handler.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusUnauthorized, rw.Code)

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rw = httptest.NewRecorder()
	w.srv.Handler.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&body))
	assert.EqualValues(t, 1, body["clients"])
}

func TestWebServerHealthzIsUnauthenticated(t *testing.T) {
	w := NewWebServer("127.0.0.1:0", fakeInspector{}, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	w.srv.Handler.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)
}

func TestWebServerEmptyTokenDisablesAuth(t *testing.T) {
	w := NewWebServer("127.0.0.1:0", fakeInspector{}, "")

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rw := httptest.NewRecorder()
	w.srv.Handler.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)
}

func newTestMatrix(t *testing.T) (*matrix.Matrix, *clock.Clock) {
	t.Helper()
	clk := clock.New("001", func() time.Time { return time.UnixMilli(1_000_000) })
	return matrix.New(clk, time.Minute, 8, time.Hour), clk
}

func newTestBotAPI(t *testing.T, tokens []string) (*BotAPI, *matrix.Matrix, *handler.ChannelManager) {
	t.Helper()
	mtx, clk := newTestMatrix(t)
	channels := handler.NewChannelManager(mtx, clk, nil)
	b := NewBotAPI(mtx, clk, channels, "001SSSAA", "OpsBot", tokens)
	return b, mtx, channels
}

func doJSON(t *testing.T, b *BotAPI, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rw := httptest.NewRecorder()
	b.echo.ServeHTTP(rw, req)
	return rw
}

func TestBotAPIRejectsMissingBearerToken(t *testing.T) {
	b, _, _ := newTestBotAPI(t, []string{"tok"})
	rw := doJSON(t, b, http.MethodPost, "/api/join", channelRequest{Channel: "#go"}, "")
	assert.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestBotAPIJoinAndSendAndList(t *testing.T) {
	b, _, _ := newTestBotAPI(t, []string{"tok"})

	rw := doJSON(t, b, http.MethodPost, "/api/join", channelRequest{Channel: "#go"}, "tok")
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doJSON(t, b, http.MethodPost, "/api/send", sendRequest{Channel: "#go", Message: "hello"}, "tok")
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doJSON(t, b, http.MethodGet, "/api/list", nil, "tok")
	require.Equal(t, http.StatusOK, rw.Code)
	var channels []ChannelSummary
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "#go", channels[0].Name)
	assert.Equal(t, 1, channels[0].Members)
}

func TestBotAPISendToUnknownChannelFails(t *testing.T) {
	b, _, _ := newTestBotAPI(t, []string{"tok"})
	rw := doJSON(t, b, http.MethodPost, "/api/send", sendRequest{Channel: "#nope", Message: "hi"}, "tok")
	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestBotAPINickChangesIdentity(t *testing.T) {
	b, mtx, _ := newTestBotAPI(t, []string{"tok"})
	rw := doJSON(t, b, http.MethodPost, "/api/nick", nickRequest{Nick: "HelperBot"}, "tok")
	require.Equal(t, http.StatusOK, rw.Code)
	u, ok := mtx.GetUser("001SSSAA")
	require.True(t, ok)
	assert.Equal(t, "HelperBot", u.Nick())
}
