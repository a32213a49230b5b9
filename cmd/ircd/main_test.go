package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/config"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/sync6"
)

func sampleConfig() *config.Config {
	return &config.Config{
		Linking: config.LinkingConfig{
			Links: []config.LinkBlock{
				{Name: "hub", SID: "HUB", Host: "hub.example", Port: 6900, SendPassword: "s", RecvPassword: "r", Autoconnect: true},
				{Name: "leaf", SID: "LEA", Host: "leaf.example", Port: 6900, SendPassword: "s", RecvPassword: "r", Autoconnect: false},
			},
		},
	}
}

func TestAutoconnectLinksFiltersToAutoconnectOnly(t *testing.T) {
	cfg := sampleConfig()
	out := autoconnectLinks(cfg)
	require.Len(t, out, 1)
	assert.Equal(t, "HUB", out[0].SID)
}

func TestKnownRBLProvidersAlwaysIncludesSpamhaus(t *testing.T) {
	cfg := &config.Config{}
	providers := knownRBLProviders(cfg)
	require.Contains(t, providers, "spamhaus")
	assert.Equal(t, "zen.spamhaus.org", providers["spamhaus"].DNSZone)
	assert.NotContains(t, providers, "stopforumspam")
}

func TestKnownRBLProvidersWiresHTTPProvidersWhenKeyed(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.RBL.APIKeys = map[string]string{"stopforumspam": "key123"}
	providers := knownRBLProviders(cfg)
	require.Contains(t, providers, "stopforumspam")
	assert.NotNil(t, providers["stopforumspam"].HTTPCheck)
}

func TestWebBearerTokenFallsBackToFirstBotToken(t *testing.T) {
	cfg := &config.Config{}
	assert.Equal(t, "", webBearerToken(cfg))
	cfg.Bots.BearerTokens = []string{"tok-a", "tok-b"}
	assert.Equal(t, "tok-a", webBearerToken(cfg))
}

func TestAdminSamplerReflectsLiveMatrixState(t *testing.T) {
	clk := clock.New("001", func() time.Time { return time.UnixMilli(1_000_000) })
	mtx := matrix.New(clk, time.Minute, 8, time.Hour)
	channels := handler.NewChannelManager(mtx, clk, nil)
	channels.GetOrCreate("#go")

	u := matrix.NewUser("001AAAAAA", "alice", "alice", "Alice", "host", "1.2.3.4", nil, clk.Tick())
	require.True(t, mtx.AddUser(u, nil))

	sampler := adminSampler{mtx: mtx, channels: channels}
	assert.Equal(t, 1, sampler.ClientCount())
	assert.Equal(t, 1, sampler.ChannelCount())
	assert.Equal(t, 0, sampler.PeerLinkCount())

	clients := sampler.ClientSummaries()
	require.Len(t, clients, 1)
	assert.Equal(t, "alice", clients[0].Nick)

	chans := sampler.ChannelSummaries()
	require.Len(t, chans, 1)
	assert.Equal(t, "#go", chans[0].Name)
}

var _ = sync6.LinkConfig{}
