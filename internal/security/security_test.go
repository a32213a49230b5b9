package security

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(Limits{
		MessagesPerSecond: 1, MessageBurst: 3,
		JoinsPerSecond: 1, JoinBurst: 2,
		CTCPPerSecond: 1, CTCPBurst: 1,
		ConnPerSecond: 1, ConnBurst: 1,
		MaxEntries: 100,
	}, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.AllowMessage("uid1"), "message %d should be allowed within burst", i)
	}
	assert.False(t, rl.AllowMessage("uid1"), "4th message should exceed burst")
}

func TestRateLimiterExemptBypasses(t *testing.T) {
	rl := NewRateLimiter(Limits{MessagesPerSecond: 0, MessageBurst: 0, MaxEntries: 10}, []string{"1.2.3.4"})
	assert.True(t, rl.AllowMessage("1.2.3.4"))
}

func TestRateLimiterEviction(t *testing.T) {
	rl := NewRateLimiter(Limits{MessagesPerSecond: 10, MessageBurst: 10, MaxEntries: 5}, nil)
	for i := 0; i < 20; i++ {
		rl.AllowMessage(string(rune('a' + i%20)))
	}
	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	assert.LessOrEqual(t, n, 5)
}

func TestNormalizeIPKey(t *testing.T) {
	v4 := netip.MustParseAddr("192.168.1.1")
	assert.Equal(t, "192.168.1.1", NormalizeIPKey(v4))

	v6 := netip.MustParseAddr("2001:db8::1")
	key := NormalizeIPKey(v6)
	assert.Contains(t, key, "2001:db8::")
}

func TestDenyListExactAndPrefix(t *testing.T) {
	d := NewDenyList()
	d.Deny("10.0.0.0/24")

	addr := netip.MustParseAddr("10.0.0.55")
	assert.True(t, d.IsDenied(addr))

	other := netip.MustParseAddr("10.0.1.55")
	assert.False(t, d.IsDenied(other))
}

func TestBanCacheExpiry(t *testing.T) {
	b := NewBanCache()
	b.Add("1.2.3.4", BanRecord{Reason: "test", Expiry: time.Now().Add(-time.Second)})

	_, ok := b.Check("1.2.3.4")
	assert.False(t, ok, "expired ban should not be reported as live")
}

func TestMatchBanExtended(t *testing.T) {
	u := UserContext{
		Nick: "alice", User: "a", Host: "host.example.com",
		Account: "alice", RealName: "Alice Example", ServerName: "irc.example.com",
		Channels: []string{"#test"}, CertFP: "deadbeef", SASLMechanism: "PLAIN",
	}

	assert.True(t, MatchBan("$a:alice", u))
	assert.False(t, MatchBan("$a:bob", u))
	assert.True(t, MatchBan("$r:Alice*", u))
	assert.True(t, MatchBan("$c:#test", u))
	assert.True(t, MatchBan("$x:deadbeef", u))
	assert.True(t, MatchBan("$z:PLAIN", u))
	assert.True(t, MatchBan("*!*@host.example.com", u))

	unregistered := UserContext{Nick: "bob", User: "b", Host: "h"}
	assert.True(t, MatchBan("$U", unregistered))
	assert.False(t, MatchBan("$U", u))
}

func TestCloakerDeterministicAndDistinct(t *testing.T) {
	c := NewCloaker("secret-key")
	a := c.Cloak("host1.example.com")
	b := c.Cloak("host1.example.com")
	require.Equal(t, a, b, "cloak must be deterministic for the same input")

	other := c.Cloak("host2.example.com")
	assert.NotEqual(t, a, other)
}

func TestHeuristicScoreRapidReconnect(t *testing.T) {
	h := NewHeuristicScore(time.Minute)
	s1 := h.Score("1.2.3.4", "clean_user", true, false)
	s2 := h.Score("1.2.3.4", "clean_user", true, false)
	assert.Less(t, s1, s2, "second connection within the window should score higher")
}
