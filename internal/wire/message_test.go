package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	m, err := Parse("NICK alice")
	require.NoError(t, err)
	assert.Equal(t, "NICK", m.Command)
	assert.Equal(t, []string{"alice"}, m.Params)
}

func TestParsePrefixAndTrailing(t *testing.T) {
	m, err := Parse(":nick!user@host PRIVMSG #chan :hello there world")
	require.NoError(t, err)
	assert.Equal(t, "nick!user@host", m.Prefix)
	assert.Equal(t, "PRIVMSG", m.Command)
	assert.Equal(t, []string{"#chan", "hello there world"}, m.Params)
}

func TestParseTagsRoundTrip(t *testing.T) {
	line := "@id=123;account=alice :nick!u@h PRIVMSG #chan :hi"
	m, err := Parse(line)
	require.NoError(t, err)
	require.NotNil(t, m.Tags)
	v, ok := m.Tags.Get("id")
	assert.True(t, ok)
	assert.Equal(t, "123", v)

	assert.Equal(t, line, m.String())
}

func TestTagEscaping(t *testing.T) {
	tags, err := ParseTags(`a=b\:c\sd\\e`)
	require.NoError(t, err)
	v, ok := tags.Get("a")
	require.True(t, ok)
	assert.Equal(t, `b;c d\e`, v)

	// Round trip through String().
	reEscaped := tags.String()
	reparsed, err := ParseTags(reEscaped)
	require.NoError(t, err)
	v2, _ := reparsed.Get("a")
	assert.Equal(t, v, v2)
}

func TestEmptyTagValueDistinctFromAbsent(t *testing.T) {
	tags, err := ParseTags("flag;other=value")
	require.NoError(t, err)
	v, ok := tags.Get("flag")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = tags.Get("missing")
	assert.False(t, ok)
}

func TestRoundTripProperty(t *testing.T) {
	cases := []string{
		"NICK alice",
		"USER a 0 * :A Name",
		":server.example 001 alice :Welcome",
		"@label=ab1 WHOIS bob",
		"MODE #chan +k secretkey",
		"PRIVMSG #chan ::colon-leading-trailing",
	}
	for _, line := range cases {
		m, err := Parse(line)
		require.NoError(t, err, line)
		assert.Equal(t, line, m.String(), "round-trip for %q", line)
	}
}

func TestSerializeInsertsDefensiveColon(t *testing.T) {
	m := New("PRIVMSG", "#chan", "")
	assert.Equal(t, "PRIVMSG #chan :", m.String())

	m2 := New("PRIVMSG", "#chan", "has space")
	assert.Equal(t, "PRIVMSG #chan :has space", m2.String())
}

func TestMissingCommandErrors(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrMissingCommand)

	_, err = Parse(":onlyprefix")
	require.Error(t, err)
}

func TestParseHostmask(t *testing.T) {
	nick, user, host := ParseHostmask("alice!a@example.com")
	assert.Equal(t, "alice", nick)
	assert.Equal(t, "a", user)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, "alice!a@example.com", FormatHostmask(nick, user, host))
}

func TestMessageRefParam(t *testing.T) {
	ref, err := ParseRef("@id=1 :nick!u@h PRIVMSG #chan :hello there")
	require.NoError(t, err)
	assert.Equal(t, "PRIVMSG", ref.Command())

	p0, ok := ref.Param(0)
	require.True(t, ok)
	assert.Equal(t, "#chan", p0)

	p1, ok := ref.Param(1)
	require.True(t, ok)
	assert.Equal(t, "hello there", p1)

	_, ok = ref.Param(2)
	assert.False(t, ok)
}

func TestFormatModeLineCollapsesRuns(t *testing.T) {
	out := FormatModeLine([]ModeChange{
		{Add: true, Char: 'o', Arg: "alice"},
		{Add: true, Char: 'v', Arg: "bob"},
		{Add: false, Char: 'm'},
	})
	assert.Equal(t, "+ov-m alice bob", out)
}

func TestSplitCapListStaysWithinBudget(t *testing.T) {
	caps := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		caps = append(caps, "some-capability-name-that-is-long")
	}
	lines := SplitCapList(caps, len(":server.example CAP alice LS "))
	for _, l := range lines {
		assert.LessOrEqual(t, len(l)+2, MaxLineBytes)
	}
}
