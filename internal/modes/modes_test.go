package modes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToLowerRFC1459(t *testing.T) {
	assert.Equal(t, "alice", ToLowerRFC1459("Alice"))
	assert.Equal(t, "a{}|^b", ToLowerRFC1459("A[]\\~B"))
}

func TestMatchMaskNoMetacharacterIsEquality(t *testing.T) {
	cases := []struct{ pattern, text string }{
		{"alice", "alice"},
		{"alice", "bob"},
		{"a.b+c", "a.b+c"},
		{"a.b+c", "axbyc"},
	}
	for _, c := range cases {
		want := c.pattern == c.text
		assert.Equal(t, want, MatchMask(c.pattern, c.text), "%q vs %q", c.pattern, c.text)
	}
}

func TestMatchMaskWildcards(t *testing.T) {
	assert.True(t, MatchMask("*!*@*.example.com", "nick!user@host.example.com"))
	assert.False(t, MatchMask("*!*@*.example.com", "nick!user@host.example.net"))
	assert.True(t, MatchMask("a?c", "abc"))
	assert.False(t, MatchMask("a?c", "abbc"))
}

func TestMatchMaskEscapesRegexMetacharacters(t *testing.T) {
	// A literal '.' in the pattern must not act as regex "any char".
	assert.False(t, MatchMask("10.0.0.1", "10X0X0X1"))
	assert.True(t, MatchMask("10.0.0.*", "10.0.0.99"))
}

func TestMatchHostmaskCaseInsensitive(t *testing.T) {
	assert.True(t, MatchHostmask("Alice!*@*", "alice!user@host"))
}
