package crdt

import (
	"testing"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(wall int64, counter uint32, server string) clock.Timestamp {
	return clock.Timestamp{Wall: wall, Counter: counter, Server: server}
}

func TestLWWMergeKeepsGreaterTimestamp(t *testing.T) {
	a := NewLWW("a-value", ts(100, 0, "AAA"))
	b := NewLWW("b-value", ts(200, 0, "BBB"))

	merged := a.Merge(b)
	assert.Equal(t, "b-value", merged.Value)

	// Commutative.
	merged2 := b.Merge(a)
	assert.Equal(t, merged, merged2)

	// Idempotent.
	assert.Equal(t, merged, merged.Merge(merged))
}

func TestLWWMergeAssociative(t *testing.T) {
	a := NewLWW(1, ts(100, 0, "AAA"))
	b := NewLWW(2, ts(150, 0, "BBB"))
	c := NewLWW(3, ts(120, 0, "CCC"))

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	assert.Equal(t, left, right)
}

func TestAWSetAddWinsOverConcurrentRemove(t *testing.T) {
	s := NewAWSet[string]()
	addTS := ts(100, 0, "AAA")
	s.Add("alice", addTS)
	require.True(t, s.Contains("alice"))

	// A remove with an earlier timestamp than the add does not remove it
	// (only a remove at or after the add timestamp counts).
	s.Remove("alice", ts(50, 0, "BBB"))
	assert.True(t, s.Contains("alice"))

	s.Remove("alice", ts(150, 0, "BBB"))
	assert.False(t, s.Contains("alice"))
}

func TestAWSetMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewAWSet[string]()
	a.Add("x", ts(100, 0, "AAA"))

	b := NewAWSet[string]()
	b.Remove("x", ts(50, 0, "BBB"))
	b.Add("y", ts(110, 0, "BBB"))

	ab := a.Clone().Merge(b)
	ba := b.Clone().Merge(a)
	assert.ElementsMatch(t, ab.Elements(), ba.Elements())

	// merge(A, A) == A
	aa := a.Clone().Merge(a)
	assert.ElementsMatch(t, a.Elements(), aa.Elements())
}

func TestMembershipJoinPartAndPrivilegeMerge(t *testing.T) {
	m := NewMembership()
	m.Join("1AAAAAAAA", Privilege{Op: true}, 1000, ts(100, 0, "AAA"))
	require.True(t, m.IsMember("1AAAAAAAA"))
	assert.True(t, m.GetPrivilege("1AAAAAAAA").Op)

	other := NewMembership()
	other.Join("1AAAAAAAA", Privilege{Voice: true}, 900, ts(200, 0, "BBB"))

	m.Merge(other)
	assert.True(t, m.IsMember("1AAAAAAAA"))
	// Later timestamp wins the privilege register.
	assert.True(t, m.GetPrivilege("1AAAAAAAA").Voice)
	assert.False(t, m.GetPrivilege("1AAAAAAAA").Op)
	// Join time merges by minimum.
	assert.EqualValues(t, 900, m.info["1AAAAAAAA"].JoinTime)

	m.Part("1AAAAAAAA", ts(300, 0, "AAA"))
	assert.False(t, m.IsMember("1AAAAAAAA"))
}

func TestModeSetMergePerModeIndependence(t *testing.T) {
	a := ModeSet{Moderated: NewLWW(true, ts(100, 0, "AAA"))}
	b := ModeSet{NoExternal: NewLWW(true, ts(50, 0, "BBB"))}

	merged := a.Merge(b)
	assert.True(t, merged.Moderated.Value)
	assert.True(t, merged.NoExternal.Value)
}
