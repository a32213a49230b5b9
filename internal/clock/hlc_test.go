package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampCompare(t *testing.T) {
	a := Timestamp{Wall: 100, Counter: 0, Server: "AAA"}
	b := Timestamp{Wall: 200, Counter: 0, Server: "AAA"}
	assert.True(t, a.Less(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 0, a.Compare(a))

	c := Timestamp{Wall: 100, Counter: 1, Server: "AAA"}
	assert.True(t, a.Less(c))

	d := Timestamp{Wall: 100, Counter: 0, Server: "BBB"}
	assert.True(t, a.Less(d))
}

func TestClockTickMonotonic(t *testing.T) {
	fixed := time.UnixMilli(1_000_000)
	clk := New("AAA", func() time.Time { return fixed })

	t1 := clk.Tick()
	t2 := clk.Tick()
	t3 := clk.Tick()

	require.True(t, t1.Less(t2))
	require.True(t, t2.Less(t3))
	assert.Equal(t, t1.Wall, t2.Wall)
	assert.Equal(t, uint32(0), t1.Counter)
	assert.Equal(t, uint32(1), t2.Counter)
}

func TestClockTickAdvancesWithWallTime(t *testing.T) {
	wall := int64(1_000_000)
	clk := New("AAA", func() time.Time { return time.UnixMilli(wall) })

	first := clk.Tick()
	wall += 10
	second := clk.Tick()

	assert.True(t, first.Less(second))
	assert.Equal(t, uint32(0), second.Counter)
}

func TestClockMergeAdvancesPastRemote(t *testing.T) {
	fixed := time.UnixMilli(1_000_000)
	clk := New("AAA", func() time.Time { return fixed })

	remote := Timestamp{Wall: 1_000_500, Counter: 3, Server: "BBB"}
	merged := clk.Merge(remote)

	assert.True(t, merged.After(remote))
	assert.Equal(t, "AAA", merged.Server)

	// A subsequent local tick must still be strictly greater.
	next := clk.Tick()
	assert.True(t, next.After(merged))
}

func TestClockMergeIsCausallyConsistent(t *testing.T) {
	fixed := time.UnixMilli(1_000_000)
	a := New("AAA", func() time.Time { return fixed })
	b := New("BBB", func() time.Time { return fixed })

	e1 := a.Tick()
	e2 := b.Merge(e1)
	require.True(t, e2.After(e1))

	e3 := a.Merge(e2)
	assert.True(t, e3.After(e2))
	assert.True(t, e3.After(e1))
}
