package matrix

import (
	"testing"
	"time"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent   []string
	closed bool
	full   bool
}

func (f *fakeSender) TrySend(line string) bool {
	if f.full {
		return false
	}
	f.sent = append(f.sent, line)
	return true
}
func (f *fakeSender) Closed() bool { return f.closed }

func newTestMatrix() *Matrix {
	clk := clock.New("AAA", func() time.Time { return time.UnixMilli(1_000_000) })
	return New(clk, time.Minute, 5, time.Hour)
}

func TestAddUserAndNickInjectivity(t *testing.T) {
	m := newTestMatrix()
	ts := m.Clock().Tick()

	u1 := NewUser("AAAAAAAAA", "alice", "a", "Alice", "host", "1.2.3.4", &fakeSender{}, ts)
	require.True(t, m.AddUser(u1, nil))

	u2 := NewUser("AAAAAAAAB", "alice", "b", "Bob", "host2", "1.2.3.5", &fakeSender{}, ts)
	assert.False(t, m.AddUser(u2, nil), "second user with same nick must be rejected")

	found, ok := m.GetUserByNick("Alice")
	require.True(t, ok)
	assert.Equal(t, "AAAAAAAAA", found.UID())
}

func TestRenameUserEnforcesInjectivity(t *testing.T) {
	m := newTestMatrix()
	ts := m.Clock().Tick()
	u1 := NewUser("AAAAAAAAA", "alice", "a", "Alice", "h", "1.1.1.1", &fakeSender{}, ts)
	u2 := NewUser("AAAAAAAAB", "bob", "b", "Bob", "h", "1.1.1.2", &fakeSender{}, ts)
	require.True(t, m.AddUser(u1, nil))
	require.True(t, m.AddUser(u2, nil))

	ok := m.RenameUser("AAAAAAAAB", "alice", m.Clock().Tick(), nil)
	assert.False(t, ok, "renaming to an in-use nick must fail")

	ok = m.RenameUser("AAAAAAAAB", "charlie", m.Clock().Tick(), nil)
	assert.True(t, ok)
	_, found := m.GetUserByNick("bob")
	assert.False(t, found)
	got, found := m.GetUserByNick("charlie")
	assert.True(t, found)
	assert.Equal(t, "AAAAAAAAB", got.UID())
}

func TestRemoveUserArchivesToWhowas(t *testing.T) {
	m := newTestMatrix()
	ts := m.Clock().Tick()
	u := NewUser("AAAAAAAAA", "alice", "a", "Alice", "h", "1.1.1.1", &fakeSender{}, ts)
	require.True(t, m.AddUser(u, nil))

	m.RemoveUser("AAAAAAAAA", "Client Quit", nil)

	_, ok := m.GetUser("AAAAAAAAA")
	assert.False(t, ok)

	records := m.Whowas().Lookup("alice")
	require.Len(t, records, 1)
	assert.Equal(t, "AAAAAAAAA", records[0].Snapshot.UID)
}

func TestUsersBySIDForNetsplit(t *testing.T) {
	m := newTestMatrix()
	ts := m.Clock().Tick()
	local := NewUser("AAAAAAAAA", "alice", "a", "Alice", "h", "1.1.1.1", &fakeSender{}, ts)
	remote := NewUser("BBBAAAAAA", "bob", "b", "Bob", "h", "2.2.2.2", &fakeSender{}, ts)
	require.True(t, m.AddUser(local, nil))
	require.True(t, m.AddUser(remote, PeerSource("BBB")))

	users := m.UsersBySID("BBB")
	require.Len(t, users, 1)
	assert.Equal(t, "BBBAAAAAA", users[0].UID())
}

func TestObserverReceivesSourceTagging(t *testing.T) {
	m := newTestMatrix()
	var gotLocal, gotRemote bool
	m.Observer.Register(func(e Event) error {
		if e.Kind != EventUserAdded {
			return nil
		}
		if e.Source == nil {
			gotLocal = true
		} else {
			gotRemote = true
		}
		return nil
	})

	ts := m.Clock().Tick()
	m.AddUser(NewUser("AAAAAAAAA", "alice", "a", "A", "h", "1.1.1.1", &fakeSender{}, ts), nil)
	m.AddUser(NewUser("BBBAAAAAA", "bob", "b", "B", "h", "2.2.2.2", &fakeSender{}, ts), PeerSource("BBB"))

	assert.True(t, gotLocal)
	assert.True(t, gotRemote)
}

type fakeChannel struct {
	name    string
	members int
}

func (f fakeChannel) Name() string     { return f.name }
func (f fakeChannel) MemberCount() int { return f.members }

func TestChannelTombstoneGrace(t *testing.T) {
	m := newTestMatrix()
	m.RegisterChannel(fakeChannel{name: "#test", members: 1})
	_, ok := m.GetChannel("#test")
	require.True(t, ok)

	deletedAt := m.Clock().Tick()
	m.UnregisterChannel("#test", deletedAt)
	_, ok = m.GetChannel("#test")
	assert.False(t, ok)

	assert.True(t, m.IsTombstoned("#test", deletedAt))
}

func TestUIDGeneratorProducesDistinctUIDs(t *testing.T) {
	gen, err := NewUIDGenerator("AAA")
	require.NoError(t, err)
	a := gen.Next()
	b := gen.Next()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 9)
	assert.Equal(t, "AAA", SIDOf(a))
}
