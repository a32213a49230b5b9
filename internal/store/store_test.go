package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ircd.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenWithDriverDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explicit.db")
	s, err := OpenWithDriver("sqlite", path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertRegisteredNick("alice", "hash", "", time.Now(), time.Now()))
}

func TestOpenWithDriverRejectsUnknownDriver(t *testing.T) {
	_, err := OpenWithDriver("mongo", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database driver")
}

func TestRegisteredNickRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.UpsertRegisteredNick("alice", "hash1", "alice@example.com", now, now))

	rec, ok, err := s.LoadRegisteredNick("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hash1", rec.PasswordHash)

	_, ok, err = s.LoadRegisteredNick("bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.TouchRegisteredNick("alice", now.Add(time.Hour)))
	rec, _, _ = s.LoadRegisteredNick("alice")
	assert.Equal(t, now.Add(time.Hour).Unix(), rec.LastSeen)

	require.NoError(t, s.DeleteRegisteredNick("alice"))
	_, ok, _ = s.LoadRegisteredNick("alice")
	assert.False(t, ok)
}

func TestChatHistoryOrderingAndWindowing(t *testing.T) {
	s := newTestStore(t)

	base := int64(1000)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.AppendMessageHistory(
			"msg-"+string(rune('a'+i)), "#chan", "alice", "alice",
			[]byte("hello"), base+i,
		))
	}

	latest, err := s.ChatHistoryLatest("#chan", 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.True(t, latest[0].Nanotime < latest[1].Nanotime)
	assert.Equal(t, base+4, latest[2].Nanotime)

	before, err := s.ChatHistoryBefore("#chan", base+3, 10)
	require.NoError(t, err)
	require.Len(t, before, 3)
	assert.Equal(t, base+2, before[2].Nanotime)

	after, err := s.ChatHistoryAfter("#chan", base+2, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, base+3, after[0].Nanotime)
}

func TestChatHistoryBetweenAndAround(t *testing.T) {
	s := newTestStore(t)

	base := int64(1000)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.AppendMessageHistory(
			"msg-"+string(rune('a'+i)), "#chan", "alice", "alice",
			[]byte("hello"), base+i,
		))
	}

	between, err := s.ChatHistoryBetween("#chan", base, base+4, 10)
	require.NoError(t, err)
	require.Len(t, between, 3)
	assert.Equal(t, base+1, between[0].Nanotime)
	assert.Equal(t, base+3, between[2].Nanotime)

	around, err := s.ChatHistoryAround("#chan", base+2, 4)
	require.NoError(t, err)
	require.Len(t, around, 4)
	assert.Equal(t, base, around[0].Nanotime)
	assert.Equal(t, base+3, around[3].Nanotime)
}

func TestListHistoryTargetsCoversChannelsAndDMs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendMessageHistory("m1", "#chan", "alice", "alice", []byte("hi"), 10))
	require.NoError(t, s.AppendPrivateMessageHistory("m2", "bob", "alice", "alice", []byte("hi"), 20))

	targets, err := s.ListHistoryTargets("alice", 0, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"#chan", "bob"}, targets)

	targets, err = s.ListHistoryTargets("alice", 15, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, targets)
}

func TestPrivateChatHistoryMatchesEitherDirection(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendPrivateMessageHistory("m1", "bob", "alice", "alice", []byte("hi"), 1))
	require.NoError(t, s.AppendPrivateMessageHistory("m2", "alice", "bob", "bob", []byte("hey"), 2))

	recs, err := s.PrivateChatHistoryLatest("alice", "bob", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m1", recs[0].MsgID)
	assert.Equal(t, "m2", recs[1].MsgID)
}

func TestPruneMessageHistoryRemovesOldRows(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendMessageHistory("old", "#chan", "alice", "alice", nil, 1))

	// Force created_at into the past so the prune cutoff catches it.
	require.NoError(t, s.db.Model(&MessageHistoryEntry{}).Where("msgid = ?", "old").
		Update("created_at", time.Now().Add(-48*time.Hour).Unix()).Error)

	require.NoError(t, s.AppendMessageHistory("new", "#chan", "alice", "alice", nil, 2))

	n, err := s.PruneMessageHistory(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestChannelStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveChannelState("#chan", []byte(`{"name":"#chan"}`)))

	blob, ok, err := s.LoadChannelState("#chan")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"name":"#chan"}`, string(blob))

	require.NoError(t, s.DeleteChannelState("#chan"))
	_, ok, _ = s.LoadChannelState("#chan")
	assert.False(t, ok)
}
