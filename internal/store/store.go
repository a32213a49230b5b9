// Package store implements the persisted-state layout spec.md §6 names:
// registered nicknames, channel-message and private-message history (the
// CHATHISTORY backing store, spec.md §4.7), and channel-state snapshots
// for warm restarts. Backed by gorm.io/gorm, the teacher's only direct
// database dependency (presbrey-pkg carries no persistence layer of its
// own to generalize from — NickServ/ChanServ registration in the teacher
// is in-memory only — so this package is built directly against spec.md
// §6's table layout using the library the teacher's go.mod already
// commits to). A single embedded SQLite file is the default, matching
// the daemon's "each server persists its own registration/history state"
// model, but the teacher's go.mod also carries GORM's MySQL and Postgres
// dialects as alternate backends for operators who want a shared
// database across a multi-process deployment; OpenWithDriver wires both.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RegisteredNick is the registered_nicks table.
type RegisteredNick struct {
	Nickname     string `gorm:"primaryKey;column:nickname"`
	PasswordHash string `gorm:"column:password_hash"`
	Email        string `gorm:"column:email"`
	RegisteredAt int64  `gorm:"column:registered_at"`
	LastSeen     int64  `gorm:"column:last_seen"`
}

func (RegisteredNick) TableName() string { return "registered_nicks" }

// MessageHistoryEntry is the message_history table: channel/status
// message history keyed by target.
type MessageHistoryEntry struct {
	MsgID     string `gorm:"primaryKey;column:msgid"`
	Target    string `gorm:"column:target;index:idx_message_history_target"`
	Sender    string `gorm:"column:sender"`
	Envelope  []byte `gorm:"column:envelope"`
	Nanotime  int64  `gorm:"column:nanotime;index:idx_message_history_target"`
	Account   string `gorm:"column:account"`
	CreatedAt int64  `gorm:"column:created_at"`
}

func (MessageHistoryEntry) TableName() string { return "message_history" }

// PrivateMessageHistoryEntry is the private_message_history table: the
// same column shape with "recipient" in place of "target", spec.md §6.
type PrivateMessageHistoryEntry struct {
	MsgID     string `gorm:"primaryKey;column:msgid"`
	Recipient string `gorm:"column:recipient;index:idx_pm_history_recipient"`
	Sender    string `gorm:"column:sender"`
	Envelope  []byte `gorm:"column:envelope"`
	Nanotime  int64  `gorm:"column:nanotime;index:idx_pm_history_recipient"`
	Account   string `gorm:"column:account"`
	CreatedAt int64  `gorm:"column:created_at"`
}

func (PrivateMessageHistoryEntry) TableName() string { return "private_message_history" }

// ChannelStateSnapshot is the channel_state table: a serialized
// chanactor.Snapshot blob per channel, for warm restart of channel CRDT
// state.
type ChannelStateSnapshot struct {
	Name       string `gorm:"primaryKey;column:name"`
	Serialized []byte `gorm:"column:serialized"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (ChannelStateSnapshot) TableName() string { return "channel_state" }

// Store wraps a GORM/SQLite connection over the four tables above.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// migrates every table this package owns. Equivalent to
// OpenWithDriver("sqlite", path).
func Open(path string) (*Store, error) {
	return OpenWithDriver("sqlite", path)
}

// OpenWithDriver opens a database connection using the named GORM
// dialect ("sqlite", "mysql", or "postgres") and migrates every table
// this package owns. dsn is the dialect's native connection string: a
// filesystem path for sqlite, or a driver-specific DSN for mysql/
// postgres (e.g. "user:pass@tcp(host:3306)/dbname" or
// "host=... user=... dbname=..."). An unrecognized driver name is a
// configuration error, not a silent fallback to sqlite.
func OpenWithDriver(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unknown database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s database: %w", driver, err)
	}
	if err := db.AutoMigrate(&RegisteredNick{}, &MessageHistoryEntry{}, &PrivateMessageHistoryEntry{}, &ChannelStateSnapshot{}); err != nil {
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertRegisteredNick persists a NickServ registration, overwriting any
// existing row for the same (case-folded by the caller) nickname.
func (s *Store) UpsertRegisteredNick(nick, passwordHash, email string, registeredAt, lastSeen time.Time) error {
	rec := RegisteredNick{
		Nickname:     nick,
		PasswordHash: passwordHash,
		Email:        email,
		RegisteredAt: registeredAt.Unix(),
		LastSeen:     lastSeen.Unix(),
	}
	return s.db.Save(&rec).Error
}

// LoadRegisteredNick returns the persisted record for nick, if any.
func (s *Store) LoadRegisteredNick(nick string) (*RegisteredNick, bool, error) {
	var rec RegisteredNick
	err := s.db.First(&rec, "nickname = ?", nick).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// ListRegisteredNicks returns every persisted registration, used to
// hydrate services.AccountStore at startup.
func (s *Store) ListRegisteredNicks() ([]RegisteredNick, error) {
	var recs []RegisteredNick
	err := s.db.Find(&recs).Error
	return recs, err
}

// DeleteRegisteredNick removes nick's registration (NickServ DROP).
func (s *Store) DeleteRegisteredNick(nick string) error {
	return s.db.Delete(&RegisteredNick{}, "nickname = ?", nick).Error
}

// TouchRegisteredNick advances last_seen without rewriting the rest of
// the row, used on every successful IDENTIFY.
func (s *Store) TouchRegisteredNick(nick string, at time.Time) error {
	return s.db.Model(&RegisteredNick{}).Where("nickname = ?", nick).Update("last_seen", at.Unix()).Error
}

// AppendMessageHistory records one delivered channel/status message for
// later CHATHISTORY replay.
func (s *Store) AppendMessageHistory(msgID, target, sender, account string, envelope []byte, nanotime int64) error {
	return s.db.Create(&MessageHistoryEntry{
		MsgID:     msgID,
		Target:    target,
		Sender:    sender,
		Envelope:  envelope,
		Nanotime:  nanotime,
		Account:   account,
		CreatedAt: time.Now().Unix(),
	}).Error
}

// ChatHistoryLatest returns the most recent limit messages for target,
// oldest first, satisfying CHATHISTORY LATEST.
func (s *Store) ChatHistoryLatest(target string, limit int) ([]MessageHistoryEntry, error) {
	var recs []MessageHistoryEntry
	err := s.db.Where("target = ?", target).Order("nanotime desc").Limit(limit).Find(&recs).Error
	reverse(recs)
	return recs, err
}

// ChatHistoryBefore returns up to limit messages for target strictly
// before the given nanotime, oldest first, satisfying CHATHISTORY BEFORE.
func (s *Store) ChatHistoryBefore(target string, beforeNanotime int64, limit int) ([]MessageHistoryEntry, error) {
	var recs []MessageHistoryEntry
	err := s.db.Where("target = ? AND nanotime < ?", target, beforeNanotime).
		Order("nanotime desc").Limit(limit).Find(&recs).Error
	reverse(recs)
	return recs, err
}

// ChatHistoryAfter returns up to limit messages for target strictly
// after the given nanotime, oldest first, satisfying CHATHISTORY AFTER.
func (s *Store) ChatHistoryAfter(target string, afterNanotime int64, limit int) ([]MessageHistoryEntry, error) {
	var recs []MessageHistoryEntry
	err := s.db.Where("target = ? AND nanotime > ?", target, afterNanotime).
		Order("nanotime asc").Limit(limit).Find(&recs).Error
	return recs, err
}

// ChatHistoryBetween returns up to limit messages for target strictly
// between afterNanotime and beforeNanotime, oldest first, satisfying
// CHATHISTORY BETWEEN.
func (s *Store) ChatHistoryBetween(target string, afterNanotime, beforeNanotime int64, limit int) ([]MessageHistoryEntry, error) {
	var recs []MessageHistoryEntry
	err := s.db.Where("target = ? AND nanotime > ? AND nanotime < ?", target, afterNanotime, beforeNanotime).
		Order("nanotime asc").Limit(limit).Find(&recs).Error
	return recs, err
}

// ChatHistoryAround returns up to limit messages for target centered on
// aroundNanotime: half (rounded down) from strictly before, the rest from
// at-or-after, satisfying CHATHISTORY AROUND.
func (s *Store) ChatHistoryAround(target string, aroundNanotime int64, limit int) ([]MessageHistoryEntry, error) {
	half := limit / 2
	before, err := s.ChatHistoryBefore(target, aroundNanotime, half)
	if err != nil {
		return nil, err
	}
	var after []MessageHistoryEntry
	err = s.db.Where("target = ? AND nanotime >= ?", target, aroundNanotime).
		Order("nanotime asc").Limit(limit - len(before)).Find(&after).Error
	if err != nil {
		return nil, err
	}
	return append(before, after...), nil
}

// ListHistoryTargets returns the distinct channel/DM targets nick has
// history in (as sender or channel-message participant) with activity at
// or after since, most-recently-active first, satisfying CHATHISTORY
// TARGETS. limit bounds the number of distinct targets returned.
func (s *Store) ListHistoryTargets(nick string, since int64, limit int) ([]string, error) {
	var targets []string
	err := s.db.Model(&MessageHistoryEntry{}).
		Where("sender = ? AND nanotime >= ?", nick, since).
		Group("target").Order("MAX(nanotime) desc").Limit(limit).
		Pluck("target", &targets).Error
	if err != nil {
		return nil, err
	}

	var dmTargets []string
	err = s.db.Model(&PrivateMessageHistoryEntry{}).
		Where("(sender = ? OR recipient = ?) AND nanotime >= ?", nick, nick, since).
		Group("recipient").Order("MAX(nanotime) desc").Limit(limit).
		Pluck("recipient", &dmTargets).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(targets)+len(dmTargets))
	out := make([]string, 0, len(targets)+len(dmTargets))
	for _, t := range append(targets, dmTargets...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func reverse(recs []MessageHistoryEntry) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

// AppendPrivateMessageHistory mirrors AppendMessageHistory for DM
// history, only persisted when history.store_private_messages is set.
func (s *Store) AppendPrivateMessageHistory(msgID, recipient, sender, account string, envelope []byte, nanotime int64) error {
	return s.db.Create(&PrivateMessageHistoryEntry{
		MsgID:     msgID,
		Recipient: recipient,
		Sender:    sender,
		Envelope:  envelope,
		Nanotime:  nanotime,
		Account:   account,
		CreatedAt: time.Now().Unix(),
	}).Error
}

// PrivateChatHistoryLatest returns the most recent limit DMs between the
// two participants (in either direction), oldest first.
func (s *Store) PrivateChatHistoryLatest(a, b string, limit int) ([]PrivateMessageHistoryEntry, error) {
	var recs []PrivateMessageHistoryEntry
	err := s.db.Where(
		"(recipient = ? AND sender = ?) OR (recipient = ? AND sender = ?)", a, b, b, a,
	).Order("nanotime desc").Limit(limit).Find(&recs).Error
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, err
}

// PruneMessageHistory deletes every channel/DM history row older than
// retention (spec.md §6's history.retention_days), returning the total
// rows removed across both tables.
func (s *Store) PruneMessageHistory(olderThan time.Time) (int64, error) {
	cutoff := olderThan.Unix()
	res := s.db.Where("created_at < ?", cutoff).Delete(&MessageHistoryEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	total := res.RowsAffected
	res = s.db.Where("created_at < ?", cutoff).Delete(&PrivateMessageHistoryEntry{})
	if res.Error != nil {
		return total, res.Error
	}
	return total + res.RowsAffected, nil
}

// SaveChannelState persists a channel's serialized snapshot blob
// (chanactor.Snapshot, gob- or json-encoded by the caller — this package
// stays agnostic of the encoding to avoid importing internal/chanactor
// for a single blob column).
func (s *Store) SaveChannelState(name string, serialized []byte) error {
	return s.db.Save(&ChannelStateSnapshot{Name: name, Serialized: serialized, UpdatedAt: time.Now().Unix()}).Error
}

// LoadChannelState returns the persisted snapshot blob for name, if any.
func (s *Store) LoadChannelState(name string) ([]byte, bool, error) {
	var rec ChannelStateSnapshot
	err := s.db.First(&rec, "name = ?", name).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Serialized, true, nil
}

// DeleteChannelState removes a destroyed channel's persisted snapshot.
func (s *Store) DeleteChannelState(name string) error {
	return s.db.Delete(&ChannelStateSnapshot{}, "name = ?", name).Error
}
