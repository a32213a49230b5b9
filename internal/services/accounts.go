// Package services implements the embedded NickServ/ChanServ pseudo-
// clients spec.md §4.10 describes: in-process users addressable by
// PRIVMSG, answering account-registration commands through the same
// Matrix/channel-actor interfaces a real connection uses, so their side
// effects propagate exactly like any other local change.
//
// Grounded on this module's own matrix.Sender pattern (see
// internal/handler/peer.go's peerSender, the same narrow shape used
// here to give a non-socket "connection" a place to receive lines) —
// the teacher repo has no account-registration precedent of its own to
// generalize from, so the command surface below is built directly from
// spec.md §4.10 rather than adapted from an existing irc/*.go handler.
package services

import (
	"sync"
	"time"

	"github.com/presbrey/ircd/internal/modes"
	"golang.org/x/crypto/bcrypt"
)

// Account is one registered nickname's persisted record. Field names
// mirror the registered_nicks table spec.md §6 describes. AccountStore
// keeps the authoritative copy in memory and mirrors writes to
// internal/store through its Persister when one is set.
type Account struct {
	Nick         string
	PasswordHash []byte
	CertFP       string
	RegisteredAt time.Time
	LastSeen     time.Time
}

// Persister is the narrow surface AccountStore needs from
// internal/store to survive a restart, satisfied directly by
// (*store.Store)'s Upsert/Delete/TouchRegisteredNick method values — the
// same narrow-interface discipline chanactor.Router and
// matrix.ChannelHandle already use elsewhere in this module, so this
// package never imports internal/store.
type Persister interface {
	UpsertRegisteredNick(nick, passwordHash, email string, registeredAt, lastSeen time.Time) error
	DeleteRegisteredNick(nick string) error
	TouchRegisteredNick(nick string, at time.Time) error
}

// AccountStore is the registered-nickname directory. It satisfies
// handler.AccountStore (Verify/VerifyCertFP) without importing package
// handler, the same narrow-interface discipline chanactor.Router and
// matrix.ChannelHandle already use elsewhere in this module. In-memory
// state is always authoritative for reads; persister (when set) mirrors
// every write so the directory survives a restart via LoadAccounts.
type AccountStore struct {
	mu        sync.RWMutex
	accounts  map[string]*Account // keyed by normalized (lowercased) account name
	persister Persister
}

// NewAccountStore returns an empty in-memory account directory.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*Account)}
}

// SetPersister wires a persistence backend, called once by cmd/ircd
// after internal/store.Open succeeds. Left nil, the directory stays
// purely in-memory (useful for tests and focused packages).
func (s *AccountStore) SetPersister(p Persister) { s.persister = p }

// LoadAccount hydrates one in-memory record from a persisted row,
// called by cmd/ircd for every row internal/store.ListRegisteredNicks
// returns at startup. It bypasses Register's "already exists" and
// rehashing logic since the password is already hashed on disk.
func (s *AccountStore) LoadAccount(nick string, passwordHash []byte, certFP string, registeredAt, lastSeen time.Time) {
	key := normalizeAccount(nick)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[key] = &Account{
		Nick:         nick,
		PasswordHash: passwordHash,
		CertFP:       certFP,
		RegisteredAt: registeredAt,
		LastSeen:     lastSeen,
	}
}

// normalizeAccount keys the directory by the same RFC 1459 case
// mapping nicknames use, since every account today is named after the
// nick that registered it.
func normalizeAccount(name string) string { return modes.NormalizeNick(name) }

// Register hashes password and persists a new account, failing if one
// already exists under this name.
func (s *AccountStore) Register(nick, password string) error {
	key := normalizeAccount(nick)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[key]; ok {
		return ErrAlreadyRegistered
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	now := time.Now()
	s.accounts[key] = &Account{
		Nick:         nick,
		PasswordHash: hash,
		RegisteredAt: now,
		LastSeen:     now,
	}
	if s.persister != nil {
		if err := s.persister.UpsertRegisteredNick(key, string(hash), "", now, now); err != nil {
			return err
		}
	}
	return nil
}

// Verify reports whether password matches account's stored hash.
// Satisfies handler.AccountStore.
func (s *AccountStore) Verify(account, password string) bool {
	s.mu.RLock()
	acct, ok := s.accounts[normalizeAccount(account)]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) == nil
}

// VerifyCertFP reports whether certFP matches the fingerprint on file
// for account (recorded by SetCertFP).
// Satisfies handler.AccountStore.
func (s *AccountStore) VerifyCertFP(account, certFP string) bool {
	if certFP == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[normalizeAccount(account)]
	return ok && acct.CertFP != "" && acct.CertFP == certFP
}

// SetCertFP records certFP against account. Nothing in this module calls
// it, so an account's CertFP stays empty unless a caller sets it.
// certFP is intentionally not persisted: spec.md §6's registered_nicks
// schema carries no cert_fp column, so it stays an in-memory-only
// convenience that resets to empty across a restart.
func (s *AccountStore) SetCertFP(account, certFP string) {
	key := normalizeAccount(account)
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[key]; ok {
		acct.CertFP = certFP
	}
}

// Drop removes account's registration entirely.
func (s *AccountStore) Drop(account string) bool {
	key := normalizeAccount(account)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[key]; !ok {
		return false
	}
	delete(s.accounts, key)
	if s.persister != nil {
		s.persister.DeleteRegisteredNick(key)
	}
	return true
}

// Touch records that account was just used to complete a login,
// advancing the enforcement timer's reference point.
func (s *AccountStore) Touch(account string) {
	key := normalizeAccount(account)
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[key]; ok {
		acct.LastSeen = now
	} else {
		return
	}
	if s.persister != nil {
		s.persister.TouchRegisteredNick(key, now)
	}
}

// Exists reports whether account has a registration on file.
func (s *AccountStore) Exists(account string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[normalizeAccount(account)]
	return ok
}

// accountError is a sentinel error type so callers can render a stable
// NOTICE string without string-matching error text.
type accountError string

func (e accountError) Error() string { return string(e) }

// ErrAlreadyRegistered is returned by Register when the name is taken.
const ErrAlreadyRegistered = accountError("nick is already registered")
