package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/matrix"
)

// Enforcer is the enforce_timers task spec.md §4.10 describes: any UID
// still holding a registered-but-unidentified nickname past its grace
// period is renamed to Guest<5-digit> with a notice. Grounded on
// irc/peering.go's startGRPCServer "go func loop" shape for a
// long-running background task owned by a manager struct.
type Enforcer struct {
	mtx      *matrix.Matrix
	clk      *clock.Clock
	accounts *AccountStore
	localSID string
	grace    time.Duration

	mu      sync.Mutex
	pending map[string]time.Time // uid -> deadline once first seen unidentified
}

// NewEnforcer builds an enforcement task scoped to this server's own
// users (localSID); peers enforce their own users independently. grace
// is enforce_timers's configured duration.
func NewEnforcer(mtx *matrix.Matrix, clk *clock.Clock, accounts *AccountStore, localSID string, grace time.Duration) *Enforcer {
	return &Enforcer{
		mtx:      mtx,
		clk:      clk,
		accounts: accounts,
		localSID: localSID,
		grace:    grace,
		pending:  make(map[string]time.Time),
	}
}

// Run ticks every interval until ctx is canceled, examining every local
// user's nick against the registered directory.
func (e *Enforcer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Enforcer) sweep() {
	now := time.Now()
	seen := make(map[string]bool)

	for _, u := range e.mtx.UsersBySID(e.localSID) {
		nick := u.Nick()
		if !e.accounts.Exists(nick) {
			continue
		}
		if e.accountMatches(u, nick) {
			continue
		}
		seen[u.UID()] = true

		e.mu.Lock()
		deadline, tracked := e.pending[u.UID()]
		if !tracked {
			deadline = now.Add(e.grace)
			e.pending[u.UID()] = deadline
		}
		e.mu.Unlock()

		if now.Before(deadline) {
			continue
		}
		e.enforce(u)
	}

	e.mu.Lock()
	for uid := range e.pending {
		if !seen[uid] {
			delete(e.pending, uid)
		}
	}
	e.mu.Unlock()
}

func (e *Enforcer) accountMatches(u *matrix.User, nick string) bool {
	account := u.Account()
	return account != "" && normalizeAccount(account) == normalizeAccount(nick)
}

func (e *Enforcer) enforce(u *matrix.User) {
	guest := e.nextGuestNick()
	ts := e.clk.Tick()
	u.Send(fmt.Sprintf(":NickServ NOTICE %s :Your nickname is registered; you have been renamed to %s.", u.Nick(), guest))
	if !e.mtx.RenameUser(u.UID(), guest, ts, nil) {
		log.Printf("services: enforcement rename of %s to %s failed (nick collision)", u.UID(), guest)
		return
	}
	e.mu.Lock()
	delete(e.pending, u.UID())
	e.mu.Unlock()
}

// nextGuestNick picks an unused Guest<5-digit> nick, retrying on the
// rare collision.
func (e *Enforcer) nextGuestNick() string {
	for i := 0; i < 20; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(100000))
		if err != nil {
			continue
		}
		nick := fmt.Sprintf("Guest%05d", n.Int64())
		if _, ok := e.mtx.GetUserByNick(nick); !ok {
			return nick
		}
	}
	return fmt.Sprintf("Guest%05d", time.Now().UnixNano()%100000)
}
