package matrix

import (
	"sync"
	"time"

	"github.com/presbrey/ircd/internal/modes"
)

// WhowasRecord is one retained identity for the WHOWAS command.
type WhowasRecord struct {
	Snapshot Snapshot
	QuitAt   time.Time
}

// WhowasStore retains departed users' identities for a limited period,
// bounded by both a per-nick record count and a TTL swept by the
// lifecycle manager (spec.md §4 Lifecycle & Background, GLOSSARY WHOWAS).
type WhowasStore struct {
	mu       sync.Mutex
	byNick   map[string][]WhowasRecord
	perNick  int
	ttl      time.Duration
}

// NewWhowasStore constructs a store keeping up to perNick records per
// nickname, each valid for ttl before the lifecycle sweep removes it.
func NewWhowasStore(perNick int, ttl time.Duration) *WhowasStore {
	if perNick <= 0 {
		perNick = 1
	}
	return &WhowasStore{byNick: make(map[string][]WhowasRecord), perNick: perNick, ttl: ttl}
}

// Insert archives a departing user's snapshot, keyed by their
// case-folded nickname at the moment of departure.
func (w *WhowasStore) Insert(snap Snapshot, quitAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := modes.NormalizeNick(snap.Nick)
	records := append([]WhowasRecord{{Snapshot: snap, QuitAt: quitAt}}, w.byNick[key]...)
	if len(records) > w.perNick {
		records = records[:w.perNick]
	}
	w.byNick[key] = records
}

// Lookup returns the retained records for nick, most recent first.
func (w *WhowasStore) Lookup(nick string) []WhowasRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WhowasRecord(nil), w.byNick[modes.NormalizeNick(nick)]...)
}

// Prune removes every record older than ttl and returns how many were
// dropped.
func (w *WhowasStore) Prune(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, records := range w.byNick {
		kept := records[:0]
		for _, r := range records {
			if now.Sub(r.QuitAt) > w.ttl {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(w.byNick, key)
		} else {
			w.byNick[key] = kept
		}
	}
	return removed
}
