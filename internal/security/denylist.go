package security

import (
	"net/netip"
	"sync"
	"time"
)

// DenyList is the ns-scale bitmap-style table checked at accept time
// before any other work, per spec.md §4.2 step 1. IPv4 addresses are
// keyed directly (or by /24 when added as a prefix); IPv6 addresses are
// keyed by /64. It is backed by a plain map rather than a literal Roaring
// bitmap — the pack carries no roaring-bitmap dependency, so this is the
// stdlib-only exception recorded in DESIGN.md — but it exposes the same
// "checked before any other work" contract.
type DenyList struct {
	mu      sync.RWMutex
	entries map[string]bool
}

// NewDenyList returns an empty deny list.
func NewDenyList() *DenyList { return &DenyList{entries: make(map[string]bool)} }

// Deny adds key (an address or a normalized prefix string) to the list.
func (d *DenyList) Deny(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = true
}

// Allow removes key from the list.
func (d *DenyList) Allow(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}

// IsDenied checks addr against both its exact form and its /24 (v4) or
// /64 (v6) prefix form.
func (d *DenyList) IsDenied(addr netip.Addr) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.entries[addr.String()] {
		return true
	}
	var bits int
	if addr.Is4() || addr.Is4In6() {
		bits = 24
	} else {
		bits = 64
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return false
	}
	return d.entries[prefix.Masked().String()]
}

// BanRecord is a longer-lived ban-cache entry: a reason and expiry.
type BanRecord struct {
	Reason string
	Expiry time.Time // zero means "never expires"
}

// BanCache holds exact-address K/D/Z/G-line style bans with expiry,
// pruned periodically by the lifecycle manager.
type BanCache struct {
	mu      sync.RWMutex
	records map[string]BanRecord
}

// NewBanCache returns an empty ban cache.
func NewBanCache() *BanCache { return &BanCache{records: make(map[string]BanRecord)} }

// Add bans key with the given reason and expiry (zero = permanent).
func (b *BanCache) Add(key string, rec BanRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = rec
}

// Remove lifts the ban on key.
func (b *BanCache) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
}

// Check returns the ban record for key, if any live (non-expired) one
// exists.
func (b *BanCache) Check(key string) (BanRecord, bool) {
	b.mu.RLock()
	rec, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return BanRecord{}, false
	}
	if !rec.Expiry.IsZero() && time.Now().After(rec.Expiry) {
		b.Remove(key)
		return BanRecord{}, false
	}
	return rec, true
}

// Entries returns a snapshot copy of every live (non-expired) record,
// keyed by ban key. Used by hostmask/realname-pattern bans (KLINE,
// GLINE, RLINE, SHUN), where the lookup key isn't known in advance and
// every entry must be tested against the connecting user instead.
func (b *BanCache) Entries() map[string]BanRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := time.Now()
	out := make(map[string]BanRecord, len(b.records))
	for k, rec := range b.records {
		if !rec.Expiry.IsZero() && now.After(rec.Expiry) {
			continue
		}
		out[k] = rec
	}
	return out
}

// Prune removes every expired record and returns how many were removed.
func (b *BanCache) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, rec := range b.records {
		if !rec.Expiry.IsZero() && now.After(rec.Expiry) {
			delete(b.records, k)
			n++
		}
	}
	return n
}
