// Package security implements the anti-abuse primitives shared by the
// connection, channel, and sync layers: token-bucket rate limiting, IP
// deny lists, ban caches, extended-ban matching, blocklist lookups, and
// host cloaking (spec.md §4.6).
package security

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits configures the token buckets a RateLimiter hands out.
type Limits struct {
	MessagesPerSecond float64
	MessageBurst      int
	JoinsPerSecond    float64
	JoinBurst         int
	CTCPPerSecond     float64
	CTCPBurst         int
	ConnPerSecond     float64
	ConnBurst         int
	// MaxEntries bounds the limiter table; once exceeded, the least
	// recently used 20% are evicted (spec.md §4.6).
	MaxEntries int
}

type bucketSet struct {
	messages *rate.Limiter
	joins    *rate.Limiter
	ctcp     *rate.Limiter
	lastUsed time.Time
}

// RateLimiter hands out per-key (UID or IP) token buckets for message,
// join, and CTCP rates, plus a separate per-IP connection-rate bucket.
// Exempt keys bypass every limiter.
type RateLimiter struct {
	mu      sync.Mutex
	limits  Limits
	buckets map[string]*bucketSet
	connBuckets map[string]*rate.Limiter
	exempt  map[string]bool
}

// NewRateLimiter constructs a limiter from the given configuration.
func NewRateLimiter(limits Limits, exemptIPs []string) *RateLimiter {
	exempt := make(map[string]bool, len(exemptIPs))
	for _, ip := range exemptIPs {
		exempt[ip] = true
	}
	return &RateLimiter{
		limits:      limits,
		buckets:     make(map[string]*bucketSet),
		connBuckets: make(map[string]*rate.Limiter),
		exempt:      exempt,
	}
}

func (rl *RateLimiter) getOrCreate(key string) *bucketSet {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucketSet{
			messages: rate.NewLimiter(rate.Limit(rl.limits.MessagesPerSecond), rl.limits.MessageBurst),
			joins:    rate.NewLimiter(rate.Limit(rl.limits.JoinsPerSecond), rl.limits.JoinBurst),
			ctcp:     rate.NewLimiter(rate.Limit(rl.limits.CTCPPerSecond), rl.limits.CTCPBurst),
		}
		rl.buckets[key] = b
		rl.evictIfNeeded()
	}
	b.lastUsed = time.Now()
	return b
}

// evictIfNeeded drops the least-recently-used entries once the table
// exceeds MaxEntries, keeping the most-recently-used 80%. Caller holds mu.
func (rl *RateLimiter) evictIfNeeded() {
	if rl.limits.MaxEntries <= 0 || len(rl.buckets) <= rl.limits.MaxEntries {
		return
	}
	type kv struct {
		key  string
		used time.Time
	}
	all := make([]kv, 0, len(rl.buckets))
	for k, b := range rl.buckets {
		all = append(all, kv{k, b.lastUsed})
	}
	keep := int(float64(rl.limits.MaxEntries) * 0.8)
	if keep < 1 {
		keep = 1
	}
	// Partial selection sort down to `keep` most-recent entries; table
	// sizes here are bounded by MaxEntries so this stays cheap.
	for i := 0; i < len(all)-keep; i++ {
		oldest := i
		for j := i + 1; j < len(all); j++ {
			if all[j].used.Before(all[oldest].used) {
				oldest = j
			}
		}
		all[i], all[oldest] = all[oldest], all[i]
	}
	for _, e := range all[:len(all)-keep] {
		delete(rl.buckets, e.key)
	}
}

// AllowMessage reports whether key (a UID) may send another message now.
func (rl *RateLimiter) AllowMessage(key string) bool {
	if rl.exempt[key] {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.getOrCreate(key).messages.Allow()
}

// AllowJoin reports whether key may JOIN another channel now.
func (rl *RateLimiter) AllowJoin(key string) bool {
	if rl.exempt[key] {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.getOrCreate(key).joins.Allow()
}

// AllowCTCP reports whether key may send another CTCP now.
func (rl *RateLimiter) AllowCTCP(key string) bool {
	if rl.exempt[key] {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.getOrCreate(key).ctcp.Allow()
}

// AllowConnection reports whether a new connection from ip may proceed.
func (rl *RateLimiter) AllowConnection(ip string) bool {
	if rl.exempt[ip] {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.connBuckets[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rl.limits.ConnPerSecond), rl.limits.ConnBurst)
		rl.connBuckets[ip] = lim
	}
	return lim.Allow()
}

// Forget drops key's buckets, e.g. on disconnect, to bound memory use.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// NormalizeIPKey returns the canonical string used to key per-IP state:
// the full address for IPv4, the /64 prefix for IPv6, per spec.md §4.6.
func NormalizeIPKey(addr netip.Addr) string {
	if addr.Is4() || addr.Is4In6() {
		return addr.Unmap().String()
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return addr.String()
	}
	return prefix.String()
}
