package security

import (
	"strings"
	"sync"
	"time"
)

// HeuristicScore is the supplemented "rapid reconnect / generic username /
// no client cert on a cert-preferring port" scoring pass recovered from
// the original implementation's heuristics module. It never blocks a
// connection: the listener records each connection's score, and
// BurstScale maps a score to a burst multiplier, but nothing in this
// module applies that multiplier to a RateLimiter's buckets.
type HeuristicScore struct {
	mu         sync.Mutex
	lastConnect map[string]time.Time
	reconnectWindow time.Duration
}

// NewHeuristicScore constructs a scorer. reconnectWindow is how recently
// a prior connection from the same key must have ended to count as a
// "rapid reconnect" (flagged score contribution).
func NewHeuristicScore(reconnectWindow time.Duration) *HeuristicScore {
	return &HeuristicScore{
		lastConnect:     make(map[string]time.Time),
		reconnectWindow: reconnectWindow,
	}
}

var genericUsernames = map[string]bool{
	"user": true, "guest": true, "test": true, "admin": true, "anonymous": true,
}

// Score computes a 0.0 (clean) to 1.0 (maximally suspicious) heuristic
// score for a new connection attempt.
func (h *HeuristicScore) Score(ip, username string, hasClientCert, certPreferred bool) float64 {
	var score float64

	h.mu.Lock()
	if last, ok := h.lastConnect[ip]; ok && time.Since(last) < h.reconnectWindow {
		score += 0.4
	}
	h.lastConnect[ip] = time.Now()
	h.mu.Unlock()

	if genericUsernames[strings.ToLower(username)] {
		score += 0.3
	}
	if certPreferred && !hasClientCert {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// BurstScale maps a heuristic score to a multiplier in (0, 1] applied to
// a rate limiter's configured burst size for that connection's buckets;
// a clean connection (score 0) gets its full configured burst.
func BurstScale(score float64) float64 {
	return 1.0 - 0.5*score
}
