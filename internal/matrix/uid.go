package matrix

import (
	"fmt"
	"sync"
)

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// UIDGenerator produces the 9-character UIDs (3-char SID + 6-char base-36
// sequence) spec.md §3 defines. It is a simple per-server monotonic
// counter rendered in base 36, which is globally unique because every
// counter is scoped under a distinct SID.
type UIDGenerator struct {
	mu      sync.Mutex
	sid     string
	counter uint64
}

// NewUIDGenerator returns a generator scoped to the given 3-character SID.
func NewUIDGenerator(sid string) (*UIDGenerator, error) {
	if len(sid) != 3 {
		return nil, fmt.Errorf("matrix: sid %q must be exactly 3 characters", sid)
	}
	return &UIDGenerator{sid: sid}, nil
}

// Next returns the next UID for this server.
func (g *UIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return g.sid + encodeBase36(g.counter, 6)
}

func encodeBase36(n uint64, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = base36[n%36]
		n /= 36
	}
	return string(buf)
}

// SIDOf extracts the 3-character server id prefix from a 9-character UID.
func SIDOf(uid string) string {
	if len(uid) < 3 {
		return ""
	}
	return uid[:3]
}
