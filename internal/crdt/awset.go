package crdt

import "github.com/presbrey/ircd/internal/clock"

// AWSet is an add-wins observed-remove set: an element is present iff it
// has an add-timestamp strictly greater than every remove-timestamp
// recorded for it. Adds and removes both accumulate (this is a grow-only
// log of timestamps per element, not a single LWW flag) so that merge
// remains commutative, associative, and idempotent regardless of delivery
// order.
type AWSet[T comparable] struct {
	adds    map[T][]clock.Timestamp
	removes map[T][]clock.Timestamp
}

// NewAWSet returns an empty add-wins set.
func NewAWSet[T comparable]() *AWSet[T] {
	return &AWSet[T]{
		adds:    make(map[T][]clock.Timestamp),
		removes: make(map[T][]clock.Timestamp),
	}
}

// Add records an add-timestamp for elem.
func (s *AWSet[T]) Add(elem T, ts clock.Timestamp) {
	s.adds[elem] = append(s.adds[elem], ts)
}

// Remove records a remove-timestamp for elem.
func (s *AWSet[T]) Remove(elem T, ts clock.Timestamp) {
	s.removes[elem] = append(s.removes[elem], ts)
}

// maxTS returns the greatest timestamp in ts, or the zero Timestamp if
// empty.
func maxTS(ts []clock.Timestamp) (clock.Timestamp, bool) {
	if len(ts) == 0 {
		return clock.Timestamp{}, false
	}
	best := ts[0]
	for _, t := range ts[1:] {
		if t.Compare(best) > 0 {
			best = t
		}
	}
	return best, true
}

// Contains reports whether elem is currently present: it has an add
// timestamp strictly greater than every remove timestamp on record.
func (s *AWSet[T]) Contains(elem T) bool {
	addTS, hasAdd := maxTS(s.adds[elem])
	if !hasAdd {
		return false
	}
	for _, r := range s.removes[elem] {
		if addTS.Compare(r) <= 0 {
			return false
		}
	}
	return true
}

// Elements returns the elements currently present, in no particular order.
func (s *AWSet[T]) Elements() []T {
	out := make([]T, 0, len(s.adds))
	for elem := range s.adds {
		if s.Contains(elem) {
			out = append(out, elem)
		}
	}
	return out
}

// Merge unions the add and remove timestamp logs of s and other in place,
// and also returns the receiver for chaining.
func (s *AWSet[T]) Merge(other *AWSet[T]) *AWSet[T] {
	for elem, ts := range other.adds {
		s.adds[elem] = unionTS(s.adds[elem], ts)
	}
	for elem, ts := range other.removes {
		s.removes[elem] = unionTS(s.removes[elem], ts)
	}
	return s
}

// Clone returns a deep copy.
func (s *AWSet[T]) Clone() *AWSet[T] {
	out := NewAWSet[T]()
	for k, v := range s.adds {
		out.adds[k] = append([]clock.Timestamp(nil), v...)
	}
	for k, v := range s.removes {
		out.removes[k] = append([]clock.Timestamp(nil), v...)
	}
	return out
}

func unionTS(a, b []clock.Timestamp) []clock.Timestamp {
	seen := make(map[clock.Timestamp]bool, len(a)+len(b))
	out := make([]clock.Timestamp, 0, len(a)+len(b))
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
