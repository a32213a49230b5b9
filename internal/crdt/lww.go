// Package crdt implements the conflict-free replicated data types the
// Matrix and channel actors use to converge state across the federation:
// last-writer-wins registers and add-wins observed-remove sets, both keyed
// by the hybrid logical clock in package clock.
package crdt

import "github.com/presbrey/ircd/internal/clock"

// LWW is a last-writer-wins register. The zero value is a valid empty
// register dated at the zero timestamp.
type LWW[T any] struct {
	Value T
	TS     clock.Timestamp
}

// NewLWW constructs a register with an initial value and timestamp.
func NewLWW[T any](value T, ts clock.Timestamp) LWW[T] {
	return LWW[T]{Value: value, TS: ts}
}

// Set overwrites the register if ts is newer than the current timestamp.
// It reports whether the write took effect.
func (r *LWW[T]) Set(value T, ts clock.Timestamp) bool {
	if ts.Compare(r.TS) <= 0 {
		return false
	}
	r.Value = value
	r.TS = ts
	return true
}

// Merge combines r with other, keeping whichever has the greater
// timestamp. Ties are broken by timestamp equality (server id is part of
// the timestamp, so true ties only occur merging a register with itself).
// Merge is commutative, associative, and idempotent.
func (r LWW[T]) Merge(other LWW[T]) LWW[T] {
	if other.TS.Compare(r.TS) > 0 {
		return other
	}
	return r
}
