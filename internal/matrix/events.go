package matrix

// EventKind identifies the shape of a Matrix mutation event delivered to
// the observer (the sync manager in normal operation).
type EventKind int

const (
	EventUserAdded EventKind = iota
	EventUserRemoved
	EventNickChanged
	EventUserModesChanged
	EventAccountChanged
	EventAwayChanged
	EventUserKilled
)

// Event is the payload every Matrix mutation delivers to its observer.
// Source is nil when the change originated locally (and so must be
// broadcast to peers); it holds the originating peer's SID when the
// change arrived from a peer merge (and so must not be echoed back to
// that peer — split-horizon, spec.md §4.3/§4.9).
type Event struct {
	Kind    EventKind
	UID     string
	OldNick string
	NewNick string
	Account string
	Reason  string
	Source  *string

	// Killer is the wire prefix an EventUserKilled carries: an oper's
	// own hostmask for a locally-issued KILL, or a server SID/name when
	// the kill resolves a TS6 nick collision rather than an operator
	// action.
	Killer string
}

// LocalSource is nil, spelled out for readability at call sites.
var LocalSource *string = nil

// PeerSource returns a Source pointer tagging an event as having
// originated from the named peer SID.
func PeerSource(sid string) *string { return &sid }
