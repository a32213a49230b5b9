package wire

import "errors"

// Parse errors. On the client path these disconnect with a "Bad request"
// ERROR; on the peer path they are logged and the line is dropped but the
// link stays open, per spec.md §4.1.
var (
	ErrMissingCommand = errors.New("wire: missing command")
	ErrInvalidTag     = errors.New("wire: invalid tag escape")
	ErrLineTooLong    = errors.New("wire: line exceeds configured limit")
	ErrArity          = errors.New("wire: command-specific arity violation")
)
