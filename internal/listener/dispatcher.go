package listener

// Dispatcher is the narrow interface the listener needs from the handler
// registry (package handler). Declaring it here rather than importing
// handler keeps listener a leaf package: handler depends on listener's
// Connection type, not the other way around.
type Dispatcher interface {
	// Dispatch handles one complete line read from conn, already stripped
	// of its trailing CRLF. It runs on conn's own read-loop goroutine, so
	// implementations must not block on anything that waits for this same
	// connection (e.g. synchronously waiting on conn's own outbound queue
	// to drain).
	Dispatch(conn *Connection, line string)

	// Disconnected is called exactly once when conn's read loop ends, for
	// any reason (EOF, protocol error, forced close, oversized line).
	Disconnected(conn *Connection, reason string)
}
