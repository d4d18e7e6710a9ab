package client

// State tracks where a session is in its lifecycle.
type State int

const (
	// StateUnstarted means New has been called but not Start.
	StateUnstarted State = iota
	// StateHandshaking means the server is spawned and the initialize
	// exchange is in flight.
	StateHandshaking
	// StateReady means the handshake completed and the session accepts
	// operations.
	StateReady
	// StateCalling means a request is in flight.
	StateCalling
	// StateErrored means a transport or protocol fault broke the session.
	// No further operations are possible; only Close and Kill.
	StateErrored
	// StateClosed means Close was called.
	StateClosed
)

// String returns the state name for logs and error messages.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateCalling:
		return "calling"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
