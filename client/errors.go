package client

import "fmt"

// HandshakeError reports a session that never reached Ready. Stage names
// the handshake step that failed; Stderr carries recent server stderr when
// any was captured, since that is usually where the real reason is.
type HandshakeError struct {
	Stage  string
	Stderr string
	cause  error
}

func (e *HandshakeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("handshake failed during %s: %v (server stderr: %s)", e.Stage, e.cause, e.Stderr)
	}
	return fmt.Sprintf("handshake failed during %s: %v", e.Stage, e.cause)
}

func (e *HandshakeError) Unwrap() error {
	return e.cause
}

// CorrelationError reports a response whose id does not match the request
// in flight. The stream can no longer be trusted after this.
type CorrelationError struct {
	Got  string // id as it appeared on the wire
	Want int64
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("response id %s does not match request id %d", e.Got, e.Want)
}

// StateError reports an operation attempted in a state that does not
// allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: session is %s", e.Op, e.State)
}
