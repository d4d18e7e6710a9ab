package client

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnstarted, "unstarted"},
		{StateHandshaking, "handshaking"},
		{StateReady, "ready"},
		{StateCalling, "calling"},
		{StateErrored, "errored"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
