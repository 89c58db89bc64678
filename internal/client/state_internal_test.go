package client

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateAuthenticating, "authenticating"},
		{StateAuthenticated, "authenticated"},
		{StateLost, "lost"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestState_CanTransition(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateDisconnected, StateConnecting}:      true,
		{StateLost, StateConnecting}:              true,
		{StateConnecting, StateAuthenticating}:    true,
		{StateConnecting, StateDisconnected}:      true,
		{StateAuthenticating, StateAuthenticated}: true,
		{StateAuthenticating, StateLost}:          true,
		{StateAuthenticated, StateLost}:           true,
		{StateAuthenticated, StateDisconnected}:   true,
		{StateLost, StateDisconnected}:            true,
	}
	states := []State{StateDisconnected, StateConnecting, StateAuthenticating, StateAuthenticated, StateLost}

	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]State{from, to}]
			if got := from.canTransition(to); got != want {
				t.Errorf("%s -> %s: canTransition = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestState_NoPathSkipsAuthenticating(t *testing.T) {
	for from, nexts := range transitions {
		for _, to := range nexts {
			if to == StateAuthenticated && from != StateAuthenticating {
				t.Errorf("%s -> %s bypasses authentication", from, to)
			}
		}
	}
}
