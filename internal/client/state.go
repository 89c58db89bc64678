package client

// State is the lifecycle of the connection owned by a Transport.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateAuthenticated
	StateLost
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// transitions lists the allowed moves. No path reaches Authenticated without
// passing through Authenticating.
var transitions = map[State][]State{
	StateDisconnected:   {StateConnecting},
	StateConnecting:     {StateAuthenticating, StateDisconnected},
	StateAuthenticating: {StateAuthenticated, StateLost},
	StateAuthenticated:  {StateLost, StateDisconnected},
	StateLost:           {StateConnecting, StateDisconnected},
}

func (s State) canTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
