package peer

// State is the connection lifecycle of a peer.
type State int

const (
	StateDisconnected State = iota
	StateResolving
	StateConnecting
	StateConnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
