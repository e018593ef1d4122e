package connection

import "github.com/yourusername/quizbattle/internal/metrics"

// State is the lifecycle state of the battle connection
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

var allStates = []State{StateIdle, StateConnecting, StateConnected, StateDisconnecting, StateFailed}

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func recordState(s State) {
	names := make([]string, len(allStates))
	for i, st := range allStates {
		names[i] = st.String()
	}
	metrics.SetConnectionState(s.String(), names)
}
