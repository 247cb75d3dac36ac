// Package session owns the lifecycle of the control channel to one remote
// instance: connection establishment with bounded retry, degraded-mode
// detection and recovery, and the single hard-restart escalation.
package session

// State is the per-run connection state machine.
type State string

const (
	// StateDisconnected is the initial state before any connect attempt.
	StateDisconnected State = "disconnected"

	// StateConnecting is entered while a connect attempt is in flight.
	StateConnecting State = "connecting"

	// StateReady means the channel answers and commands flow normally.
	StateReady State = "ready"

	// StateDegraded is entered after a bounded number of consecutive
	// command failures while the channel itself still answers. The only
	// legal exits are back to Ready (successful probe) or to Failed
	// (restart budget exhausted).
	StateDegraded State = "degraded"

	// StateFailed is terminal for the run.
	StateFailed State = "failed"
)

// IsTerminal returns true when no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateFailed
}

// canTransition encodes the legal edges of the state machine.
func canTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateReady || to == StateFailed || to == StateConnecting
	case StateReady:
		return to == StateDegraded || to == StateConnecting || to == StateFailed
	case StateDegraded:
		return to == StateReady || to == StateFailed
	case StateFailed:
		return false
	}
	return false
}
