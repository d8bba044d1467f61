package connection

// State is the lifecycle state of a remote session.
//
//	Disconnected → Connecting → Connected
//	Connected → Disconnected (transport lost)
//	Disconnected → Recovering → Connected | Disconnected | Failed
//	any → Failed (authentication error or exhausted attempt budget)
//
// Failed is terminal.
type State uint8

const (
	// StateDisconnected indicates no transport handle is held.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates a live, usable transport.
	StateConnected

	// StateRecovering indicates the session is polling for the device to
	// come back after an expected link drop.
	StateRecovering

	// StateFailed is terminal: the session will not be used again.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateRecovering:
		return "RECOVERING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFailed
}
