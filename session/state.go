package session

import "time"

// State is a session's position in the connection lifecycle.
//
// The machine is linear on the way up (Disconnected, Connecting,
// CapabilityNegotiation, Ready) and collapses back to Disconnected from
// any state on failure, carrying the typed reason on the state stream.
// Disconnecting appears only during an orderly teardown of an established
// session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateCapabilityNegotiation
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateCapabilityNegotiation:
		return "capability-negotiation"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// StateChange is one transition on the state stream.
type StateChange struct {
	From State
	To   State
	// Reason is the typed failure that forced the transition, nil for an
	// ordinary progression.
	Reason error
	At     time.Time
}
