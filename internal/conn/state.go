// Package conn implements the per-socket Connection state machine (C2):
// TLS/handshake bring-up, the read/write goroutine pair, and the
// FIFO-ordered inflight request queue. Grounded on the
// starting/running/stopping lifecycle shape used throughout the teacher
// (modules/backendscheduler.BackendScheduler), adapted here into an
// explicit state machine instead of dskit/services since a Connection's
// states (Connecting/Handshaking/Ready/Draining/Closed) don't map onto
// the three-state service lifecycle (see DESIGN.md).
package conn

import "fmt"

// State is one node of the Connection state machine (spec.md §4.2).
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
