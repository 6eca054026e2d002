package session

import "classboard/pkg/types"

// State is the connection lifecycle of one session. disconnected is
// re-enterable: there is no terminal state.
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// JoinResult is the outcome of a join handshake. On success TeacherName is
// set for students and Roster for teachers; on rejection Reason carries
// the server's error string.
type JoinResult struct {
	OK          bool
	TeacherName string
	Roster      []types.RosterEntry
	Reason      string
}
