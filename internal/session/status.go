package session

// Status is the lifecycle status of a session.
//
// Transitions: PENDING -> RUNNING (Start), RUNNING <-> PAUSED (Pause/Resume),
// RUNNING -> COMPLETED (observed natural exit), any non-terminal -> EXITED
// (Terminate), any non-terminal -> FAILED (internal failure). COMPLETED,
// EXITED and FAILED are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusExited    Status = "EXITED"
	StatusFailed    Status = "FAILED"

	// StatusUnknown is the read-path sentinel for unrecognized session ids.
	// It is never stored and never a transition target.
	StatusUnknown Status = "UNKNOWN"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no outgoing transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExited, StatusFailed:
		return true
	default:
		return false
	}
}

// active reports whether the session counts toward the running gauge.
func (s Status) active() bool {
	return s == StatusRunning || s == StatusPaused
}
