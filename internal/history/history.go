package history

import (
	"context"
	"time"
)

// Event records one session status transition for external audit systems.
// The sessions table remains the system of record; sinks are append-only and
// best-effort.
type Event struct {
	SessionID  string    `json:"session_id"`
	Command    string    `json:"command"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for session history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
