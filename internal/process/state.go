package process

import "time"

// State represents the current state of a helper process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not running
	StateStarting State = "starting" // Being started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Stop requested
	StateError    State = "error"    // Failed to start or exited on its own
)

// Info contains information about a helper process.
type Info struct {
	Name      string
	State     State
	PID       int
	StartedAt time.Time
	LastError error
}
