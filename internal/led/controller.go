// Package led drives a board status LED from camera activity.
package led

// State is what the LED shows.
type State int

const (
	// Off turns the LED off.
	Off State = iota
	// Idle is a heartbeat: the server is up and no one is watching.
	Idle
	// Streaming is solid on while the camera is open.
	Streaming
	// Fault blinks after capture failed, until the next stream starts.
	Fault
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Controller abstracts the LED hardware.
type Controller interface {
	Set(state State) error
	// Restore hands the LED back to whatever drove it before.
	Restore() error
}
