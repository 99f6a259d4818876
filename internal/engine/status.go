package engine

import "fmt"

// ActivityLevel is the coarse state of a session as reported by the engine.
type ActivityLevel int

const (
	// Stopped is the terminal level; no further callbacks follow it.
	Stopped ActivityLevel = iota
	// Offline means the remote peer is unreachable and the session is waiting.
	Offline
	// Connecting means the session is establishing its transport connection.
	Connecting
	// Idle means a continuous session is caught up and waiting for changes.
	Idle
	// Busy means the session is actively transferring revisions.
	Busy
)

// String returns the string representation of the activity level.
func (l ActivityLevel) String() string {
	switch l {
	case Stopped:
		return "stopped"
	case Offline:
		return "offline"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Progress counts a session's replication work.
type Progress struct {
	// UnitsCompleted and UnitsTotal measure progress in engine-defined
	// units. UnitsTotal may be zero while the total is still unknown.
	UnitsCompleted uint64
	UnitsTotal     uint64

	// DocumentCount is the number of documents replicated so far.
	DocumentCount uint64
}

// Status is the engine-native status of a session.
type Status struct {
	Level    ActivityLevel
	Progress Progress
	Err      *Error
}

// Error is an engine-reported error with a stable domain and code.
type Error struct {
	Domain  string
	Code    int
	Message string
}

// Error domains reported by engines.
const (
	DomainTransport = "transport"
	DomainEngine    = "engine"
)

func (e *Error) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Domain, e.Code, e.Message)
}
