package replicator

import (
	"fmt"

	"github.com/syncbridge-io/syncbridge/internal/engine"
)

// ActivityLevel is the public coarse state of a replicator.
type ActivityLevel int

const (
	// ActivityStopped means no session is running.
	ActivityStopped ActivityLevel = iota
	// ActivityOffline means the peer is unreachable and the session waits.
	ActivityOffline
	// ActivityConnecting means the session is establishing its connection.
	ActivityConnecting
	// ActivityIdle means a continuous session is caught up.
	ActivityIdle
	// ActivityBusy means documents are being transferred.
	ActivityBusy
)

// String returns the string representation of the activity level.
func (l ActivityLevel) String() string {
	switch l {
	case ActivityStopped:
		return "stopped"
	case ActivityOffline:
		return "offline"
	case ActivityConnecting:
		return "connecting"
	case ActivityIdle:
		return "idle"
	case ActivityBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Progress reports how far a session has come.
type Progress struct {
	// Complete is the fraction of known work finished, in [0, 1].
	Complete float64

	// DocumentCount is the number of documents replicated so far.
	DocumentCount uint64
}

// Status is the public status of a replicator: the last state the engine
// reported, or the synthesized result of a failed start.
type Status struct {
	Activity ActivityLevel
	Progress Progress
	Err      error
}

// Error is a replication error surfaced through Status.
type Error struct {
	Domain  string
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Domain, e.Code, e.Message)
}

// toPublicStatus translates an engine-native status into the public form.
// The progress fraction divides by max(total, 1) so an unknown or zero total
// reports zero progress instead of NaN.
func toPublicStatus(st engine.Status) Status {
	total := st.Progress.UnitsTotal
	if total < 1 {
		total = 1
	}
	return Status{
		Activity: toPublicActivity(st.Level),
		Progress: Progress{
			Complete:      float64(st.Progress.UnitsCompleted) / float64(total),
			DocumentCount: st.Progress.DocumentCount,
		},
		Err: toPublicError(st.Err),
	}
}

func toPublicActivity(l engine.ActivityLevel) ActivityLevel {
	switch l {
	case engine.Offline:
		return ActivityOffline
	case engine.Connecting:
		return ActivityConnecting
	case engine.Idle:
		return ActivityIdle
	case engine.Busy:
		return ActivityBusy
	default:
		return ActivityStopped
	}
}

// toPublicError maps an engine error to the public error type. A nil engine
// error maps to a nil error, not a typed nil.
func toPublicError(err *engine.Error) error {
	if err == nil {
		return nil
	}
	return &Error{Domain: err.Domain, Code: err.Code, Message: err.Message}
}
