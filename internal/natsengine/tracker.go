package natsengine

import (
	"sync"

	"github.com/syncbridge-io/syncbridge/internal/engine"
)

// tracker holds a session's native status and delivers updates through the
// registered callback. Once a terminal status has been reported, every later
// update is dropped, so each session delivers at most one stopped status.
// Safe for concurrent use by the push and pull workers.
type tracker struct {
	notify engine.StatusFunc

	mu       sync.Mutex
	self     engine.Session
	status   engine.Status
	terminal bool
}

func newTracker(notify engine.StatusFunc) *tracker {
	return &tracker{
		notify: notify,
		status: engine.Status{Level: engine.Connecting},
	}
}

// bind sets the session handle passed to callbacks. Must be called before
// the session's goroutines start.
func (t *tracker) bind(s engine.Session) {
	t.mu.Lock()
	t.self = s
	t.mu.Unlock()
}

// Status returns the current native status.
func (t *tracker) Status() engine.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// update applies fn to the status under the lock, then delivers the result
// with the lock released. Updates after the terminal status are dropped.
func (t *tracker) update(fn func(st *engine.Status)) {
	t.mu.Lock()
	if t.terminal {
		t.mu.Unlock()
		return
	}
	fn(&t.status)
	if t.status.Level == engine.Stopped {
		t.terminal = true
	}
	st := t.status
	self := t.self
	t.mu.Unlock()

	if t.notify != nil {
		t.notify(self, st)
	}
}

// level reports a new activity level, keeping accumulated progress.
func (t *tracker) level(l engine.ActivityLevel, err *engine.Error) {
	t.update(func(st *engine.Status) {
		st.Level = l
		st.Err = err
	})
}

// progress adds completed work at the current level.
func (t *tracker) progress(units, docs uint64) {
	t.update(func(st *engine.Status) {
		st.Progress.UnitsCompleted += units
		st.Progress.DocumentCount += docs
		if st.Progress.UnitsTotal < st.Progress.UnitsCompleted {
			st.Progress.UnitsTotal = st.Progress.UnitsCompleted
		}
	})
}

// addTotal raises the known total work units.
func (t *tracker) addTotal(units uint64) {
	t.update(func(st *engine.Status) {
		st.Progress.UnitsTotal += units
	})
}
