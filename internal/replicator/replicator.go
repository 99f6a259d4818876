// Package replicator provides the replication lifecycle controller: a
// thread-safe façade that owns at most one engine session at a time,
// translates engine status into the public representation, applies
// per-document filters, and keeps itself alive across asynchronous engine
// callbacks.
package replicator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/syncbridge-io/syncbridge/internal/document"
	"github.com/syncbridge-io/syncbridge/internal/engine"
)

// transportOnce gates process-wide transport initialization. All replicator
// instances share it: the first Start in the process initializes the
// transport, every later Start skips it.
var transportOnce sync.Once

// ChangeListener receives status updates. At most one listener is registered
// per replicator; it is always invoked without the replicator's internal
// lock held, so it may call back into the replicator freely.
type ChangeListener func(status Status)

// Replicator controls the lifecycle of one replication relationship. All
// methods are safe for concurrent use from any goroutine.
type Replicator struct {
	cfg    Config
	engine engine.Engine
	logger *slog.Logger

	mu              sync.Mutex
	session         engine.Session
	status          engine.Status
	listener        ChangeListener
	stopping        bool
	resetCheckpoint bool

	// retained counts the self-references held for active sessions: one is
	// taken on a successful Start and released on the matching terminal
	// status, keeping the replicator's callbacks valid while the engine may
	// still deliver them.
	retained int
}

// New creates a replicator for a validated configuration. An invalid
// configuration yields an error and no replicator; it never reaches the
// engine.
func New(cfg Config, eng engine.Engine) (*Replicator, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Replicator{
		cfg:    cfg,
		engine: eng,
		logger: slog.Default().With("component", "replicator", "db", cfg.Database.Name()),
		status: engine.Status{Level: engine.Stopped},
	}, nil
}

// Config returns the configuration the replicator was created with.
func (r *Replicator) Config() Config {
	return r.cfg
}

// Start creates and starts an engine session. It is idempotent: if a session
// is already running, Start does nothing. A failure to create the session is
// not returned; it is cached and delivered once as a stopped status carrying
// the error, leaving the replicator eligible for another Start.
func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.session != nil {
		r.mu.Unlock()
		return
	}

	transportOnce.Do(r.engine.InitTransport)

	params := r.sessionParams()

	opts := make(map[string]any, len(r.cfg.Options)+2)
	for k, v := range r.cfg.Options {
		opts[k] = v
	}
	if r.cfg.Authenticator != nil {
		r.cfg.Authenticator.ApplyOptions(opts)
	}
	if r.resetCheckpoint {
		opts[engine.OptionResetCheckpoint] = true
		r.resetCheckpoint = false
	}

	var sess engine.Session
	encoded, err := engine.EncodeOptions(opts)
	if err == nil {
		params.Options = encoded
		sess, err = r.engine.CreateSession(ctx, params)
	}
	if err != nil {
		st := engine.Status{Level: engine.Stopped, Err: nativeError(err)}
		r.status = st
		r.mu.Unlock()

		r.notify(st)
		return
	}

	r.session = sess
	r.status = sess.Status()
	r.stopping = false
	r.retained++
	r.mu.Unlock()

	r.logger.Info("replication started",
		"direction", r.cfg.Direction.String(),
		"continuous", r.cfg.Continuous,
	)
}

// Stop asks the engine to stop the running session. It does not wait for
// termination: the engine confirms through a status callback with a stopped
// level. Stop is idempotent; with no session running, or with a stop already
// in flight, it does nothing.
func (r *Replicator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.stopping {
		return
	}
	r.stopping = true
	r.session.Stop()
}

// ResetCheckpoint arranges for the next Start to discard the engine's
// persisted checkpoint, forcing a full re-sync. While a session is running
// this is a no-op: the reset is a start-time parameter only.
func (r *Replicator) ResetCheckpoint() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		r.resetCheckpoint = true
	}
}

// Status returns the most recently delivered status. It never queries the
// engine; the cached value reflects the last callback, or the synthesized
// error of a failed Start.
func (r *Replicator) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return toPublicStatus(r.status)
}

// SetListener registers the status listener, replacing any previous one.
// Passing nil removes the listener. Missed statuses are not redelivered.
func (r *Replicator) SetListener(listener ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = listener
}

// sessionParams builds the engine parameters from the configuration and the
// replicator's callbacks. Filter callbacks are only wired when a filter is
// configured, so the engine skips the callout entirely otherwise.
// Called with the lock held.
func (r *Replicator) sessionParams() engine.Params {
	mode := engine.ModeOneShot
	if r.cfg.Continuous {
		mode = engine.ModeContinuous
	}

	params := engine.Params{
		Local:           r.cfg.Database,
		RemoteURL:       r.cfg.Endpoint.RemoteURL(),
		RemoteDatabase:  r.cfg.Endpoint.RemoteDatabase(),
		OtherLocal:      r.cfg.Endpoint.Local(),
		OnStatusChanged: r.statusChanged,
	}
	if r.cfg.Direction.PushEnabled() {
		params.Push = mode
	}
	if r.cfg.Direction.PullEnabled() {
		params.Pull = mode
	}
	if r.cfg.PushFilter != nil {
		params.PushFilter = func(rev document.Revision) bool {
			return r.filter(rev, true)
		}
	}
	if r.cfg.PullFilter != nil {
		params.PullFilter = func(rev document.Revision) bool {
			return r.filter(rev, false)
		}
	}
	return params
}

// statusChanged is invoked by the engine from its own goroutines. Updates
// for a session the replicator no longer owns are discarded: they are stale
// callbacks from a superseded session, expected during restarts.
//
// The listener runs between the two locked sections so user code never
// executes while the lock is held.
func (r *Replicator) statusChanged(s engine.Session, st engine.Status) {
	r.mu.Lock()
	if s != r.session {
		r.mu.Unlock()
		return
	}
	r.status = st
	r.mu.Unlock()

	r.logger.Debug("status changed", "level", st.Level.String(), "docs", st.Progress.DocumentCount)
	r.notify(st)

	if st.Level == engine.Stopped {
		// Start is a no-op while r.session is set, so s is still the
		// current session here.
		r.mu.Lock()
		r.session = nil
		r.stopping = false
		r.retained--
		r.mu.Unlock()
	}
}

// notify delivers a status to the registered listener, or logs a dropped
// error when no listener exists.
func (r *Replicator) notify(st engine.Status) {
	r.mu.Lock()
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener(toPublicStatus(st))
		return
	}
	if st.Err != nil {
		r.logger.Warn("no listener to receive replication error",
			"domain", st.Err.Domain,
			"code", st.Err.Code,
			"error", st.Err.Message,
		)
	}
}

// filter adapts an engine revision callback to the configured user filter.
// It reads only the immutable configuration and never touches the lock, so
// the engine may call it at any rate without deadlocking the replicator.
func (r *Replicator) filter(rev document.Revision, pushing bool) bool {
	f := r.cfg.PullFilter
	if pushing {
		f = r.cfg.PushFilter
	}
	doc := document.FromRevision(rev)
	return f(doc, rev.Flags.Deleted())
}

// nativeError coerces a session-creation error into the engine error form
// carried by a synthesized status.
func nativeError(err error) *engine.Error {
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return engErr
	}
	return &engine.Error{Domain: engine.DomainEngine, Code: 1, Message: err.Error()}
}
