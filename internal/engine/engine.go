// Package engine defines the contract between the replicator controller and
// the synchronization engine that performs the actual replication protocol.
package engine

import (
	"context"

	"github.com/syncbridge-io/syncbridge/internal/document"
)

// Mode selects how one direction of a session runs.
type Mode int

const (
	// ModeDisabled turns the direction off entirely.
	ModeDisabled Mode = iota
	// ModeOneShot replicates until the direction is drained, then finishes.
	ModeOneShot
	// ModeContinuous keeps the direction open, replicating changes as they occur.
	ModeContinuous
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeOneShot:
		return "one-shot"
	case ModeContinuous:
		return "continuous"
	default:
		return "disabled"
	}
}

// RevisionFunc decides whether a single revision is replicated.
// Returning false skips the revision.
type RevisionFunc func(rev document.Revision) bool

// StatusFunc receives status updates for a session. The session argument
// identifies which session the update belongs to; callers must treat updates
// for sessions they no longer own as stale.
type StatusFunc func(s Session, status Status)

// Params bundles everything an engine needs to create a session.
//
// PushFilter and PullFilter are optional; a nil filter means the engine
// accepts every revision in that direction without calling out.
type Params struct {
	// Local is the database the session replicates from/to.
	Local *document.Store

	// RemoteURL and RemoteDatabase identify the remote peer. Empty when
	// OtherLocal is set.
	RemoteURL      string
	RemoteDatabase string

	// OtherLocal, when non-nil, selects in-process replication against a
	// second local store instead of a network peer.
	OtherLocal *document.Store

	Push Mode
	Pull Mode

	OnStatusChanged StatusFunc
	PushFilter      RevisionFunc
	PullFilter      RevisionFunc

	// Options is an encoded options blob, see EncodeOptions.
	Options []byte
}

// Session is the engine-owned handle to one running replication session.
// A Session is created started; it reports progress through the registered
// StatusFunc and delivers exactly one terminal (stopped) status, after which
// no further callbacks occur.
type Session interface {
	// Status returns the session's current native status.
	Status() Status

	// Stop requests termination. It does not block; completion is signaled
	// through the status callback with a stopped level. Stop is idempotent.
	Stop()
}

// Engine creates replication sessions.
type Engine interface {
	// InitTransport performs process-wide setup of the engine's network
	// transport. The controller guarantees at most one invocation per
	// process across all controller instances.
	InitTransport()

	// CreateSession creates and starts a session. Callbacks are delivered
	// from engine-owned goroutines, never synchronously from CreateSession
	// or Stop, so callers may hold locks across both.
	CreateSession(ctx context.Context, params Params) (Session, error)
}
