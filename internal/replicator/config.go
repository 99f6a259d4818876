package replicator

import (
	"fmt"

	"github.com/syncbridge-io/syncbridge/internal/document"
	"github.com/syncbridge-io/syncbridge/internal/endpoint"
)

// Filter decides whether a single document revision is replicated. The
// document view is only valid for the duration of the call. deleted is true
// when the revision is a tombstone. Returning false skips the revision.
type Filter func(doc *document.Document, deleted bool) bool

// Config describes what a replicator replicates. It is immutable once passed
// to New; the replicator reads it without locking from any goroutine.
//
// The database is a non-owning reference: the caller keeps it open for the
// replicator's whole life.
type Config struct {
	// Database is the local store to replicate. Required.
	Database *document.Store

	// Endpoint is the peer to replicate with. Required.
	Endpoint endpoint.Endpoint

	// Direction selects push, pull, or both. Defaults to PushAndPull.
	Direction Direction

	// Continuous keeps the session open after the initial sync, replicating
	// changes as they occur.
	Continuous bool

	// PushFilter and PullFilter, when set, are consulted per revision in
	// the matching direction. A filter set for a disabled direction is
	// legal and simply never invoked.
	PushFilter Filter
	PullFilter Filter

	// Authenticator supplies credentials for the remote peer. Optional.
	Authenticator endpoint.Authenticator

	// Options carries engine-specific session options. Optional.
	Options map[string]any
}

// Validate checks that the configuration can be given to an engine. It is
// pure and may be called any number of times.
func (c Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database is required")
	}
	if c.Endpoint == nil {
		return fmt.Errorf("endpoint is required")
	}
	if err := c.Endpoint.SupportsReplication(c.Direction.PullEnabled(), c.PullFilter != nil); err != nil {
		return fmt.Errorf("endpoint rejects configuration: %w", err)
	}
	return nil
}
