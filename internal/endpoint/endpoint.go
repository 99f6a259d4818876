// Package endpoint provides the value objects describing the remote side of
// a replication: where to replicate to, and how to authenticate.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/syncbridge-io/syncbridge/internal/document"
)

// Endpoint describes the peer a replication session talks to.
type Endpoint interface {
	// RemoteURL returns the address of the remote peer, empty for local
	// endpoints.
	RemoteURL() string

	// RemoteDatabase returns the name of the database on the remote peer,
	// empty for local endpoints.
	RemoteDatabase() string

	// Local returns the second local store for in-process replication,
	// nil for remote endpoints.
	Local() *document.Store

	// SupportsReplication reports whether the endpoint can serve a session
	// with the given shape. pull is true when the pull direction is
	// enabled; hasPullFilter is true when a pull filter is configured.
	SupportsReplication(pull, hasPullFilter bool) error
}

// URLEndpoint addresses a remote peer by URL.
type URLEndpoint struct {
	url      *url.URL
	database string
}

// NewURLEndpoint parses raw as the remote peer address. The URL path names
// the remote database, e.g. nats://broker:4222/inventory.
func NewURLEndpoint(raw string) (*URLEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint URL %q must be absolute", raw)
	}

	database := strings.Trim(u.Path, "/")
	if database == "" {
		return nil, fmt.Errorf("endpoint URL %q is missing a database name", raw)
	}
	if strings.Contains(database, "/") {
		return nil, fmt.Errorf("endpoint URL %q has a multi-segment database path", raw)
	}

	base := *u
	base.Path = ""
	return &URLEndpoint{url: &base, database: database}, nil
}

// RemoteURL returns the peer address without the database path.
func (e *URLEndpoint) RemoteURL() string {
	return e.url.String()
}

// RemoteDatabase returns the database name from the URL path.
func (e *URLEndpoint) RemoteDatabase() string {
	return e.database
}

// Local returns nil; a URL endpoint is always remote.
func (e *URLEndpoint) Local() *document.Store {
	return nil
}

// SupportsReplication always succeeds; remote endpoints support every
// session shape.
func (e *URLEndpoint) SupportsReplication(pull, hasPullFilter bool) error {
	return nil
}

// LocalEndpoint targets a second store in the same process.
type LocalEndpoint struct {
	store *document.Store
}

// NewLocalEndpoint wraps an open store as a replication target.
func NewLocalEndpoint(store *document.Store) (*LocalEndpoint, error) {
	if store == nil {
		return nil, fmt.Errorf("local endpoint requires a store")
	}
	return &LocalEndpoint{store: store}, nil
}

// RemoteURL returns the empty string.
func (e *LocalEndpoint) RemoteURL() string {
	return ""
}

// RemoteDatabase returns the empty string; the target is identified by the
// store itself.
func (e *LocalEndpoint) RemoteDatabase() string {
	return ""
}

// Local returns the target store.
func (e *LocalEndpoint) Local() *document.Store {
	return e.store
}

// SupportsReplication rejects pull filters: intra-process pulls apply
// revisions directly and offer no validation hook.
func (e *LocalEndpoint) SupportsReplication(pull, hasPullFilter bool) error {
	if pull && hasPullFilter {
		return fmt.Errorf("local endpoints do not support pull filters")
	}
	return nil
}
