// Package natsengine implements the synchronization engine over NATS
// JetStream. Each database name maps to one stream of revision messages;
// checkpoints live in a JetStream key-value bucket so any peer can resume
// where it left off.
package natsengine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/syncbridge-io/syncbridge/internal/engine"
)

// transportSchemes is the process-wide registry of URL schemes the built-in
// transport accepts. Populated by InitTransport.
var (
	transportMu      sync.Mutex
	transportSchemes map[string]bool
)

// Engine creates replication sessions backed by NATS JetStream.
type Engine struct {
	logger *slog.Logger
}

// New creates the engine.
func New() *Engine {
	return &Engine{
		logger: slog.Default().With("component", "natsengine"),
	}
}

// InitTransport registers the built-in NATS transport. The replicator
// controller invokes it exactly once per process before the first session.
func (e *Engine) InitTransport() {
	transportMu.Lock()
	defer transportMu.Unlock()

	transportSchemes = map[string]bool{"nats": true, "tls": true}
	e.logger.Debug("transport registered", "schemes", "nats,tls")
}

func transportSupports(scheme string) bool {
	transportMu.Lock()
	defer transportMu.Unlock()
	return transportSchemes[scheme]
}

// CreateSession creates and starts a replication session. Remote sessions
// dial the broker synchronously, so an unreachable address fails here rather
// than mid-session.
func (e *Engine) CreateSession(ctx context.Context, params engine.Params) (engine.Session, error) {
	if params.Local == nil {
		return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeBadParams, Message: "local database is required"}
	}
	if params.Push == engine.ModeDisabled && params.Pull == engine.ModeDisabled {
		return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeBadParams, Message: "both directions are disabled"}
	}

	opts, err := engine.DecodeOptions(params.Options)
	if err != nil {
		return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeBadParams, Message: err.Error()}
	}

	if params.OtherLocal != nil {
		return newLocalSession(params, opts, e.logger)
	}

	if params.RemoteURL == "" || params.RemoteDatabase == "" {
		return nil, &engine.Error{Domain: engine.DomainEngine, Code: codeBadParams, Message: "remote address and database are required"}
	}
	u, err := url.Parse(params.RemoteURL)
	if err != nil {
		return nil, &engine.Error{Domain: engine.DomainTransport, Code: codeBadAddress, Message: fmt.Sprintf("parse remote address: %v", err)}
	}
	if !transportSupports(u.Scheme) {
		return nil, &engine.Error{Domain: engine.DomainTransport, Code: codeBadAddress, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	return newRemoteSession(ctx, params, opts, e.logger)
}

// Engine error codes.
const (
	codeBadParams = iota + 1
	codeBadAddress
	codeConnect
	codeStream
	codeCheckpoint
	codeTransfer
)
