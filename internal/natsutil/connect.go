// Package natsutil provides a NATS connection helper shared by the engine.
package natsutil

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectOptions configures the NATS connection.
type ConnectOptions struct {
	URL    string
	Logger *slog.Logger

	// Credentials is an optional path to a NATS credentials file.
	Credentials string

	// Username/Password or Token authenticate the connection when set.
	Username string
	Password string
	Token    string

	// OnDisconnect is called when the connection is lost, in addition to
	// the default logging handler. The error may be nil.
	OnDisconnect func(nc *nats.Conn, err error)

	// OnReconnect is called when the connection is re-established.
	OnReconnect func(nc *nats.Conn, url string)

	// OnClosed is called when the connection is permanently closed.
	OnClosed func(nc *nats.Conn)
}

// Connect creates a NATS connection with automatic reconnection and logging
// of connection events.
func Connect(opts ConnectOptions) (*nats.Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	natsOpts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),

		nats.ReconnectHandler(func(nc *nats.Conn) {
			url := nc.ConnectedUrl()
			logger.Info("NATS reconnected", "url", url, "server_id", nc.ConnectedServerId())
			if opts.OnReconnect != nil {
				opts.OnReconnect(nc, url)
			}
		}),

		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			} else {
				logger.Debug("NATS disconnected gracefully")
			}
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(nc, err)
			}
		}),

		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			if opts.OnClosed != nil {
				opts.OnClosed(nc)
			}
		}),

		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.Error("NATS async error", "subject", sub.Subject, "error", err)
			} else {
				logger.Error("NATS async error", "error", err)
			}
		}),
	}

	if opts.Credentials != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(opts.Credentials))
	}
	if opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, err
	}

	logger.Info("NATS connected",
		"url", nc.ConnectedUrl(),
		"server_id", nc.ConnectedServerId(),
	)

	return nc, nil
}
