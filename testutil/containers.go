// Package testutil provides test utilities including container setup for integration tests.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NATSContainer represents a running NATS container with JetStream enabled.
type NATSContainer struct {
	Container testcontainers.Container
	URL       string
}

// StartNATSContainer starts a NATS container with JetStream enabled.
func StartNATSContainer(ctx context.Context) (*NATSContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js", "-sd", "/data"},
		WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
		HostConfigModifier: func(hc *container.HostConfig) {
			// JetStream file storage lives in a tmpfs so test runs leave
			// nothing behind.
			hc.Tmpfs = map[string]string{"/data": "rw"}
		},
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get NATS container host: %w", err)
	}

	port, err := c.MappedPort(ctx, "4222")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get NATS container port: %w", err)
	}

	return &NATSContainer{
		Container: c,
		URL:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
	}, nil
}

// Stop terminates the NATS container.
func (n *NATSContainer) Stop(ctx context.Context) error {
	if n.Container != nil {
		return n.Container.Terminate(ctx)
	}
	return nil
}
