// Package testenv runs integration test binaries against a service that is
// either given through an environment variable or started in a container.
package testenv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	testcontainers "github.com/testcontainers/testcontainers-go"
)

// Service describes the backing service of an integration package.
type Service struct {
	Name string
	// EnvVar holds an address of an already running service. When it is set
	// no container is started.
	EnvVar string
	// StartTimeout bounds Start. Zero means three minutes.
	StartTimeout time.Duration
	// Start launches a container and returns it with the address tests use.
	Start func(ctx context.Context) (testcontainers.Container, string, error)
}

// Main stores the service address in addr, runs the tests and terminates
// any container it started. It exits the process.
func Main(m *testing.M, svc Service, addr *string) {
	os.Exit(run(m, svc, addr))
}

func run(m *testing.M, svc Service, addr *string) int {
	if v := strings.TrimSpace(os.Getenv(svc.EnvVar)); v != "" {
		*addr = v
		return m.Run()
	}

	timeout := svc.StartTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	container, generated, err := svc.Start(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start %s container: %v\n", svc.Name, err)
		return 1
	}
	*addr = generated

	code := m.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := container.Terminate(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate %s container: %v\n", svc.Name, err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// Started starts req and resolves the host and mapped port of port. The
// container is terminated when resolution fails.
func Started(ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (testcontainers.Container, string, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", "", fmt.Errorf("start %s: %w", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		Discard(container)
		return nil, "", "", fmt.Errorf("resolve container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		Discard(container)
		return nil, "", "", fmt.Errorf("resolve container port: %w", err)
	}
	return container, host, mapped.Port(), nil
}

// Discard terminates a container whose setup failed.
func Discard(c testcontainers.Container) {
	if c != nil {
		_ = c.Terminate(context.Background())
	}
}

// Poll calls try every interval until it succeeds or timeout elapses. The
// last error from try is returned on timeout.
func Poll(parent context.Context, timeout, interval time.Duration, try func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var last error
	for {
		last = try(ctx)
		if last == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up after %s: %w", timeout, last)
		case <-time.After(interval):
		}
	}
}
