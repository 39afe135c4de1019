package runtime

import (
	"context"

	"github.com/burrowctl/burrow/pkg/types"
)

// SelfConfig is the configuration captured from a running container,
// used by the agent to recreate itself during self-upgrade.
type SelfConfig struct {
	Image   string
	Env     []string
	Volumes []string
	Labels  map[string]string
}

// Runtime abstracts the container runtime the agent drives. The
// containerd implementation is the production one; tests substitute a
// fake.
type Runtime interface {
	// Available reports whether the runtime daemon answers.
	Available(ctx context.Context) bool

	// EnsureImage pulls an image; a failed pull surfaces as image_not_found.
	EnsureImage(ctx context.Context, image string) error

	// Deploy idempotently (re)creates a named container: an existing
	// container with the same name is stopped and removed first.
	Deploy(ctx context.Context, req *types.DeployRequest) (containerID string, err error)

	// Stop stops a named container, SIGTERM then SIGKILL after timeoutSec.
	Stop(ctx context.Context, name string, timeoutSec int) error

	// Restart stops and starts a named container.
	Restart(ctx context.Context, name string, timeoutSec int) error

	// Remove stops and deletes a named container.
	Remove(ctx context.Context, name string) error

	// Status reports the current state of a named container.
	Status(ctx context.Context, name string) (*types.ContainerStatusInfo, error)

	// Logs returns the last tail lines of a container's output.
	Logs(ctx context.Context, name string, tail int) (string, error)

	// List enumerates containers in the burrow namespace.
	List(ctx context.Context) ([]types.ContainerStatusInfo, error)

	// Inspect captures a container's config for recreation.
	Inspect(ctx context.Context, name string) (*SelfConfig, error)

	Close() error
}
