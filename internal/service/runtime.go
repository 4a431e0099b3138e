package service

import (
	"context"
	"errors"
	"io"
)

// ErrContainerNotFound is returned by Runtime.InspectContainer when no container has the name.
var ErrContainerNotFound = errors.New("container not found")

// Runtime is the subset of a container engine the lifecycle manager drives.
// Implementations must be safe for concurrent use.
type Runtime interface {
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	// PullImage starts a pull and returns the engine's JSON progress stream.
	PullImage(ctx context.Context, ref string) (io.ReadCloser, error)
	InspectContainer(ctx context.Context, name string) (ContainerState, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	// WaitContainer blocks until the container exits and returns its exit code.
	WaitContainer(ctx context.Context, id string) (int64, error)
	ContainerLogs(ctx context.Context, id string) (string, error)
	RemoveContainer(ctx context.Context, id string, force bool) error
}

type ContainerState struct {
	ID      string
	Status  string
	Running bool
}

type PortBinding struct {
	ContainerPort string // "9000/tcp"
	HostPort      string
}

// Mount binds a host path or a named volume (Source without a path separator) into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type ContainerSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Env     map[string]string
	Ports   []PortBinding
	Mounts  []Mount
	Links   []string
	Network string
}
