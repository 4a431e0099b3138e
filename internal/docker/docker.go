// Package docker implements the service runtime on top of the Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/yourorg/secuscan/internal/service"
)

// Runtime talks to the engine configured by DOCKER_HOST and friends.
type Runtime struct {
	cli *client.Client
}

var _ service.Runtime = (*Runtime)(nil)

func New() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Runtime{cli: cli}, nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

func (r *Runtime) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, ref)
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runtime) PullImage(ctx context.Context, ref string) (io.ReadCloser, error) {
	return r.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
}

func (r *Runtime) InspectContainer(ctx context.Context, name string) (service.ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if errdefs.IsNotFound(err) {
		return service.ContainerState{}, fmt.Errorf("%s: %w", name, service.ErrContainerNotFound)
	}
	if err != nil {
		return service.ContainerState{}, err
	}
	st := service.ContainerState{ID: info.ID}
	if info.State != nil {
		st.Status = info.State.Status
		st.Running = info.State.Running
	}
	return st, nil
}

func (r *Runtime) CreateContainer(ctx context.Context, spec service.ContainerSpec) (string, error) {
	exposed, bindings, err := portMaps(spec.Ports)
	if err != nil {
		return "", err
	}
	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          envList(spec.Env),
		ExposedPorts: exposed,
	}
	host := &container.HostConfig{
		PortBindings: bindings,
		Binds:        binds(spec.Mounts),
		Links:        spec.Links,
	}
	if spec.Network != "" {
		host.NetworkMode = container.NetworkMode(spec.Network)
	}
	resp, err := r.cli.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	return r.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (r *Runtime) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, err
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return st.StatusCode, errors.New(st.Error.Message)
		}
		return st.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Runtime) ContainerLogs(ctx context.Context, id string) (string, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%s: %w", id, service.ErrContainerNotFound)
	}
	return err
}

func portMaps(ports []service.PortBinding) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto, port := nat.SplitProtoPort(p.ContainerPort)
		np, err := nat.NewPort(proto, port)
		if err != nil {
			return nil, nil, fmt.Errorf("port %q: %w", p.ContainerPort, err)
		}
		exposed[np] = struct{}{}
		bindings[np] = append(bindings[np], nat.PortBinding{HostPort: p.HostPort})
	}
	return exposed, bindings, nil
}

// envList renders env as sorted KEY=value pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// binds renders mounts in the "source:target:mode" form, which covers both
// named volumes and host paths.
func binds(mounts []service.Mount) []string {
	out := make([]string, 0, len(mounts))
	for _, m := range mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		out = append(out, strings.Join([]string{m.Source, m.Target, mode}, ":"))
	}
	return out
}
