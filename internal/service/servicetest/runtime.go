// Package servicetest provides an in-memory container runtime for tests.
package servicetest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/secuscan/internal/service"
)

type Container struct {
	ID      string
	Name    string
	Spec    service.ContainerSpec
	Running bool
}

// Runtime implements service.Runtime in memory. Zero value is a reachable
// engine with no images and no containers.
type Runtime struct {
	PingErr    error
	PullErr    error
	PullStream string
	CreateErr  error
	StartErr   error
	WaitErr    error
	ExitCode   int64
	Logs       string
	// WaitDelay keeps one-shot containers running for a while.
	WaitDelay time.Duration
	// WaitBlock makes WaitContainer block until its context is done.
	WaitBlock bool

	mu         sync.Mutex
	seq        int
	images     map[string]bool
	containers map[string]*Container
	created    []service.ContainerSpec
	removed    []string
	pulls      int
	active     int
	maxActive  int
}

func (r *Runtime) init() {
	if r.images == nil {
		r.images = map[string]bool{}
	}
	if r.containers == nil {
		r.containers = map[string]*Container{}
	}
}

func (r *Runtime) AddImage(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	r.images[ref] = true
}

// AddContainer registers an existing named container and returns its id.
func (r *Runtime) AddContainer(name, image string, running bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	r.seq++
	id := fmt.Sprintf("existing-%d", r.seq)
	r.containers[id] = &Container{ID: id, Name: name, Spec: service.ContainerSpec{Name: name, Image: image}, Running: running}
	return id
}

func (r *Runtime) Created() []service.ContainerSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]service.ContainerSpec(nil), r.created...)
}

func (r *Runtime) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func (r *Runtime) Pulls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulls
}

// Containers returns the containers that still exist.
func (r *Runtime) Containers() []Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Container, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, *c)
	}
	return out
}

// MaxConcurrentWaits is the largest number of WaitContainer calls seen in flight at once.
func (r *Runtime) MaxConcurrentWaits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

func (r *Runtime) Ping(ctx context.Context) error {
	return r.PingErr
}

func (r *Runtime) ImageExists(ctx context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	return r.images[ref], nil
}

func (r *Runtime) PullImage(ctx context.Context, ref string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	r.pulls++
	if r.PullErr != nil {
		return nil, r.PullErr
	}
	stream := r.PullStream
	if stream == "" {
		stream = `{"status":"Pulling from library/test","id":"latest"}` + "\n" +
			`{"status":"Download complete","id":"0a1b2c"}` + "\n"
	}
	if !strings.Contains(stream, `"error"`) {
		r.images[ref] = true
	}
	return io.NopCloser(strings.NewReader(stream)), nil
}

func (r *Runtime) InspectContainer(ctx context.Context, name string) (service.ContainerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	for _, c := range r.containers {
		if c.Name == name || c.ID == name {
			status := "exited"
			if c.Running {
				status = "running"
			}
			return service.ContainerState{ID: c.ID, Status: status, Running: c.Running}, nil
		}
	}
	return service.ContainerState{}, fmt.Errorf("%s: %w", name, service.ErrContainerNotFound)
}

func (r *Runtime) CreateContainer(ctx context.Context, spec service.ContainerSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	if r.CreateErr != nil {
		return "", r.CreateErr
	}
	if spec.Name != "" {
		for _, c := range r.containers {
			if c.Name == spec.Name {
				return "", fmt.Errorf("conflict: container name %s already in use", spec.Name)
			}
		}
	}
	r.seq++
	id := fmt.Sprintf("ctr-%d", r.seq)
	r.containers[id] = &Container{ID: id, Name: spec.Name, Spec: spec}
	r.created = append(r.created, spec)
	return id, nil
}

func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	c, ok := r.containers[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, service.ErrContainerNotFound)
	}
	c.Running = true
	return nil
}

func (r *Runtime) WaitContainer(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		if c, ok := r.containers[id]; ok {
			c.Running = false
		}
		r.mu.Unlock()
	}()

	if r.WaitBlock {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if r.WaitDelay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(r.WaitDelay):
		}
	}
	return r.ExitCode, r.WaitErr
}

func (r *Runtime) ContainerLogs(ctx context.Context, id string) (string, error) {
	return r.Logs, nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, id string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	for key, c := range r.containers {
		if c.ID == id || c.Name == id {
			delete(r.containers, key)
			r.removed = append(r.removed, c.ID)
			return nil
		}
	}
	return fmt.Errorf("%s: %w", id, service.ErrContainerNotFound)
}

var _ service.Runtime = (*Runtime)(nil)
