package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	pullAttempts  = 3
	pullBaseDelay = 2 * time.Second
	cleanupWindow = 30 * time.Second
)

// Phase is the live lifecycle state of a service, derived from the runtime on every call.
type Phase string

const (
	PhaseUnavailable      Phase = "Unavailable"
	PhaseImageMissing     Phase = "ImageMissing"
	PhaseContainerAbsent  Phase = "ContainerAbsent"
	PhaseContainerStopped Phase = "ContainerStopped"
	PhaseContainerRunning Phase = "ContainerRunning"
	PhaseServiceReady     Phase = "ServiceReady"
	PhaseServiceBusy      Phase = "ServiceBusy"
)

// CommandRequest describes a one-shot analysis command run next to the service.
// Image defaults to the descriptor's ClientImage.
type CommandRequest struct {
	Image  string
	Cmd    []string
	Env    map[string]string
	Mounts []Mount
}

// Manager drives one auxiliary service. It never caches runtime state: every
// call asks the runtime again, since the containers may be changed by others.
type Manager struct {
	desc Descriptor
	rt   Runtime
	log  zerolog.Logger

	pullAttempts  int
	pullBaseDelay time.Duration

	// cmdMu serializes RunCommand; the service workspace does not support concurrent jobs.
	cmdMu sync.Mutex
	busy  atomic.Bool
}

type Option func(*Manager)

// WithPullRetry overrides how often and how patiently image pulls are retried.
func WithPullRetry(attempts int, baseDelay time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.pullAttempts = attempts
		}
		m.pullBaseDelay = baseDelay
	}
}

func NewManager(desc Descriptor, rt Runtime, log zerolog.Logger, opts ...Option) *Manager {
	if desc.PollInterval <= 0 {
		desc.PollInterval = defaultPollInterval
	}
	if desc.ReadyTimeout <= 0 {
		desc.ReadyTimeout = defaultReadyTimeout
	}
	m := &Manager{
		desc:          desc,
		rt:            rt,
		log:           log.With().Str("service", desc.Name).Logger(),
		pullAttempts:  pullAttempts,
		pullBaseDelay: pullBaseDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Name() string           { return m.desc.Name }
func (m *Manager) Descriptor() Descriptor { return m.desc }

// ProbeRuntime pings the container engine. Any failure reads as false.
func (m *Manager) ProbeRuntime(ctx context.Context) bool {
	if m.rt == nil {
		return false
	}
	if err := m.rt.Ping(ctx); err != nil {
		m.log.Debug().Err(err).Msg("container runtime ping failed")
		return false
	}
	return true
}

// EnsureImage pulls ref when it is not present locally.
func (m *Manager) EnsureImage(ctx context.Context, ref string) error {
	if !m.ProbeRuntime(ctx) {
		return ErrRuntimeUnavailable
	}
	ok, err := m.rt.ImageExists(ctx, ref)
	if err != nil {
		return &PullError{Image: ref, Err: err}
	}
	if ok {
		m.log.Debug().Str("image", ref).Msg("image found locally")
		return nil
	}

	m.log.Info().Str("image", ref).Msg("pulling image, this may take a while")
	err = retry(ctx, m.pullAttempts, m.pullBaseDelay, func() error {
		stream, err := m.rt.PullImage(ctx, ref)
		if err != nil {
			return err
		}
		defer stream.Close()
		return followPull(stream, ref, m.log)
	})
	if err != nil {
		return &PullError{Image: ref, Err: err}
	}
	m.log.Info().Str("image", ref).Msg("image pulled")
	return nil
}

// EnsureRunning leaves a running container alone, replaces a stopped one and
// otherwise creates and starts the service container.
func (m *Manager) EnsureRunning(ctx context.Context) error {
	if !m.ProbeRuntime(ctx) {
		return ErrRuntimeUnavailable
	}
	state, err := m.rt.InspectContainer(ctx, m.desc.ContainerName)
	switch {
	case err == nil && state.Running:
		m.log.Debug().Str("container", m.desc.ContainerName).Msg("container already running")
		return nil
	case err == nil:
		m.log.Info().Str("container", m.desc.ContainerName).Str("status", state.Status).Msg("removing stale container")
		if err := m.rt.RemoveContainer(ctx, state.ID, true); err != nil && !errors.Is(err, ErrContainerNotFound) {
			return fmt.Errorf("remove stale %s: %w", m.desc.ContainerName, err)
		}
	case !errors.Is(err, ErrContainerNotFound):
		return fmt.Errorf("inspect %s: %w", m.desc.ContainerName, err)
	}

	id, err := m.rt.CreateContainer(ctx, ContainerSpec{
		Name:   m.desc.ContainerName,
		Image:  m.desc.Image,
		Env:    m.desc.Env,
		Ports:  m.desc.Ports,
		Mounts: m.desc.Mounts,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", m.desc.ContainerName, err)
	}
	if err := m.rt.StartContainer(ctx, id); err != nil {
		return fmt.Errorf("start %s: %w", m.desc.ContainerName, err)
	}
	m.log.Info().Str("container", m.desc.ContainerName).Msg("container started")
	return nil
}

// WaitReady polls the readiness probe every PollInterval until it reports
// ready or timeout elapses. The first probe is immediate.
func (m *Manager) WaitReady(ctx context.Context, timeout time.Duration) error {
	if !m.ProbeRuntime(ctx) {
		return ErrRuntimeUnavailable
	}
	if m.desc.Probe == nil {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.desc.PollInterval)
	defer ticker.Stop()

	var last error
	for {
		ready, err := m.desc.Probe.Ready(ctx)
		if ready {
			m.log.Info().Msg("service is ready")
			return nil
		}
		last = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &ReadinessTimeoutError{Service: m.desc.Name, Timeout: timeout, Last: last}
		case <-ticker.C:
		}
	}
}

// Prepare takes the service from whatever state it is in to ready.
func (m *Manager) Prepare(ctx context.Context) error {
	if m.desc.Preflight != nil {
		if err := m.desc.Preflight(); err != nil {
			return err
		}
	}
	if !m.ProbeRuntime(ctx) {
		return ErrRuntimeUnavailable
	}
	if err := m.EnsureImage(ctx, m.desc.Image); err != nil {
		return err
	}
	if err := m.EnsureRunning(ctx); err != nil {
		return err
	}
	m.log.Info().Dur("timeout", m.desc.ReadyTimeout).Msg("waiting for service to become ready")
	return m.WaitReady(ctx, m.desc.ReadyTimeout)
}

// RunCommand runs req in a fresh container linked to the service container and
// returns its combined output. The container is removed afterwards, including
// when ctx is cancelled. Calls on one manager run one at a time.
func (m *Manager) RunCommand(ctx context.Context, req CommandRequest) (string, error) {
	if !m.ProbeRuntime(ctx) {
		return "", ErrRuntimeUnavailable
	}
	image := req.Image
	if image == "" {
		image = m.desc.ClientImage
	}
	if image == "" {
		return "", &CommandError{Image: m.desc.Name, Err: errors.New("no client image configured")}
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	m.busy.Store(true)
	defer m.busy.Store(false)

	if err := m.EnsureImage(ctx, image); err != nil {
		return "", err
	}

	id, err := m.rt.CreateContainer(ctx, ContainerSpec{
		Image:  image,
		Cmd:    req.Cmd,
		Env:    req.Env,
		Mounts: req.Mounts,
		Links:  []string{m.desc.ContainerName + ":" + m.desc.ContainerName},
	})
	if err != nil {
		return "", &CommandError{Image: image, Err: err}
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupWindow)
		defer cancel()
		if err := m.rt.RemoveContainer(rmCtx, id, true); err != nil && !errors.Is(err, ErrContainerNotFound) {
			m.log.Warn().Err(err).Str("container", id).Msg("failed to remove command container")
		}
	}()

	m.log.Debug().Str("image", image).Str("cmd", strings.Join(req.Cmd, " ")).Msg("running command")
	if err := m.rt.StartContainer(ctx, id); err != nil {
		return "", &CommandError{Image: image, Err: err}
	}
	code, err := m.rt.WaitContainer(ctx, id)
	if err != nil {
		return "", &CommandError{Image: image, Err: err}
	}
	out, logErr := m.rt.ContainerLogs(ctx, id)
	if logErr != nil {
		m.log.Debug().Err(logErr).Msg("could not read command output")
	}
	if code != 0 {
		return out, &CommandError{Image: image, ExitCode: code, Output: out}
	}
	return out, nil
}

// Teardown removes the service container if it exists. Safe to call repeatedly.
func (m *Manager) Teardown(ctx context.Context) error {
	if !m.ProbeRuntime(ctx) {
		return ErrRuntimeUnavailable
	}
	state, err := m.rt.InspectContainer(ctx, m.desc.ContainerName)
	if errors.Is(err, ErrContainerNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect %s: %w", m.desc.ContainerName, err)
	}
	if err := m.rt.RemoveContainer(ctx, state.ID, true); err != nil && !errors.Is(err, ErrContainerNotFound) {
		return fmt.Errorf("remove %s: %w", m.desc.ContainerName, err)
	}
	m.log.Info().Str("container", m.desc.ContainerName).Msg("container removed")
	return nil
}

// Phase reports where the service currently sits in its lifecycle.
func (m *Manager) Phase(ctx context.Context) Phase {
	if !m.ProbeRuntime(ctx) {
		return PhaseUnavailable
	}
	if m.busy.Load() {
		return PhaseServiceBusy
	}
	if ok, err := m.rt.ImageExists(ctx, m.desc.Image); err != nil || !ok {
		return PhaseImageMissing
	}
	state, err := m.rt.InspectContainer(ctx, m.desc.ContainerName)
	if err != nil {
		return PhaseContainerAbsent
	}
	if !state.Running {
		return PhaseContainerStopped
	}
	if m.desc.Probe != nil {
		if ready, _ := m.desc.Probe.Ready(ctx); !ready {
			return PhaseContainerRunning
		}
	}
	return PhaseServiceReady
}
