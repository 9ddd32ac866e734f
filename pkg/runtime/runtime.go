// Package runtime defines the ContainerRuntime port (C2): create, start,
// stop, and remove a container with CPU/memory limits and labels.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
)

// Config describes a container to create.
type Config struct {
	Image    string
	CPUCores float64
	MemoryMB int
	Env      map[string]string
	Labels   map[string]string
}

// Info is what the runtime reports back about a running container.
type Info struct {
	ContainerID string
	Running     bool
}

// Runtime is the ContainerRuntime port.
type Runtime interface {
	Create(ctx context.Context, config Config) (containerID string, err error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
}

// UnreachableError marks a runtime failure that is not a well-formed
// rejection from the daemon (spec §9's "mock-container-<id>" fallback
// gate) — as opposed to a clean daemon-reported failure.
type UnreachableError struct {
	Cause error
}

func (e *UnreachableError) Error() string { return fmt.Sprintf("runtime unreachable: %s", e.Cause) }
func (e *UnreachableError) Unwrap() error { return e.Cause }

// MockRuntime is the mandatory, process-local, mutex-guarded runtime. It is
// the only runtime in this module and is used whatever DOCKER_ENABLED says.
type MockRuntime struct {
	mu         sync.Mutex
	containers map[string]*Info
}

// NewMockRuntime builds an empty mock runtime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{containers: make(map[string]*Info)}
}

// Create fabricates a container id and records it as not-yet-running.
func (m *MockRuntime) Create(_ context.Context, config Config) (string, error) {
	if config.Image == "" {
		return "", appErrors.NewValidationError("image is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "mock-" + uuid.NewString()
	m.containers[id] = &Info{ContainerID: id, Running: false}
	return id, nil
}

// Start marks a previously created container as running.
func (m *MockRuntime) Start(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.containers[containerID]
	if !ok {
		return appErrors.NewNotFoundError("container")
	}
	info.Running = true
	return nil
}

// Stop marks a container as not running; missing containers are a no-op
// (StopAndRemove swallows runtime errors during delete per spec §4.7).
func (m *MockRuntime) Stop(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.containers[containerID]; ok {
		info.Running = false
	}
	return nil
}

// Remove deletes the container record.
func (m *MockRuntime) Remove(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, containerID)
	return nil
}

// Info returns a snapshot of a tracked container, for tests.
func (m *MockRuntime) Info(containerID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.containers[containerID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// BreakerRuntime wraps a Runtime in a circuit breaker so repeated runtime
// failures fail fast instead of hanging replica placement.
type BreakerRuntime struct {
	inner   Runtime
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerRuntime wraps inner with a named circuit breaker.
func NewBreakerRuntime(inner Runtime) *BreakerRuntime {
	settings := gobreaker.Settings{
		Name:        "container-runtime",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &BreakerRuntime{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerRuntime) Create(ctx context.Context, config Config) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Create(ctx, config)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", &UnreachableError{Cause: err}
		}
		return "", err
	}
	return result.(string), nil
}

func (b *BreakerRuntime) Start(ctx context.Context, containerID string) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Start(ctx, containerID)
	})
	return err
}

func (b *BreakerRuntime) Stop(ctx context.Context, containerID string) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Stop(ctx, containerID)
	})
	return err
}

func (b *BreakerRuntime) Remove(ctx context.Context, containerID string) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Remove(ctx, containerID)
	})
	return err
}
