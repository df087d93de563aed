// Package sandbox declares the container runtime contract consumed by step
// handlers. The pipeline core treats it as a black box returning success
// and output; it never owns container lifecycle.
package sandbox

import (
	"context"
	"time"
)

// State is the coarse runtime state of a project's sandbox.
type State string

const (
	StateUnknown State = "unknown"
	StateCreated State = "created"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// ExecResult is the outcome of one command execution inside the sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Success  bool
}

// Runtime is the sandbox backend. Implementations wrap whatever container
// engine hosts generated code; handlers call it, the orchestrator does not.
type Runtime interface {
	Create(ctx context.Context, project, path string) error
	Start(ctx context.Context, project string, waitHealthy bool) error
	Stop(ctx context.Context, project string) error
	Exec(ctx context.Context, project, service, command string, timeout time.Duration) (ExecResult, error)
	Status(ctx context.Context, project string) (State, error)
}

// Noop is a Runtime that accepts every operation and reports success. Used
// by tests and by runs configured without an execution backend.
type Noop struct{}

func (Noop) Create(ctx context.Context, project, path string) error { return nil }
func (Noop) Start(ctx context.Context, project string, waitHealthy bool) error {
	return nil
}
func (Noop) Stop(ctx context.Context, project string) error { return nil }
func (Noop) Exec(ctx context.Context, project, service, command string, timeout time.Duration) (ExecResult, error) {
	return ExecResult{ExitCode: 0, Success: true}, nil
}
func (Noop) Status(ctx context.Context, project string) (State, error) {
	return StateRunning, nil
}
